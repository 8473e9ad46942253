package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goAuthz "github.com/MrEthical07/goAuthz"
	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// DefaultMaxBodyBytes bounds the JSON body read for field checks.
const DefaultMaxBodyBytes = 1 << 20

// DefaultOwnerParam is the path wildcard read as the resource owner.
const DefaultOwnerParam = "user_id"

type decisionContextKey struct{}

// DecisionFromContext returns the decision stored by [Require].
func DecisionFromContext(ctx context.Context) (*goAuthz.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(*goAuthz.Decision)
	return d, ok && d != nil
}

// OwnerFunc extracts the owner of the addressed resource. Returning uuid.Nil
// means the request addresses no owned resource.
type OwnerFunc func(r *http.Request) (uuid.UUID, error)

type options struct {
	owner        OwnerFunc
	maxBodyBytes int64
	fieldPolicy  *permission.FieldPolicy
}

// Option configures [Require].
type Option func(*options)

// WithOwner replaces the default owner extraction.
func WithOwner(fn OwnerFunc) Option {
	return func(o *options) { o.owner = fn }
}

// WithMaxBodyBytes bounds the body read for field checks.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithFieldPolicy enforces field grants on this route with p instead of the
// engine's Permission.FieldPolicy. With [permission.FieldPolicyNone] the body
// is neither read nor parsed.
func WithFieldPolicy(p permission.FieldPolicy) Option {
	return func(o *options) { o.fieldPolicy = &p }
}

// OwnerFromPath reads the owner id from the named path wildcard of a
// http.ServeMux pattern. A missing wildcard yields uuid.Nil.
func OwnerFromPath(name string) OwnerFunc {
	return func(r *http.Request) (uuid.UUID, error) {
		v := r.PathValue(name)
		if v == "" {
			return uuid.Nil, nil
		}
		return uuid.Parse(v)
	}
}

// Require authorizes the request for permissionKey. It must run after
// [Authenticate]. Query parameter names and JSON body keys are checked
// against the caller's field grants; the body is restored for next.
//
// Any non-empty body is parsed as JSON whatever its Content-Type, so routes
// that accept other payloads must use WithFieldPolicy(permission.FieldPolicyNone).
//
// Status codes: 401 without claims, 403 on any authorization failure, 400 for
// a malformed owner id or a body that is not JSON, 503 before the cache is
// primed.
func Require(engine *goAuthz.Engine, permissionKey string, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		owner:        OwnerFromPath(DefaultOwnerParam),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := goAuthz.ClaimsFromContext(r.Context())
			if engine == nil || !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			owner, err := o.owner(r)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			var body any
			if o.fieldPolicy == nil || *o.fieldPolicy != permission.FieldPolicyNone {
				body, err = readJSONBody(r, o.maxBodyBytes)
				if err != nil {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
			}

			query := r.URL.Query()
			keys := make([]string, 0, len(query))
			for k := range query {
				keys = append(keys, k)
			}

			decision, err := engine.Authorize(r.Context(), goAuthz.AccessRequest{
				UserID:      claims.UserID,
				Permission:  permissionKey,
				OwnerID:     owner,
				QueryKeys:   keys,
				Body:        body,
				FieldPolicy: o.fieldPolicy,
			})
			switch {
			case err == nil:
			case errors.Is(err, goAuthz.ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			case errors.Is(err, goAuthz.ErrEngineNotReady):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// readJSONBody decodes the request body as JSON and puts the raw bytes back
// on r. The Content-Type header is not consulted; an empty body yields nil.
func readJSONBody(r *http.Request, limit int64) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}
