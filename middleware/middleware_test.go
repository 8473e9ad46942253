package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goAuthz "github.com/MrEthical07/goAuthz"
	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/MrEthical07/goAuthz/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	engine *goAuthz.Engine
	alice  uuid.UUID
	bob    uuid.UUID
	mux    *http.ServeMux
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	cfg := goAuthz.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("m"), 32)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := goAuthz.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(memory.New()).
		WithTracker(permcache.NewMemoryTracker(nil)).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	w := engine.Assignments()
	member, err := w.CreateRole(ctx, store.CreateRoleInput{Name: "member", Level: 1})
	require.NoError(t, err)
	_, err = w.SyncCatalog(ctx, []permission.Spec{
		{Resource: "users", Action: permission.ActionRead, Operation: "list"},
		{
			Resource: "users", Action: permission.ActionUpdate, Operation: "profile",
			Fields: map[permission.Source][]string{permission.SourceJSON: {"role"}},
		},
	})
	require.NoError(t, err)

	list, err := engine.Store().GetPermissionByKey(ctx, "users:read:list")
	require.NoError(t, err)
	update, err := engine.Store().GetPermissionByKey(ctx, "users:update:profile")
	require.NoError(t, err)
	g, err := engine.Store().LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, g.Fields, 1)

	require.NoError(t, w.GrantPermission(ctx, store.GrantInput{RoleID: member.ID, PermissionID: list.ID, Scope: permission.ScopeAny}))
	require.NoError(t, w.GrantPermission(ctx, store.GrantInput{RoleID: member.ID, PermissionID: update.ID, Scope: permission.ScopeOwn}))
	require.NoError(t, w.GrantField(ctx, store.FieldGrantInput{
		RoleID: member.ID, PermissionID: update.ID, FieldID: g.Fields[0].ID, Effect: permission.EffectDeny,
	}))

	e := &env{engine: engine, alice: uuid.New(), bob: uuid.New(), mux: http.NewServeMux()}
	require.NoError(t, w.AssignRole(ctx, e.alice, member.ID))
	_, err = engine.Sync(ctx)
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, ok := DecisionFromContext(r.Context())
		if !ok {
			http.Error(w, "no decision", http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(d.Permission + "|" + string(body)))
	})
	auth := Authenticate(engine)
	e.mux.Handle("GET /users", auth(Require(engine, "users:read:list")(echo)))
	e.mux.Handle("PATCH /users/{user_id}", auth(Require(engine, "users:update:profile")(echo)))
	return e
}

func (e *env) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tokens, err := e.engine.IssueTokens(context.Background(), userID, "")
	require.NoError(t, err)
	return tokens.AccessToken
}

func (e *env) do(method, target, token, body string) *httptest.ResponseRecorder {
	contentType := ""
	if body != "" {
		contentType = "application/json"
	}
	return e.doWithType(method, target, token, contentType, body)
}

func (e *env) doWithType(method, target, token, contentType, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
		{name: "lower case scheme", header: "bearer " + e.token(t, e.alice), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthenticateStoresClaims(t *testing.T) {
	e := newEnv(t)

	var got *goAuthz.Claims
	h := Authenticate(e.engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = goAuthz.ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, e.bob))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, e.bob, got.UserID)
}

func TestRequire(t *testing.T) {
	e := newEnv(t)
	alice := e.token(t, e.alice)
	bob := e.token(t, e.bob)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   string
		want   int
	}{
		{name: "granted", method: http.MethodGet, target: "/users", token: alice, want: http.StatusOK},
		{name: "no roles", method: http.MethodGet, target: "/users", token: bob, want: http.StatusForbidden},
		{
			name: "own resource", method: http.MethodPatch, target: "/users/" + e.alice.String(),
			token: alice, body: `{"email":"a@example.com"}`, want: http.StatusOK,
		},
		{
			name: "other resource", method: http.MethodPatch, target: "/users/" + e.bob.String(),
			token: alice, body: `{"email":"a@example.com"}`, want: http.StatusForbidden,
		},
		{
			name: "denied field", method: http.MethodPatch, target: "/users/" + e.alice.String(),
			token: alice, body: `{"settings":{"role":"admin"}}`, want: http.StatusForbidden,
		},
		{
			name: "malformed owner", method: http.MethodPatch, target: "/users/not-a-uuid",
			token: alice, body: `{}`, want: http.StatusBadRequest,
		},
		{
			name: "malformed body", method: http.MethodPatch, target: "/users/" + e.alice.String(),
			token: alice, body: `{"email":`, want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(tt.method, tt.target, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequireRestoresBody(t *testing.T) {
	e := newEnv(t)

	body := `{"email":"a@example.com"}`
	rec := e.do(http.MethodPatch, "/users/"+e.alice.String(), e.token(t, e.alice), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "users:update:profile|"+body, rec.Body.String())
}

func TestRequireBodyLimit(t *testing.T) {
	e := newEnv(t)

	h := Authenticate(e.engine)(Require(e.engine, "users:read:list", WithMaxBodyBytes(8))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
	))
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{"a":"0123456789"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token(t, e.alice))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireWithoutAuthenticate(t *testing.T) {
	e := newEnv(t)

	h := Require(e.engine, "users:read:list")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireCustomOwner(t *testing.T) {
	e := newEnv(t)

	owner := WithOwner(func(r *http.Request) (uuid.UUID, error) {
		return uuid.Parse(r.Header.Get("X-Owner"))
	})
	h := Authenticate(e.engine)(Require(e.engine, "users:update:profile", owner)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
	))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, e.alice))
	req.Header.Set("X-Owner", e.alice.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireParsesBodyRegardlessOfContentType(t *testing.T) {
	e := newEnv(t)
	alice := e.token(t, e.alice)
	target := "/users/" + e.alice.String()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{name: "json", contentType: "application/json", body: `{"role":"admin"}`, want: http.StatusForbidden},
		{name: "text plain", contentType: "text/plain", body: `{"role":"admin"}`, want: http.StatusForbidden},
		{name: "no content type", contentType: "", body: `{"role":"admin"}`, want: http.StatusForbidden},
		{name: "merge patch", contentType: "application/merge-patch+json", body: `{"role":"admin"}`, want: http.StatusForbidden},
		{name: "form encoded", contentType: "application/x-www-form-urlencoded", body: "role=admin", want: http.StatusBadRequest},
		{name: "allowed field as text", contentType: "text/plain", body: `{"email":"a@example.com"}`, want: http.StatusOK},
		{name: "blank body", contentType: "text/plain", body: "   ", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.doWithType(http.MethodPatch, target, alice, tt.contentType, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequireFieldPolicyPerRoute(t *testing.T) {
	e := newEnv(t)
	auth := Authenticate(e.engine)
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})

	e.mux.Handle("PATCH /admin/users/{user_id}", auth(Require(e.engine, "users:update:profile",
		WithFieldPolicy(permission.FieldPolicyNone))(echo)))
	e.mux.Handle("PATCH /strict/users/{user_id}", auth(Require(e.engine, "users:update:profile",
		WithFieldPolicy(permission.FieldPolicyDenyList))(echo)))
	e.mux.Handle("PATCH /open/users/{user_id}", auth(Require(e.engine, "users:update:profile",
		WithFieldPolicy(permission.FieldPolicyAllowList))(echo)))

	alice := e.token(t, e.alice)
	id := e.alice.String()
	body := `{"role":"admin"}`

	rec := e.do(http.MethodPatch, "/admin/users/"+id, alice, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String())

	rec = e.do(http.MethodPatch, "/strict/users/"+id, alice, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPatch, "/open/users/"+id, alice, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Field checks are skipped, so a non-JSON payload reaches the handler.
	rec = e.doWithType(http.MethodPatch, "/admin/users/"+id, alice, "text/csv", "role,admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "role,admin", rec.Body.String())

	// Scope is still enforced.
	rec = e.do(http.MethodPatch, "/admin/users/"+e.bob.String(), alice, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
