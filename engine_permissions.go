package goAuthz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// GetEffectivePermissions returns the user's entries from the current
// snapshot, ordered by permission key. The result may lag writes by up to
// one refresh interval; call Sync first to read your own writes. The result
// is a deep copy and may be modified freely.
func (e *Engine) GetEffectivePermissions(_ context.Context, userID uuid.UUID) ([]permission.EffectivePermission, error) {
	snap := e.cache.Load()
	if snap == nil {
		return nil, ErrEngineNotReady
	}
	out := slices.Clone(snap.ForUser(userID))
	for i := range out {
		out[i].AllowFields = out[i].AllowFields.Clone()
		out[i].DenyFields = out[i].DenyFields.Clone()
	}
	return out, nil
}

// IsSuperuser reports whether userID holds the superuser role in the
// current snapshot.
func (e *Engine) IsSuperuser(userID uuid.UUID) bool {
	return e.cache.Load().IsSuperuser(userID)
}

// Authorize decides one request against the current snapshot:
//
//  1. a superuser is allowed outright when Permission.SuperuserBypass is set;
//  2. a user without the permission fails with ErrPermissionDenied;
//  3. an own-scoped grant requires OwnerID == UserID, else ErrScopeViolation;
//  4. query and body keys are checked against the winning role's field
//     grants under req.FieldPolicy, or Permission.FieldPolicy when it is
//     nil; a rejection wraps ErrForbidden
//     and a *permission.FieldError.
func (e *Engine) Authorize(ctx context.Context, req AccessRequest) (*Decision, error) {
	start := e.clock.Now()
	defer e.metricObserve(MetricAuthorizeLatency, start)

	snap := e.cache.Load()
	if snap == nil {
		return nil, ErrEngineNotReady
	}
	key := strings.ToLower(strings.TrimSpace(req.Permission))

	if e.config.Permission.SuperuserBypass && snap.IsSuperuser(req.UserID) {
		e.metricInc(MetricAuthorizeSuperuserBypass)
		e.emitAudit(ctx, auditEventSuperuserBypass, true, req.UserID.String(), "", key, nil, nil)
		return &Decision{
			UserID:          req.UserID,
			Permission:      key,
			Superuser:       true,
			SnapshotVersion: snap.Version(),
		}, nil
	}

	entry, ok := snap.Get(req.UserID, key)
	if !ok {
		e.metricInc(MetricAuthorizeDenied)
		return nil, e.denied(ctx, req.UserID, key, ErrPermissionDenied)
	}

	if entry.Scope == permission.ScopeOwn && (req.OwnerID == uuid.Nil || req.OwnerID != req.UserID) {
		e.metricInc(MetricAuthorizeScopeDenied)
		return nil, e.denied(ctx, req.UserID, key, ErrScopeViolation)
	}

	if err := e.checkFields(entry, req); err != nil {
		e.metricInc(MetricAuthorizeFieldRejected)
		return nil, e.denied(ctx, req.UserID, key, err)
	}

	e.metricInc(MetricAuthorizeAllowed)
	return &Decision{
		UserID:          req.UserID,
		Permission:      key,
		RoleID:          entry.RoleID,
		Scope:           entry.Scope,
		SnapshotVersion: snap.Version(),
		Entry:           entry,
	}, nil
}

func (e *Engine) checkFields(entry permission.EffectivePermission, req AccessRequest) error {
	policy := e.config.Permission.FieldPolicy
	if req.FieldPolicy != nil {
		policy = *req.FieldPolicy
	}
	if policy == permission.FieldPolicyNone {
		return nil
	}

	keys := permission.RequestKeys{}
	if len(req.QueryKeys) > 0 {
		keys[permission.SourceQuery] = req.QueryKeys
	}
	if req.Body != nil {
		bodyKeys, err := permission.CollectKeys(req.Body, e.config.Permission.MaxKeyDepth)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
		if len(bodyKeys) > 0 {
			keys[permission.SourceJSON] = bodyKeys
		}
	}

	if err := permission.CheckFields(entry, policy, keys); err != nil {
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return nil
}

func (e *Engine) denied(ctx context.Context, userID uuid.UUID, key string, err error) error {
	e.emitAudit(ctx, auditEventAuthorizeDenied, false, userID.String(), "", key, err, func() map[string]string {
		var fe *permission.FieldError
		if errors.As(err, &fe) {
			return map[string]string{
				"source": string(fe.Source),
				"fields": strings.Join(fe.Fields, ","),
			}
		}
		return nil
	})
	return err
}
