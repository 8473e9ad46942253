package store

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// Notifying wraps w so that every successful mutation calls n.MarkDirty and
// then each of hooks. A MarkDirty failure is reported as ErrMarkDirty; the
// mutation itself has already been applied.
func Notifying(w Writer, n Notifier, hooks ...func()) Writer {
	return &notifyingWriter{next: w, notifier: n, hooks: hooks}
}

type notifyingWriter struct {
	next     Writer
	notifier Notifier
	hooks    []func()
}

func (w *notifyingWriter) done(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if w.notifier != nil {
		if err := w.notifier.MarkDirty(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrMarkDirty, err)
		}
	}
	for _, h := range w.hooks {
		h()
	}
	return nil
}

func (w *notifyingWriter) CreateRole(ctx context.Context, in CreateRoleInput) (permission.Role, error) {
	r, err := w.next.CreateRole(ctx, in)
	return r, w.done(ctx, err)
}

func (w *notifyingWriter) UpdateRole(ctx context.Context, in UpdateRoleInput) (permission.Role, error) {
	r, err := w.next.UpdateRole(ctx, in)
	return r, w.done(ctx, err)
}

func (w *notifyingWriter) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	return w.done(ctx, w.next.DeleteRole(ctx, roleID))
}

func (w *notifyingWriter) CreatePermission(ctx context.Context, in CreatePermissionInput) (permission.Permission, error) {
	p, err := w.next.CreatePermission(ctx, in)
	return p, w.done(ctx, err)
}

func (w *notifyingWriter) DeletePermission(ctx context.Context, permissionID uuid.UUID) error {
	return w.done(ctx, w.next.DeletePermission(ctx, permissionID))
}

func (w *notifyingWriter) CreateField(ctx context.Context, in CreateFieldInput) (permission.Field, error) {
	f, err := w.next.CreateField(ctx, in)
	return f, w.done(ctx, err)
}

func (w *notifyingWriter) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	return w.done(ctx, w.next.DeleteField(ctx, fieldID))
}

func (w *notifyingWriter) SyncCatalog(ctx context.Context, specs []permission.Spec) (SyncResult, error) {
	res, err := w.next.SyncCatalog(ctx, specs)
	return res, w.done(ctx, err)
}

func (w *notifyingWriter) GrantPermission(ctx context.Context, in GrantInput) error {
	return w.done(ctx, w.next.GrantPermission(ctx, in))
}

func (w *notifyingWriter) UpdateGrantScope(ctx context.Context, in GrantInput) error {
	return w.done(ctx, w.next.UpdateGrantScope(ctx, in))
}

func (w *notifyingWriter) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return w.done(ctx, w.next.RevokePermission(ctx, roleID, permissionID))
}

func (w *notifyingWriter) GrantField(ctx context.Context, in FieldGrantInput) error {
	return w.done(ctx, w.next.GrantField(ctx, in))
}

func (w *notifyingWriter) UpdateFieldEffect(ctx context.Context, in FieldGrantInput) error {
	return w.done(ctx, w.next.UpdateFieldEffect(ctx, in))
}

func (w *notifyingWriter) RevokeField(ctx context.Context, roleID, permissionID, fieldID uuid.UUID) error {
	return w.done(ctx, w.next.RevokeField(ctx, roleID, permissionID, fieldID))
}

func (w *notifyingWriter) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return w.done(ctx, w.next.AssignRole(ctx, userID, roleID))
}

func (w *notifyingWriter) UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return w.done(ctx, w.next.UnassignRole(ctx, userID, roleID))
}
