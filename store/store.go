// Package store defines the assignment store contract: the read surface used
// by resolution, the full-graph loader used by the cache, and the guarded
// write surface for roles, permissions, fields, grants and assignments.
//
// Implementations live in store/memory and store/postgres. Both return the
// sentinel errors of this package so callers can test with errors.Is.
package store

import (
	"context"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// Reader is the per-user query surface.
type Reader interface {
	ListRolesForUser(ctx context.Context, userID uuid.UUID) ([]permission.Role, error)
	ListPermissionGrants(ctx context.Context, roleID uuid.UUID) ([]permission.GrantedPermission, error)
	ListFieldGrants(ctx context.Context, roleID, permissionID uuid.UUID) ([]permission.GrantedField, error)
}

// GraphLoader reads a consistent copy of the whole assignment graph.
type GraphLoader interface {
	LoadGraph(ctx context.Context) (*permission.Graph, error)
}

// Writer mutates the assignment graph. Every method validates its input and
// reports integrity violations with the sentinel errors of this package.
type Writer interface {
	CreateRole(ctx context.Context, in CreateRoleInput) (permission.Role, error)
	UpdateRole(ctx context.Context, in UpdateRoleInput) (permission.Role, error)
	DeleteRole(ctx context.Context, roleID uuid.UUID) error

	CreatePermission(ctx context.Context, in CreatePermissionInput) (permission.Permission, error)
	DeletePermission(ctx context.Context, permissionID uuid.UUID) error
	CreateField(ctx context.Context, in CreateFieldInput) (permission.Field, error)
	DeleteField(ctx context.Context, fieldID uuid.UUID) error
	SyncCatalog(ctx context.Context, specs []permission.Spec) (SyncResult, error)

	GrantPermission(ctx context.Context, in GrantInput) error
	UpdateGrantScope(ctx context.Context, in GrantInput) error
	RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error

	GrantField(ctx context.Context, in FieldGrantInput) error
	UpdateFieldEffect(ctx context.Context, in FieldGrantInput) error
	RevokeField(ctx context.Context, roleID, permissionID, fieldID uuid.UUID) error

	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error
}

// Store is the full contract implemented by every backend.
type Store interface {
	Reader
	GraphLoader
	Writer
	ListRoles(ctx context.Context) ([]permission.Role, error)
	GetPermissionByKey(ctx context.Context, key string) (permission.Permission, error)
}

// Notifier is told about every successful mutation.
type Notifier interface {
	MarkDirty(ctx context.Context) error
}

// SyncResult counts the catalog rows written by SyncCatalog.
type SyncResult struct {
	PermissionsCreated int
	PermissionsUpdated int
	FieldsCreated      int
}
