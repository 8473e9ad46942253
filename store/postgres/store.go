// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Integrity rules are enforced by the schema (see schema.sql) and every
// mutating statement marks the permission cache dirty from a trigger, so
// writes made outside this package are picked up as well.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store persists the assignment graph.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool. Call EnsureSchema once before use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates tables, indexes and triggers when missing. It is safe
// to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: ensure schema: %w", err)
	}
	return nil
}

// mapError translates constraint violations into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == "roles_single_superuser" {
			return store.ErrSuperuserExists
		}
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrDanglingReference, pgErr.ConstraintName)
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}

func withTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("store/postgres: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("store/postgres: commit tx: %w", err))
	}
	return nil
}

func expectOne(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return nil
}

/* ==== READ SURFACE ==== */

func scanRole(row pgx.CollectableRow) (permission.Role, error) {
	var r permission.Role
	err := row.Scan(&r.ID, &r.Name, &r.Level, &r.IsSuperuser, &r.Description)
	return r, err
}

func scanPermission(row pgx.CollectableRow) (permission.Permission, error) {
	var p permission.Permission
	err := row.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Operation, &p.Description)
	return p, err
}

func scanField(row pgx.CollectableRow) (permission.Field, error) {
	var f permission.Field
	err := row.Scan(&f.ID, &f.PermissionID, &f.Name, &f.Source)
	return f, err
}

const (
	roleColumns       = `r.id, r.name, r.level, r.is_superuser, r.description`
	permissionColumns = `p.id, p.key, p.resource, p.action, p.operation, p.description`
	fieldColumns      = `f.id, f.permission_id, f.name, f.source`
)

// ListRolesForUser returns the roles assigned to userID ordered by id.
func (s *Store) ListRolesForUser(ctx context.Context, userID uuid.UUID) ([]permission.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+`
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRole)
}

// ListPermissionGrants returns the grants held by roleID ordered by key.
func (s *Store) ListPermissionGrants(ctx context.Context, roleID uuid.UUID) ([]permission.GrantedPermission, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+permissionColumns+`, rp.scope
		FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 ORDER BY p.key`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (permission.GrantedPermission, error) {
		var g permission.GrantedPermission
		p := &g.Permission
		err := row.Scan(&p.ID, &p.Key, &p.Resource, &p.Action, &p.Operation, &p.Description, &g.Scope)
		return g, err
	})
}

// ListFieldGrants returns the field grants of roleID on permissionID.
func (s *Store) ListFieldGrants(ctx context.Context, roleID, permissionID uuid.UUID) ([]permission.GrantedField, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fieldColumns+`, rpf.effect
		FROM role_permission_fields rpf JOIN permission_fields f ON f.id = rpf.field_id
		WHERE rpf.role_id = $1 AND rpf.permission_id = $2 ORDER BY f.id`, roleID, permissionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (permission.GrantedField, error) {
		var g permission.GrantedField
		f := &g.Field
		err := row.Scan(&f.ID, &f.PermissionID, &f.Name, &f.Source, &g.Effect)
		return g, err
	})
}

// ListRoles returns every role ordered by id.
func (s *Store) ListRoles(ctx context.Context) ([]permission.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRole)
}

// GetPermissionByKey looks up a permission by its case-insensitive key.
func (s *Store) GetPermissionByKey(ctx context.Context, key string) (permission.Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.key = $1`, strings.ToLower(key))
	if err != nil {
		return permission.Permission{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	return p, mapError(err)
}

// LoadGraph reads all tables inside one read-only repeatable-read transaction,
// so the graph reflects a single point in time.
func (s *Store) LoadGraph(ctx context.Context) (*permission.Graph, error) {
	g := &permission.Graph{}
	err := withTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if g.Roles, err = collect(ctx, tx, `SELECT `+roleColumns+` FROM roles r`, scanRole); err != nil {
			return err
		}
		if g.Permissions, err = collect(ctx, tx, `SELECT `+permissionColumns+` FROM permissions p`, scanPermission); err != nil {
			return err
		}
		if g.Fields, err = collect(ctx, tx, `SELECT `+fieldColumns+` FROM permission_fields f`, scanField); err != nil {
			return err
		}
		g.Grants, err = collect(ctx, tx, `SELECT role_id, permission_id, scope FROM role_permissions`,
			func(row pgx.CollectableRow) (permission.Grant, error) {
				var gr permission.Grant
				err := row.Scan(&gr.RoleID, &gr.PermissionID, &gr.Scope)
				return gr, err
			})
		if err != nil {
			return err
		}
		g.FieldGrants, err = collect(ctx, tx, `SELECT role_id, permission_id, field_id, effect FROM role_permission_fields`,
			func(row pgx.CollectableRow) (permission.FieldGrant, error) {
				var fg permission.FieldGrant
				err := row.Scan(&fg.RoleID, &fg.PermissionID, &fg.FieldID, &fg.Effect)
				return fg, err
			})
		if err != nil {
			return err
		}
		g.Assignments, err = collect(ctx, tx, `SELECT user_id, role_id FROM user_roles`,
			func(row pgx.CollectableRow) (permission.Assignment, error) {
				var a permission.Assignment
				err := row.Scan(&a.UserID, &a.RoleID)
				return a, err
			})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store/postgres: load graph: %w", err)
	}
	return g, nil
}

func collect[T any](ctx context.Context, tx pgx.Tx, sql string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

/* ==== ROLES ==== */

// CreateRole validates in and stores a new role. At most one role may be
// a superuser.
func (s *Store) CreateRole(ctx context.Context, in store.CreateRoleInput) (permission.Role, error) {
	if err := store.Validate(in); err != nil {
		return permission.Role{}, err
	}
	role := permission.Role{
		ID:          in.ID,
		Name:        in.Name,
		Level:       in.Level,
		IsSuperuser: in.IsSuperuser,
		Description: in.Description,
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO roles (id, name, level, is_superuser, description) VALUES ($1, $2, $3, $4, $5)`,
		role.ID, role.Name, role.Level, role.IsSuperuser, role.Description)
	if err != nil {
		return permission.Role{}, mapError(err)
	}
	return role, nil
}

// UpdateRole replaces the name, rank and superuser flag of an existing role.
func (s *Store) UpdateRole(ctx context.Context, in store.UpdateRoleInput) (permission.Role, error) {
	if err := store.Validate(in); err != nil {
		return permission.Role{}, err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE roles SET name = $2, level = $3, is_superuser = $4, description = $5 WHERE id = $1`,
		in.ID, in.Name, in.Level, in.IsSuperuser, in.Description)
	if err := expectOne(tag, err, "role "+in.ID.String()); err != nil {
		return permission.Role{}, err
	}
	return permission.Role{
		ID:          in.ID,
		Name:        in.Name,
		Level:       in.Level,
		IsSuperuser: in.IsSuperuser,
		Description: in.Description,
	}, nil
}

// DeleteRole removes the role together with its grants, field grants and
// user assignments.
func (s *Store) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	return expectOne(tag, err, "role "+roleID.String())
}

/* ==== CATALOG ==== */

// CreatePermission validates in and stores a new permission.
func (s *Store) CreatePermission(ctx context.Context, in store.CreatePermissionInput) (permission.Permission, error) {
	if err := store.Validate(in); err != nil {
		return permission.Permission{}, err
	}
	p := store.NewPermission(in)
	if err := insertPermission(ctx, s.pool, p); err != nil {
		return permission.Permission{}, err
	}
	return p, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPermission(ctx context.Context, db execer, p permission.Permission) error {
	_, err := db.Exec(ctx, `INSERT INTO permissions (id, key, resource, action, operation, description) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Key, p.Resource, p.Action, p.Operation, p.Description)
	return mapError(err)
}

// DeletePermission removes the permission, its fields and every grant
// that references it.
func (s *Store) DeletePermission(ctx context.Context, permissionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, permissionID)
	return expectOne(tag, err, "permission "+permissionID.String())
}

// CreateField adds a field to an existing permission.
func (s *Store) CreateField(ctx context.Context, in store.CreateFieldInput) (permission.Field, error) {
	if err := store.Validate(in); err != nil {
		return permission.Field{}, err
	}
	f := permission.Field{ID: in.ID, PermissionID: in.PermissionID, Name: in.Name, Source: in.Source}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO permission_fields (id, permission_id, name, source) VALUES ($1, $2, $3, $4)`,
		f.ID, f.PermissionID, f.Name, f.Source)
	if err != nil {
		return permission.Field{}, mapError(err)
	}
	return f, nil
}

// DeleteField removes the field and its field grants.
func (s *Store) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permission_fields WHERE id = $1`, fieldID)
	return expectOne(tag, err, "field "+fieldID.String())
}

// SyncCatalog upserts specs by key in one transaction. Descriptions are
// updated and missing fields added; nothing is removed.
func (s *Store) SyncCatalog(ctx context.Context, specs []permission.Spec) (store.SyncResult, error) {
	var res store.SyncResult
	for _, spec := range specs {
		if err := store.ValidateSpec(spec); err != nil {
			return res, err
		}
	}

	err := withTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		res = store.SyncResult{}
		for _, spec := range specs {
			var (
				id          uuid.UUID
				description string
			)
			err := tx.QueryRow(ctx, `SELECT id, description FROM permissions WHERE key = $1 FOR UPDATE`, spec.Key()).
				Scan(&id, &description)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				p := store.NewPermission(store.CreatePermissionInput{
					Resource:    spec.Resource,
					Action:      spec.Action,
					Operation:   spec.Operation,
					Description: spec.Description,
				})
				if err := insertPermission(ctx, tx, p); err != nil {
					return err
				}
				id = p.ID
				res.PermissionsCreated++
			case err != nil:
				return mapError(err)
			case description != spec.Description:
				if _, err := tx.Exec(ctx, `UPDATE permissions SET description = $2 WHERE id = $1`, id, spec.Description); err != nil {
					return mapError(err)
				}
				res.PermissionsUpdated++
			}

			for _, src := range permission.Sources {
				for _, name := range spec.Fields[src] {
					tag, err := tx.Exec(ctx, `INSERT INTO permission_fields (id, permission_id, name, source) VALUES ($1, $2, $3, $4)
						ON CONFLICT (permission_id, source, name) DO NOTHING`, uuid.New(), id, name, src)
					if err != nil {
						return mapError(err)
					}
					res.FieldsCreated += int(tag.RowsAffected())
				}
			}
		}
		return nil
	})
	if err != nil {
		return store.SyncResult{}, err
	}
	return res, nil
}

/* ==== GRANTS ==== */

// GrantPermission grants permissionID to roleID at in.Scope.
func (s *Store) GrantPermission(ctx context.Context, in store.GrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, scope) VALUES ($1, $2, $3)`,
		in.RoleID, in.PermissionID, in.Scope)
	return mapError(err)
}

// UpdateGrantScope changes the scope of an existing grant.
func (s *Store) UpdateGrantScope(ctx context.Context, in store.GrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE role_permissions SET scope = $3 WHERE role_id = $1 AND permission_id = $2`,
		in.RoleID, in.PermissionID, in.Scope)
	return expectOne(tag, err, "grant")
}

// RevokePermission removes the grant and the field grants under it.
func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return expectOne(tag, err, "grant")
}

// GrantField attaches an allow or deny effect to a field of a granted
// permission.
func (s *Store) GrantField(ctx context.Context, in store.FieldGrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permission_fields (role_id, permission_id, field_id, effect) VALUES ($1, $2, $3, $4)`,
		in.RoleID, in.PermissionID, in.FieldID, in.Effect)
	return mapError(err)
}

// UpdateFieldEffect flips the effect of an existing field grant.
func (s *Store) UpdateFieldEffect(ctx context.Context, in store.FieldGrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE role_permission_fields SET effect = $4 WHERE role_id = $1 AND permission_id = $2 AND field_id = $3`,
		in.RoleID, in.PermissionID, in.FieldID, in.Effect)
	return expectOne(tag, err, "field grant")
}

// RevokeField removes a single field grant.
func (s *Store) RevokeField(ctx context.Context, roleID, permissionID, fieldID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_permission_fields WHERE role_id = $1 AND permission_id = $2 AND field_id = $3`,
		roleID, permissionID, fieldID)
	return expectOne(tag, err, "field grant")
}

/* ==== ASSIGNMENTS ==== */

// AssignRole gives userID the role roleID.
func (s *Store) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := store.ValidateIDs(userID, roleID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	return mapError(err)
}

// UnassignRole removes roleID from userID.
func (s *Store) UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return expectOne(tag, err, "assignment")
}
