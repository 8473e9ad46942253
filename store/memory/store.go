// Package memory is an in-process implementation of store.Store. It enforces
// the same integrity rules as the Postgres schema and is intended for tests,
// examples and single-process deployments.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/google/uuid"
)

type rolePerm struct {
	role uuid.UUID
	perm uuid.UUID
}

type rolePermField struct {
	rolePerm
	field uuid.UUID
}

type fieldKey struct {
	perm   uuid.UUID
	source permission.Source
	name   string
}

// Store keeps the assignment graph in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	roles       map[uuid.UUID]permission.Role
	perms       map[uuid.UUID]permission.Permission
	permByKey   map[string]uuid.UUID
	fields      map[uuid.UUID]permission.Field
	fieldByKey  map[fieldKey]uuid.UUID
	grants      map[rolePerm]permission.Scope
	fieldGrants map[rolePermField]permission.Effect
	userRoles   map[uuid.UUID]map[uuid.UUID]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		roles:       make(map[uuid.UUID]permission.Role),
		perms:       make(map[uuid.UUID]permission.Permission),
		permByKey:   make(map[string]uuid.UUID),
		fields:      make(map[uuid.UUID]permission.Field),
		fieldByKey:  make(map[fieldKey]uuid.UUID),
		grants:      make(map[rolePerm]permission.Scope),
		fieldGrants: make(map[rolePermField]permission.Effect),
		userRoles:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

/* ==== READ SURFACE ==== */

// ListRolesForUser returns the roles assigned to userID ordered by id.
func (s *Store) ListRolesForUser(_ context.Context, userID uuid.UUID) ([]permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.Role, 0, len(s.userRoles[userID]))
	for roleID := range s.userRoles[userID] {
		out = append(out, s.roles[roleID])
	}
	slices.SortFunc(out, func(a, b permission.Role) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// ListPermissionGrants returns the grants held by roleID ordered by key.
func (s *Store) ListPermissionGrants(_ context.Context, roleID uuid.UUID) ([]permission.GrantedPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []permission.GrantedPermission
	for k, scope := range s.grants {
		if k.role == roleID {
			out = append(out, permission.GrantedPermission{Permission: s.perms[k.perm], Scope: scope})
		}
	}
	slices.SortFunc(out, func(a, b permission.GrantedPermission) int {
		return cmp.Compare(a.Permission.Key, b.Permission.Key)
	})
	return out, nil
}

// ListFieldGrants returns the field grants of roleID on permissionID.
func (s *Store) ListFieldGrants(_ context.Context, roleID, permissionID uuid.UUID) ([]permission.GrantedField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []permission.GrantedField
	for k, effect := range s.fieldGrants {
		if k.role == roleID && k.perm == permissionID {
			out = append(out, permission.GrantedField{Field: s.fields[k.field], Effect: effect})
		}
	}
	slices.SortFunc(out, func(a, b permission.GrantedField) int { return compareIDs(a.Field.ID, b.Field.ID) })
	return out, nil
}

// ListRoles returns every role ordered by id.
func (s *Store) ListRoles(context.Context) ([]permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b permission.Role) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// GetPermissionByKey looks up a permission by its case-insensitive key.
func (s *Store) GetPermissionByKey(_ context.Context, key string) (permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.permByKey[strings.ToLower(key)]
	if !ok {
		return permission.Permission{}, store.ErrNotFound
	}
	return s.perms[id], nil
}

// LoadGraph returns a copy of the whole graph under one read lock.
func (s *Store) LoadGraph(context.Context) (*permission.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &permission.Graph{
		Roles:       make([]permission.Role, 0, len(s.roles)),
		Permissions: make([]permission.Permission, 0, len(s.perms)),
		Fields:      make([]permission.Field, 0, len(s.fields)),
		Grants:      make([]permission.Grant, 0, len(s.grants)),
		FieldGrants: make([]permission.FieldGrant, 0, len(s.fieldGrants)),
	}
	for _, r := range s.roles {
		g.Roles = append(g.Roles, r)
	}
	for _, p := range s.perms {
		g.Permissions = append(g.Permissions, p)
	}
	for _, f := range s.fields {
		g.Fields = append(g.Fields, f)
	}
	for k, scope := range s.grants {
		g.Grants = append(g.Grants, permission.Grant{RoleID: k.role, PermissionID: k.perm, Scope: scope})
	}
	for k, effect := range s.fieldGrants {
		g.FieldGrants = append(g.FieldGrants, permission.FieldGrant{RoleID: k.role, PermissionID: k.perm, FieldID: k.field, Effect: effect})
	}
	for userID, roles := range s.userRoles {
		for roleID := range roles {
			g.Assignments = append(g.Assignments, permission.Assignment{UserID: userID, RoleID: roleID})
		}
	}
	return g, nil
}

/* ==== ROLES ==== */

// CreateRole validates in and stores a new role. At most one role may be
// a superuser.
func (s *Store) CreateRole(_ context.Context, in store.CreateRoleInput) (permission.Role, error) {
	if err := store.Validate(in); err != nil {
		return permission.Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

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
	if _, ok := s.roles[role.ID]; ok {
		return permission.Role{}, fmt.Errorf("%w: role %s", store.ErrDuplicate, role.ID)
	}
	if err := s.checkRoleName(role.ID, role.Name); err != nil {
		return permission.Role{}, err
	}
	if role.IsSuperuser && s.hasOtherSuperuser(role.ID) {
		return permission.Role{}, store.ErrSuperuserExists
	}

	s.roles[role.ID] = role
	return role, nil
}

// UpdateRole replaces the name, rank and superuser flag of an existing role.
func (s *Store) UpdateRole(_ context.Context, in store.UpdateRoleInput) (permission.Role, error) {
	if err := store.Validate(in); err != nil {
		return permission.Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[in.ID]; !ok {
		return permission.Role{}, fmt.Errorf("%w: role %s", store.ErrNotFound, in.ID)
	}
	if err := s.checkRoleName(in.ID, in.Name); err != nil {
		return permission.Role{}, err
	}
	if in.IsSuperuser && s.hasOtherSuperuser(in.ID) {
		return permission.Role{}, store.ErrSuperuserExists
	}

	role := permission.Role{
		ID:          in.ID,
		Name:        in.Name,
		Level:       in.Level,
		IsSuperuser: in.IsSuperuser,
		Description: in.Description,
	}
	s.roles[in.ID] = role
	return role, nil
}

// DeleteRole removes the role together with its grants, field grants and
// user assignments.
func (s *Store) DeleteRole(_ context.Context, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", store.ErrNotFound, roleID)
	}
	delete(s.roles, roleID)
	for k := range s.grants {
		if k.role == roleID {
			delete(s.grants, k)
		}
	}
	for k := range s.fieldGrants {
		if k.role == roleID {
			delete(s.fieldGrants, k)
		}
	}
	for userID, roles := range s.userRoles {
		delete(roles, roleID)
		if len(roles) == 0 {
			delete(s.userRoles, userID)
		}
	}
	return nil
}

func (s *Store) checkRoleName(id uuid.UUID, name string) error {
	for _, r := range s.roles {
		if r.ID != id && r.Name == name {
			return fmt.Errorf("%w: role name %q", store.ErrDuplicate, name)
		}
	}
	return nil
}

func (s *Store) hasOtherSuperuser(id uuid.UUID) bool {
	for _, r := range s.roles {
		if r.IsSuperuser && r.ID != id {
			return true
		}
	}
	return false
}

/* ==== CATALOG ==== */

// CreatePermission validates in and stores a new permission.
func (s *Store) CreatePermission(_ context.Context, in store.CreatePermissionInput) (permission.Permission, error) {
	if err := store.Validate(in); err != nil {
		return permission.Permission{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := store.NewPermission(in)
	if err := s.insertPermission(p); err != nil {
		return permission.Permission{}, err
	}
	return p, nil
}

func (s *Store) insertPermission(p permission.Permission) error {
	if _, ok := s.perms[p.ID]; ok {
		return fmt.Errorf("%w: permission %s", store.ErrDuplicate, p.ID)
	}
	if _, ok := s.permByKey[p.Key]; ok {
		return fmt.Errorf("%w: permission key %q", store.ErrDuplicate, p.Key)
	}
	s.perms[p.ID] = p
	s.permByKey[p.Key] = p.ID
	return nil
}

// DeletePermission removes the permission, its fields and every grant
// that references it.
func (s *Store) DeletePermission(_ context.Context, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.perms[permissionID]
	if !ok {
		return fmt.Errorf("%w: permission %s", store.ErrNotFound, permissionID)
	}
	delete(s.perms, permissionID)
	delete(s.permByKey, p.Key)
	for id, f := range s.fields {
		if f.PermissionID == permissionID {
			delete(s.fields, id)
			delete(s.fieldByKey, fieldKey{perm: permissionID, source: f.Source, name: f.Name})
		}
	}
	for k := range s.grants {
		if k.perm == permissionID {
			delete(s.grants, k)
		}
	}
	for k := range s.fieldGrants {
		if k.perm == permissionID {
			delete(s.fieldGrants, k)
		}
	}
	return nil
}

// CreateField adds a field to an existing permission.
func (s *Store) CreateField(_ context.Context, in store.CreateFieldInput) (permission.Field, error) {
	if err := store.Validate(in); err != nil {
		return permission.Field{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := permission.Field{ID: in.ID, PermissionID: in.PermissionID, Name: in.Name, Source: in.Source}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if err := s.insertField(f); err != nil {
		return permission.Field{}, err
	}
	return f, nil
}

func (s *Store) insertField(f permission.Field) error {
	if _, ok := s.perms[f.PermissionID]; !ok {
		return fmt.Errorf("%w: permission %s", store.ErrDanglingReference, f.PermissionID)
	}
	if _, ok := s.fields[f.ID]; ok {
		return fmt.Errorf("%w: field %s", store.ErrDuplicate, f.ID)
	}
	k := fieldKey{perm: f.PermissionID, source: f.Source, name: f.Name}
	if _, ok := s.fieldByKey[k]; ok {
		return fmt.Errorf("%w: field %s %q", store.ErrDuplicate, f.Source, f.Name)
	}
	s.fields[f.ID] = f
	s.fieldByKey[k] = f.ID
	return nil
}

// DeleteField removes the field and its field grants.
func (s *Store) DeleteField(_ context.Context, fieldID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fields[fieldID]
	if !ok {
		return fmt.Errorf("%w: field %s", store.ErrNotFound, fieldID)
	}
	delete(s.fields, fieldID)
	delete(s.fieldByKey, fieldKey{perm: f.PermissionID, source: f.Source, name: f.Name})
	for k := range s.fieldGrants {
		if k.field == fieldID {
			delete(s.fieldGrants, k)
		}
	}
	return nil
}

// SyncCatalog upserts specs by key. Descriptions are updated and missing fields
// added; nothing is removed.
func (s *Store) SyncCatalog(_ context.Context, specs []permission.Spec) (store.SyncResult, error) {
	var res store.SyncResult
	for _, spec := range specs {
		if err := store.ValidateSpec(spec); err != nil {
			return res, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spec := range specs {
		key := spec.Key()
		id, ok := s.permByKey[key]
		if !ok {
			p := store.NewPermission(store.CreatePermissionInput{
				Resource:    spec.Resource,
				Action:      spec.Action,
				Operation:   spec.Operation,
				Description: spec.Description,
			})
			if err := s.insertPermission(p); err != nil {
				return res, err
			}
			id = p.ID
			res.PermissionsCreated++
		} else if p := s.perms[id]; p.Description != spec.Description {
			p.Description = spec.Description
			s.perms[id] = p
			res.PermissionsUpdated++
		}

		for _, src := range permission.Sources {
			for _, name := range spec.Fields[src] {
				if _, ok := s.fieldByKey[fieldKey{perm: id, source: src, name: name}]; ok {
					continue
				}
				if err := s.insertField(permission.Field{ID: uuid.New(), PermissionID: id, Name: name, Source: src}); err != nil {
					return res, err
				}
				res.FieldsCreated++
			}
		}
	}
	return res, nil
}

/* ==== GRANTS ==== */

// GrantPermission grants permissionID to roleID at in.Scope.
func (s *Store) GrantPermission(_ context.Context, in store.GrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRolePerm(in.RoleID, in.PermissionID); err != nil {
		return err
	}
	k := rolePerm{role: in.RoleID, perm: in.PermissionID}
	if _, ok := s.grants[k]; ok {
		return fmt.Errorf("%w: grant of %s to role %s", store.ErrDuplicate, in.PermissionID, in.RoleID)
	}
	s.grants[k] = in.Scope
	return nil
}

// UpdateGrantScope changes the scope of an existing grant.
func (s *Store) UpdateGrantScope(_ context.Context, in store.GrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := rolePerm{role: in.RoleID, perm: in.PermissionID}
	if _, ok := s.grants[k]; !ok {
		return fmt.Errorf("%w: grant of %s to role %s", store.ErrNotFound, in.PermissionID, in.RoleID)
	}
	s.grants[k] = in.Scope
	return nil
}

// RevokePermission removes the grant and the field grants under it.
func (s *Store) RevokePermission(_ context.Context, roleID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rolePerm{role: roleID, perm: permissionID}
	if _, ok := s.grants[k]; !ok {
		return fmt.Errorf("%w: grant of %s to role %s", store.ErrNotFound, permissionID, roleID)
	}
	delete(s.grants, k)
	for fk := range s.fieldGrants {
		if fk.rolePerm == k {
			delete(s.fieldGrants, fk)
		}
	}
	return nil
}

func (s *Store) checkRolePerm(roleID, permissionID uuid.UUID) error {
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", store.ErrDanglingReference, roleID)
	}
	if _, ok := s.perms[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", store.ErrDanglingReference, permissionID)
	}
	return nil
}

// GrantField attaches an allow or deny effect to a field of a granted
// permission.
func (s *Store) GrantField(_ context.Context, in store.FieldGrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rp := rolePerm{role: in.RoleID, perm: in.PermissionID}
	if _, ok := s.grants[rp]; !ok {
		return fmt.Errorf("%w: role %s has no grant for %s", store.ErrDanglingReference, in.RoleID, in.PermissionID)
	}
	f, ok := s.fields[in.FieldID]
	if !ok || f.PermissionID != in.PermissionID {
		return fmt.Errorf("%w: field %s is not a field of %s", store.ErrDanglingReference, in.FieldID, in.PermissionID)
	}
	k := rolePermField{rolePerm: rp, field: in.FieldID}
	if _, ok := s.fieldGrants[k]; ok {
		return fmt.Errorf("%w: field grant %s", store.ErrDuplicate, in.FieldID)
	}
	s.fieldGrants[k] = in.Effect
	return nil
}

// UpdateFieldEffect flips the effect of an existing field grant.
func (s *Store) UpdateFieldEffect(_ context.Context, in store.FieldGrantInput) error {
	if err := store.Validate(in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := rolePermField{rolePerm: rolePerm{role: in.RoleID, perm: in.PermissionID}, field: in.FieldID}
	if _, ok := s.fieldGrants[k]; !ok {
		return fmt.Errorf("%w: field grant %s", store.ErrNotFound, in.FieldID)
	}
	s.fieldGrants[k] = in.Effect
	return nil
}

// RevokeField removes a single field grant.
func (s *Store) RevokeField(_ context.Context, roleID, permissionID, fieldID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rolePermField{rolePerm: rolePerm{role: roleID, perm: permissionID}, field: fieldID}
	if _, ok := s.fieldGrants[k]; !ok {
		return fmt.Errorf("%w: field grant %s", store.ErrNotFound, fieldID)
	}
	delete(s.fieldGrants, k)
	return nil
}

/* ==== ASSIGNMENTS ==== */

// AssignRole gives userID the role roleID.
func (s *Store) AssignRole(_ context.Context, userID, roleID uuid.UUID) error {
	if err := store.ValidateIDs(userID, roleID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", store.ErrDanglingReference, roleID)
	}
	roles, ok := s.userRoles[userID]
	if !ok {
		roles = make(map[uuid.UUID]struct{})
		s.userRoles[userID] = roles
	}
	if _, ok := roles[roleID]; ok {
		return fmt.Errorf("%w: user %s already holds role %s", store.ErrDuplicate, userID, roleID)
	}
	roles[roleID] = struct{}{}
	return nil
}

// UnassignRole removes roleID from userID.
func (s *Store) UnassignRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles := s.userRoles[userID]
	if _, ok := roles[roleID]; !ok {
		return fmt.Errorf("%w: user %s does not hold role %s", store.ErrNotFound, userID, roleID)
	}
	delete(roles, roleID)
	if len(roles) == 0 {
		delete(s.userRoles, userID)
	}
	return nil
}
