// Package resolve computes effective permissions from an assignment graph.
//
// For every (user, permission) pair exactly one held role wins: superuser roles
// first, then higher level, then the lower role id in byte order. Field grants
// are taken from the winning role only. Resolution is pure and deterministic.
package resolve

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// Outranks reports whether role a takes precedence over role b.
func Outranks(a, b permission.Role) bool {
	if a.IsSuperuser != b.IsSuperuser {
		return a.IsSuperuser
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

type rolePerm struct {
	role uuid.UUID
	perm uuid.UUID
}

// fieldGroup is the first aggregation stage: one name set per
// (role, permission, source, effect).
type fieldGroup struct {
	role   uuid.UUID
	perm   uuid.UUID
	source permission.Source
	effect permission.Effect
}

type candidate struct {
	role  permission.Role
	grant permission.Grant
}

type index struct {
	roles       map[uuid.UUID]permission.Role
	perms       map[uuid.UUID]permission.Permission
	fields      map[uuid.UUID]permission.Field
	grants      map[uuid.UUID][]permission.Grant
	fieldGrants map[rolePerm][]permission.FieldGrant
	userRoles   map[uuid.UUID][]uuid.UUID
}

func newIndex(g *permission.Graph) *index {
	idx := &index{
		roles:       make(map[uuid.UUID]permission.Role, len(g.Roles)),
		perms:       make(map[uuid.UUID]permission.Permission, len(g.Permissions)),
		fields:      make(map[uuid.UUID]permission.Field, len(g.Fields)),
		grants:      make(map[uuid.UUID][]permission.Grant),
		fieldGrants: make(map[rolePerm][]permission.FieldGrant),
		userRoles:   make(map[uuid.UUID][]uuid.UUID),
	}
	for _, r := range g.Roles {
		idx.roles[r.ID] = r
	}
	for _, p := range g.Permissions {
		idx.perms[p.ID] = p
	}
	for _, f := range g.Fields {
		idx.fields[f.ID] = f
	}
	for _, gr := range g.Grants {
		idx.grants[gr.RoleID] = append(idx.grants[gr.RoleID], gr)
	}
	for _, fg := range g.FieldGrants {
		k := rolePerm{role: fg.RoleID, perm: fg.PermissionID}
		idx.fieldGrants[k] = append(idx.fieldGrants[k], fg)
	}
	for _, a := range g.Assignments {
		idx.userRoles[a.UserID] = append(idx.userRoles[a.UserID], a.RoleID)
	}
	return idx
}

// Resolve returns the effective permissions of every user in g, ordered by
// user id and then permission key.
func Resolve(g *permission.Graph) []permission.EffectivePermission {
	if g == nil {
		return nil
	}
	idx := newIndex(g)

	users := make([]uuid.UUID, 0, len(idx.userRoles))
	for u := range idx.userRoles {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	var out []permission.EffectivePermission
	for _, u := range users {
		out = append(out, idx.resolveUser(u)...)
	}
	return out
}

// ResolveUser returns the effective permissions of a single user, ordered by permission key.
func ResolveUser(g *permission.Graph, userID uuid.UUID) []permission.EffectivePermission {
	if g == nil {
		return nil
	}
	return newIndex(g).resolveUser(userID)
}

// Superusers returns the users holding at least one superuser role, in id order.
func Superusers(g *permission.Graph) []uuid.UUID {
	if g == nil {
		return nil
	}
	super := make(map[uuid.UUID]bool)
	for _, r := range g.Roles {
		if r.IsSuperuser {
			super[r.ID] = true
		}
	}
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, a := range g.Assignments {
		if !super[a.RoleID] {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		out = append(out, a.UserID)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

func (idx *index) winners(userID uuid.UUID) map[uuid.UUID]candidate {
	best := make(map[uuid.UUID]candidate)
	for _, roleID := range idx.userRoles[userID] {
		role, ok := idx.roles[roleID]
		if !ok {
			continue
		}
		for _, gr := range idx.grants[roleID] {
			if _, ok := idx.perms[gr.PermissionID]; !ok {
				continue
			}
			cur, ok := best[gr.PermissionID]
			if !ok || Outranks(role, cur.role) {
				best[gr.PermissionID] = candidate{role: role, grant: gr}
			}
		}
	}
	return best
}

func (idx *index) resolveUser(userID uuid.UUID) []permission.EffectivePermission {
	best := idx.winners(userID)
	if len(best) == 0 {
		return nil
	}

	out := make([]permission.EffectivePermission, 0, len(best))
	for permID, c := range best {
		allow, deny := idx.fieldSets(c.role.ID, permID)
		out = append(out, permission.EffectivePermission{
			UserID:        userID,
			PermissionID:  permID,
			PermissionKey: idx.perms[permID].Key,
			RoleID:        c.role.ID,
			RoleLevel:     c.role.Level,
			Superuser:     c.role.IsSuperuser,
			Scope:         c.grant.Scope,
			AllowFields:   allow,
			DenyFields:    deny,
		})
	}
	slices.SortFunc(out, func(a, b permission.EffectivePermission) int {
		return cmp.Compare(a.PermissionKey, b.PermissionKey)
	})
	return out
}

// fieldSets aggregates the field grants of one (role, permission) pair in two
// stages: names per (role, permission, source, effect), then those groups per
// (role, permission) into the allow and deny sets.
func (idx *index) fieldSets(roleID, permID uuid.UUID) (permission.FieldSet, permission.FieldSet) {
	groups := make(map[fieldGroup]map[string]struct{})
	for _, fg := range idx.fieldGrants[rolePerm{role: roleID, perm: permID}] {
		f, ok := idx.fields[fg.FieldID]
		if !ok {
			continue
		}
		k := fieldGroup{role: fg.RoleID, perm: fg.PermissionID, source: f.Source, effect: fg.Effect}
		names, ok := groups[k]
		if !ok {
			names = make(map[string]struct{})
			groups[k] = names
		}
		names[f.Name] = struct{}{}
	}

	allow := permission.FieldSet{}
	deny := permission.FieldSet{}
	for k, names := range groups {
		sorted := make([]string, 0, len(names))
		for n := range names {
			sorted = append(sorted, n)
		}
		slices.Sort(sorted)

		switch k.effect {
		case permission.EffectAllow:
			allow[k.source] = sorted
		case permission.EffectDeny:
			deny[k.source] = sorted
		}
	}
	return allow, deny
}

// Source is the per-user query surface of an assignment store.
type Source interface {
	ListRolesForUser(ctx context.Context, userID uuid.UUID) ([]permission.Role, error)
	ListPermissionGrants(ctx context.Context, roleID uuid.UUID) ([]permission.GrantedPermission, error)
	ListFieldGrants(ctx context.Context, roleID, permissionID uuid.UUID) ([]permission.GrantedField, error)
}

// ForUser resolves one user by querying src instead of loading the full graph.
// Field grants are fetched for winning grants only.
func ForUser(ctx context.Context, src Source, userID uuid.UUID) ([]permission.EffectivePermission, error) {
	roles, err := src.ListRolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles for user: %w", err)
	}

	g := &permission.Graph{Roles: roles}
	seenPerm := make(map[uuid.UUID]struct{})
	for _, r := range roles {
		g.Assignments = append(g.Assignments, permission.Assignment{UserID: userID, RoleID: r.ID})

		granted, err := src.ListPermissionGrants(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("list permission grants: %w", err)
		}
		for _, gp := range granted {
			if _, ok := seenPerm[gp.Permission.ID]; !ok {
				seenPerm[gp.Permission.ID] = struct{}{}
				g.Permissions = append(g.Permissions, gp.Permission)
			}
			g.Grants = append(g.Grants, permission.Grant{
				RoleID:       r.ID,
				PermissionID: gp.Permission.ID,
				Scope:        gp.Scope,
			})
		}
	}

	idx := newIndex(g)
	for permID, c := range idx.winners(userID) {
		fields, err := src.ListFieldGrants(ctx, c.role.ID, permID)
		if err != nil {
			return nil, fmt.Errorf("list field grants: %w", err)
		}
		for _, gf := range fields {
			g.Fields = append(g.Fields, gf.Field)
			g.FieldGrants = append(g.FieldGrants, permission.FieldGrant{
				RoleID:       c.role.ID,
				PermissionID: permID,
				FieldID:      gf.Field.ID,
				Effect:       gf.Effect,
			})
		}
	}

	return ResolveUser(g, userID), nil
}
