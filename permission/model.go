package permission

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Scope selects whether a grant applies to the acting user's own resources or to any resource.
type Scope string

const (
	ScopeOwn Scope = "own"
	ScopeAny Scope = "any"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeOwn || s == ScopeAny
}

// Action is the verb part of a permission key.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionDelete, ActionUpdate:
		return true
	default:
		return false
	}
}

// Source identifies where a request field is read from.
type Source string

const (
	SourceQuery Source = "query"
	SourceJSON  Source = "json"
)

// Valid reports whether s is a known field source.
func (s Source) Valid() bool {
	return s == SourceQuery || s == SourceJSON
}

// Sources lists every field source in a stable order.
var Sources = []Source{SourceQuery, SourceJSON}

// Effect is applied to a single request field under a permission.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether e is a known effect.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Key builds the canonical permission key "resource:action:operation" in lower case.
func Key(resource string, action Action, operation string) string {
	return strings.ToLower(resource + ":" + string(action) + ":" + operation)
}

// ParseKey splits a permission key into its parts.
func ParseKey(key string) (resource string, action Action, operation string, err error) {
	parts := strings.Split(strings.ToLower(key), ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid permission key %q", key)
	}
	action = Action(parts[1])
	if !action.Valid() {
		return "", "", "", fmt.Errorf("invalid permission action %q", parts[1])
	}
	return parts[0], action, parts[2], nil
}

// Role is a named bundle of grants. Level orders roles for precedence and
// IsSuperuser overrides any level.
type Role struct {
	ID          uuid.UUID
	Name        string
	Level       int
	IsSuperuser bool
	Description string
}

// Permission is an immutable catalog entry.
type Permission struct {
	ID          uuid.UUID
	Key         string
	Resource    string
	Action      Action
	Operation   string
	Description string
}

// Field is a request field subject to fine-grained control under one permission.
type Field struct {
	ID           uuid.UUID
	PermissionID uuid.UUID
	Name         string
	Source       Source
}

// Grant links a role to a permission with a scope.
type Grant struct {
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	Scope        Scope
}

// FieldGrant restricts a single field for a (role, permission) grant.
type FieldGrant struct {
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	FieldID      uuid.UUID
	Effect       Effect
}

// Assignment links a user to a role.
type Assignment struct {
	UserID uuid.UUID
	RoleID uuid.UUID
}

// Spec describes a permission together with the fields it exposes. It is the
// unit used to register a catalog.
type Spec struct {
	Resource    string
	Action      Action
	Operation   string
	Description string
	Fields      map[Source][]string
}

// Key returns the canonical resource:action:operation key.
func (s Spec) Key() string {
	return Key(s.Resource, s.Action, s.Operation)
}

// FieldSet groups field names by source. Name slices are sorted and unique.
type FieldSet map[Source][]string

// Has reports whether name is listed for src.
func (fs FieldSet) Has(src Source, name string) bool {
	_, ok := slices.BinarySearch(fs[src], name)
	return ok
}

// Empty reports whether the set has no names for any source.
func (fs FieldSet) Empty() bool {
	for _, names := range fs {
		if len(names) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of fs. A nil set stays nil.
func (fs FieldSet) Clone() FieldSet {
	if fs == nil {
		return nil
	}
	out := make(FieldSet, len(fs))
	for src, names := range fs {
		out[src] = slices.Clone(names)
	}
	return out
}

// EffectivePermission is the resolved winning grant for one (user, permission) pair.
type EffectivePermission struct {
	UserID        uuid.UUID
	PermissionID  uuid.UUID
	PermissionKey string
	RoleID        uuid.UUID
	RoleLevel     int
	Superuser     bool
	Scope         Scope
	AllowFields   FieldSet
	DenyFields    FieldSet
}

// Graph is the full assignment graph consumed by the resolver.
type Graph struct {
	Roles       []Role
	Permissions []Permission
	Fields      []Field
	Grants      []Grant
	FieldGrants []FieldGrant
	Assignments []Assignment
}

// GrantedPermission is a permission as granted to one role.
type GrantedPermission struct {
	Permission Permission
	Scope      Scope
}

// GrantedField is a field grant as seen from one (role, permission) pair.
type GrantedField struct {
	Field  Field
	Effect Effect
}
