package goAuthz

import (
	"context"
	"time"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/google/uuid"
)

// UserRecord is the credential view of a user supplied by the application.
// UserID must be a UUID string.
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Disabled     bool
}

// UserProvider looks up credentials. The engine never creates or deletes
// users; it only rewrites the password hash when the hashing parameters
// change and Password.UpgradeOnLogin is set.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error
}

// Tokens is the result of a successful login or refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	UserID       uuid.UUID
	ExpiresAt    time.Time
}

// Claims is a verified access token.
type Claims struct {
	UserID    uuid.UUID
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessRequest describes one authorization check.
//
// OwnerID is the owner of the addressed resource and is only consulted for
// own-scoped grants, which are denied when it is uuid.Nil. Query keys and
// Body keys are checked against field grants; Body may be any value produced
// by encoding/json decoding into interface{}.
//
// FieldPolicy overrides Permission.FieldPolicy for this request when set, so
// routes sharing a permission can enforce field grants differently.
type AccessRequest struct {
	UserID      uuid.UUID
	Permission  string
	OwnerID     uuid.UUID
	QueryKeys   []string
	Body        any
	FieldPolicy *permission.FieldPolicy
}

// Decision is an allowed authorization check. Entry is the zero value for a
// superuser bypass; its field sets are shared with the snapshot and must not
// be modified.
type Decision struct {
	UserID          uuid.UUID
	Permission      string
	RoleID          uuid.UUID
	Scope           permission.Scope
	Superuser       bool
	SnapshotVersion uint64
	Entry           permission.EffectivePermission
}

// CacheStats describes the published permission snapshot.
type CacheStats struct {
	Version uint64
	Entries int
	BuiltAt time.Time
}
