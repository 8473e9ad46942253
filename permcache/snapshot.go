package permcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/resolve"
	"github.com/google/uuid"
)

type entryKey struct {
	user uuid.UUID
	key  string
}

// Snapshot is an immutable view of every effective permission. It is safe for
// concurrent use and must not be modified after publication; returned
// FieldSets are shared and read-only.
type Snapshot struct {
	version    uint64
	builtAt    time.Time
	ordered    []permission.EffectivePermission
	entries    map[entryKey]int
	byUser     map[uuid.UUID][]permission.EffectivePermission
	superusers map[uuid.UUID]struct{}
}

// FromGraph resolves g and returns the resulting snapshot.
func FromGraph(g *permission.Graph, version uint64, builtAt time.Time) (*Snapshot, error) {
	return NewSnapshot(resolve.Resolve(g), resolve.Superusers(g), version, builtAt)
}

// NewSnapshot indexes entries. Two entries for the same (user, permission key)
// are rejected with ErrDuplicateEntry.
func NewSnapshot(entries []permission.EffectivePermission, superusers []uuid.UUID, version uint64, builtAt time.Time) (*Snapshot, error) {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, compareEntries)

	s := &Snapshot{
		version:    version,
		builtAt:    builtAt,
		ordered:    ordered,
		entries:    make(map[entryKey]int, len(ordered)),
		byUser:     make(map[uuid.UUID][]permission.EffectivePermission),
		superusers: make(map[uuid.UUID]struct{}, len(superusers)),
	}
	for i, e := range ordered {
		k := entryKey{user: e.UserID, key: e.PermissionKey}
		if _, dup := s.entries[k]; dup {
			return nil, fmt.Errorf("%w: user %s permission %q", ErrDuplicateEntry, e.UserID, e.PermissionKey)
		}
		s.entries[k] = i
	}
	// ordered is grouped by user, so each user gets a contiguous sub-slice.
	for start := 0; start < len(ordered); {
		end := start + 1
		for end < len(ordered) && ordered[end].UserID == ordered[start].UserID {
			end++
		}
		s.byUser[ordered[start].UserID] = ordered[start:end:end]
		start = end
	}
	for _, u := range superusers {
		s.superusers[u] = struct{}{}
	}
	return s, nil
}

func compareEntries(a, b permission.EffectivePermission) int {
	if c := bytes.Compare(a.UserID[:], b.UserID[:]); c != 0 {
		return c
	}
	switch {
	case a.PermissionKey < b.PermissionKey:
		return -1
	case a.PermissionKey > b.PermissionKey:
		return 1
	}
	return 0
}

// Get returns the entry for (userID, key).
func (s *Snapshot) Get(userID uuid.UUID, key string) (permission.EffectivePermission, bool) {
	if s == nil {
		return permission.EffectivePermission{}, false
	}
	i, ok := s.entries[entryKey{user: userID, key: key}]
	if !ok {
		return permission.EffectivePermission{}, false
	}
	return s.ordered[i], true
}

// ForUser returns the entries of one user ordered by permission key. The
// returned slice must not be modified.
func (s *Snapshot) ForUser(userID uuid.UUID) []permission.EffectivePermission {
	if s == nil {
		return nil
	}
	return s.byUser[userID]
}

// IsSuperuser reports whether userID holds a superuser role.
func (s *Snapshot) IsSuperuser(userID uuid.UUID) bool {
	if s == nil {
		return false
	}
	_, ok := s.superusers[userID]
	return ok
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}

// Version is incremented by every successful build of the owning refresher.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// BuiltAt is the clock time at which the snapshot was resolved.
func (s *Snapshot) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Encode returns a canonical byte encoding of the snapshot contents. Version
// and build time are excluded, so equal inputs always encode identically.
func (s *Snapshot) Encode() []byte {
	var buf bytes.Buffer
	if s == nil {
		return buf.Bytes()
	}

	putUvarint(&buf, uint64(len(s.ordered)))
	for _, e := range s.ordered {
		buf.Write(e.UserID[:])
		putString(&buf, e.PermissionKey)
		buf.Write(e.PermissionID[:])
		buf.Write(e.RoleID[:])
		putVarint(&buf, int64(e.RoleLevel))
		if e.Superuser {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		putString(&buf, string(e.Scope))
		putFieldSet(&buf, e.AllowFields)
		putFieldSet(&buf, e.DenyFields)
	}

	supers := make([]uuid.UUID, 0, len(s.superusers))
	for u := range s.superusers {
		supers = append(supers, u)
	}
	slices.SortFunc(supers, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	putUvarint(&buf, uint64(len(supers)))
	for _, u := range supers {
		buf.Write(u[:])
	}

	return buf.Bytes()
}

// Digest is the hex sha256 of Encode.
func (s *Snapshot) Digest() string {
	sum := sha256.Sum256(s.Encode())
	return hex.EncodeToString(sum[:])
}

func putFieldSet(buf *bytes.Buffer, fs permission.FieldSet) {
	var n uint64
	for _, src := range permission.Sources {
		if len(fs[src]) > 0 {
			n++
		}
	}
	putUvarint(buf, n)
	for _, src := range permission.Sources {
		names := fs[src]
		if len(names) == 0 {
			continue
		}
		putString(buf, string(src))
		putUvarint(buf, uint64(len(names)))
		for _, name := range names {
			putString(buf, name)
		}
	}
}

func putString(buf *bytes.Buffer, s string) {
	putUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func putVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutVarint(tmp[:], v)])
}
