package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is returned when the presented refresh hash is not the current one.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when the session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when the session is past its absolute expiry.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionCorrupt is returned when the stored session blob cannot be parsed.
var ErrSessionCorrupt = errors.New("session corrupt")

const (
	statusNotFound    int64 = 0
	statusExpired     int64 = 1
	statusMismatch    int64 = 2
	statusOK          int64 = 3
	statusInvalidBlob int64 = 4
)

// luaParseSession mirrors the layout documented in encoder.go (1-based offsets).
const luaParseSession = `
local function read_be64(s, i)
  local n = 0
  for j = i, i + 7 do
    local b = string.byte(s, j)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function parse_session(data)
  if #data < 50 or string.byte(data, 1) ~= 1 then
    return nil
  end
  local user_len = string.byte(data, 50)
  if #data ~= 50 + user_len then
    return nil
  end
  return {
    refresh_hash = string.sub(data, 2, 33),
    expires_at = read_be64(data, 42),
    user_id = string.sub(data, 51, 50 + user_len)
  }
end
`

const rotateScript = luaParseSession + `
local session_key = KEYS[1]
local user_prefix = ARGV[1]
local session_id = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])
local revoke_on_mismatch = ARGV[6] == "1"

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local parsed = parse_session(data)
if not parsed then
  return {4}
end
local user_key = user_prefix .. parsed.user_id

if parsed.expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", user_key, session_id)
  return {1}
end

if parsed.refresh_hash ~= provided_hash then
  if revoke_on_mismatch then
    redis.call("DEL", session_key)
    redis.call("SREM", user_key, session_id)
  end
  return {2}
end

local updated = string.sub(data, 1, 1) .. next_hash .. string.sub(data, 34)
local ttl = redis.call("PTTL", session_key)
if ttl > 0 then
  redis.call("SET", session_key, updated, "PX", ttl)
else
  redis.call("SET", session_key, updated)
end

return {3, updated}
`

const revokeScript = luaParseSession + `
local session_key = KEYS[1]
local user_prefix = ARGV[1]
local session_id = ARGV[2]
local provided_hash = ARGV[3]

local data = redis.call("GET", session_key)
if not data then
  return 0
end

local parsed = parse_session(data)
if not parsed then
  return 4
end

if parsed.refresh_hash ~= provided_hash then
  return 2
end

redis.call("DEL", session_key)
redis.call("SREM", user_prefix .. parsed.user_id, session_id)
return 3
`

const deleteScript = luaParseSession + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local parsed = parse_session(data)
if parsed then
  redis.call("SREM", ARGV[1] .. parsed.user_id, ARGV[2])
end
return 1
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
	deleteLua = redis.NewScript(deleteScript)
)

// Store is a Redis-backed session store with atomic refresh-hash rotation.
//
// Keys: "<prefix>:s:<session id>" holds the encoded session and
// "<prefix>:u:<user id>" is the set of the user's session ids.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	clock  clockwork.Clock
}

// NewStore creates a session [Store]. A nil clock uses the wall clock.
func NewStore(rdb redis.UniversalClient, prefix string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		redis:  rdb,
		prefix: prefix,
		clock:  clock,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

// Save persists sess with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get returns the session without modifying it. Expired sessions are reported
// as ErrSessionExpired and left for Redis to evict.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Join(redis.Nil, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID

	if sess.Expired(s.clock.Now().Unix()) {
		return nil, errors.Join(redis.Nil, ErrSessionExpired)
	}
	return sess, nil
}

// Rotate atomically replaces providedHash with nextHash. When the stored hash
// differs the session is deleted if revokeOnMismatch is set and
// ErrRefreshHashMismatch is returned either way.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash, nextHash [32]byte,
	revokeOnMismatch bool,
) (*Session, error) {
	revoke := "0"
	if revokeOnMismatch {
		revoke = "1"
	}

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.userPrefix(),
		sessionID,
		providedHash[:],
		nextHash[:],
		s.clock.Now().Unix(),
		revoke,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case statusNotFound:
		return nil, errors.Join(redis.Nil, ErrSessionNotFound)
	case statusExpired:
		return nil, errors.Join(redis.Nil, ErrSessionExpired)
	case statusMismatch:
		return nil, ErrRefreshHashMismatch
	case statusInvalidBlob:
		return nil, ErrSessionCorrupt
	case statusOK:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated session payload", ErrRedisUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated session payload", ErrRedisUnavailable)
		}
		sess, err := Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
		}
		sess.SessionID = sessionID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// Revoke deletes the session only if providedHash is the current refresh hash.
// A mismatch leaves the session untouched.
func (s *Store) Revoke(ctx context.Context, sessionID string, providedHash [32]byte) error {
	code, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.userPrefix(),
		sessionID,
		providedHash[:],
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch code {
	case statusOK:
		return nil
	case statusNotFound:
		return errors.Join(redis.Nil, ErrSessionNotFound)
	case statusMismatch:
		return ErrRefreshHashMismatch
	case statusInvalidBlob:
		return ErrSessionCorrupt
	default:
		return fmt.Errorf("%w: unknown revoke script status %d", ErrRedisUnavailable, code)
	}
}

// Delete removes a session unconditionally. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := deleteLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.userPrefix(), sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of a user.
//
// Not atomic with concurrent logins: a session saved between the index read
// and the delete survives until its own expiry.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionIDs returns the indexed session ids of a user. The index may
// briefly list sessions that Redis has already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := s.clock.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return s.clock.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.clock.Since(start), nil
}
