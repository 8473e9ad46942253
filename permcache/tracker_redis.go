package permcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// The timestamp is stored as separate second and microsecond fields so Lua
// never formats a number above 2^53.
const markDirtyScript = `
local now = redis.call("TIME")
local s = tonumber(now[1])
local us = tonumber(now[2])
local ps = tonumber(redis.call("HGET", KEYS[1], "updated_s") or "0")
local pus = tonumber(redis.call("HGET", KEYS[1], "updated_us") or "0")
if s < ps or (s == ps and us <= pus) then
  s = ps
  us = pus + 1
  if us >= 1000000 then
    s = s + 1
    us = 0
  end
end
redis.call("HSET", KEYS[1], "dirty", "1", "updated_s", s, "updated_us", us)
redis.call("PUBLISH", ARGV[1], "dirty")
return {s, us}
`

const clearScript = `
local s = tonumber(redis.call("HGET", KEYS[1], "updated_s") or "0")
local us = tonumber(redis.call("HGET", KEYS[1], "updated_us") or "0")
local ms = tonumber(ARGV[1])
local mus = tonumber(ARGV[2])
if s > ms or (s == ms and us > mus) then
  return 0
end
redis.call("HSET", KEYS[1], "dirty", "0")
return 1
`

var (
	markDirtyLua = redis.NewScript(markDirtyScript)
	clearLua     = redis.NewScript(clearScript)
)

// RedisTracker shares the dirty flag between processes through one Redis hash
// and announces marks on a pub/sub channel.
type RedisTracker struct {
	redis   redis.UniversalClient
	key     string
	channel string
}

var (
	_ Tracker = (*RedisTracker)(nil)
	_ Watcher = (*RedisTracker)(nil)
)

// NewRedisTracker uses "<prefix>:cache_state" and the "<prefix>:cache_dirty" channel.
func NewRedisTracker(rdb redis.UniversalClient, prefix string) *RedisTracker {
	return &RedisTracker{
		redis:   rdb,
		key:     prefix + ":cache_state",
		channel: prefix + ":cache_dirty",
	}
}

// MarkDirty sets the flag, advances the stamp from the Redis server clock and
// publishes on the trigger channel in one script.
func (t *RedisTracker) MarkDirty(ctx context.Context) error {
	if err := markDirtyLua.Run(ctx, t.redis, []string{t.key}, t.channel).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return nil
}

// Begin reads the flag and stamp. A missing hash reads as clean.
func (t *RedisTracker) Begin(ctx context.Context) (Mark, error) {
	vals, err := t.redis.HMGet(ctx, t.key, "dirty", "updated_s", "updated_us").Result()
	if err != nil {
		return Mark{}, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}

	var fields [3]int64
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return Mark{}, fmt.Errorf("%w: unexpected field type %T", ErrTrackerUnavailable, v)
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return Mark{}, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
		}
		fields[i] = n
	}

	mark := Mark{Dirty: fields[0] == 1}
	if fields[1] != 0 || fields[2] != 0 {
		mark.UpdatedAt = time.Unix(fields[1], fields[2]*int64(time.Microsecond))
	}
	return mark, nil
}

// Clear resets the flag unless the stored stamp advanced past mark.UpdatedAt.
func (t *RedisTracker) Clear(ctx context.Context, mark Mark) (bool, error) {
	var s, us int64
	if !mark.UpdatedAt.IsZero() {
		s = mark.UpdatedAt.Unix()
		us = int64(mark.UpdatedAt.Nanosecond()) / int64(time.Microsecond)
	}
	n, err := clearLua.Run(ctx, t.redis, []string{t.key}, s, us).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return n == 1, nil
}

// Watch subscribes to the dirty channel and calls fn per message until ctx is done.
func (t *RedisTracker) Watch(ctx context.Context, fn func()) error {
	sub := t.redis.Subscribe(ctx, t.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return errors.New("dirty channel subscription closed")
			}
			fn()
		}
	}
}
