package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisTracker(rdb, "authz"), mr
}

func TestRedisTrackerInitialState(t *testing.T) {
	tr, _ := newRedisTracker(t)
	mark, err := tr.Begin(context.Background())
	require.NoError(t, err)
	assert.False(t, mark.Dirty)
	assert.True(t, mark.UpdatedAt.IsZero())
}

func TestRedisTrackerMarksStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedisTracker(t)
	mr.SetTime(time.Unix(1_800_000_000, 999_999_000))

	require.NoError(t, tr.MarkDirty(ctx))
	first, err := tr.Begin(ctx)
	require.NoError(t, err)
	require.True(t, first.Dirty)

	// Frozen server time: the second mark still moves forward.
	require.NoError(t, tr.MarkDirty(ctx))
	second, err := tr.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestRedisTrackerConditionalClear(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedisTracker(t)
	mr.SetTime(time.Unix(1_800_000_000, 0))

	require.NoError(t, tr.MarkDirty(ctx))
	mark, err := tr.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.MarkDirty(ctx))
	cleared, err := tr.Clear(ctx, mark)
	require.NoError(t, err)
	assert.False(t, cleared)

	latest, err := tr.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Dirty)

	cleared, err = tr.Clear(ctx, latest)
	require.NoError(t, err)
	assert.True(t, cleared)

	state, err := tr.Begin(ctx)
	require.NoError(t, err)
	assert.False(t, state.Dirty)
	assert.Equal(t, latest.UpdatedAt, state.UpdatedAt)
}

func TestRedisTrackerDrivesRefresher(t *testing.T) {
	ctx := context.Background()
	tr, _ := newRedisTracker(t)
	gs := newGraphStore()
	cache := &Cache{}
	r := NewRefresher(cache, tr, gs.load, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, r.Prime(ctx))

	gs.assign(userU, roleAdmin.ID)
	require.NoError(t, tr.MarkDirty(ctx))

	res, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.True(t, res.Cleared)
	assert.True(t, cache.Load().IsSuperuser(userU))

	res, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestRedisTrackerWatch(t *testing.T) {
	tr, _ := newRedisTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan struct{}, 4)
	go func() {
		_ = tr.Watch(ctx, func() { got <- struct{}{} })
	}()

	// The subscription is asynchronous: keep marking until one arrives.
	require.Eventually(t, func() bool {
		_ = tr.MarkDirty(context.Background())
		select {
		case <-got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
