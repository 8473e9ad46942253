package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLoginBudgetAndReset(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "alice", "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d should pass: %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "alice", "10.0.0.1"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.CheckLogin(ctx, "alice", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	// Same IP, other identifier: IP budget is exhausted too.
	if err := l.CheckLogin(ctx, "bob", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip rate limited, got %v", err)
	}

	if err := l.ResetLogin(ctx, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("expected reset budget, got %v", err)
	}

	for i := 0; i < 3; i++ {
		_ = l.IncrementLogin(ctx, "alice", "")
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      2,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "sid"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "sid"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "other"); err != nil {
		t.Fatalf("other session should pass: %v", err)
	}
}

func TestIncrementSetsWindowAtomically(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:        3,
		LoginCooldownDuration:   time.Minute,
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      5,
		RefreshCooldownDuration: 30 * time.Second,
	})
	ctx := context.Background()

	if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL(l.loginUserKey("alice")); ttl != time.Minute {
		t.Fatalf("expected a one minute window, got %v", ttl)
	}
	if err := l.CheckRefresh(ctx, "sid"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ttl := mr.TTL(l.refreshKey("sid")); ttl != 30*time.Second {
		t.Fatalf("expected a 30s refresh window, got %v", ttl)
	}

	// Later hits keep the window that the first hit opened.
	mr.FastForward(20 * time.Second)
	if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL(l.loginUserKey("alice")); ttl != 40*time.Second {
		t.Fatalf("window must not be extended, got %v", ttl)
	}
}

func TestIncrementRepairsCounterWithoutTTL(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	// A counter stranded without an expiry would lock the identifier out forever.
	key := l.loginUserKey("bob")
	if err := mr.Set(key, "7"); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	if err := l.IncrementLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected the window to be restored, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("expected the stranded counter to expire, got %v", err)
	}
}

func TestIncrementBackendUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	mr.Close()

	if err := l.IncrementLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected redis unavailable, got %v", err)
	}
}
