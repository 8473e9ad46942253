package goAuthz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthz/internal/rate"
	"github.com/MrEthical07/goAuthz/jwt"
	"github.com/MrEthical07/goAuthz/password"
	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/session"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/jonboulle/clockwork"
)

// Engine answers authorization checks from the permission cache and runs the
// session and token lifecycle. Create one with [New] and [Builder.Build].
//
// All methods are safe for concurrent use. Close stops the background
// refresher and drains the audit dispatcher.
type Engine struct {
	config Config
	logger *slog.Logger
	clock  clockwork.Clock

	store     store.Store
	tracker   permcache.Tracker
	cache     *permcache.Cache
	refresher *permcache.Refresher

	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	userProvider UserProvider

	audit   *auditDispatcher
	metrics *Metrics

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ store.Notifier = (*Engine)(nil)

// Close stops the refresh loop and the tracker watcher, waits for them to
// exit, then flushes pending audit events. An in-flight rebuild is abandoned.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.clock.Since(start))
}

/*
====================================
PERMISSION CACHE
====================================
*/

// Snapshot returns the currently published permission snapshot. It never
// blocks on a rebuild.
func (e *Engine) Snapshot() *permcache.Snapshot {
	return e.cache.Load()
}

// CacheStats describes the published snapshot.
func (e *Engine) CacheStats() CacheStats {
	if e == nil || e.cache == nil {
		return CacheStats{}
	}
	snap := e.cache.Load()
	return CacheStats{
		Version: snap.Version(),
		Entries: snap.Len(),
		BuiltAt: snap.BuiltAt(),
	}
}

// Sync blocks until a snapshot reflecting every write committed before the
// call is published. Use it when a caller must read its own writes.
func (e *Engine) Sync(ctx context.Context) (*permcache.Snapshot, error) {
	return e.refresher.Sync(ctx)
}

// RefreshNow requests an immediate refresh cycle without waiting for it.
func (e *Engine) RefreshNow() {
	e.refresher.Trigger()
}

// MarkDirty flags the permission cache stale. Writes made through
// [Engine.Assignments] call it automatically; call it directly after
// writing to the store by other means.
func (e *Engine) MarkDirty(ctx context.Context) error {
	if err := e.tracker.MarkDirty(ctx); err != nil {
		e.metricInc(MetricCacheMarkFailure)
		e.logger.Warn("permission cache mark dirty failed", "error", err)
		return err
	}
	return nil
}

// Assignments returns the store's write surface wrapped so that every
// successful mutation marks the cache dirty and, with
// Cache.RefreshOnMutation, triggers an immediate refresh.
func (e *Engine) Assignments() store.Writer {
	var hooks []func()
	if e.config.Cache.RefreshOnMutation {
		hooks = append(hooks, e.refresher.Trigger)
	}
	return store.Notifying(e.store, e, hooks...)
}

// Store returns the underlying assignment store for read queries.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) observeRefresh(res permcache.Result, elapsed time.Duration, err error) {
	switch {
	case err != nil:
		e.metricInc(MetricCacheRefreshFailure)
	case res.Suppressed:
		e.metricInc(MetricCacheSuppressed)
	case res.Skipped:
		e.metricInc(MetricCacheSkipped)
	case res.Rebuilt:
		e.metricInc(MetricCacheRebuilt)
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricCacheRebuildLatency, elapsed)
		}
		if res.Dirty && !res.Cleared {
			e.metricInc(MetricCacheClearConflict)
		}
	}
}

func (e *Engine) start(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.refresher.Run(ctx)
	}()

	if !e.config.Cache.WatchTracker {
		return
	}
	watcher, ok := e.tracker.(permcache.Watcher)
	if !ok {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watch(ctx, watcher)
	}()
}

// watch resubscribes after transient failures until ctx is done.
func (e *Engine) watch(ctx context.Context, w permcache.Watcher) {
	const retry = time.Second
	for {
		err := w.Watch(ctx, e.refresher.Trigger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Warn("permission cache watch failed; retrying", "error", err, "retry", retry)
		}
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(retry):
		}
	}
}
