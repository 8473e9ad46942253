package permcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// DefaultInterval is the refresh tick period when none is configured.
const DefaultInterval = time.Minute

// Loader reads the full assignment graph from durable storage.
type Loader func(ctx context.Context) (*permission.Graph, error)

// Result describes one refresh cycle.
type Result struct {
	// Suppressed is set when another cycle was already running.
	Suppressed bool
	// Skipped is set when the tracker reported nothing to do.
	Skipped bool
	// Rebuilt is set when a new snapshot was published.
	Rebuilt bool
	// Dirty is set when the tracker reported dirty at the start of the cycle.
	Dirty bool
	// Cleared is set when the dirty flag was reset after the rebuild.
	Cleared  bool
	Snapshot *Snapshot
}

// Observer receives every completed or failed cycle.
type Observer func(res Result, elapsed time.Duration, err error)

// Options configures a [Refresher]. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Refresher rebuilds the snapshot of a [Cache] when its [Tracker] reports a change.
//
// At most one cycle runs at a time. Scheduled ticks that find a cycle in
// progress are dropped; Sync waits for it instead.
type Refresher struct {
	cache    *Cache
	tracker  Tracker
	load     Loader
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	lastStamp time.Time
	version   uint64

	flight  singleflight.Group
	reqSeq  atomic.Uint64
	doneSeq atomic.Uint64
	trigger chan struct{}
}

// NewRefresher wires a refresher. It does not build; call Prime or Sync.
func NewRefresher(cache *Cache, tracker Tracker, load Loader, opts Options) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Refresher{
		cache:    cache,
		tracker:  tracker,
		load:     load,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger,
		observer: opts.Observer,
		trigger:  make(chan struct{}, 1),
	}
}

// Interval returns the tick period.
func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// Prime performs an unconditional build and publishes it. A failure here
// leaves the cache empty and should be treated as fatal by the caller.
func (r *Refresher) Prime(ctx context.Context) error {
	_, err := r.Sync(ctx)
	return err
}

// Tick runs one cycle unless one is already in progress, in which case it
// returns a suppressed result immediately.
func (r *Refresher) Tick(ctx context.Context) (Result, error) {
	if !r.mu.TryLock() {
		res := Result{Suppressed: true, Snapshot: r.cache.Load()}
		r.observe(res, 0, nil)
		return res, nil
	}
	defer r.mu.Unlock()
	return r.cycle(ctx, false)
}

// Sync forces a rebuild that starts after the call and waits for it to be
// published, so the returned snapshot reflects every write committed before
// Sync was called. Concurrent callers share builds.
func (r *Refresher) Sync(ctx context.Context) (*Snapshot, error) {
	mine := r.reqSeq.Add(1)
	for {
		if r.doneSeq.Load() >= mine {
			return r.cache.Load(), nil
		}

		ch := r.flight.DoChan("sync", func() (any, error) {
			r.mu.Lock()
			defer r.mu.Unlock()

			upto := r.reqSeq.Load()
			res, err := r.cycle(context.WithoutCancel(ctx), true)
			if err != nil {
				return nil, err
			}
			r.doneSeq.Store(upto)
			return res.Snapshot, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		}
	}
}

// Trigger requests a cycle from Run without waiting for the next tick.
// Repeated triggers before the cycle starts are coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run drives cycles from the clock and from Trigger until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		case <-r.trigger:
		}
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("permission cache refresh failed", "error", err)
		}
	}
}

// cycle must be called with mu held.
func (r *Refresher) cycle(ctx context.Context, force bool) (Result, error) {
	start := r.clock.Now()

	mark, err := r.tracker.Begin(ctx)
	trackerOK := err == nil
	if !trackerOK {
		if !force {
			err = fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
			r.observe(Result{}, r.clock.Since(start), err)
			return Result{}, err
		}
		r.logger.Warn("dirty tracker unavailable; forcing rebuild", "error", err)
	}

	stale := force || mark.Dirty || mark.UpdatedAt.After(r.lastStamp)
	if !stale {
		res := Result{Skipped: true, Snapshot: r.cache.Load()}
		r.logger.Debug("permission cache clean; skipping refresh")
		r.observe(res, r.clock.Since(start), nil)
		return res, nil
	}

	snap, err := r.build(ctx)
	if err != nil {
		r.observe(Result{}, r.clock.Since(start), err)
		return Result{}, err
	}
	r.cache.Publish(snap)
	res := Result{Rebuilt: true, Dirty: trackerOK && mark.Dirty, Snapshot: snap}

	if trackerOK {
		r.lastStamp = mark.UpdatedAt
		if mark.Dirty {
			cleared, err := r.tracker.Clear(ctx, mark)
			if err != nil {
				r.logger.Warn("dirty flag not cleared", "error", err)
			}
			res.Cleared = cleared
		}
	}

	elapsed := r.clock.Since(start)
	r.logger.Debug("permission cache refreshed",
		"version", snap.Version(),
		"entries", snap.Len(),
		"cleared", res.Cleared,
		"elapsed", elapsed,
	)
	r.observe(res, elapsed, nil)
	return res, nil
}

func (r *Refresher) build(ctx context.Context) (snap *Snapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			snap = nil
			err = fmt.Errorf("%w: panic: %v", ErrBuildFailed, p)
		}
	}()

	g, err := r.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	snap, err = FromGraph(g, r.version+1, r.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	r.version++
	return snap, nil
}

func (r *Refresher) observe(res Result, elapsed time.Duration, err error) {
	if r.observer != nil {
		r.observer(res, elapsed, err)
	}
}
