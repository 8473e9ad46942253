package permcache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Mark is the tracker state observed when a refresh cycle begins.
type Mark struct {
	Dirty     bool
	UpdatedAt time.Time
}

// Tracker is the authoritative staleness signal for the cache.
//
// Every MarkDirty strictly increases UpdatedAt. Clear resets the flag only if
// UpdatedAt has not advanced past mark.UpdatedAt, so a write that lands during
// a rebuild keeps the flag set for the next cycle.
type Tracker interface {
	MarkDirty(ctx context.Context) error
	Begin(ctx context.Context) (Mark, error)
	Clear(ctx context.Context, mark Mark) (bool, error)
}

// Watcher is implemented by trackers that push dirty notifications. Watch
// calls fn for every notification until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func()) error
}

// MemoryTracker is an in-process [Tracker].
type MemoryTracker struct {
	clock clockwork.Clock

	mu        sync.Mutex
	dirty     bool
	updatedAt time.Time
	watchers  []chan struct{}
}

var (
	_ Tracker = (*MemoryTracker)(nil)
	_ Watcher = (*MemoryTracker)(nil)
)

// NewMemoryTracker returns a clean tracker. A nil clock uses the wall clock.
func NewMemoryTracker(clock clockwork.Clock) *MemoryTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryTracker{clock: clock}
}

// MarkDirty sets the flag and advances UpdatedAt strictly past its previous
// value, then wakes every watcher without blocking.
func (t *MemoryTracker) MarkDirty(context.Context) error {
	t.mu.Lock()
	now := t.clock.Now()
	if !now.After(t.updatedAt) {
		now = t.updatedAt.Add(time.Nanosecond)
	}
	t.updatedAt = now
	t.dirty = true
	watchers := t.watchers
	t.mu.Unlock()

	for _, w := range watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return nil
}

// Begin returns the current flag and stamp.
func (t *MemoryTracker) Begin(context.Context) (Mark, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Mark{Dirty: t.dirty, UpdatedAt: t.updatedAt}, nil
}

// Clear resets the flag unless a MarkDirty landed after mark was taken.
func (t *MemoryTracker) Clear(_ context.Context, mark Mark) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.updatedAt.After(mark.UpdatedAt) {
		return false, nil
	}
	t.dirty = false
	return true, nil
}

// Watch delivers coalesced dirty notifications to fn until ctx is done.
func (t *MemoryTracker) Watch(ctx context.Context, fn func()) error {
	ch := make(chan struct{}, 1)

	t.mu.Lock()
	t.watchers = append(t.watchers, ch)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, w := range t.watchers {
			if w == ch {
				t.watchers = append(t.watchers[:i:i], t.watchers[i+1:]...)
				break
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			fn()
		}
	}
}
