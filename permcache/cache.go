// Package permcache serves effective permissions from an immutable snapshot
// and keeps it fresh against a dirty tracker.
//
// Readers call [Cache.Load] and never block on a rebuild. Writers mark the
// [Tracker] dirty. A [Refresher] rebuilds on its interval, on [Refresher.Trigger]
// or on [Refresher.Sync], publishes the new snapshot atomically, and clears the
// dirty flag only if no write happened after the rebuild started.
package permcache

import "sync/atomic"

// Cache holds the current snapshot.
type Cache struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil before the first publish.
func (c *Cache) Load() *Snapshot {
	return c.current.Load()
}

// Publish atomically replaces the current snapshot.
func (c *Cache) Publish(s *Snapshot) {
	c.current.Store(s)
}
