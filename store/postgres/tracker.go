package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN channel used by the schema triggers.
const NotifyChannel = "permission_cache_dirty"

// Tracker reads the dirty flag kept in permission_cache_state. The schema
// triggers set it on every write to the assignment tables.
type Tracker struct {
	pool *pgxpool.Pool
}

var (
	_ permcache.Tracker = (*Tracker)(nil)
	_ permcache.Watcher = (*Tracker)(nil)
)

// NewTracker returns a tracker on pool.
func NewTracker(pool *pgxpool.Pool) *Tracker {
	return &Tracker{pool: pool}
}

// MarkDirty sets the flag and advances updated_at, the same way the triggers do.
func (t *Tracker) MarkDirty(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, `SELECT permission_cache_touch()`); err != nil {
		return fmt.Errorf("store/postgres: mark dirty: %w", err)
	}
	return nil
}

// Begin reads the permission_cache_state row.
func (t *Tracker) Begin(ctx context.Context) (permcache.Mark, error) {
	var (
		mark      permcache.Mark
		updatedAt *time.Time
	)
	err := t.pool.QueryRow(ctx, `SELECT dirty, updated_at FROM permission_cache_state WHERE id`).Scan(&mark.Dirty, &updatedAt)
	if err != nil {
		return permcache.Mark{}, fmt.Errorf("store/postgres: read cache state: %w", err)
	}
	if updatedAt != nil {
		mark.UpdatedAt = *updatedAt
	}
	return mark, nil
}

// Clear resets the flag unless updated_at moved past mark.
func (t *Tracker) Clear(ctx context.Context, mark permcache.Mark) (bool, error) {
	tag, err := t.pool.Exec(ctx, `UPDATE permission_cache_state SET dirty = false
		WHERE id AND dirty AND updated_at <= $1`, mark.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("store/postgres: clear cache state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Watch holds one pooled connection on LISTEN and calls fn per notification
// until ctx is done.
func (t *Tracker) Watch(ctx context.Context, fn func()) error {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store/postgres: acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("store/postgres: listen: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+NotifyChannel)
	}()

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("store/postgres: wait for notification: %w", err)
		}
		fn()
	}
}
