package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/prometheus/client_golang/prometheus"
)

// Bridge forwards the dirty flag of a source tracker (the database) into a
// destination tracker (Redis) read by every engine replica.
type Bridge struct {
	source permcache.Tracker
	dest   permcache.Tracker
	logger *slog.Logger

	mu sync.Mutex

	forwarded prometheus.Counter
	failures  prometheus.Counter
	runs      prometheus.Counter
}

// NewBridge wires a bridge and registers its counters on reg when reg is
// not nil.
func NewBridge(source, dest permcache.Tracker, logger *slog.Logger, reg prometheus.Registerer) (*Bridge, error) {
	b := &Bridge{
		source: source,
		dest:   dest,
		logger: logger,
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goauthz_refresher_forwarded_total",
			Help: "Dirty marks forwarded from the database to the shared tracker.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goauthz_refresher_failures_total",
			Help: "Bridge runs that failed to read or forward the dirty flag.",
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goauthz_refresher_runs_total",
			Help: "Bridge runs, scheduled or notified.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{b.forwarded, b.failures, b.runs} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// Forward copies a set source flag to dest and then clears the source flag
// conditionally on the observed mark. A write landing in between keeps the
// source flag set for the next run.
func (b *Bridge) Forward(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs.Inc()

	mark, err := b.source.Begin(ctx)
	if err != nil {
		b.failures.Inc()
		return false, fmt.Errorf("read source: %w", err)
	}
	if !mark.Dirty {
		return false, nil
	}

	if err := b.dest.MarkDirty(ctx); err != nil {
		b.failures.Inc()
		return false, fmt.Errorf("mark destination: %w", err)
	}
	b.forwarded.Inc()

	cleared, err := b.source.Clear(ctx, mark)
	if err != nil {
		b.logger.Warn("source dirty flag not cleared", "error", err)
	} else if !cleared {
		b.logger.Debug("source written during forward; keeping flag")
	}
	return true, nil
}

func (b *Bridge) run(ctx context.Context, trigger string) {
	forwarded, err := b.Forward(ctx)
	if err != nil {
		b.logger.Error("forward failed", "trigger", trigger, "error", err)
		return
	}
	if forwarded {
		b.logger.Info("permission cache marked dirty", "trigger", trigger)
	}
}
