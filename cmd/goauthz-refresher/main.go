// Command goauthz-refresher forwards database-side permission changes to the
// shared Redis dirty tracker.
//
// Writes made directly in Postgres (migrations, admin SQL, other services)
// fire the schema triggers but never reach engines that track staleness in
// Redis. The refresher polls permission_cache_state on a cron schedule and,
// unless disabled, listens for trigger notifications, then marks the Redis
// tracker dirty so every replica rebuilds on its next tick.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Config is read from GOAUTHZ_* environment variables.
type Config struct {
	PGDSN        string        `envconfig:"PG_DSN" required:"true"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPrefix  string        `envconfig:"CACHE_REDIS_PREFIX" default:"authz"`
	Schedule     string        `envconfig:"SCHEDULE" default:"@every 30s"`
	Listen       bool          `envconfig:"LISTEN" default:"true"`
	RetryDelay   time.Duration `envconfig:"LISTEN_RETRY" default:"5s"`
	EnsureSchema bool          `envconfig:"ENSURE_SCHEMA" default:"false"`
	MetricsAddr  string        `envconfig:"METRICS_ADDR" default:""`
	LogFormat    string        `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel     slog.Level    `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("goauthz", &cfg); err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.RedisPrefix == "" {
		return nil, errors.New("cache redis prefix must not be empty")
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("refresher stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.EnsureSchema {
		if err := postgres.New(pool).EnsureSchema(ctx); err != nil {
			return err
		}
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	source := postgres.NewTracker(pool)
	reg := prometheus.NewRegistry()
	bridge, err := NewBridge(source, permcache.NewRedisTracker(rdb, cfg.RedisPrefix), logger, reg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Forward anything written while the refresher was down.
	bridge.run(ctx, "startup")

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, func() { bridge.run(ctx, "schedule") }); err != nil {
		return fmt.Errorf("schedule bridge: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	logger.Info("goauthz refresher started",
		"schedule", cfg.Schedule,
		"listen", cfg.Listen,
		"redis_prefix", cfg.RedisPrefix,
	)

	if cfg.Listen {
		listen(ctx, source, bridge, cfg.RetryDelay, logger)
	} else {
		<-ctx.Done()
	}
	logger.Info("goauthz refresher shutting down")
	return nil
}

// listen holds a LISTEN connection until ctx is done, reconnecting after
// failures.
func listen(ctx context.Context, w permcache.Watcher, b *Bridge, retry time.Duration, logger *slog.Logger) {
	for {
		err := w.Watch(ctx, func() { b.run(ctx, "notify") })
		if ctx.Err() != nil {
			return
		}
		logger.Warn("listen interrupted; retrying", "error", err, "retry", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
