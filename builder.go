package goAuthz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goAuthz/internal/rate"
	"github.com/MrEthical07/goAuthz/jwt"
	"github.com/MrEthical07/goAuthz/password"
	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/session"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder may be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	tracker      permcache.Tracker
	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	clock        clockwork.Clock

	built bool
}

// New returns a Builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Key material is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, rate limits and, unless
// WithTracker is given, the shared dirty tracker.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the assignment store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithTracker overrides the dirty tracker, for example with the Postgres
// tracker of store/postgres.
func (b *Builder) WithTracker(t permcache.Tracker) *Builder {
	b.tracker = t
	return b
}

// WithUserProvider enables Login. Without one, Login returns ErrEngineNotReady.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the sink that receives audit events when
// Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger. Nil falls back to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the wall clock for the refresher, sessions and tokens.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled overrides Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms overrides Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration, wires every component, primes
// the permission cache and starts the refresh loop. A cache that cannot be
// primed fails the build: the engine never serves from an empty snapshot.
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("assignment store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tracker := b.tracker
	if tracker == nil {
		tracker = permcache.NewRedisTracker(b.redis, cfg.Cache.RedisPrefix)
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		logger:       logger,
		clock:        clock,
		store:        b.store,
		tracker:      tracker,
		cache:        &permcache.Cache{},
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix, clock),
		userProvider: b.userProvider,
		metrics:      NewMetrics(cfg.Metrics),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink, logger),
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Prefix:                  cfg.Session.RedisPrefix,
		EnableIPThrottle:        cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
		MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
		MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
	})

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Clock:         clock,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.jwtManager = jm

	engine.refresher = permcache.NewRefresher(engine.cache, tracker, b.store.LoadGraph, permcache.Options{
		Interval: cfg.Cache.RefreshInterval,
		Clock:    clock,
		Logger:   logger,
		Observer: engine.observeRefresh,
	})
	if err := engine.refresher.Prime(ctx); err != nil {
		engine.audit.Close()
		return nil, fmt.Errorf("prime permission cache: %w", err)
	}

	engine.start(ctx)
	b.built = true

	logger.Info("authorization engine started",
		"snapshot_version", engine.cache.Load().Version(),
		"entries", engine.cache.Load().Len(),
		"refresh_interval", cfg.Cache.RefreshInterval,
	)
	return engine, nil
}
