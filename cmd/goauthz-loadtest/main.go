// Command goauthz-loadtest measures Authorize and Refresh throughput of an
// Engine backed by the in-memory store and Redis (or miniredis).
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	goAuthz "github.com/MrEthical07/goAuthz"
	"github.com/MrEthical07/goAuthz/permcache"
	"github.com/MrEthical07/goAuthz/permission"
	"github.com/MrEthical07/goAuthz/store"
	"github.com/MrEthical07/goAuthz/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const fingerprint = "loadtest"

type sessionState struct {
	mu      sync.Mutex
	refresh string
}

type fixture struct {
	users []uuid.UUID
	keys  []string
	roles []permission.Role
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to assign")
		roles       = flag.Int("roles", 20, "number of roles")
		perms       = flag.Int("permissions", 200, "number of catalog permissions")
		sessions    = flag.Int("sessions", 2000, "number of sessions to issue")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		churn       = flag.Duration("churn", 5*time.Millisecond, "interval between writes during the churn phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *roles <= 0 || *perms <= 0 || *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, roles, permissions, sessions, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goAuthz.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("l"), 32)
	cfg.Security.EnableRefreshThrottle = false
	cfg.Cache.RefreshInterval = time.Second

	engine, err := goAuthz.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(memory.New()).
		WithTracker(permcache.NewMemoryTracker(nil)).
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users, %d roles, %d permissions...\n", *users, *roles, *perms)
	startSeed := time.Now()
	fx, err := seed(ctx, engine, *users, *roles, *perms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	snap, err := engine.Sync(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s, snapshot v%d with %d entries\n",
		time.Since(startSeed).Round(time.Millisecond), snap.Version(), snap.Len())

	states := make([]sessionState, *sessions)
	for i := range states {
		tokens, err := engine.IssueTokens(ctx, fx.users[i%len(fx.users)], fingerprint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue tokens failed: %v\n", err)
			os.Exit(1)
		}
		states[i].refresh = tokens.RefreshToken
	}

	authorizeStats := runAuthorizePhase(ctx, engine, fx, *ops, *concurrency)

	stop := make(chan struct{})
	var writes atomic.Int64
	go churnWrites(ctx, engine, fx, *churn, stop, &writes)
	churnStats := runAuthorizePhase(ctx, engine, fx, *ops, *concurrency)
	close(stop)

	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("authorize+churn", churnStats)
	printStats("refresh", refreshStats)
	fmt.Printf("churn writes=%d final snapshot v%d\n", writes.Load(), engine.CacheStats().Version)
}

func seed(ctx context.Context, engine *goAuthz.Engine, users, roles, perms int) (fixture, error) {
	w := engine.Assignments()
	var fx fixture

	specs := make([]permission.Spec, perms)
	for i := range specs {
		specs[i] = permission.Spec{
			Resource:  fmt.Sprintf("res%d", i/4),
			Action:    []permission.Action{permission.ActionRead, permission.ActionCreate, permission.ActionUpdate, permission.ActionDelete}[i%4],
			Operation: "default",
			Fields:    map[permission.Source][]string{permission.SourceJSON: {"name", "secret"}},
		}
		fx.keys = append(fx.keys, specs[i].Key())
	}
	if _, err := w.SyncCatalog(ctx, specs); err != nil {
		return fx, err
	}
	g, err := engine.Store().LoadGraph(ctx)
	if err != nil {
		return fx, err
	}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < roles; i++ {
		role, err := w.CreateRole(ctx, store.CreateRoleInput{Name: fmt.Sprintf("role%d", i), Level: r.Intn(100)})
		if err != nil {
			return fx, err
		}
		fx.roles = append(fx.roles, role)
		for _, p := range g.Permissions {
			if r.Intn(3) != 0 {
				continue
			}
			scope := permission.ScopeAny
			if r.Intn(2) == 0 {
				scope = permission.ScopeOwn
			}
			if err := w.GrantPermission(ctx, store.GrantInput{RoleID: role.ID, PermissionID: p.ID, Scope: scope}); err != nil {
				return fx, err
			}
		}
	}

	for i := 0; i < users; i++ {
		u := uuid.New()
		fx.users = append(fx.users, u)
		for j := 0; j < 1+r.Intn(3); j++ {
			err := w.AssignRole(ctx, u, fx.roles[r.Intn(len(fx.roles))].ID)
			if err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fx, err
			}
		}
	}
	return fx, nil
}

func churnWrites(ctx context.Context, engine *goAuthz.Engine, fx fixture, every time.Duration, stop <-chan struct{}, writes *atomic.Int64) {
	w := engine.Assignments()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		u := fx.users[r.Intn(len(fx.users))]
		role := fx.roles[r.Intn(len(fx.roles))]
		if err := w.AssignRole(ctx, u, role.ID); err == nil {
			writes.Add(1)
		}
	}
}

func runAuthorizePhase(ctx context.Context, engine *goAuthz.Engine, fx fixture, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	body := map[string]any{"name": "x"}
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				u := fx.users[r.Intn(len(fx.users))]
				t0 := time.Now()
				_, err := engine.Authorize(ctx, goAuthz.AccessRequest{
					UserID:     u,
					Permission: fx.keys[r.Intn(len(fx.keys))],
					OwnerID:    u,
					Body:       body,
				})
				d := time.Since(t0)
				// Denials are expected; only non-authorization errors count.
				if err != nil && !isForbidden(err) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *goAuthz.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				_, next, err := engine.Refresh(ctx, state.refresh, fingerprint)
				d := time.Since(t0)
				if err == nil {
					state.refresh = next
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func isForbidden(err error) bool {
	return errors.Is(err, goAuthz.ErrForbidden)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
