// Command gatekeep-loadtest measures login, verify, refresh and pipeline
// throughput against a chosen refresh store backend.
//
//	gatekeep-loadtest -backend memory
//	gatekeep-loadtest -backend redis -redis-addr localhost:6379
//	gatekeep-loadtest -backend postgres -postgres-dsn postgres://...
//
// Without -redis-addr (or REDIS_ADDR) the redis backend runs on miniredis.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/gatekeep"
	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type subjectState struct {
	mu      sync.Mutex
	subject string
	access  string
	refresh string
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to log in")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		backend     = flag.String("backend", "memory", "refresh store backend: memory, redis or postgres")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		postgresDSN = flag.String("postgres-dsn", "", "postgres DSN for -backend postgres")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	engine, cleanup, err := buildEngine(ctx, *backend, *redisAddr, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	states := make([]subjectState, *subjects)
	fmt.Printf("logging in %d subjects...\n", *subjects)
	loginStats := runPhase(ctx, *subjects, *concurrency, func(ctx context.Context, _ *rand.Rand, i int) error {
		st := &states[i]
		st.subject = fmt.Sprintf("subject-%d", i)
		pair, err := engine.Login(ctx, st.subject, "user")
		if err != nil {
			return err
		}
		st.access, st.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})

	verifyStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		_, err := engine.Verify(ctx, st.access)
		return err
	})

	route, err := engine.Route("api", "user")
	if err != nil {
		fmt.Fprintf(os.Stderr, "route: %v\n", err)
		os.Exit(1)
	}
	handleStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, r *rand.Rand, i int) error {
		st := &states[r.Intn(len(states))]
		_, err := engine.Handle(ctx, &gatekeep.Request{
			Route:         route,
			ClientKey:     fmt.Sprintf("10.0.%d.%d", i%250, r.Intn(250)),
			Authorization: "Bearer " + st.access,
		})
		return err
	})

	refreshStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Refresh(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.access, st.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("verify", verifyStats)
	printStats("handle", handleStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("replays=%d rate_limited=%d unavailable=%d\n",
		snap.Counters[gatekeep.MetricRefreshReplayDetected],
		snap.Counters[gatekeep.MetricRateLimitHit],
		snap.Counters[gatekeep.MetricBackendUnavailable],
	)
}

func buildEngine(ctx context.Context, backend, redisAddr, dsn string) (*gatekeep.Engine, func(), error) {
	cfg := gatekeep.DefaultConfig()
	cfg.Token.PrivateKey = bytes.Repeat([]byte("l"), 32)
	cfg.Token.KeyID = "loadtest"
	cfg.Store.Backend = backend
	cfg.Store.SweepInterval = 0
	cfg.RateLimit.Classes[gatekeep.DefaultRateClass] = gatekeep.RateRule{Limit: 1 << 20, Window: time.Minute}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	b := gatekeep.New().WithRoles("user")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch backend {
	case "memory":
	case "redis":
		addr := redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, cleanup, fmt.Errorf("start miniredis: %w", err)
			}
			closers = append(closers, mr.Close)
			addr = mr.Addr()
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		closers = append(closers, func() { _ = client.Close() })
		cfg.RateLimit.Backend = "redis"
		b.WithRedis(client)
	case "postgres":
		if dsn == "" {
			return nil, cleanup, fmt.Errorf("-postgres-dsn is required for the postgres backend")
		}
		db, err := openMigrated(ctx, dsn)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = db.Close() })
		b.WithPostgres(db)
	default:
		return nil, cleanup, fmt.Errorf("unknown backend %q", backend)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, engine.Close)
	return engine, cleanup, nil
}

func openMigrated(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := refresh.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := refresh.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
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

// runPhase executes op n times across concurrency workers. Failures are
// counted, not fatal.
func runPhase(ctx context.Context, n, concurrency int, op func(context.Context, *rand.Rand, int) error) phaseStats {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, n)
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		seed := time.Now().UnixNano() + int64(w)*7919
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return nil
				}
				t0 := time.Now()
				if err := op(ctx, r, i); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				latencies[i] = time.Since(t0)
			}
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
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
