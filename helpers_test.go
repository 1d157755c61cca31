package gatekeep

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = bytes.Repeat([]byte("k"), 32)

var testRoles = []string{"user", "moderator", "admin"}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = testSigningKey
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Store.SweepInterval = 0
	return cfg
}

func testClock() *clock.Manual {
	return clock.NewManual(time.Now().Truncate(time.Second))
}

func newTestEngine(tb testing.TB, cfg Config, clk *clock.Manual, opts ...func(*Builder)) *Engine {
	tb.Helper()

	b := New().
		WithConfig(cfg).
		WithClock(clk).
		WithRoles(testRoles...)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}
	tb.Cleanup(engine.Close)
	return engine
}

func newTestRedis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	tb.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}
