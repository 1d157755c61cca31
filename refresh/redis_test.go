package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/gatekeep/clock"
)

func newRedisStore(t *testing.T, clk clock.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb, "gk", clk), mr
}

func TestRedisStoreSuite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clk *clock.Manual) Store {
		s, _ := newRedisStore(t, clk)
		return s
	})
}

func TestRedisStoreKeysExpireWithRecord(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s, mr := newRedisStore(t, clk)
	ctx := context.Background()

	rec := newRecord(clk, "t1", "u1")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !mr.Exists("gk:rt:t1") {
		t.Fatalf("expected record hash to exist")
	}
	if ttl := mr.TTL("gk:rt:t1"); ttl <= 0 || ttl > testRefreshTTL+time.Second {
		t.Fatalf("unexpected record ttl: %v", ttl)
	}

	mr.FastForward(testRefreshTTL + time.Second)
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisStoreFailsClosedWhenUnavailable(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s, mr := newRedisStore(t, clk)
	ctx := context.Background()

	if err := s.Create(ctx, newRecord(clk, "t1", "u1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	mr.Close()

	if _, err := s.Rotate(ctx, "t1", newRecord(clk, "t2", "u1")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
