package gatekeep

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/gatekeep/internal"
	"github.com/MrEthical07/gatekeep/refresh"
)

func TestLoginExpireRefreshEndToEnd(t *testing.T) {
	clk := testClock()
	engine := newTestEngine(t, testConfig(), clk)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(clk.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}

	route, err := engine.Route("api", "user", "admin")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	req := &Request{Route: route, ClientKey: "203.0.113.1", Authorization: "Bearer " + pair.AccessToken}

	res, err := engine.Handle(ctx, req)
	if err != nil {
		t.Fatalf("handle before expiry: %v", err)
	}
	if res.Claims == nil || res.Claims.Subject != "u1" {
		t.Fatalf("expected claims for u1, got %+v", res.Claims)
	}

	clk.Advance(16 * time.Minute)

	res, err = engine.Handle(ctx, req)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", HTTPStatus(err))
	}
	if res.Stage != StageVerification {
		t.Fatalf("expected rejection at verification, got %q", res.Stage)
	}

	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	req.Authorization = "Bearer " + next.AccessToken
	if _, err := engine.Handle(ctx, req); err != nil {
		t.Fatalf("handle after refresh: %v", err)
	}
}

func TestRefreshReplayRevokesLineage(t *testing.T) {
	clk := testClock()
	engine := newTestEngine(t, testConfig(), clk)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	_, err = engine.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	if HTTPStatus(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", HTTPStatus(err))
	}
	if PublicMessage(err) != "invalid or expired session" {
		t.Fatalf("unexpected public message %q", PublicMessage(err))
	}

	_, err = engine.Refresh(ctx, second.RefreshToken)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("successor must be revoked after replay, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReplayDetected] != 1 {
		t.Fatalf("expected 1 replay, got %d", snap.Counters[MetricRefreshReplayDetected])
	}
	if snap.Counters[MetricRefreshRevoked] != 1 {
		t.Fatalf("expected 1 revoked, got %d", snap.Counters[MetricRefreshRevoked])
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	engine := newTestEngine(t, testConfig(), testClock())
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", successes)
	}
	for _, err := range others {
		if !errors.Is(err, ErrReplayDetected) && !errors.Is(err, ErrRevoked) {
			t.Fatalf("unexpected loser error %v", err)
		}
	}
}

func TestRefreshRejections(t *testing.T) {
	clk := testClock()
	engine := newTestEngine(t, testConfig(), clk)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := engine.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind for access token, got %v", err)
	}
	if _, err := engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	clk.Advance(7*24*time.Hour + time.Second)
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", HTTPStatus(err))
	}
}

func TestRefreshUnknownRecordIsNotFound(t *testing.T) {
	clk := testClock()
	store := refresh.NewMemoryStore(clk)
	engine := newTestEngine(t, testConfig(), clk, func(b *Builder) { b.WithRefreshStore(store) })
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := engine.codec.Decode(pair.RefreshToken)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A second engine with an empty store sees a validly signed token
	// whose record does not exist.
	other := newTestEngine(t, testConfig(), clk)
	_, err = other.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrNotFound) || HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected ErrNotFound/401, got %v", err)
	}

	if _, err := store.Get(ctx, claims.TokenID); err != nil {
		t.Fatalf("record should exist in the first store: %v", err)
	}
}

func TestRotateByTokenID(t *testing.T) {
	engine := newTestEngine(t, testConfig(), testClock())
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "moderator")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := engine.codec.Decode(pair.RefreshToken)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	next, err := engine.Rotate(ctx, claims.TokenID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	access, err := engine.Verify(ctx, next.AccessToken)
	if err != nil {
		t.Fatalf("verify rotated access: %v", err)
	}
	if access.Subject != "u1" || access.Role != "moderator" {
		t.Fatalf("rotation must keep subject and role, got %+v", access)
	}

	if _, err := engine.Rotate(ctx, claims.TokenID); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay on second rotate, got %v", err)
	}
	if _, err := engine.Rotate(ctx, "missing"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for a foreign id, got %v", err)
	}
	unknown, err := internal.NewTokenID()
	if err != nil {
		t.Fatalf("token id: %v", err)
	}
	if _, err := engine.Rotate(ctx, unknown.String()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.Rotate(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLoginValidation(t *testing.T) {
	engine := newTestEngine(t, testConfig(), testClock())
	ctx := context.Background()

	_, err := engine.Login(ctx, "u1", "root")
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", HTTPStatus(err))
	}
	if _, err := engine.Login(ctx, "", "user"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 2 {
		t.Fatalf("expected 2 login failures, got %d", got)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	clk := testClock()
	engine := newTestEngine(t, testConfig(), clk)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after logout, got %v", err)
	}

	if err := engine.Logout(ctx, "garbage"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if err := engine.Logout(ctx, pair.AccessToken); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}

	other, err := engine.Login(ctx, "u2", "user")
	if err != nil {
		t.Fatalf("login u2: %v", err)
	}
	clk.Advance(8 * 24 * time.Hour)
	if err := engine.Logout(ctx, other.RefreshToken); err != nil {
		t.Fatalf("logout of an expired token should succeed, got %v", err)
	}
}

func TestLogoutAllRevokesEveryLineage(t *testing.T) {
	engine := newTestEngine(t, testConfig(), testClock())
	ctx := context.Background()

	first, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	bystander, err := engine.Login(ctx, "u2", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := engine.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := engine.Refresh(ctx, tok); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked, got %v", err)
		}
	}
	if _, err := engine.Refresh(ctx, bystander.RefreshToken); err != nil {
		t.Fatalf("other subjects must be unaffected: %v", err)
	}
	if err := engine.LogoutAll(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	engine := newTestEngine(t, testConfig(), testClock())

	claims := &Claims{Subject: "u1", Role: "moderator"}
	if err := engine.Authorize(claims, "moderator", "admin"); err != nil {
		t.Fatalf("moderator should pass: %v", err)
	}
	if err := engine.Authorize(claims, "admin"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := engine.Authorize(claims); !errors.Is(err, ErrForbidden) {
		t.Fatalf("empty role set must forbid, got %v", err)
	}
	if err := engine.Authorize(nil, "admin"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := engine.Authorize(claims, "nope"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestAuditEventsForRefreshReplay(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(16)
	engine := newTestEngine(t, cfg, testClock(), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = engine.Refresh(ctx, pair.RefreshToken)

	want := []string{"login_success", "refresh_success", "refresh_replay_detected"}
	for i, typ := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != typ {
				t.Fatalf("event %d: expected %s, got %s", i, typ, ev.EventType)
			}
			if ev.ClientKey != "203.0.113.9" {
				t.Fatalf("event %d: expected client ip, got %q", i, ev.ClientKey)
			}
			if typ == "refresh_replay_detected" && (ev.Success || ev.Error != "replay_detected") {
				t.Fatalf("unexpected replay event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestRedisBackedEngineFailsClosed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Store.Backend = "redis"
	cfg.RateLimit.Backend = "redis"
	cfg.Store.Timeout = 500 * time.Millisecond
	engine := newTestEngine(t, cfg, testClock(), func(b *Builder) { b.WithRedis(rdb) })
	ctx := context.Background()

	pair, err := engine.Login(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay on redis store, got %v", err)
	}

	route, err := engine.Route("api")
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	mr.Close()

	_, err = engine.Refresh(ctx, next.RefreshToken)
	if !errors.Is(err, ErrUnavailable) || HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected ErrUnavailable/503 from store, got %v", err)
	}

	res, err := engine.Handle(ctx, &Request{Route: route, ClientKey: "203.0.113.1", Authorization: next.AccessToken})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("admission must fail closed, got %v", err)
	}
	if res.Stage != StageAdmission || res.RateLimit == nil || res.RateLimit.Allowed {
		t.Fatalf("unexpected result %+v", res)
	}
	if engine.MetricsSnapshot().Counters[MetricBackendUnavailable] < 2 {
		t.Fatal("expected backend unavailable to be counted")
	}
}

type blockingStore struct {
	refresh.Store
}

func (blockingStore) Create(ctx context.Context, _ refresh.Record) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	clk := testClock()
	cfg := testConfig()
	cfg.Store.Timeout = 20 * time.Millisecond
	store := blockingStore{Store: refresh.NewMemoryStore(clk)}
	engine := newTestEngine(t, cfg, clk, func(b *Builder) { b.WithRefreshStore(store) })

	_, err := engine.Login(context.Background(), "u1", "user")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on store timeout, got %v", err)
	}
}

func TestSweepRemovesExpiredRecords(t *testing.T) {
	clk := testClock()
	engine := newTestEngine(t, testConfig(), clk)
	ctx := context.Background()

	if _, err := engine.Login(ctx, "u1", "user"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.Admit(ctx, "api", "203.0.113.1"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	n, err := engine.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing should be swept yet, got %d, %v", n, err)
	}

	clk.Advance(8 * 24 * time.Hour)
	n, err = engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept record, got %d", n)
	}
	if engine.memRate.Len() != 0 {
		t.Fatalf("expected idle rate windows to be swept, got %d", engine.memRate.Len())
	}
	if got := engine.MetricsSnapshot().Counters[MetricRefreshSwept]; got != 1 {
		t.Fatalf("expected swept metric 1, got %d", got)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SweepInterval = 5 * time.Millisecond
	engine := newTestEngine(t, cfg, testClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestSweepKeepsRateWindowsWithLiveStamps(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Classes = map[string]RateRule{
		DefaultRateClass: {Limit: 2, Window: time.Hour},
	}
	cfg.RateLimit.IdleTTL = 10 * time.Minute
	clk := testClock()
	engine := newTestEngine(t, cfg, clk)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 6; i++ {
		_, err := engine.Admit(ctx, DefaultRateClass, "203.0.113.9")
		switch {
		case err == nil:
			admitted++
		case !errors.Is(err, ErrRateLimited):
			t.Fatalf("admit: %v", err)
		}
		clk.Advance(11 * time.Minute)
		if _, err := engine.Sweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	if admitted != 2 {
		t.Fatalf("admitted %d requests within one window, limit is 2", admitted)
	}
}
