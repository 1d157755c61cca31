package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
)

const testRefreshTTL = 7 * 24 * time.Hour

func newRecord(clk clock.Clock, id, subject string) Record {
	now := clk.Now().Truncate(time.Second)
	return Record{
		TokenID:   id,
		Subject:   subject,
		Role:      "user",
		IssuedAt:  now,
		ExpiresAt: now.Add(testRefreshTTL),
	}
}

type storeFactory func(t *testing.T, clk *clock.Manual) Store

// runStoreSuite exercises the behaviour every Store backend must share.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		rec := newRecord(clk, "t1", "u1")
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := s.Create(ctx, rec); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		got, err := s.Get(ctx, "t1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Subject != "u1" || got.Role != "user" || got.State != StateActive {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !got.ExpiresAt.Equal(rec.ExpiresAt) {
			t.Fatalf("expected expiry %v, got %v", rec.ExpiresAt, got.ExpiresAt)
		}

		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RotateLinksSuccessor", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		if err := s.Create(ctx, newRecord(clk, "t1", "u1")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		clk.Advance(time.Minute)

		rotated, err := s.Rotate(ctx, "t1", newRecord(clk, "t2", "u1"))
		if err != nil {
			t.Fatalf("rotate failed: %v", err)
		}
		if rotated.State != StateRotated || rotated.SuccessorID != "t2" || rotated.Subject != "u1" {
			t.Fatalf("unexpected rotated record: %+v", rotated)
		}

		succ, err := s.Get(ctx, "t2")
		if err != nil {
			t.Fatalf("get successor failed: %v", err)
		}
		if succ.State != StateActive {
			t.Fatalf("expected active successor, got %v", succ.State)
		}
	})

	t.Run("ReplayRevokesLineage", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		if err := s.Create(ctx, newRecord(clk, "t1", "u1")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := s.Rotate(ctx, "t1", newRecord(clk, "t2", "u1")); err != nil {
			t.Fatalf("first rotate failed: %v", err)
		}
		if _, err := s.Rotate(ctx, "t2", newRecord(clk, "t3", "u1")); err != nil {
			t.Fatalf("second rotate failed: %v", err)
		}

		if _, err := s.Rotate(ctx, "t1", newRecord(clk, "t4", "u1")); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("expected ErrReplayDetected, got %v", err)
		}

		for _, id := range []string{"t1", "t2", "t3"} {
			rec, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("get %s failed: %v", id, err)
			}
			if rec.State != StateRevoked {
				t.Fatalf("expected %s revoked, got %v", id, rec.State)
			}
		}
		if _, err := s.Get(ctx, "t4"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("replay must not register a successor, got %v", err)
		}

		if _, err := s.Rotate(ctx, "t3", newRecord(clk, "t5", "u1")); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked for descendant, got %v", err)
		}
	})

	t.Run("RotateMissingAndExpired", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		if _, err := s.Rotate(ctx, "nope", newRecord(clk, "t2", "u1")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		rec := newRecord(clk, "t1", "u1")
		rec.ExpiresAt = rec.IssuedAt.Add(time.Hour)
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		clk.Set(rec.ExpiresAt)
		if _, err := s.Rotate(ctx, "t1", newRecord(clk, "t3", "u1")); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	})

	t.Run("RevokeAndSubject", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		for _, id := range []string{"a1", "a2", "a3"} {
			if err := s.Create(ctx, newRecord(clk, id, "alice")); err != nil {
				t.Fatalf("create %s failed: %v", id, err)
			}
		}
		if err := s.Create(ctx, newRecord(clk, "b1", "bob")); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		if err := s.Revoke(ctx, "a1"); err != nil {
			t.Fatalf("revoke failed: %v", err)
		}
		if err := s.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		n, err := s.RevokeSubject(ctx, "alice")
		if err != nil {
			t.Fatalf("revoke subject failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 revoked, got %d", n)
		}

		bob, err := s.Get(ctx, "b1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if bob.State != StateActive {
			t.Fatalf("other subjects must stay active, got %v", bob.State)
		}
	})

	t.Run("RevokeLineage", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		if _, err := s.RevokeLineage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := s.Create(ctx, newRecord(clk, "t1", "u1")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := s.Rotate(ctx, "t1", newRecord(clk, "t2", "u1")); err != nil {
			t.Fatalf("rotate failed: %v", err)
		}
		n, err := s.RevokeLineage(ctx, "t1")
		if err != nil {
			t.Fatalf("revoke lineage failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 revoked, got %d", n)
		}
	})

	t.Run("ConcurrentRotateSingleWinner", func(t *testing.T) {
		clk := clock.NewManual(time.Now())
		s := newStore(t, clk)
		ctx := context.Background()

		if err := s.Create(ctx, newRecord(clk, "root", "u1")); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			rejects int
			other   []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := s.Rotate(ctx, "root", newRecord(clk, fmt.Sprintf("succ-%d", i), "u1"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrReplayDetected), errors.Is(err, ErrRevoked):
					rejects++
				default:
					other = append(other, err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if len(other) > 0 {
			t.Fatalf("unexpected errors: %v", other)
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
		if rejects != workers-1 {
			t.Fatalf("expected %d rejects, got %d", workers-1, rejects)
		}
	})
}
