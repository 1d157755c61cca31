package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
)

// minRetryAfter is reported when the oldest stamp leaves the window in less
// than a millisecond.
const minRetryAfter = time.Millisecond

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Backend stores per-key admission stamps. Admit must prune, count and
// append atomically per key.
type Backend interface {
	Admit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error)
}

// Limiter admits at most limit requests per key in any window-long interval.
type Limiter struct {
	limit   int
	window  time.Duration
	backend Backend
	clock   clock.Clock
}

// New creates a [Limiter]. A nil clock uses the wall clock.
func New(limit int, window time.Duration, backend Backend, clk clock.Clock) (*Limiter, error) {
	if limit <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("rate window must be positive")
	}
	if backend == nil {
		return nil, errors.New("rate limiter requires a backend")
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		backend: backend,
		clock:   clock.OrSystem(clk),
	}, nil
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) Window() time.Duration { return l.window }

// Admit records an attempt for key. A rejected attempt is not an error; a
// backend failure returns a rejecting Decision together with ErrUnavailable.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	d, err := l.backend.Admit(ctx, key, l.clock.Now(), l.limit, l.window)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Decision{Allowed: false, Limit: l.limit}, err
	}
	d.Limit = l.limit
	if !d.Allowed && d.RetryAfter < minRetryAfter {
		d.RetryAfter = minRetryAfter
	}
	return d, nil
}
