package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShardCount = 64

type slidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	// window is the length this key was last admitted under. Sweep never
	// collects a window before it has been idle that long.
	window time.Duration
	// dead is set by Sweep after the window leaves its shard; holders of a
	// stale pointer must look the key up again.
	dead bool
}

// admit keeps stamps in non-decreasing order. Callers read the clock before
// taking the window lock, so a now behind the newest stamp is clamped to it.
func (w *slidingWindow) admit(now time.Time, limit int, window time.Duration) Decision {
	if n := len(w.stamps); n > 0 && now.Before(w.stamps[n-1]) {
		now = w.stamps[n-1]
	}
	w.window = window

	cutoff := now.Add(-window)
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(w.stamps, w.stamps[i:])
		w.stamps = w.stamps[:n]
	}

	if len(w.stamps) < limit {
		w.stamps = append(w.stamps, now)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - len(w.stamps)}
	}

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		RetryAfter: w.stamps[0].Add(window).Sub(now),
	}
}

func (w *slidingWindow) idle(now time.Time, idle time.Duration) bool {
	if len(w.stamps) == 0 {
		return true
	}
	if w.window > idle {
		idle = w.window
	}
	return w.stamps[len(w.stamps)-1].Before(now.Add(-idle))
}

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// MemoryBackend keeps windows in process memory. A window lock is never held
// while taking a shard lock.
type MemoryBackend struct {
	shards [memoryShardCount]limiterShard
}

func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.shards {
		b.shards[i].windows = make(map[string]*slidingWindow)
	}
	return b
}

func (b *MemoryBackend) shard(key string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &b.shards[h.Sum32()%memoryShardCount]
}

func (b *MemoryBackend) window(key string) *slidingWindow {
	sh := b.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[key]
	if !ok {
		w = &slidingWindow{}
		sh.windows[key] = w
	}
	return w
}

// Admit implements [Backend].
func (b *MemoryBackend) Admit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	for {
		w := b.window(key)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		d := w.admit(now, limit, window)
		w.mu.Unlock()
		return d, nil
	}
}

// Sweep drops windows that have been idle for idle, or for their own window
// length when that is longer, and returns how many were removed. A window
// that still holds a stamp inside its window is never dropped.
func (b *MemoryBackend) Sweep(now time.Time, idle time.Duration) int {
	removed := 0
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.Lock()
		for key, w := range sh.windows {
			w.mu.Lock()
			if w.idle(now, idle) {
				w.dead = true
				delete(sh.windows, key)
				removed++
			}
			w.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (b *MemoryBackend) Len() int {
	n := 0
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
