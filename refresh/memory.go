package refresh

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
)

const memoryShardCount = 64

type memoryShard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// MemoryStore is an in-process [Store]. Records are spread over a fixed set of
// shards and no operation ever holds two shard locks at once.
type MemoryStore struct {
	clock  clock.Clock
	shards [memoryShardCount]memoryShard
}

// NewMemoryStore creates an empty [MemoryStore]. A nil clock uses the wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	s := &MemoryStore{clock: clock.OrSystem(clk)}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*Record)
	}
	return s
}

func (s *MemoryStore) shard(tokenID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tokenID))
	return &s.shards[h.Sum32()%memoryShardCount]
}

// Create registers rec as Active.
func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	rec.State = StateActive
	rec.SuccessorID = ""

	sh := s.shard(rec.TokenID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.records[rec.TokenID]; exists {
		return ErrDuplicate
	}
	sh.records[rec.TokenID] = &rec
	return nil
}

// Get returns a copy of the record for tokenID.
func (s *MemoryStore) Get(ctx context.Context, tokenID string) (Record, error) {
	sh := s.shard(tokenID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[tokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// Rotate implements [Store.Rotate]. The successor is registered before the
// presented record is transitioned and withdrawn again if the transition
// fails, so a successor is never reachable from a record that did not rotate.
func (s *MemoryStore) Rotate(ctx context.Context, tokenID string, successor Record) (Record, error) {
	if successor.TokenID == tokenID {
		return Record{}, ErrInvalidRecord
	}
	if err := s.Create(ctx, successor); err != nil {
		return Record{}, err
	}

	rotated, err := s.transition(tokenID, successor.TokenID)
	if err != nil {
		s.discard(successor.TokenID)
		if errors.Is(err, ErrReplayDetected) {
			_, _ = s.RevokeLineage(ctx, tokenID)
		}
		return Record{}, err
	}
	return rotated, nil
}

func (s *MemoryStore) transition(tokenID, successorID string) (Record, error) {
	sh := s.shard(tokenID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[tokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	switch rec.State {
	case StateRevoked:
		return Record{}, ErrRevoked
	case StateRotated:
		return Record{}, ErrReplayDetected
	}
	if rec.Expired(s.clock.Now()) {
		return Record{}, ErrExpired
	}

	rec.State = StateRotated
	rec.SuccessorID = successorID
	return *rec, nil
}

func (s *MemoryStore) discard(tokenID string) {
	sh := s.shard(tokenID)
	sh.mu.Lock()
	delete(sh.records, tokenID)
	sh.mu.Unlock()
}

// Revoke marks tokenID Revoked.
func (s *MemoryStore) Revoke(ctx context.Context, tokenID string) error {
	sh := s.shard(tokenID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[tokenID]
	if !ok {
		return ErrNotFound
	}
	rec.State = StateRevoked
	return nil
}

// RevokeLineage walks the successor chain starting at tokenID, one shard lock
// at a time, and revokes every record on it.
func (s *MemoryStore) RevokeLineage(ctx context.Context, tokenID string) (int, error) {
	revoked := 0
	seen := make(map[string]struct{}, 4)

	for id := tokenID; id != "" && len(seen) < maxLineageDepth; {
		if _, dup := seen[id]; dup {
			break
		}
		seen[id] = struct{}{}

		sh := s.shard(id)
		sh.mu.Lock()
		rec, ok := sh.records[id]
		if !ok {
			sh.mu.Unlock()
			if id == tokenID {
				return 0, ErrNotFound
			}
			break
		}
		if rec.State != StateRevoked {
			rec.State = StateRevoked
			revoked++
		}
		next := rec.SuccessorID
		sh.mu.Unlock()
		id = next
	}
	return revoked, nil
}

// RevokeSubject revokes every non-revoked record issued to subject.
func (s *MemoryStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	revoked := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, rec := range sh.records {
			if rec.Subject == subject && rec.State != StateRevoked {
				rec.State = StateRevoked
				revoked++
			}
		}
		sh.mu.Unlock()
	}
	return revoked, nil
}

// Sweep deletes records that expired at or before now.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.Expired(now) {
				delete(sh.records, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
