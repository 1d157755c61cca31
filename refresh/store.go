package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown token id.
	ErrNotFound = errors.New("refresh token not found")
	// ErrRevoked is returned when a revoked token is presented.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrReplayDetected is returned when an already rotated token is presented.
	// The lineage has been revoked by the time the caller sees it.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrExpired is returned when an Active record is past its expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrDuplicate is returned when a token id is registered twice.
	ErrDuplicate = errors.New("refresh token id already registered")
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("invalid refresh record")
	// ErrUnavailable wraps backend failures. Callers must fail closed.
	ErrUnavailable = errors.New("refresh store unavailable")
)

// maxLineageDepth bounds successor-chain walks.
const maxLineageDepth = 128

// Store persists refresh records. Implementations must make the state check
// and transition in Rotate atomic per token id.
type Store interface {
	// Create registers a new Active record.
	Create(ctx context.Context, rec Record) error
	// Get returns a copy of the record.
	Get(ctx context.Context, tokenID string) (Record, error)
	// Rotate moves tokenID from Active to Rotated, links it to successor and
	// registers successor as Active. It returns the rotated record.
	Rotate(ctx context.Context, tokenID string, successor Record) (Record, error)
	// Revoke marks tokenID Revoked regardless of its current state.
	Revoke(ctx context.Context, tokenID string) error
	// RevokeLineage revokes tokenID and every successor reachable from it.
	RevokeLineage(ctx context.Context, tokenID string) (int, error)
	// RevokeSubject revokes every live record issued to subject.
	RevokeSubject(ctx context.Context, subject string) (int, error)
}

// Sweeper is implemented by stores that need periodic removal of expired
// records.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}
