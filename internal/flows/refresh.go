package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureRevoked
	RefreshFailureReplay
	RefreshFailurePrepare
	RefreshFailureRotate
	RefreshFailureIssueAccess
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure          RefreshFailureKind
	Err              error
	Subject          string
	Role             string
	TokenID          string
	SuccessorID      string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type RefreshStore interface {
	Get(ctx context.Context, tokenID string) (refresh.Record, error)
	Rotate(ctx context.Context, tokenID string, successor refresh.Record) (refresh.Record, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh  func(string) (token.Claims, error)
	PrepareRefresh func(subject, role string) (string, refresh.Record, error)
	IssueAccess    func(subject, role string) (string, token.Claims, error)
	Store          RefreshStore
}

// RunRefresh verifies a presented refresh token and rotates it.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	return RunRotate(ctx, claims.TokenID, claims.Subject, claims.Role, deps)
}

// RunRotateByID rotates a record known only by id. Subject and role come from
// the stored record.
func RunRotateByID(ctx context.Context, tokenID string, deps RefreshDeps) RefreshResult {
	rec, err := deps.Store.Get(ctx, tokenID)
	if err != nil {
		return rotateFailure(err, RefreshResult{TokenID: tokenID})
	}
	return RunRotate(ctx, tokenID, rec.Subject, rec.Role, deps)
}

// RunRotate prepares a successor, hands it to the store for an atomic
// transition and mints the access token that accompanies it. The successor is
// only signed, never registered, until the store accepts the transition.
func RunRotate(ctx context.Context, tokenID, subject, role string, deps RefreshDeps) RefreshResult {
	base := RefreshResult{
		Subject: subject,
		Role:    role,
		TokenID: tokenID,
	}

	nextToken, successor, err := deps.PrepareRefresh(subject, role)
	if err != nil {
		base.Failure = RefreshFailurePrepare
		base.Err = err
		return base
	}

	if _, err := deps.Store.Rotate(ctx, tokenID, successor); err != nil {
		return rotateFailure(err, base)
	}
	base.SuccessorID = successor.TokenID

	access, claims, err := deps.IssueAccess(subject, role)
	if err != nil {
		base.Failure = RefreshFailureIssueAccess
		base.Err = err
		return base
	}

	base.AccessToken = access
	base.AccessExpiresAt = claims.ExpiresAt
	base.RefreshToken = nextToken
	base.RefreshExpiresAt = successor.ExpiresAt
	return base
}

func rotateFailure(err error, base RefreshResult) RefreshResult {
	base.Err = err
	switch {
	case errors.Is(err, refresh.ErrReplayDetected):
		base.Failure = RefreshFailureReplay
	case errors.Is(err, refresh.ErrRevoked):
		base.Failure = RefreshFailureRevoked
	case errors.Is(err, refresh.ErrNotFound):
		base.Failure = RefreshFailureNotFound
	case errors.Is(err, refresh.ErrExpired):
		base.Failure = RefreshFailureExpired
	default:
		base.Failure = RefreshFailureRotate
	}
	return base
}
