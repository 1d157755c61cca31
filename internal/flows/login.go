package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gatekeep/token"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidRequest
	LoginFailureUnknownRole
	LoginFailureIssueAccess
	LoginFailureIssueRefresh
)

// LoginResult carries the issued pair or failure metadata.
type LoginResult struct {
	Failure          LoginFailureKind
	Err              error
	Subject          string
	Role             string
	RefreshTokenID   string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginDeps captures login flow dependencies. Credentials are checked by the
// caller before RunLogin is reached.
type LoginDeps struct {
	KnownRole    func(string) bool
	IssueAccess  func(subject, role string) (string, token.Claims, error)
	IssueRefresh func(ctx context.Context, subject, role string) (string, string, error)
	RefreshTTL   time.Duration
}

var errEmptySubject = errors.New("empty subject")

// RunLogin issues an access token and registers a fresh refresh lineage for
// subject.
func RunLogin(ctx context.Context, subject, role string, deps LoginDeps) LoginResult {
	if subject == "" {
		return LoginResult{Failure: LoginFailureInvalidRequest, Err: errEmptySubject}
	}
	if deps.KnownRole != nil && !deps.KnownRole(role) {
		return LoginResult{Failure: LoginFailureUnknownRole, Subject: subject, Role: role}
	}

	access, claims, err := deps.IssueAccess(subject, role)
	if err != nil {
		return LoginResult{
			Failure: LoginFailureIssueAccess,
			Err:     err,
			Subject: subject,
			Role:    role,
		}
	}

	refreshToken, tokenID, err := deps.IssueRefresh(ctx, subject, role)
	if err != nil {
		return LoginResult{
			Failure: LoginFailureIssueRefresh,
			Err:     err,
			Subject: subject,
			Role:    role,
		}
	}

	return LoginResult{
		Failure:          LoginFailureNone,
		Subject:          subject,
		Role:             role,
		RefreshTokenID:   tokenID,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: claims.IssuedAt.Add(deps.RefreshTTL),
	}
}
