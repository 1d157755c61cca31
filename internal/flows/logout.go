package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
)

type LogoutStore interface {
	Revoke(ctx context.Context, tokenID string) error
	RevokeSubject(ctx context.Context, subject string) (int, error)
}

// LogoutDeps captures logout flow dependencies. DecodeRefresh checks the
// signature but not expiry, so an expired token can still be logged out.
type LogoutDeps struct {
	DecodeRefresh func(string) (token.Claims, error)
	Store         LogoutStore
}

type LogoutResult struct {
	Subject string
	TokenID string
	// Missing is set when the record was already gone.
	Missing bool
	Err     error
}

// RunLogout revokes the record behind a refresh token. Revoking an unknown
// record succeeds so repeated logouts are harmless.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.DecodeRefresh(refreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}
	if claims.Kind != token.KindRefresh {
		return LogoutResult{Subject: claims.Subject, Err: token.ErrWrongKind}
	}

	res := LogoutResult{Subject: claims.Subject, TokenID: claims.TokenID}
	if err := deps.Store.Revoke(ctx, claims.TokenID); err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			res.Missing = true
			return res
		}
		res.Err = err
	}
	return res
}

// RunLogoutAll revokes every live record of subject and reports how many.
func RunLogoutAll(ctx context.Context, subject string, deps LogoutDeps) (int, error) {
	return deps.Store.RevokeSubject(ctx, subject)
}
