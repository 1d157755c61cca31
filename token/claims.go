package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the decoded payload of a token. Times have second precision.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Kind      Kind
	// TokenID is set on refresh tokens only.
	TokenID string
}

// wireClaims is the JSON payload. Registered claims carry sub, iat, exp and jti.
type wireClaims struct {
	Role string `json:"role"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

func toWire(c Claims) wireClaims {
	return wireClaims{
		Role: c.Role,
		Kind: c.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        c.TokenID,
		},
	}
}

func fromWire(w wireClaims) (Claims, error) {
	if w.Subject == "" || w.Role == "" || !w.Kind.valid() || w.IssuedAt == nil || w.ExpiresAt == nil {
		return Claims{}, ErrMalformed
	}
	if w.Kind == KindRefresh && w.ID == "" {
		return Claims{}, ErrMalformed
	}
	return Claims{
		Subject:   w.Subject,
		Role:      w.Role,
		IssuedAt:  w.IssuedAt.Time,
		ExpiresAt: w.ExpiresAt.Time,
		Kind:      w.Kind,
		TokenID:   w.ID,
	}, nil
}
