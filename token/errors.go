package token

import "errors"

var (
	// ErrMalformed covers structural problems: segment count, encoding, JSON
	// shape and missing required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature covers signature mismatch, unexpected algorithm and
	// unknown key ids.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when now >= exp (+ leeway).
	ErrExpired = errors.New("token expired")
	// ErrWrongKind is returned when an access token is presented where a
	// refresh token is expected, or vice versa.
	ErrWrongKind = errors.New("token kind mismatch")
	// ErrInvalidClaims is returned by Encode for claims it refuses to sign.
	ErrInvalidClaims = errors.New("invalid token claims")
)
