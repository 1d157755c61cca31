package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// TokenID is a 128-bit random refresh-token identifier.
type TokenID [16]byte

// NewTokenID draws a TokenID from crypto/rand.
func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// ParseTokenID is the inverse of TokenID.String.
func ParseTokenID(tokenID string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.Strict().DecodeString(tokenID)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}
