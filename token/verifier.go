package token

import (
	"time"

	"github.com/MrEthical07/gatekeep/clock"
)

// Verifier checks signature, expiry and kind. It never mutates state.
type Verifier struct {
	codec  *Codec
	clock  clock.Clock
	leeway time.Duration
}

// NewVerifier returns a Verifier. leeway extends every expiry and defaults to 0.
func NewVerifier(codec *Codec, clk clock.Clock, leeway time.Duration) *Verifier {
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{codec: codec, clock: clock.OrSystem(clk), leeway: leeway}
}

// Verify decodes s and checks it is unexpired and of kind expected. A token
// whose exp equals now is expired.
func (v *Verifier) Verify(s string, expected Kind) (Claims, error) {
	claims, err := v.codec.Decode(s)
	if err != nil {
		return Claims{}, err
	}
	if !v.clock.Now().Before(claims.ExpiresAt.Add(v.leeway)) {
		return Claims{}, ErrExpired
	}
	if claims.Kind != expected {
		return Claims{}, ErrWrongKind
	}
	return claims, nil
}
