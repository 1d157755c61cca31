package gatekeep

import (
	"time"

	"github.com/MrEthical07/gatekeep/internal/rate"
	"github.com/MrEthical07/gatekeep/token"
	"github.com/google/uuid"
)

// Claims is the verified payload of an access token.
type Claims = token.Claims

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RateDecision is the limiter's verdict for one request.
type RateDecision = rate.Decision

// Result accumulates what the pipeline learned about a request. It is
// returned even when a stage fails so transports can still emit rate-limit
// headers and correlate logs.
type Result struct {
	RequestID uuid.UUID
	Route     string
	Claims    *Claims
	RateLimit *RateDecision
	// Stage names the stage that rejected the request.
	Stage string
}
