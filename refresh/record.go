package refresh

import "time"

// State is the lifecycle state of a refresh [Record].
type State uint8

const (
	// StateActive records may be rotated exactly once.
	StateActive State = iota
	// StateRotated records have a successor; presenting them again is a replay.
	StateRotated
	// StateRevoked records are terminal.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

func parseState(v string) (State, bool) {
	switch v {
	case "active":
		return StateActive, true
	case "rotated":
		return StateRotated, true
	case "revoked":
		return StateRevoked, true
	default:
		return 0, false
	}
}

// Record is the server-side view of one refresh token. TokenID is the jti
// embedded in the token, not its signature.
type Record struct {
	TokenID     string
	Subject     string
	Role        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	State       State
	SuccessorID string
}

// Expired reports whether the record is expired at now. A record whose
// ExpiresAt equals now is expired.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r Record) validate() error {
	if r.TokenID == "" || r.Subject == "" {
		return ErrInvalidRecord
	}
	if r.ExpiresAt.IsZero() || !r.ExpiresAt.After(r.IssuedAt) {
		return ErrInvalidRecord
	}
	return nil
}
