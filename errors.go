package gatekeep

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/gatekeep/internal/rate"
	"github.com/MrEthical07/gatekeep/permission"
	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
)

// Sentinels re-exported from the component packages so callers only need to
// import gatekeep. Match them with errors.Is.
var (
	// ErrMalformed is returned for tokens that do not parse.
	ErrMalformed = token.ErrMalformed
	// ErrInvalidSignature is returned for tokens whose signature, algorithm or
	// key id does not check out.
	ErrInvalidSignature = token.ErrInvalidSignature
	ErrExpired          = token.ErrExpired
	ErrWrongKind        = token.ErrWrongKind

	ErrUnauthenticated = permission.ErrUnauthenticated
	ErrForbidden       = permission.ErrForbidden

	ErrNotFound = refresh.ErrNotFound
	ErrRevoked  = refresh.ErrRevoked
	// ErrReplayDetected is returned when a rotated refresh token is presented
	// again. The whole lineage has been revoked by the time it is returned.
	ErrReplayDetected = refresh.ErrReplayDetected

	ErrRateLimited = rate.ErrRateLimited
	// ErrUnavailable is returned when a store or limiter backend cannot be
	// reached. Requests fail closed.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrUnknownRole is returned by Login for roles not in the registry.
	ErrUnknownRole = errors.New("unknown role")
	// ErrInvalidRequest is returned for empty subjects and tokens.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownRoute is returned by Handle for a nil route.
	ErrUnknownRoute = errors.New("unknown route")
)

// ErrorKind is the coarse class of an engine error. Transports map kinds to
// status codes; the specific sentinel is only ever logged.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindMalformed
	KindInvalidSignature
	KindExpired
	KindWrongKind
	KindUnauthenticated
	KindNotFound
	KindForbidden
	KindRevoked
	KindReplayDetected
	KindRateLimited
	KindUnavailable
	KindInvalidRequest
	KindInternal
)

var kindNames = [...]string{
	KindNone:             "none",
	KindMalformed:        "malformed",
	KindInvalidSignature: "invalid_signature",
	KindExpired:          "expired",
	KindWrongKind:        "wrong_kind",
	KindUnauthenticated:  "unauthenticated",
	KindNotFound:         "not_found",
	KindForbidden:        "forbidden",
	KindRevoked:          "revoked",
	KindReplayDetected:   "replay_detected",
	KindRateLimited:      "rate_limited",
	KindUnavailable:      "unavailable",
	KindInvalidRequest:   "invalid_request",
	KindInternal:         "internal",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KindOf classifies err. Unavailability is checked first because backend
// errors wrap the underlying transport failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, refresh.ErrUnavailable),
		errors.Is(err, rate.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, ErrReplayDetected):
		return KindReplayDetected
	case errors.Is(err, ErrRevoked):
		return KindRevoked
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSignature
	case errors.Is(err, ErrExpired), errors.Is(err, refresh.ErrExpired):
		return KindExpired
	case errors.Is(err, ErrWrongKind):
		return KindWrongKind
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrUnknownRoute):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status a transport should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindMalformed, KindInvalidSignature, KindExpired, KindWrongKind,
		KindUnauthenticated, KindNotFound:
		return http.StatusUnauthorized
	case KindForbidden, KindRevoked, KindReplayDetected:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the only text a client sees for err. It never reveals
// which check failed.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindMalformed, KindInvalidSignature, KindExpired, KindWrongKind,
		KindUnauthenticated, KindNotFound, KindRevoked, KindReplayDetected:
		return "invalid or expired session"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "too many requests"
	case KindUnavailable:
		return "service unavailable"
	case KindInvalidRequest:
		return "bad request"
	default:
		return "internal error"
	}
}

// unavailable normalizes a backend failure so errors.Is(err, ErrUnavailable)
// holds for every store and limiter backend.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if KindOf(err) == KindUnavailable {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
