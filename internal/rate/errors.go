package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that turn a rejected Decision into an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("rate limit backend unavailable")
)
