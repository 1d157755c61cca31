package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/gatekeep"
)

// Guard returns middleware that runs the engine pipeline for route.
func Guard(engine *gatekeep.Engine, route *gatekeep.Route) func(http.Handler) http.Handler {
	return GuardOwner(engine, route, nil)
}

// GuardOwner is Guard for routes compiled with OwnerOrRole. owner extracts the
// subject that owns the addressed resource, typically from a path value.
func GuardOwner(engine *gatekeep.Engine, route *gatekeep.Route, owner func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || route == nil {
				writeError(w, gatekeep.ErrUnknownRoute)
				return
			}

			ip := ClientIP(r)
			ctx := gatekeep.WithClientIP(r.Context(), ip)
			req := &gatekeep.Request{
				Route:         route,
				ClientKey:     ip,
				Authorization: r.Header.Get("Authorization"),
			}
			if owner != nil {
				req.ResourceOwner = owner(r)
			}

			res, err := engine.Handle(ctx, req)
			w.Header().Set("X-Request-ID", res.RequestID.String())
			SetRateLimitHeaders(w.Header(), res.RateLimit)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx = gatekeep.WithResult(ctx, res)
			ctx = gatekeep.WithRequestID(ctx, res.RequestID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles compiles a route for class admitting any of roles and returns
// its guard.
func RequireRoles(engine *gatekeep.Engine, class string, roles ...string) (func(http.Handler) http.Handler, error) {
	route, err := engine.Route(class, roles...)
	if err != nil {
		return nil, err
	}
	return Guard(engine, route), nil
}

// RequireAuth admits any authenticated caller.
func RequireAuth(engine *gatekeep.Engine, class string) (func(http.Handler) http.Handler, error) {
	return RequireRoles(engine, class)
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are not
// trusted; put a proxy-aware handler in front if needed.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetRateLimitHeaders writes X-RateLimit-Limit and X-RateLimit-Remaining, and
// Retry-After in whole seconds when the request was rejected.
func SetRateLimitHeaders(h http.Header, dec *gatekeep.RateDecision) {
	if dec == nil || dec.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	if !dec.Allowed && dec.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(dec.RetryAfter)))
	}
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := gatekeep.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeep"`)
	}
	writeJSON(w, status, errorBody{Error: gatekeep.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
