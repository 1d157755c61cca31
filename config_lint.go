package gatekeep

import (
	"fmt"
	"time"
)

// LintWarning flags a configuration that is valid but risky.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

const (
	lintMaxLeeway     = time.Minute
	lintMaxAccessTTL  = 15 * time.Minute
	lintMaxRefreshTTL = 14 * 24 * time.Hour
)

// Lint reports settings that pass Validate but weaken the deployment. It
// never fails; callers decide whether warnings are fatal.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if c.Token.Leeway > lintMaxLeeway {
		add("leeway_large", "Token Leeway %s exceeds %s", c.Token.Leeway, lintMaxLeeway)
	}
	if c.Token.AccessTTL > lintMaxAccessTTL {
		add("access_ttl_long", "Token AccessTTL %s exceeds %s", c.Token.AccessTTL, lintMaxAccessTTL)
	}
	if c.Token.RefreshTTL > lintMaxRefreshTTL {
		add("refresh_ttl_long", "Token RefreshTTL %s exceeds %s", c.Token.RefreshTTL, lintMaxRefreshTTL)
	}
	if c.Token.SigningMethod == "hs256" && c.Token.KeyID == "" {
		add("no_key_id", "Token KeyID is empty; signing keys cannot be rotated without invalidating sessions")
	}
	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", "RateLimit is disabled")
	} else if c.RateLimit.Backend == "memory" {
		add("rate_limit_local", "RateLimit Backend memory does not share windows across replicas")
		if w := c.RateLimit.longestWindow(); c.RateLimit.IdleTTL < w {
			add("rate_idle_short", "RateLimit IdleTTL %s is shorter than the longest class Window %s; windows are kept for %s", c.RateLimit.IdleTTL, w, w)
		}
	}
	if c.Store.Backend == "memory" {
		add("store_local", "Store Backend memory loses refresh records on restart")
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull {
		add("audit_blocking", "Audit DropIfFull is false; a slow sink blocks requests")
	}
	return ws
}

func (r RateLimitConfig) longestWindow() time.Duration {
	var longest time.Duration
	for _, rule := range r.Classes {
		if rule.Window > longest {
			longest = rule.Window
		}
	}
	return longest
}
