package gatekeep

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete engine configuration. It is copied by
// [Builder.WithConfig] and treated as immutable once the engine is built.
type Config struct {
	Token     TokenConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls signing and token lifetimes.
type TokenConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	// KeyID is stamped into issued headers. VerifyKeys lists retired keys
	// still accepted during rotation.
	KeyID      string
	VerifyKeys map[string][]byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is one sliding-window limit.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds one rule per route class. The "default" class is
// required and applies to routes whose class has no rule of its own.
type RateLimitConfig struct {
	Enabled     bool
	Classes     map[string]RateRule
	Backend     string // "memory" (default) or "redis"
	RedisPrefix string
	// IdleTTL is how long an unused in-memory window survives a sweep. A
	// window is kept for at least its class Window regardless.
	IdleTTL time.Duration
}

// DefaultRateClass names the rule used when a route class has none.
const DefaultRateClass = "default"

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig selects the refresh record backend.
type StoreConfig struct {
	Backend     string // "memory" (default), "redis" or "postgres"
	RedisPrefix string
	// Timeout bounds every store call. Expiry is reported as ErrUnavailable.
	Timeout       time.Duration
	SweepInterval time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys must still
// be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "hs256",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Leeway:        0,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Classes: map[string]RateRule{
				DefaultRateClass: {Limit: 100, Window: time.Minute},
			},
			Backend:     "memory",
			RedisPrefix: "gk",
			IdleTTL:     10 * time.Minute,
		},
		Store: StoreConfig{
			Backend:       "memory",
			RedisPrefix:   "gk",
			Timeout:       2 * time.Second,
			SweepInterval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// HighSecurityConfig tightens lifetimes and rate limits and requires the
// shared Redis backends so limits and revocations hold across replicas.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "ed25519"
	cfg.Token.AccessTTL = 5 * time.Minute
	cfg.Token.RefreshTTL = 24 * time.Hour
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.Classes = map[string]RateRule{
		DefaultRateClass: {Limit: 60, Window: time.Minute},
		"auth":           {Limit: 10, Window: time.Minute},
	}
	cfg.Store.Backend = "redis"
	cfg.Store.Timeout = time.Second
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.RateLimit.Classes != nil {
		out.RateLimit.Classes = make(map[string]RateRule, len(cfg.RateLimit.Classes))
		for class, rule := range cfg.RateLimit.Classes {
			out.RateLimit.Classes[class] = rule
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be > AccessTTL")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	for kid := range c.Token.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("Token VerifyKeys contains an empty key id")
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if _, ok := c.RateLimit.Classes[DefaultRateClass]; !ok {
			return fmt.Errorf("RateLimit Classes must define %q", DefaultRateClass)
		}
		for class, rule := range c.RateLimit.Classes {
			if rule.Limit <= 0 {
				return fmt.Errorf("RateLimit class %q Limit must be > 0", class)
			}
			if rule.Window <= 0 {
				return fmt.Errorf("RateLimit class %q Window must be > 0", class)
			}
		}
		if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
			return errors.New("RateLimit Backend must be memory or redis")
		}
		if c.RateLimit.IdleTTL < 0 {
			return errors.New("RateLimit IdleTTL must be >= 0")
		}
	}

	// Store
	switch c.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return errors.New("Store Backend must be memory, redis or postgres")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("Store Timeout must be > 0")
	}
	if c.Store.SweepInterval < 0 {
		return errors.New("Store SweepInterval must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
