package gatekeep

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"access ttl", func(c *Config) { c.Token.AccessTTL = 0 }, "AccessTTL"},
		{"refresh ttl", func(c *Config) { c.Token.RefreshTTL = 0 }, "RefreshTTL must be > 0"},
		{"refresh shorter than access", func(c *Config) { c.Token.RefreshTTL = time.Minute }, "RefreshTTL must be > AccessTTL"},
		{"negative leeway", func(c *Config) { c.Token.Leeway = -time.Second }, "Leeway"},
		{"signing method", func(c *Config) { c.Token.SigningMethod = "rs256" }, "signing method"},
		{"missing key", func(c *Config) { c.Token.PrivateKey = nil }, "hs256 requires PrivateKey"},
		{"empty kid", func(c *Config) { c.Token.VerifyKeys = map[string][]byte{" ": testSigningKey} }, "empty key id"},
		{"no default class", func(c *Config) { c.RateLimit.Classes = map[string]RateRule{"auth": {Limit: 1, Window: time.Second}} }, `"default"`},
		{"zero limit", func(c *Config) { c.RateLimit.Classes["auth"] = RateRule{Limit: 0, Window: time.Second} }, "Limit"},
		{"zero window", func(c *Config) { c.RateLimit.Classes["auth"] = RateRule{Limit: 1} }, "Window"},
		{"rate backend", func(c *Config) { c.RateLimit.Backend = "dynamo" }, "RateLimit Backend"},
		{"store backend", func(c *Config) { c.Store.Backend = "mongo" }, "Store Backend"},
		{"store timeout", func(c *Config) { c.Store.Timeout = 0 }, "Timeout"},
		{"audit buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }, "BufferSize"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigRateLimitDisabledSkipsRules(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Classes = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled rate limiting needs no rules: %v", err)
	}
}

func TestCloneConfigIsolatesMutableFields(t *testing.T) {
	cfg := testConfig()
	cfg.Token.PrivateKey = append([]byte(nil), testSigningKey...)
	cfg.Token.VerifyKeys = map[string][]byte{"old": append([]byte(nil), testSigningKey...)}

	out := cloneConfig(cfg)
	cfg.Token.PrivateKey[0] = 'x'
	cfg.Token.VerifyKeys["old"][0] = 'x'
	cfg.RateLimit.Classes[DefaultRateClass] = RateRule{Limit: 1, Window: time.Second}

	if out.Token.PrivateKey[0] != 'k' {
		t.Fatal("PrivateKey was shared")
	}
	if out.Token.VerifyKeys["old"][0] != 'k' {
		t.Fatal("VerifyKeys were shared")
	}
	if out.RateLimit.Classes[DefaultRateClass].Limit != 100 {
		t.Fatal("rate classes were shared")
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func TestLintDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	codes := cfg.Lint().Codes()

	if containsCode(codes, "rate_limits_disabled") {
		t.Fatal("default config enables rate limiting")
	}
	if containsCode(codes, "access_ttl_long") {
		t.Fatal("default access TTL is within bounds")
	}
	if !containsCode(codes, "store_local") {
		t.Fatal("expected store_local warning for the memory store")
	}
}

func TestLintHighSecurityConfigHasNoWarnings(t *testing.T) {
	cfg := HighSecurityConfig()
	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws.Codes())
	}
}

func TestLintFlagsRiskySettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.Leeway = 90 * time.Second
	cfg.Token.AccessTTL = time.Hour
	cfg.Token.RefreshTTL = 30 * 24 * time.Hour
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	codes := cfg.Lint().Codes()
	for _, code := range []string{"leeway_large", "access_ttl_long", "refresh_ttl_long", "rate_limits_disabled", "audit_blocking", "no_key_id"} {
		if !containsCode(codes, code) {
			t.Fatalf("expected %s warning, got %v", code, codes)
		}
	}
}

func TestLintFlagsIdleTTLShorterThanWindow(t *testing.T) {
	cfg := DefaultConfig()
	if containsCode(cfg.Lint().Codes(), "rate_idle_short") {
		t.Fatal("default IdleTTL covers the default window")
	}

	cfg.RateLimit.Classes["hourly"] = RateRule{Limit: 2, Window: time.Hour}
	if !containsCode(cfg.Lint().Codes(), "rate_idle_short") {
		t.Fatalf("expected rate_idle_short, got %v", cfg.Lint().Codes())
	}
}
