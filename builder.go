package gatekeep

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/gatekeep/clock"
	internalaudit "github.com/MrEthical07/gatekeep/internal/audit"
	internalflows "github.com/MrEthical07/gatekeep/internal/flows"
	"github.com/MrEthical07/gatekeep/internal/rate"
	"github.com/MrEthical07/gatekeep/permission"
	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	redis  redis.UniversalClient
	db     *sql.DB
	store  refresh.Store

	roles     []string
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithClock sets the time source. Tests pass a *clock.Manual.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRedis supplies the client used by the "redis" store and rate limit
// backends.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the database used by the "postgres" store backend.
// The schema must already be migrated with [refresh.Migrate].
func (b *Builder) WithPostgres(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithRefreshStore overrides the configured store backend.
func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.store = store
	return b
}

// WithRoles declares the role vocabulary. Order fixes bit positions.
func (b *Builder) WithRoles(roles ...string) *Builder {
	b.roles = append([]string(nil), roles...)
	return b
}

// WithAuditSink sets the audit destination. It only takes effect with
// Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.roles) == 0 {
		return nil, errors.New("roles must be provided")
	}

	clk := clock.OrSystem(b.clock)
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// -------- ROLE REGISTRY --------
	registry, err := permission.NewFrozenRegistry(b.roles...)
	if err != nil {
		return nil, err
	}

	// -------- REFRESH STORE --------
	store, err := b.buildStore(cfg, clk)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	codec, err := token.NewCodec(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(codec, store, clk, cfg.Token.AccessTTL, cfg.Token.RefreshTTL)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		clock:    clk,
		logger:   logger,
		codec:    codec,
		issuer:   issuer,
		verifier: token.NewVerifier(codec, clk, cfg.Token.Leeway),
		store:    store,
		registry: registry,
		guard:    permission.NewGuard(registry),
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- RATE LIMITS --------
	if cfg.RateLimit.Enabled {
		if err := b.buildLimiters(engine, cfg, clk); err != nil {
			return nil, err
		}
	}

	engine.flows = internalflows.Deps{
		Login: internalflows.LoginDeps{
			KnownRole: func(role string) bool {
				_, ok := registry.Bit(role)
				return ok
			},
			IssueAccess:  issuer.IssueAccessClaims,
			IssueRefresh: issuer.IssueRefresh,
			RefreshTTL:   cfg.Token.RefreshTTL,
		},
		Refresh: internalflows.RefreshDeps{
			VerifyRefresh: func(s string) (token.Claims, error) {
				return engine.verifier.Verify(s, token.KindRefresh)
			},
			PrepareRefresh: issuer.PrepareRefresh,
			IssueAccess:    issuer.IssueAccessClaims,
			Store:          store,
		},
		Logout: internalflows.LogoutDeps{
			DecodeRefresh: codec.Decode,
			Store:         store,
		},
	}
	engine.pipeline = engine.standardPipeline()
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, clk.Now)

	b.built = true

	return engine, nil
}

func (b *Builder) buildStore(cfg Config, clk clock.Clock) (refresh.Store, error) {
	if b.store != nil {
		return b.store, nil
	}
	switch cfg.Store.Backend {
	case "redis":
		if b.redis == nil {
			return nil, errors.New("Store Backend redis requires a redis client")
		}
		return refresh.NewRedisStore(b.redis, cfg.Store.RedisPrefix, clk), nil
	case "postgres":
		if b.db == nil {
			return nil, errors.New("Store Backend postgres requires a database")
		}
		return refresh.NewPostgresStore(b.db, clk), nil
	default:
		return refresh.NewMemoryStore(clk), nil
	}
}

func (b *Builder) buildLimiters(engine *Engine, cfg Config, clk clock.Clock) error {
	var backend rate.Backend
	switch cfg.RateLimit.Backend {
	case "redis":
		if b.redis == nil {
			return errors.New("RateLimit Backend redis requires a redis client")
		}
		backend = rate.NewRedisBackend(b.redis, cfg.RateLimit.RedisPrefix)
	default:
		mem := rate.NewMemoryBackend()
		engine.memRate = mem
		backend = mem
	}

	engine.limiters = make(map[string]*rate.Limiter, len(cfg.RateLimit.Classes))
	for class, rule := range cfg.RateLimit.Classes {
		l, err := rate.New(rule.Limit, rule.Window, backend, clk)
		if err != nil {
			return fmt.Errorf("rate class %q: %w", class, err)
		}
		engine.limiters[class] = l
	}
	return nil
}
