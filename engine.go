package gatekeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
	"github.com/MrEthical07/gatekeep/internal"
	internalaudit "github.com/MrEthical07/gatekeep/internal/audit"
	internalflows "github.com/MrEthical07/gatekeep/internal/flows"
	"github.com/MrEthical07/gatekeep/internal/rate"
	"github.com/MrEthical07/gatekeep/permission"
	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
	"golang.org/x/sync/errgroup"
)

// Engine is the single object an application embeds. It issues, verifies
// and rotates tokens, guards routes and rate limits callers.
//
// Engine instances are built once by [Builder.Build] and are safe for
// concurrent use.
type Engine struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	codec    *token.Codec
	issuer   *token.Issuer
	verifier *token.Verifier
	store    refresh.Store
	registry *permission.Registry
	guard    *permission.Guard
	limiters map[string]*rate.Limiter
	memRate  *rate.MemoryBackend
	pipeline *Pipeline
	flows    internalflows.Deps
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
}

// Close stops the audit dispatcher after flushing buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Registry returns the frozen role registry.
func (e *Engine) Registry() *permission.Registry {
	return e.registry
}

// storeContext bounds a store or limiter call by Store.Timeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Store.Timeout)
}

/*
====================================
TOKEN LIFECYCLE
====================================
*/

// Login issues a token pair for subject. Credentials must already have been
// checked by the caller; role must be registered.
func (e *Engine) Login(ctx context.Context, subject, role string) (TokenPair, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	res := internalflows.RunLogin(ctx, subject, role, e.flows.Login)

	var err error
	switch res.Failure {
	case internalflows.LoginFailureNone:
	case internalflows.LoginFailureInvalidRequest:
		err = ErrInvalidRequest
	case internalflows.LoginFailureUnknownRole:
		err = fmt.Errorf("%w: %q", ErrUnknownRole, role)
	default:
		err = unavailable(res.Err)
	}
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.noteUnavailable(err)
		e.emitAudit(ctx, AuditEvent{
			EventType: internalaudit.EventLoginFailure,
			Subject:   subject,
		}, err)
		e.logSecurity(ctx, "login failed", err, slog.String("subject", subject))
		return TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: internalaudit.EventLoginSuccess,
		Subject:   res.Subject,
		TokenID:   res.RefreshTokenID,
		Success:   true,
	}, nil)

	return TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}, nil
}

// Refresh verifies refreshToken and rotates it. A token that was already
// rotated is a replay: its whole lineage is revoked and ErrReplayDetected
// returned.
//
// The store lookup runs under Store.Timeout. A lookup that cannot complete
// fails closed as ErrUnavailable (503) rather than ErrUnauthenticated, so
// clients retry instead of discarding a refresh token that may still be valid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	res := internalflows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	return e.finishRefresh(ctx, res, refreshToken)
}

// Rotate rotates the record tokenID directly, for callers that track token
// ids rather than token strings. An id that is not one gatekeep issued is
// ErrMalformed and never reaches the store.
func (e *Engine) Rotate(ctx context.Context, tokenID string) (TokenPair, error) {
	if tokenID == "" {
		return TokenPair{}, ErrInvalidRequest
	}
	if _, err := internal.ParseTokenID(tokenID); err != nil {
		return TokenPair{}, fmt.Errorf("%w: token id: %v", ErrMalformed, err)
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	res := internalflows.RunRotateByID(ctx, tokenID, e.flows.Refresh)
	return e.finishRefresh(ctx, res, "")
}

func (e *Engine) finishRefresh(ctx context.Context, res internalflows.RefreshResult, presented string) (TokenPair, error) {
	if res.Failure == internalflows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, AuditEvent{
			EventType: internalaudit.EventRefreshSuccess,
			Subject:   res.Subject,
			TokenID:   res.TokenID,
			Success:   true,
			Metadata:  map[string]string{"successor_id": internalaudit.Redact(res.SuccessorID)},
		}, nil)
		return TokenPair{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshExpiresAt: res.RefreshExpiresAt,
		}, nil
	}

	err := refreshError(res)
	event := AuditEvent{Subject: res.Subject, TokenID: res.TokenID}
	switch res.Failure {
	case internalflows.RefreshFailureReplay:
		e.metricInc(MetricRefreshReplayDetected)
		event.EventType = internalaudit.EventRefreshReplay
	case internalflows.RefreshFailureRevoked:
		e.metricInc(MetricRefreshRevoked)
		event.EventType = internalaudit.EventRefreshRevoked
	default:
		e.metricInc(MetricRefreshFailure)
		event.EventType = internalaudit.EventRefreshInvalid
	}
	e.noteUnavailable(err)
	e.emitAudit(ctx, event, err)

	attrs := []slog.Attr{slog.String("subject", res.Subject)}
	if presented != "" {
		attrs = append(attrs, redactToken(presented))
	}
	e.logSecurity(ctx, "refresh rejected", err, attrs...)
	return TokenPair{}, err
}

func refreshError(res internalflows.RefreshResult) error {
	switch res.Failure {
	case internalflows.RefreshFailureReplay:
		return ErrReplayDetected
	case internalflows.RefreshFailureRevoked:
		return ErrRevoked
	case internalflows.RefreshFailureNotFound:
		return ErrNotFound
	case internalflows.RefreshFailureExpired:
		return ErrExpired
	case internalflows.RefreshFailureDecode:
		return res.Err
	default:
		return unavailable(res.Err)
	}
}

// Logout revokes the record behind refreshToken. Logging out an unknown,
// revoked or expired token succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	res := internalflows.RunLogout(ctx, refreshToken, e.flows.Logout)
	if res.Err != nil {
		err := unavailable(res.Err)
		e.noteUnavailable(err)
		e.emitAudit(ctx, AuditEvent{
			EventType: internalaudit.EventLogout,
			Subject:   res.Subject,
			TokenID:   res.TokenID,
		}, err)
		e.logSecurity(ctx, "logout failed", err, redactToken(refreshToken))
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: internalaudit.EventLogout,
		Subject:   res.Subject,
		TokenID:   res.TokenID,
		Success:   true,
		Metadata:  map[string]string{"missing": strconv.FormatBool(res.Missing)},
	}, nil)
	return nil
}

// LogoutAll revokes every live refresh token of subject.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if subject == "" {
		return ErrInvalidRequest
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	n, err := internalflows.RunLogoutAll(ctx, subject, e.flows.Logout)
	if err != nil {
		err = unavailable(err)
		e.noteUnavailable(err)
		e.emitAudit(ctx, AuditEvent{EventType: internalaudit.EventLogoutAll, Subject: subject}, err)
		e.logSecurity(ctx, "logout all failed", err, slog.String("subject", subject))
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: internalaudit.EventLogoutAll,
		Subject:   subject,
		Success:   true,
		Metadata:  map[string]string{"revoked": strconv.Itoa(n)},
	}, nil)
	return nil
}

/*
====================================
REQUEST CHECKS
====================================
*/

// Verify checks an access token. It never touches the refresh store.
func (e *Engine) Verify(_ context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		e.metricInc(MetricVerifyFailure)
		return nil, ErrUnauthenticated
	}
	claims, err := e.verifier.Verify(accessToken, token.KindAccess)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metricInc(MetricVerifyExpired)
		} else {
			e.metricInc(MetricVerifyFailure)
		}
		return nil, err
	}
	e.metricInc(MetricVerifySuccess)
	return &claims, nil
}

// Authorize admits claims whose role is one of roles. With no roles it
// admits nobody.
func (e *Engine) Authorize(claims *Claims, roles ...string) error {
	required, err := e.registry.RoleSet(roles...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownRole, err)
	}
	if err := e.guard.Check(claims, required); err != nil {
		e.metricInc(MetricAuthorizeDenied)
		return err
	}
	return nil
}

// Admit charges one request by key against the limit of class. Classes
// without a rule use the default rule. Backend failures reject the request.
func (e *Engine) Admit(ctx context.Context, class, key string) (RateDecision, error) {
	class, limiter := e.limiterFor(class)
	if limiter == nil {
		return RateDecision{Allowed: true}, nil
	}
	return e.admit(ctx, limiter, class, key)
}

func (e *Engine) admit(ctx context.Context, limiter *rate.Limiter, class, key string) (RateDecision, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if key == "" {
		key = "anonymous"
	}
	dec, err := limiter.Admit(ctx, class+":"+key)
	if err != nil {
		err = unavailable(err)
		e.noteUnavailable(err)
		return dec, err
	}
	if !dec.Allowed {
		e.metricInc(MetricRateLimitHit)
		return dec, ErrRateLimited
	}
	return dec, nil
}

func (e *Engine) limiterFor(class string) (string, *rate.Limiter) {
	if len(e.limiters) == 0 {
		return class, nil
	}
	if l, ok := e.limiters[class]; ok {
		return class, l
	}
	return DefaultRateClass, e.limiters[DefaultRateClass]
}

func (e *Engine) noteUnavailable(err error) {
	if KindOf(err) == KindUnavailable {
		e.metricInc(MetricBackendUnavailable)
	}
}

/*
====================================
ROUTES AND PIPELINE
====================================
*/

// Route compiles a route policy. With no roles any authenticated caller is
// admitted. Unknown role names are an error.
func (e *Engine) Route(class string, roles ...string) (*Route, error) {
	required, err := e.registry.RoleSet(roles...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRole, err)
	}
	class, limiter := e.limiterFor(class)
	return &Route{
		class:    class,
		roles:    append([]string(nil), roles...),
		required: required,
		limiter:  limiter,
	}, nil
}

// PublicRoute compiles a route that is only rate limited, such as the login
// endpoint.
func (e *Engine) PublicRoute(class string) *Route {
	class, limiter := e.limiterFor(class)
	return &Route{class: class, limiter: limiter, public: true}
}

// Pipeline returns the standard admission, verification, authorization
// pipeline.
func (e *Engine) Pipeline() *Pipeline {
	return e.pipeline
}

// Handle runs req through the pipeline. The Result is returned even on
// failure.
func (e *Engine) Handle(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	res, err := e.pipeline.Run(ctx, req)
	if e.metrics != nil {
		e.metrics.Observe(MetricPipelineLatency, time.Since(start))
	}
	if err == nil {
		return res, nil
	}

	err = unavailable(err)
	ctx = WithRequestID(ctx, res.RequestID.String())

	event := AuditEvent{Route: res.Route, Metadata: map[string]string{"stage": res.Stage}}
	if req != nil {
		event.ClientKey = req.ClientKey
	}
	if res.Claims != nil {
		event.Subject = res.Claims.Subject
	}
	switch KindOf(err) {
	case KindRateLimited:
		event.EventType = internalaudit.EventRateLimited
	case KindForbidden:
		event.EventType = internalaudit.EventForbidden
	case KindUnavailable:
		event.EventType = internalaudit.EventBackendDegraded
	default:
		event.EventType = internalaudit.EventVerifyFailure
	}
	e.emitAudit(ctx, event, err)

	attrs := []slog.Attr{slog.String("stage", res.Stage), slog.String("route", res.Route)}
	if req != nil && req.Authorization != "" {
		attrs = append(attrs, redactToken(BearerToken(req.Authorization)))
	}
	e.logSecurity(ctx, "request rejected", err, attrs...)
	return res, err
}

/*
====================================
MAINTENANCE
====================================
*/

// Sweep removes expired refresh records and idle in-memory rate windows. It
// returns the number of refresh records removed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	e.sweepRate()
	return e.sweepRefresh(ctx)
}

func (e *Engine) sweepRate() {
	if e.memRate != nil {
		e.memRate.Sweep(e.clock.Now(), e.config.RateLimit.IdleTTL)
	}
}

func (e *Engine) sweepRefresh(ctx context.Context) (int, error) {
	sweeper, ok := e.store.(refresh.Sweeper)
	if !ok {
		return 0, nil
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	n, err := sweeper.Sweep(ctx, e.clock.Now())
	if err != nil {
		return n, unavailable(err)
	}
	if e.metrics != nil {
		e.metrics.Add(MetricRefreshSwept, uint64(n))
	}
	return n, nil
}

// Start runs the periodic sweepers until ctx is cancelled. It returns nil on
// cancellation. With Store.SweepInterval zero it returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	interval := e.config.Store.SweepInterval
	if interval <= 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if _, ok := e.store.(refresh.Sweeper); ok {
		g.Go(func() error {
			return every(ctx, interval, func() {
				n, err := e.sweepRefresh(ctx)
				if err != nil {
					e.logger.LogAttrs(ctx, slog.LevelError, "refresh sweep failed", slog.String("error", err.Error()))
					return
				}
				if n > 0 {
					e.logger.LogAttrs(ctx, slog.LevelDebug, "swept refresh records", slog.Int("removed", n))
				}
			})
		})
	}
	if e.memRate != nil {
		g.Go(func() error {
			return every(ctx, interval, e.sweepRate)
		})
	}
	return g.Wait()
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
