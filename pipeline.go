package gatekeep

import (
	"context"
	"strings"

	"github.com/MrEthical07/gatekeep/internal/rate"
	"github.com/MrEthical07/gatekeep/permission"
	"github.com/google/uuid"
)

// Standard stage names, in pipeline order.
const (
	StageAdmission     = "admission"
	StageVerification  = "verification"
	StageAuthorization = "authorization"
)

// Request is the transport-neutral view of an inbound request.
type Request struct {
	Route *Route
	// ClientKey identifies the caller for rate limiting, usually the client IP.
	ClientKey string
	// Authorization is the raw header value. A "Bearer " prefix is optional.
	Authorization string
	// ResourceOwner is the subject owning the addressed resource, for routes
	// built with [Route.OwnerOrRole].
	ResourceOwner string
}

// Route is a compiled route policy: a rate class and a required role set.
// Routes are immutable and safe to share between goroutines.
type Route struct {
	class    string
	roles    []string
	required permission.Mask64
	limiter  *rate.Limiter
	public   bool
	owner    bool
}

func (r *Route) Class() string { return r.class }

// Roles returns the role names the route admits. Empty means any
// authenticated caller.
func (r *Route) Roles() []string {
	return append([]string(nil), r.roles...)
}

// Public reports whether the route skips verification and authorization.
func (r *Route) Public() bool { return r.public }

// OwnerOrRole returns a copy of r that also admits the owner of the
// addressed resource regardless of role.
func (r *Route) OwnerOrRole() *Route {
	cp := *r
	cp.roles = r.Roles()
	cp.owner = true
	return &cp
}

// Stage is one named step of a [Pipeline]. Run may record what it learned
// in res and returns a non-nil error to stop the pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context, req *Request, res *Result) error
}

// Pipeline runs stages in order and stops at the first error. It holds no
// mutable state.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes the stages against req. The returned Result is never nil.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	res := &Result{RequestID: uuid.New()}
	if req == nil || req.Route == nil {
		return res, ErrUnknownRoute
	}
	res.Route = req.Route.class

	for _, stage := range p.stages {
		if err := stage.Run(ctx, req, res); err != nil {
			res.Stage = stage.Name
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) standardPipeline() *Pipeline {
	return NewPipeline(
		Stage{Name: StageAdmission, Run: e.admissionStage},
		Stage{Name: StageVerification, Run: e.verificationStage},
		Stage{Name: StageAuthorization, Run: e.authorizationStage},
	)
}

func (e *Engine) admissionStage(ctx context.Context, req *Request, res *Result) error {
	route := req.Route
	if route.limiter == nil {
		return nil
	}
	dec, err := e.admit(ctx, route.limiter, route.class, req.ClientKey)
	res.RateLimit = &dec
	return err
}

func (e *Engine) verificationStage(ctx context.Context, req *Request, res *Result) error {
	if req.Route.public {
		return nil
	}
	claims, err := e.Verify(ctx, BearerToken(req.Authorization))
	if err != nil {
		return err
	}
	res.Claims = claims
	return nil
}

func (e *Engine) authorizationStage(_ context.Context, req *Request, res *Result) error {
	route := req.Route
	if route.public || len(route.roles) == 0 {
		return nil
	}
	var err error
	if route.owner {
		err = e.guard.CheckOwnerOrRole(res.Claims, req.ResourceOwner, route.required)
	} else {
		err = e.guard.Check(res.Claims, route.required)
	}
	if err != nil {
		e.metricInc(MetricAuthorizeDenied)
	}
	return err
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively; a value without a scheme is returned
// trimmed.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
