package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/audit"
	"github.com/dmitrymomot/quotagate/pkg/gate"
	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
)

// DegradedPolicy chooses the verdict when usage cannot be read.
type DegradedPolicy int

const (
	// FailOpen grants the full plan allowance and marks the decision degraded.
	FailOpen DegradedPolicy = iota
	// FailClosed treats the limit as reached.
	FailClosed
)

// ParseDegradedPolicy accepts "fail_open" and "fail_closed".
func ParseDegradedPolicy(s string) (DegradedPolicy, error) {
	switch s {
	case "fail_open", "":
		return FailOpen, nil
	case "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, errors.New("access: unknown degraded policy " + s)
}

// Request is the input of Decide.
type Request struct {
	UserID          string
	Plan            plan.Tier
	ResourceID      string
	IsAdministrator bool
	// Now defaults to the engine clock.
	Now time.Time
}

// Engine combines plan gating and quota evaluation into a Decision.
type Engine struct {
	registry  *gate.Registry
	evaluator *quota.Evaluator
	degraded  DegradedPolicy
	audit     *audit.Logger
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDegradedPolicy sets the verdict used when usage cannot be read.
// Defaults to FailOpen.
func WithDegradedPolicy(p DegradedPolicy) EngineOption {
	return func(e *Engine) { e.degraded = p }
}

// WithAuditLogger records every administrator override.
func WithAuditLogger(a *audit.Logger) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// WithMetrics counts decisions by reason and state.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger. Nil is ignored.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the clock used when a Request has no Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine panics on nil dependencies.
func NewEngine(registry *gate.Registry, evaluator *quota.Evaluator, opts ...EngineOption) *Engine {
	if registry == nil {
		panic("access: registry cannot be nil")
	}
	if evaluator == nil {
		panic("access: evaluator cannot be nil")
	}
	e := &Engine{
		registry:  registry,
		evaluator: evaluator,
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("access.engine"))
	return e
}

// Registry returns the gated-resource registry.
func (e *Engine) Registry() *gate.Registry { return e.registry }

// Evaluator returns the quota evaluator.
func (e *Engine) Evaluator() *quota.Evaluator { return e.evaluator }

// Decide computes a decision. It performs no writes apart from the audit
// entry of an administrator override.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	d := e.decide(ctx, req)
	e.metrics.decision(d)
	return d
}

func (e *Engine) decide(ctx context.Context, req Request) Decision {
	if req.Now.IsZero() {
		req.Now = e.now()
	}

	if req.IsAdministrator && req.UserID != "" {
		return e.adminOverride(ctx, req)
	}
	if req.UserID == "" {
		return identityUnresolved()
	}

	class := e.registry.ClassOf(req.ResourceID)
	avail := e.registry.Resolve(req.ResourceID, req.Plan)
	if avail.Reason == gate.Undeclared {
		e.log.WarnContext(ctx, "undeclared resource treated as available", logger.ResourceID(req.ResourceID))
	}

	d := Decision{Plan: req.Plan, RequiredPlan: avail.RequiredPlan, State: Determined}

	u, err := e.evaluator.Evaluate(ctx, req.UserID, req.Plan, class, req.Now)
	switch {
	case err == nil:
		d.applyUsage(u)
	case errors.Is(err, quota.ErrQuotaReadFailure):
		e.metrics.degradedDependency("usage_ledger")
		d.applyUsage(u)
		d.State = Degraded
		d.Cause = err
		if e.degraded == FailClosed {
			d.HasReachedLimit = true
			d.CallsRemaining = 0
		}
	default:
		e.log.ErrorContext(ctx, "quota evaluation failed", logger.ResourceID(req.ResourceID), logger.Class(class), logger.Error(err))
		d.applyUsage(u)
		d.HasReachedLimit = true
		d.CallsRemaining = 0
		d.Reason = ReasonMisconfigured
		d.Message = msgMisconfigure
		d.Cause = err
		return d
	}

	d.HasAccess = avail.Available && !d.HasReachedLimit

	switch {
	case !avail.Available:
		d.Reason = ReasonPlanTooLow
		d.Message = planMessage(avail.RequiredPlan)
	case d.HasReachedLimit && d.State == Degraded:
		d.Reason = ReasonUsageUnavailable
		d.Message = msgUnavailable
	case d.HasReachedLimit:
		d.Reason = ReasonQuotaExhausted
		d.Message = exhaustedMessage(u)
	default:
		d.Reason = ReasonGranted
		d.Message = remainingMessage(u)
	}
	return d
}

// adminOverride is the only path that grants access without consulting
// the registry or the quota.
func (e *Engine) adminOverride(ctx context.Context, req Request) Decision {
	e.log.InfoContext(ctx, "administrator override", logger.UserID(req.UserID), logger.ResourceID(req.ResourceID))
	if e.audit != nil {
		if err := e.audit.Log(ctx, "access.admin_override",
			audit.WithResource(req.ResourceID),
			audit.WithMetadata("user_id", req.UserID),
			audit.WithMetadata("plan", string(req.Plan)),
		); err != nil {
			e.log.ErrorContext(ctx, "failed to audit administrator override", logger.Error(err))
		}
	}
	return Decision{
		HasAccess:       true,
		HasReachedLimit: false,
		Message:         msgAdmin,
		Reason:          ReasonAdminOverride,
		State:           Determined,
		Plan:            req.Plan,
	}
}
