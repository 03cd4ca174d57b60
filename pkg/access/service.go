package access

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/identity"
	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

// RecordOptions describes a confirmed action passed to RecordUsage and Consume.
type RecordOptions struct {
	Outcome        usage.Outcome
	IdempotencyKey string
	Metadata       map[string]string
}

// Service is the caller-facing API.
type Service struct {
	engine   *Engine
	recorder *usage.Recorder
	subs     subscription.Source
	ids      identity.Source
	admins   *identity.AdminList
	timeout  time.Duration
	locks    *keyedMutex
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIdentitySource replaces the default context-based identity source.
func WithIdentitySource(src identity.Source) ServiceOption {
	return func(s *Service) {
		if src != nil {
			s.ids = src
		}
	}
}

// WithAdminList sets who bypasses plan and quota checks. Without it nobody does.
func WithAdminList(l *identity.AdminList) ServiceOption {
	return func(s *Service) { s.admins = l }
}

// WithSubscriptionTimeout bounds how long a subscription read may take
// before the decision is reported as pending.
func WithSubscriptionTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithServiceMetrics records write outcomes and degraded dependencies.
func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the service logger. Nil is ignored.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServiceClock sets the clock used for decisions and recorded events.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics on nil dependencies.
func NewService(engine *Engine, recorder *usage.Recorder, subs subscription.Source, opts ...ServiceOption) *Service {
	if engine == nil || recorder == nil || subs == nil {
		panic("access: engine, recorder and subscription source are required")
	}
	s := &Service{
		engine:   engine,
		recorder: recorder,
		subs:     subs,
		ids:      identity.ContextSource{},
		timeout:  3 * time.Second,
		locks:    newKeyedMutex(),
		log:      logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("access.service"))
	return s
}

// caller is the resolved request context for one operation.
type caller struct {
	id       identity.Identity
	admin    bool
	tier     plan.Tier
	resolved subscription.Resolution
}

func (s *Service) resolveCaller(ctx context.Context) (caller, bool) {
	id, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return caller{}, false
	}
	c := caller{id: id, admin: s.admins.IsAdministrator(id)}
	c.resolved = subscription.Resolve(ctx, s.subs, id.UserID, s.timeout)
	c.tier = c.resolved.Plan()
	if c.resolved.State == subscription.Unavailable {
		s.log.WarnContext(ctx, "subscription unavailable, using free plan", logger.UserID(id.UserID), logger.Error(c.resolved.Err))
		s.metrics.degradedDependency("subscription_source")
	}
	return c, true
}

// CheckAccess decides whether the current caller may use resourceID.
func (s *Service) CheckAccess(ctx context.Context, resourceID string) Decision {
	c, ok := s.resolveCaller(ctx)
	if !ok {
		d := identityUnresolved()
		s.metrics.decision(d)
		return d
	}
	return s.decide(ctx, c, resourceID)
}

func (s *Service) decide(ctx context.Context, c caller, resourceID string) Decision {
	if c.resolved.State == subscription.Pending && !c.admin {
		d := pending(c.resolved.Err)
		s.metrics.decision(d)
		return d
	}
	d := s.engine.Decide(ctx, Request{
		UserID:          c.id.UserID,
		Plan:            c.tier,
		ResourceID:      resourceID,
		IsAdministrator: c.admin,
		Now:             s.now(),
	})
	if c.resolved.State == subscription.Unavailable && d.Reason != ReasonAdminOverride {
		d.State = Degraded
		d.Cause = errors.Join(d.Cause, c.resolved.Err)
	}
	return d
}

// RecordUsage appends a usage event for the current caller. Call it only
// after the gated action has actually started.
func (s *Service) RecordUsage(ctx context.Context, resourceID string, opts RecordOptions) (usage.Receipt, error) {
	c, ok := s.resolveCaller(ctx)
	if !ok {
		return usage.Receipt{}, ErrIdentityUnresolved
	}
	rec, err := s.recorder.Record(ctx, s.recordRequest(c, resourceID, opts))
	s.recordMetric(rec, err)
	return rec, err
}

// Consume checks access and records usage as one step. The returned
// decision reflects the state after the write. When access is denied the
// receipt is nil and nothing is written. A key that was already recorded is
// replayed before any quota check, so retrying the action that used the last
// call still returns its receipt.
func (s *Service) Consume(ctx context.Context, resourceID string, opts RecordOptions) (Decision, *usage.Receipt, error) {
	c, ok := s.resolveCaller(ctx)
	if !ok {
		d := identityUnresolved()
		s.metrics.decision(d)
		return d, nil, ErrIdentityUnresolved
	}

	class := s.engine.Registry().ClassOf(resourceID)
	unlock, err := s.locks.Lock(ctx, c.id.UserID+"\x00"+string(class))
	if err != nil {
		d := Decision{Message: msgUnavailable, Reason: ReasonUsageUnavailable, State: Pending, Cause: err}
		s.metrics.decision(d)
		return d, nil, err
	}
	defer unlock()

	prev, found, err := s.recorder.Find(ctx, c.id.UserID, opts.IdempotencyKey)
	if err != nil {
		s.metrics.record("error")
		return Decision{Message: msgUnavailable, Reason: ReasonUsageUnavailable, State: Degraded, Cause: err}, nil, err
	}
	if found {
		s.metrics.record("replayed")
		d := s.decide(ctx, c, resourceID)
		if d.Reason != ReasonAdminOverride {
			d.HasAccess = true
			d.Reason = ReasonReplayed
			d.Message = msgReplayed
		}
		return d, &usage.Receipt{Event: *prev, Replayed: true}, nil
	}

	d := s.decide(ctx, c, resourceID)
	if !d.HasAccess {
		return d, nil, nil
	}

	req := s.recordRequest(c, resourceID, opts)
	if d.Reason == ReasonAdminOverride {
		rec, err := s.recorder.Record(ctx, req)
		s.recordMetric(rec, err)
		if err != nil {
			return d, nil, err
		}
		return d, &rec, nil
	}

	now := s.now()
	adm, err := s.recorder.RecordIfBelow(ctx, req, s.engine.Evaluator().Filter(c.id.UserID, class, now), d.CallLimit)
	if errors.Is(err, usage.ErrConditionalUnsupported) {
		// The per-user lock already serializes this process; the decision
		// above was computed under it.
		rec, err := s.recorder.Record(ctx, req)
		s.recordMetric(rec, err)
		if err != nil {
			return d, nil, err
		}
		if !rec.Replayed {
			d.consumeOne()
		}
		return d, &rec, nil
	}
	if err != nil {
		s.metrics.record("error")
		return d, nil, err
	}
	if !adm.Admitted {
		s.metrics.record("rejected")
		d.exhaust(adm.Used)
		return d, nil, nil
	}
	s.recordMetric(adm.Receipt, nil)
	if !adm.Replayed {
		d.CallsUsed = adm.Used
		d.consumeOne()
	}
	return d, &adm.Receipt, nil
}

// MonthlyUsage returns the caller's usage of class in the current window.
// It returns ErrSubscriptionPending while the plan is still being determined.
// When the subscription source failed, the free allowance is reported with
// Degraded set.
func (s *Service) MonthlyUsage(ctx context.Context, class plan.Class) (quota.Usage, error) {
	c, ok := s.resolveCaller(ctx)
	if !ok {
		return quota.Usage{}, ErrIdentityUnresolved
	}
	if c.resolved.State == subscription.Pending {
		return quota.Usage{}, errors.Join(ErrSubscriptionPending, c.resolved.Err)
	}
	u, err := s.engine.Evaluator().Evaluate(ctx, c.id.UserID, c.tier, class, s.now())
	if err == nil && c.resolved.State == subscription.Unavailable {
		u.Degraded = true
	}
	return u, err
}

// Compare returns the allowance changes between the caller's plan and target.
// A comparison needs a settled plan, so it fails unless the subscription was read.
func (s *Service) Compare(ctx context.Context, target plan.Tier) (plan.Comparison, error) {
	c, ok := s.resolveCaller(ctx)
	if !ok {
		return plan.Comparison{}, ErrIdentityUnresolved
	}
	switch c.resolved.State {
	case subscription.Pending:
		return plan.Comparison{}, errors.Join(ErrSubscriptionPending, c.resolved.Err)
	case subscription.Unavailable:
		return plan.Comparison{}, errors.Join(ErrSubscriptionUnavailable, c.resolved.Err)
	}
	return s.engine.Evaluator().Catalog().Compare(c.tier, target), nil
}

// recordRequest leaves Plan empty unless the subscription was read.
func (s *Service) recordRequest(c caller, resourceID string, opts RecordOptions) usage.RecordRequest {
	var tier plan.Tier
	if c.resolved.State == subscription.Known {
		tier = c.tier
	}
	return usage.RecordRequest{
		UserID:         c.id.UserID,
		ResourceID:     resourceID,
		Class:          s.engine.Registry().ClassOf(resourceID),
		Plan:           tier,
		Outcome:        opts.Outcome,
		IdempotencyKey: opts.IdempotencyKey,
		Metadata:       maps.Clone(opts.Metadata),
		OccurredAt:     s.now(),
	}
}

func (s *Service) recordMetric(rec usage.Receipt, err error) {
	switch {
	case err != nil:
		s.metrics.record("error")
	case rec.Replayed:
		s.metrics.record("replayed")
	default:
		s.metrics.record("recorded")
	}
}

// consumeOne updates counters after one admitted action.
func (d *Decision) consumeOne() {
	d.CallsUsed++
	d.CallsRemaining = max(0, d.CallLimit-d.CallsUsed)
	d.HasReachedLimit = d.CallsUsed >= d.CallLimit
}

// exhaust turns a granted decision into a quota denial observed at write time.
func (d *Decision) exhaust(used int64) {
	d.HasAccess = false
	d.HasReachedLimit = true
	d.CallsUsed = used
	d.CallsRemaining = 0
	d.Reason = ReasonQuotaExhausted
	d.Message = exhaustedMessage(quota.Usage{Limit: d.CallLimit, ResetsAt: d.ResetsAt})
}
