// Package quota evaluates a user's consumption of a resource class against
// the monthly allowance of their plan.
//
// Windows are calendar months in a single configured location (UTC unless
// WithLocation says otherwise). A window starts at 00:00 on the first day
// of the month and the next one starts exactly where it ends, so an event
// always belongs to exactly one window.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

var (
	ErrIdentityUnresolved = errors.New("quota: user identity is unresolved")
	ErrQuotaReadFailure   = errors.New("quota: usage could not be read")
)

// CountingPolicy selects which ledger outcomes consume allowance.
type CountingPolicy int

const (
	// CountAllOutcomes counts every recorded action, including cancelled
	// and failed ones.
	CountAllOutcomes CountingPolicy = iota
	// CountCompletedOnly counts completed actions only.
	CountCompletedOnly
)

func (p CountingPolicy) String() string {
	if p == CountCompletedOnly {
		return "completed_only"
	}
	return "all_outcomes"
}

// Usage is the state of one user's allowance for one class in the current window.
type Usage struct {
	Class        plan.Class `json:"resource_class"`
	Plan         plan.Tier  `json:"plan"`
	Used         int64      `json:"used"`
	Limit        int64      `json:"limit"`
	Remaining    int64      `json:"remaining"`
	ReachedLimit bool       `json:"reached_limit"`
	WindowStart  time.Time  `json:"window_start"`
	ResetsAt     time.Time  `json:"resets_at"`
	// PlanFallback is set when the plan had no allowance of its own and the
	// free allowance was applied.
	PlanFallback bool `json:"plan_fallback,omitempty"`
	// Degraded is set when the ledger could not be read and Used is unknown.
	Degraded bool `json:"degraded,omitempty"`
}

// Percentage of the allowance consumed, capped at 100. A zero allowance
// reports 100.
func (u Usage) Percentage() float64 {
	if u.Limit <= 0 {
		return 100
	}
	p := float64(u.Used) / float64(u.Limit) * 100
	return min(p, 100)
}

func newUsage(class plan.Class, tier plan.Tier, used, limit int64) Usage {
	return Usage{
		Class:        class,
		Plan:         tier,
		Used:         used,
		Limit:        limit,
		Remaining:    max(0, limit-used),
		ReachedLimit: used >= limit,
	}
}

// Evaluator computes Usage from a catalog and a ledger.
type Evaluator struct {
	catalog  *plan.Catalog
	store    usage.Store
	loc      *time.Location
	counting CountingPolicy
	log      *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLocation sets the location whose calendar months define windows.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithCountingPolicy selects which outcomes count toward the allowance.
// Defaults to CountAllOutcomes.
func WithCountingPolicy(p CountingPolicy) Option {
	return func(e *Evaluator) { e.counting = p }
}

// WithLogger sets the evaluator logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEvaluator panics on nil dependencies.
func NewEvaluator(catalog *plan.Catalog, store usage.Store, opts ...Option) *Evaluator {
	if catalog == nil {
		panic("quota: catalog cannot be nil")
	}
	if store == nil {
		panic("quota: usage store cannot be nil")
	}
	e := &Evaluator{
		catalog: catalog,
		store:   store,
		loc:     time.UTC,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("quota"))
	return e
}

// Catalog returns the catalog the evaluator reads allowances from.
func (e *Evaluator) Catalog() *plan.Catalog { return e.catalog }

// Window returns the bounds of the calendar month containing now.
func (e *Evaluator) Window(now time.Time) (start, end time.Time) {
	local := now.In(e.loc)
	start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, e.loc)
	return start, start.AddDate(0, 1, 0)
}

// Filter selects the ledger events that count against the window containing now.
func (e *Evaluator) Filter(userID string, class plan.Class, now time.Time) usage.Filter {
	start, _ := e.Window(now)
	f := usage.Filter{UserID: userID, Class: class, Since: start}
	if e.counting == CountCompletedOnly {
		f.Outcomes = []usage.Outcome{usage.Completed}
	}
	return f
}

// Allowance resolves the limit for tier and logs a plan fallback.
func (e *Evaluator) Allowance(ctx context.Context, class plan.Class, tier plan.Tier) (plan.Allowance, error) {
	a, err := e.catalog.Allowance(class, tier)
	if err != nil {
		return plan.Allowance{}, err
	}
	if a.Fallback {
		e.log.WarnContext(ctx, "plan has no allowance, using free tier", logger.Plan(tier), logger.Class(class))
	}
	return a, nil
}

// Evaluate computes the user's usage for class in the window containing now.
//
// An empty userID yields ErrIdentityUnresolved and a usage with the limit
// reached. When the ledger cannot be read the usage carries the full plan
// allowance with Degraded set and the error wraps ErrQuotaReadFailure, so
// callers decide between failing open and failing closed.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, tier plan.Tier, class plan.Class, now time.Time) (Usage, error) {
	start, end := e.Window(now)

	if userID == "" {
		u := newUsage(class, tier, 0, 0)
		u.WindowStart, u.ResetsAt = start, end
		return u, ErrIdentityUnresolved
	}

	a, err := e.Allowance(ctx, class, tier)
	if err != nil {
		u := newUsage(class, tier, 0, 0)
		u.WindowStart, u.ResetsAt = start, end
		return u, err
	}

	used, err := e.store.Count(ctx, e.Filter(userID, class, now))
	if err != nil {
		e.log.ErrorContext(ctx, "failed to read usage", logger.UserID(userID), logger.Class(class), logger.Error(err))
		u := newUsage(class, tier, 0, a.Limit)
		u.WindowStart, u.ResetsAt = start, end
		u.PlanFallback = a.Fallback
		u.Degraded = true
		return u, errors.Join(ErrQuotaReadFailure, err)
	}

	u := newUsage(class, tier, used, a.Limit)
	u.WindowStart, u.ResetsAt = start, end
	u.PlanFallback = a.Fallback
	return u, nil
}
