package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/plan"
)

// State classifies a subscription read.
type State int

const (
	// Pending means the read did not finish within the allotted time.
	Pending State = iota
	// Known means the plan was read, or the user has no record and is free.
	Known
	// Unavailable means the source failed.
	Unavailable
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case Unavailable:
		return "unavailable"
	default:
		return "pending"
	}
}

// Resolution is the result of Resolve.
type Resolution struct {
	State State
	// Subscription is nil when State is not Known or the user has no record.
	Subscription *Subscription
	Err          error
}

// Plan returns the effective tier. Anything other than Known resolves to free.
func (r Resolution) Plan() plan.Tier {
	if r.State != Known {
		return plan.Free
	}
	return r.Subscription.EffectivePlan()
}

// Resolve reads userID's subscription, waiting at most timeout. A
// non-positive timeout waits as long as ctx allows.
func Resolve(ctx context.Context, src Source, userID string, timeout time.Duration) Resolution {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		sub *Subscription
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := src.Get(ctx, userID)
		done <- result{sub: sub, err: err}
	}()

	select {
	case <-ctx.Done():
		return Resolution{State: Pending, Err: ctx.Err()}
	case r := <-done:
		switch {
		case r.err == nil:
			return Resolution{State: Known, Subscription: r.sub}
		case errors.Is(r.err, ErrSubscriptionNotFound):
			return Resolution{State: Known}
		case errors.Is(r.err, context.DeadlineExceeded), errors.Is(r.err, context.Canceled):
			return Resolution{State: Pending, Err: r.err}
		default:
			return Resolution{State: Unavailable, Err: errors.Join(ErrSourceUnavailable, r.err)}
		}
	}
}
