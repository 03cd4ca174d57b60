package usage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes BreakerStore.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerStore short-circuits calls to a failing backend. While open,
// reads fail fast with ErrReadFailure and writes with ErrWriteFailure.
// Duplicate and not-found results are expected answers and never trip it.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps next. Zero settings fields get defaults:
// 5 consecutive failures and a 30s open timeout.
func NewBreakerStore(next Store, s BreakerSettings) *BreakerStore {
	if next == nil {
		panic("usage: store cannot be nil")
	}
	if s.Name == "" {
		s.Name = "usage-ledger"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	threshold := s.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrDuplicateEvent) ||
				errors.Is(err, ErrEventNotFound) ||
				errors.Is(err, ErrConditionalUnsupported) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: s.OnStateChange,
	})
	return &BreakerStore{next: next, cb: cb}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// Insert does not count duplicate events as failures.
func (b *BreakerStore) Insert(ctx context.Context, e *Event) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Insert(ctx, e)
	})
	return wrapOpen(err, ErrWriteFailure)
}

// Count fails fast with ErrReadFailure while the breaker is open.
func (b *BreakerStore) Count(ctx context.Context, f Filter) (int64, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Count(ctx, f)
	})
	if err != nil {
		return 0, wrapOpen(err, ErrReadFailure)
	}
	return v.(int64), nil
}

// FindByIdempotencyKey does not count misses as failures.
func (b *BreakerStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*Event, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.FindByIdempotencyKey(ctx, userID, key)
	})
	if err != nil {
		return nil, wrapOpen(err, ErrReadFailure)
	}
	return v.(*Event), nil
}

type insertIfBelowResult struct {
	inserted bool
	used     int64
}

// InsertIfBelow forwards to the wrapped store when it is a ConditionalStore.
func (b *BreakerStore) InsertIfBelow(ctx context.Context, e *Event, f Filter, limit int64) (bool, int64, error) {
	cs, ok := b.next.(ConditionalStore)
	if !ok {
		return false, 0, ErrConditionalUnsupported
	}
	v, err := b.cb.Execute(func() (any, error) {
		inserted, used, err := cs.InsertIfBelow(ctx, e, f, limit)
		return insertIfBelowResult{inserted: inserted, used: used}, err
	})
	res, _ := v.(insertIfBelowResult)
	return res.inserted, res.used, wrapOpen(err, ErrWriteFailure)
}

func wrapOpen(err, kind error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(kind, err)
	}
	return err
}
