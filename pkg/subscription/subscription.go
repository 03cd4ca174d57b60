package subscription

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/plan"
)

// Status is the billing state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
)

// Subscription is a user's billing record. Only the billing adapter writes it.
type Subscription struct {
	UserID                 string    `json:"user_id"`
	Plan                   plan.Tier `json:"plan"`
	Status                 Status    `json:"status"`
	CancelAtPeriodEnd      bool      `json:"cancel_at_period_end"`
	ProviderSubscriptionID string    `json:"provider_subscription_id,omitempty"`
	CurrentPeriodEnd       time.Time `json:"current_period_end,omitzero"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (s *Subscription) IsActive() bool    { return s.Status == StatusActive }
func (s *Subscription) IsTrialing() bool  { return s.Status == StatusTrialing }
func (s *Subscription) IsCancelled() bool { return s.Status == StatusCancelled }

// GrantsPaidAccess reports whether the status still entitles the user to
// the subscribed plan. Past-due subscriptions keep access during dunning.
func (s *Subscription) GrantsPaidAccess() bool {
	switch s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// EffectivePlan is the tier the user is entitled to right now. A nil
// subscription, a status without paid access and an unknown tier all
// resolve to free.
func (s *Subscription) EffectivePlan() plan.Tier {
	if s == nil || !s.GrantsPaidAccess() {
		return plan.Free
	}
	return s.Plan.OrFree()
}

// Source reads subscriptions.
type Source interface {
	// Get returns ErrSubscriptionNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*Subscription, error)
}

// Store is a Source the billing adapter can write to.
type Store interface {
	Source
	Save(ctx context.Context, sub *Subscription) error
}

// CurrentPlan returns the effective tier of userID. A missing record means free.
func CurrentPlan(ctx context.Context, src Source, userID string) (plan.Tier, error) {
	sub, err := src.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return plan.Free, nil
	}
	if err != nil {
		return plan.Free, err
	}
	return sub.EffectivePlan(), nil
}

// MemoryStore keeps subscriptions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewMemoryStore seeds the store with initial.
func NewMemoryStore(initial ...Subscription) *MemoryStore {
	s := &MemoryStore{subs: make(map[string]Subscription, len(initial))}
	for _, sub := range initial {
		s.subs[sub.UserID] = sub
	}
	return s
}

// Get returns a copy of the stored subscription.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

// Save stores a copy of sub, keyed by UserID.
func (s *MemoryStore) Save(_ context.Context, sub *Subscription) error {
	if sub == nil || sub.UserID == "" {
		return ErrMissingUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = *sub
	return nil
}

// Snapshot returns a copy of all stored subscriptions.
func (s *MemoryStore) Snapshot() map[string]Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.subs)
}
