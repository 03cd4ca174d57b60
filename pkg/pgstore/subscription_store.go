package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/quotagate/pkg/pg"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
)

// SubscriptionStore is a subscription.Store backed by the subscriptions table.
type SubscriptionStore struct {
	db DBTX
}

// NewSubscriptionStore reads and writes the subscriptions table.
func NewSubscriptionStore(db DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const (
	getSubscriptionSQL = `SELECT user_id, plan, status, cancel_at_period_end, provider_subscription_id, current_period_end, updated_at
		FROM subscriptions WHERE user_id = $1`

	// Older webhook deliveries never overwrite newer state.
	saveSubscriptionSQL = `INSERT INTO subscriptions
		(user_id, plan, status, cancel_at_period_end, provider_subscription_id, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		WHERE subscriptions.updated_at <= EXCLUDED.updated_at`
)

// Get returns subscription.ErrSubscriptionNotFound when the user has no row
// and subscription.ErrSourceUnavailable for any other failure.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	var (
		sub          subscription.Subscription
		tier, status string
		periodEnd    *time.Time
	)
	err := s.db.QueryRow(ctx, getSubscriptionSQL, userID).Scan(
		&sub.UserID, &tier, &status, &sub.CancelAtPeriodEnd, &sub.ProviderSubscriptionID, &periodEnd, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, errors.Join(subscription.ErrSourceUnavailable, err)
	}
	sub.Plan = plan.Tier(tier)
	sub.Status = subscription.Status(status)
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd.UTC()
	}
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// Save upserts sub. An update older than the stored row is ignored, so
// webhooks delivered out of order cannot roll a plan back.
func (s *SubscriptionStore) Save(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return subscription.ErrMissingUserID
	}
	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		t := sub.CurrentPeriodEnd.UTC()
		periodEnd = &t
	}
	updated := sub.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(ctx, saveSubscriptionSQL,
		sub.UserID, string(sub.Plan), string(sub.Status), sub.CancelAtPeriodEnd,
		sub.ProviderSubscriptionID, periodEnd, updated.UTC(),
	)
	if err != nil {
		return errors.Join(subscription.ErrSourceUnavailable, err)
	}
	return nil
}
