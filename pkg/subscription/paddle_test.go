package subscription_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
)

const webhookSecret = "pdl_ntfset_test_secret"

func sign(t *testing.T, body string) string {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts + ":" + body))
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func payload(eventType, status, userID, priceID string, occurredAt time.Time) string {
	return fmt.Sprintf(`{
  "event_id": "evt_01",
  "event_type": %q,
  "occurred_at": %q,
  "data": {
    "id": "sub_01",
    "status": %q,
    "custom_data": {"user_id": %q},
    "items": [{"price": {"id": %q}}],
    "scheduled_change": {"action": "cancel"},
    "current_billing_period": {"ends_at": "2026-11-01T00:00:00Z"}
  }
}`, eventType, occurredAt.Format(time.RFC3339), status, userID, priceID)
}

type invalidations struct{ ids []string }

func (i *invalidations) Invalidate(_ context.Context, userID string) { i.ids = append(i.ids, userID) }

func newWebhook(t *testing.T, store subscription.Store, opts ...subscription.WebhookOption) *subscription.PaddleWebhook {
	t.Helper()
	h, err := subscription.NewPaddleWebhook(subscription.PaddleConfig{
		WebhookSecret: webhookSecret,
		PricePlans:    map[string]string{"pri_basic": "basic", "pri_pro": "pro"},
	}, store, opts...)
	require.NoError(t, err)
	return h
}

func TestPaddleWebhook_Apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	t.Run("stores subscription", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		inv := &invalidations{}
		h := newWebhook(t, store, subscription.WithInvalidator(inv))

		body := payload("subscription.updated", "active", "u1", "pri_pro", at)
		sub, err := h.Apply(ctx, []byte(body), sign(t, body))
		require.NoError(t, err)
		require.NotNil(t, sub)

		stored, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, plan.Pro, stored.Plan)
		assert.Equal(t, subscription.StatusActive, stored.Status)
		assert.True(t, stored.CancelAtPeriodEnd)
		assert.Equal(t, "sub_01", stored.ProviderSubscriptionID)
		assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), stored.CurrentPeriodEnd)
		assert.Equal(t, []string{"u1"}, inv.ids)
	})

	t.Run("cancellation drops to free", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		h := newWebhook(t, store)
		body := payload("subscription.canceled", "canceled", "u1", "pri_pro", at)
		_, err := h.Apply(ctx, []byte(body), sign(t, body))
		require.NoError(t, err)

		tier, err := subscription.CurrentPlan(ctx, store, "u1")
		require.NoError(t, err)
		assert.Equal(t, plan.Free, tier)
	})

	t.Run("stale event ignored", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore(subscription.Subscription{
			UserID: "u1", Plan: plan.Basic, Status: subscription.StatusActive, UpdatedAt: at.Add(time.Hour),
		})
		h := newWebhook(t, store)
		body := payload("subscription.updated", "active", "u1", "pri_pro", at)
		sub, err := h.Apply(ctx, []byte(body), sign(t, body))
		require.NoError(t, err)
		assert.Nil(t, sub)

		stored, _ := store.Get(ctx, "u1")
		assert.Equal(t, plan.Basic, stored.Plan)
	})

	t.Run("non subscription event ignored", func(t *testing.T) {
		t.Parallel()
		h := newWebhook(t, subscription.NewMemoryStore())
		body := payload("transaction.completed", "completed", "u1", "pri_pro", at)
		sub, err := h.Apply(ctx, []byte(body), sign(t, body))
		require.NoError(t, err)
		assert.Nil(t, sub)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		h := newWebhook(t, subscription.NewMemoryStore())

		body := payload("subscription.updated", "active", "u1", "pri_pro", at)
		_, err := h.Apply(ctx, []byte(body), "ts=1;h1=deadbeef")
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)

		body = payload("subscription.updated", "active", "u1", "pri_unknown", at)
		_, err = h.Apply(ctx, []byte(body), sign(t, body))
		assert.ErrorIs(t, err, subscription.ErrUnknownPrice)

		body = payload("subscription.updated", "active", "", "pri_pro", at)
		_, err = h.Apply(ctx, []byte(body), sign(t, body))
		assert.ErrorIs(t, err, subscription.ErrInvalidPayload)
	})
}

func TestPaddleWebhook_ServeHTTP(t *testing.T) {
	t.Parallel()

	h := newWebhook(t, subscription.NewMemoryStore())
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	body := payload("subscription.created", "trialing", "u1", "pri_basic", at)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(body))
	req.Header.Set("Paddle-Signature", sign(t, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewPaddleWebhook_Validation(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewPaddleWebhook(subscription.PaddleConfig{}, subscription.NewMemoryStore())
	require.Error(t, err)

	_, err = subscription.NewPaddleWebhook(subscription.PaddleConfig{
		WebhookSecret: webhookSecret,
		PricePlans:    map[string]string{"pri_x": "gold"},
	}, subscription.NewMemoryStore())
	assert.ErrorIs(t, err, plan.ErrUnknownTier)
}
