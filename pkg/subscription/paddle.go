package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
)

const paddleSignatureHeader = "Paddle-Signature"

// PaddleConfig is read from the environment.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	// PricePlans maps Paddle price ids to tiers, e.g. "pri_01:basic,pri_02:pro".
	PricePlans map[string]string `env:"PADDLE_PRICE_PLANS"`
}

// Invalidator drops cached reads after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// PaddleWebhook applies Paddle subscription events to a Store.
type PaddleWebhook struct {
	verifier    *paddle.WebhookVerifier
	store       Store
	prices      map[string]plan.Tier
	invalidator Invalidator
	log         *slog.Logger
	maxBody     int64
}

// WebhookOption configures a PaddleWebhook.
type WebhookOption func(*PaddleWebhook)

// WithInvalidator drops cached reads for a user after each applied event.
func WithInvalidator(inv Invalidator) WebhookOption {
	return func(h *PaddleWebhook) { h.invalidator = inv }
}

// WithWebhookLogger sets the webhook logger. Nil is ignored.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(h *PaddleWebhook) {
		if l != nil {
			h.log = l
		}
	}
}

// NewPaddleWebhook validates the price map against the tier enumeration.
func NewPaddleWebhook(cfg PaddleConfig, store Store, opts ...WebhookOption) (*PaddleWebhook, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("subscription: paddle webhook secret is required")
	}
	if store == nil {
		return nil, errors.New("subscription: store is required")
	}
	prices := make(map[string]plan.Tier, len(cfg.PricePlans))
	for priceID, name := range cfg.PricePlans {
		tier, err := plan.Parse(name)
		if err != nil {
			return nil, errors.Join(plan.ErrInvalidCatalog, fmt.Errorf("paddle price %q", priceID), err)
		}
		prices[priceID] = tier
	}
	h := &PaddleWebhook{
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		store:    store,
		prices:   prices,
		log:      logger.Discard(),
		maxBody:  1 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logger.Component("subscription.paddle"))
	return h, nil
}

type paddleEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID         string         `json:"id"`
		Status     string         `json:"status"`
		CustomData map[string]any `json:"custom_data"`
		Items      []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
		ScheduledChange *struct {
			Action string `json:"action"`
		} `json:"scheduled_change"`
		CurrentBillingPeriod *struct {
			EndsAt time.Time `json:"ends_at"`
		} `json:"current_billing_period"`
	} `json:"data"`
}

// Apply verifies and applies one webhook delivery. Non-subscription events
// and deliveries older than the stored record return (nil, nil).
func (h *PaddleWebhook) Apply(ctx context.Context, payload []byte, signature string) (*Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(paddleSignatureHeader, signature)
	valid, err := h.verifier.Verify(req)
	if err != nil || !valid {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if !strings.HasPrefix(ev.EventType, "subscription.") {
		return nil, nil
	}

	sub, err := h.toSubscription(&ev)
	if err != nil {
		return nil, err
	}

	prev, err := h.store.Get(ctx, sub.UserID)
	if err == nil && prev.UpdatedAt.After(sub.UpdatedAt) {
		h.log.InfoContext(ctx, "skipping stale subscription event",
			logger.UserID(sub.UserID), logger.Event(ev.EventType), slog.String("event_id", ev.EventID))
		return nil, nil
	}

	if err := h.store.Save(ctx, sub); err != nil {
		return nil, err
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(ctx, sub.UserID)
	}
	h.log.InfoContext(ctx, "subscription updated",
		logger.UserID(sub.UserID), logger.Plan(sub.Plan), slog.String("status", string(sub.Status)), logger.Event(ev.EventType))
	return sub, nil
}

func (h *PaddleWebhook) toSubscription(ev *paddleEvent) (*Subscription, error) {
	userID, _ := ev.Data.CustomData["user_id"].(string)
	if userID == "" {
		return nil, errors.Join(ErrInvalidPayload, ErrMissingUserID)
	}
	if len(ev.Data.Items) == 0 {
		return nil, errors.Join(ErrInvalidPayload, errors.New("subscription has no items"))
	}
	priceID := ev.Data.Items[0].Price.ID
	tier, ok := h.prices[priceID]
	if !ok {
		return nil, errors.Join(ErrUnknownPrice, fmt.Errorf("%q", priceID))
	}

	sub := &Subscription{
		UserID:                 userID,
		Plan:                   tier,
		Status:                 mapPaddleStatus(ev.Data.Status),
		ProviderSubscriptionID: ev.Data.ID,
		UpdatedAt:              ev.OccurredAt,
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	if ev.Data.ScheduledChange != nil && ev.Data.ScheduledChange.Action == "cancel" {
		sub.CancelAtPeriodEnd = true
	}
	if ev.Data.CurrentBillingPeriod != nil {
		sub.CurrentPeriodEnd = ev.Data.CurrentBillingPeriod.EndsAt
	}
	return sub, nil
}

func mapPaddleStatus(s string) Status {
	switch s {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	default:
		// canceled, paused
		return StatusCancelled
	}
}

// ServeHTTP answers 401 for bad signatures, 400 for malformed or unmapped
// events and 500 when the store write fails, so Paddle retries only the
// last case meaningfully.
func (h *PaddleWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	_, err = h.Apply(r.Context(), payload, r.Header.Get(paddleSignatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrInvalidSignature):
		h.log.WarnContext(r.Context(), "rejected paddle webhook", logger.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownPrice):
		h.log.ErrorContext(r.Context(), "unprocessable paddle webhook", logger.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
	default:
		h.log.ErrorContext(r.Context(), "failed to apply paddle webhook", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
