// Package accessapi exposes the access service over HTTP.
package accessapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/quotagate/pkg/access"
	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

// Service is the subset of *access.Service the handlers call.
type Service interface {
	CheckAccess(ctx context.Context, resourceID string) access.Decision
	RecordUsage(ctx context.Context, resourceID string, opts access.RecordOptions) (usage.Receipt, error)
	Consume(ctx context.Context, resourceID string, opts access.RecordOptions) (access.Decision, *usage.Receipt, error)
	MonthlyUsage(ctx context.Context, class plan.Class) (quota.Usage, error)
}

// UsageRequest is the body of the usage and consume endpoints.
type UsageRequest struct {
	Outcome        string            `json:"outcome" validate:"omitempty,oneof=completed cancelled failed"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,max=128,printascii"`
	Metadata       map[string]string `json:"metadata" validate:"omitempty,max=20,dive,keys,min=1,max=64,endkeys,max=512"`
}

func (r UsageRequest) options() access.RecordOptions {
	return access.RecordOptions{
		Outcome:        usage.Outcome(r.Outcome),
		IdempotencyKey: r.IdempotencyKey,
		Metadata:       r.Metadata,
	}
}

// ConsumeResponse is returned by the consume endpoint.
type ConsumeResponse struct {
	Decision access.Decision `json:"decision"`
	Receipt  *usage.Receipt  `json:"receipt,omitempty"`
}

// Handler serves the access API.
type Handler struct {
	svc      Service
	webhook  http.Handler
	validate *validator.Validate
	log      *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithWebhook mounts the billing webhook at /webhooks/paddle.
func WithWebhook(h http.Handler) Option {
	return func(hd *Handler) { hd.webhook = h }
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHandler builds the access API over svc. It panics when svc is nil.
func NewHandler(svc Service, opts ...Option) *Handler {
	if svc == nil {
		panic("accessapi: service cannot be nil")
	}
	h := &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logger.Component("accessapi"))
	return h
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/access/{resourceID}", h.checkAccess)
	r.Post("/access/{resourceID}/usage", h.recordUsage)
	r.Post("/access/{resourceID}/consume", h.consume)
	r.Get("/usage/{class}", h.monthlyUsage)
	if h.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/paddle", h.webhook)
	}
}

// Router returns a standalone router with Routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	d := h.svc.CheckAccess(r.Context(), chi.URLParam(r, "resourceID"))
	if d.Reason == access.ReasonIdentityUnresolved {
		writeError(w, r, access.ErrIdentityUnresolved)
		return
	}
	if d.State == access.Pending {
		w.Header().Set("Retry-After", "1")
	}
	writeData(w, http.StatusOK, d)
}

func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUsage(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.RecordUsage(r.Context(), chi.URLParam(r, "resourceID"), req.options())
	if err != nil {
		h.log.WarnContext(r.Context(), "record usage failed", logger.Error(err))
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if rec.Replayed {
		status = http.StatusOK
	}
	writeData(w, status, rec)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUsage(w, r)
	if !ok {
		return
	}
	d, rec, err := h.svc.Consume(r.Context(), chi.URLParam(r, "resourceID"), req.options())
	if err != nil {
		h.log.WarnContext(r.Context(), "consume failed", logger.Error(err))
		writeError(w, r, err)
		return
	}
	resp := ConsumeResponse{Decision: d, Receipt: rec}
	switch {
	case rec != nil && rec.Replayed:
		writeData(w, http.StatusOK, resp)
	case d.State == access.Pending:
		w.Header().Set("Retry-After", "1")
		writeData(w, http.StatusAccepted, resp)
	case rec == nil:
		writeJSON(w, http.StatusForbidden, envelope{Data: resp, Error: &errorBody{Code: string(d.Reason), Message: d.Message}})
	default:
		writeData(w, http.StatusCreated, resp)
	}
}

func (h *Handler) monthlyUsage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.MonthlyUsage(r.Context(), plan.Class(chi.URLParam(r, "class")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"usage":      u,
		"percentage": u.Percentage(),
	})
}

func (h *Handler) decodeUsage(w http.ResponseWriter, r *http.Request) (UsageRequest, bool) {
	var req UsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return req, false
	}
	return req, true
}
