package accessapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/quotagate/pkg/access"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
	"github.com/dmitrymomot/quotagate/pkg/requestid"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

const maxBodySize = 64 << 10

// envelope wraps every response body.
type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// apiError is an error with a client-facing code and status.
type apiError struct {
	status     int
	code       string
	message    string
	details    map[string]any
	retryAfter string
}

func (e *apiError) Error() string { return e.code + ": " + e.message }

var (
	errInvalidJSON = &apiError{status: http.StatusBadRequest, code: "invalid_json", message: "Request body is not valid JSON."}
	errBodyTooBig  = &apiError{status: http.StatusRequestEntityTooLarge, code: "body_too_large", message: "Request body is too large."}
)

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := toAPIError(err)
	if e.retryAfter != "" {
		w.Header().Set("Retry-After", e.retryAfter)
	}
	reqID, _ := requestid.FromContext(r.Context())
	writeJSON(w, e.status, envelope{Error: &errorBody{
		Code:      e.code,
		Message:   e.message,
		Details:   e.details,
		RequestID: reqID,
	}})
}

// toAPIError maps domain errors to responses. Unknown errors never leak
// their text.
func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &apiError{status: http.StatusBadRequest, code: "validation_failed", message: "Request is invalid.", details: fields}
	}

	switch {
	case errors.Is(err, access.ErrIdentityUnresolved), errors.Is(err, quota.ErrIdentityUnresolved):
		return &apiError{status: http.StatusUnauthorized, code: "identity_unresolved", message: "Sign in to continue."}
	case errors.Is(err, usage.ErrInvalidOutcome),
		errors.Is(err, usage.ErrMissingIdempotencyKey),
		errors.Is(err, usage.ErrMissingResourceID),
		errors.Is(err, usage.ErrMissingUserID):
		return &apiError{status: http.StatusBadRequest, code: "invalid_usage", message: err.Error()}
	case errors.Is(err, access.ErrSubscriptionPending):
		return &apiError{status: http.StatusAccepted, code: "subscription_pending", message: "Your subscription is still being checked. Please retry.", retryAfter: "1"}
	case errors.Is(err, access.ErrSubscriptionUnavailable):
		return &apiError{status: http.StatusServiceUnavailable, code: "subscription_unavailable", message: "Your subscription could not be read. Please retry.", retryAfter: "5"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &apiError{status: http.StatusServiceUnavailable, code: "busy", message: "The request could not be completed in time. Please retry.", retryAfter: "1"}
	case errors.Is(err, plan.ErrUnknownClass):
		return &apiError{status: http.StatusNotFound, code: "unknown_class", message: "Unknown resource class."}
	case errors.Is(err, usage.ErrWriteFailure), errors.Is(err, usage.ErrReadFailure), errors.Is(err, quota.ErrQuotaReadFailure):
		return &apiError{status: http.StatusServiceUnavailable, code: "usage_unavailable", message: "Usage could not be recorded or read. Please retry."}
	}
	return &apiError{status: http.StatusInternalServerError, code: "internal_error", message: "An unexpected error occurred."}
}

// decodeJSON reads a single JSON object. An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooBig):
			return errBodyTooBig
		}
		return errInvalidJSON
	}
	if dec.More() {
		return errInvalidJSON
	}
	return nil
}
