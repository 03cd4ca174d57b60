package subscription

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	ErrMissingUserID        = errors.New("subscription: user id is required")
	ErrSourceUnavailable    = errors.New("subscription: source unavailable")
	ErrInvalidSignature     = errors.New("subscription: webhook signature verification failed")
	ErrInvalidPayload       = errors.New("subscription: invalid webhook payload")
	ErrUnknownPrice         = errors.New("subscription: price is not mapped to a plan")
)
