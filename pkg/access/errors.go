package access

import "errors"

var (
	ErrIdentityUnresolved = errors.New("access: caller identity is unresolved")
	ErrAccessDenied       = errors.New("access: denied")
	// ErrSubscriptionPending means the caller's plan is still being determined.
	ErrSubscriptionPending = errors.New("access: subscription is still being determined")
	// ErrSubscriptionUnavailable means the caller's plan could not be read.
	ErrSubscriptionUnavailable = errors.New("access: subscription is unavailable")
)
