package usage

import "errors"

var (
	ErrWriteFailure           = errors.New("usage: ledger write failed")
	ErrReadFailure            = errors.New("usage: ledger read failed")
	ErrDuplicateEvent         = errors.New("usage: event with this idempotency key already exists")
	ErrEventNotFound          = errors.New("usage: event not found")
	ErrMissingUserID          = errors.New("usage: user id is required")
	ErrMissingResourceID      = errors.New("usage: resource id is required")
	ErrMissingIdempotencyKey  = errors.New("usage: idempotency key is required")
	ErrInvalidOutcome         = errors.New("usage: invalid outcome")
	ErrConditionalUnsupported = errors.New("usage: store does not support conditional inserts")
)
