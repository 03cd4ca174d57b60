package plan

import "errors"

var (
	ErrUnknownTier    = errors.New("plan: unknown tier")
	ErrUnknownClass   = errors.New("plan: unknown resource class")
	ErrInvalidCatalog = errors.New("plan: invalid catalog configuration")
)
