package usage

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotagate/pkg/plan"
)

// Outcome is the terminal status of a metered action.
type Outcome string

const (
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
	Failed    Outcome = "failed"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case Completed, Cancelled, Failed:
		return true
	}
	return false
}

// Event is one ledger row.
type Event struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"user_id"`
	ResourceID     string            `json:"resource_id"`
	Class          plan.Class        `json:"resource_class"`
	// Plan is the caller's tier at record time, empty when it was not known.
	Plan           plan.Tier         `json:"plan"`
	Outcome        Outcome           `json:"outcome"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Filter selects events for Count. An empty Outcomes slice matches every outcome.
type Filter struct {
	UserID   string
	Class    plan.Class
	Since    time.Time
	Outcomes []Outcome
}

// Matches reports whether e falls inside f.
func (f Filter) Matches(e *Event) bool {
	if e.UserID != f.UserID || e.Class != f.Class {
		return false
	}
	if e.OccurredAt.Before(f.Since) {
		return false
	}
	return len(f.Outcomes) == 0 || slices.Contains(f.Outcomes, e.Outcome)
}

// Store persists events.
type Store interface {
	// Insert appends e. It returns ErrDuplicateEvent when the user already
	// has an event with the same idempotency key.
	Insert(ctx context.Context, e *Event) error
	// Count returns the number of events matching f.
	Count(ctx context.Context, f Filter) (int64, error)
	// FindByIdempotencyKey returns ErrEventNotFound when nothing matches.
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Event, error)
}

// ConditionalStore inserts only while the count of events matching f is
// below limit, atomically with respect to other conditional inserts for
// the same user and class.
type ConditionalStore interface {
	Store
	// InsertIfBelow reports whether e was written and the count observed
	// before the write.
	InsertIfBelow(ctx context.Context, e *Event, f Filter, limit int64) (inserted bool, used int64, err error)
}
