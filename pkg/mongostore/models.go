package mongostore

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

type eventModel struct {
	ID             string            `bson:"_id"`
	UserID         string            `bson:"user_id"`
	ResourceID     string            `bson:"resource_id"`
	Class          string            `bson:"resource_class"`
	Plan           string            `bson:"plan"`
	Outcome        string            `bson:"outcome"`
	IdempotencyKey string            `bson:"idempotency_key"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	OccurredAt     time.Time         `bson:"occurred_at"`
}

func toEventModel(e *usage.Event) *eventModel {
	return &eventModel{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		ResourceID:     e.ResourceID,
		Class:          string(e.Class),
		Plan:           string(e.Plan),
		Outcome:        string(e.Outcome),
		IdempotencyKey: e.IdempotencyKey,
		Metadata:       e.Metadata,
		OccurredAt:     e.OccurredAt.UTC(),
	}
}

func fromEventModel(m *eventModel) (*usage.Event, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &usage.Event{
		ID:             id,
		UserID:         m.UserID,
		ResourceID:     m.ResourceID,
		Class:          plan.Class(m.Class),
		Plan:           plan.Tier(m.Plan),
		Outcome:        usage.Outcome(m.Outcome),
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       m.Metadata,
		OccurredAt:     m.OccurredAt.UTC(),
	}, nil
}

// countFilter mirrors usage.Filter.Matches.
func countFilter(f usage.Filter) bson.M {
	q := bson.M{
		"user_id":        f.UserID,
		"resource_class": string(f.Class),
		"occurred_at":    bson.M{"$gte": f.Since.UTC()},
	}
	if len(f.Outcomes) > 0 {
		outcomes := make([]string, len(f.Outcomes))
		for i, o := range f.Outcomes {
			outcomes[i] = string(o)
		}
		q["outcome"] = bson.M{"$in": outcomes}
	}
	return q
}
