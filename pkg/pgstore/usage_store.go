package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotagate/pkg/pg"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

// UsageStore is a usage.ConditionalStore backed by the usage_events table.
type UsageStore struct {
	db TxBeginner
}

// NewUsageStore stores usage events in the usage_events table.
func NewUsageStore(db TxBeginner) *UsageStore {
	return &UsageStore{db: db}
}

const (
	insertEventSQL = `INSERT INTO usage_events
		(id, user_id, resource_id, resource_class, plan, outcome, idempotency_key, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING`

	countEventsSQL = `SELECT COUNT(*) FROM usage_events
		WHERE user_id = $1 AND resource_class = $2 AND occurred_at >= $3
		  AND (cardinality($4::text[]) = 0 OR outcome = ANY($4::text[]))`

	findEventSQL = `SELECT id, user_id, resource_id, resource_class, plan, outcome, idempotency_key, metadata, occurred_at
		FROM usage_events WHERE user_id = $1 AND idempotency_key = $2`

	// Serializes conditional inserts for one user and class until commit.
	lockWindowSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

// Insert returns usage.ErrDuplicateEvent when the idempotency key was
// already used by the same user.
func (s *UsageStore) Insert(ctx context.Context, e *usage.Event) error {
	return insertEvent(ctx, s.db, e)
}

func insertEvent(ctx context.Context, db DBTX, e *usage.Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return errors.Join(usage.ErrWriteFailure, err)
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}
	tag, err := db.Exec(ctx, insertEventSQL,
		e.ID.String(), e.UserID, e.ResourceID, string(e.Class), string(e.Plan),
		string(e.Outcome), e.IdempotencyKey, meta, e.OccurredAt.UTC(),
	)
	switch {
	case pg.IsDuplicateKeyError(err):
		return usage.ErrDuplicateEvent
	case err != nil:
		return errors.Join(usage.ErrWriteFailure, err)
	case tag.RowsAffected() == 0:
		return usage.ErrDuplicateEvent
	}
	return nil
}

// Count returns the number of events matching f.
func (s *UsageStore) Count(ctx context.Context, f usage.Filter) (int64, error) {
	return countEvents(ctx, s.db, f)
}

func countEvents(ctx context.Context, db DBTX, f usage.Filter) (int64, error) {
	outcomes := make([]string, len(f.Outcomes))
	for i, o := range f.Outcomes {
		outcomes[i] = string(o)
	}
	var n int64
	if err := db.QueryRow(ctx, countEventsSQL, f.UserID, string(f.Class), f.Since.UTC(), outcomes).Scan(&n); err != nil {
		return 0, errors.Join(usage.ErrReadFailure, err)
	}
	return n, nil
}

// FindByIdempotencyKey returns usage.ErrEventNotFound when nothing matches.
func (s *UsageStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*usage.Event, error) {
	var (
		e                     usage.Event
		id, class, tier, outc string
		meta                  []byte
	)
	err := s.db.QueryRow(ctx, findEventSQL, userID, key).Scan(
		&id, &e.UserID, &e.ResourceID, &class, &tier, &outc, &e.IdempotencyKey, &meta, &e.OccurredAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, usage.ErrEventNotFound
		}
		return nil, errors.Join(usage.ErrReadFailure, err)
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, errors.Join(usage.ErrReadFailure, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, errors.Join(usage.ErrReadFailure, err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
	}
	e.Class = plan.Class(class)
	e.Plan = plan.Tier(tier)
	e.Outcome = usage.Outcome(outc)
	e.OccurredAt = e.OccurredAt.UTC()
	return &e, nil
}

// InsertIfBelow counts and inserts inside one transaction holding an
// advisory lock on the user and class.
func (s *UsageStore) InsertIfBelow(ctx context.Context, e *usage.Event, f usage.Filter, limit int64) (inserted bool, used int64, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, 0, errors.Join(usage.ErrWriteFailure, err)
	}
	defer func() {
		if !inserted {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, lockWindowSQL, f.UserID+"/"+string(f.Class)); err != nil {
		return false, 0, errors.Join(usage.ErrWriteFailure, err)
	}
	used, err = countEvents(ctx, tx, f)
	if err != nil {
		return false, 0, err
	}
	if used >= limit {
		return false, used, nil
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return false, used, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, used, errors.Join(usage.ErrWriteFailure, err)
	}
	return true, used, nil
}
