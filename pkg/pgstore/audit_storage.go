package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/quotagate/pkg/audit"
)

// AuditStorage is an audit.Storage backed by the audit_events table.
type AuditStorage struct {
	db DBTX
}

// NewAuditStorage writes audit events to the audit_events table.
func NewAuditStorage(db DBTX) *AuditStorage {
	return &AuditStorage{db: db}
}

const insertAuditSQL = `INSERT INTO audit_events
	(id, user_id, action, resource_id, result, error, request_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

// Store inserts events one by one and reports every failed insert.
func (s *AuditStorage) Store(ctx context.Context, events ...audit.Event) error {
	var errs []error
	for _, e := range events {
		meta := []byte("{}")
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				errs = append(errs, fmt.Errorf("audit event %s: %w", e.ID, err))
				continue
			}
			meta = b
		}
		if _, err := s.db.Exec(ctx, insertAuditSQL,
			e.ID, e.UserID, e.Action, e.ResourceID, string(e.Result), e.Error, e.RequestID, meta, e.CreatedAt.UTC(),
		); err != nil {
			errs = append(errs, fmt.Errorf("audit event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}
