// Package mongostore implements the usage ledger on MongoDB.
//
// The store does not implement usage.ConditionalStore; hard caps on top of
// it rely on the per-process serialization in the access service.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/quotagate/pkg/usage"
)

// DefaultCollection holds usage events unless WithCollection overrides it.
const DefaultCollection = "usage_events"

// UsageStore is a usage.Store backed by one collection.
type UsageStore struct {
	col *mongo.Collection
}

var _ usage.Store = (*UsageStore)(nil)

// Option configures a UsageStore.
type Option func(*config)

type config struct {
	collection string
}

// WithCollection overrides the collection name. Defaults to "usage_events".
func WithCollection(name string) Option {
	return func(c *config) {
		if name != "" {
			c.collection = name
		}
	}
}

// NewUsageStore keeps usage events in a collection of db. Call Migrate once
// at startup to create the indexes it relies on.
func NewUsageStore(db *mongo.Database, opts ...Option) *UsageStore {
	cfg := config{collection: DefaultCollection}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &UsageStore{col: db.Collection(cfg.collection)}
}

// Migrate creates the idempotency and window indexes.
func (s *UsageStore) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "resource_class", Value: 1}, {Key: "occurred_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return nil
}

// Insert maps duplicate key errors to usage.ErrDuplicateEvent.
func (s *UsageStore) Insert(ctx context.Context, e *usage.Event) error {
	if _, err := s.col.InsertOne(ctx, toEventModel(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return usage.ErrDuplicateEvent
		}
		return errors.Join(usage.ErrWriteFailure, err)
	}
	return nil
}

// Count returns the number of events matching f.
func (s *UsageStore) Count(ctx context.Context, f usage.Filter) (int64, error) {
	n, err := s.col.CountDocuments(ctx, countFilter(f))
	if err != nil {
		return 0, errors.Join(usage.ErrReadFailure, err)
	}
	return n, nil
}

// FindByIdempotencyKey returns usage.ErrEventNotFound when nothing matches.
func (s *UsageStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*usage.Event, error) {
	var m eventModel
	err := s.col.FindOne(ctx, bson.M{"user_id": userID, "idempotency_key": key}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, usage.ErrEventNotFound
		}
		return nil, errors.Join(usage.ErrReadFailure, err)
	}
	e, err := fromEventModel(&m)
	if err != nil {
		return nil, errors.Join(usage.ErrReadFailure, err)
	}
	return e, nil
}

// Ping checks connectivity through the collection's client.
func (s *UsageStore) Ping(ctx context.Context) error {
	return s.col.Database().Client().Ping(ctx, nil)
}
