package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotagate/pkg/mongo"
)

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := mongo.Connect(context.Background(), mongo.Config{
		ConnectionURL: "not-a-mongo-url",
		RetryAttempts: 1,
	})
	assert.ErrorIs(t, err, mongo.ErrFailedToConnect)
}

func TestConnect_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mongo.Connect(ctx, mongo.Config{
		ConnectionURL:  "mongodb://127.0.0.1:1",
		ConnectTimeout: 50 * time.Millisecond,
		RetryAttempts:  3,
		RetryInterval:  time.Hour,
	})
	assert.ErrorIs(t, err, mongo.ErrFailedToConnect)
}
