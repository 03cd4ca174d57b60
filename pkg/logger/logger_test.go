package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/environment"
	"github.com/dmitrymomot/quotagate/pkg/logger"
)

type ctxKey struct{}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json with context extractor", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("app", "quotagate")),
			logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
				v, ok := ctx.Value(ctxKey{}).(string)
				return slog.String("request_id", v), ok
			}),
		)

		ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
		log.InfoContext(ctx, "decided", logger.UserID("u1"), logger.Plan("pro"))

		m := decode(t, &buf)
		assert.Equal(t, "decided", m["msg"])
		assert.Equal(t, "quotagate", m["app"])
		assert.Equal(t, "req-1", m["request_id"])
		assert.Equal(t, "u1", m["user_id"])
		assert.Equal(t, "pro", m["plan"])
	})

	t.Run("production environment", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithEnvironment(environment.Production, "svc"))
		log.Debug("hidden")
		assert.Zero(t, buf.Len())

		log.Info("shown")
		m := decode(t, &buf)
		assert.Equal(t, "svc", m["service"])
		assert.Equal(t, "production", m["env"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("discard", func(t *testing.T) {
		t.Parallel()
		assert.False(t, logger.Discard().Enabled(context.Background(), slog.LevelError))
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
	assert.Equal(t, "error", logger.Error(errors.New("x")).Key)
	assert.True(t, logger.UserID("").Equal(slog.Attr{}))
	assert.Equal(t, "resource_class", logger.Class("advisor_call").Key)

	u := logger.Usage(2, 3)
	assert.Equal(t, "usage", u.Key)
	assert.Len(t, u.Value.Group(), 2)
}
