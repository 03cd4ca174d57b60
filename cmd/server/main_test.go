package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/gate"
	"github.com/dmitrymomot/quotagate/pkg/httpserver"
	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
)

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	t.Run("example file", func(t *testing.T) {
		t.Parallel()
		catalog, registry, err := loadCatalog(appConfig{CatalogFile: "catalog.example.yaml"})
		require.NoError(t, err)

		a, err := catalog.Allowance(plan.AdvisorCall, plan.Pro)
		require.NoError(t, err)
		assert.Equal(t, int64(30), a.Limit)

		assert.True(t, registry.IsAvailable("tax-advisor", plan.Free))
		assert.False(t, registry.IsAvailable("estate-planner", plan.Pro))
		assert.True(t, registry.IsAvailable("estate-planner", plan.Premium))
	})

	t.Run("built-in defaults", func(t *testing.T) {
		t.Parallel()
		catalog, registry, err := loadCatalog(appConfig{})
		require.NoError(t, err)
		assert.Contains(t, catalog.Classes(), plan.AdvisorCall)
		assert.True(t, registry.IsAvailable("anything", plan.Free))
	})

	t.Run("strict declarations", func(t *testing.T) {
		t.Parallel()
		_, registry, err := loadCatalog(appConfig{StrictResources: true})
		require.NoError(t, err)
		assert.Equal(t, gate.UndeclaredDenied, registry.Resolve("undeclared", plan.Premium).Reason)
	})

	t.Run("resource class without a quota", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		raw := "quotas:\n  image_gen:\n    free: 3\nresources:\n  gated:\n    - id: portfolio-review\n      min_plan: pro\n      class: advisor_call\n"
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

		_, _, err := loadCatalog(appConfig{CatalogFile: path})
		require.ErrorIs(t, err, plan.ErrUnknownClass)
		assert.ErrorIs(t, err, gate.ErrInvalidResource)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, _, err := loadCatalog(appConfig{CatalogFile: "does-not-exist.yaml"})
		require.Error(t, err)
	})
}

func TestSubscriptionSource(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore(subscription.Subscription{
		UserID: "u1",
		Plan:   plan.Pro,
		Status: subscription.StatusActive,
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()
		src, inv, err := subscriptionSource(context.Background(), appConfig{SubscriptionCache: "none"}, store, &app{checks: map[string]httpserver.Check{}}, logger.Discard())
		require.NoError(t, err)
		assert.Nil(t, inv)
		assert.Same(t, store, src)
	})

	t.Run("lru", func(t *testing.T) {
		t.Parallel()
		src, inv, err := subscriptionSource(context.Background(), appConfig{SubscriptionCache: "lru"}, store, &app{checks: map[string]httpserver.Check{}}, logger.Discard())
		require.NoError(t, err)
		require.NotNil(t, inv)

		sub, err := src.Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, plan.Pro, sub.Plan)
	})
}
