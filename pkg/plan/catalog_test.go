package plan_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/plan"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := plan.DefaultCatalog()
	want := map[plan.Tier]int64{plan.Free: 3, plan.Basic: 10, plan.Pro: 30, plan.Premium: 100}
	for tier, limit := range want {
		a, err := c.Allowance(plan.AdvisorCall, tier)
		require.NoError(t, err)
		assert.Equal(t, limit, a.Limit, tier)
		assert.False(t, a.Fallback)
	}
	assert.Equal(t, []plan.Class{plan.AdvisorCall}, c.Classes())
}

func TestCatalogAllowance(t *testing.T) {
	t.Parallel()

	c, err := plan.NewCatalog(map[plan.Class]plan.Policy{
		"report": {plan.Free: 1, plan.Premium: 50},
	})
	require.NoError(t, err)

	t.Run("fallback to free", func(t *testing.T) {
		t.Parallel()
		a, err := c.Allowance("report", plan.Pro)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Limit)
		assert.True(t, a.Fallback)
	})

	t.Run("unknown class", func(t *testing.T) {
		t.Parallel()
		_, err := c.Allowance(plan.AdvisorCall, plan.Pro)
		assert.ErrorIs(t, err, plan.ErrUnknownClass)
	})

	t.Run("policy copy", func(t *testing.T) {
		t.Parallel()
		p, ok := c.Policy("report")
		require.True(t, ok)
		p[plan.Free] = 1000
		a, _ := c.Allowance("report", plan.Free)
		assert.Equal(t, int64(1), a.Limit)
	})
}

func TestNewCatalogValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policies map[plan.Class]plan.Policy
	}{
		{"empty", nil},
		{"missing free", map[plan.Class]plan.Policy{"x": {plan.Pro: 1}}},
		{"negative", map[plan.Class]plan.Policy{"x": {plan.Free: -1}}},
		{"unknown tier", map[plan.Class]plan.Policy{"x": {plan.Free: 1, "gold": 2}}},
		{"empty class", map[plan.Class]plan.Policy{"": {plan.Free: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := plan.NewCatalog(tt.policies)
			assert.ErrorIs(t, err, plan.ErrInvalidCatalog)
		})
	}
}

func TestCatalogCompare(t *testing.T) {
	t.Parallel()

	cmp := plan.DefaultCatalog().Compare(plan.Basic, plan.Premium)
	assert.True(t, cmp.IsUpgrade)
	assert.Equal(t, plan.LimitChange{From: 10, To: 100}, cmp.Changes[plan.AdvisorCall])

	same := plan.DefaultCatalog().Compare(plan.Pro, plan.Pro)
	assert.False(t, same.IsUpgrade)
	assert.Empty(t, same.Changes)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
quotas:
  advisor_call:
    free: 2
    Pro: 20
resources:
  free: [intro]
`), 0o600))

		c, err := plan.LoadYAML(path)
		require.NoError(t, err)
		a, err := c.Allowance(plan.AdvisorCall, plan.Pro)
		require.NoError(t, err)
		assert.Equal(t, int64(20), a.Limit)
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()
		_, err := plan.ParseYAML([]byte("quotas:\n  advisor_call:\n    free: 1\n    gold: 3\n"))
		assert.ErrorIs(t, err, plan.ErrInvalidCatalog)
		assert.ErrorIs(t, err, plan.ErrUnknownTier)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := plan.LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, plan.ErrInvalidCatalog)
	})
}
