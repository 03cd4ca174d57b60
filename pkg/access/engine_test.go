package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/access"
	"github.com/dmitrymomot/quotagate/pkg/audit"
	"github.com/dmitrymomot/quotagate/pkg/gate"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

var now = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

type brokenStore struct{ usage.Store }

func (brokenStore) Count(context.Context, usage.Filter) (int64, error) {
	return 0, errors.New("connection refused")
}

func newRegistry(t *testing.T) *gate.Registry {
	t.Helper()
	r, err := gate.NewRegistry(
		gate.WithFreeList("tax-advisor"),
		gate.WithResources(
			gate.Resource{ID: "tax-advisor", Class: plan.AdvisorCall},
			gate.Resource{ID: "portfolio-review", MinPlan: plan.Pro, Class: plan.AdvisorCall},
			gate.Resource{ID: "estate-planner", MinPlan: plan.Premium, Class: plan.AdvisorCall},
		),
	)
	require.NoError(t, err)
	return r
}

func fill(t *testing.T, store usage.Store, user string, n int) {
	t.Helper()
	r := usage.NewRecorder(store)
	for range n {
		_, err := r.Record(context.Background(), usage.RecordRequest{
			UserID: user, ResourceID: "tax-advisor", Class: plan.AdvisorCall, OccurredAt: now,
		})
		require.NoError(t, err)
	}
}

func newEngine(t *testing.T, store usage.Store, opts ...access.EngineOption) *access.Engine {
	t.Helper()
	ev := quota.NewEvaluator(plan.DefaultCatalog(), store)
	return access.NewEngine(newRegistry(t), ev, append([]access.EngineOption{access.WithClock(func() time.Time { return now })}, opts...)...)
}

func TestDecide_Scenarios(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("free user with calls left", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		fill(t, store, "u1", 2)

		d := newEngine(t, store).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Free, ResourceID: "tax-advisor"})
		assert.True(t, d.HasAccess)
		assert.False(t, d.HasReachedLimit)
		assert.Equal(t, int64(2), d.CallsUsed)
		assert.Equal(t, int64(3), d.CallLimit)
		assert.Equal(t, int64(1), d.CallsRemaining)
		assert.Equal(t, access.ReasonGranted, d.Reason)
		assert.Equal(t, access.Determined, d.State)
		assert.Equal(t, "You have 1 of 3 calls remaining this month.", d.Message)
	})

	t.Run("plan below resource minimum", func(t *testing.T) {
		t.Parallel()
		d := newEngine(t, usage.NewMemoryStore()).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Basic, ResourceID: "portfolio-review"})
		assert.False(t, d.HasAccess)
		assert.False(t, d.HasReachedLimit)
		assert.Equal(t, access.ReasonPlanTooLow, d.Reason)
		assert.Equal(t, plan.Pro, d.RequiredPlan)
		assert.Contains(t, d.Message, "pro")
	})

	t.Run("premium user at limit", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		fill(t, store, "u1", 100)

		d := newEngine(t, store).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Premium, ResourceID: "estate-planner"})
		assert.False(t, d.HasAccess)
		assert.True(t, d.HasReachedLimit)
		assert.Zero(t, d.CallsRemaining)
		assert.Equal(t, access.ReasonQuotaExhausted, d.Reason)
		assert.Contains(t, d.Message, "November 1")
	})

	t.Run("administrator bypasses plan and quota", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		fill(t, store, "admin", 50)
		auditStore := audit.NewMemoryStorage()

		e := newEngine(t, store, access.WithAuditLogger(audit.NewLogger(auditStore)))
		d := e.Decide(ctx, access.Request{UserID: "admin", Plan: plan.Free, ResourceID: "estate-planner", IsAdministrator: true})
		assert.True(t, d.HasAccess)
		assert.False(t, d.HasReachedLimit)
		assert.Equal(t, access.ReasonAdminOverride, d.Reason)

		events := auditStore.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "access.admin_override", events[0].Action)
		assert.Equal(t, "estate-planner", events[0].ResourceID)
	})
}

func TestDecide_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("free plan on a pro resource", func(t *testing.T) {
		t.Parallel()
		d := newEngine(t, usage.NewMemoryStore()).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Free, ResourceID: "portfolio-review"})
		assert.False(t, d.HasAccess)
		assert.False(t, d.HasReachedLimit)
		assert.Equal(t, "This resource requires the pro plan or higher. Upgrade to get access.", d.Message)
		assert.Equal(t, access.ReasonPlanTooLow, d.Reason)
	})

	t.Run("basic plan after ten completed calls", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		fill(t, store, "u1", 10)

		d := newEngine(t, store).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Basic, ResourceID: "tax-advisor"})
		assert.False(t, d.HasAccess)
		assert.True(t, d.HasReachedLimit)
		assert.Equal(t, int64(10), d.CallLimit)
		assert.Equal(t, int64(10), d.CallsUsed)
		assert.Equal(t, int64(0), d.CallsRemaining)
		assert.Equal(t, access.ReasonQuotaExhausted, d.Reason)
	})

	t.Run("pro plan on a pro resource after five calls", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		fill(t, store, "u1", 5)

		d := newEngine(t, store).Decide(ctx, access.Request{UserID: "u1", Plan: plan.Pro, ResourceID: "portfolio-review"})
		assert.True(t, d.HasAccess)
		assert.False(t, d.HasReachedLimit)
		assert.Equal(t, int64(30), d.CallLimit)
		assert.Equal(t, int64(5), d.CallsUsed)
		assert.Equal(t, int64(25), d.CallsRemaining)
		assert.Equal(t, access.ReasonGranted, d.Reason)
	})

	t.Run("unresolved identity", func(t *testing.T) {
		t.Parallel()
		d := newEngine(t, usage.NewMemoryStore()).Decide(ctx, access.Request{Plan: plan.Premium, ResourceID: "tax-advisor"})
		assert.False(t, d.HasAccess)
		assert.True(t, d.HasReachedLimit)
		assert.Equal(t, "We could not verify your access. Please sign in and try again.", d.Message)
		assert.Equal(t, access.ReasonIdentityUnresolved, d.Reason)
	})
}

func TestDecide_AdminForEveryPlan(t *testing.T) {
	t.Parallel()

	e := newEngine(t, brokenStore{usage.NewMemoryStore()}, access.WithDegradedPolicy(access.FailClosed))
	for _, tier := range append(plan.Tiers(), "enterprise") {
		for _, id := range []string{"tax-advisor", "portfolio-review", "estate-planner", "unknown"} {
			d := e.Decide(context.Background(), access.Request{UserID: "a", Plan: tier, ResourceID: id, IsAdministrator: true})
			assert.True(t, d.HasAccess, "%s/%s", tier, id)
			assert.False(t, d.HasReachedLimit, "%s/%s", tier, id)
		}
	}
}

func TestDecide_IdentityUnresolved(t *testing.T) {
	t.Parallel()

	e := newEngine(t, usage.NewMemoryStore())
	for _, admin := range []bool{false, true} {
		d := e.Decide(context.Background(), access.Request{Plan: plan.Premium, ResourceID: "tax-advisor", IsAdministrator: admin})
		assert.False(t, d.HasAccess)
		assert.True(t, d.HasReachedLimit)
		assert.Equal(t, access.ReasonIdentityUnresolved, d.Reason)
		assert.ErrorIs(t, d.Cause, access.ErrIdentityUnresolved)
	}
}

func TestDecide_FreeListPrecedence(t *testing.T) {
	t.Parallel()

	r, err := gate.NewRegistry(
		gate.WithResources(gate.Resource{ID: "x", MinPlan: plan.Premium, Class: plan.AdvisorCall}),
		gate.WithFreeList("x"),
	)
	require.NoError(t, err)
	e := access.NewEngine(r, quota.NewEvaluator(plan.DefaultCatalog(), usage.NewMemoryStore()))

	d := e.Decide(context.Background(), access.Request{UserID: "u1", Plan: plan.Free, ResourceID: "x", Now: now})
	assert.True(t, d.HasAccess)
	assert.Equal(t, access.ReasonGranted, d.Reason)
}

func TestDecide_AccessImpliesRemaining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := usage.NewMemoryStore()
	e := newEngine(t, store)
	for i := range 12 {
		for _, tier := range plan.Tiers() {
			d := e.Decide(ctx, access.Request{UserID: "u1", Plan: tier, ResourceID: "tax-advisor"})
			assert.Equal(t, d.HasAccess, d.CallsRemaining > 0, "tier %s after %d calls", tier, i)
			assert.Equal(t, d.HasReachedLimit, d.CallsRemaining == 0)
			assert.GreaterOrEqual(t, d.CallsRemaining, int64(0))
		}
		fill(t, store, "u1", 1)
	}
}

func TestDecide_Degraded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := access.Request{UserID: "u1", Plan: plan.Basic, ResourceID: "tax-advisor"}

	t.Run("fail open grants the full allowance", func(t *testing.T) {
		t.Parallel()
		d := newEngine(t, brokenStore{usage.NewMemoryStore()}).Decide(ctx, req)
		assert.True(t, d.HasAccess)
		assert.Equal(t, access.Degraded, d.State)
		assert.Equal(t, int64(10), d.CallsRemaining)
		assert.ErrorIs(t, d.Cause, quota.ErrQuotaReadFailure)
	})

	t.Run("fail closed denies", func(t *testing.T) {
		t.Parallel()
		d := newEngine(t, brokenStore{usage.NewMemoryStore()}, access.WithDegradedPolicy(access.FailClosed)).Decide(ctx, req)
		assert.False(t, d.HasAccess)
		assert.True(t, d.HasReachedLimit)
		assert.Equal(t, access.ReasonUsageUnavailable, d.Reason)
		assert.Equal(t, access.Degraded, d.State)
	})

	t.Run("plan message wins over usage message", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t, brokenStore{usage.NewMemoryStore()}, access.WithDegradedPolicy(access.FailClosed))
		d := e.Decide(ctx, access.Request{UserID: "u1", Plan: plan.Basic, ResourceID: "portfolio-review"})
		assert.False(t, d.HasAccess)
		assert.Equal(t, access.ReasonPlanTooLow, d.Reason)
	})
}

func TestDecide_UnknownPlanUsesFreeAllowance(t *testing.T) {
	t.Parallel()

	d := newEngine(t, usage.NewMemoryStore()).Decide(context.Background(), access.Request{UserID: "u1", Plan: "enterprise", ResourceID: "tax-advisor"})
	assert.True(t, d.HasAccess)
	assert.Equal(t, int64(3), d.CallLimit)
}

func TestDecide_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := access.NewMetrics(reg)
	e := newEngine(t, brokenStore{usage.NewMemoryStore()}, access.WithMetrics(m))

	ctx := context.Background()
	e.Decide(ctx, access.Request{UserID: "u1", Plan: plan.Free, ResourceID: "tax-advisor"})
	e.Decide(ctx, access.Request{UserID: "a", ResourceID: "tax-advisor", IsAdministrator: true})
	e.Decide(ctx, access.Request{ResourceID: "tax-advisor"})

	assert.Equal(t, 3, testutil.CollectAndCount(reg, "quotagate_access_decisions_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "quotagate_access_degraded_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "quotagate_access_admin_overrides_total"))
}

func TestParseDegradedPolicy(t *testing.T) {
	t.Parallel()

	p, err := access.ParseDegradedPolicy("fail_closed")
	require.NoError(t, err)
	assert.Equal(t, access.FailClosed, p)

	p, err = access.ParseDegradedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, access.FailOpen, p)

	_, err = access.ParseDegradedPolicy("maybe")
	assert.Error(t, err)
}
