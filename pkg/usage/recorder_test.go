package usage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newRecorder(store usage.Store, opts ...usage.RecorderOption) *usage.Recorder {
	opts = append([]usage.RecorderOption{usage.WithRecorderClock(func() time.Time { return fixedNow })}, opts...)
	return usage.NewRecorder(store, opts...)
}

func request(key string) usage.RecordRequest {
	return usage.RecordRequest{
		UserID:         "u1",
		ResourceID:     "tax-advisor",
		Class:          plan.AdvisorCall,
		Plan:           plan.Basic,
		IdempotencyKey: key,
		Metadata:       map[string]string{"session": "s1"},
	}
}

// failingStore fails every call with err.
type failingStore struct{ err error }

func (f failingStore) Insert(context.Context, *usage.Event) error { return f.err }
func (f failingStore) Count(context.Context, usage.Filter) (int64, error) {
	return 0, f.err
}
func (f failingStore) FindByIdempotencyKey(context.Context, string, string) (*usage.Event, error) {
	return nil, usage.ErrEventNotFound
}

func TestRecorder_Record(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		rec, err := newRecorder(store).Record(ctx, request("k1"))
		require.NoError(t, err)
		assert.False(t, rec.Replayed)
		assert.Equal(t, usage.Completed, rec.Event.Outcome)
		assert.Equal(t, fixedNow, rec.Event.OccurredAt)
		assert.Equal(t, "s1", rec.Event.Metadata["session"])
		assert.Equal(t, 1, store.Len())
	})

	t.Run("idempotent retry", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		r := newRecorder(store)
		first, err := r.Record(ctx, request("k1"))
		require.NoError(t, err)
		second, err := r.Record(ctx, request("k1"))
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Event.ID, second.Event.ID)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("concurrent retries collapse", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		r := newRecorder(store)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Record(ctx, request("same"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, store.Len())
	})

	t.Run("generated key", func(t *testing.T) {
		t.Parallel()
		store := usage.NewMemoryStore()
		r := newRecorder(store)
		a, err := r.Record(ctx, request(""))
		require.NoError(t, err)
		b, err := r.Record(ctx, request(""))
		require.NoError(t, err)
		assert.NotEqual(t, a.Event.IdempotencyKey, b.Event.IdempotencyKey)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(usage.NewMemoryStore(), usage.WithRequiredIdempotencyKey())

		_, err := r.Record(ctx, request(""))
		assert.ErrorIs(t, err, usage.ErrMissingIdempotencyKey)

		req := request("k")
		req.UserID = ""
		_, err = r.Record(ctx, req)
		assert.ErrorIs(t, err, usage.ErrMissingUserID)

		req = request("k")
		req.ResourceID = ""
		_, err = r.Record(ctx, req)
		assert.ErrorIs(t, err, usage.ErrMissingResourceID)

		req = request("k")
		req.Outcome = "exploded"
		_, err = r.Record(ctx, req)
		assert.ErrorIs(t, err, usage.ErrInvalidOutcome)
	})

	t.Run("write failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		_, err := newRecorder(failingStore{err: boom}).Record(ctx, request("k"))
		assert.ErrorIs(t, err, usage.ErrWriteFailure)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil store panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { usage.NewRecorder(nil) })
	})
}

func TestRecorder_RecordIfBelow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	window := usage.Filter{UserID: "u1", Class: plan.AdvisorCall, Since: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("admits up to limit", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(usage.NewMemoryStore())
		for i := range 3 {
			adm, err := r.RecordIfBelow(ctx, request(string(rune('a'+i))), window, 3)
			require.NoError(t, err)
			assert.True(t, adm.Admitted)
			assert.Equal(t, int64(i), adm.Used)
		}
		adm, err := r.RecordIfBelow(ctx, request("z"), window, 3)
		require.NoError(t, err)
		assert.False(t, adm.Admitted)
		assert.Equal(t, int64(3), adm.Used)
	})

	t.Run("replay admitted at limit", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(usage.NewMemoryStore())
		_, err := r.RecordIfBelow(ctx, request("only"), window, 1)
		require.NoError(t, err)

		adm, err := r.RecordIfBelow(ctx, request("only"), window, 1)
		require.NoError(t, err)
		assert.True(t, adm.Admitted)
		assert.True(t, adm.Replayed)
	})

	t.Run("unsupported store", func(t *testing.T) {
		t.Parallel()
		_, err := newRecorder(failingStore{}).RecordIfBelow(ctx, request("k"), window, 1)
		assert.ErrorIs(t, err, usage.ErrConditionalUnsupported)
	})
}

// brokenLookup fails idempotency lookups only.
type brokenLookup struct{ *usage.MemoryStore }

func (brokenLookup) FindByIdempotencyKey(context.Context, string, string) (*usage.Event, error) {
	return nil, errors.New("connection reset")
}

func TestRecorder_Find(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("recorded key", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(usage.NewMemoryStore())
		rec, err := r.Record(ctx, request("k1"))
		require.NoError(t, err)

		e, ok, err := r.Find(ctx, "u1", "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Event.ID, e.ID)
	})

	t.Run("key of another user", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(usage.NewMemoryStore())
		_, err := r.Record(ctx, request("k1"))
		require.NoError(t, err)

		_, ok, err := r.Find(ctx, "u2", "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty key", func(t *testing.T) {
		t.Parallel()
		e, ok, err := newRecorder(brokenLookup{usage.NewMemoryStore()}).Find(ctx, "u1", "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, e)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		_, ok, err := newRecorder(brokenLookup{usage.NewMemoryStore()}).Find(ctx, "u1", "k1")
		assert.ErrorIs(t, err, usage.ErrWriteFailure)
		assert.False(t, ok)
	})
}
