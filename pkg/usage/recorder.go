package usage

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/plan"
)

// RecordRequest describes a confirmed gated action.
type RecordRequest struct {
	UserID     string
	ResourceID string
	Class      plan.Class
	Plan       plan.Tier
	// Outcome defaults to Completed.
	Outcome Outcome
	// IdempotencyKey identifies retries of the same action. When empty the
	// recorder generates one, and the write is not protected against retries.
	IdempotencyKey string
	Metadata       map[string]string
	// OccurredAt defaults to the recorder's clock.
	OccurredAt time.Time
}

// Receipt is the result of a record call.
type Receipt struct {
	Event Event `json:"event"`
	// Replayed is set when the key had already been recorded and no new
	// event was written.
	Replayed bool `json:"replayed"`
}

// Recorder appends events to a Store.
type Recorder struct {
	store      Store
	log        *slog.Logger
	now        func() time.Time
	requireKey bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger for failed writes.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRecorderClock sets the clock used for OccurredAt.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRequiredIdempotencyKey rejects requests without a key instead of
// generating one.
func WithRequiredIdempotencyKey() RecorderOption {
	return func(r *Recorder) { r.requireKey = true }
}

// NewRecorder panics on a nil store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	if store == nil {
		panic("usage: store cannot be nil")
	}
	r := &Recorder{store: store, log: logger.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("usage.recorder"))
	return r
}

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Record writes one event, or returns the existing one for a repeated key.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (Receipt, error) {
	e, err := r.build(req)
	if err != nil {
		return Receipt{}, err
	}

	if prev, ok, err := r.lookup(ctx, e.UserID, e.IdempotencyKey); err != nil {
		return Receipt{}, err
	} else if ok {
		return Receipt{Event: *prev, Replayed: true}, nil
	}

	if err := r.store.Insert(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return r.replay(ctx, e)
		}
		r.log.ErrorContext(ctx, "failed to record usage", logger.UserID(e.UserID), logger.ResourceID(e.ResourceID), logger.Error(err))
		return Receipt{}, errors.Join(ErrWriteFailure, err)
	}

	r.log.DebugContext(ctx, "usage recorded",
		logger.UserID(e.UserID), logger.ResourceID(e.ResourceID), logger.Class(e.Class), slog.String("outcome", string(e.Outcome)))
	return Receipt{Event: *e}, nil
}

// Admission is the result of RecordIfBelow.
type Admission struct {
	Receipt
	// Admitted is false when the limit was already reached and nothing was written.
	Admitted bool `json:"admitted"`
	// Used is the count observed before the write.
	Used int64 `json:"used"`
}

// RecordIfBelow writes the event only while fewer than limit events match
// window. A replayed key is admitted without counting against the limit.
func (r *Recorder) RecordIfBelow(ctx context.Context, req RecordRequest, window Filter, limit int64) (Admission, error) {
	cs, ok := r.store.(ConditionalStore)
	if !ok {
		return Admission{}, ErrConditionalUnsupported
	}
	e, err := r.build(req)
	if err != nil {
		return Admission{}, err
	}

	if prev, ok, err := r.lookup(ctx, e.UserID, e.IdempotencyKey); err != nil {
		return Admission{}, err
	} else if ok {
		return Admission{Receipt: Receipt{Event: *prev, Replayed: true}, Admitted: true}, nil
	}

	inserted, used, err := cs.InsertIfBelow(ctx, e, window, limit)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		rec, err := r.replay(ctx, e)
		if err != nil {
			return Admission{}, err
		}
		return Admission{Receipt: rec, Admitted: true, Used: used}, nil
	case errors.Is(err, ErrConditionalUnsupported):
		return Admission{}, err
	case err != nil:
		r.log.ErrorContext(ctx, "failed to record usage", logger.UserID(e.UserID), logger.ResourceID(e.ResourceID), logger.Error(err))
		return Admission{Used: used}, errors.Join(ErrWriteFailure, err)
	case !inserted:
		return Admission{Used: used}, nil
	}
	return Admission{Receipt: Receipt{Event: *e}, Admitted: true, Used: used}, nil
}

func (r *Recorder) build(req RecordRequest) (*Event, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.ResourceID == "" {
		return nil, ErrMissingResourceID
	}
	if req.Outcome == "" {
		req.Outcome = Completed
	}
	if !req.Outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	if req.IdempotencyKey == "" {
		if r.requireKey {
			return nil, ErrMissingIdempotencyKey
		}
		req.IdempotencyKey = uuid.NewString()
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = r.now()
	}
	return &Event{
		ID:             uuid.New(),
		UserID:         req.UserID,
		ResourceID:     req.ResourceID,
		Class:          req.Class,
		Plan:           req.Plan,
		Outcome:        req.Outcome,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       maps.Clone(req.Metadata),
		OccurredAt:     req.OccurredAt.UTC(),
	}, nil
}

// Find returns the event recorded for userID under key. ok is false when
// key is empty or nothing was recorded for it.
func (r *Recorder) Find(ctx context.Context, userID, key string) (e *Event, ok bool, err error) {
	if key == "" {
		return nil, false, nil
	}
	return r.lookup(ctx, userID, key)
}

func (r *Recorder) lookup(ctx context.Context, userID, key string) (*Event, bool, error) {
	prev, err := r.store.FindByIdempotencyKey(ctx, userID, key)
	switch {
	case err == nil:
		return prev, true, nil
	case errors.Is(err, ErrEventNotFound):
		return nil, false, nil
	default:
		return nil, false, errors.Join(ErrWriteFailure, err)
	}
}

// replay resolves a lost insert race by reading back the winner.
func (r *Recorder) replay(ctx context.Context, e *Event) (Receipt, error) {
	prev, err := r.store.FindByIdempotencyKey(ctx, e.UserID, e.IdempotencyKey)
	if err != nil {
		return Receipt{}, errors.Join(ErrWriteFailure, err)
	}
	return Receipt{Event: *prev, Replayed: true}, nil
}
