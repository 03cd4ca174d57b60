// Package audit records security-relevant decisions, such as an
// administrator bypassing plan gating, to a pluggable Storage.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEventValidation = errors.New("audit: event validation failed")
	ErrStorageFailure  = errors.New("audit: storage failed")
)

// Result is the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Event is one audit entry.
type Event struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id,omitempty"`
	Result     Result         `json:"result"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Storage persists events.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
}

// EventOption modifies an event before it is stored.
type EventOption func(*Event)

// WithResource sets the resource the event is about.
func WithResource(id string) EventOption {
	return func(e *Event) { e.ResourceID = id }
}

// WithResult overrides the default success result.
func WithResult(r Result) EventOption {
	return func(e *Event) { e.Result = r }
}

// WithMetadata attaches one key/value pair.
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// Logger builds events from context and hands them to Storage.
type Logger struct {
	storage   Storage
	userID    func(context.Context) (string, bool)
	requestID func(context.Context) (string, bool)
	now       func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithUserIDExtractor fills Event.UserID from the request context.
func WithUserIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) { l.userID = fn }
}

// WithRequestIDExtractor fills Event.RequestID from the request context.
func WithRequestIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) { l.requestID = fn }
}

// NewLogger panics on nil storage.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	l := &Logger{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records a successful action unless an option overrides the result.
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	e := l.event(ctx, action, ResultSuccess)
	for _, opt := range opts {
		opt(&e)
	}
	return l.store(ctx, e)
}

// LogError records a failed action.
func (l *Logger) LogError(ctx context.Context, action string, cause error, opts ...EventOption) error {
	e := l.event(ctx, action, ResultError)
	if cause != nil {
		e.Error = cause.Error()
	}
	for _, opt := range opts {
		opt(&e)
	}
	return l.store(ctx, e)
}

func (l *Logger) event(ctx context.Context, action string, result Result) Event {
	e := Event{ID: uuid.NewString(), Action: action, Result: result, CreatedAt: l.now().UTC()}
	if l.userID != nil {
		e.UserID, _ = l.userID(ctx)
	}
	if l.requestID != nil {
		e.RequestID, _ = l.requestID(ctx)
	}
	return e
}

func (l *Logger) store(ctx context.Context, e Event) error {
	if e.Action == "" {
		return errors.Join(ErrEventValidation, errors.New("action is required"))
	}
	if err := l.storage.Store(ctx, e); err != nil {
		return errors.Join(ErrStorageFailure, err)
	}
	return nil
}

// MemoryStorage keeps events in memory.
type MemoryStorage struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStorage keeps events in memory. Intended for tests.
func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

// Store appends events.
func (s *MemoryStorage) Store(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Metadata = maps.Clone(e.Metadata)
		s.events = append(s.events, e)
	}
	return nil
}

// Events returns a copy of stored events in insertion order.
func (s *MemoryStorage) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// SlogStorage writes events as structured log records at info level.
type SlogStorage struct {
	log *slog.Logger
}

// NewSlogStorage writes each event as one info-level log record.
func NewSlogStorage(log *slog.Logger) *SlogStorage {
	if log == nil {
		panic("audit: logger cannot be nil")
	}
	return &SlogStorage{log: log}
}

// Store logs events. It never fails.
func (s *SlogStorage) Store(ctx context.Context, events ...Event) error {
	for _, e := range events {
		s.log.InfoContext(ctx, "audit",
			slog.String("audit_id", e.ID),
			slog.String("action", e.Action),
			slog.String("user_id", e.UserID),
			slog.String("resource_id", e.ResourceID),
			slog.String("result", string(e.Result)),
			slog.Any("metadata", e.Metadata),
		)
	}
	return nil
}
