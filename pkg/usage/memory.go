package usage

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps events in process memory. It implements ConditionalStore.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byKey  map[string]*Event
}

// NewMemoryStore returns an empty in-process ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Event)}
}

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

// Insert stores a copy of e. A repeated idempotency key for the same user
// returns ErrDuplicateEvent.
func (s *MemoryStore) Insert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e)
}

func (s *MemoryStore) insertLocked(e *Event) error {
	k := idempotencyIndex(e.UserID, e.IdempotencyKey)
	if _, ok := s.byKey[k]; ok {
		return ErrDuplicateEvent
	}
	stored := cloneEvent(e)
	s.events = append(s.events, stored)
	s.byKey[k] = stored
	return nil
}

// Count returns the number of events matching f.
func (s *MemoryStore) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(f), nil
}

func (s *MemoryStore) countLocked(f Filter) int64 {
	var n int64
	for _, e := range s.events {
		if f.Matches(e) {
			n++
		}
	}
	return n
}

// FindByIdempotencyKey returns a copy of the stored event, or ErrEventNotFound.
func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, userID, key string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[idempotencyIndex(userID, key)]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(e), nil
}

// InsertIfBelow counts and inserts under one lock.
func (s *MemoryStore) InsertIfBelow(_ context.Context, e *Event, f Filter, limit int64) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.countLocked(f)
	if used >= limit {
		return false, used, nil
	}
	if err := s.insertLocked(e); err != nil {
		return false, used, err
	}
	return true, used, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func cloneEvent(e *Event) *Event {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}
