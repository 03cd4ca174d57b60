package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/quotagate/pkg/cache"
	"github.com/dmitrymomot/quotagate/pkg/logger"
)

// Entry is a cached read. Found is false for users without a record.
type Entry struct {
	Found        bool          `json:"found"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Cache stores reads for a bounded time.
type Cache interface {
	Get(ctx context.Context, userID string) (Entry, bool)
	Set(ctx context.Context, userID string, e Entry)
	Delete(ctx context.Context, userID string)
}

// LRUCache is an in-process Cache.
type LRUCache struct {
	lru *cache.LRU[string, Entry]
}

// NewLRUCache keeps at most capacity reads, each for ttl.
func NewLRUCache(capacity int, ttl time.Duration, opts ...cache.Option) *LRUCache {
	return &LRUCache{lru: cache.NewLRU[string, Entry](capacity, ttl, opts...)}
}

// Get returns a live entry.
func (c *LRUCache) Get(_ context.Context, userID string) (Entry, bool) {
	return c.lru.Get(userID)
}

// Set stores e for the cache TTL.
func (c *LRUCache) Set(_ context.Context, userID string, e Entry) {
	c.lru.Put(userID, e)
}

// Delete drops the entry for userID.
func (c *LRUCache) Delete(_ context.Context, userID string) {
	c.lru.Remove(userID)
}

// RedisCache shares cached reads between instances. Redis errors are
// treated as misses so a cache outage falls through to the source.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewRedisCache shares reads between instances through Redis. Redis
// failures are logged and treated as misses.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *RedisCache {
	if client == nil {
		panic("subscription: redis client cannot be nil")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "quotagate:subscription:", log: log}
}

func (c *RedisCache) key(userID string) string { return c.prefix + userID }

// Get treats unreadable entries as misses.
func (c *RedisCache) Get(ctx context.Context, userID string) (Entry, bool) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "subscription cache read failed", logger.UserID(userID), logger.Error(err))
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// Set stores e as JSON with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, userID string, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID), raw, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "subscription cache write failed", logger.UserID(userID), logger.Error(err))
	}
}

// Delete removes the key for userID.
func (c *RedisCache) Delete(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.log.WarnContext(ctx, "subscription cache delete failed", logger.UserID(userID), logger.Error(err))
	}
}

// CachedSource serves reads from a Cache, falling back to the wrapped
// Source and collapsing concurrent misses for the same user.
//
// The shared fetch is detached from any single caller's context and bounded
// by its own timeout, so one caller giving up does not fail the others.
type CachedSource struct {
	next         Source
	cache        Cache
	group        singleflight.Group
	fetchTimeout time.Duration
}

// CachedSourceOption configures a CachedSource.
type CachedSourceOption func(*CachedSource)

// WithFetchTimeout bounds a shared fetch from the wrapped source. Defaults to 5s.
func WithFetchTimeout(d time.Duration) CachedSourceOption {
	return func(s *CachedSource) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewCachedSource panics on a nil source or cache.
func NewCachedSource(next Source, c Cache, opts ...CachedSourceOption) *CachedSource {
	if next == nil || c == nil {
		panic("subscription: source and cache are required")
	}
	s := &CachedSource{next: next, cache: c, fetchTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached read for userID, fetching it on a miss. The caller
// stops waiting when ctx ends; the fetch keeps running for the others.
func (s *CachedSource) Get(ctx context.Context, userID string) (*Subscription, error) {
	if e, ok := s.cache.Get(ctx, userID); ok {
		return e.subscription()
	}

	ch := s.group.DoChan(userID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Entry).subscription()
	}
}

func (s *CachedSource) fetch(ctx context.Context, userID string) (Entry, error) {
	sub, err := s.next.Get(ctx, userID)
	switch {
	case err == nil:
		e := Entry{Found: true, Subscription: sub}
		s.cache.Set(ctx, userID, e)
		return e, nil
	case errors.Is(err, ErrSubscriptionNotFound):
		e := Entry{}
		s.cache.Set(ctx, userID, e)
		return e, nil
	default:
		return Entry{}, err
	}
}

// Invalidate drops the cached read for userID.
func (s *CachedSource) Invalidate(ctx context.Context, userID string) {
	s.cache.Delete(ctx, userID)
}

func (e Entry) subscription() (*Subscription, error) {
	if !e.Found || e.Subscription == nil {
		return nil, ErrSubscriptionNotFound
	}
	sub := *e.Subscription
	return &sub, nil
}
