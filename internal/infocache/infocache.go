// Package infocache memoizes source descriptions for a short time and
// collapses concurrent describe requests for the same source into one call.
package infocache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tubefetch/internal/config"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/internal/token"
	"tubefetch/pkg/urls"
)

// DescribeFunc runs the describe operation for source.
type DescribeFunc func(ctx context.Context, source string, tok *token.Token) (*entity.Description, error)

type entry struct {
	storedAt time.Time
	desc     *entity.Description
}

// Cache is a TTL and capacity bounded description cache.
// Returned descriptions are shared between callers and must not be modified.
type Cache struct {
	log      *slog.Logger
	ttl      time.Duration
	capacity int
	describe DescribeFunc
	metrics  *observability.Metrics

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a cache in front of describe.
func New(log *slog.Logger, cfg config.InfoCache, describe DescribeFunc, metrics *observability.Metrics) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}

	return &Cache{
		log:      log.With(slog.String("package", "infocache")),
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		describe: describe,
		metrics:  metrics,
		entries:  make(map[string]entry, cfg.Capacity),
	}
}

// Describe returns the description of source, from cache when fresh.
// When the shared call fails only because another caller was cancelled,
// the request is issued once more on behalf of this caller.
func (c *Cache) Describe(ctx context.Context, source string, tok *token.Token) (*entity.Description, error) {
	key := urls.SourceKey(source)

	if desc, ok := c.lookup(key); ok {
		c.metrics.RecordInfoCache("hit")
		c.log.Debug("cache hit", slog.String("key", key))

		return desc, nil
	}

	for attempt := 0; ; attempt++ {
		if err := cancellation(ctx, tok); err != nil {
			return nil, err
		}

		led := false
		ch := c.group.DoChan(key, func() (any, error) {
			led = true

			return c.fill(ctx, key, source, tok)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				if errs.IsCancelled(res.Err) && !led && attempt == 0 && cancellation(ctx, tok) == nil {
					c.log.Debug("shared describe was cancelled, retrying", slog.String("key", key))

					continue
				}

				return nil, res.Err
			}

			if !led {
				c.metrics.RecordInfoCache("shared")
			}

			desc, _ := res.Val.(*entity.Description)

			return desc, nil
		case <-ctx.Done():
			return nil, cancellation(ctx, tok)
		case <-tok.Done():
			return nil, tok.Err()
		}
	}
}

func (c *Cache) fill(ctx context.Context, key, source string, tok *token.Token) (*entity.Description, error) {
	c.metrics.RecordInfoCache("miss")

	desc, err := c.describe(ctx, source, tok)
	if err != nil {
		return nil, err
	}

	// A result that raced a stop request is discarded.
	if err := cancellation(ctx, tok); err != nil {
		return nil, err
	}

	c.store(key, desc)

	return desc, nil
}

func (c *Cache) lookup(key string) (*entity.Description, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if time.Since(e.storedAt) >= c.ttl {
		delete(c.entries, key)

		return nil, false
	}

	return e.desc, true
}

func (c *Cache) store(key string, desc *entity.Description) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = entry{storedAt: now, desc: desc}
}

func (c *Cache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)

	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldest) || (e.storedAt.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, found = k, e.storedAt, true
		}
	}

	if found {
		delete(c.entries, oldestKey)
		c.log.Debug("evicted oldest entry", slog.String("key", oldestKey))
	}
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

func cancellation(ctx context.Context, tok *token.Token) error {
	if err := tok.Err(); err != nil {
		return err
	}

	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	if errs.IsCancelled(cause) {
		return cause
	}

	return &errs.CancellationError{Reason: cause.Error()}
}
