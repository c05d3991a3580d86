package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached remembers positive answers in a bounded in-process LRU so hot redeliveries
// skip the backing store. Negative answers are never cached.
type Cached struct {
	next  Guard
	cache *expirable.LRU[string, struct{}]
}

func NewCached(next Guard, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 10_000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{next: next, cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (c *Cached) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if c.cache.Contains(eventID) {
		return true, nil
	}
	ok, err := c.next.HasProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ok {
		c.cache.Add(eventID, struct{}{})
	}
	return ok, nil
}

func (c *Cached) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	eventID = strings.TrimSpace(eventID)
	if err := c.next.MarkProcessed(ctx, eventID, eventType); err != nil {
		return err
	}
	c.cache.Add(eventID, struct{}{})
	return nil
}

func (c *Cached) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := c.next.Prune(ctx, olderThan)
	if err == nil && n > 0 {
		c.cache.Purge()
	}
	return n, err
}
