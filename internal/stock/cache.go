package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// SummaryCache is a redis read cache for per-item stock summaries. The
// database stays the source of truth: entries are invalidated on every
// movement for the item and expire on a short TTL regardless.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func (c *SummaryCache) key(ctx context.Context, itemName string) string {
	return fmt.Sprintf("stock:summary:%s:%s", shared.TenantFromContext(ctx).ID, itemName)
}

// Get returns a cached summary when present.
func (c *SummaryCache) Get(ctx context.Context, itemName string) (Summary, bool) {
	if c == nil || c.client == nil {
		return Summary{}, false
	}
	raw, err := c.client.Get(ctx, c.key(ctx, itemName)).Bytes()
	if err != nil {
		return Summary{}, false
	}
	var sum Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return Summary{}, false
	}
	return sum, true
}

// Set stores a summary. Failures are ignored; the cache is advisory.
func (c *SummaryCache) Set(ctx context.Context, itemName string, sum Summary) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(ctx, itemName), raw, c.ttl).Err()
}

// Invalidate drops the item's cached summary.
func (c *SummaryCache) Invalidate(ctx context.Context, itemName string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(ctx, itemName)).Err()
}
