package redis

import (
	"context"
	"errors"
	"time"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
)

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE CACHE
// Implements query.BalanceCache. A miss is (nil, nil); the query handler
// treats any error as a miss too, so this layer never blocks a read.
// ══════════════════════════════════════════════════════════════════════════════

// BalanceCache caches student balance summaries in Redis.
type BalanceCache struct {
	cache *Cache
}

// NewBalanceCache creates a new BalanceCache.
func NewBalanceCache(cache *Cache) *BalanceCache {
	return &BalanceCache{cache: cache}
}

// GetBalance returns the cached summary for a student, or (nil, nil) on miss.
func (b *BalanceCache) GetBalance(ctx context.Context, studentID string) (*fees.BalanceSummary, error) {
	var summary fees.BalanceSummary
	err := b.cache.Get(ctx, BalanceKey(studentID), &summary)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// SetBalance stores a summary with the given TTL.
func (b *BalanceCache) SetBalance(ctx context.Context, summary *fees.BalanceSummary, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLBalanceCache
	}
	return b.cache.Set(ctx, BalanceKey(summary.StudentID), summary, ttl)
}

// InvalidateBalance drops a student's cached summary. Called after every
// completed payment so the next dashboard read is fresh.
func (b *BalanceCache) InvalidateBalance(ctx context.Context, studentID string) error {
	return b.cache.Delete(ctx, BalanceKey(studentID))
}
