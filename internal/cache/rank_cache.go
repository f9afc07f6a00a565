package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// rankEntry is a cached rank lookup result, positive or negative, with the
// deadline it expires at.
type rankEntry struct {
	rank      *controlplane.Rank // nil means "confirmed absent"
	expiresAt time.Time
}

// RankCache holds per-user rank lookups with separate TTLs for hits and
// misses: a confirmed rank is trusted longer than a confirmed absence,
// since ranks change far less often than account creation.
type RankCache struct {
	client *controlplane.Client

	positiveTTL time.Duration
	negativeTTL time.Duration

	mu      sync.RWMutex
	entries map[string]rankEntry

	group singleflight.Group
}

// NewRankCache builds a rank cache backed by client with the given
// positive/negative TTLs.
func NewRankCache(client *controlplane.Client, positiveTTL, negativeTTL time.Duration) *RankCache {
	return &RankCache{
		client:      client,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		entries:     make(map[string]rankEntry),
	}
}

// Get returns the cached rank for userLogin, filling it via a signed RPC on
// a miss or an expired entry. A nil, nil result means the user has no rank
// on record.
func (c *RankCache) Get(ctx context.Context, userLogin string) (*controlplane.Rank, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[userLogin]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		metrics.RankCacheHits.Inc()
		return entry.rank, nil
	}

	metrics.RankCacheMisses.Inc()
	v, err, _ := c.group.Do(userLogin, func() (any, error) {
		rank, err := c.client.GetRank(ctx, userLogin)
		if errkind.Is(err, errkind.RankAbsent) {
			c.store(userLogin, nil, c.negativeTTL)
			return (*controlplane.Rank)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		c.store(userLogin, rank, c.positiveTTL)
		return rank, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*controlplane.Rank), nil
}

func (c *RankCache) store(userLogin string, rank *controlplane.Rank, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userLogin] = rankEntry{rank: rank, expiresAt: time.Now().Add(ttl)}
}

// Sweep evicts every expired entry and returns how many were removed. The
// supervisor calls this on a jittered interval instead of relying on
// lazy per-key expiry alone, so memory doesn't grow unbounded with churn
// from viewers who only show up once.
func (c *RankCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached users, for metrics and tests.
func (c *RankCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
