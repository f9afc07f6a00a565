// Package cache implements the two caches that sit in front of the control
// plane: a version-invalidated config cache and a TTL-based rank cache.
// Both coalesce concurrent misses for the same key with singleflight so a
// join burst across many channels cannot fan out into duplicate RPCs.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// configEntry wraps a cached config (or its absence) with the version it
// was last confirmed against, for Lamport-clock-style coherence with
// pub/sub invalidation events.
type configEntry struct {
	cfg     *controlplane.ChannelConfig // nil means "confirmed absent"
	version int64
}

// ConfigCache holds per-channel moderation policy with no time-based
// expiry: entries live until an explicit Invalidate call, driven by the
// pub/sub subscriber or a local command mutation.
type ConfigCache struct {
	client *controlplane.Client

	mu      sync.RWMutex
	entries map[string]configEntry

	group singleflight.Group
}

// NewConfigCache builds a config cache backed by client.
func NewConfigCache(client *controlplane.Client) *ConfigCache {
	return &ConfigCache{
		client:  client,
		entries: make(map[string]configEntry),
	}
}

// Get returns the cached config for channelLogin, filling it via a signed
// RPC on first access. A nil, nil result means the channel has no policy
// (confirmed absent and cached as such).
func (c *ConfigCache) Get(ctx context.Context, channelLogin string) (*controlplane.ChannelConfig, error) {
	c.mu.RLock()
	entry, ok := c.entries[channelLogin]
	c.mu.RUnlock()
	if ok {
		metrics.ConfigCacheHits.Inc()
		return entry.cfg, nil
	}

	metrics.ConfigCacheMisses.Inc()
	v, err, _ := c.group.Do(channelLogin, func() (any, error) {
		cfg, err := c.client.GetConfig(ctx, channelLogin)
		if errkind.Is(err, errkind.PolicyAbsent) {
			c.store(channelLogin, nil, 0)
			return (*controlplane.ChannelConfig)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		c.store(channelLogin, cfg, cfg.Version)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*controlplane.ChannelConfig), nil
}

// Put installs cfg directly, bypassing a network round trip.
func (c *ConfigCache) Put(channelLogin string, cfg *controlplane.ChannelConfig) {
	version := int64(0)
	if cfg != nil {
		version = cfg.Version
	}
	c.store(channelLogin, cfg, version)
}

// Invalidate evicts channelLogin's entry. A positive incoming version is
// compared against what's cached, so an out-of-order pub/sub delivery
// can't clobber a fresher local write; version 0 means the event carries
// no Lamport value at all (the field is best-effort on the wire), and
// always evicts unconditionally rather than risk leaving a stale entry
// in place because nothing comparable was supplied.
func (c *ConfigCache) Invalidate(channelLogin string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.entries[channelLogin]
	if ok && version != 0 && existing.version > version {
		return
	}
	delete(c.entries, channelLogin)
}

func (c *ConfigCache) store(channelLogin string, cfg *controlplane.ChannelConfig, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[channelLogin] = configEntry{cfg: cfg, version: version}
}

// Len reports the number of cached channels, for metrics and tests.
func (c *ConfigCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
