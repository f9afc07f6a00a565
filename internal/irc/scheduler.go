package irc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// ShardHandle is the subset of Shard the scheduler needs, so tests can
// substitute a fake without standing up a real connection.
type ShardHandle interface {
	Join(channel string) error
	Part(channel string) error
	Holds(channel string) bool
	ChannelCount() int
	Channels() []string
}

// Scheduler distributes channels across shards, enforces a per-shard
// capacity bound, and paces JOINs with a token bucket well inside the
// network's advertised rate cap.
type Scheduler struct {
	shards       []ShardHandle
	capacity     int
	joinInterval time.Duration
	controlplane *controlplane.Client
	logger       zerolog.Logger

	mu       sync.Mutex
	expected map[string]struct{} // source of truth: control plane's /channels
	owner    map[string]int      // channel -> shard index

	limiters []*rate.Limiter
}

// NewScheduler builds a scheduler over shards, each capped at capacity
// channels, pacing JOINs at joinInterval per shard.
func NewScheduler(shards []ShardHandle, capacity int, joinInterval time.Duration, cp *controlplane.Client, logger zerolog.Logger) *Scheduler {
	limiters := make([]*rate.Limiter, len(shards))
	for i := range limiters {
		limiters[i] = rate.NewLimiter(rate.Every(joinInterval), 1)
	}
	return &Scheduler{
		shards:       shards,
		capacity:     capacity,
		joinInterval: joinInterval,
		controlplane: cp,
		logger:       logger.With().Str("component", "join_scheduler").Logger(),
		expected:     make(map[string]struct{}),
		owner:        make(map[string]int),
		limiters:     limiters,
	}
}

// Bootstrap loads the expected channel set from the control plane,
// replacing the previous one, so a channel dropped from the roster is
// parted by the next Reconcile. Loaded channels count as already known,
// so AddChannel does not follow them again. No JOINs are issued here;
// Reconcile performs the actual joining once shards are registered.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	channels, err := s.controlplane.Channels(ctx)
	if err != nil {
		return err
	}
	expected := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		expected[ch] = struct{}{}
	}
	s.mu.Lock()
	s.expected = expected
	s.mu.Unlock()
	return nil
}

// Reconcile walks the expected set and assigns+joins any channel not yet
// held by a shard, respecting per-shard capacity and JOIN pacing. It also
// PARTs any held channel no longer in the expected set. Safe to call
// repeatedly; it is the supervisor's periodic safety net as well as the
// boot-time join driver.
func (s *Scheduler) Reconcile(ctx context.Context) {
	s.mu.Lock()
	expected := make([]string, 0, len(s.expected))
	for ch := range s.expected {
		expected = append(expected, ch)
	}
	owned := make(map[string]int, len(s.owner))
	for ch, idx := range s.owner {
		owned[ch] = idx
	}
	s.mu.Unlock()

	expectedSet := make(map[string]struct{}, len(expected))
	for _, ch := range expected {
		expectedSet[ch] = struct{}{}
	}

	for ch, idx := range owned {
		if _, ok := expectedSet[ch]; !ok {
			s.part(ch, idx)
		}
	}

	for _, ch := range expected {
		if _, ok := owned[ch]; ok {
			continue
		}
		s.assignAndJoin(ctx, ch)
	}
}

// AddChannel adds channel to the expected set and, if it is not already
// held, assigns and joins it. Used by the pub/sub subscriber when a
// config_update names a channel not yet in ChannelMembership.
func (s *Scheduler) AddChannel(ctx context.Context, channel string) {
	s.mu.Lock()
	_, alreadyExpected := s.expected[channel]
	s.expected[channel] = struct{}{}
	s.mu.Unlock()

	if !alreadyExpected {
		if err := s.controlplane.FollowChannel(ctx, channel); err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Msg("follow-channel call failed")
		}
	}
	s.assignAndJoin(ctx, channel)
}

func (s *Scheduler) assignAndJoin(ctx context.Context, channel string) {
	s.mu.Lock()
	if _, held := s.owner[channel]; held {
		s.mu.Unlock()
		return
	}
	idx := s.firstEligible()
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Error().Str("channel", channel).Msg("no shard with available capacity")
		return
	}
	s.owner[channel] = idx
	limiter := s.limiters[idx]
	shard := s.shards[idx]
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return
	}
	if err := shard.Join(channel); err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Int("shard", idx).Msg("join failed")
		return
	}
	metrics.ChannelsJoined.Inc()
}

func (s *Scheduler) part(channel string, idx int) {
	s.mu.Lock()
	shard := s.shards[idx]
	delete(s.owner, channel)
	s.mu.Unlock()

	if err := shard.Part(channel); err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Msg("part failed")
		return
	}
	metrics.ChannelsJoined.Dec()
}

// firstEligible returns the index of the first shard with room for one
// more channel, filling shards in order rather than balancing load across
// them; -1 if all are at capacity. Caller must hold s.mu.
func (s *Scheduler) firstEligible() int {
	for i, shard := range s.shards {
		if shard.ChannelCount() < s.capacity {
			return i
		}
	}
	return -1
}

// Rejoin re-issues JOIN, paced through the shard's own token bucket, for
// every channel in channels. Called after a shard reconnects: the chat
// network has no memory of previous membership across a fresh TCP
// connection, so without this the bot would silently sit out of every
// channel it held until the process restarts.
func (s *Scheduler) Rejoin(ctx context.Context, shardIdx int, channels []string) {
	s.mu.Lock()
	if shardIdx < 0 || shardIdx >= len(s.shards) {
		s.mu.Unlock()
		return
	}
	limiter := s.limiters[shardIdx]
	shard := s.shards[shardIdx]
	s.mu.Unlock()

	for _, ch := range channels {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := shard.Join(ch); err != nil {
			s.logger.Warn().Err(err).Str("channel", ch).Int("shard", shardIdx).Msg("rejoin after reconnect failed")
		}
	}
}

// Owner returns the shard index currently carrying channel, or -1 if
// unheld. If a channel is briefly carried by two shards during a handover,
// only the first assignment is recorded here, matching the "prefer the
// first shard" ownership rule.
func (s *Scheduler) Owner(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.owner[channel]
	if !ok {
		return -1
	}
	return idx
}

// IsMember reports whether channel is currently held by any shard.
func (s *Scheduler) IsMember(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owner[channel]
	return ok
}
