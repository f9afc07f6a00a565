// Package pubsub subscribes to the control plane's configuration
// invalidation stream over NATS core pub/sub.
package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// configUpdateEvent mirrors the single message shape carried on the topic.
type configUpdateEvent struct {
	Type         string `json:"type"`
	ChannelLogin string `json:"channel_login"`
	Version      int64  `json:"version"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Membership is the subset of the join scheduler the subscriber needs to
// trigger a lazy join for a newly enabled channel.
type Membership interface {
	IsMember(channel string) bool
	AddChannel(ctx context.Context, channel string)
}

// Subscriber consumes config_update events and applies cache invalidation
// plus membership bootstrapping. Best-effort: a missed message is not
// retried or replayed. The config cache has no TTL, so a channel whose
// invalidation is missed keeps its cached entry until a later invalidation
// or a local command mutation evicts it.
type Subscriber struct {
	conn        *nats.Conn
	topic       string
	configCache *cache.ConfigCache
	membership  Membership
	logger      zerolog.Logger
}

// Connect dials the pub/sub endpoint and returns a Subscriber ready to
// Start. A connection failure here is not fatal to boot: absence of
// pub/sub merely disables instant propagation in favor of periodic
// reconciliation.
func Connect(url, topic string, configCache *cache.ConfigCache, membership Membership, logger zerolog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(time.Second*2))
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		conn:        conn,
		topic:       topic,
		configCache: configCache,
		membership:  membership,
		logger:      logger.With().Str("component", "pubsub_subscriber").Logger(),
	}, nil
}

// Start subscribes to the topic. The subscription runs until Close is
// called; delivery happens on NATS's own dispatch goroutine, so handlers
// must not block for long.
func (s *Subscriber) Start(ctx context.Context) error {
	_, err := s.conn.Subscribe(s.topic, func(msg *nats.Msg) {
		s.handle(ctx, msg.Data)
	})
	return err
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	var evt configUpdateEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed pubsub payload")
		return
	}
	if evt.Type != "config_update" {
		metrics.PubsubEventsTotal.WithLabelValues("ignored").Inc()
		return
	}
	metrics.PubsubEventsTotal.WithLabelValues("config_update").Inc()

	s.configCache.Invalidate(evt.ChannelLogin, evt.Version)

	if !s.membership.IsMember(evt.ChannelLogin) {
		s.membership.AddChannel(ctx, evt.ChannelLogin)
	}
}

// Close drains and closes the underlying connection.
func (s *Subscriber) Close() {
	if s.conn != nil {
		s.conn.Drain()
	}
}
