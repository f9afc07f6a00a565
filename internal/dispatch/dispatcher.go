// Package dispatch routes inbound chat lines to the command interpreter or
// the enforcement pipeline, off the IRC read loop.
package dispatch

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/irc"
	"github.com/eloward/eloward-bot/internal/metrics"
	"github.com/eloward/eloward-bot/internal/moderation"
	"github.com/eloward/eloward-bot/internal/policy"
	"github.com/eloward/eloward-bot/internal/workerpool"
)

// CommandHandler processes a recognized command line and replies in
// channel. Implemented by internal/command.
type CommandHandler interface {
	Handle(ctx context.Context, shard irc.Sayer, channelLogin, authorLogin string, roles policy.Roles, text string)
}

// OwnerResolver reports which shard currently owns a channel.
type OwnerResolver interface {
	Owner(channel string) int
}

// Dispatcher is the single entry point every shard's OnMessage handler
// calls into.
type Dispatcher struct {
	shardID       int
	owner         OwnerResolver
	configCache   *cache.ConfigCache
	rankCache     *cache.RankCache
	roleResolver  *policy.Resolver
	executor      *moderation.Executor
	commands      CommandHandler
	pool          *workerpool.Pool
	commandPrefix string
	rpcTimeout    time.Duration
	logger        zerolog.Logger
}

// Config bundles everything the dispatcher needs to construct.
type Config struct {
	ShardID       int
	Owner         OwnerResolver
	ConfigCache   *cache.ConfigCache
	RankCache     *cache.RankCache
	RoleResolver  *policy.Resolver
	Executor      *moderation.Executor
	Commands      CommandHandler
	Pool          *workerpool.Pool
	CommandPrefix string
	RPCTimeout    time.Duration
	Logger        zerolog.Logger
}

// New builds a dispatcher for one shard.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		shardID:       cfg.ShardID,
		owner:         cfg.Owner,
		configCache:   cfg.ConfigCache,
		rankCache:     cfg.RankCache,
		roleResolver:  cfg.RoleResolver,
		executor:      cfg.Executor,
		commands:      cfg.Commands,
		pool:          cfg.Pool,
		commandPrefix: cfg.CommandPrefix,
		rpcTimeout:    cfg.RPCTimeout,
		logger:        cfg.Logger.With().Str("component", "dispatcher").Int("shard_id", cfg.ShardID).Logger(),
	}
}

// Dispatch handles one inbound PRIVMSG, received on the shard this
// dispatcher is bound to. It never blocks the caller beyond submitting a
// task to the worker pool.
func (d *Dispatcher) Dispatch(shard irc.Sayer, msg irc.Message) {
	if msg.Command != irc.CmdPrivmsg || len(msg.Params) == 0 {
		return
	}
	channel := strings.TrimPrefix(msg.Channel(), "#")
	author := msg.Nick()
	text := msg.Trailing()
	tags := tagsFromMessage(msg)

	isOwner := d.owner.Owner(channel) == d.shardID

	if strings.HasPrefix(strings.ToLower(text), d.commandPrefix) || strings.HasPrefix(strings.ToLower(text), "!commands") {
		if !isOwner {
			return // non-owner shard: drop to prevent duplicate replies
		}
		d.pool.Submit(func() {
			d.runCommand(shard, channel, author, tags, text)
		})
		return
	}

	d.pool.Submit(func() {
		d.runEnforcement(channel, author, tags)
	})
}

func (d *Dispatcher) runCommand(shard irc.Sayer, channel, author string, tags policy.Tags, text string) {
	defer d.recoverPanic("command")
	roles := d.roleResolver.Resolve(author, channel, tags)
	d.commands.Handle(context.Background(), shard, channel, author, roles, text)
}

func (d *Dispatcher) runEnforcement(channel, author string, tags policy.Tags) {
	defer d.recoverPanic("enforcement")

	ctx, cancel := context.WithTimeout(context.Background(), d.rpcTimeout)
	defer cancel()

	roles := d.roleResolver.Resolve(author, channel, tags)
	if roles.EnforcementExempt() {
		metrics.EnforcementDecisions.WithLabelValues("exempt").Inc()
		return
	}

	cfg, err := d.configCache.Get(ctx, channel)
	if err != nil || cfg == nil || !cfg.Enabled {
		metrics.EnforcementDecisions.WithLabelValues("disabled").Inc()
		return
	}

	rank, err := d.rankCache.Get(ctx, author)
	if err != nil {
		// Transient lookup failure: fail open, do not enforce.
		metrics.EnforcementDecisions.WithLabelValues("allow").Inc()
		return
	}

	userTier, userDivision := "", ""
	hasRank := rank != nil
	if hasRank {
		userTier, userDivision = rank.Tier, rank.Division
	}

	var timeoutUser bool
	switch cfg.Mode {
	case controlplane.ModeHasRank:
		timeoutUser = !hasRank
	case controlplane.ModeMinRank:
		timeoutUser = !hasRank || !policy.MeetsMinimum(userTier, userDivision, cfg.MinTier, cfg.MinDivision)
	default:
		metrics.EnforcementDecisions.WithLabelValues("allow").Inc()
		return
	}

	if !timeoutUser {
		metrics.EnforcementDecisions.WithLabelValues("allow").Inc()
		return
	}

	metrics.EnforcementDecisions.WithLabelValues("timeout").Inc()
	d.executor.Execute(ctx, moderation.Decision{
		ChannelLogin: channel,
		UserLogin:    author,
		Roles:        roles,
		Config:       cfg,
		UserTier:     userTier,
		UserDivision: userDivision,
	})
}

func (d *Dispatcher) recoverPanic(path string) {
	if r := recover(); r != nil {
		metrics.DispatchPanics.Inc()
		d.logger.Error().
			Interface("panic_value", r).
			Str("path", path).
			Str("stack_trace", string(debug.Stack())).
			Msg("dispatcher recovered panic, message allowed")
	}
}

func tagsFromMessage(msg irc.Message) policy.Tags {
	return policy.Tags{
		Badges:     msg.Tags["badges"],
		Mod:        msg.Tags["mod"] == "1",
		Subscriber: msg.Tags["subscriber"] == "1",
		Vip:        msg.Tags["vip"] == "1",
		UserType:   msg.Tags["user-type"],
	}
}
