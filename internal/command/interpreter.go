// Package command implements the in-chat "!eloward" command surface.
package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/irc"
	"github.com/eloward/eloward-bot/internal/metrics"
	"github.com/eloward/eloward-bot/internal/policy"
)

const (
	helpURL     = "https://eloward.gg/help"
	commandsURL = "https://eloward.gg/commands"

	minTimeoutSeconds = 1
	maxTimeoutSeconds = 1_209_600 // 14 days, the platform's own timeout ceiling
)

// Interpreter handles one parsed command line at a time.
type Interpreter struct {
	prefix      string
	controlplane *controlplane.Client
	configCache *cache.ConfigCache
	logger      zerolog.Logger
}

// New builds a command interpreter.
func New(prefix string, cp *controlplane.Client, configCache *cache.ConfigCache, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		prefix:      strings.ToLower(prefix),
		controlplane: cp,
		configCache: configCache,
		logger:      logger.With().Str("component", "command_interpreter").Logger(),
	}
}

// Handle parses and executes one command line. text is the full PRIVMSG
// body, including the prefix. A non-privileged user attempting a
// privileged command gets a reply; an unrecognized non-command message is
// never routed here in the first place (the dispatcher only calls Handle
// for lines that matched the prefix).
func (ip *Interpreter) Handle(ctx context.Context, shard irc.Sayer, channel, author string, roles policy.Roles, text string) {
	lower := strings.ToLower(strings.TrimSpace(text))

	if lower == "!commands" {
		ip.reply(shard, channel, fmt.Sprintf("Commands: %s", commandsURL))
		return
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	args := fields[1:]
	if len(args) == 0 {
		ip.cmdStatusShort(ctx, shard, channel)
		return
	}

	sub := strings.ToLower(args[0])
	rest := args[1:]

	switch sub {
	case "help":
		ip.reply(shard, channel, fmt.Sprintf("Help: %s", helpURL))
		return
	case "on", "off":
		ip.requirePrivileged(ctx, shard, channel, roles, func() {
			ip.cmdToggle(ctx, shard, channel, sub == "on")
		})
		return
	case "mode":
		ip.requirePrivileged(ctx, shard, channel, roles, func() {
			ip.cmdMode(ctx, shard, channel, rest)
		})
		return
	case "set":
		ip.requirePrivileged(ctx, shard, channel, roles, func() {
			ip.cmdSet(ctx, shard, channel, rest)
		})
		return
	case "status":
		ip.requirePrivileged(ctx, shard, channel, roles, func() {
			ip.cmdStatusDetailed(ctx, shard, channel)
		})
		return
	default:
		metrics.CommandsTotal.WithLabelValues(sub, "unknown").Inc()
		ip.reply(shard, channel, "unknown command")
	}
}

func (ip *Interpreter) requirePrivileged(ctx context.Context, shard irc.Sayer, channel string, roles policy.Roles, fn func()) {
	if !roles.CommandPrivileged() {
		ip.reply(shard, channel, "you don't have permission to do that")
		return
	}
	fn()
}

func (ip *Interpreter) cmdStatusShort(ctx context.Context, shard irc.Sayer, channel string) {
	cfg, err := ip.configCache.Get(ctx, channel)
	if err != nil || cfg == nil || !cfg.Enabled {
		ip.reply(shard, channel, "EloWard is currently off in this channel.")
		return
	}
	ip.reply(shard, channel, fmt.Sprintf("EloWard is on, mode=%s.", cfg.Mode))
}

func (ip *Interpreter) cmdStatusDetailed(ctx context.Context, shard irc.Sayer, channel string) {
	cfg, err := ip.configCache.Get(ctx, channel)
	if err != nil {
		ip.reply(shard, channel, "could not read current configuration, try again shortly")
		return
	}
	if cfg == nil {
		ip.reply(shard, channel, "EloWard has no configuration for this channel yet.")
		return
	}
	ip.reply(shard, channel, fmt.Sprintf(
		"enabled=%t mode=%s timeout=%ds min_tier=%s min_division=%s",
		cfg.Enabled, cfg.Mode, cfg.TimeoutSecs, cfg.MinTier, cfg.MinDivision,
	))
}

func (ip *Interpreter) cmdToggle(ctx context.Context, shard irc.Sayer, channel string, enabled bool) {
	update := controlplane.ConfigUpdate{ChannelLogin: channel, Enabled: &enabled}
	if !ip.apply(ctx, shard, channel, update, "on_off") {
		return
	}
	state := "off"
	if enabled {
		state = "on"
	}
	ip.reply(shard, channel, fmt.Sprintf("EloWard is now %s.", state))
}

func (ip *Interpreter) cmdMode(ctx context.Context, shard irc.Sayer, channel string, args []string) {
	if len(args) != 1 {
		ip.reply(shard, channel, fmt.Sprintf("usage: %s mode has_rank|min_rank", ip.prefix))
		return
	}
	mode := strings.ToLower(args[0])
	if mode != controlplane.ModeHasRank && mode != controlplane.ModeMinRank {
		ip.reply(shard, channel, "mode must be has_rank or min_rank")
		return
	}
	update := controlplane.ConfigUpdate{ChannelLogin: channel, Mode: &mode}
	if !ip.apply(ctx, shard, channel, update, "mode") {
		return
	}
	ip.reply(shard, channel, fmt.Sprintf("mode set to %s.", mode))
}

func (ip *Interpreter) cmdSet(ctx context.Context, shard irc.Sayer, channel string, args []string) {
	if len(args) == 0 {
		ip.reply(shard, channel, fmt.Sprintf("usage: %s set timeout|min_rank|reason ...", ip.prefix))
		return
	}
	switch strings.ToLower(args[0]) {
	case "timeout":
		ip.cmdSetTimeout(ctx, shard, channel, args[1:])
	case "min_rank":
		ip.cmdSetMinRank(ctx, shard, channel, args[1:])
	case "reason":
		ip.cmdSetReason(ctx, shard, channel, args[1:])
	default:
		ip.reply(shard, channel, "unknown command")
	}
}

func (ip *Interpreter) cmdSetTimeout(ctx context.Context, shard irc.Sayer, channel string, args []string) {
	if len(args) != 1 {
		ip.reply(shard, channel, fmt.Sprintf("usage: %s set timeout N", ip.prefix))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		ip.reply(shard, channel, "timeout must be a number of seconds")
		return
	}
	if n < minTimeoutSeconds {
		n = minTimeoutSeconds
	}
	if n > maxTimeoutSeconds {
		n = maxTimeoutSeconds
	}
	update := controlplane.ConfigUpdate{ChannelLogin: channel, TimeoutSecs: &n}
	if !ip.apply(ctx, shard, channel, update, "set_timeout") {
		return
	}
	ip.reply(shard, channel, fmt.Sprintf("timeout set to %ds.", n))
}

func (ip *Interpreter) cmdSetMinRank(ctx context.Context, shard irc.Sayer, channel string, args []string) {
	if len(args) < 1 {
		ip.reply(shard, channel, fmt.Sprintf("usage: %s set min_rank TIER [DIVISION]", ip.prefix))
		return
	}
	tier := strings.ToUpper(args[0])
	if !policy.KnownTier(tier) {
		ip.reply(shard, channel, "unrecognized tier")
		return
	}

	division := "I"
	if !policy.IsDivisionless(tier) {
		if len(args) < 2 {
			ip.reply(shard, channel, "this tier requires a division (1-4 or I-IV)")
			return
		}
		division = normalizeDivision(args[1])
		if !policy.KnownDivision(division) {
			ip.reply(shard, channel, "division must be 1-4 or I-IV")
			return
		}
	}

	update := controlplane.ConfigUpdate{ChannelLogin: channel, MinTier: &tier, MinDivision: &division}
	if !ip.apply(ctx, shard, channel, update, "set_min_rank") {
		return
	}
	ip.reply(shard, channel, fmt.Sprintf("minimum rank set to %s %s.", tier, division))
}

func normalizeDivision(raw string) string {
	switch strings.ToUpper(raw) {
	case "1", "I":
		return "I"
	case "2", "II":
		return "II"
	case "3", "III":
		return "III"
	case "4", "IV":
		return "IV"
	default:
		return strings.ToUpper(raw)
	}
}

func (ip *Interpreter) cmdSetReason(ctx context.Context, shard irc.Sayer, channel string, args []string) {
	if len(args) == 0 {
		ip.reply(shard, channel, fmt.Sprintf("usage: %s set reason <template>", ip.prefix))
		return
	}
	template := strings.Join(args, " ")

	cfg, err := ip.configCache.Get(ctx, channel)
	if err != nil || cfg == nil {
		ip.reply(shard, channel, "could not read current configuration, try again shortly")
		return
	}

	update := controlplane.ConfigUpdate{ChannelLogin: channel}
	switch cfg.Mode {
	case controlplane.ModeMinRank:
		update.ReasonTemplateMinRank = &template
	default:
		update.ReasonTemplateHasRank = &template
	}
	if !ip.apply(ctx, shard, channel, update, "set_reason") {
		return
	}
	ip.reply(shard, channel, "reason template updated.")
}

// apply issues the signed config-update call and, on success, invalidates
// the local cache entry so the very next message sees the change even if
// the pub/sub echo is slow.
func (ip *Interpreter) apply(ctx context.Context, shard irc.Sayer, channel string, update controlplane.ConfigUpdate, label string) bool {
	if _, err := ip.controlplane.UpdateConfig(ctx, update); err != nil {
		if errkind.Is(err, errkind.ConfigError) {
			ip.reply(shard, channel, "invalid configuration value")
		} else {
			ip.reply(shard, channel, "could not save that change, try again shortly")
		}
		metrics.CommandsTotal.WithLabelValues(label, "failed").Inc()
		return false
	}
	ip.configCache.Invalidate(channel, 0)
	metrics.CommandsTotal.WithLabelValues(label, "success").Inc()
	return true
}

func (ip *Interpreter) reply(shard irc.Sayer, channel, text string) {
	if err := shard.Say("#"+channel, text); err != nil {
		ip.logger.Warn().Err(err).Str("channel", channel).Msg("failed to send chat reply")
	}
}
