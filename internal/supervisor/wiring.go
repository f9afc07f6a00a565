package supervisor

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/command"
	"github.com/eloward/eloward-bot/internal/config"
	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/credential"
	"github.com/eloward/eloward-bot/internal/moderation"
	"github.com/eloward/eloward-bot/internal/policy"
)

func newRoleResolver(cfg *config.Config) *policy.Resolver {
	return policy.NewResolver(cfg.SuperAdminSet())
}

func newModerationExecutor(cfg *config.Config, credProvider *credential.Provider, logger zerolog.Logger) *moderation.Executor {
	return moderation.New(
		cfg.ModerationAPIURL,
		cfg.ModerationTimeout,
		func() string { return credProvider.Current().Token },
		func() string { return strings.ToLower(credProvider.Current().Login) },
		logger,
	)
}

func newCommandInterpreter(cfg *config.Config, cp *controlplane.Client, configCache *cache.ConfigCache, logger zerolog.Logger) *command.Interpreter {
	return command.New(cfg.CommandPrefix, cp, configCache, logger)
}
