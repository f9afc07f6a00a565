// Package supervisor owns the process lifecycle: boot sequence, periodic
// maintenance tasks, and graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/config"
	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/credential"
	"github.com/eloward/eloward-bot/internal/dispatch"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/irc"
	"github.com/eloward/eloward-bot/internal/metrics"
	"github.com/eloward/eloward-bot/internal/pubsub"
	"github.com/eloward/eloward-bot/internal/workerpool"
)

const tokenStalenessThreshold = 120 * time.Minute

// sweepJitterWindow is the spread applied around cfg.SweepInterval so every
// process instance's sweeps don't land in lockstep.
const sweepJitterWindow = 30 * time.Second

// Supervisor owns every long-lived component for the process's lifetime.
type Supervisor struct {
	cfg        *config.Config
	logger     zerolog.Logger
	credential *credential.Provider
	controlplane *controlplane.Client
	configCache *cache.ConfigCache
	rankCache  *cache.RankCache
	pool       *workerpool.Pool
	shards     []*irc.Shard
	shardHandles []irc.ShardHandle
	scheduler  *irc.Scheduler
	pubsubSub  *pubsub.Subscriber

	cancel context.CancelFunc
}

// New wires every component from cfg but does not start anything yet.
func New(cfg *config.Config, logger zerolog.Logger) *Supervisor {
	credProvider := credential.New(cfg.ControlPlaneURL, cfg.RPCTimeout, logger)
	cpClient := controlplane.New(cfg.ControlPlaneURL, cfg.HMACSecret, cfg.RPCTimeout, logger)
	configCache := cache.NewConfigCache(cpClient)
	rankCache := cache.NewRankCache(cpClient, 60*time.Second, 30*time.Second)
	pool := workerpool.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger)

	return &Supervisor{
		cfg:          cfg,
		logger:       logger.With().Str("component", "supervisor").Logger(),
		credential:   credProvider,
		controlplane: cpClient,
		configCache:  configCache,
		rankCache:    rankCache,
		pool:         pool,
	}
}

// Run executes the full boot sequence, blocks until SIGINT/SIGTERM, and
// then shuts everything down gracefully. It returns a non-zero-worthy
// error only for fatal boot failures; the caller should os.Exit(1) in
// that case.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cfg.HMACSecret == "" {
		return errkind.Wrap(errkind.FatalBoot, fmt.Errorf("HMAC secret is required"))
	}

	if err := s.credential.Boot(ctx); err != nil {
		return err
	}

	s.pool.Start(ctx)

	roleResolver := newRoleResolver(s.cfg)
	moderationExecutor := newModerationExecutor(s.cfg, s.credential, s.logger)
	interpreter := newCommandInterpreter(s.cfg, s.controlplane, s.configCache, s.logger)

	s.shards = make([]*irc.Shard, s.cfg.ShardCount)
	s.shardHandles = make([]irc.ShardHandle, s.cfg.ShardCount)
	dispatchers := make([]*dispatch.Dispatcher, s.cfg.ShardCount)

	// dispatchers[i] is populated below, before any shard is started, so
	// the closures here never observe a nil entry.
	for i := 0; i < s.cfg.ShardCount; i++ {
		id := i
		handlers := irc.EventHandlers{
			OnRegistered: func(sh *irc.Shard) {
				s.logger.Info().Int("shard_id", id).Msg("shard registered")
				// Re-JOIN whatever this shard already held locally: a fresh
				// TCP connection (initial reconnect or a credential-rotation
				// forced reconnect) carries no membership from the network's
				// side, only from ours.
				go s.scheduler.Rejoin(ctx, id, sh.Channels())
			},
			OnMessage: func(sh *irc.Shard, msg irc.Message) {
				dispatchers[id].Dispatch(sh, msg)
			},
		}
		shard := irc.NewShard(id, s.cfg.IRCAddr, handlers, s.logger)
		s.shards[i] = shard
		s.shardHandles[i] = shard
	}

	s.scheduler = irc.NewScheduler(s.shardHandles, s.cfg.ShardCapacity, s.cfg.JoinInterval, s.controlplane, s.logger)

	for i := range s.shards {
		dispatchers[i] = dispatch.New(dispatch.Config{
			ShardID:       i,
			Owner:         s.scheduler,
			ConfigCache:   s.configCache,
			RankCache:     s.rankCache,
			RoleResolver:  roleResolver,
			Executor:      moderationExecutor,
			Commands:      interpreter,
			Pool:          s.pool,
			CommandPrefix: s.cfg.CommandPrefix,
			RPCTimeout:    s.cfg.RPCTimeout,
			Logger:        s.logger,
		})
	}

	cred := s.credential.Current()
	for i, shard := range s.shards {
		if i > 0 {
			// Stagger the second and later shard logins to avoid a
			// simultaneous login burst against the chat network.
			time.Sleep(2 * time.Second)
		}
		shard.Start(ctx, irc.Credentials{Nick: cred.Login, Token: cred.Token})
	}

	s.credential.OnRotate(func(next credential.Credential) {
		s.logger.Info().Msg("credential rotated, reconnecting shards with new token")
		for _, shard := range s.shards {
			shard.Rotate(irc.Credentials{Nick: next.Login, Token: next.Token})
		}
	})

	if err := s.scheduler.Bootstrap(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to bootstrap expected channel set")
	} else {
		s.scheduler.Reconcile(ctx)
	}

	if s.cfg.PubSubURL != "" {
		sub, err := pubsub.Connect(s.cfg.PubSubURL, s.cfg.PubSubTopic, s.configCache, s.scheduler, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("pubsub connect failed, instant propagation disabled")
		} else {
			s.pubsubSub = sub
			if err := sub.Start(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("pubsub subscribe failed")
			}
		}
	}

	go s.tokenMonitor(ctx)
	go s.sweeper(ctx)
	go s.reconciler(ctx)
	go s.resourceReporter(ctx)

	s.waitForShutdownSignal(ctx)
	s.shutdown()
	return nil
}

func (s *Supervisor) waitForShutdownSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		s.logger.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}
}

func (s *Supervisor) shutdown() {
	s.logger.Info().Msg("shutting down")
	if s.cancel != nil {
		s.cancel()
	}
	if s.pubsubSub != nil {
		s.pubsubSub.Close()
	}
	for _, shard := range s.shards {
		shard.Quit("EloWard bot shutting down")
	}
	for _, shard := range s.shards {
		shard.Wait()
	}
	s.pool.Stop()
	s.logger.Info().Msg("shutdown complete")
}

func (s *Supervisor) tokenMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CredentialCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.credential.ShouldRefresh(tokenStalenessThreshold) {
				if err := s.credential.Refresh(ctx); err != nil {
					s.logger.Error().Err(err).Msg("credential refresh failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// sweeper evicts expired rank entries on a jittered interval centered on
// cfg.SweepInterval. Config entries have no TTL and are never swept; they
// live until invalidated.
func (s *Supervisor) sweeper(ctx context.Context) {
	base := s.cfg.SweepInterval - sweepJitterWindow/2
	for {
		jitter := base + time.Duration(rand.Int63n(int64(sweepJitterWindow)))
		select {
		case <-time.After(jitter):
			removed := s.rankCache.Sweep()
			if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("rank cache sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

// resourceReporter logs this process's own CPU and memory usage on a slow
// interval, so an operator watching logs can correlate enforcement latency
// or dropped-message spikes with resource pressure rather than guessing.
func (s *Supervisor) resourceReporter(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("resource reporter disabled: could not inspect own process")
		return
	}

	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cpuPercent, err := proc.CPUPercent()
			if err != nil {
				s.logger.Debug().Err(err).Msg("failed to sample process CPU")
				continue
			}
			memInfo, err := proc.MemoryInfo()
			if err != nil {
				s.logger.Debug().Err(err).Msg("failed to sample process memory")
				continue
			}
			hostCPU, _ := cpu.Percent(0, false)
			event := s.logger.Debug().Float64("process_cpu_percent", cpuPercent)
			if memInfo != nil {
				event = event.Uint64("rss_bytes", memInfo.RSS)
			}
			if len(hostCPU) > 0 {
				event = event.Float64("host_cpu_percent", hostCPU[0])
			}
			event.Msg("resource usage")
		case <-ctx.Done():
			return
		}
	}
}

// reconciler re-walks the expected channel set periodically as a safety
// net against a missed pub/sub delivery or a scheduler bug leaving a
// channel unheld.
func (s *Supervisor) reconciler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.scheduler.Bootstrap(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("reconcile: failed to refresh expected channel set")
				continue
			}
			s.scheduler.Reconcile(ctx)
			metrics.ShardsConnected.Set(float64(len(s.shards)))
		case <-ctx.Done():
			return
		}
	}
}
