package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"runtime"

	_ "go.uber.org/automaxprocs"

	"github.com/eloward/eloward-bot/internal/config"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/logging"
	"github.com/eloward/eloward-bot/internal/metrics"
	"github.com/eloward/eloward-bot/internal/supervisor"
)

func main() {
	bootLogger := log.New(os.Stdout, "[eloward-bot] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	bootLogger.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		bootLogger.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sup := supervisor.New(cfg, logger)
	if err := sup.Run(context.Background()); err != nil {
		if errkind.Is(err, errkind.FatalBoot) {
			logger.Fatal().Err(err).Msg("fatal boot error, exiting")
		}
		logger.Fatal().Err(err).Msg("supervisor exited with error")
	}
}
