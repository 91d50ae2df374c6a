// Strategy agent: buffers indicator signals, fuses them per symbol on a
// fixed cadence, and emits trade intents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/agents"
	"github.com/ajitpratap0/tradepipe/internal/bus"
	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
	"github.com/ajitpratap0/tradepipe/internal/strategy"
)

const agentName = "strategy-agent"

func main() {
	configPath := flag.String("config", "", "path to config file")
	presetPath := flag.String("preset", "", "strategy preset file overriding fusion settings")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := log.Logger

	if *presetPath != "" {
		preset, err := strategy.ImportPresetFile(*presetPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *presetPath).Msg("Failed to load strategy preset")
		}
		preset.ApplyStrategy(&cfg.Strategy)
		logger.Info().Str("preset", preset.Metadata.Name).Msg("Strategy preset applied")
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Agent exited with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.NATS.URL
	busCfg.Name = agentName
	msgBus, err := bus.Connect(busCfg)
	if err != nil {
		return err
	}
	defer msgBus.Close()

	svc, err := strategy.NewService(cfg.Strategy, msgBus, database)
	if err != nil {
		return err
	}

	agent := agents.NewBaseAgent(&agents.AgentConfig{
		Name:    agentName,
		Type:    "strategy",
		Version: cfg.App.Version,
	}, logger, agents.JetStream(msgBus), metricsPort(cfg))

	agent.HandleTopic(protocol.TopicSignals, "strategy", svc.HandleSignal)
	agent.HandleTopic(protocol.TopicPositionUpdate, "strategy", svc.HandlePositionUpdate)
	agent.SetPeriodicJob(cfg.Strategy.DecisionInterval, func(ctx context.Context) error {
		svc.DecideAll(ctx)
		return nil
	})

	if err := agent.Initialize(ctx); err != nil {
		return err
	}

	runErr := agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := agent.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func metricsPort(cfg *config.Config) int {
	if !cfg.Monitoring.EnableMetrics {
		return 0
	}
	return cfg.Monitoring.PrometheusPort
}
