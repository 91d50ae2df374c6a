// Execution agent: places validated orders on the venue, tracks fills and
// positions, and publishes order and position updates.
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
	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/execution"
	"github.com/ajitpratap0/tradepipe/internal/metrics"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

const agentName = "execution-agent"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := log.Logger

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

	venue, err := buildVenue(cfg)
	if err != nil {
		return err
	}

	svc := execution.NewService(cfg.Execution, venue, database, msgBus)
	if err := svc.Recover(ctx); err != nil {
		return fmt.Errorf("position recovery failed: %w", err)
	}

	agent := agents.NewBaseAgent(&agents.AgentConfig{
		Name:    agentName,
		Type:    "execution",
		Version: cfg.App.Version,
	}, logger, agents.JetStream(msgBus), metricsPort(cfg))

	agent.HandleTopic(protocol.TopicTradeOrder, "execution", svc.HandleOrder)

	if err := agent.Initialize(ctx); err != nil {
		return err
	}

	go svc.Run(ctx)

	// portfolio gauges are derived from the positions table this agent owns
	if pool := database.PgxPool(); pool != nil {
		updater := metrics.NewUpdater(pool, 30*time.Second)
		go updater.Start(ctx)
		defer updater.Stop()
	}

	runErr := agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := agent.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func buildVenue(cfg *config.Config) (exchange.Exchange, error) {
	ex := cfg.Exchanges[cfg.Trading.Exchange]
	if cfg.Trading.Mode == "live" {
		return exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:      ex.APIKey,
			SecretKey:   ex.SecretKey,
			Testnet:     ex.Testnet,
			RateLimitMS: ex.RateLimitMS,
		})
	}
	return exchange.NewMockExchangeWithFees(ex.Fees), nil
}

func metricsPort(cfg *config.Config) int {
	if !cfg.Monitoring.EnableMetrics {
		return 0
	}
	return cfg.Monitoring.PrometheusPort
}
