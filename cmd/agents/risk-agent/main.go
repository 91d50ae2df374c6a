// Risk manager agent: validates and sizes trade intents against the fund
// ledger, publishes approved orders, and records every rejection.
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
	"github.com/ajitpratap0/tradepipe/internal/alerts"
	"github.com/ajitpratap0/tradepipe/internal/bus"
	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/exchange"
	"github.com/ajitpratap0/tradepipe/internal/market"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
	"github.com/ajitpratap0/tradepipe/internal/risk"
	"github.com/ajitpratap0/tradepipe/internal/strategy"
)

const (
	agentName = "risk-agent"

	// the ledger is denominated in the quote asset of every traded pair
	quoteAsset          = "USDT"
	balanceSyncInterval = time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	presetPath := flag.String("preset", "", "strategy preset file overriding risk settings")
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
		preset.ApplyRisk(&cfg.Risk)
		logger.Info().Str("preset", preset.Metadata.Name).Msg("Risk preset applied")
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

	var cache *market.TickerCache
	redisClient, err := market.Connect(ctx, cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, sizing falls back to stored closes")
	} else {
		defer redisClient.Close()
		cache = market.NewTickerCache(redisClient, 0)
	}

	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.NATS.URL
	busCfg.Name = agentName
	msgBus, err := bus.Connect(busCfg)
	if err != nil {
		return err
	}
	defer msgBus.Close()

	svc := risk.NewService(cfg.Risk, cfg.Trading.Exchange, cfg.Trading.InitialCapital, msgBus, cache, database)
	svc.SetNotifier(alerts.NewNotifier(cfg.Alerts))

	agent := agents.NewBaseAgent(&agents.AgentConfig{
		Name:    agentName,
		Type:    "risk",
		Version: cfg.App.Version,
	}, logger, agents.JetStream(msgBus), metricsPort(cfg))

	agent.HandleTopic(protocol.TopicTradeIntent, "risk", svc.HandleIntent)
	agent.HandleTopic(protocol.TopicOrderStatus, "risk", svc.HandleOrderStatus)

	// live runs take the balance from the venue; paper runs keep the
	// configured capital
	if cfg.Trading.Mode == "live" {
		ex := cfg.Exchanges[cfg.Trading.Exchange]
		venue, err := exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:      ex.APIKey,
			SecretKey:   ex.SecretKey,
			Testnet:     ex.Testnet,
			RateLimitMS: ex.RateLimitMS,
		})
		if err != nil {
			return err
		}
		syncBalance := func(ctx context.Context) error {
			bal, err := venue.GetBalance(ctx, quoteAsset)
			if err != nil {
				return fmt.Errorf("balance sync: %w", err)
			}
			svc.Ledger().SetBalance(bal.Free)
			return nil
		}
		if err := syncBalance(ctx); err != nil {
			logger.Warn().Err(err).Msg("Startup balance sync failed, using configured capital")
		} else {
			logger.Info().Float64("balance", svc.Ledger().Balance()).Msg("Ledger synced with venue balance")
		}
		agent.SetPeriodicJob(balanceSyncInterval, syncBalance)
	}

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
