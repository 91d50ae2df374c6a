// Operations API server: read-only HTTP endpoints over the pipeline's
// database plus a websocket feed of live position updates. Fill and
// diagnostics alerts are routed to the notifier from here so the trading
// agents stay free of alerting concerns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepipe/internal/alerts"
	"github.com/ajitpratap0/tradepipe/internal/api"
	"github.com/ajitpratap0/tradepipe/internal/bus"
	"github.com/ajitpratap0/tradepipe/internal/config"
	"github.com/ajitpratap0/tradepipe/internal/db"
	"github.com/ajitpratap0/tradepipe/internal/protocol"
)

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

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("API server exited with error")
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

	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.NATS.URL
	busCfg.Name = "ops-api"
	msgBus, err := bus.Connect(busCfg)
	if err != nil {
		return err
	}
	defer msgBus.Close()

	hub := api.NewHub()
	if _, err := msgBus.Subscribe(protocol.TopicPositionUpdate, "api", hub.HandlePositionUpdate); err != nil {
		return err
	}

	notifier := alerts.NewNotifier(cfg.Alerts)
	if _, err := msgBus.Subscribe(protocol.TopicOrderStatus, "alerts", notifier.HandleOrderStatus); err != nil {
		return err
	}
	if _, err := msgBus.Subscribe(protocol.TopicDiagnostics, "alerts", notifier.HandleDiagnostics); err != nil {
		return err
	}

	server := api.NewServer(cfg.API, cfg.Trading.Exchange, database, hub)
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.API.GetAPIAddr()).Msg("Ops API running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
