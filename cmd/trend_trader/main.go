package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trend_trader/internal/alert"
	"trend_trader/internal/config"
	"trend_trader/internal/core"
	"trend_trader/internal/engine"
	"trend_trader/internal/entitlement"
	"trend_trader/internal/exchange"
	"trend_trader/internal/exchange/binance"
	"trend_trader/internal/infrastructure/metrics"
	"trend_trader/internal/ledger"
	"trend_trader/internal/resilience"
	"trend_trader/internal/stream"
	"trend_trader/pkg/logging"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/trend_trader.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trend_trader version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting trend_trader",
		"version", version,
		"accounts", len(cfg.Accounts),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.ZapLogger) error {
	var metricsServer *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsServer.Start()
	}

	gateway, err := binance.NewGateway(binance.Config{
		APIKey:    string(cfg.Exchange.APIKey),
		SecretKey: string(cfg.Exchange.SecretKey),
		BaseURL:   cfg.Exchange.BaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("exchange gateway: %w", err)
	}
	guardedExchange := exchange.NewGuarded(gateway, resilience.NewGuard(cfg.ExchangeGuard(), logger))

	entStore, err := entitlement.NewSQLiteStore(cfg.System.EntitlementDB)
	if err != nil {
		return fmt.Errorf("entitlement store: %w", err)
	}
	defer entStore.Close()
	gate := entitlement.NewGuarded(entStore, resilience.NewGuard(cfg.EntitlementGuard(), logger))

	tradeStore, err := ledger.NewSQLiteStore(cfg.System.TradeDBPath)
	if err != nil {
		return fmt.Errorf("trade ledger: %w", err)
	}
	defer tradeStore.Close()
	recorder := ledger.NewAsyncRecorder(tradeStore, logger)
	defer recorder.Close()

	registry := engine.NewRegistry(guardedExchange, gate, recorder, logger)
	if alerts := buildAlerts(cfg, logger); alerts != nil {
		registry.SetAlertManager(alerts)
	}
	if cfg.Exchange.StreamURL != "" {
		streamURL := cfg.Exchange.StreamURL
		registry.SetStreamFactory(func(symbol, interval string, log core.Logger) core.CandleStream {
			return stream.NewConsumerWithURL(streamURL, symbol, interval, log)
		})
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStart()

	var g errgroup.Group
	for _, acct := range cfg.Accounts {
		settings := acct.Settings()
		g.Go(func() error {
			if err := registry.StartEngine(startCtx, settings); err != nil {
				return fmt.Errorf("account %s: %w", settings.AccountID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Partial starts are torn down; the operator fixes the config and
		// restarts rather than running a subset silently.
		registry.StopAll()
		return err
	}
	logger.Info("All engines running", "count", len(cfg.Accounts))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("Shutdown signal received", "signal", received.String())

	registry.StopAll()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Stop(shutdownCtx)
	}

	logger.Info("Shutdown complete")
	return nil
}

func buildAlerts(cfg *config.Config, logger core.Logger) *alert.Manager {
	if cfg.Alerts.SlackWebhookURL == "" && cfg.Alerts.TelegramBotToken == "" {
		return nil
	}
	m := alert.NewManager(logger)
	if cfg.Alerts.SlackWebhookURL != "" {
		m.AddChannel(alert.NewSlackChannel(string(cfg.Alerts.SlackWebhookURL)))
	}
	if cfg.Alerts.TelegramBotToken != "" {
		m.AddChannel(alert.NewTelegramChannel(string(cfg.Alerts.TelegramBotToken), cfg.Alerts.TelegramChatID))
	}
	return m
}
