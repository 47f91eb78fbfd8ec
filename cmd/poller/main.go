package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/system"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// Config laden
	path := os.Getenv("OHT_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", path))

	lifecycle, err := system.NewLifecycleManager(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize system", zap.Error(err))
	}

	if cfg.Poller.RunOnce {
		os.Exit(runOnce(lifecycle, cfg, logger))
	}

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenHeatTelemetry started successfully")

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenHeatTelemetry stopped successfully")
}

func runOnce(lifecycle *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) int {
	timeout := cfg.Poller.Interval
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	code := 0
	res, err := lifecycle.RunOnce(ctx)
	if err != nil {
		logger.Error("Cycle failed", zap.String("cycle_id", res.ID.String()), zap.Error(err))
		code = 1
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer stop()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		code = 1
	}
	logger.Sync()
	return code
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
