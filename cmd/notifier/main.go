package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trainingportal/internal/app"
	"trainingportal/internal/config"
	"trainingportal/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		log = logger.NewLogger()
		log.Warn("Invalid logging config, using defaults", zap.Error(err))
	}
	defer log.Sync()

	log.Info("Starting notification engine...",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("transport", cfg.Transport.Driver),
		zap.String("port", cfg.Server.Port),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("consumer", cfg.Consumer.Enabled),
	)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize notification engine", zap.Error(err))
	}
	errc := a.Start()

	log.Info("Notification engine is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errc:
		log.Error("Component failed, shutting down", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}

	log.Info("Notification engine shutdown complete")
}
