package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/container"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/handlers"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/scheduler"
	"github.com/zfogg/vidlayer/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Log.Error("Server stopped with error", zap.Error(err))
		logger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger.Log.Info("=== Vidlayer server starting ===",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Server.Environment,
		OTLPEndpoint: cfg.Telemetry.Endpoint,
		Enabled:      cfg.Telemetry.Enabled,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Log.Warn("Tracing disabled", zap.Error(err))
		shutdownTracer = func(context.Context) error { return nil }
	}

	db, err := database.Initialize(cfg.Database, cfg.Server.Environment)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Enabled {
		if err := db.Use(telemetry.GORMTracingPlugin()); err != nil {
			logger.Log.Warn("Failed to register GORM tracing", zap.Error(err))
		}
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	ctx := context.Background()
	c, err := container.Build(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	c.OnCleanup(func(context.Context) error { return database.Close() })
	c.OnCleanup(shutdownTracer)
	c.Start()

	jobs := scheduler.New(
		scheduler.EarningsJob(c.Earnings(), cfg.Scheduler.EarningsInterval, nil),
		scheduler.PayoutsJob(c.Payouts(), cfg.Scheduler.PayoutInterval),
		scheduler.ImportRecoveryJob(c.Imports(), cfg.Scheduler.ImportInterval),
		scheduler.AlertsJob(c.Alerts(), cfg.Scheduler.AlertsInterval),
	)
	jobs.Start()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Log.Info("Shutting down server...", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	jobs.Stop()
	if err := c.Cleanup(shutdownCtx); err != nil {
		logger.Log.Warn("Cleanup finished with errors", zap.Error(err))
	}

	logger.Log.Info("Server exited")
	return runErr
}
