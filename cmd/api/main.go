package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/middleware"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/tracing"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/transcoder"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: "api",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	tracer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled")
	} else {
		defer tracer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer services.Close()

	if err := os.MkdirAll(cfg.Transcoder.TempDir, 0755); err != nil {
		logger.WithError(err).Fatal("Failed to create temp directory")
	}

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	intake := pipeline.New(
		services.Assets,
		services.Queue,
		services.Workflows,
		services.Catalog,
		services.Store,
		ffmpeg,
		services.Emitter,
		pipeline.ConfigFrom(cfg.Pipeline),
		logger,
	)

	api := &API{
		services:      services,
		pipeline:      intake,
		logger:        logger,
		tempDir:       cfg.Transcoder.TempDir,
		maxUploadSize: cfg.Pipeline.MaxUploadSize,
		watchInterval: cfg.Pipeline.PollInterval,
	}

	limiter := middleware.NewRateLimiter(float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst)
	go limiter.Cleanup(ctx, 10*time.Minute, 30*time.Minute)

	router := setupRouter(api, middleware.NewAuthenticator(cfg.Auth.JWTSecret), limiter, logger)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, services.Health, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	logger.Info("Server stopped")
}
