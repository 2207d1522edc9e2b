package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/app"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/dispatcher"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/processing"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/tracing"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
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
		Service: "worker",
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

	// Create context with cancellation
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
	whisper := transcoder.NewWhisper(cfg.Transcoder.WhisperPath, cfg.Transcoder.WhisperModel)
	handlers := processing.NewHandlers(services.Assets, services.Store,
		processing.FFmpegTools(ffmpeg, whisper), cfg.Transcoder.TempDir, logger)

	pool := dispatcher.NewPool(services.Queue, services.Assets, dispatcher.Config{
		Workers:             cfg.Pipeline.WorkerCount,
		PollInterval:        cfg.Pipeline.PollInterval,
		CancelCheckInterval: cfg.Pipeline.CancelCheckInterval,
		WorkerPrefix:        workerPrefix(),
	}, logger)
	registerHandlers(pool, handlers)

	// Redis elects one reaper when several worker processes run
	var locker scheduler.Locker
	if services.Cache != nil {
		locker = services.Cache
	}
	reaper := scheduler.NewScheduler(services.Queue, locker, cfg.Pipeline.JobTimeout, cfg.Pipeline.ReapInterval, logger)
	reaper.Start()
	defer reaper.Stop()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, services.Health, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// blocks until every worker has handed back its current job
	pool.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	logger.Info("Worker stopped")
}

func registerHandlers(pool *dispatcher.Pool, h *processing.Handlers) {
	pool.Register(models.JobTypeVideoTranscoding, dispatcher.HandlerFunc(h.Transcode))
	pool.Register(models.JobTypeSubtitleGeneration, dispatcher.HandlerFunc(h.GenerateSubtitles))
	pool.Register(models.JobTypeMetadataExtraction, dispatcher.HandlerFunc(h.ExtractMetadata))
	pool.Register(models.JobTypeThumbnailGeneration, dispatcher.HandlerFunc(h.GenerateThumbnail))
}

func workerPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("worker-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
