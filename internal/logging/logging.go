package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a wrapper around zerolog.Logger carrying pipeline fields
type Logger struct {
	logger zerolog.Logger
}

// Config holds logging configuration
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Output  string // stdout, stderr, discard, or a file path
	Service string // api, worker, vcctl
}

// NewLogger opens cfg.Output and creates a logger writing to it. It also
// becomes the zerolog global logger.
func NewLogger(cfg Config) (*Logger, error) {
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	l := New(w, cfg)
	log.Logger = l.logger
	return l, nil
}

// New creates a logger writing to w. cfg.Output is ignored.
func New(w io.Writer, cfg Config) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return &Logger{logger: ctx.Logger()}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "", "discard":
		return io.Discard, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{logger: fn(l.logger.With()).Logger()}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithError adds an error to the logger
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("job_id", jobID) })
}

func (l *Logger) WithAssetID(assetID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("asset_id", assetID) })
}

func (l *Logger) WithWorkflowID(workflowID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("workflow_id", workflowID) })
}

func (l *Logger) WithWorkerID(workerID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("worker_id", workerID) })
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.logger.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.logger.Warn().Msgf(format, args...) }

// Fatal logs msg and exits the process
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// LogHTTPRequest logs one served request
func (l *Logger) LogHTTPRequest(method, path, clientIP string, statusCode int, duration time.Duration) {
	evt := l.logger.Info()
	if statusCode >= 500 {
		evt = l.logger.Error()
	}
	evt.Str("method", method).
		Str("path", path).
		Str("client_ip", clientIP).
		Int("status_code", statusCode).
		Dur("duration_ms", duration).
		Msg("HTTP request")
}

// LogJobEvent logs a job lifecycle event with extra details
func (l *Logger) LogJobEvent(jobID, event, status string, details map[string]interface{}) {
	l.logger.Info().
		Str("job_id", jobID).
		Str("event", event).
		Str("status", status).
		Fields(details).
		Msg("Job event")
}

func (l *Logger) LogJobProgress(jobID, jobType string, progress float64) {
	l.logger.Debug().
		Str("job_id", jobID).
		Str("job_type", jobType).
		Float64("progress", progress).
		Msg("Job progress")
}

// LogJobFailure logs a failed job attempt. Transient failures log at error
// level so infrastructure alerts can key on them.
func (l *Logger) LogJobFailure(jobID, jobType, errorClass string, retryCount, maxRetries int, err error) {
	evt := l.logger.Warn()
	if errorClass == "transient" {
		evt = l.logger.Error()
	}
	evt.Err(err).
		Str("job_id", jobID).
		Str("job_type", jobType).
		Str("error_class", errorClass).
		Int("retry_count", retryCount).
		Int("max_retries", maxRetries).
		Msg("Job attempt failed")
}

// LogStorageOperation logs an object store call; successes log at debug
func (l *Logger) LogStorageOperation(operation, bucket, key string, size int64, duration time.Duration, err error) {
	evt := l.logger.Debug()
	if err != nil {
		evt = l.logger.Error().Err(err)
	}
	evt.Str("operation", operation).
		Str("bucket", bucket).
		Str("key", key).
		Int64("size_bytes", size).
		Dur("duration_ms", duration).
		Msg("Storage operation")
}

func (l *Logger) LogWorkflowTransition(workflowID, from, to, actorID string) {
	l.logger.Info().
		Str("workflow_id", workflowID).
		Str("from", from).
		Str("to", to).
		Str("actor_id", actorID).
		Msg("Workflow transition")
}
