package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/tracing"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Handler executes one job. progress reports completion in percent.
type Handler interface {
	Handle(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	return f(ctx, job, progress)
}

// JobQueue is the part of the job queue the pool drives
type JobQueue interface {
	DequeueNext(ctx context.Context, workerID string) (*models.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress float64) error
	Complete(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error)
	Fail(ctx context.Context, jobID string, message string) (*models.Job, error)
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	Ready() <-chan struct{}
}

// AssetRecorder is the part of the asset store the pool writes results to.
// The stored asset status follows job transitions through a queue listener.
type AssetRecorder interface {
	RecordArtifact(ctx context.Context, assetID, jobID string, jobType models.JobType, path string, attrs models.Metadata) (*models.Artifact, error)
}

// Config holds worker pool settings
type Config struct {
	Workers             int
	PollInterval        time.Duration
	CancelCheckInterval time.Duration
	// WorkerPrefix distinguishes the workers of several processes
	WorkerPrefix string
}

// Pool runs jobs from the queue on a fixed number of workers
type Pool struct {
	queue    JobQueue
	assets   AssetRecorder
	config   Config
	logger   *logging.Logger
	handlers map[models.JobType]Handler
}

// NewPool creates a worker pool. Handlers must be registered before Run.
func NewPool(queue JobQueue, assets AssetRecorder, config Config, logger *logging.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.CancelCheckInterval <= 0 {
		config.CancelCheckInterval = 2 * time.Second
	}
	if config.WorkerPrefix == "" {
		config.WorkerPrefix = "worker"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		queue:    queue,
		assets:   assets,
		config:   config,
		logger:   logger,
		handlers: make(map[models.JobType]Handler),
	}
}

// Register sets the handler for a job type
func (p *Pool) Register(jobType models.JobType, handler Handler) {
	p.handlers[jobType] = handler
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current job
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d", p.config.WorkerPrefix, i)
		go func() {
			defer wg.Done()
			p.work(ctx, workerID)
		}()
	}

	p.logger.Infof("Worker pool started with %d workers", p.config.Workers)
	wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) work(ctx context.Context, workerID string) {
	logger := p.logger.WithWorkerID(workerID)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.DequeueNext(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Failed to dequeue job")
			metrics.RecordError("dispatcher", apperr.Kind(err))
		}
		if job != nil {
			p.execute(ctx, workerID, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.queue.Ready():
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes a single job. It reports whether a job was run.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.queue.DequeueNext(ctx, workerID)
	if err != nil || job == nil {
		return false, err
	}
	p.execute(ctx, workerID, job)
	return true, nil
}

// panicError carries a recovered handler panic
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

func (p *Pool) execute(ctx context.Context, workerID string, job *models.Job) {
	logger := p.logger.WithWorkerID(workerID).WithJobID(job.ID).WithAssetID(job.AssetID)
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	span, spanCtx := tracing.StartJobSpan(ctx, job, workerID)
	defer tracing.FinishSpan(span)

	// bookkeeping must land even when the pool is shutting down
	bookCtx := context.WithoutCancel(spanCtx)

	handler, ok := p.handlers[job.Type]
	if !ok {
		err := apperr.Validation("no handler registered for job type %s", job.Type)
		tracing.LogError(span, err)
		p.fail(bookCtx, logger, job, err)
		return
	}

	jobCtx, cancel := context.WithCancel(spanCtx)
	var cancelled atomic.Bool
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		p.watchCancellation(jobCtx, job.ID, &cancelled, cancel)
	}()

	progress := func(value float64) {
		if err := p.queue.UpdateProgress(bookCtx, job.ID, value); err != nil {
			logger.WithError(err).Debug("Failed to record progress")
			return
		}
		logger.LogJobProgress(job.ID, string(job.Type), value)
	}

	result, err := p.invoke(jobCtx, handler, job, progress)
	cancel()
	<-watcherDone

	switch {
	case cancelled.Load():
		logger.Info("Job cancelled while running")
		tracing.SetTag(span, "job.cancelled", true)
	case err != nil:
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = fmt.Errorf("interrupted by worker shutdown: %w", err)
		}
		tracing.LogError(span, err)
		p.fail(bookCtx, logger, job, err)
	default:
		if err := p.complete(bookCtx, job, result); err != nil {
			tracing.LogError(span, err)
			if apperr.Kind(err) == apperr.KindInvalidState {
				// cancelled after the handler finished
				logger.WithError(err).Info("Job result discarded")
			} else {
				p.fail(bookCtx, logger, job, err)
			}
		}
	}
}

// invoke runs the handler, turning a panic into an error
func (p *Pool) invoke(ctx context.Context, handler Handler, job *models.Job, progress func(float64)) (result models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanicsTotal.WithLabelValues(string(job.Type)).Inc()
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return handler.Handle(ctx, job, progress)
}

// watchCancellation polls the job's status and cancels the handler context
// once the job has been cancelled
func (p *Pool) watchCancellation(ctx context.Context, jobID string, cancelled *atomic.Bool, cancel context.CancelFunc) {
	ticker := time.NewTicker(p.config.CancelCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			isCancelled, err := p.queue.IsCancelled(ctx, jobID)
			if err != nil {
				continue
			}
			if isCancelled {
				cancelled.Store(true)
				cancel()
				return
			}
		}
	}
}

// complete records the artifact before the job is marked completed so a
// completed job always has its output attached
func (p *Pool) complete(ctx context.Context, job *models.Job, result models.JobResult) error {
	if path := models.ArtifactPath(result); path != "" {
		attrs, err := resultAttributes(result)
		if err != nil {
			return err
		}
		if _, err := p.assets.RecordArtifact(ctx, job.AssetID, job.ID, job.Type, path, attrs); err != nil {
			return fmt.Errorf("failed to record artifact: %w", err)
		}
	}

	if _, err := p.queue.Complete(ctx, job.ID, result); err != nil {
		return err
	}
	p.logger.LogJobEvent(job.ID, "completed", string(models.JobStatusCompleted), map[string]interface{}{
		"job_type": job.Type,
		"asset_id": job.AssetID,
	})
	return nil
}

func (p *Pool) fail(ctx context.Context, logger *logging.Logger, job *models.Job, cause error) {
	cause = apperr.Processing(cause)
	errorClass := apperr.Kind(cause)
	var pe *panicError
	if errors.As(cause, &pe) {
		errorClass = "panic"
		logger.WithField("stack", string(pe.stack)).Error("Recovered job handler panic")
	}

	updated, err := p.queue.Fail(ctx, job.ID, cause.Error())
	if err != nil {
		if apperr.Kind(err) == apperr.KindInvalidState {
			logger.WithError(err).Info("Job left processing before its failure was recorded")
			return
		}
		logger.WithError(err).Error("Failed to record job failure")
		metrics.RecordError("dispatcher", apperr.Kind(err))
		return
	}

	logger.LogJobFailure(job.ID, string(job.Type), errorClass, updated.RetryCount, updated.MaxRetries, cause)
}

// resultAttributes flattens a job result into artifact attributes
func resultAttributes(result models.JobResult) (models.Metadata, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job result: %w", err)
	}
	var attrs models.Metadata
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	delete(attrs, "path")
	return attrs, nil
}
