package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// maxUpdateAttempts bounds the read-compute-swap loop of a single operation
const maxUpdateAttempts = 8

// Config holds retry settings for the queue
type Config struct {
	DefaultMaxRetries int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// Listener is notified after every committed job change. from equals
// job.Status when only progress changed.
type Listener interface {
	JobChanged(ctx context.Context, job *models.Job, from models.JobStatus)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(ctx context.Context, job *models.Job, from models.JobStatus)

func (f ListenerFunc) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	f(ctx, job, from)
}

// JobSpec describes a job to enqueue
type JobSpec struct {
	AssetID  string
	Type     models.JobType
	Priority int
	Params   models.JobParams
	// MaxRetries overrides Config.DefaultMaxRetries when set
	MaxRetries *int
}

// Retries returns a pointer to n for use in JobSpec.MaxRetries
func Retries(n int) *int {
	return &n
}

// Stats counts jobs by status
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Queue is the durable job queue. All state lives in the Store, so any
// number of Queue values over the same Store may be used concurrently.
type Queue struct {
	store     Store
	config    Config
	logger    *logging.Logger
	listeners []Listener
	ready     chan struct{}
	now       func() time.Time
}

// New creates a queue over store
func New(store Store, config Config, logger *logging.Logger, listeners ...Listener) *Queue {
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = 0
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Queue{
		store:     store,
		config:    config,
		logger:    logger,
		listeners: listeners,
		ready:     make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddListener registers a listener for job changes. It must be called before
// the queue is shared between goroutines.
func (q *Queue) AddListener(l Listener) {
	q.listeners = append(q.listeners, l)
}

// Ready is signalled when a job has been enqueued by this process
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Enqueue adds a single pending job and returns its ID
func (q *Queue) Enqueue(ctx context.Context, spec JobSpec) (string, error) {
	jobs, err := q.EnqueueBatch(ctx, []JobSpec{spec})
	if err != nil {
		return "", err
	}
	return jobs[0].ID, nil
}

// EnqueueBatch adds several pending jobs in one store write. Specs earlier in
// the slice are dequeued first among jobs of equal priority.
func (q *Queue) EnqueueBatch(ctx context.Context, specs []JobSpec) ([]*models.Job, error) {
	if len(specs) == 0 {
		return nil, apperr.Validation("no jobs to enqueue")
	}

	now := q.now()
	jobs := make([]*models.Job, 0, len(specs))
	for i, spec := range specs {
		job, err := q.newJob(spec, now)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}

	if err := q.store.InsertJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to insert jobs: %w", err)
	}

	for _, job := range jobs {
		q.logger.LogJobEvent(job.ID, "enqueued", string(job.Status), map[string]interface{}{
			"asset_id": job.AssetID,
			"job_type": job.Type,
			"priority": job.Priority,
		})
		q.notify(ctx, job, models.JobStatusPending)
	}
	q.signal()

	return jobs, nil
}

func (q *Queue) newJob(spec JobSpec, now time.Time) (*models.Job, error) {
	if spec.AssetID == "" {
		return nil, apperr.Validation("asset_id is required")
	}
	if spec.Params == nil {
		return nil, apperr.Validation("job parameters are required")
	}
	if spec.Type == "" {
		spec.Type = spec.Params.JobType()
	}
	if !spec.Type.Valid() {
		return nil, apperr.Validation("unknown job type %q", spec.Type)
	}
	if spec.Params.JobType() != spec.Type {
		return nil, apperr.Validation("parameters for %s do not match job type %s", spec.Params.JobType(), spec.Type)
	}

	maxRetries := q.config.DefaultMaxRetries
	if spec.MaxRetries != nil {
		if *spec.MaxRetries < 0 {
			return nil, apperr.Validation("max_retries must not be negative")
		}
		maxRetries = *spec.MaxRetries
	}

	return &models.Job{
		ID:          uuid.New().String(),
		AssetID:     spec.AssetID,
		Type:        spec.Type,
		Status:      models.JobStatusPending,
		Priority:    spec.Priority,
		Params:      models.NewParams(spec.Params),
		MaxRetries:  maxRetries,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DequeueNext claims the highest priority job that is ready to run. It
// returns nil without error when the queue has nothing ready.
func (q *Queue) DequeueNext(ctx context.Context, workerID string) (*models.Job, error) {
	job, err := q.store.ClaimNextJob(ctx, workerID, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	q.logger.WithWorkerID(workerID).LogJobEvent(job.ID, "claimed", string(job.Status), map[string]interface{}{
		"job_type":    job.Type,
		"retry_count": job.RetryCount,
	})
	q.notify(ctx, job, models.JobStatusPending)
	return job, nil
}

// UpdateProgress records progress for a processing job. Values are clamped
// to [0, 100]; updates that do not increase progress are ignored.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	_, err := q.update(ctx, jobID, func(job *models.Job) (bool, error) {
		if job.Status != models.JobStatusProcessing || progress <= job.Progress {
			return false, nil
		}
		job.Progress = progress
		return true, nil
	})
	return err
}

// Complete marks a processing job completed with its result. Completing an
// already completed job is a no-op.
func (q *Queue) Complete(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error) {
	return q.update(ctx, jobID, func(job *models.Job) (bool, error) {
		switch job.Status {
		case models.JobStatusCompleted:
			return false, nil
		case models.JobStatusProcessing:
		default:
			return false, apperr.InvalidState("cannot complete job %s in status %s", job.ID, job.Status)
		}

		now := q.now()
		job.Status = models.JobStatusCompleted
		job.Progress = 100
		job.ErrorMessage = ""
		job.CompletedAt = &now
		if result != nil {
			job.Result = models.NewResult(result)
		}
		return true, nil
	})
}

// Fail records a failed attempt. The job is re-enqueued with exponential
// backoff while retries remain and becomes terminally failed otherwise.
func (q *Queue) Fail(ctx context.Context, jobID string, message string) (*models.Job, error) {
	return q.fail(ctx, jobID, message, nil)
}

func (q *Queue) fail(ctx context.Context, jobID, message string, guard func(*models.Job) bool) (*models.Job, error) {
	return q.update(ctx, jobID, func(job *models.Job) (bool, error) {
		if job.Status != models.JobStatusProcessing {
			return false, apperr.InvalidState("cannot fail job %s in status %s", job.ID, job.Status)
		}
		if guard != nil && !guard(job) {
			return false, nil
		}

		now := q.now()
		job.ErrorMessage = message
		job.WorkerID = ""

		if job.RetryCount < job.MaxRetries {
			delay := Backoff(q.config.BackoffBase, q.config.BackoffCap, job.RetryCount)
			job.RetryCount++
			job.Status = models.JobStatusPending
			job.Progress = 0
			job.StartedAt = nil
			job.AvailableAt = now.Add(delay)
			return true, nil
		}

		job.Status = models.JobStatusFailed
		job.CompletedAt = &now
		return true, nil
	})
}

// Cancel cancels a pending or processing job
func (q *Queue) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	return q.update(ctx, jobID, func(job *models.Job) (bool, error) {
		if job.Status != models.JobStatusPending && job.Status != models.JobStatusProcessing {
			return false, apperr.InvalidState("cannot cancel job %s in status %s", job.ID, job.Status)
		}
		now := q.now()
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &now
		return true, nil
	})
}

// RetryManually re-enqueues a terminally failed job with a fresh retry budget
func (q *Queue) RetryManually(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.update(ctx, jobID, func(job *models.Job) (bool, error) {
		if job.Status != models.JobStatusFailed {
			return false, apperr.InvalidState("cannot retry job %s in status %s", job.ID, job.Status)
		}
		job.Status = models.JobStatusPending
		job.RetryCount = 0
		job.Progress = 0
		job.ErrorMessage = ""
		job.WorkerID = ""
		job.StartedAt = nil
		job.CompletedAt = nil
		job.AvailableAt = q.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	q.signal()
	return job, nil
}

// IsCancelled reports whether the job has been cancelled
func (q *Queue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == models.JobStatusCancelled, nil
}

// Get returns a job by ID
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// ListByAsset returns all jobs for an asset, newest first
func (q *Queue) ListByAsset(ctx context.Context, assetID string) ([]*models.Job, error) {
	jobs, err := q.store.ListJobsByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns job counts by status
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	counts, err := q.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return &Stats{
		Pending:    counts[models.JobStatusPending],
		Processing: counts[models.JobStatusProcessing],
		Completed:  counts[models.JobStatusCompleted],
		Failed:     counts[models.JobStatusFailed],
		Cancelled:  counts[models.JobStatusCancelled],
	}, nil
}

// ReapStuck fails every job that has been processing longer than timeout.
// Reaped jobs follow the normal retry policy. It returns the number reaped.
func (q *Queue) ReapStuck(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := q.now().Add(-timeout)
	stuck, err := q.store.ListStuckJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck jobs: %w", err)
	}

	reaped := 0
	for _, job := range stuck {
		message := fmt.Sprintf("job exceeded processing timeout of %s", timeout)
		updated, err := q.fail(ctx, job.ID, message, func(current *models.Job) bool {
			// the job may have been retried and claimed again since listing
			return current.StartedAt != nil && current.StartedAt.Before(cutoff)
		})
		if err != nil {
			if apperr.Kind(err) == apperr.KindInvalidState {
				continue
			}
			return reaped, err
		}
		if updated.Status != models.JobStatusProcessing {
			q.logger.WithJobID(job.ID).Warnf("Reaped job stuck in processing since %s", job.StartedAt.Format(time.RFC3339))
			reaped++
		}
	}
	return reaped, nil
}

// update runs fn against the latest copy of the job and writes the result
// with a version check, retrying when another writer got there first. fn
// returns false to leave the job unchanged.
func (q *Queue) update(ctx context.Context, jobID string, fn func(job *models.Job) (bool, error)) (*models.Job, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := q.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		from := job.Status
		version := job.Version
		changed, err := fn(job)
		if err != nil {
			return nil, err
		}
		if !changed {
			return job, nil
		}

		ok, err := q.store.UpdateJob(ctx, job, version)
		if err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		if ok {
			if from != job.Status {
				q.logger.LogJobEvent(job.ID, "transition", string(job.Status), map[string]interface{}{
					"from":        from,
					"retry_count": job.RetryCount,
				})
			}
			q.notify(ctx, job, from)
			return job, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, apperr.Transient(fmt.Errorf("job %s: too many concurrent updates", jobID))
}

func (q *Queue) notify(ctx context.Context, job *models.Job, from models.JobStatus) {
	for _, l := range q.listeners {
		l.JobChanged(ctx, job.Clone(), from)
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Backoff returns the delay before retry number retryCount+1: base * 2^retryCount,
// capped at max when max is positive.
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay >= max {
			break
		}
		delay *= 2
		if delay <= 0 {
			// overflow
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
