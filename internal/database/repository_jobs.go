package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Jobs

const jobColumns = `
	id, asset_id, job_type, status, priority, progress, parameters, result_data,
	error_message, retry_count, max_retries, worker_id, enqueue_seq, available_at,
	started_at, completed_at, created_at, updated_at, version`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.AssetID, &j.Type, &j.Status, &j.Priority, &j.Progress, &j.Params, &j.Result,
		&j.ErrorMessage, &j.RetryCount, &j.MaxRetries, &j.WorkerID, &j.EnqueueSeq, &j.AvailableAt,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// InsertJobs inserts jobs in one transaction. Enqueue sequence numbers are
// assigned in slice order.
func (r *Repository) InsertJobs(ctx context.Context, jobs []*models.Job) error {
	query := `
		INSERT INTO jobs (id, asset_id, job_type, status, priority, progress, parameters,
		                  error_message, retry_count, max_retries, available_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING enqueue_seq, version
	`

	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		for _, job := range jobs {
			err := tx.QueryRow(ctx, query,
				job.ID, job.AssetID, job.Type, job.Status, job.Priority, job.Progress, job.Params,
				job.ErrorMessage, job.RetryCount, job.MaxRetries, job.AvailableAt, job.CreatedAt, job.UpdatedAt,
			).Scan(&job.EnqueueSeq, &job.Version)
			if err != nil {
				return fmt.Errorf("failed to insert job: %w", err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByAsset retrieves all jobs of an asset, newest first
func (r *Repository) ListJobsByAsset(ctx context.Context, assetID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE asset_id = $1 ORDER BY created_at DESC, enqueue_seq DESC`

	rows, err := r.db.Pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ClaimNextJob atomically moves the highest priority ready job to
// processing. Concurrent claimers skip rows another transaction has locked.
func (r *Repository) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', worker_id = $1, started_at = $2, progress = 0,
		    updated_at = $2, version = version + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND available_at <= $2
			ORDER BY priority DESC, enqueue_seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, workerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to claim job: %w", err))
	}
	return job, nil
}

// UpdateJob writes job if its stored version equals expectedVersion. A job
// moving back to pending receives a new enqueue sequence number.
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job, expectedVersion int64) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $3, priority = $4, progress = $5, result_data = $6, error_message = $7,
		    retry_count = $8, max_retries = $9, worker_id = $10, available_at = $11,
		    started_at = $12, completed_at = $13, updated_at = NOW(), version = version + 1,
		    enqueue_seq = CASE
		        WHEN $3 = 'pending' AND status <> 'pending' THEN nextval('job_enqueue_seq')
		        ELSE enqueue_seq
		    END
		WHERE id = $1 AND version = $2
		RETURNING enqueue_seq, version, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ID, expectedVersion, job.Status, job.Priority, job.Progress, job.Result, job.ErrorMessage,
		job.RetryCount, job.MaxRetries, job.WorkerID, job.AvailableAt,
		job.StartedAt, job.CompletedAt,
	).Scan(&job.EnqueueSeq, &job.Version, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetJob(ctx, job.ID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return true, nil
}

// ListStuckJobs retrieves processing jobs started before cutoff
func (r *Repository) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'processing' AND started_at < $1`

	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobsByStatus counts jobs per status
func (r *Repository) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
