package queue

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Store persists job records. The queue service owns all job semantics; a
// Store only has to provide an exclusive claim and a versioned write.
type Store interface {
	// InsertJobs persists new pending jobs, assigning enqueue sequence numbers
	// and an initial version.
	InsertJobs(ctx context.Context, jobs []*models.Job) error

	// GetJob returns a copy of the job or an apperr.ErrNotFound error.
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// ListJobsByAsset returns copies of every job referencing the asset.
	ListJobsByAsset(ctx context.Context, assetID string) ([]*models.Job, error)

	// ClaimNextJob atomically moves the highest priority pending job that is
	// available at now into processing for workerID. It returns nil when no
	// job is ready.
	ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error)

	// UpdateJob writes job if the stored version still equals expectedVersion
	// and reports whether the write happened. A job moving into pending from
	// any other status is re-enqueued behind jobs of equal priority.
	UpdateJob(ctx context.Context, job *models.Job, expectedVersion int64) (bool, error)

	// ListStuckJobs returns processing jobs started before cutoff.
	ListStuckJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// CountJobsByStatus returns the number of jobs in each status.
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}
