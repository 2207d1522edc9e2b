package queue

import (
	"context"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// MetricsListener records job transitions in Prometheus
type MetricsListener struct{}

func (MetricsListener) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	if from == job.Status {
		if job.Status == models.JobStatusPending {
			// newly enqueued
			metrics.RecordJobEnqueued(string(job.Type))
		}
		return
	}

	jobType := string(job.Type)
	metrics.RecordJobTransition(jobType, string(from), string(job.Status))

	switch {
	case from == models.JobStatusProcessing && job.Status == models.JobStatusPending:
		metrics.RecordJobRetry(jobType, "automatic")
	case from == models.JobStatusFailed && job.Status == models.JobStatusPending:
		metrics.RecordJobRetry(jobType, "manual")
	}

	if job.Status.IsTerminal() && job.StartedAt != nil && job.CompletedAt != nil {
		metrics.RecordJobFinished(jobType, string(job.Status), job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}
}

// RefreshGauges samples queue depth and in-flight jobs into the job gauges
func (q *Queue) RefreshGauges(ctx context.Context) error {
	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	metrics.UpdateJobMetrics(stats.Processing, stats.Pending)
	return nil
}
