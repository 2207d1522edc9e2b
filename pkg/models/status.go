package models

// AggregateStatus is the processing summary derived from an asset's jobs
type AggregateStatus string

const (
	AggregateStatusPending    AggregateStatus = "pending"
	AggregateStatusProcessing AggregateStatus = "processing"
	AggregateStatusCompleted  AggregateStatus = "completed"
	AggregateStatusFailed     AggregateStatus = "failed"
)

// DeriveStatus summarizes jobs. The result is completed only when every job
// completed, and failed only when a job failed terminally and nothing is
// still pending or processing. Cancelled jobs are settled and left out of
// the summary; an asset whose jobs were all cancelled stays pending until it
// is reprocessed.
func DeriveStatus(jobs []*Job) AggregateStatus {
	var total, completed, failed, active, processing int
	for _, job := range jobs {
		switch job.Status {
		case JobStatusCancelled:
			continue
		case JobStatusCompleted:
			completed++
		case JobStatusFailed:
			failed++
		case JobStatusProcessing:
			processing++
			active++
		case JobStatusPending:
			active++
		}
		total++
	}

	switch {
	case total == 0:
		return AggregateStatusPending
	case completed == total:
		return AggregateStatusCompleted
	case failed > 0 && active == 0:
		return AggregateStatusFailed
	case processing > 0:
		return AggregateStatusProcessing
	default:
		return AggregateStatusPending
	}
}

// ProcessingStatusFor maps an aggregate onto the stored asset status. While
// jobs run, a running transcode reports transcoding and a running subtitle
// job reports subtitle_generation.
func ProcessingStatusFor(aggregate AggregateStatus, jobs []*Job) ProcessingStatus {
	switch aggregate {
	case AggregateStatusCompleted:
		return ProcessingStatusCompleted
	case AggregateStatusFailed:
		return ProcessingStatusFailed
	case AggregateStatusProcessing:
		for _, job := range jobs {
			if job.Status == JobStatusProcessing && job.Type == JobTypeVideoTranscoding {
				return ProcessingStatusTranscoding
			}
		}
		for _, job := range jobs {
			if job.Status == JobStatusProcessing && job.Type == JobTypeSubtitleGeneration {
				return ProcessingStatusSubtitleGeneration
			}
		}
		return ProcessingStatusTranscoding
	}
	return ProcessingStatusPending
}
