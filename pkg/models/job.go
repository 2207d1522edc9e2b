package models

import (
	"time"
)

// Job represents one unit of background processing for an asset
type Job struct {
	ID           string     `json:"id" db:"id"`
	AssetID      string     `json:"asset_id" db:"asset_id"`
	Type         JobType    `json:"job_type" db:"job_type"`
	Status       JobStatus  `json:"status" db:"status"`
	Priority     int        `json:"priority" db:"priority"`
	Progress     float64    `json:"progress" db:"progress"`
	Params       Params     `json:"parameters" db:"parameters"`
	Result       Result     `json:"result_data,omitempty" db:"result_data"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	MaxRetries   int        `json:"max_retries" db:"max_retries"`
	WorkerID     string     `json:"worker_id,omitempty" db:"worker_id"`
	EnqueueSeq   int64      `json:"-" db:"enqueue_seq"`
	AvailableAt  time.Time  `json:"available_at" db:"available_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	Version      int64      `json:"version" db:"version"`
}

// Clone returns a copy that shares no mutable state with j
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsTerminal reports whether no automatic transition leaves the current status
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// JobType selects the handler that executes a job
type JobType string

const (
	JobTypeVideoTranscoding    JobType = "video_transcoding"
	JobTypeSubtitleGeneration  JobType = "subtitle_generation"
	JobTypeMetadataExtraction  JobType = "metadata_extraction"
	JobTypeThumbnailGeneration JobType = "thumbnail_generation"
)

// JobTypes lists every supported job type in display order
var JobTypes = []JobType{
	JobTypeVideoTranscoding,
	JobTypeSubtitleGeneration,
	JobTypeMetadataExtraction,
	JobTypeThumbnailGeneration,
}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether s is completed, failed or cancelled
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority constants
const (
	JobPriorityLow    = 0
	JobPriorityNormal = 5
	JobPriorityHigh   = 10
)
