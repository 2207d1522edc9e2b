package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VideoAsset represents one uploaded source video and its derived artifacts
type VideoAsset struct {
	ID               string           `json:"id" db:"id"`
	ContentID        string           `json:"content_id" db:"content_id"`
	OriginalFilename string           `json:"original_filename" db:"original_filename"`
	MimeType         string           `json:"mime_type" db:"mime_type"`
	StoragePath      string           `json:"storage_path,omitempty" db:"storage_path"`
	Size             int64            `json:"size" db:"size"`
	Duration         float64          `json:"duration" db:"duration"`
	ContainerFormat  string           `json:"container_format,omitempty" db:"container_format"`
	Width            int              `json:"width" db:"width"`
	Height           int              `json:"height" db:"height"`
	Resolution       string           `json:"resolution,omitempty" db:"resolution"`
	Bitrate          int64            `json:"bitrate" db:"bitrate"`
	UploadStatus     UploadStatus     `json:"upload_status" db:"upload_status"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	Version          int64            `json:"version" db:"version"`
	Artifacts        []Artifact       `json:"artifacts"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Clone returns a deep copy of a
func (a *VideoAsset) Clone() *VideoAsset {
	c := *a
	if a.Artifacts != nil {
		c.Artifacts = make([]Artifact, len(a.Artifacts))
		copy(c.Artifacts, a.Artifacts)
	}
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Attributes returns the probed media attributes of a
func (a *VideoAsset) Attributes() MediaAttributes {
	return MediaAttributes{
		Duration:        a.Duration,
		ContainerFormat: a.ContainerFormat,
		Width:           a.Width,
		Height:          a.Height,
		Bitrate:         a.Bitrate,
	}
}

// MediaAttributes holds the probed properties of an uploaded file
type MediaAttributes struct {
	Duration        float64 `json:"duration"`
	ContainerFormat string  `json:"container_format"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Bitrate         int64   `json:"bitrate"`
	FrameRate       float64 `json:"frame_rate,omitempty"`
	HasAudio        bool    `json:"has_audio"`
}

// Resolution renders the attributes as WIDTHxHEIGHT, or "" when unknown
func (a MediaAttributes) Resolution() string {
	if a.Width <= 0 || a.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", a.Width, a.Height)
}

// Artifact is a derived file (rendition, subtitle, thumbnail) produced by a job
type Artifact struct {
	ID         string    `json:"id" db:"id"`
	AssetID    string    `json:"asset_id" db:"asset_id"`
	JobID      string    `json:"job_id" db:"job_id"`
	JobType    JobType   `json:"job_type" db:"job_type"`
	Path       string    `json:"path" db:"path"`
	Attributes Metadata  `json:"attributes,omitempty" db:"attributes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Metadata holds free-form attributes
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case map[string]interface{}:
		*m = Metadata(v)
		return nil
	}
	return fmt.Errorf("unsupported metadata column type %T", value)
}

// UploadStatus tracks the arrival of the original bytes
type UploadStatus string

const (
	UploadStatusUploading  UploadStatus = "uploading"
	UploadStatusUploaded   UploadStatus = "uploaded"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// ProcessingStatus is the stored processing summary of an asset
type ProcessingStatus string

const (
	ProcessingStatusPending            ProcessingStatus = "pending"
	ProcessingStatusTranscoding        ProcessingStatus = "transcoding"
	ProcessingStatusSubtitleGeneration ProcessingStatus = "subtitle_generation"
	ProcessingStatusCompleted          ProcessingStatus = "completed"
	ProcessingStatusFailed             ProcessingStatus = "failed"
)

// FileMetadata describes a file at intake time, before it is probed
type FileMetadata struct {
	Filename string `json:"filename" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	Size     int64  `json:"size" validate:"gt=0"`
}
