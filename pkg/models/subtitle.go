package models

import "time"

// Subtitle represents a generated caption track for one language/format pair
type Subtitle struct {
	ID              string         `json:"id" db:"id"`
	AssetID         string         `json:"asset_id" db:"asset_id"`
	Language        string         `json:"language" db:"language"`
	Format          SubtitleFormat `json:"format" db:"format"`
	Path            string         `json:"path" db:"path"`
	ConfidenceScore float64        `json:"confidence_score" db:"confidence_score"`
	WordCount       int            `json:"word_count" db:"word_count"`
	Status          string         `json:"status" db:"status"`
	ErrorMessage    string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// SubtitleFormat is the serialization of a subtitle file
type SubtitleFormat string

// SubtitleFormat constants
const (
	SubtitleFormatSRT  SubtitleFormat = "srt"
	SubtitleFormatVTT  SubtitleFormat = "vtt"
	SubtitleFormatJSON SubtitleFormat = "json"
)

// Valid reports whether f is a supported format
func (f SubtitleFormat) Valid() bool {
	return f == SubtitleFormatSRT || f == SubtitleFormatVTT || f == SubtitleFormatJSON
}

// Subtitle status constants
const (
	SubtitleStatusCompleted = "completed"
	SubtitleStatusFailed    = "failed"
)
