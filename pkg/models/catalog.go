package models

import "time"

// MetadataEntry is a key/value pair attached to a content item
type MetadataEntry struct {
	ContentID   string      `json:"content_id" db:"content_id"`
	ContentType ContentType `json:"content_type" db:"content_type"`
	Key         string      `json:"key" db:"key"`
	Value       string      `json:"value" db:"value"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Tag is a categorical label attached to a content item
type Tag struct {
	ContentID   string      `json:"content_id" db:"content_id"`
	ContentType ContentType `json:"content_type" db:"content_type"`
	Name        string      `json:"name" db:"name"`
	Category    string      `json:"category" db:"category"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// TagInput is a tag as submitted by a client
type TagInput struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
}
