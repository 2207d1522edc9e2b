package models

import "time"

// Workflow tracks the editorial lifecycle of a content item
type Workflow struct {
	ID                string         `json:"id" db:"id"`
	ContentID         string         `json:"content_id" db:"content_id"`
	ContentType       ContentType    `json:"content_type" db:"content_type"`
	Status            WorkflowStatus `json:"status" db:"status"`
	CurrentReviewerID string         `json:"current_reviewer_id,omitempty" db:"current_reviewer_id"`
	ReviewNotes       string         `json:"review_notes,omitempty" db:"review_notes"`
	ReviewDeadline    *time.Time     `json:"review_deadline,omitempty" db:"review_deadline"`
	PublishedAt       *time.Time     `json:"published_at,omitempty" db:"published_at"`
	ArchivedAt        *time.Time     `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	Version           int64          `json:"version" db:"version"`
}

// WorkflowStatus is an editorial state
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusReview    WorkflowStatus = "review"
	WorkflowStatusApproved  WorkflowStatus = "approved"
	WorkflowStatusPublished WorkflowStatus = "published"
	WorkflowStatusArchived  WorkflowStatus = "archived"
)

// Valid reports whether s is a known workflow state
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusReview, WorkflowStatusApproved,
		WorkflowStatusPublished, WorkflowStatusArchived:
		return true
	}
	return false
}

// ContentType is the kind of content a workflow or catalog entry belongs to
type ContentType string

const (
	ContentTypeCourse ContentType = "course"
	ContentTypeLesson ContentType = "lesson"
	ContentTypeVideo  ContentType = "video"
)

// Valid reports whether c is a known content type
func (c ContentType) Valid() bool {
	return c == ContentTypeCourse || c == ContentTypeLesson || c == ContentTypeVideo
}

// AuditEntry records a state change and who made it
type AuditEntry struct {
	ID         string    `json:"id" db:"id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	FromStatus string    `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string    `json:"to_status,omitempty" db:"to_status"`
	ActorID    string    `json:"actor_id,omitempty" db:"actor_id"`
	Notes      string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Audit entity and action constants
const (
	AuditEntityWorkflow = "workflow"

	AuditActionCreated       = "created"
	AuditActionStatusChanged = "status_changed"
)
