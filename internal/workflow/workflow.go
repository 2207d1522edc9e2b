package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

const maxUpdateAttempts = 5

// Repository persists workflows and their audit trail. Writes that carry an
// audit entry must store both atomically.
type Repository interface {
	// CreateWorkflow inserts wf unless the content already has a workflow,
	// in which case the existing one is returned with created=false.
	CreateWorkflow(ctx context.Context, wf *models.Workflow, audit *models.AuditEntry) (stored *models.Workflow, created bool, err error)
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	GetWorkflowByContent(ctx context.Context, contentID string) (*models.Workflow, error)
	// UpdateWorkflow writes wf if the stored version equals expectedVersion.
	UpdateWorkflow(ctx context.Context, wf *models.Workflow, expectedVersion int64, audit *models.AuditEntry) (bool, error)
	ListAudit(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error)
}

// Listener is notified after a committed status change
type Listener interface {
	WorkflowChanged(ctx context.Context, wf *models.Workflow, from models.WorkflowStatus, actorID string)
}

// Transition is a requested status change
type Transition struct {
	Status         models.WorkflowStatus `json:"status" binding:"required"`
	Notes          string                `json:"notes"`
	ReviewerID     string                `json:"reviewer_id"`
	ReviewDeadline *time.Time            `json:"review_deadline"`
}

// Service drives the editorial state machine
type Service struct {
	repo      Repository
	logger    *logging.Logger
	listeners []Listener
	now       func() time.Time
}

// NewService creates a workflow service
func NewService(repo Repository, logger *logging.Logger, listeners ...Listener) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		repo:      repo,
		logger:    logger,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a draft workflow for a content item, or returns the
// workflow the content item already has
func (s *Service) Create(ctx context.Context, contentID string, contentType models.ContentType, actorID string) (*models.Workflow, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, apperr.Validation("content id is required")
	}
	if !contentType.Valid() {
		return nil, apperr.Validation("unknown content type %q", contentType)
	}

	now := s.now()
	wf := &models.Workflow{
		ID:          uuid.New().String(),
		ContentID:   contentID,
		ContentType: contentType,
		Status:      models.WorkflowStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	audit := s.auditEntry(wf.ID, models.AuditActionCreated, "", models.WorkflowStatusDraft, actorID, "")

	stored, created, err := s.repo.CreateWorkflow(ctx, wf, audit)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	if created {
		s.logger.WithWorkflowID(stored.ID).WithField("content_id", contentID).Info("Workflow created")
	}
	return stored, nil
}

// SetStatus moves a workflow to t.Status. Requesting the current status is
// a no-op. A concurrent writer that wins the race causes the request to be
// re-validated against the fresh state.
func (s *Service) SetStatus(ctx context.Context, workflowID string, t Transition, actorID string) (*models.Workflow, error) {
	if !t.Status.Valid() {
		return nil, apperr.Validation("unknown workflow status %q", t.Status)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		wf, err := s.repo.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		from := wf.Status
		if from == t.Status {
			return wf, nil
		}
		if !CanTransition(from, t.Status) {
			return nil, fmt.Errorf("%w (allowed: %s)", apperr.InvalidTransition(string(from), string(t.Status)), allowed(from))
		}

		version := wf.Version
		s.apply(wf, t)
		audit := s.auditEntry(wf.ID, models.AuditActionStatusChanged, from, t.Status, actorID, t.Notes)

		ok, err := s.repo.UpdateWorkflow(ctx, wf, version, audit)
		if err != nil {
			return nil, fmt.Errorf("failed to update workflow: %w", err)
		}
		if !ok {
			continue
		}

		s.logger.LogWorkflowTransition(wf.ID, string(from), string(wf.Status), actorID)
		for _, l := range s.listeners {
			l.WorkflowChanged(ctx, wf, from, actorID)
		}
		return wf, nil
	}
	return nil, apperr.Transient(fmt.Errorf("workflow %s: too many concurrent updates", workflowID))
}

func (s *Service) apply(wf *models.Workflow, t Transition) {
	now := s.now()
	wf.Status = t.Status
	wf.UpdatedAt = now
	wf.Version++

	if t.Notes != "" {
		wf.ReviewNotes = t.Notes
	}
	if t.Status == models.WorkflowStatusReview {
		if t.ReviewerID != "" {
			wf.CurrentReviewerID = t.ReviewerID
		}
		if t.ReviewDeadline != nil {
			deadline := t.ReviewDeadline.UTC()
			wf.ReviewDeadline = &deadline
		}
	}
	if t.Status == models.WorkflowStatusPublished && wf.PublishedAt == nil {
		wf.PublishedAt = &now
	}
	if t.Status == models.WorkflowStatusArchived {
		wf.ArchivedAt = &now
	}
}

func (s *Service) auditEntry(workflowID, action string, from, to models.WorkflowStatus, actorID, notes string) *models.AuditEntry {
	return &models.AuditEntry{
		ID:         uuid.New().String(),
		EntityType: models.AuditEntityWorkflow,
		EntityID:   workflowID,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(to),
		ActorID:    actorID,
		Notes:      notes,
		CreatedAt:  s.now(),
	}
}

// Get returns a workflow by ID
func (s *Service) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return s.repo.GetWorkflow(ctx, workflowID)
}

// GetByContent returns the workflow of a content item
func (s *Service) GetByContent(ctx context.Context, contentID string) (*models.Workflow, error) {
	return s.repo.GetWorkflowByContent(ctx, contentID)
}

// History returns the audit trail of a workflow, oldest first
func (s *Service) History(ctx context.Context, workflowID string) ([]*models.AuditEntry, error) {
	if _, err := s.repo.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, models.AuditEntityWorkflow, workflowID)
}
