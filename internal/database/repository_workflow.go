package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Workflows

const workflowColumns = `
	id, content_id, content_type, status, current_reviewer_id, review_notes,
	review_deadline, published_at, archived_at, created_at, updated_at, version`

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	err := row.Scan(
		&wf.ID, &wf.ContentID, &wf.ContentType, &wf.Status, &wf.CurrentReviewerID, &wf.ReviewNotes,
		&wf.ReviewDeadline, &wf.PublishedAt, &wf.ArchivedAt, &wf.CreatedAt, &wf.UpdatedAt, &wf.Version,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *models.AuditEntry) error {
	if entry == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, from_status, to_status, actor_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.FromStatus, entry.ToStatus,
		entry.ActorID, entry.Notes, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// CreateWorkflow inserts a workflow and its creation audit entry, or returns
// the workflow the content item already has
func (r *Repository) CreateWorkflow(ctx context.Context, wf *models.Workflow, audit *models.AuditEntry) (*models.Workflow, bool, error) {
	var stored *models.Workflow
	created := false

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO workflows (id, content_id, content_type, status, current_reviewer_id, review_notes,
			                       review_deadline, published_at, archived_at, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (content_id) DO NOTHING
		`, wf.ID, wf.ContentID, wf.ContentType, wf.Status, wf.CurrentReviewerID, wf.ReviewNotes,
			wf.ReviewDeadline, wf.PublishedAt, wf.ArchivedAt, wf.CreatedAt, wf.UpdatedAt, wf.Version)
		if err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}

		if tag.RowsAffected() == 0 {
			stored, err = scanWorkflow(tx.QueryRow(ctx,
				`SELECT `+workflowColumns+` FROM workflows WHERE content_id = $1`, wf.ContentID))
			if err != nil {
				return fmt.Errorf("failed to get existing workflow: %w", err)
			}
			return nil
		}

		c := *wf
		stored = &c
		created = true
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetWorkflow retrieves a workflow by ID
func (r *Repository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := scanWorkflow(r.db.Pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// GetWorkflowByContent retrieves the workflow of a content item
func (r *Repository) GetWorkflowByContent(ctx context.Context, contentID string) (*models.Workflow, error) {
	wf, err := scanWorkflow(r.db.Pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE content_id = $1`, contentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("workflow for content", contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// UpdateWorkflow writes a workflow and its audit entry in one transaction if
// the stored version equals expectedVersion
func (r *Repository) UpdateWorkflow(ctx context.Context, wf *models.Workflow, expectedVersion int64, audit *models.AuditEntry) (bool, error) {
	updated := false

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE workflows
			SET status = $3, current_reviewer_id = $4, review_notes = $5, review_deadline = $6,
			    published_at = $7, archived_at = $8, updated_at = $9, version = $10
			WHERE id = $1 AND version = $2
		`, wf.ID, expectedVersion, wf.Status, wf.CurrentReviewerID, wf.ReviewNotes, wf.ReviewDeadline,
			wf.PublishedAt, wf.ArchivedAt, wf.UpdatedAt, wf.Version)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, wf.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check workflow: %w", err)
			}
			if !exists {
				return apperr.NotFound("workflow", wf.ID)
			}
			return nil
		}

		updated = true
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// ListAudit retrieves the audit trail of an entity, oldest first
func (r *Repository) ListAudit(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, from_status, to_status, actor_id, notes, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.FromStatus, &e.ToStatus,
			&e.ActorID, &e.Notes, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
