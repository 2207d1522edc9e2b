package workflow

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// MemoryRepository keeps workflows and audit entries in process memory
type MemoryRepository struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	byContent map[string]string
	audit     []*models.AuditEntry
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*models.Workflow),
		byContent: make(map[string]string),
	}
}

func (r *MemoryRepository) CreateWorkflow(ctx context.Context, wf *models.Workflow, audit *models.AuditEntry) (*models.Workflow, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byContent[wf.ContentID]; ok {
		existing := *r.workflows[id]
		return &existing, false, nil
	}

	stored := *wf
	r.workflows[wf.ID] = &stored
	r.byContent[wf.ContentID] = wf.ID
	if audit != nil {
		entry := *audit
		r.audit = append(r.audit, &entry)
	}
	c := stored
	return &c, true, nil
}

func (r *MemoryRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, apperr.NotFound("workflow", id)
	}
	c := *wf
	return &c, nil
}

func (r *MemoryRepository) GetWorkflowByContent(ctx context.Context, contentID string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byContent[contentID]
	if !ok {
		return nil, apperr.NotFound("workflow for content", contentID)
	}
	c := *r.workflows[id]
	return &c, nil
}

func (r *MemoryRepository) UpdateWorkflow(ctx context.Context, wf *models.Workflow, expectedVersion int64, audit *models.AuditEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.workflows[wf.ID]
	if !ok {
		return false, apperr.NotFound("workflow", wf.ID)
	}
	if stored.Version != expectedVersion {
		return false, nil
	}

	c := *wf
	r.workflows[wf.ID] = &c
	if audit != nil {
		entry := *audit
		r.audit = append(r.audit, &entry)
	}
	return true, nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*models.AuditEntry
	for _, entry := range r.audit {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			c := *entry
			entries = append(entries, &c)
		}
	}
	return entries, nil
}
