package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Routing keys
const (
	TypeAssetUploaded   = "asset.uploaded"
	TypeWorkflowChanged = "workflow.status_changed"
	jobPrefix           = "job."
)

// publishTimeout bounds a single publish from a change callback
const publishTimeout = 5 * time.Second

// Event is a domain event published to other services
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	AssetID    string                 `json:"asset_id,omitempty"`
	JobID      string                 `json:"job_id,omitempty"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	ContentID  string                 `json:"content_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time
func NewEvent(eventType string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// JobEventType returns the routing key of a job transition
func JobEventType(from, to models.JobStatus) string {
	if from == models.JobStatusProcessing && to == models.JobStatusPending {
		return jobPrefix + "retrying"
	}
	return jobPrefix + string(to)
}

// Emitter turns domain changes into events. Delivery is best effort: a
// failed publish is logged and never fails the change that caused it.
type Emitter struct {
	publisher Publisher
	logger    *logging.Logger
}

// NewEmitter creates an emitter over publisher
func NewEmitter(publisher Publisher, logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) publish(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}

// JobChanged publishes job status transitions. Progress-only updates are
// not published.
func (e *Emitter) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	if from == job.Status {
		return
	}
	event := NewEvent(JobEventType(from, job.Status))
	event.AssetID = job.AssetID
	event.JobID = job.ID
	event.Data = map[string]interface{}{
		"job_type":    job.Type,
		"from":        from,
		"to":          job.Status,
		"retry_count": job.RetryCount,
	}
	if job.ErrorMessage != "" {
		event.Data["error_message"] = job.ErrorMessage
	}
	e.publish(ctx, event)
}

// WorkflowChanged publishes editorial status changes
func (e *Emitter) WorkflowChanged(ctx context.Context, wf *models.Workflow, from models.WorkflowStatus, actorID string) {
	event := NewEvent(TypeWorkflowChanged)
	event.WorkflowID = wf.ID
	event.ContentID = wf.ContentID
	event.Data = map[string]interface{}{
		"content_type": wf.ContentType,
		"from":         from,
		"to":           wf.Status,
		"actor_id":     actorID,
	}
	e.publish(ctx, event)
}

// AssetUploaded publishes the arrival of a new asset and the jobs seeded for it
func (e *Emitter) AssetUploaded(ctx context.Context, asset *models.VideoAsset, jobIDs []string) {
	event := NewEvent(TypeAssetUploaded)
	event.AssetID = asset.ID
	event.ContentID = asset.ContentID
	event.Data = map[string]interface{}{
		"filename":  asset.OriginalFilename,
		"size":      asset.Size,
		"duration":  asset.Duration,
		"job_ids":   jobIDs,
		"mime_type": asset.MimeType,
	}
	e.publish(ctx, event)
}

// MemoryPublisher records events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty recording publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded events
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types returns the types of the recorded events in order
func (p *MemoryPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

// MultiPublisher fans an event out to every publisher and joins their errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
