package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type recordingListener struct {
	mu      sync.Mutex
	changes []string
}

func (l *recordingListener) WorkflowChanged(ctx context.Context, wf *models.Workflow, from models.WorkflowStatus, actorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, string(from)+"->"+string(wf.Status))
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *recordingListener) {
	t.Helper()
	repo := NewMemoryRepository()
	listener := &recordingListener{}
	return NewService(repo, nil, listener), repo, listener
}

func advance(t *testing.T, svc *Service, id string, statuses ...models.WorkflowStatus) *models.Workflow {
	t.Helper()
	var wf *models.Workflow
	var err error
	for _, status := range statuses {
		wf, err = svc.SetStatus(context.Background(), id, Transition{Status: status}, "editor-1")
		require.NoError(t, err, "transition to %s", status)
	}
	return wf
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.WorkflowStatus
		allowed  bool
	}{
		{models.WorkflowStatusDraft, models.WorkflowStatusReview, true},
		{models.WorkflowStatusReview, models.WorkflowStatusDraft, true},
		{models.WorkflowStatusReview, models.WorkflowStatusApproved, true},
		{models.WorkflowStatusApproved, models.WorkflowStatusReview, true},
		{models.WorkflowStatusApproved, models.WorkflowStatusPublished, true},
		{models.WorkflowStatusPublished, models.WorkflowStatusApproved, true},
		{models.WorkflowStatusPublished, models.WorkflowStatusArchived, true},
		{models.WorkflowStatusDraft, models.WorkflowStatusArchived, true},
		{models.WorkflowStatusDraft, models.WorkflowStatusPublished, false},
		{models.WorkflowStatusDraft, models.WorkflowStatusApproved, false},
		{models.WorkflowStatusReview, models.WorkflowStatusPublished, false},
		{models.WorkflowStatusArchived, models.WorkflowStatusDraft, false},
		{models.WorkflowStatusArchived, models.WorkflowStatusPublished, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCreateIsIdempotentPerContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, wf.Status)

	again, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-2")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, again.ID)

	history, err := svc.History(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AuditActionCreated, history[0].Action)

	_, err = svc.Create(ctx, "lesson-43", "podcast", "editor-1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestPublishFlow(t *testing.T) {
	svc, _, listener := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)

	deadline := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	reviewed, err := svc.SetStatus(ctx, wf.ID, Transition{
		Status:         models.WorkflowStatusReview,
		ReviewerID:     "reviewer-7",
		ReviewDeadline: &deadline,
		Notes:          "please check captions",
	}, "editor-1")
	require.NoError(t, err)
	assert.Equal(t, "reviewer-7", reviewed.CurrentReviewerID)
	assert.Equal(t, deadline, *reviewed.ReviewDeadline)
	assert.Equal(t, "please check captions", reviewed.ReviewNotes)

	published := advance(t, svc, wf.ID, models.WorkflowStatusApproved, models.WorkflowStatusPublished)
	require.NotNil(t, published.PublishedAt)
	firstPublished := *published.PublishedAt

	// unpublish and publish again keeps the first publish time
	republished := advance(t, svc, wf.ID, models.WorkflowStatusApproved, models.WorkflowStatusPublished)
	assert.Equal(t, firstPublished, *republished.PublishedAt)

	history, err := svc.History(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, "draft", history[1].FromStatus)
	assert.Equal(t, "review", history[1].ToStatus)
	assert.Equal(t, "editor-1", history[1].ActorID)
	assert.Equal(t, "please check captions", history[1].Notes)

	assert.Equal(t, []string{
		"draft->review", "review->approved", "approved->published",
		"published->approved", "approved->published",
	}, listener.changes)
}

func TestDraftCannotPublish(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, wf.ID, Transition{Status: models.WorkflowStatusPublished}, "editor-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "draft -> published (allowed: review, archived)")

	got, err := svc.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, got.Status)

	history, err := svc.History(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected transitions are not audited")
}

func TestArchivedIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "course-1", models.ContentTypeCourse, "editor-1")
	require.NoError(t, err)

	archived := advance(t, svc, wf.ID, models.WorkflowStatusArchived)
	require.NotNil(t, archived.ArchivedAt)

	for _, status := range []models.WorkflowStatus{models.WorkflowStatusDraft, models.WorkflowStatusReview, models.WorkflowStatusPublished} {
		_, err := svc.SetStatus(ctx, wf.ID, Transition{Status: status}, "editor-1")
		assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "archived -> %s", status)
		assert.Contains(t, err.Error(), "(allowed: none)")
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	svc, _, listener := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)

	same, err := svc.SetStatus(ctx, wf.ID, Transition{Status: models.WorkflowStatusDraft}, "editor-1")
	require.NoError(t, err)
	assert.Equal(t, wf.Version, same.Version)
	assert.Empty(t, listener.changes)
}

func TestSetStatusValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, "missing", Transition{Status: models.WorkflowStatusReview}, "editor-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.SetStatus(ctx, "missing", Transition{Status: "deleted"}, "editor-1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

// racingRepository lets another writer commit between the read and the
// write of the first SetStatus attempt
type racingRepository struct {
	*MemoryRepository
	once  sync.Once
	racer func()
}

func (r *racingRepository) UpdateWorkflow(ctx context.Context, wf *models.Workflow, expectedVersion int64, audit *models.AuditEntry) (bool, error) {
	r.once.Do(r.racer)
	return r.MemoryRepository.UpdateWorkflow(ctx, wf, expectedVersion, audit)
}

func TestStaleWriterIsRevalidated(t *testing.T) {
	repo := &racingRepository{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, nil)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)
	repo.once.Do(func() {})
	advance(t, svc, wf.ID, models.WorkflowStatusReview, models.WorkflowStatusApproved)

	repo.once = sync.Once{}
	repo.racer = func() {
		current, err := repo.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		current.Status = models.WorkflowStatusArchived
		current.Version++
		ok, err := repo.MemoryRepository.UpdateWorkflow(ctx, current, current.Version-1, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = svc.SetStatus(ctx, wf.ID, Transition{Status: models.WorkflowStatusPublished}, "editor-2")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "got %v", err)

	got, err := svc.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, got.Status)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	svc, _, listener := newTestService(t)
	ctx := context.Background()

	wf, err := svc.Create(ctx, "lesson-42", models.ContentTypeLesson, "editor-1")
	require.NoError(t, err)
	advance(t, svc, wf.ID, models.WorkflowStatusReview, models.WorkflowStatusApproved)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []models.WorkflowStatus{models.WorkflowStatusPublished, models.WorkflowStatusReview}
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.WorkflowStatus) {
			defer wg.Done()
			_, errs[i] = svc.SetStatus(ctx, wf.ID, Transition{Status: target}, "editor")
		}(i, target)
	}
	wg.Wait()

	got, err := svc.Get(ctx, wf.ID)
	require.NoError(t, err)

	// whichever writer lost re-validated against the winner's state
	history, err := svc.History(ctx, wf.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, string(got.Status), last.ToStatus)
	assert.Equal(t, len(history)-1, len(listener.changes))
}
