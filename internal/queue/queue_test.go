package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	mu          sync.Mutex
	transitions []string
}

func (r *recordingListener) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if from != job.Status {
		r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", from, job.Status))
	}
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := New(NewMemoryStore(), Config{
		DefaultMaxRetries: 3,
		BackoffBase:       30 * time.Second,
		BackoffCap:        time.Hour,
	}, nil)
	q.now = clock.Now
	return q, clock
}

func transcodeSpec(assetID string, priority int) JobSpec {
	return JobSpec{
		AssetID:  assetID,
		Type:     models.JobTypeVideoTranscoding,
		Priority: priority,
		Params:   models.TranscodeParams{Resolution: "1080p", Bitrate: 5000000},
	}
}

func TestPriorityQueueOrdering(t *testing.T) {
	pq := &priorityQueue{}
	heap.Init(pq)

	heap.Push(pq, &queueItem{JobID: "job-1", Priority: 5, Seq: 1})
	heap.Push(pq, &queueItem{JobID: "job-2", Priority: 10, Seq: 2})
	heap.Push(pq, &queueItem{JobID: "job-3", Priority: 5, Seq: 3})
	heap.Push(pq, &queueItem{JobID: "job-4", Priority: 0, Seq: 4})

	expectedOrder := []string{"job-2", "job-1", "job-3", "job-4"}
	for i, expectedID := range expectedOrder {
		item := heap.Pop(pq).(*queueItem)
		assert.Equal(t, expectedID, item.JobID, "Job order mismatch at position %d", i)
	}
	assert.Equal(t, 0, pq.Len())
}

func TestEnqueueDefaults(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, JobSpec{AssetID: "asset-1", Params: models.MetadataParams{}})
	require.NoError(t, err)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeMetadataExtraction, job.Type)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, clock.Now(), job.AvailableAt)
	assert.Equal(t, int64(1), job.Version)
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec JobSpec
	}{
		{"missing asset", JobSpec{Params: models.MetadataParams{}}},
		{"missing params", JobSpec{AssetID: "a", Type: models.JobTypeMetadataExtraction}},
		{"unknown type", JobSpec{AssetID: "a", Type: "audio_mixing", Params: models.MetadataParams{}}},
		{"mismatched params", JobSpec{AssetID: "a", Type: models.JobTypeVideoTranscoding, Params: models.MetadataParams{}}},
		{"negative retries", JobSpec{AssetID: "a", Params: models.MetadataParams{}, MaxRetries: Retries(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.spec)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	low1, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, transcodeSpec("asset-1", 10))
	require.NoError(t, err)
	low2, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	for _, expected := range []string{high, low1, low2} {
		job, err := q.DequeueNext(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, expected, job.ID)
		assert.Equal(t, models.JobStatusProcessing, job.Status)
		assert.Equal(t, "worker-1", job.WorkerID)
		assert.NotNil(t, job.StartedAt)
	}

	job, err := q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueSkipsCancelledJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, transcodeSpec("asset-1", 5))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, transcodeSpec("asset-1", 5))
	require.NoError(t, err)

	_, err = q.Cancel(ctx, first)
	require.NoError(t, err)

	job, err := q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, second, job.ID)
}

func TestConcurrentDequeueClaimsEachJobOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const jobCount = 200
	specs := make([]JobSpec, jobCount)
	for i := range specs {
		specs[i] = transcodeSpec("asset-1", i%3)
	}
	_, err := q.EnqueueBatch(ctx, specs)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				job, err := q.DequeueNext(ctx, workerID)
				if err != nil {
					t.Error(err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestFailRetriesWithBackoff(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, JobSpec{AssetID: "asset-1", Params: models.MetadataParams{}, MaxRetries: Retries(2)})
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	job, err := q.Fail(ctx, id, "ffprobe exited with status 1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "ffprobe exited with status 1", job.ErrorMessage)
	assert.Equal(t, clock.Now().Add(30*time.Second), job.AvailableAt)

	// not available until the backoff elapses
	next, err := q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next)

	clock.Advance(30 * time.Second)
	next, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, id, next.ID)

	job, err = q.Fail(ctx, id, "again")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, clock.Now().Add(60*time.Second), job.AvailableAt)

	clock.Advance(time.Minute)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	job, err = q.Fail(ctx, id, "final")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, "final", job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)
}

func TestFailWithZeroRetriesIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, JobSpec{AssetID: "asset-1", Params: models.MetadataParams{}, MaxRetries: Retries(0)})
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	job, err := q.Fail(ctx, id, "boom")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestFailRequiresProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	_, err = q.Fail(ctx, id, "not running")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestRetryPreservesPriority(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	high, err := q.Enqueue(ctx, transcodeSpec("asset-1", 10))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = q.Fail(ctx, high, "transient")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	job, err := q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high, job.ID)
	assert.Equal(t, 10, job.Priority)
}

func TestCompleteIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	listener := &recordingListener{}
	q.AddListener(listener)

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	result := models.TranscodeResult{Path: "transcoded/asset-1/1080p.mp4", Resolution: "1080p"}
	job, err := q.Complete(ctx, id, result)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	version := job.Version

	job, err = q.Complete(ctx, id, result)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, version, job.Version)

	got, ok := job.Result.Data.(models.TranscodeResult)
	require.True(t, ok)
	assert.Equal(t, result, got)

	assert.Equal(t, []string{"pending->processing", "processing->completed"}, listener.transitions)
}

func TestCompleteAfterCancelIsRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	_, err = q.Cancel(ctx, id)
	require.NoError(t, err)

	cancelled, err := q.IsCancelled(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = q.Complete(ctx, id, models.TranscodeResult{Path: "x"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestCancelTerminalJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = q.Complete(ctx, id, nil)
	require.NoError(t, err)

	_, err = q.Cancel(ctx, id)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestRetryManually(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, JobSpec{AssetID: "asset-1", Params: models.MetadataParams{}, MaxRetries: Retries(0)})
	require.NoError(t, err)

	_, err = q.RetryManually(ctx, id)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "pending jobs cannot be retried")

	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	_, err = q.Fail(ctx, id, "boom")
	require.NoError(t, err)

	job, err := q.RetryManually(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.ErrorMessage)
	assert.Nil(t, job.CompletedAt)

	claimed, err := q.DequeueNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.ID)
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	// ignored while pending
	require.NoError(t, q.UpdateProgress(ctx, id, 10))
	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(0), job.Progress)

	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.UpdateProgress(ctx, id, 40))
	require.NoError(t, q.UpdateProgress(ctx, id, 25))
	job, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(40), job.Progress)

	require.NoError(t, q.UpdateProgress(ctx, id, 250))
	job, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(100), job.Progress)

	assert.True(t, errors.Is(q.UpdateProgress(ctx, "missing", 10), apperr.ErrNotFound))
}

func TestReapStuck(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	stuck, err := q.Enqueue(ctx, transcodeSpec("asset-1", 10))
	require.NoError(t, err)
	fresh, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = q.DequeueNext(ctx, "worker-2")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	reaped, err := q.ReapStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err := q.Get(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Contains(t, job.ErrorMessage, "timeout")

	job, err = q.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
}

func TestStatsAndListByAsset(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueBatch(ctx, []JobSpec{
		transcodeSpec("asset-1", 0),
		transcodeSpec("asset-1", 0),
		transcodeSpec("asset-2", 0),
	})
	require.NoError(t, err)
	_, err = q.DequeueNext(ctx, "worker-1")
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Processing)

	jobs, err := q.ListByAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{100, time.Hour},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("retry_%d", tt.retryCount), func(t *testing.T) {
			assert.Equal(t, tt.expected, Backoff(30*time.Second, time.Hour, tt.retryCount))
		})
	}

	assert.Equal(t, time.Duration(0), Backoff(0, time.Hour, 3))
}

type conflictingStore struct {
	*MemoryStore
	conflicts int
}

func (s *conflictingStore) UpdateJob(ctx context.Context, job *models.Job, expectedVersion int64) (bool, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return false, nil
	}
	return s.MemoryStore.UpdateJob(ctx, job, expectedVersion)
}

func TestUpdateRetriesOnVersionConflict(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	q := New(store, Config{DefaultMaxRetries: 1}, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)

	store.conflicts = 2
	job, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	store.conflicts = maxUpdateAttempts
	id, err = q.Enqueue(ctx, transcodeSpec("asset-1", 0))
	require.NoError(t, err)
	_, err = q.Cancel(ctx, id)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
}
