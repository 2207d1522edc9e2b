package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/cache"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/queue"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type fakeMaintainer struct {
	mu        sync.Mutex
	reapCalls int
	refreshes int
	reaped    int
	timeout   time.Duration
}

func (f *fakeMaintainer) ReapStuck(ctx context.Context, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapCalls++
	f.timeout = timeout
	return f.reaped, nil
}

func (f *fakeMaintainer) RefreshGauges(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeMaintainer) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reapCalls, f.refreshes
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunOnceReapsWithTimeout(t *testing.T) {
	jobs := &fakeMaintainer{reaped: 2}
	s := NewScheduler(jobs, nil, 90*time.Minute, time.Minute, nil)

	before := testutil.ToFloat64(metrics.JobsReapedTotal)
	reaped, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, reaped)
	assert.Equal(t, 90*time.Minute, jobs.timeout)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.JobsReapedTotal))

	_, refreshes := jobs.calls()
	assert.Equal(t, 1, refreshes)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	held, err := c.AcquireLock(ctx, reapLockResource, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	jobs := &fakeMaintainer{}
	s := NewScheduler(jobs, c, time.Hour, time.Minute, nil)

	reaped, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)
	reapCalls, _ := jobs.calls()
	assert.Equal(t, 0, reapCalls)

	require.NoError(t, c.ReleaseLock(ctx, held))
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	reapCalls, _ = jobs.calls()
	assert.Equal(t, 1, reapCalls)

	// the lock is released after each pass
	again, err := c.AcquireLock(ctx, reapLockResource, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestSchedulerLoop(t *testing.T) {
	jobs := &fakeMaintainer{}
	s := NewScheduler(jobs, nil, time.Hour, 10*time.Millisecond, nil)
	s.Start()

	require.Eventually(t, func() bool {
		reapCalls, _ := jobs.calls()
		return reapCalls >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	reapCalls, _ := jobs.calls()
	time.Sleep(30 * time.Millisecond)
	after, _ := jobs.calls()
	assert.Equal(t, reapCalls, after)
}

func TestSchedulerReapsQueue(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.NewMemoryStore(), queue.Config{DefaultMaxRetries: 0}, nil)

	id, err := q.Enqueue(ctx, queue.JobSpec{AssetID: "asset-1", Params: models.MetadataParams{}})
	require.NoError(t, err)
	job, err := q.DequeueNext(ctx, "worker-0")
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	// a zero timeout treats every processing job as stuck
	time.Sleep(time.Millisecond)
	s := NewScheduler(q, nil, 0, time.Minute, nil)
	reaped, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "processing timeout")
}
