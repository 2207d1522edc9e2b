package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/assets"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/queue"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type testEnv struct {
	queue  *queue.Queue
	assets *assets.Service
	pool   *Pool
	asset  *models.VideoAsset
}

func newTestEnv(t *testing.T, maxRetries int) *testEnv {
	return newTestEnvWithConfig(t, queue.Config{DefaultMaxRetries: maxRetries}, nil)
}

func newTestEnvWithConfig(t *testing.T, cfg queue.Config, logger *logging.Logger) *testEnv {
	t.Helper()
	ctx := context.Background()

	q := queue.New(queue.NewMemoryStore(), cfg, nil)
	svc := assets.NewService(assets.NewMemoryRepository(), 1<<30, nil)
	q.AddListener(assets.NewSyncer(svc, q))

	asset, err := svc.CreateAsset(ctx, "lesson-7", models.FileMetadata{Filename: "intro.mp4", MimeType: "video/mp4", Size: 1024})
	require.NoError(t, err)
	asset, err = svc.MarkUploaded(ctx, asset.ID, "originals/lesson-7/intro.mp4", models.MediaAttributes{Duration: 30})
	require.NoError(t, err)

	pool := NewPool(q, svc, Config{
		Workers:             2,
		PollInterval:        10 * time.Millisecond,
		CancelCheckInterval: 5 * time.Millisecond,
	}, logger)

	return &testEnv{queue: q, assets: svc, pool: pool, asset: asset}
}

func (e *testEnv) enqueue(t *testing.T, params ...models.JobParams) []string {
	t.Helper()
	specs := make([]queue.JobSpec, 0, len(params))
	for _, p := range params {
		specs = append(specs, queue.JobSpec{AssetID: e.asset.ID, Params: p})
	}
	jobs, err := e.queue.EnqueueBatch(context.Background(), specs)
	require.NoError(t, err)

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

// requireAsset checks the stored statuses of the env's asset and the
// aggregate derived from its jobs
func (e *testEnv) requireAsset(t *testing.T, processing models.ProcessingStatus, upload models.UploadStatus, aggregate models.AggregateStatus) {
	t.Helper()
	ctx := context.Background()

	asset, err := e.assets.GetAsset(ctx, e.asset.ID)
	require.NoError(t, err)
	jobs, err := e.queue.ListByAsset(ctx, e.asset.ID)
	require.NoError(t, err)

	assert.Equal(t, processing, asset.ProcessingStatus, "processing status")
	assert.Equal(t, upload, asset.UploadStatus, "upload status")
	assert.Equal(t, aggregate, models.DeriveStatus(jobs), "aggregate status")
}

// drain runs jobs on one worker until the queue has nothing ready
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		ran, err := e.pool.RunOnce(context.Background(), "worker-test")
		require.NoError(t, err)
		if !ran {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func succeed(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	progress(50)
	switch p := job.Params.Data.(type) {
	case models.TranscodeParams:
		return models.TranscodeResult{Path: "renditions/" + job.AssetID + "/" + p.Resolution + ".mp4", Resolution: p.Resolution}, nil
	case models.SubtitleParams:
		return models.SubtitleResult{Path: "subtitles/" + job.AssetID + "/" + p.Language + ".vtt", Language: p.Language}, nil
	}
	return models.MetadataResult{}, nil
}

func TestPoolCompletesLessonUpload(t *testing.T) {
	env := newTestEnv(t, 3)
	env.pool.Register(models.JobTypeVideoTranscoding, HandlerFunc(succeed))
	env.pool.Register(models.JobTypeSubtitleGeneration, HandlerFunc(succeed))

	env.enqueue(t,
		models.TranscodeParams{Resolution: "1080p"},
		models.TranscodeParams{Resolution: "480p"},
		models.SubtitleParams{Language: "en", Format: models.SubtitleFormatVTT},
	)
	env.drain(t)

	ctx := context.Background()
	jobs, err := env.queue.ListByAsset(ctx, env.asset.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		assert.Equal(t, models.JobStatusCompleted, j.Status)
		assert.Equal(t, 100.0, j.Progress)
		assert.False(t, j.Result.IsZero())
	}

	asset, err := env.assets.GetAsset(ctx, env.asset.ID)
	require.NoError(t, err)
	assert.Len(t, asset.Artifacts, 3)
	assert.Equal(t, models.ProcessingStatusCompleted, asset.ProcessingStatus)
	assert.Equal(t, models.UploadStatusCompleted, asset.UploadStatus)

	for _, a := range asset.Artifacts {
		if a.JobType == models.JobTypeVideoTranscoding {
			assert.NotContains(t, a.Attributes, "path")
			assert.NotEmpty(t, a.Attributes["resolution"])
		}
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	env := newTestEnv(t, 1)
	attempts := 0
	env.pool.Register(models.JobTypeVideoTranscoding, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		attempts++
		return nil, errors.New("corrupt input")
	}))

	ids := env.enqueue(t, models.TranscodeParams{Resolution: "720p"})
	env.drain(t)

	assert.Equal(t, 2, attempts)

	ctx := context.Background()
	job, err := env.queue.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "corrupt input", job.ErrorMessage)

	asset, err := env.assets.GetAsset(ctx, env.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatusFailed, asset.ProcessingStatus)
	assert.Empty(t, asset.Artifacts)
}

func TestPoolRecoversPanics(t *testing.T) {
	env := newTestEnv(t, 0)
	env.pool.Register(models.JobTypeThumbnailGeneration, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		var frames []int
		_ = frames[3]
		return nil, nil
	}))

	before := testutil.ToFloat64(metrics.HandlerPanicsTotal.WithLabelValues(string(models.JobTypeThumbnailGeneration)))

	ids := env.enqueue(t, models.ThumbnailParams{AtSeconds: 1})
	env.drain(t)

	job, err := env.queue.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "handler panic")

	after := testutil.ToFloat64(metrics.HandlerPanicsTotal.WithLabelValues(string(models.JobTypeThumbnailGeneration)))
	assert.Equal(t, before+1, after)
}

func TestPoolFailsJobsWithoutHandler(t *testing.T) {
	env := newTestEnv(t, 0)

	ids := env.enqueue(t, models.MetadataParams{})
	env.drain(t)

	job, err := env.queue.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no handler registered")
}

func TestPoolCancelsRunningHandler(t *testing.T) {
	env := newTestEnv(t, 3)
	started := make(chan struct{})
	stopped := make(chan error, 1)
	env.pool.Register(models.JobTypeSubtitleGeneration, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return nil, ctx.Err()
	}))

	ids := env.enqueue(t, models.SubtitleParams{Language: "en", Format: models.SubtitleFormatSRT})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = env.pool.RunOnce(context.Background(), "worker-test")
	}()

	<-started
	_, err := env.queue.Cancel(context.Background(), ids[0])
	require.NoError(t, err)

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not cancelled")
	}
	<-done

	job, err := env.queue.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestPoolRunProcessesConcurrently(t *testing.T) {
	env := newTestEnv(t, 3)

	var mu sync.Mutex
	seen := make(map[string]int)
	env.pool.Register(models.JobTypeVideoTranscoding, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return succeed(ctx, job, progress)
	}))

	params := make([]models.JobParams, 0, 20)
	for i := 0; i < 20; i++ {
		params = append(params, models.TranscodeParams{Resolution: fmt.Sprintf("%dx%d", 640+i*2, 360)})
	}
	ids := env.enqueue(t, params...)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		env.pool.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		stats, err := env.queue.Stats(context.Background())
		return err == nil && stats.Completed == len(ids)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s ran more than once", id)
	}
}

func TestResultAttributes(t *testing.T) {
	attrs, err := resultAttributes(models.SubtitleResult{Path: "subtitles/a/en.vtt", Language: "en", WordCount: 12})
	require.NoError(t, err)

	assert.NotContains(t, attrs, "path")
	assert.Equal(t, "en", attrs["language"])
	assert.Equal(t, float64(12), attrs["word_count"])
}

func TestPoolRetryScenarioCompletesAfterManualRetry(t *testing.T) {
	env := newTestEnvWithConfig(t, queue.Config{
		DefaultMaxRetries: 2,
		BackoffBase:       200 * time.Millisecond,
		BackoffCap:        time.Second,
	}, nil)
	ctx := context.Background()

	attempts := 0
	var during []models.ProcessingStatus
	env.pool.Register(models.JobTypeVideoTranscoding, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		attempts++
		if asset, err := env.assets.GetAsset(ctx, job.AssetID); err == nil {
			during = append(during, asset.ProcessingStatus)
		}
		if attempts <= 3 {
			return nil, errors.New("encoder crashed")
		}
		return succeed(ctx, job, progress)
	}))

	ids := env.enqueue(t, models.TranscodeParams{Resolution: "720p"})
	env.requireAsset(t, models.ProcessingStatusPending, models.UploadStatusUploaded, models.AggregateStatusPending)

	runNext := func() {
		t.Helper()
		require.Eventually(t, func() bool {
			ran, err := env.pool.RunOnce(ctx, "worker-test")
			return err == nil && ran
		}, 3*time.Second, 10*time.Millisecond)
	}

	// two failures are retried after a backoff
	for retry := 1; retry <= 2; retry++ {
		runNext()

		job, err := env.queue.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, job.Status)
		assert.Equal(t, retry, job.RetryCount)
		assert.True(t, job.AvailableAt.After(time.Now()), "retry %d is not backed off", retry)

		ran, err := env.pool.RunOnce(ctx, "worker-test")
		require.NoError(t, err)
		assert.False(t, ran, "job ran before its backoff elapsed")

		env.requireAsset(t, models.ProcessingStatusPending, models.UploadStatusUploaded, models.AggregateStatusPending)
	}

	// the third failure is terminal
	runNext()
	job, err := env.queue.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	env.requireAsset(t, models.ProcessingStatusFailed, models.UploadStatusFailed, models.AggregateStatusFailed)

	job, err = env.queue.RetryManually(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	env.requireAsset(t, models.ProcessingStatusPending, models.UploadStatusUploaded, models.AggregateStatusPending)

	runNext()
	env.requireAsset(t, models.ProcessingStatusCompleted, models.UploadStatusCompleted, models.AggregateStatusCompleted)

	assert.Equal(t, 4, attempts)
	for _, status := range during {
		assert.Equal(t, models.ProcessingStatusTranscoding, status)
	}

	asset, err := env.assets.GetAsset(ctx, env.asset.ID)
	require.NoError(t, err)
	assert.Len(t, asset.Artifacts, 1)
}

func TestReapedJobResyncsAsset(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	ids := env.enqueue(t, models.TranscodeParams{Resolution: "720p"})
	claimed, err := env.queue.DequeueNext(ctx, "worker-gone")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	env.requireAsset(t, models.ProcessingStatusTranscoding, models.UploadStatusProcessing, models.AggregateStatusProcessing)

	time.Sleep(5 * time.Millisecond)
	reaped, err := env.queue.ReapStuck(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err := env.queue.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	env.requireAsset(t, models.ProcessingStatusFailed, models.UploadStatusFailed, models.AggregateStatusFailed)
}

func TestCancelledSiblingSettlesAsset(t *testing.T) {
	env := newTestEnv(t, 0)
	env.pool.Register(models.JobTypeMetadataExtraction, HandlerFunc(succeed))
	ctx := context.Background()

	jobs, err := env.queue.EnqueueBatch(ctx, []queue.JobSpec{
		{AssetID: env.asset.ID, Params: models.MetadataParams{}, Priority: models.JobPriorityHigh},
		{AssetID: env.asset.ID, Params: models.ThumbnailParams{AtSeconds: 1}},
	})
	require.NoError(t, err)

	ran, err := env.pool.RunOnce(ctx, "worker-test")
	require.NoError(t, err)
	require.True(t, ran)
	env.requireAsset(t, models.ProcessingStatusPending, models.UploadStatusUploaded, models.AggregateStatusPending)

	_, err = env.queue.Cancel(ctx, jobs[1].ID)
	require.NoError(t, err)
	env.requireAsset(t, models.ProcessingStatusCompleted, models.UploadStatusCompleted, models.AggregateStatusCompleted)
}

func TestPoolClassifiesHandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnvWithConfig(t, queue.Config{}, logging.New(&buf, logging.Config{Level: "debug"}))
	env.pool.Register(models.JobTypeVideoTranscoding, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		return nil, errors.New("encoder crashed")
	}))
	env.pool.Register(models.JobTypeSubtitleGeneration, HandlerFunc(func(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
		return nil, apperr.Transient(errors.New("bucket unreachable"))
	}))

	ids := env.enqueue(t,
		models.TranscodeParams{Resolution: "720p"},
		models.SubtitleParams{Language: "en", Format: models.SubtitleFormatVTT},
	)
	env.drain(t)

	out := buf.String()
	assert.Contains(t, out, `"error_class":"processing"`)
	assert.Contains(t, out, `"error_class":"transient"`)

	job, err := env.queue.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "encoder crashed", job.ErrorMessage)
}
