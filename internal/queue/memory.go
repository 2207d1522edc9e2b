package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// MemoryStore is a mutex-guarded in-process Store
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	ready priorityQueue
	seq   int64
}

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{jobs: make(map[string]*models.Job)}
	heap.Init(&s.ready)
	return s
}

func (s *MemoryStore) InsertJobs(ctx context.Context, jobs []*models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; exists {
			return apperr.InvalidState("job %s already exists", job.ID)
		}
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		s.seq++
		job.EnqueueSeq = s.seq
		job.Version = 1
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		s.jobs[job.ID] = job.Clone()
		heap.Push(&s.ready, &queueItem{JobID: job.ID, Priority: job.Priority, Seq: job.EnqueueSeq})
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job", id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListJobsByAsset(ctx context.Context, assetID string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.AssetID == assetID {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deferred []*queueItem
	defer func() {
		for _, item := range deferred {
			heap.Push(&s.ready, item)
		}
	}()

	for s.ready.Len() > 0 {
		item := heap.Pop(&s.ready).(*queueItem)
		job, ok := s.jobs[item.JobID]
		if !ok || job.Status != models.JobStatusPending || job.EnqueueSeq != item.Seq {
			// stale entry: the job was claimed, cancelled or re-enqueued since
			continue
		}
		if job.AvailableAt.After(now) {
			deferred = append(deferred, item)
			continue
		}

		started := now
		job.Status = models.JobStatusProcessing
		job.WorkerID = workerID
		job.StartedAt = &started
		job.Progress = 0
		job.Version++
		job.UpdatedAt = now
		return job.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.Job, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return false, apperr.NotFound("job", job.ID)
	}
	if stored.Version != expectedVersion {
		return false, nil
	}

	requeue := job.Status == models.JobStatusPending && stored.Status != models.JobStatusPending
	if requeue {
		s.seq++
		job.EnqueueSeq = s.seq
	}
	job.Version = expectedVersion + 1
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = job.Clone()

	if requeue {
		heap.Push(&s.ready, &queueItem{JobID: job.ID, Priority: job.Priority, Seq: job.EnqueueSeq})
	}
	return true, nil
}

func (s *MemoryStore) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []*models.Job
	for _, job := range s.jobs {
		if job.Status == models.JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			stuck = append(stuck, job.Clone())
		}
	}
	return stuck, nil
}

func (s *MemoryStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
