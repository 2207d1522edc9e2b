package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

const defaultPollInterval = 2 * time.Second

// Snapshot is the polled view of an asset's processing
type Snapshot struct {
	VideoAsset      *models.VideoAsset     `json:"videoAsset"`
	Jobs            []*models.Job          `json:"jobs"`
	AggregateStatus models.AggregateStatus `json:"aggregateStatus"`
	Subtitles       []*models.Subtitle     `json:"subtitles"`
}

// Settled reports whether no further automatic change is expected
func (s *Snapshot) Settled() bool {
	return s.AggregateStatus == models.AggregateStatusCompleted || s.AggregateStatus == models.AggregateStatusFailed
}

// fingerprint identifies the observable state of a snapshot
func (s *Snapshot) fingerprint() string {
	var b strings.Builder
	b.WriteString(string(s.AggregateStatus))
	b.WriteString(s.VideoAsset.UpdatedAt.String())
	b.WriteString(strconv.Itoa(len(s.VideoAsset.Artifacts)))
	for _, job := range s.Jobs {
		b.WriteString(job.ID)
		b.WriteString(strconv.FormatInt(job.Version, 10))
	}
	b.WriteString(strconv.Itoa(len(s.Subtitles)))
	return b.String()
}

// AssetReader reads assets and subtitle tracks
type AssetReader interface {
	GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error)
	ListSubtitles(ctx context.Context, assetID string) ([]*models.Subtitle, error)
}

// JobReader lists the jobs of an asset
type JobReader interface {
	ListByAsset(ctx context.Context, assetID string) ([]*models.Job, error)
}

// Cache stores short-lived snapshots. GetSnapshot returns nil on a miss.
type Cache interface {
	GetSnapshot(ctx context.Context, assetID string) (*Snapshot, error)
	SetSnapshot(ctx context.Context, snapshot *Snapshot) error
	InvalidateSnapshot(ctx context.Context, assetID string) error
}

// Notifier fans out "asset changed" signals to watchers
type Notifier interface {
	Notify(ctx context.Context, assetID string) error
	// Subscribe returns a channel that receives a value after each change of
	// the asset until ctx is done.
	Subscribe(ctx context.Context, assetID string) (<-chan struct{}, error)
}

// Derive summarizes an asset's jobs into one status
func Derive(jobs []*models.Job) models.AggregateStatus {
	return models.DeriveStatus(jobs)
}

// Aggregator builds read-only status snapshots
type Aggregator struct {
	assets   AssetReader
	jobs     JobReader
	cache    Cache
	notifier Notifier
	logger   *logging.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithCache enables snapshot caching
func WithCache(c Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithNotifier enables push notifications for watchers
func WithNotifier(n Notifier) Option {
	return func(a *Aggregator) { a.notifier = n }
}

// NewAggregator creates a status aggregator
func NewAggregator(assets AssetReader, jobs JobReader, logger *logging.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &Aggregator{assets: assets, jobs: jobs, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetStatus returns the current snapshot of an asset
func (a *Aggregator) GetStatus(ctx context.Context, assetID string) (*Snapshot, error) {
	if a.cache != nil {
		snapshot, err := a.cache.GetSnapshot(ctx, assetID)
		if err != nil {
			a.logger.WithAssetID(assetID).WithError(err).Warn("Status cache read failed")
		}
		metrics.RecordCacheAccess("status", snapshot != nil)
		if snapshot != nil {
			return snapshot, nil
		}
	}

	snapshot, err := a.build(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.SetSnapshot(ctx, snapshot); err != nil {
			a.logger.WithAssetID(assetID).WithError(err).Warn("Status cache write failed")
		}
	}
	return snapshot, nil
}

func (a *Aggregator) build(ctx context.Context, assetID string) (*Snapshot, error) {
	asset, err := a.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	jobs, err := a.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	subtitles, err := a.assets.ListSubtitles(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}

	SortJobs(jobs)
	if jobs == nil {
		jobs = []*models.Job{}
	}
	if subtitles == nil {
		subtitles = []*models.Subtitle{}
	}

	return &Snapshot{
		VideoAsset:      asset,
		Jobs:            jobs,
		AggregateStatus: Derive(jobs),
		Subtitles:       subtitles,
	}, nil
}

// SortJobs orders jobs by job type and then newest first
func SortJobs(jobs []*models.Job) {
	rank := make(map[models.JobType]int, len(models.JobTypes))
	for i, t := range models.JobTypes {
		rank[t] = i
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Type != jobs[j].Type {
			return rank[jobs[i].Type] < rank[jobs[j].Type]
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

// JobChanged drops the cached snapshot of the job's asset and wakes its
// watchers. It lets the Aggregator serve as a queue listener.
func (a *Aggregator) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	a.Invalidate(ctx, job.AssetID)
}

// Invalidate drops the cached snapshot of an asset and wakes its watchers
func (a *Aggregator) Invalidate(ctx context.Context, assetID string) {
	if a.cache != nil {
		if err := a.cache.InvalidateSnapshot(ctx, assetID); err != nil {
			a.logger.WithAssetID(assetID).WithError(err).Warn("Status cache invalidation failed")
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, assetID); err != nil {
			a.logger.WithAssetID(assetID).WithError(err).Warn("Status notification failed")
		}
	}
}

// Watch streams snapshots of an asset: the current one first, then one per
// observable change. Changes are pushed by the notifier when there is one
// and found by polling every poll interval otherwise. The channel closes
// when ctx is done or the asset cannot be read.
func (a *Aggregator) Watch(ctx context.Context, assetID string, poll time.Duration) (<-chan *Snapshot, error) {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	first, err := a.build(ctx, assetID)
	if err != nil {
		return nil, err
	}

	var changes <-chan struct{}
	if a.notifier != nil {
		changes, err = a.notifier.Subscribe(ctx, assetID)
		if err != nil {
			a.logger.WithAssetID(assetID).WithError(err).Warn("Status subscription failed, polling instead")
			changes = nil
		}
	}

	out := make(chan *Snapshot, 1)
	out <- first

	go func() {
		defer close(out)

		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		last := first.fingerprint()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
			case <-ticker.C:
			}

			snapshot, err := a.build(ctx, assetID)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.WithAssetID(assetID).WithError(err).Debug("Status watch ended")
				}
				return
			}
			if fp := snapshot.fingerprint(); fp != last {
				last = fp
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// LocalNotifier is an in-process Notifier
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewLocalNotifier creates an in-process notifier
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Notify(ctx context.Context, assetID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[assetID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, assetID string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[assetID] == nil {
		n.subs[assetID] = make(map[chan struct{}]struct{})
	}
	n.subs[assetID][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs[assetID], ch)
		if len(n.subs[assetID]) == 0 {
			delete(n.subs, assetID)
		}
		n.mu.Unlock()
	}()

	return ch, nil
}
