package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/assets"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/catalog"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/events"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/queue"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/tracing"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/workflow"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Prober reads media attributes from a local file
type Prober interface {
	Probe(ctx context.Context, path string) (models.MediaAttributes, error)
}

// Config selects the jobs seeded for every upload
type Config struct {
	Renditions         []config.RenditionConfig
	SubtitleLanguages  []string
	SubtitleFormat     models.SubtitleFormat
	ThumbnailAtSeconds float64
	ThumbnailWidth     int
	GenerateThumbnail  bool
	ExtractMetadata    bool
}

// ConfigFrom builds the pipeline settings from the application config
func ConfigFrom(cfg config.PipelineConfig) Config {
	return Config{
		Renditions:         cfg.Renditions,
		SubtitleLanguages:  cfg.SubtitleLanguages,
		SubtitleFormat:     models.SubtitleFormat(cfg.SubtitleFormat),
		ThumbnailAtSeconds: cfg.ThumbnailAtSeconds,
		ThumbnailWidth:     cfg.ThumbnailWidth,
		GenerateThumbnail:  cfg.GenerateThumbnail,
		ExtractMetadata:    cfg.ExtractMetadata,
	}
}

// UploadRequest is a received upload. The file bytes are at Path on local disk.
type UploadRequest struct {
	ContentID   string
	ContentType models.ContentType
	File        models.FileMetadata
	Path        string
	Title       string
	Description string
	Tags        []models.TagInput
	Metadata    map[string]string
	ActorID     string
}

// UploadResult identifies what an upload created
type UploadResult struct {
	VideoAssetID string   `json:"videoAssetId"`
	WorkflowID   string   `json:"workflowId"`
	JobIDs       []string `json:"jobIds"`
}

// DeleteResult summarises a content deletion
type DeleteResult struct {
	AssetIDs      []string `json:"assetIds"`
	CancelledJobs int      `json:"cancelledJobs"`
}

// Pipeline turns received uploads into stored assets, queued jobs and a
// workflow
type Pipeline struct {
	assets    *assets.Service
	queue     *queue.Queue
	workflows *workflow.Service
	catalog   *catalog.Service
	store     storage.ObjectStore
	prober    Prober
	emitter   *events.Emitter
	config    Config
	logger    *logging.Logger
}

// New creates an intake pipeline. emitter may be nil.
func New(
	assetService *assets.Service,
	jobQueue *queue.Queue,
	workflows *workflow.Service,
	catalogService *catalog.Service,
	store storage.ObjectStore,
	prober Prober,
	emitter *events.Emitter,
	cfg Config,
	logger *logging.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if emitter == nil {
		emitter = events.NewEmitter(events.NopPublisher{}, logger)
	}
	if cfg.SubtitleFormat == "" {
		cfg.SubtitleFormat = models.SubtitleFormatVTT
	}
	return &Pipeline{
		assets:    assetService,
		queue:     jobQueue,
		workflows: workflows,
		catalog:   catalogService,
		store:     store,
		prober:    prober,
		emitter:   emitter,
		config:    cfg,
		logger:    logger,
	}
}

// Upload stores the original, records its attributes, seeds the processing
// jobs and attaches the content item's workflow and catalog data
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	span, ctx := tracing.StartSpan(ctx, "pipeline.upload")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "content.id", req.ContentID)

	if req.ContentType == "" {
		req.ContentType = models.ContentTypeVideo
	}
	if !req.ContentType.Valid() {
		metrics.RecordUpload("rejected", req.File.Size)
		return nil, apperr.Validation("unknown content type %q", req.ContentType)
	}
	if len(p.jobSpecs("", nil)) == 0 {
		err := errors.New("pipeline is configured to seed no processing jobs")
		tracing.LogError(span, err)
		return nil, err
	}

	asset, err := p.assets.CreateAsset(ctx, req.ContentID, req.File)
	if err != nil {
		if apperr.Kind(err) == apperr.KindValidation {
			metrics.RecordUpload("rejected", req.File.Size)
		}
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "asset.id", asset.ID)
	logger := p.logger.WithAssetID(asset.ID).WithField("content_id", req.ContentID)

	key := storage.OriginalKey(req.ContentID, asset.ID, req.File.Filename)
	if err := p.store.UploadFile(ctx, key, req.Path); err != nil {
		p.abandon(ctx, logger, asset.ID, err)
		tracing.LogError(span, err)
		return nil, apperr.Transient(fmt.Errorf("failed to store original: %w", err))
	}

	// the metadata job probes again, so an unreadable header does not
	// block intake
	attrs, err := p.prober.Probe(ctx, req.Path)
	if err != nil {
		logger.WithError(err).Warn("Failed to probe upload")
	}

	asset, err = p.assets.MarkUploaded(ctx, asset.ID, key, attrs)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	metrics.RecordUpload("accepted", asset.Size)

	jobs, err := p.queue.EnqueueBatch(ctx, p.jobSpecs(asset.ID, nil))
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to seed jobs: %w", err)
	}
	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		jobIDs = append(jobIDs, job.ID)
	}

	wf, err := p.workflows.Create(ctx, req.ContentID, req.ContentType, req.ActorID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	if err := p.recordCatalog(ctx, req); err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	p.emitter.AssetUploaded(ctx, asset, jobIDs)
	logger.WithFields(map[string]interface{}{
		"workflow_id": wf.ID,
		"jobs":        len(jobIDs),
		"size":        asset.Size,
	}).Info("Upload accepted")

	return &UploadResult{VideoAssetID: asset.ID, WorkflowID: wf.ID, JobIDs: jobIDs}, nil
}

func (p *Pipeline) abandon(ctx context.Context, logger *logging.Logger, assetID string, cause error) {
	metrics.RecordUpload("failed", 0)
	if err := p.assets.MarkUploadFailed(context.WithoutCancel(ctx), assetID, cause.Error()); err != nil {
		logger.WithError(err).Error("Failed to mark upload failed")
	}
}

func (p *Pipeline) recordCatalog(ctx context.Context, req UploadRequest) error {
	values := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		values[k] = v
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		values["title"] = title
	}
	if description := strings.TrimSpace(req.Description); description != "" {
		values["description"] = description
	}

	if len(values) > 0 {
		if err := p.catalog.SetMetadata(ctx, req.ContentType, req.ContentID, values); err != nil {
			return fmt.Errorf("failed to record metadata: %w", err)
		}
	}
	if len(req.Tags) > 0 {
		if _, err := p.catalog.AddTags(ctx, req.ContentType, req.ContentID, req.Tags); err != nil {
			return fmt.Errorf("failed to record tags: %w", err)
		}
	}
	return nil
}

// jobSpecs lists the jobs seeded for an asset, limited to types when given
func (p *Pipeline) jobSpecs(assetID string, types map[models.JobType]bool) []queue.JobSpec {
	want := func(t models.JobType) bool {
		return len(types) == 0 || types[t]
	}

	var specs []queue.JobSpec
	if want(models.JobTypeMetadataExtraction) && p.config.ExtractMetadata {
		specs = append(specs, queue.JobSpec{
			AssetID:  assetID,
			Priority: models.JobPriorityHigh,
			Params:   models.MetadataParams{},
		})
	}
	if want(models.JobTypeThumbnailGeneration) && p.config.GenerateThumbnail {
		specs = append(specs, queue.JobSpec{
			AssetID:  assetID,
			Priority: models.JobPriorityHigh,
			Params:   models.ThumbnailParams{AtSeconds: p.config.ThumbnailAtSeconds, Width: p.config.ThumbnailWidth},
		})
	}
	if want(models.JobTypeVideoTranscoding) {
		for _, r := range p.config.Renditions {
			specs = append(specs, queue.JobSpec{
				AssetID:  assetID,
				Priority: r.Priority,
				Params: models.TranscodeParams{
					Resolution: r.Resolution,
					Quality:    r.Name,
					Format:     "mp4",
					Bitrate:    r.Bitrate,
				},
			})
		}
	}
	if want(models.JobTypeSubtitleGeneration) {
		for _, lang := range p.config.SubtitleLanguages {
			specs = append(specs, queue.JobSpec{
				AssetID:  assetID,
				Priority: models.JobPriorityNormal,
				Params:   models.SubtitleParams{Language: lang, Format: p.config.SubtitleFormat},
			})
		}
	}
	return specs
}

// Reprocess queues a fresh set of jobs for an uploaded asset. With no types
// every seeded job type is queued again.
func (p *Pipeline) Reprocess(ctx context.Context, assetID string, types []models.JobType) ([]*models.Job, error) {
	asset, err := p.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.StoragePath == "" {
		return nil, apperr.InvalidState("asset %s has no stored original", assetID)
	}

	selected := make(map[models.JobType]bool, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, apperr.Validation("unknown job type %q", t)
		}
		selected[t] = true
	}

	specs := p.jobSpecs(assetID, selected)
	if len(specs) == 0 {
		return nil, apperr.Validation("no jobs configured for the requested types")
	}

	jobs, err := p.queue.EnqueueBatch(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to queue jobs: %w", err)
	}

	p.logger.WithAssetID(assetID).Infof("Queued %d jobs for reprocessing", len(jobs))
	return jobs, nil
}

// DeleteContent soft-deletes every asset of a content item and cancels
// their open jobs
func (p *Pipeline) DeleteContent(ctx context.Context, contentID string) (*DeleteResult, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, apperr.Validation("content id is required")
	}

	ids, err := p.assets.SoftDeleteByContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{AssetIDs: ids}
	for _, assetID := range ids {
		jobs, err := p.queue.ListByAsset(ctx, assetID)
		if err != nil {
			return result, err
		}
		for _, job := range jobs {
			if job.Status != models.JobStatusPending && job.Status != models.JobStatusProcessing {
				continue
			}
			if _, err := p.queue.Cancel(ctx, job.ID); err != nil {
				if apperr.Kind(err) == apperr.KindInvalidState {
					continue
				}
				return result, err
			}
			result.CancelledJobs++
		}
	}

	p.logger.WithField("content_id", contentID).WithFields(map[string]interface{}{
		"assets":         len(ids),
		"cancelled_jobs": result.CancelledJobs,
	}).Info("Content deleted")
	return result, nil
}
