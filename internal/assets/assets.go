package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Repository persists assets, artifacts and subtitles
type Repository interface {
	CreateAsset(ctx context.Context, asset *models.VideoAsset) error
	// GetAsset returns the asset with its artifacts, or apperr.ErrNotFound
	// when it does not exist or has been soft-deleted.
	GetAsset(ctx context.Context, id string) (*models.VideoAsset, error)
	// UpdateAssetIf writes asset only while the stored upload status is one
	// of expected, and reports whether it did. A write bumps asset.Version.
	UpdateAssetIf(ctx context.Context, asset *models.VideoAsset, expected ...models.UploadStatus) (bool, error)
	// UpdateAssetStatus writes the upload and processing status of asset if
	// the stored version equals expectedVersion.
	UpdateAssetStatus(ctx context.Context, asset *models.VideoAsset, expectedVersion int64) (bool, error)
	ListAssetsByContent(ctx context.Context, contentID string) ([]*models.VideoAsset, error)
	SoftDeleteByContent(ctx context.Context, contentID string, at time.Time) ([]string, error)

	// InsertArtifact stores artifact unless one already exists for its job.
	// It returns the stored artifact and whether it was newly inserted.
	InsertArtifact(ctx context.Context, artifact *models.Artifact) (*models.Artifact, bool, error)

	UpsertSubtitle(ctx context.Context, subtitle *models.Subtitle) error
	ListSubtitles(ctx context.Context, assetID string) ([]*models.Subtitle, error)
}

// maxSyncAttempts bounds the read-derive-swap loop of a status sync
const maxSyncAttempts = 8

// JobLister lists the jobs of an asset
type JobLister interface {
	ListByAsset(ctx context.Context, assetID string) ([]*models.Job, error)
}

// Service is the asset store
type Service struct {
	repo          Repository
	maxUploadSize int64
	validate      *validator.Validate
	logger        *logging.Logger
	now           func() time.Time
}

// NewService creates an asset store that rejects uploads above maxUploadSize
func NewService(repo Repository, maxUploadSize int64, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		repo:          repo,
		maxUploadSize: maxUploadSize,
		validate:      validator.New(),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ValidateFile checks file metadata against the upload rules without
// persisting anything
func (s *Service) ValidateFile(file models.FileMetadata) error {
	if err := s.validate.Struct(file); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return apperr.Validation("invalid file: %s", describe(fieldErrs))
		}
		return apperr.Validation("invalid file: %v", err)
	}
	if file.Size > s.maxUploadSize {
		return apperr.Validation("file size %d exceeds maximum of %d bytes", file.Size, s.maxUploadSize)
	}
	if !strings.HasPrefix(strings.ToLower(file.MimeType), "video/") {
		return apperr.Validation("unsupported mime type %q: must be a video type", file.MimeType)
	}
	return nil
}

// CreateAsset records a new upload in the uploading state
func (s *Service) CreateAsset(ctx context.Context, contentID string, file models.FileMetadata) (*models.VideoAsset, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, apperr.Validation("content id is required")
	}
	if err := s.ValidateFile(file); err != nil {
		return nil, err
	}

	now := s.now()
	asset := &models.VideoAsset{
		ID:               uuid.New().String(),
		ContentID:        contentID,
		OriginalFilename: file.Filename,
		MimeType:         file.MimeType,
		Size:             file.Size,
		UploadStatus:     models.UploadStatusUploading,
		ProcessingStatus: models.ProcessingStatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	s.logger.WithAssetID(asset.ID).WithField("content_id", contentID).Info("Asset created")
	return asset, nil
}

// MarkUploaded records the stored location and probed attributes of an
// asset whose bytes have fully arrived
func (s *Service) MarkUploaded(ctx context.Context, assetID, finalPath string, attrs models.MediaAttributes) (*models.VideoAsset, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.UploadStatus != models.UploadStatusUploading {
		return nil, apperr.InvalidState("asset %s is %s, not uploading", assetID, asset.UploadStatus)
	}

	asset.StoragePath = finalPath
	asset.UploadStatus = models.UploadStatusUploaded
	asset.Duration = attrs.Duration
	asset.ContainerFormat = attrs.ContainerFormat
	asset.Width = attrs.Width
	asset.Height = attrs.Height
	asset.Resolution = attrs.Resolution()
	asset.Bitrate = attrs.Bitrate
	asset.UpdatedAt = s.now()

	ok, err := s.repo.UpdateAssetIf(ctx, asset, models.UploadStatusUploading)
	if err != nil {
		return nil, fmt.Errorf("failed to update asset: %w", err)
	}
	if !ok {
		return nil, apperr.InvalidState("asset %s is no longer uploading", assetID)
	}
	return asset, nil
}

// MarkUploadFailed records that the bytes of an uploading asset never arrived
func (s *Service) MarkUploadFailed(ctx context.Context, assetID, reason string) error {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	asset.UploadStatus = models.UploadStatusFailed
	asset.ProcessingStatus = models.ProcessingStatusFailed
	asset.UpdatedAt = s.now()

	ok, err := s.repo.UpdateAssetIf(ctx, asset, models.UploadStatusUploading)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	if !ok {
		return apperr.InvalidState("asset %s is no longer uploading", assetID)
	}

	s.logger.WithAssetID(assetID).WithField("reason", reason).Warn("Upload failed")
	return nil
}

// RecordArtifact attaches a derived file to an asset. Replaying the same
// job returns the artifact recorded the first time.
func (s *Service) RecordArtifact(ctx context.Context, assetID, jobID string, jobType models.JobType, path string, attrs models.Metadata) (*models.Artifact, error) {
	if jobID == "" || path == "" {
		return nil, apperr.Validation("artifact requires a job id and a path")
	}
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		ID:         uuid.New().String(),
		AssetID:    assetID,
		JobID:      jobID,
		JobType:    jobType,
		Path:       path,
		Attributes: attrs,
		CreatedAt:  s.now(),
	}

	stored, inserted, err := s.repo.InsertArtifact(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}
	if !inserted {
		s.logger.WithAssetID(assetID).WithJobID(jobID).Debug("Artifact already recorded")
	}
	return stored, nil
}

// GetAsset returns an asset with its artifacts
func (s *Service) GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error) {
	return s.repo.GetAsset(ctx, assetID)
}

// ListByContent returns the live assets of a content item
func (s *Service) ListByContent(ctx context.Context, contentID string) ([]*models.VideoAsset, error) {
	return s.repo.ListAssetsByContent(ctx, contentID)
}

// SoftDeleteByContent hides every asset of a content item and returns
// their IDs
func (s *Service) SoftDeleteByContent(ctx context.Context, contentID string) ([]string, error) {
	ids, err := s.repo.SoftDeleteByContent(ctx, contentID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to delete assets: %w", err)
	}
	s.logger.WithField("content_id", contentID).Infof("Soft-deleted %d assets", len(ids))
	return ids, nil
}

// UpsertSubtitle stores a subtitle track, replacing any track with the same
// asset, language and format
func (s *Service) UpsertSubtitle(ctx context.Context, subtitle *models.Subtitle) error {
	if !subtitle.Format.Valid() {
		return apperr.Validation("unsupported subtitle format %q", subtitle.Format)
	}
	if subtitle.Language == "" {
		return apperr.Validation("subtitle language is required")
	}
	now := s.now()
	if subtitle.ID == "" {
		subtitle.ID = uuid.New().String()
	}
	if subtitle.CreatedAt.IsZero() {
		subtitle.CreatedAt = now
	}
	subtitle.UpdatedAt = now
	return s.repo.UpsertSubtitle(ctx, subtitle)
}

// ListSubtitles returns the subtitle tracks of an asset
func (s *Service) ListSubtitles(ctx context.Context, assetID string) ([]*models.Subtitle, error) {
	return s.repo.ListSubtitles(ctx, assetID)
}

// SyncProcessingStatus stores the status derived from the asset's current
// jobs. The jobs are listed after the asset is read and the write only lands
// if no other write happened in between, so the stored status always comes
// from a job list at least as new as the one behind the previous write.
func (s *Service) SyncProcessingStatus(ctx context.Context, assetID string, jobs JobLister) (*models.VideoAsset, error) {
	for attempt := 0; attempt < maxSyncAttempts; attempt++ {
		asset, err := s.repo.GetAsset(ctx, assetID)
		if err != nil {
			return nil, err
		}
		// bytes that never arrived cannot be re-labelled by job state
		if asset.StoragePath == "" {
			return nil, apperr.InvalidState("asset %s is %s", assetID, asset.UploadStatus)
		}

		list, err := jobs.ListByAsset(ctx, assetID)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		version := asset.Version
		changed := s.applyStatus(asset, list)

		// unchanged syncs still bump the version so a concurrent sync holding
		// an older job list cannot land after this one
		ok, err := s.repo.UpdateAssetStatus(ctx, asset, version)
		if err != nil {
			return nil, fmt.Errorf("failed to update asset status: %w", err)
		}
		if ok {
			if changed {
				s.logger.WithAssetID(assetID).WithFields(map[string]interface{}{
					"processing_status": asset.ProcessingStatus,
					"upload_status":     asset.UploadStatus,
				}).Debug("Asset status synced")
			}
			return asset, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, apperr.Transient(fmt.Errorf("asset %s: too many concurrent status updates", assetID))
}

// applyStatus sets the statuses derived from jobs on asset and reports
// whether either changed
func (s *Service) applyStatus(asset *models.VideoAsset, jobs []*models.Job) bool {
	aggregate := models.DeriveStatus(jobs)
	processing := models.ProcessingStatusFor(aggregate, jobs)

	upload := asset.UploadStatus
	switch aggregate {
	case models.AggregateStatusCompleted:
		upload = models.UploadStatusCompleted
	case models.AggregateStatusFailed:
		upload = models.UploadStatusFailed
	case models.AggregateStatusProcessing:
		upload = models.UploadStatusProcessing
	default:
		// retried or reprocessed jobs reopen a finished asset
		upload = models.UploadStatusUploaded
	}

	if asset.ProcessingStatus == processing && asset.UploadStatus == upload {
		return false
	}
	asset.ProcessingStatus = processing
	asset.UploadStatus = upload
	asset.UpdatedAt = s.now()
	return true
}

// Syncer keeps the stored status of assets in line with their jobs. It
// serves as a queue listener, so every committed job transition resyncs the
// job's asset no matter which process or code path made it.
type Syncer struct {
	assets *Service
	jobs   JobLister
}

// NewSyncer creates a status syncer reading jobs from jobs
func NewSyncer(assets *Service, jobs JobLister) *Syncer {
	return &Syncer{assets: assets, jobs: jobs}
}

func (s *Syncer) JobChanged(ctx context.Context, job *models.Job, from models.JobStatus) {
	// progress only
	if from == job.Status && job.Status == models.JobStatusProcessing {
		return
	}

	_, err := s.assets.SyncProcessingStatus(ctx, job.AssetID, s.jobs)
	if err == nil {
		return
	}
	logger := s.assets.logger.WithAssetID(job.AssetID).WithJobID(job.ID).WithError(err)
	switch apperr.Kind(err) {
	case apperr.KindNotFound, apperr.KindInvalidState:
		// deleted, or still uploading
		logger.Debug("Asset status not synced")
	default:
		logger.Warn("Failed to sync asset status")
	}
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "gt":
			parts = append(parts, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}
