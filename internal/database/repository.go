package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/assets"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/catalog"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/queue"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/workflow"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

var (
	_ assets.Repository   = (*Repository)(nil)
	_ queue.Store         = (*Repository)(nil)
	_ workflow.Repository = (*Repository)(nil)
	_ catalog.Repository  = (*Repository)(nil)
)

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Video assets

const assetColumns = `
	id, content_id, original_filename, mime_type, storage_path, size, duration,
	container_format, width, height, resolution, bitrate, upload_status,
	processing_status, version, created_at, updated_at, deleted_at`

func scanAsset(row pgx.Row) (*models.VideoAsset, error) {
	var a models.VideoAsset
	err := row.Scan(
		&a.ID, &a.ContentID, &a.OriginalFilename, &a.MimeType, &a.StoragePath, &a.Size, &a.Duration,
		&a.ContainerFormat, &a.Width, &a.Height, &a.Resolution, &a.Bitrate, &a.UploadStatus,
		&a.ProcessingStatus, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAsset inserts a new video asset
func (r *Repository) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	query := `
		INSERT INTO video_assets (id, content_id, original_filename, mime_type, storage_path, size,
		                          upload_status, processing_status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		RETURNING version
	`

	err := r.db.Pool.QueryRow(ctx, query,
		asset.ID, asset.ContentID, asset.OriginalFilename, asset.MimeType, asset.StoragePath, asset.Size,
		asset.UploadStatus, asset.ProcessingStatus, asset.CreatedAt, asset.UpdatedAt,
	).Scan(&asset.Version)
	if err != nil {
		return fmt.Errorf("failed to create video asset: %w", err)
	}
	return nil
}

// GetAsset retrieves a live video asset with its artifacts
func (r *Repository) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM video_assets WHERE id = $1 AND deleted_at IS NULL`

	asset, err := scanAsset(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("video asset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video asset: %w", err)
	}

	artifacts, err := r.listArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	asset.Artifacts = artifacts
	return asset, nil
}

// UpdateAssetIf writes the mutable columns of asset while its stored upload
// status is one of expected
func (r *Repository) UpdateAssetIf(ctx context.Context, asset *models.VideoAsset, expected ...models.UploadStatus) (bool, error) {
	statuses := make([]string, 0, len(expected))
	for _, s := range expected {
		statuses = append(statuses, string(s))
	}

	query := `
		UPDATE video_assets
		SET storage_path = $2, duration = $3, container_format = $4, width = $5, height = $6,
		    resolution = $7, bitrate = $8, upload_status = $9, processing_status = $10, updated_at = $11,
		    version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
		  AND (cardinality($12::text[]) = 0 OR upload_status = ANY($12))
		RETURNING version
	`

	err := r.db.Pool.QueryRow(ctx, query,
		asset.ID, asset.StoragePath, asset.Duration, asset.ContainerFormat, asset.Width, asset.Height,
		asset.Resolution, asset.Bitrate, asset.UploadStatus, asset.ProcessingStatus, asset.UpdatedAt,
		statuses,
	).Scan(&asset.Version)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to update video asset: %w", err)
	}
	return false, r.assetMissing(ctx, asset.ID)
}

// UpdateAssetStatus writes the statuses of asset while its stored version
// equals expectedVersion
func (r *Repository) UpdateAssetStatus(ctx context.Context, asset *models.VideoAsset, expectedVersion int64) (bool, error) {
	query := `
		UPDATE video_assets
		SET upload_status = $3, processing_status = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING version
	`

	err := r.db.Pool.QueryRow(ctx, query,
		asset.ID, expectedVersion, asset.UploadStatus, asset.ProcessingStatus, asset.UpdatedAt,
	).Scan(&asset.Version)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to update video asset status: %w", err)
	}
	return false, r.assetMissing(ctx, asset.ID)
}

// assetMissing returns apperr.ErrNotFound when no live asset has id
func (r *Repository) assetMissing(ctx context.Context, id string) error {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM video_assets WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check video asset: %w", err)
	}
	if !exists {
		return apperr.NotFound("video asset", id)
	}
	return nil
}

// ListAssetsByContent retrieves the live assets of a content item, oldest first
func (r *Repository) ListAssetsByContent(ctx context.Context, contentID string) ([]*models.VideoAsset, error) {
	query := `SELECT ` + assetColumns + `
		FROM video_assets
		WHERE content_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list video assets: %w", err)
	}
	defer rows.Close()

	var list []*models.VideoAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video asset: %w", err)
		}
		list = append(list, asset)
	}
	return list, rows.Err()
}

// SoftDeleteByContent marks every live asset of a content item deleted
func (r *Repository) SoftDeleteByContent(ctx context.Context, contentID string, at time.Time) ([]string, error) {
	query := `
		UPDATE video_assets
		SET deleted_at = $2, updated_at = $2
		WHERE content_id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	rows, err := r.db.Pool.Query(ctx, query, contentID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to delete video assets: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to delete video assets: %w", err)
	}
	return ids, nil
}

// Artifacts

// InsertArtifact stores an artifact unless its job already recorded one
func (r *Repository) InsertArtifact(ctx context.Context, artifact *models.Artifact) (*models.Artifact, bool, error) {
	query := `
		INSERT INTO artifacts (id, asset_id, job_id, job_type, path, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		artifact.ID, artifact.AssetID, artifact.JobID, artifact.JobType, artifact.Path,
		artifact.Attributes, artifact.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert artifact: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored := *artifact
		return &stored, true, nil
	}

	var existing models.Artifact
	err = r.db.Pool.QueryRow(ctx, `
		SELECT id, asset_id, job_id, job_type, path, attributes, created_at
		FROM artifacts WHERE job_id = $1
	`, artifact.JobID).Scan(
		&existing.ID, &existing.AssetID, &existing.JobID, &existing.JobType, &existing.Path,
		&existing.Attributes, &existing.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &existing, false, nil
}

func (r *Repository) listArtifacts(ctx context.Context, assetID string) ([]models.Artifact, error) {
	query := `
		SELECT id, asset_id, job_id, job_type, path, attributes, created_at
		FROM artifacts
		WHERE asset_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []models.Artifact{}
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.AssetID, &a.JobID, &a.JobType, &a.Path, &a.Attributes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Subtitles

// UpsertSubtitle stores a subtitle track, replacing the track with the same
// asset, language and format
func (r *Repository) UpsertSubtitle(ctx context.Context, subtitle *models.Subtitle) error {
	query := `
		INSERT INTO subtitles (id, asset_id, language, format, path, confidence_score, word_count,
		                       status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset_id, language, format) DO UPDATE
		SET path = EXCLUDED.path,
		    confidence_score = EXCLUDED.confidence_score,
		    word_count = EXCLUDED.word_count,
		    status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		subtitle.ID, subtitle.AssetID, subtitle.Language, subtitle.Format, subtitle.Path,
		subtitle.ConfidenceScore, subtitle.WordCount, subtitle.Status, subtitle.ErrorMessage,
		subtitle.CreatedAt, subtitle.UpdatedAt,
	).Scan(&subtitle.ID, &subtitle.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subtitle: %w", err)
	}
	return nil
}

// ListSubtitles retrieves the subtitle tracks of an asset
func (r *Repository) ListSubtitles(ctx context.Context, assetID string) ([]*models.Subtitle, error) {
	query := `
		SELECT id, asset_id, language, format, path, confidence_score, word_count,
		       status, error_message, created_at, updated_at
		FROM subtitles
		WHERE asset_id = $1
		ORDER BY language, format
	`

	rows, err := r.db.Pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}
	defer rows.Close()

	var subtitles []*models.Subtitle
	for rows.Next() {
		var s models.Subtitle
		err := rows.Scan(
			&s.ID, &s.AssetID, &s.Language, &s.Format, &s.Path, &s.ConfidenceScore, &s.WordCount,
			&s.Status, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subtitle: %w", err)
		}
		subtitles = append(subtitles, &s)
	}
	return subtitles, rows.Err()
}
