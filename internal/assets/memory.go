package assets

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type subtitleKey struct {
	assetID  string
	language string
	format   models.SubtitleFormat
}

// MemoryRepository keeps assets in process memory
type MemoryRepository struct {
	mu        sync.RWMutex
	assets    map[string]*models.VideoAsset
	artifacts map[string][]*models.Artifact // by asset
	byJob     map[string]*models.Artifact
	subtitles map[subtitleKey]*models.Subtitle
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assets:    make(map[string]*models.VideoAsset),
		artifacts: make(map[string][]*models.Artifact),
		byJob:     make(map[string]*models.Artifact),
		subtitles: make(map[subtitleKey]*models.Subtitle),
	}
}

func (r *MemoryRepository) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[asset.ID]; exists {
		return apperr.InvalidState("asset %s already exists", asset.ID)
	}
	stored := asset.Clone()
	stored.Artifacts = nil
	r.assets[asset.ID] = stored
	return nil
}

func (r *MemoryRepository) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok || asset.DeletedAt != nil {
		return nil, apperr.NotFound("video asset", id)
	}
	c := asset.Clone()
	c.Artifacts = make([]models.Artifact, 0, len(r.artifacts[id]))
	for _, a := range r.artifacts[id] {
		c.Artifacts = append(c.Artifacts, *a)
	}
	return c, nil
}

func (r *MemoryRepository) UpdateAssetIf(ctx context.Context, asset *models.VideoAsset, expected ...models.UploadStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.assets[asset.ID]
	if !ok || stored.DeletedAt != nil {
		return false, apperr.NotFound("video asset", asset.ID)
	}
	match := len(expected) == 0
	for _, status := range expected {
		if stored.UploadStatus == status {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}

	asset.Version = stored.Version + 1
	c := asset.Clone()
	c.Artifacts = nil
	r.assets[asset.ID] = c
	return true, nil
}

func (r *MemoryRepository) UpdateAssetStatus(ctx context.Context, asset *models.VideoAsset, expectedVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.assets[asset.ID]
	if !ok || stored.DeletedAt != nil {
		return false, apperr.NotFound("video asset", asset.ID)
	}
	if stored.Version != expectedVersion {
		return false, nil
	}

	stored.UploadStatus = asset.UploadStatus
	stored.ProcessingStatus = asset.ProcessingStatus
	stored.UpdatedAt = asset.UpdatedAt
	stored.Version = expectedVersion + 1
	asset.Version = stored.Version
	return true, nil
}

func (r *MemoryRepository) ListAssetsByContent(ctx context.Context, contentID string) ([]*models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var assets []*models.VideoAsset
	for _, asset := range r.assets {
		if asset.ContentID == contentID && asset.DeletedAt == nil {
			assets = append(assets, asset.Clone())
		}
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].CreatedAt.Before(assets[j].CreatedAt)
	})
	return assets, nil
}

func (r *MemoryRepository) SoftDeleteByContent(ctx context.Context, contentID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, asset := range r.assets {
		if asset.ContentID == contentID && asset.DeletedAt == nil {
			deletedAt := at
			asset.DeletedAt = &deletedAt
			asset.UpdatedAt = at
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) InsertArtifact(ctx context.Context, artifact *models.Artifact) (*models.Artifact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byJob[artifact.JobID]; ok {
		c := *existing
		return &c, false, nil
	}
	stored := *artifact
	r.byJob[artifact.JobID] = &stored
	r.artifacts[artifact.AssetID] = append(r.artifacts[artifact.AssetID], &stored)
	c := stored
	return &c, true, nil
}

func (r *MemoryRepository) UpsertSubtitle(ctx context.Context, subtitle *models.Subtitle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subtitleKey{subtitle.AssetID, subtitle.Language, subtitle.Format}
	stored := *subtitle
	if existing, ok := r.subtitles[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		subtitle.ID = existing.ID
		subtitle.CreatedAt = existing.CreatedAt
	}
	r.subtitles[key] = &stored
	return nil
}

func (r *MemoryRepository) ListSubtitles(ctx context.Context, assetID string) ([]*models.Subtitle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subtitles []*models.Subtitle
	for key, subtitle := range r.subtitles {
		if key.assetID == assetID {
			c := *subtitle
			subtitles = append(subtitles, &c)
		}
	}
	sort.Slice(subtitles, func(i, j int) bool {
		if subtitles[i].Language != subtitles[j].Language {
			return subtitles[i].Language < subtitles[j].Language
		}
		return subtitles[i].Format < subtitles[j].Format
	})
	return subtitles, nil
}
