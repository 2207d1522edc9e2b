package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Repository persists content metadata and tags
type Repository interface {
	UpsertMetadata(ctx context.Context, entries []*models.MetadataEntry) error
	ListMetadata(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.MetadataEntry, error)
	// InsertTags stores tags, skipping any (content, name) pair that already
	// exists, and returns how many were inserted.
	InsertTags(ctx context.Context, tags []*models.Tag) (int, error)
	ListTags(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.Tag, error)
}

// Service manages key/value metadata and tags of content items
type Service struct {
	repo   Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a catalog service
func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddMetadata sets a single key, replacing any previous value
func (s *Service) AddMetadata(ctx context.Context, contentType models.ContentType, contentID, key, value string) error {
	return s.SetMetadata(ctx, contentType, contentID, map[string]string{key: value})
}

// SetMetadata sets several keys at once
func (s *Service) SetMetadata(ctx context.Context, contentType models.ContentType, contentID string, values map[string]string) error {
	if err := validateContent(contentType, contentID); err != nil {
		return err
	}
	if len(values) == 0 {
		return apperr.Validation("no metadata given")
	}

	now := s.now()
	entries := make([]*models.MetadataEntry, 0, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return apperr.Validation("metadata key is required")
		}
		entries = append(entries, &models.MetadataEntry{
			ContentID:   contentID,
			ContentType: contentType,
			Key:         key,
			Value:       value,
			UpdatedAt:   now,
		})
	}

	if err := s.repo.UpsertMetadata(ctx, entries); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

// AddTags attaches tags to a content item. Tags the item already carries are
// skipped; the number of new tags is returned.
func (s *Service) AddTags(ctx context.Context, contentType models.ContentType, contentID string, inputs []models.TagInput) (int, error) {
	if err := validateContent(contentType, contentID); err != nil {
		return 0, err
	}

	now := s.now()
	seen := make(map[string]bool, len(inputs))
	tags := make([]*models.Tag, 0, len(inputs))
	for _, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return 0, apperr.Validation("tag name is required")
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, &models.Tag{
			ContentID:   contentID,
			ContentType: contentType,
			Name:        name,
			Category:    in.Category,
			CreatedAt:   now,
		})
	}
	if len(tags) == 0 {
		return 0, nil
	}

	inserted, err := s.repo.InsertTags(ctx, tags)
	if err != nil {
		return 0, fmt.Errorf("failed to store tags: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"content_id": contentID,
		"requested":  len(inputs),
		"inserted":   inserted,
	}).Debug("Tags added")
	return inserted, nil
}

// ListMetadata returns the metadata of a content item sorted by key
func (s *Service) ListMetadata(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.MetadataEntry, error) {
	return s.repo.ListMetadata(ctx, contentType, contentID)
}

// ListTags returns the tags of a content item sorted by name
func (s *Service) ListTags(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.Tag, error) {
	return s.repo.ListTags(ctx, contentType, contentID)
}

func validateContent(contentType models.ContentType, contentID string) error {
	if !contentType.Valid() {
		return apperr.Validation("unknown content type %q", contentType)
	}
	if strings.TrimSpace(contentID) == "" {
		return apperr.Validation("content id is required")
	}
	return nil
}
