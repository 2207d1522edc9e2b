package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

type contentKey struct {
	contentType models.ContentType
	contentID   string
}

// MemoryRepository keeps metadata and tags in process memory
type MemoryRepository struct {
	mu       sync.RWMutex
	metadata map[contentKey]map[string]*models.MetadataEntry
	tags     map[contentKey]map[string]*models.Tag
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		metadata: make(map[contentKey]map[string]*models.MetadataEntry),
		tags:     make(map[contentKey]map[string]*models.Tag),
	}
}

func (r *MemoryRepository) UpsertMetadata(ctx context.Context, entries []*models.MetadataEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		key := contentKey{entry.ContentType, entry.ContentID}
		if r.metadata[key] == nil {
			r.metadata[key] = make(map[string]*models.MetadataEntry)
		}
		c := *entry
		r.metadata[key][entry.Key] = &c
	}
	return nil
}

func (r *MemoryRepository) ListMetadata(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.MetadataEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*models.MetadataEntry
	for _, entry := range r.metadata[contentKey{contentType, contentID}] {
		c := *entry
		entries = append(entries, &c)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (r *MemoryRepository) InsertTags(ctx context.Context, tags []*models.Tag) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, tag := range tags {
		key := contentKey{tag.ContentType, tag.ContentID}
		if r.tags[key] == nil {
			r.tags[key] = make(map[string]*models.Tag)
		}
		if _, exists := r.tags[key][tag.Name]; exists {
			continue
		}
		c := *tag
		r.tags[key][tag.Name] = &c
		inserted++
	}
	return inserted, nil
}

func (r *MemoryRepository) ListTags(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tags []*models.Tag
	for _, tag := range r.tags[contentKey{contentType, contentID}] {
		c := *tag
		tags = append(tags, &c)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}
