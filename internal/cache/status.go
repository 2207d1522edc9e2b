package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/status"
)

// StatusCache stores status snapshots and change notifications in Redis
type StatusCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewStatusCache creates a snapshot cache whose entries expire after ttl
func NewStatusCache(cache *Cache, ttl time.Duration) *StatusCache {
	return &StatusCache{cache: cache, ttl: ttl}
}

func snapshotKey(assetID string) string {
	return fmt.Sprintf("status:%s", assetID)
}

func changesChannel(assetID string) string {
	return fmt.Sprintf("status:changes:%s", assetID)
}

func (s *StatusCache) GetSnapshot(ctx context.Context, assetID string) (*status.Snapshot, error) {
	var snapshot status.Snapshot
	found, err := s.cache.GetWithJSON(ctx, snapshotKey(assetID), &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *StatusCache) SetSnapshot(ctx context.Context, snapshot *status.Snapshot) error {
	return s.cache.SetWithJSON(ctx, snapshotKey(snapshot.VideoAsset.ID), snapshot, s.ttl)
}

func (s *StatusCache) InvalidateSnapshot(ctx context.Context, assetID string) error {
	return s.cache.Delete(ctx, snapshotKey(assetID))
}

// Notify publishes a change of assetID to every subscribed API instance
func (s *StatusCache) Notify(ctx context.Context, assetID string) error {
	return s.cache.Publish(ctx, changesChannel(assetID), assetID)
}

// Subscribe receives changes of assetID published by any process
func (s *StatusCache) Subscribe(ctx context.Context, assetID string) (<-chan struct{}, error) {
	messages, err := s.cache.Subscribe(ctx, changesChannel(assetID))
	if err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range messages {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}
