package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Content metadata and tags

// UpsertMetadata sets metadata keys, replacing existing values
func (r *Repository) UpsertMetadata(ctx context.Context, entries []*models.MetadataEntry) error {
	query := `
		INSERT INTO content_metadata (content_type, content_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_type, content_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ContentType, e.ContentID, e.Key, e.Value, e.UpdatedAt)
	}

	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert metadata: %w", err)
		}
		return nil
	})
}

// ListMetadata retrieves the metadata of a content item ordered by key
func (r *Repository) ListMetadata(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.MetadataEntry, error) {
	query := `
		SELECT content_id, content_type, key, value, updated_at
		FROM content_metadata
		WHERE content_type = $1 AND content_id = $2
		ORDER BY key
	`

	rows, err := r.db.Pool.Query(ctx, query, contentType, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	var entries []*models.MetadataEntry
	for rows.Next() {
		var e models.MetadataEntry
		if err := rows.Scan(&e.ContentID, &e.ContentType, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// InsertTags stores tags that do not exist yet and returns how many it stored
func (r *Repository) InsertTags(ctx context.Context, tags []*models.Tag) (int, error) {
	query := `
		INSERT INTO content_tags (content_type, content_id, name, category, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_type, content_id, name) DO NOTHING
	`

	inserted := 0
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		for _, t := range tags {
			tag, err := tx.Exec(ctx, query, t.ContentType, t.ContentID, t.Name, t.Category, t.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert tag: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListTags retrieves the tags of a content item ordered by name
func (r *Repository) ListTags(ctx context.Context, contentType models.ContentType, contentID string) ([]*models.Tag, error) {
	query := `
		SELECT content_id, content_type, name, category, created_at
		FROM content_tags
		WHERE content_type = $1 AND content_id = $2
		ORDER BY name
	`

	rows, err := r.db.Pool.Query(ctx, query, contentType, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ContentID, &t.ContentType, &t.Name, &t.Category, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}
