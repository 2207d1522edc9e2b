package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// ExtractMetadata probes the original and stores the report next to the
// other artifacts
func (h *Handlers) ExtractMetadata(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	ws, cleanup, err := h.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	report(progress, 50)

	attrs, err := h.tools.Prober.Probe(ctx, ws.input)
	if err != nil {
		return nil, fmt.Errorf("failed to probe original: %w", err)
	}

	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode probe report: %w", err)
	}

	key := storage.MetadataKey(job.AssetID)
	if err := h.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to upload probe report: %w", err))
	}

	return models.MetadataResult{MediaAttributes: attrs, Path: key}, nil
}
