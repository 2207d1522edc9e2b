package processing

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// GenerateThumbnail extracts a poster frame from the original
func (h *Handlers) GenerateThumbnail(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	params, ok := job.Params.Data.(models.ThumbnailParams)
	if !ok {
		return nil, apperr.Validation("job %s has no thumbnail parameters", job.ID)
	}

	ws, cleanup, err := h.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	report(progress, 50)

	at := thumbnailTime(params.AtSeconds, ws.asset.Duration)
	output := ws.path("thumbnail.jpg")
	if err := h.tools.Frames.ExtractThumbnail(ctx, ws.input, output, at, params.Width); err != nil {
		return nil, fmt.Errorf("failed to extract thumbnail: %w", err)
	}

	key := storage.ThumbnailKey(job.AssetID, at)
	if err := h.upload(ctx, key, output); err != nil {
		return nil, err
	}

	return models.ThumbnailResult{Path: key, Width: params.Width}, nil
}

// thumbnailTime keeps the requested time inside short videos
func thumbnailTime(at, duration float64) float64 {
	if at < 0 {
		at = 0
	}
	if duration > 0 && at >= duration {
		return duration / 2
	}
	return at
}
