package processing

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// GenerateSubtitles transcribes the original's speech into a subtitle track
// and records it on the asset
func (h *Handlers) GenerateSubtitles(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	params, ok := job.Params.Data.(models.SubtitleParams)
	if !ok {
		return nil, apperr.Validation("job %s has no subtitle parameters", job.ID)
	}
	if params.Language == "" {
		return nil, apperr.Validation("subtitle language is required")
	}
	format := params.Format
	if format == "" {
		format = models.SubtitleFormatVTT
	}
	if !format.Valid() {
		return nil, apperr.Validation("unsupported subtitle format %q", format)
	}

	ws, cleanup, err := h.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	report(progress, 10)

	audio := ws.path("audio.wav")
	if err := h.tools.Audio.ExtractAudio(ctx, ws.input, audio); err != nil {
		return nil, fmt.Errorf("failed to extract audio: %w", err)
	}
	report(progress, 30)

	transcript, err := h.tools.Transcriber.Transcribe(ctx, audio, params.Language, format, ws.path("subtitles"))
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	report(progress, 90)

	key := storage.SubtitleKey(job.AssetID, params.Language, format)
	if err := h.upload(ctx, key, transcript.Path); err != nil {
		return nil, err
	}

	subtitle := &models.Subtitle{
		AssetID:         job.AssetID,
		Language:        params.Language,
		Format:          format,
		Path:            key,
		ConfidenceScore: transcript.Confidence,
		WordCount:       transcript.WordCount,
		Status:          models.SubtitleStatusCompleted,
	}
	if err := h.assets.UpsertSubtitle(ctx, subtitle); err != nil {
		return nil, fmt.Errorf("failed to record subtitle: %w", err)
	}

	h.logger.WithJobID(job.ID).WithAssetID(job.AssetID).WithFields(map[string]interface{}{
		"language":   params.Language,
		"words":      transcript.WordCount,
		"confidence": transcript.Confidence,
	}).Info("Subtitles generated")

	return models.SubtitleResult{
		Path:       key,
		Language:   params.Language,
		Format:     format,
		Confidence: transcript.Confidence,
		WordCount:  transcript.WordCount,
	}, nil
}
