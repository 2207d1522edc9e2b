package processing

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// download and upload take a share of the reported progress
const (
	downloadedProgress = 5
	encodedProgress    = 95
)

// Transcode produces one rendition of the original
func (h *Handlers) Transcode(ctx context.Context, job *models.Job, progress func(float64)) (models.JobResult, error) {
	params, ok := job.Params.Data.(models.TranscodeParams)
	if !ok {
		return nil, apperr.Validation("job %s has no transcode parameters", job.ID)
	}
	profile, err := transcoder.ParseResolution(params.Resolution)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	format := params.Format
	if format == "" {
		format = "mp4"
	}
	bitrate := params.Bitrate
	if bitrate <= 0 {
		bitrate = profile.VideoBitrate
	}

	ws, cleanup, err := h.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	report(progress, downloadedProgress)

	output := ws.path(fmt.Sprintf("%s.%s", profile.Name, format))
	opts := transcoder.TranscodeOptions{
		InputPath:    ws.input,
		OutputPath:   output,
		Width:        profile.Width,
		Height:       profile.Height,
		VideoBitrate: bitrate,
		AudioBitrate: profile.AudioBitrate,
		VideoCodec:   params.Codec,
		Preset:       presetFor(params.Quality),
	}
	err = h.tools.Encoder.Transcode(ctx, opts, func(p float64) {
		report(progress, downloadedProgress+p*(encodedProgress-downloadedProgress)/100)
	})
	if err != nil {
		return nil, fmt.Errorf("transcode to %s failed: %w", profile.Name, err)
	}

	result := models.TranscodeResult{
		Resolution: params.Resolution,
		Width:      profile.Width,
		Height:     profile.Height,
		Bitrate:    bitrate,
		Size:       fileSize(output),
	}
	// the encoder keeps the source aspect ratio, so the real frame size may differ
	if attrs, err := h.tools.Prober.Probe(ctx, output); err == nil && attrs.Width > 0 {
		result.Width = attrs.Width
		result.Height = attrs.Height
		if attrs.Bitrate > 0 {
			result.Bitrate = attrs.Bitrate
		}
	}

	result.Path = storage.RenditionKey(job.AssetID, params.Resolution, format)
	if err := h.upload(ctx, result.Path, output); err != nil {
		return nil, err
	}

	h.logger.WithJobID(job.ID).WithAssetID(job.AssetID).WithFields(map[string]interface{}{
		"resolution": params.Resolution,
		"size":       result.Size,
	}).Info("Rendition produced")
	return result, nil
}

func presetFor(quality string) string {
	switch quality {
	case "high":
		return "slow"
	case "low":
		return "veryfast"
	default:
		return "medium"
	}
}
