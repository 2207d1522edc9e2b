package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/apperr"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// AssetStore is the part of the asset service handlers depend on
type AssetStore interface {
	GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error)
	UpsertSubtitle(ctx context.Context, subtitle *models.Subtitle) error
}

// Prober reads media attributes from a local file
type Prober interface {
	Probe(ctx context.Context, path string) (models.MediaAttributes, error)
}

// Encoder produces a rendition of a local file
type Encoder interface {
	Transcode(ctx context.Context, opts transcoder.TranscodeOptions, progressCB transcoder.ProgressCallback) error
}

// FrameExtractor grabs a still frame from a local file
type FrameExtractor interface {
	ExtractThumbnail(ctx context.Context, inputPath, outputPath string, timeSeconds float64, width int) error
}

// AudioExtractor writes the audio track of a local file as WAV
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, inputPath, outputPath string) error
}

// Transcriber turns speech into a subtitle file
type Transcriber interface {
	Transcribe(ctx context.Context, audioFile, language string, format models.SubtitleFormat, outputDir string) (*transcoder.Transcript, error)
}

// Tools bundles the external programs handlers run
type Tools struct {
	Prober      Prober
	Encoder     Encoder
	Frames      FrameExtractor
	Audio       AudioExtractor
	Transcriber Transcriber
}

// FFmpegTools wires every tool except transcription to one FFmpeg instance
func FFmpegTools(ffmpeg *transcoder.FFmpeg, whisper *transcoder.Whisper) Tools {
	return Tools{
		Prober:      ffmpeg,
		Encoder:     ffmpeg,
		Frames:      ffmpeg,
		Audio:       ffmpeg,
		Transcriber: whisper,
	}
}

// Handlers executes jobs against storage and the media tools
type Handlers struct {
	assets  AssetStore
	store   storage.ObjectStore
	tools   Tools
	tempDir string
	logger  *logging.Logger
}

// NewHandlers creates job handlers working under tempDir
func NewHandlers(assets AssetStore, store storage.ObjectStore, tools Tools, tempDir string, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handlers{
		assets:  assets,
		store:   store,
		tools:   tools,
		tempDir: tempDir,
		logger:  logger,
	}
}

// workspace is the scratch directory of one job attempt
type workspace struct {
	dir   string
	asset *models.VideoAsset
	input string
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// prepare downloads the original of the job's asset into a fresh scratch
// directory. The caller must call cleanup.
func (h *Handlers) prepare(ctx context.Context, job *models.Job) (*workspace, func(), error) {
	asset, err := h.assets.GetAsset(ctx, job.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.StoragePath == "" {
		return nil, nil, apperr.InvalidState("asset %s has no stored original", asset.ID)
	}

	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(h.tempDir, job.ID+"-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			h.logger.WithJobID(job.ID).WithError(err).Warn("Failed to remove job workspace")
		}
	}

	ws := &workspace{
		dir:   dir,
		asset: asset,
		input: filepath.Join(dir, "original"+filepath.Ext(asset.StoragePath)),
	}
	if err := h.store.DownloadFile(ctx, asset.StoragePath, ws.input); err != nil {
		cleanup()
		return nil, nil, apperr.Transient(fmt.Errorf("failed to download original: %w", err))
	}
	return ws, cleanup, nil
}

func (h *Handlers) upload(ctx context.Context, key, path string) error {
	if err := h.store.UploadFile(ctx, key, path); err != nil {
		return apperr.Transient(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func report(progress func(float64), value float64) {
	if progress != nil {
		progress(value)
	}
}
