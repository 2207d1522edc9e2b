package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// ProbeVideo runs ffprobe on inputPath
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	out, err := run(ctx, f.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", inputPath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseProbeOutput(out)
}

// run executes a media tool and returns its stdout. A failure carries the
// tail of stderr.
func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, tail(stderr.String(), 2048))
	}
	return stdout.Bytes(), nil
}

// ParseProbeOutput decodes ffprobe's JSON report
func ParseProbeOutput(data []byte) (*VideoMetadata, error) {
	var metadata VideoMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &metadata, nil
}

// Attributes reduces probe output to the attributes stored on an asset.
// Unparseable numbers are left at zero.
func (m *VideoMetadata) Attributes() models.MediaAttributes {
	attrs := models.MediaAttributes{ContainerFormat: m.Format.FormatName}
	attrs.Duration, _ = strconv.ParseFloat(m.Format.Duration, 64)
	attrs.Bitrate, _ = strconv.ParseInt(m.Format.BitRate, 10, 64)
	if v := m.videoStream(); v != nil {
		attrs.Width, attrs.Height = v.Width, v.Height
	}
	attrs.FrameRate = m.FrameRate()
	attrs.HasAudio = m.HasAudio()
	return attrs
}

func (m *VideoMetadata) videoStream() *StreamInfo {
	for i := range m.Streams {
		if m.Streams[i].CodecType == "video" {
			return &m.Streams[i]
		}
	}
	return nil
}

// FrameRate returns the average frame rate of the first video stream
func (m *VideoMetadata) FrameRate() float64 {
	v := m.videoStream()
	if v == nil {
		return 0
	}
	num, den, ok := strings.Cut(v.AvgFrameRate, "/")
	if !ok {
		return 0
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}

// HasAudio reports whether the file carries an audio stream
func (m *VideoMetadata) HasAudio() bool {
	for _, stream := range m.Streams {
		if stream.CodecType == "audio" {
			return true
		}
	}
	return false
}

// Probe returns the media attributes of a file
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (models.MediaAttributes, error) {
	metadata, err := f.ProbeVideo(ctx, inputPath)
	if err != nil {
		return models.MediaAttributes{}, err
	}
	return metadata.Attributes(), nil
}

// TranscodeOptions holds transcoding options
type TranscodeOptions struct {
	InputPath    string
	OutputPath   string
	Width        int
	Height       int
	VideoBitrate int64
	AudioBitrate int
	VideoCodec   string
	AudioCodec   string
	Preset       string
}

// ProgressCallback is called with progress updates
type ProgressCallback func(progress float64)

var progressRegex = regexp.MustCompile(`out_time_ms=(\d+)`)

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// buildTranscodeArgs returns the ffmpeg arguments for opts. Output is an
// H.264/AAC MP4 with the moov atom up front, progress goes to stdout.
func buildTranscodeArgs(opts TranscodeOptions) []string {
	args := []string{"-i", opts.InputPath, "-y", "-c:v", orDefault(opts.VideoCodec, "libx264")}
	if opts.VideoBitrate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(opts.VideoBitrate, 10))
	}
	if opts.Width > 0 && opts.Height > 0 {
		// fit inside the target box, even dimensions for yuv420p
		args = append(args, "-vf", fmt.Sprintf(
			"scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=ceil(iw/2)*2:ceil(ih/2)*2",
			opts.Width, opts.Height))
	}
	args = append(args,
		"-preset", orDefault(opts.Preset, "medium"),
		"-c:a", orDefault(opts.AudioCodec, "aac"),
	)
	if opts.AudioBitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(opts.AudioBitrate))
	}
	return append(args, "-movflags", "+faststart", "-progress", "pipe:1", "-nostats", opts.OutputPath)
}

// parseProgress converts an ffmpeg progress line into a percentage of
// totalDuration. ok is false for lines that carry no position.
func parseProgress(line string, totalDuration float64) (float64, bool) {
	matches := progressRegex.FindStringSubmatch(line)
	if len(matches) < 2 || totalDuration <= 0 {
		return 0, false
	}
	timeMs, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	currentTime := timeMs / 1000000.0 // out_time_ms is in microseconds
	progress := (currentTime / totalDuration) * 100
	if progress > 100 {
		progress = 100
	}
	return progress, true
}

// Transcode transcodes a video file with progress tracking
func (f *FFmpeg) Transcode(ctx context.Context, opts TranscodeOptions, progressCB ProgressCallback) error {
	// Get total duration for progress calculation
	metadata, err := f.ProbeVideo(ctx, opts.InputPath)
	if err != nil {
		return fmt.Errorf("failed to probe video: %w", err)
	}

	totalDuration, _ := strconv.ParseFloat(metadata.Format.Duration, 64)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, buildTranscodeArgs(opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Parse progress
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if progress, ok := parseProgress(scanner.Text(), totalDuration); ok && progressCB != nil {
				progressCB(progress)
			}
		}
	}()

	// Capture stderr for error reporting
	var stderrBuf bytes.Buffer
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text() + "\n")
		}
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderrBuf.String(), 2048))
	}

	// Final progress update
	if progressCB != nil {
		progressCB(100)
	}

	return nil
}

// ExtractThumbnail writes the frame at timeSeconds as an image, scaled to
// width when width is positive
func (f *FFmpeg) ExtractThumbnail(ctx context.Context, inputPath, outputPath string, timeSeconds float64, width int) error {
	args := []string{"-ss", fmt.Sprintf("%.2f", timeSeconds), "-i", inputPath, "-vframes", "1", "-q:v", "2"}
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	if _, err := run(ctx, f.ffmpegPath, append(args, "-y", outputPath)...); err != nil {
		return fmt.Errorf("thumbnail extraction: %w", err)
	}
	return nil
}

// ExtractAudio writes the first audio track as 16kHz mono WAV, the input
// format speech recognition expects
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	_, err := run(ctx, f.ffmpegPath,
		"-i", inputPath, "-map", "0:a:0", "-vn",
		"-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		"-y", outputPath)
	if err != nil {
		return fmt.Errorf("audio extraction: %w", err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
