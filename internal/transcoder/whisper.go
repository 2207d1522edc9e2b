package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// Whisper runs the whisper speech recognition CLI
type Whisper struct {
	path  string
	model string
}

// NewWhisper creates a whisper runner
func NewWhisper(path, model string) *Whisper {
	if model == "" {
		model = "base"
	}
	return &Whisper{path: path, model: model}
}

// Transcript is a generated subtitle file and its quality figures
type Transcript struct {
	Path       string
	WordCount  int
	Confidence float64
}

type whisperReport struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe writes subtitles for audioFile into outputDir in the requested
// format
func (w *Whisper) Transcribe(ctx context.Context, audioFile, language string, format models.SubtitleFormat, outputDir string) (*Transcript, error) {
	if _, err := exec.LookPath(w.path); err != nil {
		return nil, fmt.Errorf("whisper CLI not found: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		audioFile,
		"--output_format", "all",
		"--output_dir", outputDir,
		"--model", w.model,
		"--fp16", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, w.path, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("whisper command failed: %w: %s", err, tail(string(out), 2048))
	}

	baseName := strings.TrimSuffix(filepath.Base(audioFile), filepath.Ext(audioFile))
	report, err := os.ReadFile(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript report: %w", err)
	}

	transcript, err := parseWhisperReport(report)
	if err != nil {
		return nil, err
	}

	transcript.Path = filepath.Join(outputDir, baseName+"."+string(format))
	if _, err := os.Stat(transcript.Path); err != nil {
		return nil, fmt.Errorf("whisper produced no %s output: %w", format, err)
	}
	return transcript, nil
}

// parseWhisperReport derives word count and a 0..1 confidence from the
// mean segment log probability
func parseWhisperReport(data []byte) (*Transcript, error) {
	var report whisperReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse transcript report: %w", err)
	}

	t := &Transcript{WordCount: len(strings.Fields(report.Text))}
	if len(report.Segments) > 0 {
		var sum float64
		for _, seg := range report.Segments {
			sum += seg.AvgLogprob
		}
		t.Confidence = math.Exp(sum / float64(len(report.Segments)))
		if t.Confidence > 1 {
			t.Confidence = 1
		}
	}
	return t, nil
}
