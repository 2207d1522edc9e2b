package models

import (
	"encoding/json"
	"testing"
)

func TestMetadataValue(t *testing.T) {
	meta := Metadata{
		"key1": "value1",
		"key2": 123,
	}

	value, err := meta.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(value.([]byte), &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if result["key1"] != "value1" {
		t.Errorf("Expected key1=value1, got %v", result["key1"])
	}
}

func TestMetadataScan(t *testing.T) {
	var meta Metadata
	if err := meta.Scan([]byte(`{"key1":"value1","key2":123}`)); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}

	if meta["key1"] != "value1" {
		t.Errorf("Expected key1=value1, got %v", meta["key1"])
	}

	if val, ok := meta["key2"].(float64); !ok || val != 123 {
		t.Errorf("Expected key2=123, got %v", meta["key2"])
	}

	var fromString Metadata
	if err := fromString.Scan(`{"a":"b"}`); err != nil {
		t.Fatalf("Failed to scan string: %v", err)
	}
	if fromString["a"] != "b" {
		t.Errorf("Expected a=b, got %v", fromString["a"])
	}
}

func TestMetadataScanNil(t *testing.T) {
	var meta Metadata
	if err := meta.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil: %v", err)
	}

	if len(meta) != 0 {
		t.Error("Expected empty metadata after scanning nil")
	}
}

func TestParamsDecodeSelectsVariant(t *testing.T) {
	raw := []byte(`{"type":"subtitle_generation","data":{"language":"en","format":"vtt"}}`)

	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("Failed to decode params: %v", err)
	}

	sub, ok := p.Data.(SubtitleParams)
	if !ok {
		t.Fatalf("Expected SubtitleParams, got %T", p.Data)
	}
	if sub.Language != "en" || sub.Format != SubtitleFormatVTT {
		t.Errorf("Unexpected subtitle params %+v", sub)
	}
}

func TestParamsEncodeCarriesType(t *testing.T) {
	p := NewParams(TranscodeParams{Resolution: "720p", Format: "mp4"})

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Failed to encode params: %v", err)
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.Type != string(JobTypeVideoTranscoding) {
		t.Errorf("Expected type %s, got %s", JobTypeVideoTranscoding, env.Type)
	}
}

func TestParamsRejectsUnknownType(t *testing.T) {
	var p Params
	if err := json.Unmarshal([]byte(`{"type":"audio_mastering","data":{}}`), &p); err == nil {
		t.Error("Expected error for unknown job type")
	}
}

func TestResultScanNull(t *testing.T) {
	var r Result
	if err := r.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil result: %v", err)
	}
	if !r.IsZero() {
		t.Error("Expected zero result")
	}

	if err := r.Scan([]byte(`{"type":"thumbnail_generation","data":{"path":"a.jpg","width":320}}`)); err != nil {
		t.Fatalf("Failed to scan thumbnail result: %v", err)
	}
	if ArtifactPath(r.Data) != "a.jpg" {
		t.Errorf("Expected artifact path a.jpg, got %q", ArtifactPath(r.Data))
	}
}

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestWorkflowStatusValid(t *testing.T) {
	for _, s := range []WorkflowStatus{
		WorkflowStatusDraft, WorkflowStatusReview, WorkflowStatusApproved,
		WorkflowStatusPublished, WorkflowStatusArchived,
	} {
		if !s.Valid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if WorkflowStatus("deleted").Valid() {
		t.Error("Expected unknown status to be invalid")
	}
}

func TestDeriveStatus(t *testing.T) {
	job := func(status JobStatus) *Job {
		return &Job{Type: JobTypeVideoTranscoding, Status: status}
	}

	tests := []struct {
		name     string
		jobs     []*Job
		expected AggregateStatus
	}{
		{"no jobs", nil, AggregateStatusPending},
		{"all completed", []*Job{job(JobStatusCompleted), job(JobStatusCompleted)}, AggregateStatusCompleted},
		{"one processing", []*Job{job(JobStatusCompleted), job(JobStatusProcessing)}, AggregateStatusProcessing},
		{"failed with pending sibling", []*Job{job(JobStatusFailed), job(JobStatusPending)}, AggregateStatusPending},
		{"failed with processing sibling", []*Job{job(JobStatusFailed), job(JobStatusProcessing)}, AggregateStatusProcessing},
		{"failed and settled", []*Job{job(JobStatusFailed), job(JobStatusCompleted)}, AggregateStatusFailed},
		{"cancelled sibling of completed", []*Job{job(JobStatusCompleted), job(JobStatusCancelled)}, AggregateStatusCompleted},
		{"cancelled sibling of failed", []*Job{job(JobStatusFailed), job(JobStatusCancelled)}, AggregateStatusFailed},
		{"cancelled sibling of pending", []*Job{job(JobStatusPending), job(JobStatusCancelled)}, AggregateStatusPending},
		{"all cancelled", []*Job{job(JobStatusCancelled), job(JobStatusCancelled)}, AggregateStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.jobs); got != tt.expected {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestProcessingStatusFor(t *testing.T) {
	jobs := []*Job{
		{Type: JobTypeSubtitleGeneration, Status: JobStatusProcessing},
		{Type: JobTypeVideoTranscoding, Status: JobStatusPending},
	}
	if got := ProcessingStatusFor(AggregateStatusProcessing, jobs); got != ProcessingStatusSubtitleGeneration {
		t.Errorf("Expected subtitle_generation, got %s", got)
	}

	jobs[1].Status = JobStatusProcessing
	if got := ProcessingStatusFor(AggregateStatusProcessing, jobs); got != ProcessingStatusTranscoding {
		t.Errorf("Expected transcoding, got %s", got)
	}
	if got := ProcessingStatusFor(AggregateStatusFailed, jobs); got != ProcessingStatusFailed {
		t.Errorf("Expected failed, got %s", got)
	}
	if got := ProcessingStatusFor(AggregateStatusPending, jobs); got != ProcessingStatusPending {
		t.Errorf("Expected pending, got %s", got)
	}
}
