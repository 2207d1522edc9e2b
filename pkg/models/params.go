package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JobParams is implemented by the per-type job parameter structs
type JobParams interface {
	JobType() JobType
}

// JobResult is implemented by the per-type job output structs
type JobResult interface {
	JobType() JobType
}

// TranscodeParams configures one rendition
type TranscodeParams struct {
	Resolution string `json:"resolution"`
	Quality    string `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	Codec      string `json:"codec,omitempty"`
	Bitrate    int64  `json:"bitrate,omitempty"`
}

func (TranscodeParams) JobType() JobType { return JobTypeVideoTranscoding }

// SubtitleParams configures caption generation for one language/format pair
type SubtitleParams struct {
	Language string         `json:"language"`
	Format   SubtitleFormat `json:"format"`
}

func (SubtitleParams) JobType() JobType { return JobTypeSubtitleGeneration }

// MetadataParams configures metadata extraction
type MetadataParams struct{}

func (MetadataParams) JobType() JobType { return JobTypeMetadataExtraction }

// ThumbnailParams configures poster frame extraction
type ThumbnailParams struct {
	AtSeconds float64 `json:"at_seconds"`
	Width     int     `json:"width,omitempty"`
}

func (ThumbnailParams) JobType() JobType { return JobTypeThumbnailGeneration }

// TranscodeResult describes a produced rendition
type TranscodeResult struct {
	Path       string `json:"path"`
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bitrate    int64  `json:"bitrate"`
	Size       int64  `json:"size"`
}

func (TranscodeResult) JobType() JobType { return JobTypeVideoTranscoding }

// SubtitleResult describes a produced subtitle file
type SubtitleResult struct {
	Path       string         `json:"path"`
	Language   string         `json:"language"`
	Format     SubtitleFormat `json:"format"`
	Confidence float64        `json:"confidence"`
	WordCount  int            `json:"word_count"`
}

func (SubtitleResult) JobType() JobType { return JobTypeSubtitleGeneration }

// MetadataResult carries the probed attributes of the original
type MetadataResult struct {
	MediaAttributes
	Path string `json:"path,omitempty"`
}

func (MetadataResult) JobType() JobType { return JobTypeMetadataExtraction }

// ThumbnailResult describes a produced poster frame
type ThumbnailResult struct {
	Path  string `json:"path"`
	Width int    `json:"width"`
}

func (ThumbnailResult) JobType() JobType { return JobTypeThumbnailGeneration }

// ArtifactPath returns the storage path of the produced file, if any
func ArtifactPath(r JobResult) string {
	switch v := r.(type) {
	case TranscodeResult:
		return v.Path
	case *TranscodeResult:
		return v.Path
	case SubtitleResult:
		return v.Path
	case *SubtitleResult:
		return v.Path
	case MetadataResult:
		return v.Path
	case *MetadataResult:
		return v.Path
	case ThumbnailResult:
		return v.Path
	case *ThumbnailResult:
		return v.Path
	}
	return ""
}

type envelope struct {
	Type JobType         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Params is the tagged union of job parameters, encoded as {"type","data"}
type Params struct {
	Data JobParams
}

// NewParams wraps p
func NewParams(p JobParams) Params {
	return Params{Data: p}
}

// MarshalJSON implements json.Marshaler
func (p Params) MarshalJSON() ([]byte, error) {
	if p.Data == nil {
		return []byte("null"), nil
	}
	return marshalEnvelope(p.Data.JobType(), p.Data)
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Params) UnmarshalJSON(b []byte) error {
	env, ok, err := unmarshalEnvelope(b)
	if err != nil || !ok {
		p.Data = nil
		return err
	}

	var target JobParams
	switch env.Type {
	case JobTypeVideoTranscoding:
		var v TranscodeParams
		err = json.Unmarshal(env.Data, &v)
		target = v
	case JobTypeSubtitleGeneration:
		var v SubtitleParams
		err = json.Unmarshal(env.Data, &v)
		target = v
	case JobTypeMetadataExtraction:
		target = MetadataParams{}
	case JobTypeThumbnailGeneration:
		var v ThumbnailParams
		err = json.Unmarshal(env.Data, &v)
		target = v
	default:
		return fmt.Errorf("unknown job parameter type %q", env.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s parameters: %w", env.Type, err)
	}
	p.Data = target
	return nil
}

// Value implements driver.Valuer for database storage
func (p Params) Value() (driver.Value, error) {
	return p.MarshalJSON()
}

// Scan implements sql.Scanner for database retrieval
func (p *Params) Scan(value interface{}) error {
	b, err := columnBytes(value)
	if err != nil || b == nil {
		return err
	}
	return p.UnmarshalJSON(b)
}

// Result is the tagged union of job outputs, encoded as {"type","data"}
type Result struct {
	Data JobResult
}

// NewResult wraps r
func NewResult(r JobResult) Result {
	return Result{Data: r}
}

// IsZero reports whether no result is set
func (r Result) IsZero() bool {
	return r.Data == nil
}

// MarshalJSON implements json.Marshaler
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Data == nil {
		return []byte("null"), nil
	}
	return marshalEnvelope(r.Data.JobType(), r.Data)
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Result) UnmarshalJSON(b []byte) error {
	env, ok, err := unmarshalEnvelope(b)
	if err != nil || !ok {
		r.Data = nil
		return err
	}

	var target JobResult
	switch env.Type {
	case JobTypeVideoTranscoding:
		var v TranscodeResult
		err = json.Unmarshal(env.Data, &v)
		target = v
	case JobTypeSubtitleGeneration:
		var v SubtitleResult
		err = json.Unmarshal(env.Data, &v)
		target = v
	case JobTypeMetadataExtraction:
		var v MetadataResult
		err = json.Unmarshal(env.Data, &v)
		target = v
	case JobTypeThumbnailGeneration:
		var v ThumbnailResult
		err = json.Unmarshal(env.Data, &v)
		target = v
	default:
		return fmt.Errorf("unknown job result type %q", env.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s result: %w", env.Type, err)
	}
	r.Data = target
	return nil
}

// Value implements driver.Valuer for database storage
func (r Result) Value() (driver.Value, error) {
	if r.Data == nil {
		return nil, nil
	}
	return r.MarshalJSON()
}

// Scan implements sql.Scanner for database retrieval
func (r *Result) Scan(value interface{}) error {
	b, err := columnBytes(value)
	if err != nil || b == nil {
		return err
	}
	return r.UnmarshalJSON(b)
}

func marshalEnvelope(t JobType, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: t, Data: data})
}

func unmarshalEnvelope(b []byte) (envelope, bool, error) {
	var env envelope
	if len(b) == 0 || string(b) == "null" {
		return env, false, nil
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return env, false, err
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	return env, true, nil
}

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported json column type %T", value)
}
