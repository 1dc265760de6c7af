package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Top-level keys of the per-submission result document.
const (
	KeyOCR            = "ocr"
	KeyTranscription  = "transcription"
	KeyClassification = "classification"
	KeyCharts         = "charts"
)

const (
	PlaceholderCategory = "nao_classificado"
	slimChartLimit      = 6
)

// ResultDocument is the merge target shared by all enrichment stages. Each stage owns one key and
// replaces it wholesale; keys written by other stages, known or not, pass through untouched.
type ResultDocument struct {
	fields map[string]json.RawMessage
}

func NewResultDocument() *ResultDocument {
	return &ResultDocument{fields: make(map[string]json.RawMessage)}
}

// ParseResultDocument never fails: empty, malformed or non-object input gives an empty document.
func ParseResultDocument(raw []byte) *ResultDocument {
	doc := NewResultDocument()
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return doc
	}
	for key, value := range fields {
		if len(value) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		doc.fields[key] = value
	}
	return doc
}

func (d *ResultDocument) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

func (d *ResultDocument) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for key := range d.fields {
		keys = append(keys, key)
	}
	return keys
}

// Put replaces the sub-document stored under key.
func (d *ResultDocument) Put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s sub-document: %w", key, err)
	}
	d.fields[key] = raw
	return nil
}

// Decode unmarshals the sub-document under key into dst and reports whether it was usable.
func (d *ResultDocument) Decode(key string, dst any) bool {
	raw, ok := d.fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Raw returns the stored bytes of a sub-document, nil when absent.
func (d *ResultDocument) Raw(key string) json.RawMessage {
	return d.fields[key]
}

func (d *ResultDocument) Clone() *ResultDocument {
	out := NewResultDocument()
	for key, value := range d.fields {
		out.fields[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

func (d *ResultDocument) OCR() OCRResult {
	var out OCRResult
	d.Decode(KeyOCR, &out)
	if out.Images == nil {
		out.Images = []OCRFileResult{}
	}
	return out
}

func (d *ResultDocument) Transcription() TranscriptionResult {
	var out TranscriptionResult
	d.Decode(KeyTranscription, &out)
	if out.Transcriptions == nil {
		out.Transcriptions = []TranscriptionFileResult{}
	}
	if out.Errors == nil {
		out.Errors = []StageFileError{}
	}
	return out
}

func (d *ResultDocument) Classification() (ClassificationRecord, bool) {
	var out ClassificationRecord
	ok := d.Decode(KeyClassification, &out)
	return out, ok
}

func (d *ResultDocument) Charts() []ChartDataset {
	var out []ChartDataset
	d.Decode(KeyCharts, &out)
	if out == nil {
		out = []ChartDataset{}
	}
	return out
}

func (d *ResultDocument) MarshalJSON() ([]byte, error) {
	if d == nil || d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

func (d *ResultDocument) UnmarshalJSON(raw []byte) error {
	parsed := ParseResultDocument(raw)
	d.fields = parsed.fields
	return nil
}

// SlimDocument is what is persisted instead of the full document once it outgrows the size cap.
type SlimDocument struct {
	Category string         `json:"category"`
	Priority string         `json:"priority"`
	Tags     []string       `json:"tags"`
	Summary  string         `json:"summary"`
	Charts   []ChartDataset `json:"charts"`
}

func (d *ResultDocument) Slim() SlimDocument {
	slim := SlimDocument{
		Category: PlaceholderCategory,
		Priority: PriorityLow,
		Tags:     []string{},
		Charts:   d.Charts(),
	}
	if record, ok := d.Classification(); ok {
		if record.Output.Category != "" {
			slim.Category = record.Output.Category
		}
		if record.Output.Priority != "" {
			slim.Priority = record.Output.Priority
		}
		if record.Output.Tags != nil {
			slim.Tags = record.Output.Tags
		}
		slim.Summary = record.Output.Summary
	}
	if len(slim.Charts) > slimChartLimit {
		slim.Charts = slim.Charts[:slimChartLimit]
	}
	return slim
}

// Encode serializes the document. Past maxChars the slim projection is returned instead and
// slimmed is true; oversize never produces an error.
func (d *ResultDocument) Encode(maxChars int) (raw []byte, slimmed bool, err error) {
	raw, err = d.MarshalJSON()
	if err != nil {
		return nil, false, fmt.Errorf("marshal result document: %w", err)
	}
	if maxChars <= 0 || len([]rune(string(raw))) <= maxChars {
		return raw, false, nil
	}
	raw, err = json.Marshal(d.Slim())
	if err != nil {
		return nil, false, fmt.Errorf("marshal slim result document: %w", err)
	}
	return raw, true, nil
}

type OCRFileResult struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	Path         string `json:"path"`
	OK           bool   `json:"ok"`
	Text         string `json:"text,omitempty"`
	Error        string `json:"error,omitempty"`
}

type OCRResult struct {
	Images      []OCRFileResult `json:"images"`
	Text        string          `json:"text"`
	ProcessedAt time.Time       `json:"processed_at"`
}

type StageFileError struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	Error        string `json:"error"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the raw output of a speech recognizer for one audio track.
type Transcript struct {
	Language            string    `json:"language,omitempty"`
	LanguageProbability float64   `json:"language_probability,omitempty"`
	Duration            float64   `json:"duration,omitempty"`
	Segments            []Segment `json:"segments"`
}

type TranscriptionFileResult struct {
	FileID       string     `json:"file_id"`
	FileType     string     `json:"file_type"`
	MimeType     string     `json:"mime_type"`
	OriginalName string     `json:"original_name"`
	FilePath     string     `json:"file_path"`
	Text         string     `json:"text"`
	Meta         Transcript `json:"meta"`
}

type TranscriptionResult struct {
	Transcriptions []TranscriptionFileResult `json:"transcriptions"`
	Errors         []StageFileError          `json:"errors"`
	Summary        string                    `json:"summary"`
	ProcessedAt    time.Time                 `json:"processed_at"`
}

type ClassificationInput struct {
	CitizenText          string `json:"citizen_text"`
	OCRSummary           string `json:"ocr_summary"`
	TranscriptionSummary string `json:"transcription_summary"`
}

// ClassificationRecord is the classification sub-document, including the audited model exchange.
type ClassificationRecord struct {
	Input          ClassificationInput `json:"input"`
	Output         Classification      `json:"output"`
	Request        string              `json:"request"`
	RawModelOutput string              `json:"raw_model_output"`
	Model          string              `json:"model,omitempty"`
	Fallback       bool                `json:"fallback"`
	ClassifiedAt   time.Time           `json:"classified_at"`
}

type ChartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

type ChartDataset struct {
	ID     string        `json:"id"`
	Kind   string        `json:"kind"`
	Title  string        `json:"title"`
	Labels []string      `json:"labels"`
	Values []float64     `json:"values,omitempty"`
	Series []ChartSeries `json:"series,omitempty"`
}

// Analysis is the persisted row behind a result document, with the flattened classification
// columns kept for cheap querying.
type Analysis struct {
	SubmissionID string          `json:"submission_id"`
	Category     string          `json:"category"`
	Priority     string          `json:"priority"`
	Tags         []string        `json:"tags"`
	Summary      string          `json:"summary"`
	Model        string          `json:"model,omitempty"`
	Document     *ResultDocument `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ClassificationProjection struct {
	Category string
	Priority string
	Tags     []string
	Summary  string
	Model    string
}
