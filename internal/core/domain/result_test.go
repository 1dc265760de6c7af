package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseResultDocumentToleratesGarbage(t *testing.T) {
	inputs := []string{"", "   ", "not json", "[1,2,3]", "null", `"text"`}
	for _, input := range inputs {
		doc := ParseResultDocument([]byte(input))
		if len(doc.Keys()) != 0 {
			t.Fatalf("expected empty document for %q, got keys %v", input, doc.Keys())
		}
		raw, _, err := doc.Encode(0)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if string(raw) != "{}" {
			t.Fatalf("expected {}, got %s", raw)
		}
	}
}

func TestParseResultDocumentDropsNullKeys(t *testing.T) {
	doc := ParseResultDocument([]byte(`{"ocr":null,"charts":[]}`))
	if doc.Has(KeyOCR) {
		t.Fatalf("null sub-document must be treated as absent")
	}
	if !doc.Has(KeyCharts) {
		t.Fatalf("expected charts to be kept")
	}
	if got := doc.OCR(); got.Images == nil {
		t.Fatalf("expected non-nil images slice for absent ocr")
	}
}

func TestPutReplacesOnlyItsKey(t *testing.T) {
	doc := ParseResultDocument([]byte(`{"legacy":{"keep":true},"ocr":{"text":"old"}}`))
	if err := doc.Put(KeyTranscription, TranscriptionResult{Summary: "- a.mp3: ola"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := doc.Put(KeyOCR, OCRResult{Text: "new"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	roundTrip := ParseResultDocument(mustEncode(t, doc))
	if string(roundTrip.Raw("legacy")) != `{"keep":true}` {
		t.Fatalf("unknown key not preserved: %s", roundTrip.Raw("legacy"))
	}
	if roundTrip.OCR().Text != "new" {
		t.Fatalf("expected replaced ocr text, got %q", roundTrip.OCR().Text)
	}
	if roundTrip.Transcription().Summary != "- a.mp3: ola" {
		t.Fatalf("unexpected transcription summary %q", roundTrip.Transcription().Summary)
	}
}

func TestEncodeSlimsOversizedDocument(t *testing.T) {
	doc := NewResultDocument()
	_ = doc.Put(KeyOCR, OCRResult{Text: strings.Repeat("x", 5000)})
	_ = doc.Put(KeyClassification, ClassificationRecord{Output: Classification{
		Category: "saude",
		Priority: "alta",
		Tags:     []string{"posto"},
		Summary:  "Falta de medico",
	}})
	charts := make([]ChartDataset, 0, 9)
	for i := 0; i < 9; i++ {
		charts = append(charts, ChartDataset{ID: "c", Kind: "bar", Labels: []string{"a"}, Values: []float64{1}})
	}
	_ = doc.Put(KeyCharts, charts)

	raw, slimmed, err := doc.Encode(1000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !slimmed {
		t.Fatalf("expected slimmed output")
	}

	var slim map[string]json.RawMessage
	if err := json.Unmarshal(raw, &slim); err != nil {
		t.Fatalf("slim output must be valid json: %v", err)
	}
	if len(slim) != 5 {
		t.Fatalf("expected exactly 5 slim keys, got %d: %s", len(slim), raw)
	}
	var decoded SlimDocument
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode slim: %v", err)
	}
	if decoded.Category != "saude" || decoded.Priority != "alta" || decoded.Summary != "Falta de medico" {
		t.Fatalf("unexpected slim projection: %+v", decoded)
	}
	if len(decoded.Charts) != 6 {
		t.Fatalf("expected 6 charts, got %d", len(decoded.Charts))
	}

	again, _, _ := doc.Encode(1000)
	if string(again) != string(raw) {
		t.Fatalf("slimming must be deterministic")
	}
}

func TestSlimWithoutClassificationUsesPlaceholders(t *testing.T) {
	doc := NewResultDocument()
	_ = doc.Put(KeyOCR, OCRResult{Text: strings.Repeat("x", 5000)})

	raw, slimmed, err := doc.Encode(1000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !slimmed {
		t.Fatalf("expected slimmed output")
	}
	var decoded SlimDocument
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode slim: %v", err)
	}
	if decoded.Category != PlaceholderCategory || decoded.Priority != PriorityLow {
		t.Fatalf("expected placeholder category and priority, got %+v", decoded)
	}
}

func TestEncodeKeepsSmallDocument(t *testing.T) {
	doc := NewResultDocument()
	_ = doc.Put(KeyOCR, OCRResult{Text: "curto"})
	raw, slimmed, err := doc.Encode(60000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if slimmed {
		t.Fatalf("did not expect slimming")
	}
	if !ParseResultDocument(raw).Has(KeyOCR) {
		t.Fatalf("expected ocr key in full encoding")
	}
}

func TestTruncateIsRuneAware(t *testing.T) {
	if got := Truncate("  ação  ", 10); got != "ação" {
		t.Fatalf("unexpected trim result %q", got)
	}
	if got := Truncate("çççççççççç", 6); got != "ççç..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Cap("abcdef", 3); got != "abc..." {
		t.Fatalf("unexpected cap %q", got)
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  a \t  b\n\n\n\nc  ")
	if got != "a b\n\nc" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
}

func mustEncode(t *testing.T, doc *ResultDocument) []byte {
	t.Helper()
	raw, _, err := doc.Encode(0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}
