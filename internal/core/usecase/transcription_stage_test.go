package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

func TestTranscriptionStageHandlesAudioAndVideo(t *testing.T) {
	sub := &domain.Submission{ID: "sub-1", Files: []domain.File{
		{ID: "a1", Category: "audio", MimeType: "audio/mpeg", OriginalName: "relato.mp3", StoragePath: "sub-1/a1.mp3"},
		{ID: "v1", Category: "video", MimeType: "video/mp4", OriginalName: "rua.mp4", StoragePath: "sub-1/v1.mp4"},
		{ID: "i1", Category: "imagem", MimeType: "image/png", StoragePath: "sub-1/i1.png"},
	}}
	storage := newStorageFake(map[string]string{
		"sub-1/a1.mp3": "/up/sub-1/a1.mp3",
		"sub-1/v1.mp4": "/up/sub-1/v1.mp4",
	})
	converter := &converterFake{}
	recognizer := &recognizerFake{
		transcripts: map[string]domain.Transcript{
			"/up/sub-1/a1.mp3": {Language: "pt", Segments: []domain.Segment{
				{Start: 0, End: 1.5, Text: " Tem um buraco "},
				{Start: 1.5, End: 2, Text: "  "},
				{Start: 2, End: 3, Text: "na rua."},
			}},
		},
		fallback: &domain.Transcript{Language: "pt", Segments: []domain.Segment{{Start: 0, End: 1, Text: "video falado"}}},
	}
	results := newResultStoreFake()
	results.docs["sub-1"] = []byte(`{"ocr":{"text":"placa"}}`)
	stage := NewTranscriptionStage(newSubmissionRepoFake(sub), results, storage, converter, recognizer,
		TranscriptionStageConfig{TempDir: t.TempDir()}, nil)

	got, err := stage.Process(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got.Transcriptions) != 2 || len(got.Errors) != 0 {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.Transcriptions[0].Text != "Tem um buraco na rua." {
		t.Fatalf("unexpected audio text %q", got.Transcriptions[0].Text)
	}
	if len(got.Transcriptions[0].Meta.Segments) != 3 {
		t.Fatalf("expected all segments kept, got %d", len(got.Transcriptions[0].Meta.Segments))
	}
	if len(converter.calls) != 1 || converter.calls[0][0] != "/up/sub-1/v1.mp4" {
		t.Fatalf("expected one conversion for the video, got %v", converter.calls)
	}
	wav := converter.calls[0][1]
	if filepath.Base(wav) != "audio.wav" {
		t.Fatalf("unexpected wav path %s", wav)
	}
	if _, err := os.Stat(filepath.Dir(wav)); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed, stat err = %v", err)
	}
	wantSummary := "- relato.mp3: Tem um buraco na rua.\n- rua.mp4: video falado"
	if got.Summary != wantSummary {
		t.Fatalf("unexpected summary %q", got.Summary)
	}

	doc := domain.ParseResultDocument([]byte(results.raw("sub-1")))
	if doc.Transcription().Summary != wantSummary || doc.OCR().Text != "placa" {
		t.Fatalf("unexpected stored document %s", results.raw("sub-1"))
	}
}

func TestTranscriptionStageIsolatesFailures(t *testing.T) {
	sub := &domain.Submission{ID: "sub-1", Files: []domain.File{
		{ID: "missing", Category: "audio", OriginalName: "x.mp3", StoragePath: "gone.mp3"},
		{ID: "badvideo", Category: "video", OriginalName: "y.mp4", StoragePath: "y.mp4"},
		{ID: "badaudio", Category: "audio", OriginalName: "z.ogg", StoragePath: "z.ogg"},
	}}
	storage := newStorageFake(map[string]string{"y.mp4": "/y.mp4", "z.ogg": "/z.ogg"})
	converter := &converterFake{err: errors.New("ffmpeg exited with status 1")}
	recognizer := &recognizerFake{errs: map[string]error{"/z.ogg": errors.New("decoder failed")}}
	results := newResultStoreFake()
	stage := NewTranscriptionStage(newSubmissionRepoFake(sub), results, storage, converter, recognizer,
		TranscriptionStageConfig{TempDir: t.TempDir()}, nil)

	got, err := stage.Process(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got.Transcriptions) != 0 || len(got.Errors) != 3 {
		t.Fatalf("expected three isolated errors, got %+v", got)
	}
	if got.Errors[0].Error != "arquivo_nao_encontrado" {
		t.Fatalf("unexpected missing-file error %q", got.Errors[0].Error)
	}
	if !strings.Contains(got.Errors[1].Error, "extract audio") {
		t.Fatalf("unexpected conversion error %q", got.Errors[1].Error)
	}
	if !strings.Contains(got.Errors[2].Error, "decoder failed") {
		t.Fatalf("unexpected recognizer error %q", got.Errors[2].Error)
	}
	if got.Summary != "" {
		t.Fatalf("expected empty summary, got %q", got.Summary)
	}
	if results.saveCalls != 1 {
		t.Fatalf("expected the best-effort document to be written, got %d saves", results.saveCalls)
	}
}

func TestTranscriptionStageCapsFilesSegmentsAndText(t *testing.T) {
	files := make([]domain.File, 0, 6)
	paths := map[string]string{}
	for i := 0; i < 6; i++ {
		key := string(rune('a'+i)) + ".wav"
		files = append(files, domain.File{ID: key, Category: "audio", OriginalName: key, StoragePath: key})
		paths[key] = "/" + key
	}
	segments := make([]domain.Segment, 0, 50)
	for i := 0; i < 50; i++ {
		segments = append(segments, domain.Segment{Start: float64(i), End: float64(i + 1), Text: "palavra"})
	}
	recognizer := &recognizerFake{fallback: &domain.Transcript{Segments: segments}}
	stage := NewTranscriptionStage(
		newSubmissionRepoFake(&domain.Submission{ID: "sub-1", Files: files}),
		newResultStoreFake(),
		newStorageFake(paths),
		&converterFake{},
		recognizer,
		TranscriptionStageConfig{MaxFiles: 4, MaxSegments: 10, MaxTranscriptChars: 30},
		nil,
	)

	got, err := stage.Process(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recognizer.calls) != 4 || len(got.Transcriptions) != 4 {
		t.Fatalf("expected 4 files processed, got %d", len(recognizer.calls))
	}
	entry := got.Transcriptions[0]
	if len(entry.Meta.Segments) != 10 {
		t.Fatalf("expected 10 segments, got %d", len(entry.Meta.Segments))
	}
	if entry.Text != strings.Repeat("palavra ", 4)[:30]+"..." {
		t.Fatalf("unexpected capped text %q", entry.Text)
	}
	if !strings.HasSuffix(got.Summary, "...") || len([]rune(got.Summary)) != 33 {
		t.Fatalf("unexpected capped summary %q", got.Summary)
	}
}

func TestTranscriptionStageWithoutMediaSkipsWrite(t *testing.T) {
	sub := &domain.Submission{ID: "sub-1", Type: domain.SubmissionText, Text: "oi"}
	results := newResultStoreFake()
	stage := NewTranscriptionStage(newSubmissionRepoFake(sub), results, newStorageFake(nil), &converterFake{}, &recognizerFake{},
		TranscriptionStageConfig{}, nil)

	got, err := stage.Process(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Transcriptions == nil || got.Errors == nil {
		t.Fatalf("expected non-nil slices")
	}
	if results.ensureCalls != 1 || results.saveCalls != 0 {
		t.Fatalf("unexpected store usage ensure=%d save=%d", results.ensureCalls, results.saveCalls)
	}
}

func TestTranscriptionStageNamesUnnamedFilesByStoragePath(t *testing.T) {
	sub := &domain.Submission{ID: "sub-1", Files: []domain.File{
		{ID: "a1", Category: "audio", MimeType: "audio/ogg", StoragePath: "sub-1/a1.ogg"},
		{ID: "a2", Category: "audio", MimeType: "audio/mpeg", StoragePath: "sub-1/a2.mp3"},
	}}
	storage := newStorageFake(map[string]string{"sub-1/a1.ogg": "/up/sub-1/a1.ogg"})
	recognizer := &recognizerFake{
		fallback: &domain.Transcript{Language: "pt", Segments: []domain.Segment{{Start: 0, End: 1, Text: "lixo na calcada"}}},
	}
	results := newResultStoreFake()
	stage := NewTranscriptionStage(newSubmissionRepoFake(sub), results, storage, &converterFake{}, recognizer,
		TranscriptionStageConfig{TempDir: t.TempDir()}, nil)

	got, err := stage.Process(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got.Transcriptions) != 1 || got.Transcriptions[0].OriginalName != "a1.ogg" {
		t.Fatalf("unexpected transcriptions %+v", got.Transcriptions)
	}
	if got.Summary != "- a1.ogg: lixo na calcada" {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
	if len(got.Errors) != 1 || got.Errors[0].OriginalName != "a2.mp3" {
		t.Fatalf("unexpected errors %+v", got.Errors)
	}
}
