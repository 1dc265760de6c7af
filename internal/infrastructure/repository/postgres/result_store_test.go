package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

func newResultStoreWithMock(t *testing.T, maxJSONChars int) (*ResultStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewResultStore(db, maxJSONChars, nil), mock, func() { _ = db.Close() }
}

// jsonArg matches a JSON argument that decodes to an object carrying every listed key.
type jsonArg struct {
	keys []string
}

func (a jsonArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	for _, key := range a.keys {
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	return true
}

func TestEnsureInsertsPlaceholderWithoutOverwriting(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 0)
	defer done()

	mock.ExpectExec("ON CONFLICT \\(submission_id\\) DO NOTHING").
		WithArgs("sub-1", domain.PlaceholderCategory, domain.PriorityLow, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Ensure(context.Background(), "sub-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadReturnsEmptyDocumentForMissingRow(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 0)
	defer done()

	mock.ExpectQuery("SELECT result").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	doc, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(doc.Keys()) != 0 {
		t.Fatalf("expected empty document, got keys %v", doc.Keys())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadParsesStoredDocument(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 0)
	defer done()

	mock.ExpectQuery("SELECT result").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).
			AddRow([]byte(`{"ocr":{"images":[],"text":"placa quebrada"}}`)))

	doc, err := store.Load(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := doc.OCR().Text; got != "placa quebrada" {
		t.Fatalf("ocr text = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveDocumentKeepsFullDocumentWhenOversized(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 50)
	defer done()

	doc := domain.NewResultDocument()
	if err := doc.Put(domain.KeyOCR, domain.OCRResult{Text: strings.Repeat("x", 500)}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := doc.Put(domain.KeyTranscription, domain.TranscriptionResult{Summary: "- a.mp3: ola"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO submission_analyses").
		WithArgs("sub-1", domain.PlaceholderCategory, domain.PriorityLow,
			jsonArg{keys: []string{domain.KeyOCR, domain.KeyTranscription}}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveDocument(context.Background(), "sub-1", doc); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveClassificationWritesSlimProjectionWhenOversized(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 50)
	defer done()

	doc := domain.NewResultDocument()
	if err := doc.Put(domain.KeyOCR, domain.OCRResult{Text: strings.Repeat("x", 500)}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := doc.Put(domain.KeyClassification, domain.ClassificationRecord{Output: domain.Classification{
		Category: "saude",
		Priority: "alta",
		Tags:     []string{},
		Summary:  "Falta de medico.",
	}}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO submission_analyses").
		WithArgs("sub-1", "saude", "alta", []byte(`[]`), "Falta de medico.", sqlmock.AnyArg(),
			slimArg{category: "saude", priority: "alta"}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveClassification(context.Background(), "sub-1", doc, domain.ClassificationProjection{
		Category: "saude",
		Priority: "alta",
		Summary:  "Falta de medico.",
	})
	if err != nil {
		t.Fatalf("SaveClassification() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// slimArg matches the slim projection: exactly the five slim keys with the given classification.
type slimArg struct {
	category string
	priority string
}

func (a slimArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 5 {
		return false
	}
	var slim domain.SlimDocument
	if err := json.Unmarshal(raw, &slim); err != nil {
		return false
	}
	return slim.Category == a.category && slim.Priority == a.priority
}

func TestSaveClassificationUpdatesProjectionColumns(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 60000)
	defer done()

	doc := domain.NewResultDocument()
	if err := doc.Put(domain.KeyCharts, []domain.ChartDataset{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO submission_analyses").
		WithArgs("sub-1", "iluminacao_publica", "alta", []byte(`["poste","escuro"]`), "Poste apagado.", "llama3",
			jsonArg{keys: []string{domain.KeyCharts}}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveClassification(context.Background(), "sub-1", doc, domain.ClassificationProjection{
		Category: "iluminacao_publica",
		Priority: "alta",
		Tags:     []string{"poste", "escuro"},
		Summary:  "Poste apagado.",
		Model:    "llama3",
	})
	if err != nil {
		t.Fatalf("SaveClassification() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetAnalysisReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 0)
	defer done()

	mock.ExpectQuery("FROM submission_analyses").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetAnalysis(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetAnalysisDecodesTagsAndDocument(t *testing.T) {
	store, mock, done := newResultStoreWithMock(t, 0)
	defer done()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM submission_analyses").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"submission_id", "category", "priority", "tags", "summary", "model", "result", "created_at", "updated_at",
		}).AddRow("sub-1", "saude", "media", []byte(`["posto"]`), "Falta medico.", nil, []byte(`{"charts":[]}`), now, now))

	analysis, err := store.GetAnalysis(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if len(analysis.Tags) != 1 || analysis.Tags[0] != "posto" {
		t.Fatalf("tags = %v", analysis.Tags)
	}
	if analysis.Model != "" {
		t.Fatalf("model = %q", analysis.Model)
	}
	if !analysis.Document.Has(domain.KeyCharts) {
		t.Fatalf("expected charts key in document")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
