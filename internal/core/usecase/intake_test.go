package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

type triggerFake struct {
	ids []string
	err error
}

func (f *triggerFake) Trigger(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestIntakeSubmitStoresFilesAndTriggers(t *testing.T) {
	repo := newSubmissionRepoFake()
	storage := newStorageFake(nil)
	trigger := &triggerFake{}
	uc := NewIntakeUseCase(repo, storage, trigger, nil)

	body := []byte("fake png bytes")
	sub, err := uc.Submit(context.Background(), domain.SubmissionInput{
		Type:     "Imagem",
		Text:     "  buraco na via  ",
		Protocol: "2024-1",
		Files:    []domain.Upload{{Name: `C:\fotos\Buraco 1.PNG`, MimeType: "IMAGE/PNG", Size: int64(len(body)), Body: bytes.NewReader(body)}},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub.Type != domain.SubmissionImage || sub.Text != "buraco na via" || sub.EnrichmentState != domain.StateCreated {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if len(sub.Files) != 1 {
		t.Fatalf("expected one file, got %d", len(sub.Files))
	}
	file := sub.Files[0]
	sum := sha256.Sum256(body)
	if file.SHA256 != hex.EncodeToString(sum[:]) || file.SizeBytes != int64(len(body)) {
		t.Fatalf("unexpected hash/size %+v", file)
	}
	if file.OriginalName != "Buraco 1.PNG" || file.MimeType != "image/png" || file.Category != "imagem" {
		t.Fatalf("unexpected file metadata %+v", file)
	}
	if !strings.HasPrefix(file.StoragePath, sub.ID+"/") || !strings.HasSuffix(file.StoragePath, ".png") {
		t.Fatalf("unexpected storage key %s", file.StoragePath)
	}
	if string(storage.saved[file.StoragePath]) != string(body) {
		t.Fatalf("stored body mismatch")
	}
	if _, err := repo.GetByID(context.Background(), sub.ID); err != nil {
		t.Fatalf("expected persisted submission: %v", err)
	}
	if len(trigger.ids) != 1 || trigger.ids[0] != sub.ID {
		t.Fatalf("expected trigger for %s, got %v", sub.ID, trigger.ids)
	}
}

func TestIntakeSubmitSucceedsWhenTriggerFails(t *testing.T) {
	uc := NewIntakeUseCase(newSubmissionRepoFake(), newStorageFake(nil), &triggerFake{err: errors.New("nats down")}, nil)

	sub, err := uc.Submit(context.Background(), domain.SubmissionInput{Type: "texto", Text: "lixo acumulado"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub.ID == "" {
		t.Fatalf("expected submission id")
	}
}

func TestIntakeSubmitValidation(t *testing.T) {
	cases := []struct {
		name  string
		input domain.SubmissionInput
	}{
		{"unknown type", domain.SubmissionInput{Type: "pdf", Text: "x"}},
		{"empty text", domain.SubmissionInput{Type: "texto", Text: "  "}},
		{"media without files", domain.SubmissionInput{Type: "audio"}},
		{"wrong extension", domain.SubmissionInput{Type: "audio", Files: []domain.Upload{{Name: "a.exe", Size: 1, Body: strings.NewReader("x")}}}},
		{"too large", domain.SubmissionInput{Type: "imagem", Files: []domain.Upload{{Name: "a.png", Size: 11 << 20, Body: strings.NewReader("x")}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newSubmissionRepoFake()
			trigger := &triggerFake{}
			uc := NewIntakeUseCase(repo, newStorageFake(nil), trigger, nil)

			_, err := uc.Submit(context.Background(), tc.input)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(repo.subs) != 0 || len(trigger.ids) != 0 {
				t.Fatalf("nothing must be persisted or triggered")
			}
		})
	}
}

func TestIntakeSubmitRejectsUnderreportedSize(t *testing.T) {
	big := bytes.Repeat([]byte("a"), (10<<20)+10)
	uc := NewIntakeUseCase(newSubmissionRepoFake(), newStorageFake(nil), &triggerFake{}, nil)

	_, err := uc.Submit(context.Background(), domain.SubmissionInput{
		Type:  "imagem",
		Files: []domain.Upload{{Name: "a.jpg", Size: 10, Body: bytes.NewReader(big)}},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for oversized body, got %v", err)
	}
}
