package domain

import (
	"io"
	"path"
	"strings"
	"time"
)

type SubmissionType string

const (
	SubmissionText  SubmissionType = "texto"
	SubmissionImage SubmissionType = "imagem"
	SubmissionAudio SubmissionType = "audio"
	SubmissionVideo SubmissionType = "video"
)

func ParseSubmissionType(raw string) (SubmissionType, bool) {
	switch SubmissionType(strings.ToLower(strings.TrimSpace(raw))) {
	case SubmissionText:
		return SubmissionText, true
	case SubmissionImage:
		return SubmissionImage, true
	case SubmissionAudio:
		return SubmissionAudio, true
	case SubmissionVideo:
		return SubmissionVideo, true
	default:
		return "", false
	}
}

// StatusReceived is the collaborator-side status of a freshly accepted submission.
const StatusReceived = "recebido"

type Submission struct {
	ID              string         `json:"id"`
	Protocol        string         `json:"protocol,omitempty"`
	Type            SubmissionType `json:"type"`
	Text            string         `json:"text,omitempty"`
	Status          string         `json:"status"`
	EnrichmentState PipelineState  `json:"enrichment_state"`
	Files           []File         `json:"files"`
	CreatedAt       time.Time      `json:"created_at"`
}

// File is an attachment of a submission. StoragePath is relative to the upload root.
type File struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	Category     string    `json:"category"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	StoragePath  string    `json:"storage_path"`
	SHA256       string    `json:"sha256,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Upload is one file of an incoming submission before it is stored.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

type SubmissionInput struct {
	Type     string
	Text     string
	Protocol string
	Files    []Upload
}

var (
	imageExtensions = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}}

	audioMimeTypes = map[string]struct{}{
		"audio/mpeg": {}, "audio/mp3": {}, "audio/wav": {}, "audio/x-wav": {},
		"audio/ogg": {}, "audio/mp4": {}, "audio/x-m4a": {}, "audio/aac": {},
	}
	videoMimeTypes = map[string]struct{}{
		"video/mp4": {}, "video/webm": {}, "video/quicktime": {}, "video/x-matroska": {},
	}
	audioExtensions = map[string]struct{}{".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}, ".aac": {}, ".flac": {}}
	videoExtensions = map[string]struct{}{".mp4": {}, ".webm": {}, ".mov": {}, ".mkv": {}}
)

func (f File) IsImage() bool {
	if strings.EqualFold(strings.TrimSpace(f.Category), string(SubmissionImage)) {
		return true
	}
	if strings.HasPrefix(strings.ToLower(f.MimeType), "image/") {
		return true
	}
	_, ok := imageExtensions[extension(f.OriginalName)]
	return ok
}

func (f File) IsAudio() bool {
	if _, ok := audioMimeTypes[normalizedMime(f.MimeType)]; ok {
		return true
	}
	if _, ok := audioExtensions[extension(f.StoragePath)]; ok {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(f.Category), string(SubmissionAudio))
}

func (f File) IsVideo() bool {
	if _, ok := videoMimeTypes[normalizedMime(f.MimeType)]; ok {
		return true
	}
	if _, ok := videoExtensions[extension(f.StoragePath)]; ok {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(f.Category), string(SubmissionVideo))
}

func (f File) IsMedia() bool {
	return f.IsAudio() || f.IsVideo()
}

func (f File) DisplayName() string {
	if name := strings.TrimSpace(f.OriginalName); name != "" {
		return name
	}
	if base := path.Base(strings.ReplaceAll(f.StoragePath, "\\", "/")); base != "." && base != "/" {
		return base
	}
	return "arquivo"
}

// AllowedExtensions lists what the intake accepts per submission type.
func AllowedExtensions(t SubmissionType) map[string]struct{} {
	switch t {
	case SubmissionImage:
		return imageExtensions
	case SubmissionAudio:
		return map[string]struct{}{".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}}
	case SubmissionVideo:
		return map[string]struct{}{".mp4": {}, ".webm": {}, ".mov": {}}
	default:
		return nil
	}
}

// MaxUploadBytes is the per-file size limit for a submission type; zero means no files.
func MaxUploadBytes(t SubmissionType) int64 {
	switch t {
	case SubmissionImage:
		return 10 << 20
	case SubmissionAudio:
		return 25 << 20
	case SubmissionVideo:
		return 200 << 20
	default:
		return 0
	}
}

func extension(name string) string {
	return strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
}

func normalizedMime(mime string) string {
	return strings.ToLower(strings.TrimSpace(mime))
}
