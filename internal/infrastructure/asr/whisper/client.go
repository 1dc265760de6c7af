package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/asr"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL         string
	ModelSize       string
	Device          string
	ComputeType     string
	Language        string
	VADMinSilenceMS int
	Timeout         time.Duration
}

// Client talks to a faster-whisper sidecar exposing an OpenAI-style transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelSize == "" {
		cfg.ModelSize = "small"
	}
	if cfg.Language == "" {
		cfg.Language = "pt"
	}
	if cfg.VADMinSilenceMS <= 0 {
		cfg.VADMinSilenceMS = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Factory probes the sidecar before handing out the client, so a dead sidecar is retried on the
// next transcription instead of being cached.
func Factory(cfg Config) asr.Factory {
	return func(ctx context.Context) (asr.Model, error) {
		client := New(cfg)
		if err := client.Health(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create whisper health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.WrapTemporary("whisper health", fmt.Errorf("whisper health request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.WrapTemporary("whisper health", resilience.NewHTTPStatusError("whisper", "health", resp))
	}
	return nil
}

type verboseSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type verboseResponse struct {
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"language_probability"`
	Duration            float64          `json:"duration"`
	Text                string           `json:"text"`
	Segments            []verboseSegment `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	body, contentType, err := c.multipartBody(audioPath)
	if err != nil {
		return domain.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transcript{}, resilience.WrapTemporary("whisper transcribe", fmt.Errorf("whisper transcribe request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.Transcript{}, resilience.WrapTemporary("whisper transcribe", resilience.NewHTTPStatusError("whisper", "transcribe", resp))
	}

	var out verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Transcript{}, fmt.Errorf("decode whisper response: %w", err)
	}

	transcript := domain.Transcript{
		Language:            out.Language,
		LanguageProbability: out.LanguageProbability,
		Duration:            out.Duration,
		Segments:            make([]domain.Segment, 0, len(out.Segments)),
	}
	for _, seg := range out.Segments {
		transcript.Segments = append(transcript.Segments, domain.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	if len(transcript.Segments) == 0 && strings.TrimSpace(out.Text) != "" {
		transcript.Segments = append(transcript.Segments, domain.Segment{End: out.Duration, Text: out.Text})
	}
	return transcript, nil
}

func (c *Client) multipartBody(audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}

	fields := [][2]string{
		{"model", c.cfg.ModelSize},
		{"language", c.cfg.Language},
		{"response_format", "verbose_json"},
		{"vad_filter", "true"},
		{"vad_min_silence_duration_ms", strconv.Itoa(c.cfg.VADMinSilenceMS)},
	}
	if c.cfg.Device != "" {
		fields = append(fields, [2]string{"device", c.cfg.Device})
	}
	if c.cfg.ComputeType != "" {
		fields = append(fields, [2]string{"compute_type", c.cfg.ComputeType})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write multipart field %s: %w", field[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
