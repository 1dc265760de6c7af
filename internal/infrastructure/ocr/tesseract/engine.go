package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

type Config struct {
	Binary     string
	Languages  string
	PSM        int
	OEM        int
	Preprocess string
	// MaxPixels caps the preprocessed image size; zero disables the cap.
	MaxPixels int
	TempDir   string
}

// Engine runs the tesseract CLI on preprocessed images.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "por+eng"
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 6
	}
	if cfg.OEM < 0 {
		cfg.OEM = 3
	}
	if cfg.Preprocess == "" {
		cfg.Preprocess = ModeEnhanced
	}
	if cfg.MaxPixels == 0 {
		cfg.MaxPixels = 16_000_000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

func (e *Engine) Ready(_ context.Context) error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return domain.WrapError(domain.ErrOCREngineUnavailable, "ocr ready", fmt.Errorf("binary %q: %w", e.cfg.Binary, err))
	}
	return nil
}

// Recognize returns the raw tesseract output. Images Go cannot decode are handed to tesseract as is.
func (e *Engine) Recognize(ctx context.Context, imagePath string) (string, error) {
	input, cleanup, err := e.prepare(imagePath)
	if err != nil {
		return "", err
	}
	defer cleanup()

	args := []string{
		input, "stdout",
		"-l", e.cfg.Languages,
		"--oem", strconv.Itoa(e.cfg.OEM),
		"--psm", strconv.Itoa(e.cfg.PSM),
	}
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("tesseract: %w", ctxErr)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", domain.WrapError(domain.ErrOCREngineUnavailable, "tesseract", err)
		}
		return "", fmt.Errorf("tesseract failed: %w; stderr=%s", err, domain.Head(stderr.String(), 400))
	}
	return stdout.String(), nil
}

func (e *Engine) prepare(imagePath string) (string, func(), error) {
	noop := func() {}
	if e.cfg.Preprocess == ModeNone {
		return imagePath, noop, nil
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", noop, fmt.Errorf("open image: %w", err)
	}
	img, format, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		e.logger.Debug("ocr_preprocess_skipped", "path", imagePath, "error", err)
		return imagePath, noop, nil
	}

	processed := preprocess(img, e.cfg.Preprocess, e.cfg.MaxPixels)
	tmp, err := os.CreateTemp(e.cfg.TempDir, "ocr-*.png")
	if err != nil {
		return "", noop, fmt.Errorf("create preprocessed image: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if err := png.Encode(tmp, processed); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("encode preprocessed %s image: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("close preprocessed image: %w", err)
	}
	return filepath.Clean(tmp.Name()), cleanup, nil
}

// Version reports the first line of `tesseract --version`, for startup logs.
func (e *Engine) Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, e.cfg.Binary, "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
