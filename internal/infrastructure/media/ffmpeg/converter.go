package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// Converter shells out to ffmpeg to pull a mono 16 kHz WAV track out of audio or video files.
type Converter struct {
	binary  string
	timeout time.Duration
}

func New(binary string, timeout time.Duration) *Converter {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Converter{binary: binary, timeout: timeout}
}

func (c *Converter) Ready(_ context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", c.binary, err)
	}
	return nil
}

func (c *Converter) ExtractAudio(ctx context.Context, srcPath, dstPath string) error {
	if srcPath == "" || dstPath == "" {
		return domain.WrapError(domain.ErrInvalidInput, "extract audio", errors.New("source and destination required"))
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("mkdir audio dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary,
		"-y",
		"-i", srcPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		dstPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg extract audio: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg extract audio failed: %w; stderr=%s", err, domain.Head(stderr.String(), 400))
	}

	if _, err := os.Stat(dstPath); err != nil {
		return fmt.Errorf("audio output missing at %s", dstPath)
	}
	return nil
}
