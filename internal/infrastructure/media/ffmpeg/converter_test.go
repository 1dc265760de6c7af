package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestExtractAudioPassesMonoWavFlags(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	// The last argument is the output path.
	stub := writeStub(t, `echo "$@" > `+argsFile+`
for last; do :; done
printf 'RIFF' > "$last"`)

	dst := filepath.Join(t.TempDir(), "nested", "audio.wav")
	conv := New(stub, time.Minute)
	if err := conv.ExtractAudio(context.Background(), "/uploads/video.mp4", dst); err != nil {
		t.Fatalf("ExtractAudio() error = %v", err)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := "-y -i /uploads/video.mp4 -vn -ac 1 -ar 16000 -f wav " + dst
	if got := strings.TrimSpace(string(raw)); got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
}

func TestExtractAudioReportsStderr(t *testing.T) {
	stub := writeStub(t, `echo "moov atom not found" >&2; exit 1`)
	conv := New(stub, time.Minute)

	err := conv.ExtractAudio(context.Background(), "broken.mp4", filepath.Join(t.TempDir(), "audio.wav"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExtractAudioFailsWhenOutputMissing(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	conv := New(stub, time.Minute)

	if err := conv.ExtractAudio(context.Background(), "clip.mp3", filepath.Join(t.TempDir(), "audio.wav")); err == nil {
		t.Fatalf("expected error for missing output")
	}
}

func TestExtractAudioHonorsTimeout(t *testing.T) {
	stub := writeStub(t, `exec sleep 5`)
	conv := New(stub, 50*time.Millisecond)

	start := time.Now()
	err := conv.ExtractAudio(context.Background(), "clip.mp3", filepath.Join(t.TempDir(), "audio.wav"))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced")
	}
}
