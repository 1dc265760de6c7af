package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// Storage keeps uploaded files under a single root directory.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/uploads"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path, err := s.within(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create file dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Resolve returns the absolute path of a stored file. Keys escaping the root and missing files
// both yield domain.ErrFileNotFound.
func (s *Storage) Resolve(key string) (string, error) {
	path, err := s.within(key)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.WrapError(domain.ErrFileNotFound, "resolve file", fmt.Errorf("key=%s", key))
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return "", domain.WrapError(domain.ErrFileNotFound, "resolve file", fmt.Errorf("key=%s is a directory", key))
	}
	return path, nil
}

func (s *Storage) within(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", domain.WrapError(domain.ErrFileNotFound, "resolve file", errors.New("empty key"))
	}
	path := filepath.Clean(filepath.Join(s.basePath, filepath.FromSlash(key)))
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrFileNotFound, "resolve file", fmt.Errorf("key=%s escapes storage root", key))
	}
	return path, nil
}
