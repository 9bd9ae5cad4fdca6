package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kavish224/financial-tools/internal/config"
)

// LocalArchive implements Archive on the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a LocalArchive rooted at the configured path
func NewLocalArchive(cfg config.LocalStorageConfig) (*LocalArchive, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalArchive{basePath: cfg.BasePath}, nil
}

// Put writes data to basePath/key
func (s *LocalArchive) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filePath, nil
}

// Get opens basePath/key
func (s *LocalArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}
