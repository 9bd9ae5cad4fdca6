package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kavish224/financial-tools/internal/config"
)

// ErrInvalidKey is returned for keys that escape the archive root
var ErrInvalidKey = errors.New("invalid archive key")

// Archive keeps raw downloaded and uploaded feed files
type Archive interface {
	// Put stores data under key and returns its location
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get opens a stored object
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewArchive creates the archive implementation selected by the configuration
func NewArchive(cfg config.StorageConfig) (Archive, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Archive(cfg.S3)
	default:
		return NewLocalArchive(cfg.Local)
	}
}

// DownloadKey is the key of an exchange archive for a trading day
func DownloadKey(day time.Time, name string) string {
	return path.Join("bhavcopy", day.Format("2006/01/02"), path.Base(name))
}

// UploadKey is a unique key for a user uploaded file
func UploadKey(name string) string {
	return path.Join("uploads", time.Now().UTC().Format("2006/01/02"), uuid.NewString()+"-"+path.Base(name))
}

func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
