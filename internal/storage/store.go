package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	cfg "github.com/templui/mediapipe/internal/config"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// Store is a deterministically keyed blob store. Keys are slash-separated
// paths relative to the store root, e.g. "images/202601/abc_photo_card.jpg".
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of key
	URL(key string) string
}

// New builds the artifact store selected by ARTIFACT_STORAGE.
// Originals are always kept in the local store passed in.
func New(c *cfg.Config, local *LocalStore) (Store, error) {
	switch c.ArtifactStorage {
	case "", "local":
		return local, nil
	case "s3":
		slog.Info("initializing S3 artifact storage",
			"bucket", c.S3Bucket,
			"region", c.S3Region,
			"endpoint", c.S3Endpoint,
		)
		return NewS3Store(context.Background(), S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Endpoint:  c.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown artifact storage %q", c.ArtifactStorage)
	}
}

// CleanKey normalises key and rejects absolute or escaping paths.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}
