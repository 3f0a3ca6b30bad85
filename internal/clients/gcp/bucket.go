package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/diagramlab-backend/internal/logger"
)

// ImageStore reads diagram images addressed either by local path or gs://
// URI, so a plan can reuse an image that an earlier run already stored.
type ImageStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Close() error
}

type imageStore struct {
	log     *logger.Logger
	storage *storage.Client
}

func NewImageStore(log *logger.Logger) (ImageStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx := context.Background()
	stClient, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &imageStore{
		log:     log.With("client", "ImageStore"),
		storage: stClient,
	}, nil
}

func (s *imageStore) Exists(ctx context.Context, path string) (bool, error) {
	if !strings.HasPrefix(path, "gs://") {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return info.Size() > 0, nil
	}

	bucket, key, err := parseGCSURI(path)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = s.storage.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *imageStore) Read(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "gs://") {
		return os.ReadFile(path)
	}

	bucket, key, err := parseGCSURI(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	rc, err := s.storage.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *imageStore) Close() error {
	if s == nil || s.storage == nil {
		return nil
	}
	return s.storage.Close()
}

func parseGCSURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	trim := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trim, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 1 {
		return bucket, "", nil
	}
	key = parts[1]
	return bucket, key, nil
}
