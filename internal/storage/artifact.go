// Package storage keeps the plate and face crops captured at entry so an
// operator can review them later.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"gate-service/internal/config"
)

var ErrEmptyArtifact = errors.New("empty artifact")

// ArtifactStore saves a blob under key and returns a reference to it.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NewArtifactStore uses the bucket when it is configured and the local
// artifact directory otherwise.
func NewArtifactStore(cfg config.StorageConfig, log zerolog.Logger) (ArtifactStore, error) {
	r2, err := NewR2Client(cfg)
	if err == nil {
		log.Info().Str("bucket", cfg.Bucket).Msg("storing artifacts in r2")
		return r2, nil
	}
	if !errors.Is(err, ErrNotConfigured) {
		return nil, err
	}

	local, err := NewLocalStore(cfg.LocalDir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", local.root).Msg("storing artifacts on local disk")
	return local, nil
}

type LocalStore struct {
	root string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Save writes the file atomically and returns its absolute path.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyArtifact
	}

	path := filepath.Join(s.root, filepath.FromSlash(strings.TrimLeft(key, "/")))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes the artifact dir", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// SaveJPEG encodes img and stores it under key. A nil image stores nothing
// and returns an empty reference.
func SaveJPEG(ctx context.Context, store ArtifactStore, key string, img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Save(ctx, key, buf.Bytes(), "image/jpeg")
}
