// Package camera grabs single frames from the gate camera.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gate-service/internal/config"
	"gate-service/internal/domain/gate"
)

// maxSnapshotSize caps a snapshot body; gate cameras return a few hundred KB.
const maxSnapshotSize = 20 << 20

var ErrNoSource = errors.New("no camera source configured")

type Source interface {
	Capture(ctx context.Context) (*gate.Frame, error)
}

// NewSource prefers the camera's HTTP snapshot endpoint and falls back to a
// still image on disk, which is how bench setups without a camera run.
func NewSource(cfg config.CameraConfig, log zerolog.Logger) (Source, error) {
	switch {
	case cfg.SnapshotURL != "":
		return NewSnapshotSource(cfg, log), nil
	case cfg.StillPath != "":
		return NewFileSource(cfg.StillPath), nil
	default:
		return nil, ErrNoSource
	}
}

// SnapshotSource fetches a JPEG from an IP camera's snapshot URL, for
// example Hikvision's /ISAPI/Streaming/channels/101/picture.
type SnapshotSource struct {
	url      string
	username string
	password string
	client   *http.Client
	log      zerolog.Logger
}

func NewSnapshotSource(cfg config.CameraConfig, log zerolog.Logger) *SnapshotSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SnapshotSource{
		url:      cfg.SnapshotURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "camera").Logger(),
	}
}

func (s *SnapshotSource) Capture(ctx context.Context) (*gate.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("fetch snapshot: camera returned %s", resp.Status)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	s.log.Debug().
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Dur("took", time.Since(started)).
		Msg("snapshot captured")

	return &gate.Frame{
		ID:         uuid.New(),
		Image:      img,
		CapturedAt: time.Now(),
		Source:     "snapshot",
	}, nil
}

// FileSource serves the image at path on every capture. The file is re-read
// each time so it can be swapped while the service runs.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Capture(ctx context.Context) (*gate.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open still image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode still image %s: %w", f.path, err)
	}

	return &gate.Frame{
		ID:         uuid.New(),
		Image:      img,
		CapturedAt: time.Now(),
		Source:     "file",
	}, nil
}
