package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"gate-service/internal/domain/gate"
	"gate-service/internal/recognition"
)

const (
	opDetect = "detect"
	opOCR    = "ocr"
	opEmbed  = "embed"

	jpegQuality = 90
)

var ErrEmbeddingDimension = errors.New("embedding has unexpected dimension")

// Communicator carries one request frame to a model worker and returns its
// response frame.
type Communicator interface {
	Communicate(ctx context.Context, data []byte) ([]byte, error)
}

type request struct {
	Op    string `json:"op"`
	Image []byte `json:"image"`
}

type response struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error,omitempty"`
	Boxes  []gate.Box          `json:"boxes,omitempty"`
	Glyphs []recognition.Glyph `json:"glyphs,omitempty"`
	Vector []float64           `json:"vector,omitempty"`
}

// Client exposes the worker's models as recognition collaborators.
type Client struct {
	comm         Communicator
	embeddingDim int
}

var (
	_ recognition.Detector        = (*Client)(nil)
	_ recognition.CharacterReader = (*Client)(nil)
	_ recognition.Embedder        = (*Client)(nil)
)

// NewClient wraps comm. A positive embeddingDim rejects vectors of any other
// length so stored and live embeddings stay comparable.
func NewClient(comm Communicator, embeddingDim int) *Client {
	return &Client{comm: comm, embeddingDim: embeddingDim}
}

func (c *Client) Detect(ctx context.Context, img image.Image) ([]gate.Box, error) {
	resp, err := c.call(ctx, opDetect, img)
	if err != nil {
		return nil, err
	}
	return resp.Boxes, nil
}

func (c *Client) ReadCharacters(ctx context.Context, crop image.Image) ([]recognition.Glyph, error) {
	resp, err := c.call(ctx, opOCR, crop)
	if err != nil {
		return nil, err
	}
	return resp.Glyphs, nil
}

// Embed returns nil without error when the model finds no face in the crop.
func (c *Client) Embed(ctx context.Context, crop image.Image) ([]float64, error) {
	resp, err := c.call(ctx, opEmbed, crop)
	if err != nil {
		return nil, err
	}
	if len(resp.Vector) == 0 {
		return nil, nil
	}
	if c.embeddingDim > 0 && len(resp.Vector) != c.embeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDimension, len(resp.Vector), c.embeddingDim)
	}
	return resp.Vector, nil
}

func (c *Client) call(ctx context.Context, op string, img image.Image) (*response, error) {
	encoded, err := encodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payload, err := json.Marshal(request{Op: op, Image: encoded})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	raw, err := c.comm.Communicate(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s: worker error: %s", op, resp.Error)
	}
	return &resp, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
