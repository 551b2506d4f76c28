// Package recognition turns a camera frame into a plate string and a face
// embedding using the external detection, OCR and embedding models.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/utils"
)

var ErrEmptyFrame = errors.New("frame has no image")

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]gate.Box, error)
}

type CharacterReader interface {
	ReadCharacters(ctx context.Context, crop image.Image) ([]Glyph, error)
}

// Embedder returns a nil vector when the model cannot encode the crop.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float64, error)
}

type Options struct {
	RowTolerance  float64
	MinConfidence float64
}

type Adapter struct {
	detector Detector
	reader   CharacterReader
	embedder Embedder
	opts     Options
	log      zerolog.Logger
}

func NewAdapter(detector Detector, reader CharacterReader, embedder Embedder, opts Options, log zerolog.Logger) *Adapter {
	if opts.RowTolerance <= 0 {
		opts.RowTolerance = DefaultRowTolerance
	}
	return &Adapter{
		detector: detector,
		reader:   reader,
		embedder: embedder,
		opts:     opts,
		log:      log.With().Str("component", "recognition").Logger(),
	}
}

// DetectAndRecognize runs detection on the frame, then OCR on the first plate
// candidate and the embedding model on the first face candidate. A missing
// plate reads as gate.UnknownPlate and a missing face as a nil vector; only a
// detector failure is returned as an error.
func (a *Adapter) DetectAndRecognize(ctx context.Context, frame *gate.Frame) (*gate.Recognition, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrEmptyFrame
	}

	boxes, err := a.detector.Detect(ctx, frame.Image)
	if err != nil {
		return nil, fmt.Errorf("detect objects: %w", err)
	}

	detections := a.buildCandidates(frame.Image, boxes)

	rec := &gate.Recognition{
		Detections: detections,
		PlateText:  gate.UnknownPlate,
	}

	if plate, ok := detections.First(gate.LabelPlate); ok {
		rec.PlateConfidence = plate.Confidence
		rec.PlateCrop = plate.Crop
		rec.PlateText = a.readPlate(ctx, plate.Crop)
	}

	if face, ok := detections.First(gate.LabelFace); ok {
		rec.FaceCrop = face.Crop
		rec.FaceVector = a.embedFace(ctx, face.Crop)
	}

	a.log.Debug().
		Str("frame_id", frame.ID.String()).
		Int("plates", len(detections[gate.LabelPlate])).
		Int("faces", len(detections[gate.LabelFace])).
		Str("plate", rec.PlateText).
		Int("face_dim", len(rec.FaceVector)).
		Msg("frame recognized")

	return rec, nil
}

func (a *Adapter) buildCandidates(img image.Image, boxes []gate.Box) gate.DetectionResult {
	result := gate.DetectionResult{}
	bounds := img.Bounds()

	for _, box := range boxes {
		if box.Label != gate.LabelPlate && box.Label != gate.LabelFace {
			continue
		}
		if box.Confidence < a.opts.MinConfidence {
			continue
		}
		region, ok := ClipBox(box, bounds)
		if !ok {
			a.log.Debug().
				Str("label", string(box.Label)).
				Float64("x1", box.X1).Float64("y1", box.Y1).
				Float64("x2", box.X2).Float64("y2", box.Y2).
				Msg("discarding degenerate box")
			continue
		}
		result[box.Label] = append(result[box.Label], gate.Candidate{
			Region:     region,
			Crop:       Crop(img, region),
			Confidence: box.Confidence,
		})
	}
	return result
}

func (a *Adapter) readPlate(ctx context.Context, crop image.Image) string {
	glyphs, err := a.reader.ReadCharacters(ctx, crop)
	if err != nil {
		a.log.Warn().Err(err).Msg("ocr failed")
		return gate.UnknownPlate
	}

	text := AssemblePlate(glyphs, a.opts.RowTolerance)
	if text == gate.UnknownPlate {
		return text
	}
	normalized := utils.NormalizePlate(text)
	if normalized == "" {
		return gate.UnknownPlate
	}
	return normalized
}

func (a *Adapter) embedFace(ctx context.Context, crop image.Image) []float64 {
	vector, err := a.embedder.Embed(ctx, crop)
	if err != nil {
		a.log.Warn().Err(err).Msg("face embedding failed")
		return nil
	}
	if len(vector) == 0 {
		return nil
	}
	return vector
}
