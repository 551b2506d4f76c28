package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
)

// EntryRegistrar is the part of EntryService the entry loop drives.
type EntryRegistrar interface {
	Register(ctx context.Context, rec *gate.Recognition) (uuid.UUID, error)
}

type EntryOptions struct {
	SensorWaitTimeout time.Duration
	SensorRetryDelay  time.Duration
}

// EntryController registers vehicles at the entry gate. It never actuates:
// entry gates are opened by the barrier's own loop detector.
type EntryController struct {
	sensor     PresenceSensor
	camera     FrameSource
	recognizer Recognizer
	registrar  EntryRegistrar
	opts       EntryOptions
	log        zerolog.Logger
}

func NewEntryController(sensor PresenceSensor, camera FrameSource, recognizer Recognizer, registrar EntryRegistrar, opts EntryOptions, log zerolog.Logger) *EntryController {
	return &EntryController{
		sensor:     sensor,
		camera:     camera,
		recognizer: recognizer,
		registrar:  registrar,
		opts:       opts,
		log:        log.With().Str("component", "entry_controller").Logger(),
	}
}

func (c *EntryController) Run(ctx context.Context) error {
	c.log.Info().Msg("entry controller started")
	defer c.log.Info().Msg("entry controller stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		present, err := c.sensor.WaitForVehicle(ctx, c.opts.SensorWaitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("presence wait failed")
			sleepCtx(ctx, c.opts.SensorRetryDelay)
			continue
		}
		if !present {
			continue
		}

		if _, err := c.RegisterVehicle(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("registration failed")
		}
		c.sensor.Rearm()
	}
}

// RegisterVehicle captures one frame and registers what it shows.
func (c *EntryController) RegisterVehicle(ctx context.Context) (uuid.UUID, error) {
	frame, err := c.camera.Capture(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	rec, err := c.recognizer.DetectAndRecognize(ctx, frame)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := c.registrar.Register(ctx, rec)
	if errors.Is(err, ErrInvalidInput) {
		c.log.Info().
			Str("frame_id", frame.ID.String()).
			Str("plate", rec.PlateText).
			Bool("face", rec.HasFace()).
			Msg("vehicle not registered, incomplete recognition")
	}
	return id, err
}
