package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/override"
)

type OverridePusher interface {
	Push(ctx context.Context, o gate.Override, requestedBy string) (override.Instruction, error)
}

// OverrideService is the remote side of the override channel: operators
// request an action here and the exit controller consumes it.
type OverrideService struct {
	queue  OverridePusher
	gateID string
	log    zerolog.Logger
}

func NewOverrideService(queue OverridePusher, gateID string, log zerolog.Logger) *OverrideService {
	return &OverrideService{
		queue:  queue,
		gateID: gateID,
		log:    log,
	}
}

func (s *OverrideService) Request(ctx context.Context, o gate.Override, requestedBy string) (override.Instruction, error) {
	if !o.Valid() {
		return override.Instruction{}, fmt.Errorf("%w: unknown override %q", ErrInvalidInput, o)
	}

	inst, err := s.queue.Push(ctx, o, requestedBy)
	if err != nil {
		s.log.Error().Err(err).Str("override", string(o)).Msg("failed to queue override")
		return override.Instruction{}, fmt.Errorf("failed to queue override: %w", err)
	}

	s.log.Info().
		Str("instruction_id", inst.ID.String()).
		Str("override", string(o)).
		Str("requested_by", requestedBy).
		Str("gate", s.gateID).
		Msg("override requested")

	return inst, nil
}
