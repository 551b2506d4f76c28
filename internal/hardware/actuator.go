package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gate-service/internal/config"
	"gate-service/internal/domain/gate"
)

var ErrUnknownCommand = errors.New("unknown actuator command")

type LineWriter interface {
	WriteLine(ctx context.Context, text string) error
}

// Actuator writes gate and alarm commands to the controller. The board closes
// the gate on its own timer after an open.
type Actuator struct {
	line   LineWriter
	tokens map[gate.Command]string
	log    zerolog.Logger
}

func NewActuator(line LineWriter, cfg config.ActuatorConfig, log zerolog.Logger) *Actuator {
	return &Actuator{
		line: line,
		tokens: map[gate.Command]string{
			gate.CommandOpenGate: cfg.OpenToken,
			gate.CommandAlarmOn:  cfg.AlarmOnToken,
			gate.CommandAlarmOff: cfg.AlarmOffToken,
		},
		log: log.With().Str("component", "actuator").Logger(),
	}
}

func (a *Actuator) Actuate(ctx context.Context, cmd gate.Command) error {
	token, ok := a.tokens[cmd]
	if !ok || token == "" {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if err := a.line.WriteLine(ctx, token); err != nil {
		return fmt.Errorf("actuate %s: %w", cmd, err)
	}
	a.log.Info().Str("command", string(cmd)).Msg("command sent")
	return nil
}
