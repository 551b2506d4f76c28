package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gate-service/internal/config"
)

// ErrSignalUnavailable means the presence line kept failing after the
// configured number of resets.
var ErrSignalUnavailable = errors.New("presence signal unavailable")

type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
	Flush() error
	Reset() error
}

// Sensor turns controller lines into debounced vehicle-present events.
type Sensor struct {
	line       LineReader
	token      string
	debounce   time.Duration
	retryDelay time.Duration
	maxErrors  int
	now        func() time.Time
	log        zerolog.Logger

	lastSignal time.Time
	errCount   int
}

func NewSensor(line LineReader, cfg config.SensorConfig, log zerolog.Logger) *Sensor {
	return &Sensor{
		line:       line,
		token:      cfg.Token,
		debounce:   cfg.Debounce,
		retryDelay: cfg.RetryDelay,
		maxErrors:  cfg.MaxErrors,
		now:        time.Now,
		log:        log.With().Str("component", "sensor").Logger(),
	}
}

// WaitForVehicle blocks for at most timeout. It reports true once per vehicle:
// repeated tokens within the debounce window collapse into one signal.
// Read errors reset the line; after maxErrors consecutive failures the error
// is returned wrapped in ErrSignalUnavailable and the count starts over.
func (s *Sensor) WaitForVehicle(ctx context.Context, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		text, err := s.line.ReadLine(waitCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if waitCtx.Err() != nil {
				return false, nil
			}
			return false, s.handleReadError(ctx, err)
		}
		s.errCount = 0

		if !strings.Contains(text, s.token) {
			if text != "" {
				s.log.Debug().Str("line", text).Msg("ignoring controller output")
			}
			continue
		}

		now := s.now()
		if !s.lastSignal.IsZero() && now.Sub(s.lastSignal) <= s.debounce {
			continue
		}
		s.lastSignal = now
		return true, nil
	}
}

func (s *Sensor) handleReadError(ctx context.Context, err error) error {
	s.errCount++
	s.log.Warn().
		Err(err).
		Int("consecutive_errors", s.errCount).
		Msg("presence line read failed")

	if resetErr := s.line.Reset(); resetErr != nil {
		s.log.Debug().Err(resetErr).Msg("closing presence line failed")
	}

	if s.maxErrors > 0 && s.errCount >= s.maxErrors {
		s.errCount = 0
		return fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return nil
}

// Rearm discards signals that queued up while an episode was being handled.
func (s *Sensor) Rearm() {
	if err := s.line.Flush(); err != nil {
		s.log.Warn().Err(err).Msg("failed to flush presence line")
	}
}
