package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gate-service/internal/domain/gate"
	"gate-service/internal/override"
)

// EntryStore is the record store the controllers need.
type EntryStore interface {
	Insert(ctx context.Context, entry gate.NewEntry) (uuid.UUID, error)
	LookupActiveByPlate(ctx context.Context, plate string) (*gate.EntryRecord, error)
	MarkExited(ctx context.Context, id uuid.UUID) (int64, error)
}

type FrameSource interface {
	Capture(ctx context.Context) (*gate.Frame, error)
}

type Recognizer interface {
	DetectAndRecognize(ctx context.Context, frame *gate.Frame) (*gate.Recognition, error)
}

type Actuator interface {
	Actuate(ctx context.Context, cmd gate.Command) error
}

type PresenceSensor interface {
	WaitForVehicle(ctx context.Context, timeout time.Duration) (bool, error)
	Rearm()
}

type OverrideChannel interface {
	Poll(ctx context.Context) (override.Instruction, error)
	Drain(ctx context.Context) (int64, error)
}

// Comparator matches a live face embedding against the stored one.
type Comparator func(live, stored []float64, threshold float64) (bool, float64, error)
