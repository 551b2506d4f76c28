package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gate-service/internal/domain/gate"
)

type recordingRegistrar struct {
	mu   sync.Mutex
	recs []*gate.Recognition
	err  error
}

func (r *recordingRegistrar) Register(_ context.Context, rec *gate.Recognition) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	if r.err != nil {
		return uuid.Nil, r.err
	}
	return uuid.New(), nil
}

func (r *recordingRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func newEntryController(sensor *fakeSensor, camera *fakeCamera, recognizer *fakeRecognizer, registrar EntryRegistrar) *EntryController {
	return NewEntryController(sensor, camera, recognizer, registrar, EntryOptions{
		SensorWaitTimeout: 20 * time.Millisecond,
		SensorRetryDelay:  5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestEntryController_RegisterVehicle(t *testing.T) {
	registrar := &recordingRegistrar{}
	rec := recognition(registeredPlate, []float64{1, 0, 0})
	c := newEntryController(&fakeSensor{}, &fakeCamera{}, &fakeRecognizer{rec: rec}, registrar)

	id, err := c.RegisterVehicle(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.Equal(t, 1, registrar.count())
	assert.Same(t, rec, registrar.recs[0])
}

func TestEntryController_RegisterVehicleErrors(t *testing.T) {
	t.Run("capture", func(t *testing.T) {
		registrar := &recordingRegistrar{}
		c := newEntryController(&fakeSensor{}, &fakeCamera{err: errors.New("no signal")}, &fakeRecognizer{}, registrar)

		_, err := c.RegisterVehicle(context.Background())
		assert.EqualError(t, err, "no signal")
		assert.Zero(t, registrar.count())
	})

	t.Run("detection", func(t *testing.T) {
		registrar := &recordingRegistrar{}
		c := newEntryController(&fakeSensor{}, &fakeCamera{}, &fakeRecognizer{err: errors.New("worker exited")}, registrar)

		_, err := c.RegisterVehicle(context.Background())
		assert.EqualError(t, err, "worker exited")
		assert.Zero(t, registrar.count())
	})

	t.Run("incomplete recognition", func(t *testing.T) {
		registrar := &recordingRegistrar{err: ErrInvalidInput}
		c := newEntryController(&fakeSensor{}, &fakeCamera{}, &fakeRecognizer{rec: recognition(registeredPlate, nil)}, registrar)

		_, err := c.RegisterVehicle(context.Background())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestEntryController_RunNeverActuates(t *testing.T) {
	defer goleak.VerifyNone(t)

	sensor := &fakeSensor{
		errs:    []error{errors.New("read: i/o timeout")},
		signals: []bool{true, false, true},
	}
	registrar := &recordingRegistrar{}
	c := newEntryController(sensor, &fakeCamera{}, &fakeRecognizer{rec: recognition(registeredPlate, []float64{1, 0, 0})}, registrar)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sensor.rearmCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, registrar.count())
}
