package hardware

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-service/internal/config"
	"gate-service/internal/domain/gate"
)

type recordingWriter struct {
	lines []string
	err   error
}

func (w *recordingWriter) WriteLine(_ context.Context, text string) error {
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, text)
	return nil
}

var testActuatorConfig = config.ActuatorConfig{
	OpenToken:     "OPEN",
	AlarmOnToken:  "ALARM_ON",
	AlarmOffToken: "ALARM_OFF",
}

func TestActuator_Actuate(t *testing.T) {
	writer := &recordingWriter{}
	actuator := NewActuator(writer, testActuatorConfig, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, actuator.Actuate(ctx, gate.CommandAlarmOff))
	require.NoError(t, actuator.Actuate(ctx, gate.CommandOpenGate))
	require.NoError(t, actuator.Actuate(ctx, gate.CommandAlarmOn))

	assert.Equal(t, []string{"ALARM_OFF", "OPEN", "ALARM_ON"}, writer.lines)
}

func TestActuator_UnknownCommand(t *testing.T) {
	writer := &recordingWriter{}
	actuator := NewActuator(writer, testActuatorConfig, zerolog.Nop())

	err := actuator.Actuate(context.Background(), gate.Command("self_destruct"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Empty(t, writer.lines)
}

func TestActuator_WriteFailure(t *testing.T) {
	writeErr := errors.New("port closed")
	actuator := NewActuator(&recordingWriter{err: writeErr}, testActuatorConfig, zerolog.Nop())

	err := actuator.Actuate(context.Background(), gate.CommandOpenGate)
	assert.ErrorIs(t, err, writeErr)
}

func TestActuator_OverLine(t *testing.T) {
	port := &fakePort{}
	line, _ := lineWith(port)
	actuator := NewActuator(line, testActuatorConfig, zerolog.Nop())

	require.NoError(t, actuator.Actuate(context.Background(), gate.CommandOpenGate))
	assert.Equal(t, "OPEN\n", port.written.String())
}
