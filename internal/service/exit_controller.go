package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/hardware"
	"gate-service/internal/metrics"
	"gate-service/internal/notify"
	"gate-service/internal/override"
	"gate-service/internal/similarity"
)

const (
	pollRetryDelay = time.Second
	publishTimeout = 2 * time.Second
)

type ExitOptions struct {
	GateID              string
	FaceThreshold       float64
	SensorWaitTimeout   time.Duration
	SensorRetryDelay    time.Duration
	OverrideWaitTimeout time.Duration
	OverrideMarksExited bool
}

type ExitDeps struct {
	Sensor     PresenceSensor
	Camera     FrameSource
	Recognizer Recognizer
	Store      EntryStore
	Actuator   Actuator
	Overrides  OverrideChannel
	Publisher  notify.Publisher
	Metrics    *metrics.GateMetrics
	Compare    Comparator
}

// GateStatus is a snapshot of the exit controller for the status endpoint.
type GateStatus struct {
	Gate        string                  `json:"gate"`
	State       gate.State              `json:"state"`
	Since       time.Time               `json:"since"`
	LastOutcome *gate.ValidationOutcome `json:"last_outcome,omitempty"`
}

// ExitController runs the exit validation loop for one gate. Vehicles are
// handled strictly one at a time.
type ExitController struct {
	deps ExitDeps
	opts ExitOptions
	log  zerolog.Logger
	now  func() time.Time

	mu          sync.RWMutex
	state       gate.State
	stateSince  time.Time
	lastOutcome *gate.ValidationOutcome
}

func NewExitController(deps ExitDeps, opts ExitOptions, log zerolog.Logger) *ExitController {
	if deps.Compare == nil {
		deps.Compare = similarity.Compare
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics, _ = metrics.NewGateMetrics(prometheus.NewRegistry())
	}
	c := &ExitController{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "exit_controller").Str("gate", opts.GateID).Logger(),
		now:  time.Now,
	}
	c.setState(gate.StateIdle)
	return c
}

func (c *ExitController) State() gate.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *ExitController) LastOutcome() *gate.ValidationOutcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastOutcome == nil {
		return nil
	}
	out := *c.lastOutcome
	return &out
}

func (c *ExitController) Status() GateStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := GateStatus{
		Gate:  c.opts.GateID,
		State: c.state,
		Since: c.stateSince,
	}
	if c.lastOutcome != nil {
		out := *c.lastOutcome
		status.LastOutcome = &out
	}
	return status
}

func (c *ExitController) setState(s gate.State) {
	c.mu.Lock()
	c.state = s
	c.stateSince = c.now()
	c.mu.Unlock()
	c.deps.Metrics.SetState(s)
}

// Run waits for vehicles and validates each one until ctx is cancelled.
// Cancellation is a normal stop and returns nil.
func (c *ExitController) Run(ctx context.Context) error {
	c.log.Info().
		Float64("face_threshold", c.opts.FaceThreshold).
		Dur("override_wait", c.opts.OverrideWaitTimeout).
		Bool("override_marks_exited", c.opts.OverrideMarksExited).
		Msg("exit controller started")
	defer func() {
		c.setState(gate.StateIdle)
		c.log.Info().Msg("exit controller stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(gate.StateAwaitingVehicle)
		present, err := c.deps.Sensor.WaitForVehicle(ctx, c.opts.SensorWaitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.handleSensorError(ctx, err)
			continue
		}
		if !present {
			continue
		}

		c.HandleVehicle(ctx)
		c.deps.Sensor.Rearm()
	}
}

func (c *ExitController) handleSensorError(ctx context.Context, err error) {
	if errors.Is(err, hardware.ErrSignalUnavailable) {
		c.deps.Metrics.IncSensorFailure()
		c.log.Error().Err(err).Msg("presence signal unavailable, retrying")
	} else {
		c.log.Warn().Err(err).Msg("presence wait failed")
	}
	sleepCtx(ctx, c.opts.SensorRetryDelay)
}

// HandleVehicle runs one exit episode to completion and leaves the
// controller idle.
func (c *ExitController) HandleVehicle(ctx context.Context) gate.ValidationOutcome {
	started := c.now()
	defer func() {
		c.deps.Metrics.ObserveEpisode(c.now().Sub(started))
		c.setState(gate.StateIdle)
	}()

	// an instruction left over from an earlier vehicle must not apply to this one
	if dropped, err := c.deps.Overrides.Drain(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to discard stale overrides")
	} else if dropped > 0 {
		c.deps.Metrics.AddDiscardedOverrides(dropped)
		c.log.Warn().Int64("dropped", dropped).Msg("discarded stale overrides")
	}

	c.setState(gate.StateProcessing)
	outcome, record, err := c.ProcessVehicle(ctx)
	if ctx.Err() != nil {
		c.log.Warn().Str("plate", outcome.Plate).Msg("episode interrupted by shutdown")
		return outcome
	}
	if err != nil {
		return c.abortEpisode(ctx, outcome, err)
	}

	// the gate and alarm are driven before the outcome leaves the process
	if outcome.Succeeded() {
		c.setState(gate.StateSuccess)
		if err := c.completeExit(ctx, outcome); err != nil {
			if ctx.Err() == nil {
				return c.abortEpisode(ctx, outcome, err)
			}
			return outcome
		}
		c.recordOutcome(ctx, outcome)
		return outcome
	}

	c.setState(gate.StateFailed)
	c.actuate(ctx, gate.CommandAlarmOn)
	c.recordOutcome(ctx, outcome)
	c.awaitOverride(ctx, outcome, record)
	return outcome
}

// ProcessVehicle captures a frame and decides the outcome. The returned error
// is reserved for store failures; capture and detection problems are folded
// into a NoDetection outcome.
func (c *ExitController) ProcessVehicle(ctx context.Context) (gate.ValidationOutcome, *gate.EntryRecord, error) {
	frame, err := c.deps.Camera.Capture(ctx)
	if err != nil {
		return c.noDetection(gate.UnknownPlate, "frame capture failed", err), nil, nil
	}

	rec, err := c.deps.Recognizer.DetectAndRecognize(ctx, frame)
	if err != nil {
		return c.noDetection(gate.UnknownPlate, "detection failed", err), nil, nil
	}

	return c.Evaluate(ctx, rec)
}

// Evaluate resolves a recognition against the store and the face comparator.
func (c *ExitController) Evaluate(ctx context.Context, rec *gate.Recognition) (gate.ValidationOutcome, *gate.EntryRecord, error) {
	plate := gate.UnknownPlate
	if rec != nil && rec.PlateText != "" {
		plate = rec.PlateText
	}

	switch {
	case !rec.HasPlate():
		return c.noDetection(plate, "no plate read", nil), nil, nil
	case !rec.HasFace():
		return c.noDetection(plate, "no face encoded", nil), nil, nil
	}

	record, err := c.deps.Store.LookupActiveByPlate(ctx, plate)
	if err != nil {
		return gate.ValidationOutcome{Plate: plate, DecidedAt: c.now()}, nil, fmt.Errorf("lookup active entry: %w", err)
	}
	if record == nil {
		return gate.ValidationOutcome{
			Kind:      gate.OutcomePlateUnregistered,
			Plate:     plate,
			Reason:    "no active entry for plate",
			DecidedAt: c.now(),
		}, nil, nil
	}

	outcome := gate.ValidationOutcome{
		RecordID:  record.ID,
		Plate:     plate,
		DecidedAt: c.now(),
	}

	match, sim, err := c.deps.Compare(rec.FaceVector, record.FaceVector, c.opts.FaceThreshold)
	if err != nil {
		outcome.Kind = gate.OutcomeComparisonFailed
		outcome.Reason = "face comparison failed"
		outcome.Err = err
		return outcome, record, nil
	}

	outcome.Similarity = &sim
	if !match {
		outcome.Kind = gate.OutcomeFaceMismatch
		outcome.Reason = "face does not match entry"
		return outcome, record, nil
	}

	outcome.Kind = gate.OutcomeSuccess
	return outcome, record, nil
}

func (c *ExitController) noDetection(plate, reason string, err error) gate.ValidationOutcome {
	return gate.ValidationOutcome{
		Kind:      gate.OutcomeNoDetection,
		Plate:     plate,
		Reason:    reason,
		DecidedAt: c.now(),
		Err:       err,
	}
}

func (c *ExitController) completeExit(ctx context.Context, outcome gate.ValidationOutcome) error {
	affected, err := c.deps.Store.MarkExited(ctx, outcome.RecordID)
	if err != nil {
		return fmt.Errorf("mark entry exited: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if affected == 0 {
		// a concurrent exit closed the record first
		c.deps.Metrics.IncAlreadyExited()
		c.log.Warn().
			Str("record_id", outcome.RecordID.String()).
			Str("plate", outcome.Plate).
			Msg("entry already exited, opening gate anyway")
	}

	c.actuate(ctx, gate.CommandAlarmOff)
	c.actuate(ctx, gate.CommandOpenGate)
	return nil
}

// abortEpisode handles a store failure: the gate stays closed and the
// operator is alerted.
func (c *ExitController) abortEpisode(ctx context.Context, outcome gate.ValidationOutcome, err error) gate.ValidationOutcome {
	outcome.Kind = gate.OutcomeAborted
	outcome.Err = err
	outcome.Reason = "episode aborted"
	c.setState(gate.StateFailed)
	c.actuate(ctx, gate.CommandAlarmOn)

	c.log.Error().
		Err(err).
		Str("plate", outcome.Plate).
		Msg("exit episode aborted")
	c.deps.Metrics.IncAborted()
	c.remember(outcome)
	c.publish(ctx, gate.Event{Type: notify.EventAborted, Gate: c.opts.GateID, Plate: outcome.Plate})

	c.awaitOverride(ctx, outcome, nil)
	return outcome
}

func (c *ExitController) recordOutcome(ctx context.Context, outcome gate.ValidationOutcome) {
	event := c.log.Info()
	if !outcome.Succeeded() {
		event = c.log.Warn()
	}
	if outcome.Similarity != nil {
		event = event.Float64("similarity", *outcome.Similarity)
	}
	if outcome.RecordID != uuid.Nil {
		event = event.Str("record_id", outcome.RecordID.String())
	}
	if outcome.Err != nil {
		event = event.Err(outcome.Err)
	}
	event.
		Str("outcome", string(outcome.Kind)).
		Str("plate", outcome.Plate).
		Str("reason", outcome.Reason).
		Time("decided_at", outcome.DecidedAt).
		Msg("exit validated")

	c.deps.Metrics.ObserveOutcome(outcome)
	c.remember(outcome)

	out := outcome
	c.publish(ctx, gate.Event{
		Type:       notify.EventOutcome,
		Gate:       c.opts.GateID,
		Outcome:    &out,
		Plate:      outcome.Plate,
		OccurredAt: outcome.DecidedAt,
	})
}

func (c *ExitController) remember(outcome gate.ValidationOutcome) {
	c.mu.Lock()
	c.lastOutcome = &outcome
	c.mu.Unlock()
}

// awaitOverride polls for operator instructions until the gate is opened,
// the wait times out or ctx ends. The alarm stays on unless muted.
func (c *ExitController) awaitOverride(ctx context.Context, outcome gate.ValidationOutcome, record *gate.EntryRecord) {
	c.setState(gate.StateAwaitingOverride)
	deadline := c.now().Add(c.opts.OverrideWaitTimeout)

	for c.now().Before(deadline) {
		inst, err := c.deps.Overrides.Poll(ctx)
		if ctx.Err() != nil {
			c.log.Info().Msg("override wait interrupted by shutdown")
			return
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("override poll failed")
			if !errors.Is(err, override.ErrUnknownInstruction) {
				sleepCtx(ctx, pollRetryDelay)
			}
			continue
		}

		switch inst.Override {
		case gate.OverrideNone:
			continue
		case gate.OverrideMuteAlarm:
			c.actuate(ctx, gate.CommandAlarmOff)
			c.applyOverride(ctx, inst, outcome)
		case gate.OverrideOpenGate:
			c.actuate(ctx, gate.CommandAlarmOff)
			c.actuate(ctx, gate.CommandOpenGate)
			c.applyOverride(ctx, inst, outcome)
			c.markExitedAfterOverride(ctx, outcome, record)
			return
		}
	}

	c.log.Warn().
		Str("plate", outcome.Plate).
		Dur("waited", c.opts.OverrideWaitTimeout).
		Msg("no override received, returning to idle with alarm on")
}

func (c *ExitController) applyOverride(ctx context.Context, inst override.Instruction, outcome gate.ValidationOutcome) {
	c.deps.Metrics.IncOverride(inst.Override)
	c.log.Info().
		Str("override", string(inst.Override)).
		Str("instruction_id", inst.ID.String()).
		Str("requested_by", inst.RequestedBy).
		Str("plate", outcome.Plate).
		Msg("operator override")

	event := gate.Event{
		Type:     notify.EventOverride,
		Gate:     c.opts.GateID,
		Override: inst.Override,
		Plate:    outcome.Plate,
	}
	if outcome.RecordID != uuid.Nil {
		id := outcome.RecordID
		event.RecordID = &id
	}
	c.publish(ctx, event)
}

func (c *ExitController) markExitedAfterOverride(ctx context.Context, outcome gate.ValidationOutcome, record *gate.EntryRecord) {
	if !c.opts.OverrideMarksExited || record == nil || outcome.Kind != gate.OutcomeFaceMismatch {
		return
	}
	affected, err := c.deps.Store.MarkExited(ctx, record.ID)
	if err != nil {
		c.log.Error().Err(err).Str("record_id", record.ID.String()).Msg("failed to mark entry exited after override")
		return
	}
	c.log.Info().
		Str("record_id", record.ID.String()).
		Int64("affected", affected).
		Msg("entry marked exited after override")
}

// actuate never fails the episode; a lost command is logged and counted.
func (c *ExitController) actuate(ctx context.Context, cmd gate.Command) {
	if err := c.deps.Actuator.Actuate(ctx, cmd); err != nil {
		c.deps.Metrics.IncActuationError(cmd)
		c.log.Error().Err(err).Str("command", string(cmd)).Msg("actuator command failed")
	}
}

func (c *ExitController) publish(ctx context.Context, event gate.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.deps.Publisher.Publish(pubCtx, event); err != nil {
		c.log.Debug().Err(err).Str("type", event.Type).Msg("event not published")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
