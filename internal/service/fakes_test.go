package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gate-service/internal/domain/gate"
	"gate-service/internal/override"
)

type memStore struct {
	mu            sync.Mutex
	records       map[uuid.UUID]*gate.EntryRecord
	lookupErr     error
	markErr       error
	forceMarkZero bool
	markCalls     int
}

func newMemStore() *memStore {
	return &memStore{records: map[uuid.UUID]*gate.EntryRecord{}}
}

func (m *memStore) add(plate string, vector []float64) uuid.UUID {
	id, _ := m.Insert(context.Background(), gate.NewEntry{PlateText: plate, FaceVector: vector})
	return id
}

func (m *memStore) get(id uuid.UUID) gate.EntryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

func (m *memStore) Insert(_ context.Context, entry gate.NewEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &gate.EntryRecord{
		ID:         uuid.New(),
		PlateText:  entry.PlateText,
		FaceVector: entry.FaceVector,
		EntryTime:  time.Now(),
		Status:     gate.StatusActive,
	}
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *memStore) LookupActiveByPlate(_ context.Context, plate string) (*gate.EntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var best *gate.EntryRecord
	for _, r := range m.records {
		if r.PlateText != plate || r.Status != gate.StatusActive {
			continue
		}
		if best == nil || r.EntryTime.After(best.EntryTime) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *memStore) MarkExited(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.markErr != nil {
		return 0, m.markErr
	}
	if m.forceMarkZero {
		return 0, nil
	}
	r, ok := m.records[id]
	if !ok || r.Status != gate.StatusActive {
		return 0, nil
	}
	now := time.Now()
	r.Status = gate.StatusExited
	r.ExitTime = &now
	return 1, nil
}

type fakeSensor struct {
	mu      sync.Mutex
	signals []bool
	errs    []error
	rearms  int
}

func (s *fakeSensor) WaitForVehicle(ctx context.Context, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return false, err
	}
	if len(s.signals) > 0 {
		sig := s.signals[0]
		s.signals = s.signals[1:]
		s.mu.Unlock()
		return sig, nil
	}
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.C:
		return false, nil
	}
}

func (s *fakeSensor) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rearms++
}

func (s *fakeSensor) rearmCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rearms
}

type fakeCamera struct {
	err error
}

func (c *fakeCamera) Capture(ctx context.Context) (*gate.Frame, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &gate.Frame{ID: uuid.New(), CapturedAt: time.Now()}, nil
}

type fakeRecognizer struct {
	rec    *gate.Recognition
	err    error
	onCall func()
}

func (r *fakeRecognizer) DetectAndRecognize(context.Context, *gate.Frame) (*gate.Recognition, error) {
	if r.onCall != nil {
		r.onCall()
	}
	return r.rec, r.err
}

type recordingActuator struct {
	mu       sync.Mutex
	commands []gate.Command
	err      error
}

func (a *recordingActuator) Actuate(_ context.Context, cmd gate.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, cmd)
	return a.err
}

func (a *recordingActuator) sent() []gate.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gate.Command(nil), a.commands...)
}

// fakeOverrides separates instructions queued before an episode (pending,
// removed by Drain) from ones an operator sends while it runs (arrivals).
type fakeOverrides struct {
	mu       sync.Mutex
	pending  []override.Instruction
	arrivals []override.Instruction
	pollErrs []error
	polls    int
}

func instruction(o gate.Override) override.Instruction {
	return override.Instruction{ID: uuid.New(), Override: o, Gate: "gate-1", RequestedBy: "operator"}
}

func (f *fakeOverrides) Poll(ctx context.Context) (override.Instruction, error) {
	f.mu.Lock()
	f.polls++
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		f.mu.Unlock()
		return override.Instruction{}, err
	}
	if len(f.pending) > 0 {
		inst := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return inst, nil
	}
	if len(f.arrivals) > 0 {
		inst := f.arrivals[0]
		f.arrivals = f.arrivals[1:]
		f.mu.Unlock()
		return inst, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return override.Instruction{}, ctx.Err()
	case <-time.After(2 * time.Millisecond):
		return override.Instruction{Override: gate.OverrideNone}, nil
	}
}

func (f *fakeOverrides) Drain(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.pending))
	f.pending = nil
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []gate.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event gate.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// blockingPublisher holds every publish until release is closed or the
// publish context ends, and records what the actuator had been sent by then.
type blockingPublisher struct {
	actuator *recordingActuator
	release  chan struct{}

	mu       sync.Mutex
	sentSeen [][]gate.Command
}

func newBlockingPublisher(actuator *recordingActuator) *blockingPublisher {
	return &blockingPublisher{actuator: actuator, release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ gate.Event) error {
	p.mu.Lock()
	p.sentSeen = append(p.sentSeen, p.actuator.sent())
	p.mu.Unlock()

	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPublisher) Close() {}

func (p *blockingPublisher) seen() [][]gate.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]gate.Command(nil), p.sentSeen...)
}
