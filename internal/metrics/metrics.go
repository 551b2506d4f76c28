// Package metrics exposes Prometheus metrics for the gate service.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gate-service/internal/domain/gate"
)

// Metrics owns the registry served on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	Gate     *GateMetrics
}

func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateMetrics, err := NewGateMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate metrics: %w", err)
	}

	return &Metrics{registry: registry, Gate: gateMetrics}, nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GateMetrics covers exit episodes, hardware and overrides.
type GateMetrics struct {
	Outcomes           *prometheus.CounterVec
	Similarity         prometheus.Histogram
	EpisodeDuration    prometheus.Histogram
	ActuationErrors    *prometheus.CounterVec
	Overrides          *prometheus.CounterVec
	SensorFailures     prometheus.Counter
	AlreadyExited      prometheus.Counter
	EntriesCreated     prometheus.Counter
	ControllerState    *prometheus.GaugeVec
	DiscardedOverrides prometheus.Counter
	WorkerCrashes      prometheus.Counter
}

func NewGateMetrics(registry prometheus.Registerer) (*GateMetrics, error) {
	m := &GateMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register gate metrics: %w", err)
	}
	return m, nil
}

func (m *GateMetrics) initMetrics() {
	m.Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_exit_outcomes_total",
		Help: "Exit validation outcomes by kind",
	}, []string{"kind"})

	m.Similarity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_face_similarity",
		Help:    "Cosine similarity between live and stored face embeddings",
		Buckets: prometheus.LinearBuckets(-0.2, 0.1, 13),
	})

	m.EpisodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_exit_episode_duration_seconds",
		Help:    "Time from presence signal to decision",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.ActuationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_actuation_errors_total",
		Help: "Actuator commands that could not be delivered",
	}, []string{"command"})

	m.Overrides = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_overrides_total",
		Help: "Operator override instructions acted upon",
	}, []string{"instruction"})

	m.SensorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_sensor_failures_total",
		Help: "Times the presence line was declared unavailable",
	})

	m.AlreadyExited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_exit_already_handled_total",
		Help: "Successful matches whose record had already been closed",
	})

	m.EntriesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_entries_created_total",
		Help: "Entry records written by the entry side",
	})

	m.ControllerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gate_controller_state",
		Help: "1 for the state the exit controller is currently in",
	}, []string{"state"})

	m.DiscardedOverrides = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_overrides_discarded_total",
		Help: "Stale override instructions dropped at the start of an episode",
	})

	m.WorkerCrashes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_inference_worker_crashes_total",
		Help: "Inference worker processes abandoned mid-request",
	})
}

func (m *GateMetrics) ObserveOutcome(outcome gate.ValidationOutcome) {
	m.Outcomes.WithLabelValues(string(outcome.Kind)).Inc()
	if outcome.Similarity != nil {
		m.Similarity.Observe(*outcome.Similarity)
	}
}

// IncAborted counts episodes cut short by a store failure.
func (m *GateMetrics) IncAborted() {
	m.Outcomes.WithLabelValues(string(gate.OutcomeAborted)).Inc()
}

func (m *GateMetrics) ObserveEpisode(d time.Duration) {
	m.EpisodeDuration.Observe(d.Seconds())
}

func (m *GateMetrics) IncActuationError(cmd gate.Command) {
	m.ActuationErrors.WithLabelValues(string(cmd)).Inc()
}

func (m *GateMetrics) IncOverride(o gate.Override) {
	m.Overrides.WithLabelValues(string(o)).Inc()
}

func (m *GateMetrics) IncSensorFailure() {
	m.SensorFailures.Inc()
}

func (m *GateMetrics) IncAlreadyExited() {
	m.AlreadyExited.Inc()
}

func (m *GateMetrics) IncEntriesCreated() {
	m.EntriesCreated.Inc()
}

func (m *GateMetrics) AddDiscardedOverrides(n int64) {
	m.DiscardedOverrides.Add(float64(n))
}

func (m *GateMetrics) IncWorkerCrash() {
	m.WorkerCrashes.Inc()
}

var allStates = []gate.State{
	gate.StateIdle,
	gate.StateAwaitingVehicle,
	gate.StateProcessing,
	gate.StateSuccess,
	gate.StateFailed,
	gate.StateAwaitingOverride,
}

func (m *GateMetrics) SetState(state gate.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ControllerState.WithLabelValues(string(s)).Set(v)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *GateMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Outcomes.Collect(ch)
	ch <- m.Similarity
	ch <- m.EpisodeDuration
	m.ActuationErrors.Collect(ch)
	m.Overrides.Collect(ch)
	ch <- m.SensorFailures
	ch <- m.AlreadyExited
	ch <- m.EntriesCreated
	m.ControllerState.Collect(ch)
	ch <- m.DiscardedOverrides
	ch <- m.WorkerCrashes
}

// Describe implements the prometheus.Collector interface.
func (m *GateMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Outcomes.Describe(ch)
	m.Similarity.Describe(ch)
	m.EpisodeDuration.Describe(ch)
	m.ActuationErrors.Describe(ch)
	m.Overrides.Describe(ch)
	m.SensorFailures.Describe(ch)
	m.AlreadyExited.Describe(ch)
	m.EntriesCreated.Describe(ch)
	m.ControllerState.Describe(ch)
	m.DiscardedOverrides.Describe(ch)
	m.WorkerCrashes.Describe(ch)
}
