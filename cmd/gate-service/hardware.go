package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"gate-service/internal/camera"
	"gate-service/internal/config"
	"gate-service/internal/hardware"
	"gate-service/internal/metrics"
	"gate-service/internal/recognition"
	"gate-service/internal/worker"
)

// gateHardware is the per-gate equipment: one serial line shared by the
// presence sensor and the actuator, the camera and the inference worker.
type gateHardware struct {
	line       *hardware.Line
	sensor     *hardware.Sensor
	actuator   *hardware.Actuator
	camera     camera.Source
	worker     *worker.Process
	recognizer *recognition.Adapter
	log        zerolog.Logger
}

func newHardware(cfg *config.Config, gateMetrics *metrics.GateMetrics, log zerolog.Logger) (*gateHardware, error) {
	source, err := camera.NewSource(cfg.Camera, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize camera: %w", err)
	}

	proc, err := worker.Start(cfg.Inference.Command, cfg.Inference.Args, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start inference worker: %w", err)
	}
	proc.OnCrash(func(error) { gateMetrics.IncWorkerCrash() })
	client := worker.NewClient(proc, cfg.Inference.EmbeddingDim)
	adapter := recognition.NewAdapter(client, client, client, recognition.Options{
		RowTolerance:  cfg.Inference.RowTolerance,
		MinConfidence: cfg.Inference.MinConfidence,
	}, log)

	line := hardware.NewLine(hardware.SerialOpener(cfg.Serial, log), log)

	log.Info().
		Str("serial_port", cfg.Serial.Port).
		Int("baud", cfg.Serial.BaudRate).
		Str("inference", cfg.Inference.Command).
		Msg("gate hardware ready")

	return &gateHardware{
		line:       line,
		sensor:     hardware.NewSensor(line, cfg.Sensor, log),
		actuator:   hardware.NewActuator(line, cfg.Actuator, log),
		camera:     source,
		worker:     proc,
		recognizer: adapter,
		log:        log,
	}, nil
}

func (h *gateHardware) close() {
	if err := h.line.Close(); err != nil {
		h.log.Warn().Err(err).Msg("failed to close serial line")
	}
	if err := h.worker.Close(); err != nil {
		h.log.Warn().Err(err).Msg("inference worker exited with error")
	}
}
