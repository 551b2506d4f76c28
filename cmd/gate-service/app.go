package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"gate-service/internal/auth"
	"gate-service/internal/config"
	"gate-service/internal/db"
	httphandler "gate-service/internal/http"
	"gate-service/internal/http/middleware"
	"gate-service/internal/logger"
	"gate-service/internal/metrics"
	"gate-service/internal/notify"
	"gate-service/internal/override"
	"gate-service/internal/repository"
	"gate-service/internal/service"
	"gate-service/internal/storage"
)

type mode string

const (
	modeServe mode = "serve"
	modeExit  mode = "exit"
	modeEntry mode = "entry"
)

// app holds what every mode shares: storage, the override queue and the
// event publisher.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	database  *gorm.DB
	metrics   *metrics.Metrics
	redis     *redis.Client
	queue     *override.RedisQueue
	publisher notify.Publisher
	entries   *service.EntryService
	overrides *service.OverrideService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewWithLevel(cfg.Environment, cfg.LogLevel).
		With().Str("gate", cfg.Validation.GateID).Logger()

	a := &app{cfg: cfg, log: log, publisher: notify.NopPublisher{}}

	a.database, err = db.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	a.metrics, err = metrics.New()
	if err != nil {
		a.close()
		return nil, err
	}

	a.redis, err = override.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.queue = override.NewRedisQueue(a.redis, cfg.Redis.QueueKey, cfg.Validation.GateID, cfg.Validation.OverridePollTimeout)

	a.publisher, err = notify.NewPublisher(cfg.MQTT, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}

	artifacts, err := storage.NewArtifactStore(cfg.Storage, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	repo := repository.NewEntryRepository(a.database)
	a.entries = service.NewEntryService(repo, artifacts, a.publisher, a.metrics.Gate, cfg.Validation.GateID, log.With().Str("component", "entry_service").Logger())
	a.overrides = service.NewOverrideService(a.queue, cfg.Validation.GateID, log.With().Str("component", "override_service").Logger())

	return a, nil
}

func (a *app) close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.database != nil {
		if sqlDB, err := a.database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// run serves the API and, depending on m, one gate controller until ctx ends.
func (a *app) run(ctx context.Context, m mode) error {
	if days := a.cfg.Validation.RetentionDays; days > 0 && m != modeEntry {
		if _, err := a.entries.CleanupExited(ctx, days); err != nil {
			a.log.Warn().Err(err).Msg("retention cleanup failed")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var gateStatus httphandler.GateStatusProvider
	switch m {
	case modeExit, modeEntry:
		hw, err := newHardware(a.cfg, a.metrics.Gate, a.log)
		if err != nil {
			return err
		}
		defer hw.close()

		if m == modeExit {
			ctrl := service.NewExitController(service.ExitDeps{
				Sensor:     hw.sensor,
				Camera:     hw.camera,
				Recognizer: hw.recognizer,
				Store:      repository.NewEntryRepository(a.database),
				Actuator:   hw.actuator,
				Overrides:  a.queue,
				Publisher:  a.publisher,
				Metrics:    a.metrics.Gate,
			}, service.ExitOptions{
				GateID:              a.cfg.Validation.GateID,
				FaceThreshold:       a.cfg.Validation.FaceThreshold,
				SensorWaitTimeout:   a.cfg.Sensor.WaitTimeout,
				SensorRetryDelay:    a.cfg.Sensor.RetryDelay,
				OverrideWaitTimeout: a.cfg.Validation.OverrideWaitTimeout,
				OverrideMarksExited: a.cfg.Validation.OverrideMarksExited,
			}, a.log)
			gateStatus = ctrl
			g.Go(func() error { return ctrl.Run(ctx) })
		} else {
			ctrl := service.NewEntryController(hw.sensor, hw.camera, hw.recognizer, a.entries, service.EntryOptions{
				SensorWaitTimeout: a.cfg.Sensor.WaitTimeout,
				SensorRetryDelay:  a.cfg.Sensor.RetryDelay,
			}, a.log)
			g.Go(func() error { return ctrl.Run(ctx) })
		}
	}

	handler := httphandler.NewHandler(a.entries, a.overrides, gateStatus, a.log)
	authMiddleware := middleware.Auth(auth.NewParser(a.cfg.Auth.AccessSecret))
	router := httphandler.NewRouter(handler, authMiddleware, a.metrics.Handler(), a.cfg.Environment, a.database, a.log)

	addr := fmt.Sprintf("%s:%d", a.cfg.HTTP.Host, a.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.log.Info().Str("addr", addr).Str("mode", string(m)).Msg("starting gate service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("server forced to shutdown")
		}
		return nil
	})

	err := g.Wait()
	a.log.Info().Msg("server exited")
	return err
}

