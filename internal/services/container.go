package services

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/config"
	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/board"
	"vehicle-counter-go/internal/services/counting"
	"vehicle-counter-go/internal/services/detection"
	"vehicle-counter-go/internal/services/messaging"
	"vehicle-counter-go/internal/services/overlay"
	"vehicle-counter-go/internal/services/pipeline"
	"vehicle-counter-go/internal/services/publisher/mjpeg"
	"vehicle-counter-go/internal/services/store"
	"vehicle-counter-go/internal/services/streamcapture"
)

const (
	WorkerModeProcess   = "process"
	WorkerModeInProcess = "inprocess"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config     *config.Config
	Controller *pipeline.Controller
	Board      *board.Board
	Preview    *mjpeg.Publisher
	Store      *store.Store
	Messaging  *messaging.Service

	recorder    *store.Recorder
	settingsSub *nats.Subscription
	logger      zerolog.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

// DefaultSettings builds the startup settings snapshot from configuration
func DefaultSettings(cfg *config.Config) models.PipelineSettings {
	return models.PipelineSettings{
		ConfidenceThreshold: cfg.DefaultConfidence,
		LineOffset:          cfg.DefaultLineOffset,
		Orientation:         models.Orientation(cfg.DefaultOrientation),
		Line1Y:              cfg.DefaultLine1Y(),
		Line1X:              cfg.DefaultLine1X(),
		PlaybackSpeed:       cfg.DefaultPlaybackSpeed,
	}
}

// WorkerConfig derives the worker parameters shared by both isolation modes
func WorkerConfig(cfg *config.Config) pipeline.WorkerConfig {
	return pipeline.WorkerConfig{
		ReadTimeout: cfg.WorkerReadTimeout,
		AssumedFPS:  cfg.AssumedFPS,
		Canvas:      counting.Canvas{Width: cfg.DisplayWidth, Height: cfg.DisplayHeight},
		Counting: counting.Options{
			Classes:     cfg.VehicleClasses,
			Proximity:   cfg.ProximityPx,
			StaleFrames: cfg.StaleFrames,
		},
	}
}

// NewDetector builds the gRPC detector client from configuration
func NewDetector(cfg *config.Config, logger zerolog.Logger) detection.Detector {
	return detection.NewGRPCDetector(cfg.DetectorGRPCURL,
		detection.WithHealthTimeout(cfg.DetectorTimeout),
		detection.WithLogger(logger.With().Str("component", "detector").Logger()))
}

// NewServiceContainer creates a new service container and starts the pipeline controller
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	logger := logging.NewServiceLogger(cfg, "pipeline")

	settings := DefaultSettings(cfg)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}

	sc := &ServiceContainer{
		Config:  cfg,
		Board:   board.New(cfg.VehicleClasses),
		Preview: mjpeg.NewPublisher(cfg.JPEGQuality, logging.NewServiceLogger(cfg, "preview")),
		logger:  logger,
		done:    make(chan struct{}),
	}
	sinks := pipeline.MultiSink{sc.Board, sc.Preview}

	if cfg.StoreEnabled {
		st, err := store.Open(cfg.StorePath, logging.NewServiceLogger(cfg, "store"))
		if err != nil {
			return nil, err
		}
		sc.Store = st
		sc.recorder = store.NewRecorder(st, logging.NewServiceLogger(cfg, "store"))
		sinks = append(sinks, sc.recorder)
	}

	if cfg.NatsEnabled {
		msg, err := messaging.NewService(cfg)
		if err != nil {
			// Counting works without the bus
			logger.Warn().Err(err).Str("url", cfg.NatsURL).Msg("NATS unavailable, event feed disabled")
		} else {
			sc.Messaging = msg
			sinks = append(sinks, messaging.NewEventSink(msg, cfg.EventsSubject, cfg.WorkerID, logging.NewServiceLogger(cfg, "messaging")))
		}
	}

	spawner, err := newSpawner(cfg, logger)
	if err != nil {
		sc.closeBackends(context.Background())
		return nil, err
	}

	ctrlCfg := pipeline.ControllerConfig{
		FrameQueueSize:       cfg.FrameQueueSize,
		DispatchInterval:     cfg.DispatchInterval,
		ShutdownPollInterval: cfg.ShutdownPollInterval,
		ShutdownMaxAttempts:  cfg.ShutdownMaxAttempts,
		Producer: pipeline.ProducerConfig{
			LiveRetryDelay:        cfg.LiveRetryDelay,
			BackpressureThreshold: cfg.LiveBackpressureThreshold,
			DefaultFPS:            cfg.AssumedFPS,
		},
	}
	sc.Controller = pipeline.NewController(ctrlCfg, streamcapture.Opener(logger), spawner, sinks, settings, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel
	go func() {
		defer close(sc.done)
		if err := sc.Controller.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Pipeline controller failed")
		}
	}()

	if sc.Messaging != nil {
		sub, err := messaging.SubscribeSettings(sc.Messaging, cfg.SettingsSubject, sc.Controller,
			cfg.NatsConnectTimeout, logging.NewServiceLogger(cfg, "messaging"))
		if err != nil {
			logger.Warn().Err(err).Msg("Remote settings updates disabled")
		} else {
			sc.settingsSub = sub
		}
	}

	logger.Info().
		Str("worker_mode", cfg.WorkerMode).
		Str("detector", cfg.DetectorGRPCURL).
		Bool("store", sc.Store != nil).
		Bool("nats", sc.Messaging != nil).
		Msg("Services initialized")
	return sc, nil
}

func newSpawner(cfg *config.Config, logger zerolog.Logger) (pipeline.Spawner, error) {
	switch cfg.WorkerMode {
	case WorkerModeProcess:
		return &pipeline.ProcessSpawner{
			Binary: cfg.WorkerBinary,
			Env:    []string{"WORKER_ID=" + cfg.WorkerID},
			Logger: logger,
		}, nil
	case WorkerModeInProcess:
		return &pipeline.InProcessSpawner{
			Config:      WorkerConfig(cfg),
			NewDetector: func() detection.Detector { return NewDetector(cfg, logger) },
			Annotator:   overlay.NewAnnotator(logger),
			Logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown WORKER_MODE %q (want %q or %q)", cfg.WorkerMode, WorkerModeProcess, WorkerModeInProcess)
	}
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var firstErr error
	if sc.Controller != nil {
		if err := sc.Controller.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if sc.cancel != nil {
		sc.cancel()
		select {
		case <-sc.done:
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}
	if err := sc.closeBackends(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (sc *ServiceContainer) closeBackends(ctx context.Context) error {
	var firstErr error
	if sc.settingsSub != nil {
		if err := sc.settingsSub.Unsubscribe(); err != nil {
			sc.logger.Warn().Err(err).Msg("Failed to unsubscribe settings")
		}
	}
	if sc.recorder != nil {
		sc.recorder.Close()
	}
	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
