package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/detection"
)

// WorkerSpec is everything a spawned worker needs for one run
type WorkerSpec struct {
	RunID           string
	Settings        models.PipelineSettings
	SettingsVersion uint64
	Frames          *FrameQueue
	Results         *ResultQueue
	Stop            *StopFlag
}

// WorkerHandle controls a spawned worker from the controlling goroutine
type WorkerHandle interface {
	// Alive reports whether the worker has not exited yet
	Alive() bool
	// Terminate forcibly ends the worker without waiting for it
	Terminate() error
	Done() <-chan struct{}
}

// Spawner starts a worker in an isolated execution context
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (WorkerHandle, error)
}

// InProcessSpawner runs the worker on its own goroutine. Forced termination
// cancels the worker's context and abandons it; anything it still emits goes
// to a result queue nobody reads anymore.
type InProcessSpawner struct {
	Config      WorkerConfig
	NewDetector func() detection.Detector
	Annotator   Annotator
	Logger      zerolog.Logger
}

func (s *InProcessSpawner) Spawn(ctx context.Context, spec WorkerSpec) (WorkerHandle, error) {
	wctx, cancel := context.WithCancel(ctx)
	h := &goroutineHandle{cancel: cancel, done: make(chan struct{})}

	logger := s.Logger.With().Str("run_id", spec.RunID).Str("mode", "inprocess").Logger()
	w := NewWorker(s.Config, spec.RunID, spec.Settings, spec.SettingsVersion,
		s.NewDetector(), spec.Frames, spec.Results, spec.Stop,
		WithAnnotator(s.Annotator), WithWorkerLogger(logger))

	go func() {
		defer close(h.done)
		if err := w.Run(wctx); err != nil {
			logger.Warn().Err(err).Msg("Worker exited with error")
		}
	}()
	return h, nil
}

type goroutineHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *goroutineHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *goroutineHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *goroutineHandle) Done() <-chan struct{} {
	return h.done
}
