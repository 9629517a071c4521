package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/detection"
)

// envelopeEmitter writes results back to the controlling process
type envelopeEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	stop   *StopFlag
	logger zerolog.Logger
	failed bool
}

func (e *envelopeEmitter) Put(r models.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed {
		return
	}
	if err := writeEnvelope(e.w, envelope{Type: envelopeResult, Result: &r}); err != nil {
		// Parent went away; nothing left to serve
		e.failed = true
		e.logger.Error().Err(err).Msg("Failed to write result, stopping")
		e.stop.Stop()
	}
}

// ServeWorker is the worker process side of the envelope protocol. It waits
// for the init envelope on r, then runs a Worker fed from r and reporting to
// w until a stop envelope arrives, r closes or ctx is cancelled.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, cfg WorkerConfig, queueSize int,
	detector detection.Detector, logger zerolog.Logger, opts ...WorkerOption) error {
	hello, err := readEnvelope(r)
	if err != nil {
		return fmt.Errorf("failed to read init envelope: %w", err)
	}
	if hello.Type != envelopeInit || hello.Settings == nil {
		return fmt.Errorf("expected init envelope, got %q", hello.Type)
	}

	logger = logger.With().Str("run_id", hello.RunID).Logger()
	frames := NewFrameQueue(queueSize)
	stop := NewStopFlag()
	out := &envelopeEmitter{w: w, stop: stop, logger: logger}

	go func() {
		defer frames.Close()
		for {
			env, err := readEnvelope(r)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn().Err(err).Msg("Control stream failed")
				}
				stop.Stop()
				return
			}
			switch env.Type {
			case envelopeFrame:
				if env.Frame != nil {
					frames.Push(*env.Frame)
				}
			case envelopeStop:
				logger.Info().Msg("Stop requested by controller")
				stop.Stop()
				return
			default:
				logger.Warn().Str("type", string(env.Type)).Msg("Ignoring unexpected envelope")
			}
		}
	}()

	opts = append([]WorkerOption{WithWorkerLogger(logger)}, opts...)
	worker := NewWorker(cfg, hello.RunID, *hello.Settings, hello.SettingsVersion, detector, frames, out, stop, opts...)
	return worker.Run(ctx)
}
