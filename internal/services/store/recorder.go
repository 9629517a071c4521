package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

const recorderBacklog = 256

// Recorder is a pipeline sink that writes runs and events to the store on
// its own goroutine, in arrival order
type Recorder struct {
	pipeline.NopSink

	store   *Store
	logger  zerolog.Logger
	timeout time.Duration

	ops  chan func(context.Context) error
	done chan struct{}
	once sync.Once

	// owned by the dispatching goroutine
	runID     string
	lastError string
}

func NewRecorder(store *Store, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
		ops:     make(chan func(context.Context) error, recorderBacklog),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("Event recorder panicked")
		}
	}()

	for op := range r.ops {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := op(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Failed to persist counting data")
		}
		cancel()
	}
}

func (r *Recorder) enqueue(op func(context.Context) error) {
	r.ops <- op
}

func (r *Recorder) RunStarted(runID string, source models.SourceSpec) {
	r.runID = runID
	r.lastError = ""
	r.enqueue(func(ctx context.Context) error {
		return r.store.RecordRun(ctx, runID, source)
	})
}

func (r *Recorder) StateChanged(state pipeline.State) {
	if state != pipeline.StateIdle || r.runID == "" {
		return
	}
	runID, lastError := r.runID, r.lastError
	r.enqueue(func(ctx context.Context) error {
		return r.store.FinishRun(ctx, runID, lastError)
	})
}

func (r *Recorder) Data(events []models.CountingEvent, _ models.VehicleCounts) {
	if len(events) == 0 {
		return
	}
	batch := append([]models.CountingEvent(nil), events...)
	r.enqueue(func(ctx context.Context) error {
		return r.store.Record(ctx, batch)
	})
}

func (r *Recorder) Error(err error) {
	r.lastError = err.Error()
}

// Close flushes pending writes. Sink calls after Close panic.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.ops)
		<-r.done
	})
}
