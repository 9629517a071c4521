package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
)

// State represents the lifecycle state of the pipeline
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRunning    = errors.New("pipeline already running")
	ErrBusy              = errors.New("pipeline is stopping")
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrDetectorFailed    = errors.New("detector initialization failed")
	ErrWorkerExited      = errors.New("worker exited unexpectedly")
	ErrControllerClosed  = errors.New("controller is not running")
)

// SourceOpener opens the video source named by spec
type SourceOpener func(spec models.SourceSpec) (FrameSource, error)

// ControllerConfig holds queue sizing and the lifecycle timing
type ControllerConfig struct {
	FrameQueueSize       int
	DispatchInterval     time.Duration
	ShutdownPollInterval time.Duration
	ShutdownMaxAttempts  int
	Producer             ProducerConfig
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = DefaultFrameQueueSize
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 20 * time.Millisecond
	}
	if c.ShutdownPollInterval <= 0 {
		c.ShutdownPollInterval = 100 * time.Millisecond
	}
	if c.ShutdownMaxAttempts <= 0 {
		c.ShutdownMaxAttempts = 20
	}
	return c
}

// Status is a point-in-time view of the pipeline
type Status struct {
	State         string                  `json:"state"`
	RunID         string                  `json:"run_id,omitempty"`
	Source        *models.SourceSpec      `json:"source,omitempty"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
	Settings      models.PipelineSettings `json:"settings"`
	FramesQueued  int                     `json:"frames_queued"`
	FramesDropped uint64                  `json:"frames_dropped"`
	FramesPushed  uint64                  `json:"frames_pushed"`
	FramesSkipped uint64                  `json:"frames_skipped"`
	LastError     string                  `json:"last_error,omitempty"`
}

// run is the per-start state. Owned by the controller goroutine.
type run struct {
	id        string
	spec      models.SourceSpec
	source    FrameSource
	startedAt time.Time

	frames   *FrameQueue
	results  *ResultQueue
	stop     *StopFlag
	handle   WorkerHandle
	producer *Producer

	producerStarted bool
	producerCancel  context.CancelFunc

	attempts int
	idle     chan struct{}
}

// Controller sequences start/stop, relays settings and dispatches worker
// results. All state transitions happen on the goroutine running Run.
type Controller struct {
	cfg     ControllerConfig
	open    SourceOpener
	spawner Spawner
	sink    Sink
	logger  zerolog.Logger

	state atomic.Int32
	cmds  chan func()
	done  chan struct{}
	ctx   context.Context

	dispatchTicker *time.Ticker
	shutdownTicker *time.Ticker

	mu              sync.RWMutex
	settings        models.PipelineSettings
	settingsVersion uint64
	lastError       string
	run             *run
}

func NewController(cfg ControllerConfig, open SourceOpener, spawner Spawner, sink Sink,
	settings models.PipelineSettings, logger zerolog.Logger) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	return &Controller{
		cfg:             cfg.withDefaults(),
		open:            open,
		spawner:         spawner,
		sink:            sink,
		logger:          logger,
		cmds:            make(chan func(), 16),
		done:            make(chan struct{}),
		settings:        settings,
		settingsVersion: 1,
	}
}

// Run drives the controller until ctx is cancelled. An active run is
// terminated immediately on exit.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	c.dispatchTicker = time.NewTicker(c.cfg.DispatchInterval)
	c.dispatchTicker.Stop()
	c.shutdownTicker = time.NewTicker(c.cfg.ShutdownPollInterval)
	c.shutdownTicker.Stop()
	defer c.dispatchTicker.Stop()
	defer c.shutdownTicker.Stop()

	c.logger.Info().
		Dur("dispatch_interval", c.cfg.DispatchInterval).
		Dur("shutdown_poll_interval", c.cfg.ShutdownPollInterval).
		Int("shutdown_max_attempts", c.cfg.ShutdownMaxAttempts).
		Msg("Pipeline controller started")

	for {
		select {
		case <-ctx.Done():
			c.abort()
			c.logger.Info().Msg("Pipeline controller stopped")
			return nil
		case fn := <-c.cmds:
			fn()
		case <-c.dispatchTicker.C:
			c.dispatch()
		case <-c.shutdownTicker.C:
			c.pollShutdown()
		}
	}
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start opens the source and spawns a worker. It returns once the run is
// Starting; Running follows when the worker reports ready.
func (c *Controller) Start(ctx context.Context, spec models.SourceSpec) (string, error) {
	switch c.State() {
	case StateStarting, StateRunning:
		return "", ErrAlreadyRunning
	case StateStopping:
		return "", ErrBusy
	}

	spec = spec.Resolve()
	src, err := c.open(spec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var runID string
	queued, err := c.exec(ctx, func() error {
		id, err := c.start(spec, src)
		runID = id
		return err
	})
	if !queued {
		src.Close()
	}
	return runID, err
}

// Stop asks the worker to finish and waits until the pipeline is Idle or ctx
// expires. Stopping an idle pipeline is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	var idle <-chan struct{}
	if _, err := c.exec(ctx, func() error {
		idle = c.beginStop("stop requested")
		return nil
	}); err != nil {
		return err
	}
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops any active run and waits for Idle or ctx expiry. A
// controller that already exited counts as shut down.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrControllerClosed) {
		return err
	}
	return nil
}

// UpdateSettings validates s and makes it the active snapshot. A running
// worker receives it with the next frame.
func (c *Controller) UpdateSettings(ctx context.Context, s models.PipelineSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := c.exec(ctx, func() error {
		c.mu.Lock()
		c.settings = s
		c.settingsVersion++
		version := c.settingsVersion
		r := c.run
		c.mu.Unlock()

		if r != nil {
			r.producer.PushSettings(s, version)
		}
		c.logger.Info().
			Float64("confidence", s.ConfidenceThreshold).
			Int("line_offset", s.LineOffset).
			Str("orientation", string(s.Orientation)).
			Int("line_position", s.LinePosition()).
			Float64("playback_speed", s.PlaybackSpeed).
			Msg("Pipeline settings updated")
		return nil
	})
	return err
}

func (c *Controller) Settings() models.PipelineSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:     c.State().String(),
		Settings:  c.settings,
		LastError: c.lastError,
	}
	if r := c.run; r != nil {
		spec := r.spec
		started := r.startedAt
		st.RunID = r.id
		st.Source = &spec
		st.StartedAt = &started
		st.FramesQueued = r.frames.Len()
		st.FramesDropped = r.frames.Dropped()
		st.FramesPushed, st.FramesSkipped = r.producer.Stats()
	}
	return st
}

// exec runs fn on the controller goroutine and waits for its result.
// queued reports whether fn was handed over at all.
func (c *Controller) exec(ctx context.Context, fn func() error) (queued bool, err error) {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-c.done:
		return false, ErrControllerClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case err := <-reply:
		return true, err
	case <-c.done:
		return true, ErrControllerClosed
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// post queues fn without waiting; dropped once the controller has exited
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("Pipeline state changed")
	c.sink.StateChanged(s)
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	c.sink.Error(err)
}

func (c *Controller) start(spec models.SourceSpec, src FrameSource) (string, error) {
	switch c.State() {
	case StateStarting, StateRunning:
		src.Close()
		return "", ErrAlreadyRunning
	case StateStopping:
		src.Close()
		return "", ErrBusy
	}

	c.mu.RLock()
	settings, version := c.settings, c.settingsVersion
	c.mu.RUnlock()

	r := &run{
		id:        uuid.NewString(),
		spec:      spec,
		source:    src,
		startedAt: time.Now(),
		frames:    NewFrameQueue(c.cfg.FrameQueueSize),
		results:   NewResultQueue(),
		stop:      NewStopFlag(),
		idle:      make(chan struct{}),
	}
	logger := c.logger.With().Str("run_id", r.id).Logger()
	r.producer = NewProducer(c.cfg.Producer, src, r.frames, r.stop, settings.PlaybackSpeed, logger)

	handle, err := c.spawner.Spawn(c.ctx, WorkerSpec{
		RunID:           r.id,
		Settings:        settings,
		SettingsVersion: version,
		Frames:          r.frames,
		Results:         r.results,
		Stop:            r.stop,
	})
	if err != nil {
		src.Close()
		err = fmt.Errorf("spawn worker: %w", err)
		c.recordError(err)
		return "", err
	}
	r.handle = handle

	c.mu.Lock()
	c.run = r
	c.lastError = ""
	c.mu.Unlock()

	c.sink.RunStarted(r.id, spec)
	c.setState(StateStarting)
	c.dispatchTicker.Reset(c.cfg.DispatchInterval)

	logger.Info().
		Str("source", spec.URI).
		Str("kind", spec.Kind.String()).
		Msg("Pipeline run starting")
	return r.id, nil
}

// dispatch applies everything the worker produced since the last tick
func (c *Controller) dispatch() {
	r := c.run
	if r == nil {
		c.dispatchTicker.Stop()
		return
	}

	for _, res := range r.results.DrainAll() {
		switch res.Kind {
		case models.ResultReady:
			if c.State() == StateStarting {
				c.setState(StateRunning)
				c.startProducer(r)
			}
		case models.ResultDetectorError:
			c.recordError(fmt.Errorf("%w: %s", ErrDetectorFailed, res.Message))
			c.beginStop("detector error")
		case models.ResultFrame:
			if c.State() == StateRunning && res.Frame != nil {
				c.sink.Frame(*res.Frame)
			}
		case models.ResultDataUpdate:
			if c.State() == StateRunning {
				c.sink.Data(res.Events, res.Counts)
			}
		case models.ResultWarning:
			c.logger.Warn().Str("run_id", r.id).Str("warning", res.Message).Msg("Worker warning")
			c.sink.Warning(res.Message)
		default:
			c.logger.Warn().Str("kind", string(res.Kind)).Msg("Unknown result kind")
		}
	}

	// Everything the worker sent has been applied; if it is gone now it died on its own
	if st := c.State(); (st == StateStarting || st == StateRunning) && !r.handle.Alive() && r.results.Len() == 0 {
		c.recordError(ErrWorkerExited)
		c.beginStop("worker exited")
	}
}

func (c *Controller) startProducer(r *run) {
	ctx, cancel := context.WithCancel(c.ctx)
	r.producerCancel = cancel
	r.producerStarted = true

	logger := c.logger.With().Str("run_id", r.id).Logger()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("Frame producer panicked")
			}
		}()

		err := r.producer.Run(ctx)
		if errors.Is(err, ErrEndOfStream) {
			c.post(func() {
				if c.run == r {
					c.beginStop("end of stream")
				}
			})
		}
	}()
}

// beginStop raises the stop flag and starts liveness polling. It returns a
// channel closed once the run reaches Idle, or nil when nothing is running.
func (c *Controller) beginStop(reason string) <-chan struct{} {
	r := c.run
	if r == nil {
		return nil
	}
	if c.State() == StateStopping {
		return r.idle
	}

	c.logger.Info().Str("run_id", r.id).Str("reason", reason).Msg("Stopping pipeline run")
	c.setState(StateStopping)
	r.stop.Stop()
	r.attempts = 0
	c.dispatchTicker.Stop()
	c.shutdownTicker.Reset(c.cfg.ShutdownPollInterval)
	return r.idle
}

func (c *Controller) pollShutdown() {
	r := c.run
	if r == nil || c.State() != StateStopping {
		c.shutdownTicker.Stop()
		return
	}

	r.attempts++
	if !r.handle.Alive() {
		c.finish(r, false)
		return
	}
	if r.attempts >= c.cfg.ShutdownMaxAttempts {
		c.logger.Warn().
			Str("run_id", r.id).
			Int("attempts", r.attempts).
			Msg("Worker did not stop in time, terminating")
		if err := r.handle.Terminate(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to terminate worker")
		}
		c.finish(r, true)
	}
}

// finish drains both queues and returns to Idle
func (c *Controller) finish(r *run, forced bool) {
	c.shutdownTicker.Stop()
	c.dispatchTicker.Stop()

	if r.producerCancel != nil {
		r.producerCancel()
	}
	if !r.producerStarted {
		// The producer owns the source once started
		if err := r.source.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close video source")
		}
	}

	droppedFrames := r.frames.Drain()
	r.frames.Close()
	droppedResults := len(r.results.DrainAll())

	c.mu.Lock()
	c.run = nil
	c.mu.Unlock()

	c.logger.Info().
		Str("run_id", r.id).
		Bool("forced", forced).
		Int("attempts", r.attempts).
		Int("drained_frames", droppedFrames).
		Int("drained_results", droppedResults).
		Msg("Pipeline run stopped")

	c.setState(StateIdle)
	close(r.idle)
}

// abort ends an active run without waiting; used when the controller exits
func (c *Controller) abort() {
	r := c.run
	if r == nil {
		return
	}
	c.state.Store(int32(StateStopping))
	r.stop.Stop()
	if err := r.handle.Terminate(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to terminate worker")
	}
	c.finish(r, true)
}
