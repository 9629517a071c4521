package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/counting"
	"vehicle-counter-go/internal/services/detection"
)

// FrameReceiver is the read side of the frame channel
type FrameReceiver interface {
	Receive(timeout time.Duration) (models.FrameMessage, error)
}

// ResultEmitter is the write side of the result channel
type ResultEmitter interface {
	Put(models.Result)
}

// Annotator draws the counting overlay on a frame
type Annotator interface {
	Annotate(frame models.Frame, geom counting.Geometry, detections []models.Detection, counts models.VehicleCounts) models.Frame
}

type nopAnnotator struct{}

func (nopAnnotator) Annotate(frame models.Frame, _ counting.Geometry, _ []models.Detection, _ models.VehicleCounts) models.Frame {
	return frame
}

// WorkerConfig holds the worker's fixed parameters
type WorkerConfig struct {
	ReadTimeout time.Duration
	AssumedFPS  float64
	Canvas      counting.Canvas
	Counting    counting.Options
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.AssumedFPS <= 0 {
		c.AssumedFPS = 30
	}
	return c
}

// WorkerOption customises a Worker
type WorkerOption func(*Worker)

func WithAnnotator(a Annotator) WorkerOption {
	return func(w *Worker) {
		if a != nil {
			w.annotator = a
		}
	}
}

func WithClock(c Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

func WithWorkerLogger(logger zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// Worker pulls frames, runs the detector and counter, and emits results.
// All counting state lives here and leaves only as copies inside results.
type Worker struct {
	cfg       WorkerConfig
	runID     string
	detector  detection.Detector
	annotator Annotator
	in        FrameReceiver
	out       ResultEmitter
	stop      *StopFlag
	clock     Clock
	logger    zerolog.Logger

	settings        models.PipelineSettings
	settingsVersion uint64
	counter         *counting.Counter

	frameIndex   int
	baseTime     time.Time
	offset       time.Duration
	detectFailed int
}

func NewWorker(cfg WorkerConfig, runID string, settings models.PipelineSettings, settingsVersion uint64,
	detector detection.Detector, in FrameReceiver, out ResultEmitter, stop *StopFlag, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:             cfg.withDefaults(),
		runID:           runID,
		detector:        detector,
		annotator:       nopAnnotator{},
		in:              in,
		out:             out,
		stop:            stop,
		clock:           realClock{},
		logger:          zerolog.Nop(),
		settings:        settings,
		settingsVersion: settingsVersion,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.counter = counting.NewCounter(w.cfg.Counting)
	return w
}

// Run initializes the detector and processes frames until stopped, the frame
// queue is closed or ctx is cancelled. A detector initialization failure is
// reported as a single DetectorError result.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Worker panicked")
			err = fmt.Errorf("worker panic: %v", r)
			w.out.Put(models.WarningResult(err.Error()))
		}
	}()

	if err := w.detector.Initialize(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Detector initialization failed")
		w.out.Put(models.DetectorErrorResult(err))
		return fmt.Errorf("initialize detector: %w", err)
	}
	defer func() {
		if cerr := w.detector.Close(); cerr != nil {
			w.logger.Warn().Err(cerr).Msg("Failed to close detector")
		}
	}()

	w.initTimeBase()
	w.out.Put(models.ReadyResult())
	w.logger.Info().Str("run_id", w.runID).Msg("Worker ready")

	for {
		if w.stop.Stopped() || ctx.Err() != nil {
			w.logger.Info().Int("frames", w.frameIndex).Msg("Worker stopping")
			return nil
		}

		msg, err := w.in.Receive(w.cfg.ReadTimeout)
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			continue
		case errors.Is(err, ErrQueueClosed):
			w.logger.Info().Int("frames", w.frameIndex).Msg("Frame queue closed, worker exiting")
			return nil
		case err != nil:
			return err
		}

		w.processFrame(ctx, msg)
	}
}

// initTimeBase pins baseTime to the wall clock at worker start. A user start
// timestamp becomes the offset from it, so later updates rebase the same way.
func (w *Worker) initTimeBase() {
	now := w.clock.Now()
	w.baseTime = now
	w.offset = 0
	if w.settings.StartTimestamp == "" {
		return
	}
	t, err := models.ParseStartTimestamp(w.settings.StartTimestamp, now)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Invalid start timestamp, using wall clock")
		w.out.Put(models.WarningResult(err.Error()))
		return
	}
	w.offset = t.Sub(now)
}

// applySettings swaps in a newer snapshot. The time offset is only
// recomputed when the user start timestamp itself changed.
func (w *Worker) applySettings(s models.PipelineSettings, version uint64) {
	if version != 0 && version <= w.settingsVersion {
		return
	}
	prev := w.settings
	w.settings = s
	w.settingsVersion = version

	if s.StartTimestamp == prev.StartTimestamp {
		return
	}
	if s.StartTimestamp == "" {
		w.offset = 0
		return
	}
	now := w.clock.Now()
	t, err := models.ParseStartTimestamp(s.StartTimestamp, now)
	if err != nil {
		w.offset = 0
		w.logger.Warn().Err(err).Msg("Invalid start timestamp in settings update, offset reset")
		w.out.Put(models.WarningResult(err.Error()))
		return
	}
	w.offset = t.Sub(now)
	w.logger.Info().Dur("offset", w.offset).Msg("Time offset updated")
}

func (w *Worker) processFrame(ctx context.Context, msg models.FrameMessage) {
	if msg.Settings != nil {
		w.applySettings(*msg.Settings, msg.SettingsVersion)
	}

	frame := msg.Frame
	geom := counting.GeometryFor(w.settings, frame.Width, frame.Height, w.cfg.Canvas)

	annotated, detections, err := w.detect(ctx, frame)
	if err != nil {
		w.detectFailed++
		if w.detectFailed == 1 {
			w.out.Put(models.WarningResult(fmt.Sprintf("detector failed on frame %d: %v", w.frameIndex, err)))
		}
		w.logger.Debug().Err(err).Int("frame", w.frameIndex).Int("consecutive_failures", w.detectFailed).Msg("Detection failed, frame not counted")
		w.out.Put(models.FrameResult(w.annotator.Annotate(frame, geom, nil, w.counter.Counts())))
		w.frameIndex++
		return
	}
	if w.detectFailed > 0 {
		w.logger.Info().Int("failed_frames", w.detectFailed).Msg("Detector recovered")
		w.detectFailed = 0
	}

	crossings := w.counter.Process(w.frameIndex, geom, detections)
	counts := w.counter.Counts()

	w.out.Put(models.FrameResult(w.annotator.Annotate(annotated, geom, detections, counts)))

	if len(crossings) > 0 {
		ts := w.eventTime()
		events := make([]models.CountingEvent, 0, len(crossings))
		for _, c := range crossings {
			events = append(events, models.CountingEvent{
				RunID:     w.runID,
				Frame:     w.frameIndex,
				Timestamp: ts,
				TrackID:   c.TrackID,
				Class:     c.Class,
				Direction: c.Direction,
			})
			w.logger.Debug().
				Int("track_id", c.TrackID).
				Str("class", c.Class).
				Str("direction", string(c.Direction)).
				Msg("Vehicle counted")
		}
		w.out.Put(models.DataUpdateResult(events, counts))
	}

	w.frameIndex++
}

// detect invokes the detector, converting a panic into an error
func (w *Worker) detect(ctx context.Context, frame models.Frame) (annotated models.Frame, dets []models.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return w.detector.Detect(ctx, frame, w.settings.ConfidenceThreshold)
}

// eventTime is base + offset + frameIndex at the assumed source rate, to the second
func (w *Worker) eventTime() time.Time {
	elapsed := time.Duration(float64(w.frameIndex) / w.cfg.AssumedFPS * float64(time.Second))
	return w.baseTime.Add(w.offset).Add(elapsed).Truncate(time.Second)
}

// FrameIndex returns the number of frames processed so far
func (w *Worker) FrameIndex() int {
	return w.frameIndex
}
