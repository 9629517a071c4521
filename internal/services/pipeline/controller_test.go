package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/counting"
	"vehicle-counter-go/internal/services/detection"
)

type controllerHarness struct {
	ctrl *Controller
	sink *recordingSink

	mu        sync.Mutex
	detectors []*fakeDetector
	sources   []*fakeSource
	openErr   error
	fileLimit int
}

func newControllerHarness(t *testing.T, detectors ...*fakeDetector) *controllerHarness {
	t.Helper()
	h := &controllerHarness{sink: &recordingSink{}, detectors: detectors, fileLimit: 200}

	spawner := &InProcessSpawner{
		Config: WorkerConfig{
			ReadTimeout: 5 * time.Millisecond,
			Canvas:      counting.Canvas{Width: testWidth, Height: testHeight},
		},
		NewDetector: h.nextDetector,
		Logger:      zerolog.Nop(),
	}
	cfg := ControllerConfig{
		DispatchInterval:     5 * time.Millisecond,
		ShutdownPollInterval: 5 * time.Millisecond,
		ShutdownMaxAttempts:  4,
		Producer:             ProducerConfig{MaxFPS: 2000, LiveRetryDelay: time.Millisecond},
	}
	h.ctrl = NewController(cfg, h.open, spawner, h.sink, testSettings(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *controllerHarness) nextDetector() detection.Detector {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.detectors) == 0 {
		return &fakeDetector{}
	}
	d := h.detectors[0]
	h.detectors = h.detectors[1:]
	return d
}

func (h *controllerHarness) open(spec models.SourceSpec) (FrameSource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	src := &fakeSource{kind: spec.Kind, fps: 1000}
	if spec.Kind == models.SourceFile {
		src.limit = h.fileLimit
	}
	h.sources = append(h.sources, src)
	return src, nil
}

func (h *controllerHarness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want },
		2*time.Second, time.Millisecond, "waiting for %s, at %s", want, h.ctrl.State())
}

// crossingScript moves track 7 from the first line to the second
func crossingScript(call int, _ models.Frame) ([]models.Detection, error) {
	if call == 1 {
		return []models.Detection{vehicleAt(7, "Gol 1", 300)}, nil
	}
	return []models.Detection{vehicleAt(7, "Gol 1", 350)}, nil
}

func TestControllerFileRunCountsAndStopsAtEndOfStream(t *testing.T) {
	h := newControllerHarness(t, &fakeDetector{script: crossingScript})

	runID, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "traffic.mp4"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		snap := h.sink.snapshot()
		return len(snap.states) > 0 && snap.states[len(snap.states)-1] == StateIdle
	}, 3*time.Second, 2*time.Millisecond)

	snap := h.sink.snapshot()
	assert.Equal(t, []string{runID}, snap.runs)
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateIdle}, snap.states)
	assert.Positive(t, snap.frames)
	require.Len(t, snap.events, 1)
	assert.Equal(t, runID, snap.events[0].RunID)
	assert.Equal(t, 7, snap.events[0].TrackID)
	assert.Equal(t, models.DirectionIn, snap.events[0].Direction)
	assert.Equal(t, models.DirectionCounts{In: 1}, snap.counts["Gol 1"])
	assert.Empty(t, snap.errs)

	assert.True(t, h.sources[0].closed.Load())
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Status().RunID)
}

func TestControllerRejectsSecondStartAndStopsOnRequest(t *testing.T) {
	det := &fakeDetector{}
	h := newControllerHarness(t, det)

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)
	h.waitState(t, StateRunning)

	_, err = h.ctrl.Start(context.Background(), models.SourceSpec{URI: "1"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	st := h.ctrl.Status()
	assert.Equal(t, "running", st.State)
	require.NotNil(t, st.Source)
	assert.Equal(t, models.SourceCamera, st.Source.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Stop(ctx))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.True(t, det.closed.Load(), "worker finished cooperatively")

	// Stopping an idle pipeline is a no-op
	require.NoError(t, h.ctrl.Stop(ctx))
}

func TestControllerDetectorInitFailureReturnsToIdle(t *testing.T) {
	h := newControllerHarness(t, &fakeDetector{initErr: errors.New("weights not found")}, &fakeDetector{})

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := h.sink.snapshot()
		return len(snap.errs) == 1 && h.ctrl.State() == StateIdle
	}, 2*time.Second, time.Millisecond)

	snap := h.sink.snapshot()
	assert.ErrorIs(t, snap.errs[0], ErrDetectorFailed)
	assert.NotContains(t, snap.states, StateRunning)
	assert.Zero(t, snap.frames)
	assert.Contains(t, h.ctrl.Status().LastError, "weights not found")
	assert.True(t, h.sources[0].closed.Load(), "source released without a producer")

	// A fresh start is allowed afterwards
	_, err = h.ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)
	h.waitState(t, StateRunning)
	assert.Empty(t, h.ctrl.Status().LastError)
}

func TestControllerForcesTerminationOfStuckWorker(t *testing.T) {
	block := make(chan struct{})
	det := &fakeDetector{block: block}
	t.Cleanup(func() { close(block) })
	h := newControllerHarness(t, det)

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "rtsp://cam/1"})
	require.NoError(t, err)
	h.waitState(t, StateRunning)
	require.Eventually(t, func() bool { return det.Calls() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	started := time.Now()
	require.NoError(t, h.ctrl.Stop(ctx))

	assert.Equal(t, StateIdle, h.ctrl.State())
	// Four polls at 5ms, with generous slack for slow machines
	assert.Less(t, time.Since(started), time.Second)
	assert.False(t, det.closed.Load(), "stuck worker was abandoned, not joined")
}

func TestControllerSourceOpenFailure(t *testing.T) {
	h := newControllerHarness(t)
	h.openErr = errors.New("no such file")

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "missing.mp4"})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.sink.snapshot().runs)
}

func TestControllerSettingsReachRunningWorker(t *testing.T) {
	det := &fakeDetector{}
	h := newControllerHarness(t, det)

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)
	h.waitState(t, StateRunning)

	s := testSettings()
	s.ConfidenceThreshold = 0.55
	require.NoError(t, h.ctrl.UpdateSettings(context.Background(), s))
	assert.Equal(t, 0.55, h.ctrl.Settings().ConfidenceThreshold)

	require.Eventually(t, func() bool {
		confs := det.Confidences()
		return len(confs) > 0 && confs[len(confs)-1] == 0.55
	}, 2*time.Second, time.Millisecond)

	bad := testSettings()
	bad.Orientation = "Diagonal"
	err = h.ctrl.UpdateSettings(context.Background(), bad)
	assert.ErrorIs(t, err, models.ErrInvalidSettings)
	assert.Equal(t, 0.55, h.ctrl.Settings().ConfidenceThreshold)
}

func TestControllerSettingsWhileIdleApplyToNextRun(t *testing.T) {
	det := &fakeDetector{}
	h := newControllerHarness(t, det)

	s := testSettings()
	s.ConfidenceThreshold = 0.8
	require.NoError(t, h.ctrl.UpdateSettings(context.Background(), s))

	_, err := h.ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return det.Calls() > 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0.8, det.Confidences()[0])
}

type exitingSpawner struct{}

func (exitingSpawner) Spawn(context.Context, WorkerSpec) (WorkerHandle, error) {
	h := &goroutineHandle{cancel: func() {}, done: make(chan struct{})}
	close(h.done)
	return h, nil
}

func TestControllerDetectsWorkerThatDiedSilently(t *testing.T) {
	sink := &recordingSink{}
	open := func(models.SourceSpec) (FrameSource, error) { return &fakeSource{kind: models.SourceCamera}, nil }
	ctrl := NewController(ControllerConfig{DispatchInterval: 5 * time.Millisecond, ShutdownPollInterval: 5 * time.Millisecond},
		open, exitingSpawner{}, sink, testSettings(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	_, err := ctrl.Start(context.Background(), models.SourceSpec{URI: "0"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ctrl.State() == StateIdle && len(sink.snapshot().errs) == 1
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, sink.snapshot().errs[0], ErrWorkerExited)
}

func TestControllerClosed(t *testing.T) {
	ctrl := NewController(ControllerConfig{}, nil, &InProcessSpawner{}, nil, testSettings(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	cancel()
	<-done

	err := ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrControllerClosed)
}
