package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"vehicle-counter-go/internal/models"
)

const (
	testWidth  = 960
	testHeight = 720
)

// shared read-only pixel buffer; frames never write to it
var blankPixels = make([]byte, testWidth*testHeight*3)

func testFrame(seq uint64) models.Frame {
	return models.Frame{Data: blankPixels, Width: testWidth, Height: testHeight, Seq: seq}
}

func testSettings() models.PipelineSettings {
	return models.PipelineSettings{
		ConfidenceThreshold: 0.2,
		LineOffset:          50,
		Orientation:         models.OrientationHorizontal,
		Line1Y:              300,
		Line1X:              455,
		PlaybackSpeed:       1.0,
	}
}

// vehicleAt is a detection whose bottom edge sits at y
func vehicleAt(id int, label string, y float64) models.Detection {
	return models.Detection{TrackID: id, Label: label, BBox: models.BBox{X1: 100, Y1: y - 50, X2: 200, Y2: y}}
}

type fakeDetector struct {
	initErr error
	block   chan struct{} // when set, Detect waits for it to close and ignores ctx

	mu          sync.Mutex
	script      func(call int, frame models.Frame) ([]models.Detection, error)
	calls       int
	confidences []float64

	closed atomic.Bool
}

func (d *fakeDetector) Initialize(context.Context) error {
	return d.initErr
}

func (d *fakeDetector) Detect(_ context.Context, frame models.Frame, confidence float64) (models.Frame, []models.Detection, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.confidences = append(d.confidences, confidence)
	script := d.script
	d.mu.Unlock()

	if d.block != nil {
		<-d.block
	}
	if script == nil {
		return frame, nil, nil
	}
	dets, err := script(call, frame)
	return frame, dets, err
}

func (d *fakeDetector) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDetector) Confidences() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.confidences...)
}

type fakeSource struct {
	kind   models.SourceKind
	fps    float64
	limit  int // frames available before end of stream; 0 means unlimited
	failAt map[int]bool

	mu     sync.Mutex
	reads  int
	closed atomic.Bool
}

func (s *fakeSource) Read() (models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.failAt[s.reads] {
		return models.Frame{}, errors.New("transient read failure")
	}
	if s.limit > 0 && s.reads > s.limit {
		return models.Frame{}, io.EOF
	}
	if s.kind.IsLive() {
		// Live sources deliver at their own rate
		time.Sleep(time.Millisecond)
	}
	return testFrame(0), nil
}

func (s *fakeSource) FPS() float64            { return s.fps }
func (s *fakeSource) Kind() models.SourceKind { return s.kind }

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type recordingSink struct {
	mu       sync.Mutex
	runs     []string
	states   []State
	frames   int
	events   []models.CountingEvent
	counts   models.VehicleCounts
	warnings []string
	errs     []error
}

func (s *recordingSink) RunStarted(runID string, _ models.SourceSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, runID)
}

func (s *recordingSink) StateChanged(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) Frame(models.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
}

func (s *recordingSink) Data(events []models.CountingEvent, counts models.VehicleCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	s.counts = counts
}

func (s *recordingSink) Warning(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, message)
}

func (s *recordingSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) snapshot() recordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordingSink{
		runs:     append([]string(nil), s.runs...),
		states:   append([]State(nil), s.states...),
		frames:   s.frames,
		events:   append([]models.CountingEvent(nil), s.events...),
		counts:   s.counts.Clone(),
		warnings: append([]string(nil), s.warnings...),
		errs:     append([]error(nil), s.errs...),
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
