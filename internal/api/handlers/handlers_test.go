package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/board"
	"vehicle-counter-go/internal/services/pipeline"
	"vehicle-counter-go/internal/services/store"
)

type fakeControl struct {
	settings models.PipelineSettings
	state    string
	startErr error
	stopErr  error
	started  []models.SourceSpec
	stops    int
}

func (f *fakeControl) Start(_ context.Context, spec models.SourceSpec) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, spec)
	f.state = pipeline.StateStarting.String()
	return "run-1", nil
}

func (f *fakeControl) Stop(context.Context) error {
	f.stops++
	return f.stopErr
}

func (f *fakeControl) UpdateSettings(_ context.Context, s models.PipelineSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f.settings = s
	return nil
}

func (f *fakeControl) Settings() models.PipelineSettings { return f.settings }

func (f *fakeControl) Status() pipeline.Status {
	return pipeline.Status{State: f.state, Settings: f.settings, FramesPushed: 12, FramesDropped: 3}
}

type fakePreview struct {
	jpeg []byte
}

func (f *fakePreview) LatestJPEG() ([]byte, bool) { return f.jpeg, f.jpeg != nil }

func (f *fakePreview) StreamMJPEGHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)
}

func (f *fakePreview) Viewers() int { return 0 }

type fakeRunStore struct {
	runs   []store.Run
	events map[string][]models.CountingEvent
	err    error
}

func (f *fakeRunStore) Runs(context.Context, int) ([]store.Run, error) { return f.runs, f.err }

func (f *fakeRunStore) Events(_ context.Context, runID string, limit int) ([]models.CountingEvent, error) {
	events := f.events[runID]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, f.err
}

func (f *fakeRunStore) Totals(_ context.Context, runID string) (models.VehicleCounts, error) {
	totals := models.VehicleCounts{}
	for _, ev := range f.events[runID] {
		totals.Add(ev.Class, ev.Direction)
	}
	return totals, f.err
}

func defaultSettings() models.PipelineSettings {
	return models.PipelineSettings{
		ConfidenceThreshold: 0.2,
		LineOffset:          50,
		Orientation:         models.OrientationHorizontal,
		Line1Y:              335,
		Line1X:              455,
		PlaybackSpeed:       1,
	}
}

type apiHarness struct {
	ctrl    *fakeControl
	preview *fakePreview
	board   *board.Board
	runs    *fakeRunStore
	router  *gin.Engine
}

func newAPIHarness(t *testing.T, withStore bool) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &apiHarness{
		ctrl:    &fakeControl{settings: defaultSettings(), state: pipeline.StateIdle.String()},
		preview: &fakePreview{},
		board:   board.New([]string{"Gol 1", "Motor"}),
		runs:    &fakeRunStore{events: map[string][]models.CountingEvent{}},
		router:  gin.New(),
	}
	probe := func(spec models.SourceSpec) models.ProbeResult {
		if spec.URI == "missing.mp4" {
			return models.ProbeResult{Message: "video source validation failed", Error: "no such file"}
		}
		return models.ProbeResult{Valid: true, Kind: spec.Kind, Width: 1280, Height: 720, FPS: 25}
	}

	var rs RunStore
	if withStore {
		rs = h.runs
	}
	ph := NewPipelineHandler(h.ctrl, h.preview, probe, time.Second)
	ch := NewCountsHandler(h.board)
	rh := NewRunsHandler(rs)
	hh := NewHealthHandler("counter-1", "1.2.3", func() string { return h.ctrl.state })
	sh := NewSystemHandler("counter-1", h.ctrl, h.preview)

	r := h.router
	r.GET("/", hh.WorkerInfo)
	r.GET("/health", hh.HealthCheck)
	r.POST("/pipeline/start", ph.Start)
	r.POST("/pipeline/stop", ph.Stop)
	r.GET("/pipeline/status", ph.Status)
	r.GET("/pipeline/settings", ph.GetSettings)
	r.PUT("/pipeline/settings", ph.UpdateSettings)
	r.GET("/pipeline/frame.jpg", ph.LatestFrame)
	r.GET("/pipeline/stream", ph.Stream)
	r.POST("/sources/probe", ph.ProbeSource)
	r.GET("/events", ch.Events)
	r.GET("/counts", ch.Counts)
	r.POST("/counts/reset", ch.Reset)
	r.GET("/warnings", ch.Warnings)
	r.GET("/board", ch.Board)
	r.GET("/runs", rh.ListRuns)
	r.GET("/runs/:id/events", rh.RunEvents)
	r.GET("/runs/:id/counts", rh.RunCounts)
	r.GET("/system/stats", sh.GetStats)
	return h
}

func (h *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndInfo(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "idle", health.Pipeline)

	info := decode[WorkerInfoResponse](t, h.do(http.MethodGet, "/", ""))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Contains(t, info.Capabilities, "line_crossing_count")
}

func TestStartResolvesSourceKind(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodPost, "/pipeline/start", `{"uri":"rtsp://cam/1"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[StartResponse](t, w)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "starting", resp.State)
	assert.Equal(t, models.SourceNetwork, resp.Source.Kind)

	require.Len(t, h.ctrl.started, 1)
	assert.Equal(t, models.SourceNetwork, h.ctrl.started[0].Kind)
}

func TestStartErrorsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "missing uri", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed body", body: `{"uri":`, want: http.StatusBadRequest},
		{name: "already running", body: `{"uri":"a.mp4"}`, err: pipeline.ErrAlreadyRunning, want: http.StatusConflict},
		{name: "stopping", body: `{"uri":"a.mp4"}`, err: pipeline.ErrBusy, want: http.StatusConflict},
		{name: "source unavailable", body: `{"uri":"a.mp4"}`,
			err: fmt.Errorf("%w: cannot open a.mp4", pipeline.ErrSourceUnavailable), want: http.StatusUnprocessableEntity},
		{name: "controller gone", body: `{"uri":"a.mp4"}`, err: pipeline.ErrControllerClosed, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, false)
			h.ctrl.startErr = tt.err
			w := h.do(http.MethodPost, "/pipeline/start", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestStop(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodPost, "/pipeline/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.ctrl.stops)

	h.ctrl.stopErr = context.DeadlineExceeded
	w = h.do(http.MethodPost, "/pipeline/stop", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestStatusReportsQueueStats(t *testing.T) {
	h := newAPIHarness(t, false)

	st := decode[pipeline.Status](t, h.do(http.MethodGet, "/pipeline/status", ""))
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, uint64(12), st.FramesPushed)
	assert.Equal(t, uint64(3), st.FramesDropped)

	stats := decode[SystemStats](t, h.do(http.MethodGet, "/system/stats", ""))
	assert.Equal(t, "counter-1", stats.WorkerID)
	assert.Equal(t, uint64(3), stats.Pipeline.FramesDropped)
	assert.Positive(t, stats.Goroutines)
}

func TestUpdateSettingsMergesPartialBody(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodPut, "/pipeline/settings", `{"confidence_threshold":0.55,"line_orientation":"Vertical"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[models.PipelineSettings](t, w)
	want := defaultSettings()
	want.ConfidenceThreshold = 0.55
	want.Orientation = models.OrientationVertical
	assert.Equal(t, want, got)
	assert.Equal(t, want, h.ctrl.settings)

	assert.Equal(t, want, decode[models.PipelineSettings](t, h.do(http.MethodGet, "/pipeline/settings", "")))
}

func TestUpdateSettingsRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "orientation", body: `{"line_orientation":"Diagonal"}`},
		{name: "confidence", body: `{"confidence_threshold":1.5}`},
		{name: "timestamp", body: `{"start_timestamp_user":"yesterday noon"}`},
		{name: "malformed", body: `{"line_offset":"fifty"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, false)
			w := h.do(http.MethodPut, "/pipeline/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, defaultSettings(), h.ctrl.settings)
		})
	}
}

func TestLatestFrame(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodGet, "/pipeline/frame.jpg", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.preview.jpeg = []byte{0xff, 0xd8, 0xff, 0xd9}
	w = h.do(http.MethodGet, "/pipeline/frame.jpg", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, h.preview.jpeg, w.Body.Bytes())

	w = h.do(http.MethodGet, "/pipeline/stream", "")
	assert.Contains(t, w.Header().Get("Content-Type"), "multipart/x-mixed-replace")
}

func TestProbeSource(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(http.MethodPost, "/sources/probe", `{"uri":"0"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[models.ProbeResult](t, w)
	assert.True(t, res.Valid)
	assert.Equal(t, models.SourceCamera, res.Kind)

	w = h.do(http.MethodPost, "/sources/probe", `{"uri":"missing.mp4"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "no such file", decode[models.ProbeResult](t, w).Error)
}

func TestEventsPolling(t *testing.T) {
	h := newAPIHarness(t, false)
	ts := time.Date(2025, 2, 3, 14, 5, 6, 0, time.UTC)

	h.board.RunStarted("r1", models.SourceSpec{URI: "a.mp4", Kind: models.SourceFile})
	h.board.Data([]models.CountingEvent{
		{RunID: "r1", Frame: 40, Timestamp: ts, TrackID: 7, Class: "Gol 1", Direction: models.DirectionIn},
		{RunID: "r1", Frame: 52, Timestamp: ts, TrackID: 9, Class: "Motor", Direction: models.DirectionOut},
	}, models.VehicleCounts{"Gol 1": {In: 1}, "Motor": {Out: 1}})

	first := decode[EventsResponse](t, h.do(http.MethodGet, "/events", ""))
	require.Len(t, first.Events, 2)
	assert.Equal(t, 2, first.Next)

	empty := decode[EventsResponse](t, h.do(http.MethodGet, fmt.Sprintf("/events?since=%d", first.Next), ""))
	assert.NotNil(t, empty.Events)
	assert.Empty(t, empty.Events)
	assert.Equal(t, 2, empty.Next)

	w := h.do(http.MethodGet, "/events?since=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountsAndReset(t *testing.T) {
	h := newAPIHarness(t, false)
	h.board.Data([]models.CountingEvent{{RunID: "r1", TrackID: 1, Class: "Gol 1", Direction: models.DirectionIn}},
		models.VehicleCounts{"Gol 1": {In: 1}})
	h.board.Warning("Detector call failed")

	counts := decode[CountsResponse](t, h.do(http.MethodGet, "/counts", ""))
	assert.Equal(t, 1, counts.Total)
	assert.Equal(t, models.DirectionCounts{}, counts.Counts["Motor"])

	warnings := decode[[]board.Warning](t, h.do(http.MethodGet, "/warnings", ""))
	require.Len(t, warnings, 1)

	w := h.do(http.MethodPost, "/counts/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[CountsResponse](t, w).Total)
	events := decode[EventsResponse](t, h.do(http.MethodGet, "/events", ""))
	assert.Len(t, events.Events, 1, "plain reset keeps the event log")

	h.board.Data([]models.CountingEvent{{RunID: "r1", TrackID: 2, Class: "Gol 1", Direction: models.DirectionIn}},
		models.VehicleCounts{"Gol 1": {In: 2}})
	counts = decode[CountsResponse](t, h.do(http.MethodGet, "/counts", ""))
	assert.Equal(t, 1, counts.Total, "counting resumes from zero after a reset")

	h.do(http.MethodPost, "/counts/reset", `{"clear_all":true}`)
	events = decode[EventsResponse](t, h.do(http.MethodGet, "/events", ""))
	assert.Empty(t, events.Events)
	assert.Empty(t, decode[[]board.Warning](t, h.do(http.MethodGet, "/warnings", "")))

	snap := decode[board.Snapshot](t, h.do(http.MethodGet, "/board", ""))
	assert.Equal(t, 0, snap.EventCount)
}

func TestRunsWithoutStore(t *testing.T) {
	h := newAPIHarness(t, false)
	for _, path := range []string{"/runs", "/runs/r1/events", "/runs/r1/counts"} {
		assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, path, "").Code, path)
	}
}

func TestRunsReadBack(t *testing.T) {
	h := newAPIHarness(t, true)
	ts := time.Date(2025, 2, 3, 14, 5, 6, 0, time.UTC)
	h.runs.runs = []store.Run{{ID: "r1", Source: models.SourceSpec{URI: "a.mp4", Kind: models.SourceFile}, StartedAt: ts, EventCount: 3}}
	h.runs.events["r1"] = []models.CountingEvent{
		{RunID: "r1", Frame: 1, Timestamp: ts, TrackID: 1, Class: "Gol 1", Direction: models.DirectionIn},
		{RunID: "r1", Frame: 2, Timestamp: ts, TrackID: 2, Class: "Gol 1", Direction: models.DirectionIn},
		{RunID: "r1", Frame: 3, Timestamp: ts, TrackID: 3, Class: "Motor", Direction: models.DirectionOut},
	}

	runs := decode[[]store.Run](t, h.do(http.MethodGet, "/runs", ""))
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].EventCount)

	events := decode[[]models.CountingEvent](t, h.do(http.MethodGet, "/runs/r1/events?limit=2", ""))
	assert.Len(t, events, 2)

	counts := decode[CountsResponse](t, h.do(http.MethodGet, "/runs/r1/counts", ""))
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, models.DirectionCounts{In: 2}, counts.Counts["Gol 1"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/runs?limit=x", "").Code)

	h.runs.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodGet, "/runs", "").Code)
}
