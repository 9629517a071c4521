package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

// PipelineControl is the lifecycle surface of the pipeline controller
type PipelineControl interface {
	Start(ctx context.Context, spec models.SourceSpec) (string, error)
	Stop(ctx context.Context) error
	UpdateSettings(ctx context.Context, s models.PipelineSettings) error
	Settings() models.PipelineSettings
	Status() pipeline.Status
}

// Preview serves the latest annotated frame
type Preview interface {
	LatestJPEG() ([]byte, bool)
	StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request)
	Viewers() int
}

// SourceProber checks a source without starting a run
type SourceProber func(spec models.SourceSpec) models.ProbeResult

type PipelineHandler struct {
	ctrl        PipelineControl
	preview     Preview
	probe       SourceProber
	stopTimeout time.Duration
}

func NewPipelineHandler(ctrl PipelineControl, preview Preview, probe SourceProber, stopTimeout time.Duration) *PipelineHandler {
	return &PipelineHandler{
		ctrl:        ctrl,
		preview:     preview,
		probe:       probe,
		stopTimeout: stopTimeout,
	}
}

type StartResponse struct {
	RunID  string            `json:"run_id" example:"6f1c2a9e-3b7d-4c55-9a0e-0d4f3f1b2c77"`
	State  string            `json:"state" example:"starting"`
	Source models.SourceSpec `json:"source"`
}

// Start godoc
// @Summary Start counting
// @Description Open a video source and start a pipeline run. The run reports Running once the detector is ready.
// @Tags pipeline
// @Accept json
// @Produce json
// @Param request body models.SourceSpec true "Video source: file path, camera index or rtsp/http URL"
// @Success 202 {object} StartResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /pipeline/start [post]
func (h *PipelineHandler) Start(c *gin.Context) {
	var spec models.SourceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	spec = spec.Resolve()

	runID, err := h.ctrl.Start(c.Request.Context(), spec)
	if err != nil {
		logging.Warn(c).Err(err).Str("source", spec.URI).Msg("Pipeline start rejected")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}

	logging.Info(c).Str("run_id", runID).Str("source", spec.URI).Str("kind", spec.Kind.String()).Msg("Pipeline started")
	c.JSON(http.StatusAccepted, StartResponse{
		RunID:  runID,
		State:  h.ctrl.Status().State,
		Source: spec,
	})
}

// Stop godoc
// @Summary Stop counting
// @Description Stop the active run and wait until the pipeline is idle. Stopping an idle pipeline is a no-op.
// @Tags pipeline
// @Produce json
// @Success 200 {object} SuccessResponse
// @Failure 504 {object} ErrorResponse
// @Router /pipeline/stop [post]
func (h *PipelineHandler) Stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.stopTimeout)
	defer cancel()

	if err := h.ctrl.Stop(ctx); err != nil {
		logging.Error(c).Err(err).Msg("Pipeline stop failed")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	logging.Info(c).Msg("Pipeline stopped")
	c.JSON(http.StatusOK, SuccessResponse{Message: "Pipeline stopped"})
}

// Status godoc
// @Summary Pipeline status
// @Description Lifecycle state, active settings and frame queue statistics
// @Tags pipeline
// @Produce json
// @Success 200 {object} pipeline.Status
// @Router /pipeline/status [get]
func (h *PipelineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Status())
}

// GetSettings godoc
// @Summary Current settings
// @Tags pipeline
// @Produce json
// @Success 200 {object} models.PipelineSettings
// @Router /pipeline/settings [get]
func (h *PipelineHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Settings())
}

// UpdateSettings godoc
// @Summary Update settings
// @Description Merge the given fields over the active settings. A running worker picks them up with its next frame.
// @Tags pipeline
// @Accept json
// @Produce json
// @Param settings body models.PipelineSettings true "Fields to change"
// @Success 200 {object} models.PipelineSettings
// @Failure 400 {object} ErrorResponse
// @Router /pipeline/settings [put]
func (h *PipelineHandler) UpdateSettings(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	s := h.ctrl.Settings()
	if err := json.Unmarshal(body, &s); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid settings body: " + err.Error()})
		return
	}

	if err := h.ctrl.UpdateSettings(c.Request.Context(), s); err != nil {
		logging.Warn(c).Err(err).Msg("Settings update rejected")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Settings())
}

// LatestFrame godoc
// @Summary Latest annotated frame
// @Tags preview
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /pipeline/frame.jpg [get]
func (h *PipelineHandler) LatestFrame(c *gin.Context) {
	jpeg, ok := h.preview.LatestJPEG()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no frame available"})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

// Stream godoc
// @Summary Live MJPEG preview
// @Tags preview
// @Produce multipart/x-mixed-replace
// @Success 200
// @Router /pipeline/stream [get]
func (h *PipelineHandler) Stream(c *gin.Context) {
	logging.Debug(c).Int("viewers", h.preview.Viewers()+1).Msg("MJPEG viewer connected")
	h.preview.StreamMJPEGHTTP(c.Writer, c.Request)
}

// ProbeSource godoc
// @Summary Validate a video source
// @Description Open the source, read a frame and return its geometry with a JPEG thumbnail
// @Tags sources
// @Accept json
// @Produce json
// @Param request body models.SourceSpec true "Video source"
// @Success 200 {object} models.ProbeResult
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} models.ProbeResult
// @Router /sources/probe [post]
func (h *PipelineHandler) ProbeSource(c *gin.Context) {
	var spec models.SourceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res := h.probe(spec.Resolve())
	if !res.Valid {
		logging.Warn(c).Str("source", spec.URI).Str("error", res.Error).Msg("Video source validation failed")
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
