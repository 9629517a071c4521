package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusFunc reports the pipeline lifecycle state
type StatusFunc func() string

type HealthHandler struct {
	WorkerID string
	Version  string
	state    StatusFunc
}

func NewHealthHandler(workerID, version string, state StatusFunc) *HealthHandler {
	return &HealthHandler{WorkerID: workerID, Version: version, state: state}
}

type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	WorkerID string `json:"worker_id" example:"counter-1"`
	Pipeline string `json:"pipeline" example:"idle"`
}

type WorkerInfoResponse struct {
	WorkerID     string   `json:"worker_id" example:"counter-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// @Summary Health check
// @Description Check if the counter is healthy and responsive
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		WorkerID: h.WorkerID,
		Pipeline: h.state(),
	})
}

// @Summary Counter information
// @Description Get basic counter information and capabilities
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} WorkerInfoResponse
// @Router / [get]
func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID: h.WorkerID,
		Status:   "running",
		Version:  h.Version,
		Capabilities: []string{
			"vehicle_tracking",
			"line_crossing_count",
			"mjpeg_preview",
		},
	})
}
