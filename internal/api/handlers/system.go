package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID  string
	startTime time.Time
	ctrl      PipelineControl
	preview   Preview
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(workerID string, ctrl PipelineControl, preview Preview) *SystemHandler {
	return &SystemHandler{
		WorkerID:  workerID,
		startTime: time.Now(),
		ctrl:      ctrl,
		preview:   preview,
	}
}

type PipelineStats struct {
	State         string `json:"state" example:"running"`
	RunID         string `json:"run_id,omitempty"`
	FramesQueued  int    `json:"frames_queued"`
	FramesPushed  uint64 `json:"frames_pushed"`
	FramesDropped uint64 `json:"frames_dropped"`
	FramesSkipped uint64 `json:"frames_skipped"`
	Viewers       int    `json:"viewers"`
}

type SystemStats struct {
	WorkerID      string        `json:"worker_id" example:"counter-1"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	MemoryMB      uint64        `json:"memory_mb"`
	CPUCores      int           `json:"cpu_cores"`
	Goroutines    int           `json:"goroutines"`
	GoVersion     string        `json:"go_version"`
	Pipeline      PipelineStats `json:"pipeline"`
	Timestamp     int64         `json:"timestamp"`
}

// @Summary Get system stats
// @Description Process statistics and frame queue counters
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} SystemStats
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := h.ctrl.Status()
	c.JSON(http.StatusOK, SystemStats{
		WorkerID:      h.WorkerID,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MemoryMB:      m.Alloc / 1024 / 1024,
		CPUCores:      runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		Pipeline: PipelineStats{
			State:         st.State,
			RunID:         st.RunID,
			FramesQueued:  st.FramesQueued,
			FramesPushed:  st.FramesPushed,
			FramesDropped: st.FramesDropped,
			FramesSkipped: st.FramesSkipped,
			Viewers:       h.preview.Viewers(),
		},
		Timestamp: time.Now().Unix(),
	})
}
