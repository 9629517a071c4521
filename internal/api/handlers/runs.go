package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/store"
)

// RunStore is the read side of the event store
type RunStore interface {
	Runs(ctx context.Context, limit int) ([]store.Run, error)
	Events(ctx context.Context, runID string, limit int) ([]models.CountingEvent, error)
	Totals(ctx context.Context, runID string) (models.VehicleCounts, error)
}

type RunsHandler struct {
	store RunStore
}

// NewRunsHandler accepts a nil store; every endpoint then answers 503
func NewRunsHandler(s RunStore) *RunsHandler {
	return &RunsHandler{store: s}
}

func (h *RunsHandler) available(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event store disabled"})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

// ListRuns godoc
// @Summary Recorded runs
// @Description Pipeline runs persisted in the event store, newest first
// @Tags runs
// @Produce json
// @Param limit query int false "Maximum number of runs" default(50)
// @Success 200 {array} store.Run
// @Failure 503 {object} ErrorResponse
// @Router /runs [get]
func (h *RunsHandler) ListRuns(c *gin.Context) {
	if !h.available(c) {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runs, err := h.store.Runs(c.Request.Context(), limit)
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// RunEvents godoc
// @Summary Events of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Param limit query int false "Maximum number of events"
// @Success 200 {array} models.CountingEvent
// @Failure 503 {object} ErrorResponse
// @Router /runs/{id}/events [get]
func (h *RunsHandler) RunEvents(c *gin.Context) {
	if !h.available(c) {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runID := c.Param("id")
	events, err := h.store.Events(c.Request.Context(), runID, limit)
	if err != nil {
		logging.Error(c).Err(err).Str("run_id", runID).Msg("Failed to read run events")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// RunCounts godoc
// @Summary Totals of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} CountsResponse
// @Failure 503 {object} ErrorResponse
// @Router /runs/{id}/counts [get]
func (h *RunsHandler) RunCounts(c *gin.Context) {
	if !h.available(c) {
		return
	}
	runID := c.Param("id")
	totals, err := h.store.Totals(c.Request.Context(), runID)
	if err != nil {
		logging.Error(c).Err(err).Str("run_id", runID).Msg("Failed to read run totals")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CountsResponse{Counts: totals, Total: totals.Total()})
}
