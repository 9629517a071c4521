package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/board"
)

type CountsHandler struct {
	board *board.Board
}

func NewCountsHandler(b *board.Board) *CountsHandler {
	return &CountsHandler{board: b}
}

type EventsResponse struct {
	Events []models.CountingEvent `json:"events"`
	Next   int                    `json:"next" example:"12"`
}

type CountsResponse struct {
	Counts models.VehicleCounts `json:"counts"`
	Total  int                  `json:"total" example:"7"`
}

type ResetRequest struct {
	ClearAll bool `json:"clear_all"`
}

// Events godoc
// @Summary Counting events
// @Description Append-only event log. Pass the returned next value as since to poll for new events.
// @Tags counts
// @Produce json
// @Param since query int false "Position of the first event to return" default(0)
// @Success 200 {object} EventsResponse
// @Failure 400 {object} ErrorResponse
// @Router /events [get]
func (h *CountsHandler) Events(c *gin.Context) {
	since := 0
	if v := c.Query("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be a non-negative integer"})
			return
		}
		since = n
	}
	events, next := h.board.Events(since)
	c.JSON(http.StatusOK, EventsResponse{Events: events, Next: next})
}

// Counts godoc
// @Summary Vehicle counts
// @Description Per-class in/out totals of the current run
// @Tags counts
// @Produce json
// @Success 200 {object} CountsResponse
// @Router /counts [get]
func (h *CountsHandler) Counts(c *gin.Context) {
	counts := h.board.Counts()
	c.JSON(http.StatusOK, CountsResponse{Counts: counts, Total: counts.Total()})
}

// Reset godoc
// @Summary Reset counts
// @Description Zero the displayed counts. clear_all also clears the event log and warnings.
// @Tags counts
// @Accept json
// @Produce json
// @Param request body ResetRequest false "Reset options"
// @Success 200 {object} CountsResponse
// @Router /counts/reset [post]
func (h *CountsHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	h.board.Reset(req.ClearAll)
	logging.Info(c).Bool("clear_all", req.ClearAll).Msg("Counts reset")

	counts := h.board.Counts()
	c.JSON(http.StatusOK, CountsResponse{Counts: counts, Total: counts.Total()})
}

// Warnings godoc
// @Summary Recent warnings
// @Tags counts
// @Produce json
// @Success 200 {array} board.Warning
// @Router /warnings [get]
func (h *CountsHandler) Warnings(c *gin.Context) {
	warnings := h.board.Warnings()
	if warnings == nil {
		warnings = []board.Warning{}
	}
	c.JSON(http.StatusOK, warnings)
}

// Board godoc
// @Summary Board snapshot
// @Description Run id, source, state, counts and last error in one call
// @Tags counts
// @Produce json
// @Success 200 {object} board.Snapshot
// @Router /board [get]
func (h *CountsHandler) Board(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Snapshot())
}
