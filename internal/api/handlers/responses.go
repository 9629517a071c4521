package handlers

import (
	"context"
	"errors"
	"net/http"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/pipeline"
)

type ErrorResponse struct {
	Error string `json:"error" example:"pipeline already running"`
}

type SuccessResponse struct {
	Message string `json:"message" example:"Pipeline stopped"`
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrSourceUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrControllerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
