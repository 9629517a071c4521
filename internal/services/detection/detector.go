package detection

import (
	"context"
	"errors"

	"vehicle-counter-go/internal/models"
)

// ErrNotInitialized is returned by Detect before a successful Initialize
var ErrNotInitialized = errors.New("detector not initialized")

// Detector is the boundary to the external detector+tracker. Track ids must be
// stable for the same physical object across consecutive calls.
type Detector interface {
	// Initialize prepares the detector. A failure here is fatal for the run.
	Initialize(ctx context.Context) error

	// Detect returns the frame as annotated by the detector (or the input
	// frame unchanged) and the objects currently visible with their track ids.
	Detect(ctx context.Context, frame models.Frame, confidence float64) (models.Frame, []models.Detection, error)

	Close() error
}
