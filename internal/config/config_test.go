package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5, cfg.FrameQueueSize)
	assert.Equal(t, 50*time.Millisecond, cfg.WorkerReadTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.DispatchInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ShutdownPollInterval)
	assert.Equal(t, 20, cfg.ShutdownMaxAttempts)
	assert.Equal(t, 30, cfg.StaleFrames)
	assert.Equal(t, 25, cfg.ProximityPx)
	assert.Equal(t, 30.0, cfg.AssumedFPS)
	assert.Equal(t, []string{"Gol 1", "Gol 2", "Gol 3", "Gol 4", "Gol 5", "Motor"}, cfg.VehicleClasses)
	assert.Equal(t, 335, cfg.DefaultLine1Y())
	assert.Equal(t, 455, cfg.DefaultLine1X())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FRAME_QUEUE_SIZE", "8")
	t.Setenv("SHUTDOWN_POLL_INTERVAL", "250ms")
	t.Setenv("ASSUMED_FPS", "25")
	t.Setenv("VEHICLE_CLASSES", " car, truck ,,bus ")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("PROXIMITY_PX", "not-a-number")

	cfg := Load()

	assert.Equal(t, 8, cfg.FrameQueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownPollInterval)
	assert.Equal(t, 25.0, cfg.AssumedFPS)
	assert.Equal(t, []string{"car", "truck", "bus"}, cfg.VehicleClasses)
	assert.True(t, cfg.NatsEnabled)
	assert.Equal(t, 25, cfg.ProximityPx, "unparsable values fall back to the default")
}
