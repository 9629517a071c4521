package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Detector service
	DetectorGRPCURL string
	DetectorTimeout time.Duration // health check at worker start

	// Worker isolation
	// "process" runs each worker as a child process, "inprocess" on a goroutine
	WorkerMode   string
	WorkerBinary string

	// Pipeline timing
	FrameQueueSize            int
	WorkerReadTimeout         time.Duration
	DispatchInterval          time.Duration
	ShutdownPollInterval      time.Duration
	ShutdownMaxAttempts       int
	LiveRetryDelay            time.Duration
	LiveBackpressureThreshold int

	// Counting
	StaleFrames    int
	ProximityPx    int
	AssumedFPS     float64
	VehicleClasses []string

	// Display canvas that line positions refer to
	DisplayWidth  int
	DisplayHeight int

	// Default pipeline settings
	DefaultConfidence    float64
	DefaultLineOffset    int
	DefaultOrientation   string
	DefaultPlaybackSpeed float64

	// NATS (counting events out, settings in)
	// Default: nats://localhost:4222
	// Docker: Use nats://nats:4222 if running in Docker
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration // For graceful shutdown
	EventsSubject      string
	SettingsSubject    string

	// Event store
	StoreEnabled bool
	StorePath    string

	// Preview
	JPEGQuality int

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	displayHeight := getEnvInt("DISPLAY_HEIGHT", 720)

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "counter-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Detector service
		DetectorGRPCURL: getEnv("DETECTOR_GRPC_URL", "localhost:50052"),
		DetectorTimeout: getEnvDuration("DETECTOR_TIMEOUT", 10*time.Second),

		// Worker isolation
		WorkerMode:   getEnv("WORKER_MODE", "process"),
		WorkerBinary: getEnv("WORKER_BINARY", "countworker"),

		// Pipeline timing
		FrameQueueSize:            getEnvInt("FRAME_QUEUE_SIZE", 5),
		WorkerReadTimeout:         getEnvDuration("WORKER_READ_TIMEOUT", 50*time.Millisecond),
		DispatchInterval:          getEnvDuration("DISPATCH_INTERVAL", 20*time.Millisecond),
		ShutdownPollInterval:      getEnvDuration("SHUTDOWN_POLL_INTERVAL", 100*time.Millisecond),
		ShutdownMaxAttempts:       getEnvInt("SHUTDOWN_MAX_ATTEMPTS", 20),
		LiveRetryDelay:            getEnvDuration("LIVE_RETRY_DELAY", 10*time.Millisecond),
		LiveBackpressureThreshold: getEnvInt("LIVE_BACKPRESSURE_THRESHOLD", 2),

		// Counting
		StaleFrames:    getEnvInt("STALE_FRAMES", 30),
		ProximityPx:    getEnvInt("PROXIMITY_PX", 25),
		AssumedFPS:     getEnvFloat("ASSUMED_FPS", 30),
		VehicleClasses: getEnvList("VEHICLE_CLASSES", []string{"Gol 1", "Gol 2", "Gol 3", "Gol 4", "Gol 5", "Motor"}),

		// Display canvas
		DisplayWidth:  getEnvInt("DISPLAY_WIDTH", 960),
		DisplayHeight: displayHeight,

		// Default pipeline settings (line 1 sits just above the middle of the canvas)
		DefaultConfidence:    getEnvFloat("DEFAULT_CONFIDENCE", 0.2),
		DefaultLineOffset:    getEnvInt("DEFAULT_LINE_OFFSET", 50),
		DefaultOrientation:   getEnv("DEFAULT_LINE_ORIENTATION", "Horizontal"),
		DefaultPlaybackSpeed: getEnvFloat("DEFAULT_PLAYBACK_SPEED", 1.0),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),
		EventsSubject:      getEnv("EVENTS_SUBJECT", "vehicles.counted"),
		SettingsSubject:    getEnv("SETTINGS_SUBJECT", "vehicles.settings"),

		// Event store
		StoreEnabled: getEnvBool("STORE_ENABLED", true),
		StorePath:    getEnv("STORE_PATH", "vehicle-counts.db"),

		// Preview
		JPEGQuality: getEnvInt("JPEG_QUALITY", 80),

		// Swagger Configuration
		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 8000),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// DefaultLine1Y places the first line just above the middle of the canvas
func (c *Config) DefaultLine1Y() int {
	return c.DisplayHeight/2 - 25
}

// DefaultLine1X is the vertical counterpart of DefaultLine1Y
func (c *Config) DefaultLine1X() int {
	return c.DisplayWidth/2 - 25
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, trimming blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	// Check for Docker-specific environment indicators
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
