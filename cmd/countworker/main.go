// Command countworker runs one counting worker. It is spawned by the counter
// service and speaks the length-prefixed envelope protocol on stdin/stdout;
// logs go to stderr as JSON lines.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"vehicle-counter-go/internal/config"
	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/services"
	"vehicle-counter-go/internal/services/overlay"
	"vehicle-counter-go/internal/services/pipeline"
)

func main() {
	cfg := config.Load()
	logging.SetupJSON(cfg.LogLevel, os.Stderr)
	logger := logging.NewServiceLogger(cfg, "worker")

	// The controller owns our lifetime: stop envelopes or a kill
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	detector := services.NewDetector(cfg, logger)
	err := pipeline.ServeWorker(ctx, os.Stdin, os.Stdout, services.WorkerConfig(cfg), cfg.FrameQueueSize,
		detector, logger, pipeline.WithAnnotator(overlay.NewAnnotator(logger)))
	if err != nil {
		log.Error().Err(err).Msg("Worker failed")
		os.Exit(1)
	}
}
