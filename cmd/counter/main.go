package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"vehicle-counter-go/internal/api"
	"vehicle-counter-go/internal/config"
	"vehicle-counter-go/internal/logging"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging, with the logdy tee when enabled
	var extra []io.Writer
	if cfg.LogdyEnabled {
		w, _, err := logging.StartLogdy(cfg)
		if err != nil {
			logging.Setup(cfg.LogLevel)
			log.Warn().Err(err).Msg("Logdy disabled")
		} else {
			extra = append(extra, w)
		}
	}
	logging.Setup(cfg.LogLevel, extra...)

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("worker_mode", cfg.WorkerMode).
		Str("detector", cfg.DetectorGRPCURL).
		Msg("Starting vehicle counter")

	// Create and start server
	server, err := api.NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("Server shutdown complete")
}
