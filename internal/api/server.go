package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vehicle-counter-go/internal/api/handlers"
	"vehicle-counter-go/internal/api/middleware"
	"vehicle-counter-go/internal/config"
	"vehicle-counter-go/internal/logging"
	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services"
	"vehicle-counter-go/internal/services/streamcapture"
)

const probeTimeout = 10 * time.Second

type Server struct {
	config    *config.Config
	container *services.ServiceContainer
	router    *gin.Engine
	server    *http.Server

	healthHandler   *handlers.HealthHandler
	pipelineHandler *handlers.PipelineHandler
	countsHandler   *handlers.CountsHandler
	runsHandler     *handlers.RunsHandler
	systemHandler   *handlers.SystemHandler
}

// NewServer builds the service container and the HTTP API around it
func NewServer(cfg *config.Config) (*Server, error) {
	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create services: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		config:    cfg,
		container: container,
		router:    gin.New(),
	}

	ctrl := container.Controller
	probeLogger := logging.NewServiceLogger(cfg, "probe")
	probe := func(spec models.SourceSpec) models.ProbeResult {
		return streamcapture.Probe(spec, probeTimeout, probeLogger)
	}
	// Stop polls the worker, then may force termination
	stopTimeout := cfg.ShutdownPollInterval*time.Duration(cfg.ShutdownMaxAttempts) + 5*time.Second

	var runStore handlers.RunStore
	if container.Store != nil {
		runStore = container.Store
	}

	s.healthHandler = handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, func() string { return ctrl.State().String() })
	s.pipelineHandler = handlers.NewPipelineHandler(ctrl, container.Preview, probe, stopTimeout)
	s.countsHandler = handlers.NewCountsHandler(container.Board)
	s.runsHandler = handlers.NewRunsHandler(runStore)
	s.systemHandler = handlers.NewSystemHandler(cfg.WorkerID, ctrl, container.Preview)

	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.CORS())
}

// Start serves until Shutdown; a clean shutdown returns nil
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting vehicle counter API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, then the pipeline and its backends
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping vehicle counter API...")
	httpErr := s.server.Shutdown(ctx)
	if err := s.container.Shutdown(ctx); err != nil {
		return err
	}
	return httpErr
}

func (s *Server) Handler() http.Handler {
	return s.router
}
