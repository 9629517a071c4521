package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	p := s.router.Group("/pipeline")
	{
		p.POST("/start", s.pipelineHandler.Start)
		p.POST("/stop", s.pipelineHandler.Stop)
		p.GET("/status", s.pipelineHandler.Status)
		p.GET("/settings", s.pipelineHandler.GetSettings)
		p.PUT("/settings", s.pipelineHandler.UpdateSettings)
		p.GET("/frame.jpg", s.pipelineHandler.LatestFrame)
		p.GET("/stream", s.pipelineHandler.Stream)
	}

	s.router.POST("/sources/probe", s.pipelineHandler.ProbeSource)

	s.router.GET("/events", s.countsHandler.Events)
	s.router.GET("/counts", s.countsHandler.Counts)
	s.router.POST("/counts/reset", s.countsHandler.Reset)
	s.router.GET("/warnings", s.countsHandler.Warnings)
	s.router.GET("/board", s.countsHandler.Board)

	runs := s.router.Group("/runs")
	{
		runs.GET("", s.runsHandler.ListRuns)
		runs.GET("/:id/events", s.runsHandler.RunEvents)
		runs.GET("/:id/counts", s.runsHandler.RunCounts)
	}

	s.router.GET("/system/stats", s.systemHandler.GetStats)
}
