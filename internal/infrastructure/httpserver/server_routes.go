package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	// Every protected route passes identity resolution and the sliding
	// window rate limiter. Quota-bearing creates add the atomic quota
	// check inside their handler, after admission.
	protected := api.Group("", s.middleware.Auth.RequireIdentity(), s.middleware.Admission.RateLimit())

	protected.GET("/usage", s.getUsage)
	protected.POST("/simulations", s.createSimulation)
	protected.POST("/workflows", s.createWorkflow)
}
