package api

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Health and status
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/stats", s.handleStats)

	// Registry operations
	s.router.HandleFunc("/query", s.handleQuery)         // POST
	s.router.HandleFunc("/cache", s.handleCache)         // DELETE ?category=
	s.router.HandleFunc("/providers", s.handleProviders) // GET

	// Prometheus
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
}
