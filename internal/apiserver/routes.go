package apiserver

// registerRoutes wires every API endpoint to its handler.
func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api/v1alpha1").Subrouter()

	// Health and discovery
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/.well-known/agent.json", s.handleAgentCard).Methods("GET")

	// Tasks - ?wait=true on create blocks until the task is terminal
	api.HandleFunc("/tasks", s.handleSubmitTask).Methods("POST")
	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}/cancel", s.handleCancelTask).Methods("POST")
	api.HandleFunc("/tasks/{id}/events", s.handleTaskEvents).Methods("GET")
}
