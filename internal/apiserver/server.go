package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/store"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// Canceler requests cooperative cancellation of a running or queued task.
// *dispatcher.Dispatcher satisfies it.
type Canceler interface {
	Cancel(id string) error
}

// Server is the Chrona agent API server. It exposes the task lifecycle
// endpoints and the agent discovery card, delegating persistence to the
// Store and execution to the dispatcher.
type Server struct {
	router   *mux.Router
	store    store.Store
	canceler Canceler
	card     v1alpha1.AgentCard
	logger   *zap.Logger
	server   *http.Server

	// waitTimeout bounds ?wait=true submissions.
	waitTimeout time.Duration
}

// NewServer creates a fully-wired Server ready to Start().
func NewServer(addr string, s store.Store, canceler Canceler, card v1alpha1.AgentCard, logger *zap.Logger) *Server {
	srv := &Server{
		router:      mux.NewRouter(),
		store:       s,
		canceler:    canceler,
		card:        card,
		logger:      logger,
		waitTimeout: 120 * time.Second,
	}
	srv.server = &http.Server{
		Addr:        addr,
		Handler:     srv.router,
		ReadTimeout: 15 * time.Second,
		// Write timeout must outlive synchronous waits and event streams.
		WriteTimeout: 0,
	}
	srv.registerRoutes()
	return srv
}

// Start begins listening and serving HTTP requests. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	s.logger.Info("API server starting", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
