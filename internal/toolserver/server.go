package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// Server exposes the tool registry over HTTP: schema discovery at
// GET /v1/tools and invocation at POST /v1/tools/{name}.
type Server struct {
	router   *mux.Router
	registry *Registry
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a fully-wired Server ready to Start().
func NewServer(addr string, registry *Registry, logger *zap.Logger) *Server {
	srv := &Server{
		router:   mux.NewRouter(),
		registry: registry,
		logger:   logger,
	}
	srv.server = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	srv.registerRoutes()
	return srv
}

// Start begins listening and serving HTTP requests. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	s.logger.Info("tool server starting", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying router, for tests that mount the server
// on an httptest listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/tools", s.handleListTools).Methods("GET")
	api.HandleFunc("/tools/{name}", s.handleInvoke).Methods("POST")
}

// ---------------------------------------------------------------------------
// Wire envelope
// ---------------------------------------------------------------------------

// ListToolsResponse is the discovery payload.
type ListToolsResponse struct {
	Tools []v1alpha1.ToolSchema `json:"tools"`
}

// InvokeResponse wraps either a tool result or a structured error.
type InvokeResponse struct {
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *v1alpha1.ToolError `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ListToolsResponse{Tools: s.registry.Schemas()})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	handler, ok := s.registry.Get(name)
	if !ok {
		s.writeToolError(w, http.StatusNotFound, v1alpha1.ToolErrInvalidCall, "unknown tool "+name)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeToolError(w, http.StatusBadRequest, v1alpha1.ToolErrInvalidCall, "reading request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	s.logger.Debug("invoking tool",
		zap.String("tool", name),
		zap.Int("argsLen", len(body)),
	)

	result, err := handler.Invoke(r.Context(), body)
	if err != nil {
		var argErr *ArgumentError
		var runErr *RuntimeError
		switch {
		case errors.As(err, &argErr):
			s.writeToolError(w, http.StatusBadRequest, v1alpha1.ToolErrInvalidCall, argErr.Detail)
		case errors.As(err, &runErr):
			s.writeToolError(w, http.StatusUnprocessableEntity, v1alpha1.ToolErrRuntimeError, runErr.Detail)
		default:
			s.logger.Error("tool invocation failed",
				zap.String("tool", name),
				zap.Error(err),
			)
			s.writeToolError(w, http.StatusInternalServerError, v1alpha1.ToolErrRuntimeError, err.Error())
		}
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode tool result", zap.String("tool", name), zap.Error(err))
		s.writeToolError(w, http.StatusInternalServerError, v1alpha1.ToolErrRuntimeError, "encoding tool result: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, InvokeResponse{Result: raw})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeToolError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, InvokeResponse{
		Error: &v1alpha1.ToolError{Code: code, Message: msg},
	})
}
