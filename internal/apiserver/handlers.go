package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/dispatcher"
	"github.com/chronalabs/chrona/internal/store"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeJSON serialises data as JSON and writes it to the response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes a JSON error envelope to the response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Health and discovery
// ---------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.card)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	// Text is the user's utterance. Required.
	Text string `json:"text"`
	// ContextID threads this task onto an existing conversation. Optional;
	// a fresh conversation gets a generated one.
	ContextID string            `json:"contextId,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	now := time.Now()
	task := &v1alpha1.Task{
		TypeMeta: v1alpha1.TypeMeta{APIVersion: v1alpha1.APIVersion, Kind: v1alpha1.KindTask},
		Metadata: v1alpha1.ObjectMeta{
			ID:        uuid.New().String(),
			ContextID: req.ContextID,
			Labels:    req.Labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		History: []v1alpha1.Message{{
			ID:        gonanoid.Must(),
			Role:      v1alpha1.RoleUser,
			Text:      req.Text,
			CreatedAt: now,
		}},
		Status: v1alpha1.TaskStatus{State: v1alpha1.TaskSubmitted},
	}
	if task.Metadata.ContextID == "" {
		task.Metadata.ContextID = uuid.New().String()
	}

	// Subscribe before creating so no transition can slip between the
	// write and the watch.
	var events <-chan v1alpha1.WatchEvent
	var cancelWatch func()
	wait := r.URL.Query().Get("wait") == "true"
	if wait {
		events, cancelWatch = s.store.Watch(store.TaskKey(task.Metadata.ID))
		defer cancelWatch()
	}

	if err := s.store.Create(store.TaskKey(task.Metadata.ID), task); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("task submitted",
		zap.String("task", task.Metadata.ID),
		zap.String("context", task.Metadata.ContextID),
		zap.Bool("wait", wait),
	)

	if !wait {
		s.writeJSON(w, http.StatusCreated, task)
		return
	}

	final, err := s.waitTerminal(r, task.Metadata.ID, events)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, final)
}

// waitTerminal blocks until the task reaches a terminal state, the client
// goes away, or the server-side wait timeout fires.
func (s *Server) waitTerminal(r *http.Request, id string, events <-chan v1alpha1.WatchEvent) (*v1alpha1.Task, error) {
	timeout := time.NewTimer(s.waitTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil, r.Context().Err()
		case <-timeout.C:
			return nil, fmt.Errorf("task %s did not finish within %s", id, s.waitTimeout)
		case _, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("lost watch on task %s", id)
			}
			// Re-read rather than trusting the event payload: the worker
			// owns the live object and may still be mutating it.
			task, err := s.store.Get(store.TaskKey(id))
			if err != nil {
				return nil, err
			}
			if task.Status.State.Terminal() {
				return task, nil
			}
		}
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	task, err := s.store.Get(store.TaskKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.List(store.TaskPrefix)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	contextID := r.URL.Query().Get("contextId")
	state := r.URL.Query().Get("state")

	filtered := make([]*v1alpha1.Task, 0, len(tasks))
	for _, task := range tasks {
		if contextID != "" && task.Metadata.ContextID != contextID {
			continue
		}
		if state != "" && string(task.Status.State) != state {
			continue
		}
		filtered = append(filtered, task)
	}

	s.writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.canceler.Cancel(id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, dispatcher.ErrTaskTerminal):
			s.writeError(w, http.StatusConflict, "task is already terminal")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.logger.Info("task cancellation requested", zap.String("task", id))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

// handleTaskEvents streams task state transitions as server-sent events.
// The stream ends when the task reaches a terminal state or the client
// disconnects.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the snapshot: a terminal transition landing
	// between the two would otherwise never be observed and the stream
	// would hang. Transitions inside the window show up in the snapshot.
	events, cancelWatch := s.store.Watch(store.TaskKey(id))
	defer cancelWatch()

	task, err := s.store.Get(store.TaskKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Current snapshot first, so late subscribers see where the task is.
	s.writeSSE(w, task)
	flusher.Flush()
	if task.Status.State.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			current, err := s.store.Get(store.TaskKey(id))
			if err != nil {
				return
			}
			s.writeSSE(w, current)
			flusher.Flush()
			if current.Status.State.Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, task *v1alpha1.Task) {
	buf, err := json.Marshal(task)
	if err != nil {
		s.logger.Error("failed to encode SSE payload", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", task.Status.State, buf)
}
