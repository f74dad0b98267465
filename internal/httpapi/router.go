// Package httpapi exposes the submit/poll/status façade over HTTP using
// gorilla/mux, the router the rest of this stack already standardizes on.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/execlab/sandboxd/internal/api"
	"github.com/execlab/sandboxd/internal/logging"
	"github.com/execlab/sandboxd/internal/metrics"
	"github.com/execlab/sandboxd/internal/sandbox"
	"github.com/execlab/sandboxd/internal/task"
)

// Server adapts api.Service to net/http.
type Server struct {
	svc *api.Service
	log zerolog.Logger
}

// NewRouter builds the full route table: POST /execute, GET /results/{task_id},
// GET /status, GET /metrics, and GET / (redirect), matching the wire surface
// the original Flask app exposed.
func NewRouter(svc *api.Service) http.Handler {
	s := &Server{svc: svc, log: logging.WithComponent("httpapi")}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/execute", s.handleExecute).Methods("POST")
	r.HandleFunc("/results/{task_id}", s.handleResults).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	return instrument(r)
}

func instrument(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.RequestsTotal.WithLabelValues(r.URL.Path, http.StatusText(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handleIndex redirects to the project's home page, matching the Flask
// app's own "/" route.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://huggingface.co/spaces/Elfsong/Monolith", http.StatusFound)
}

// handleExecute decodes a submission with unknown-key rejection, submits it,
// and reports 503 only for a full queue and 400 for a failed validation.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.svc.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, api.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": t.ID.String(),
		"status":  "processing",
		"error":   nil,
	})
}

// handleResults polls a task's current state by ID, 404 if unknown or
// already consumed, 500 for anything the service layer did not expect.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["task_id"]
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	t, err := s.svc.Poll(id)
	switch {
	case errors.Is(err, api.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Str("task_id", idStr).Msg("poll failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

// decodeSubmission rejects unknown JSON keys, matching the closed-struct
// submission contract task.Submission carries.
func decodeSubmission(r *http.Request) (task.Submission, error) {
	var sub task.Submission
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return task.Submission{}, err
	}

	// An empty language is left to Submission.Validate, which reports it
	// as "No language provided".
	if sub.Language != "" {
		if _, err := sandbox.Lookup(sub.Language); err != nil {
			return task.Submission{}, err
		}
	}

	return sub, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
