package speech

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
)

// Register mounts the recognizer endpoints on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /recognizers", s.handleList)
	mux.HandleFunc("GET /recognizers/{id}", s.handleGet)
	mux.HandleFunc("POST /recognizers/{id}/toggle", s.handleToggleHTTP)
	mux.HandleFunc("GET /recognizers/{id}/sessions", s.handleSessions)
	mux.HandleFunc("GET /recognizers/{id}/sessions/{sid}/events", s.handleSessionEvents)
}

func (s *Service) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Statuses())
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleToggleHTTP(w http.ResponseWriter, r *http.Request) {
	st, err := s.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r, 20)
	if !ok {
		return
	}
	sessions, err := s.Sessions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Service) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryLimit(w, r, 100)
	if !ok {
		return
	}
	events, err := s.SessionEvents(r.Context(), r.PathValue("id"), r.PathValue("sid"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payloads := make([]json.RawMessage, 0, len(events))
	for _, evt := range events {
		payloads = append(payloads, json.RawMessage(evt.Payload))
	}
	s.writeJSON(w, http.StatusOK, payloads)
}

func (s *Service) queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownRecognizer):
		status = http.StatusNotFound
	case errors.Is(err, recognizer.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, recognizer.ErrInvalidState):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
