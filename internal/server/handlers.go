package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hyperjump/hubagent/internal/indexer"
	"go.uber.org/zap"
)

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// RebuildResponse is the body returned by POST /api/v1/index/rebuild.
type RebuildResponse struct {
	Status any    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleAsk always answers 200 once the body parses; failures travel inside the answer.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request", zap.Int("question_len", len(req.Question)))
	s.respondJSON(w, http.StatusOK, s.asker.Handle(r.Context(), req.Question))
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "document retrieval not enabled")
		return
	}
	s.logger.Info("index rebuild requested")
	if err := s.index.Rebuild(r.Context()); err != nil {
		s.logger.Error("index rebuild failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, indexer.ErrNoDocuments) || errors.Is(err, indexer.ErrNoSource) {
			status = http.StatusUnprocessableEntity
		}
		s.respondJSON(w, status, RebuildResponse{Status: s.index.Status(), Error: err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, RebuildResponse{Status: s.index.Status()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "document retrieval not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, s.index.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
