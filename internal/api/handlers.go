package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattjoyce/partforge/internal/dispatch"
)

// HealthzResponse is the GET /healthz payload.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StoredResults int    `json:"stored_results"`
	IndexedParts  int    `json:"indexed_parts"`
}

// ExecuteAck is the immediate POST /mcp/execute response. The completed
// envelope arrives later on the event stream.
type ExecuteAck struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		StoredResults: s.results.Len(),
		IndexedParts:  s.dispatcher.IndexedParts(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleExecute handles POST /mcp/execute: validate the envelope, ack, and
// dispatch in the background. The result is pushed via SSE, correlated by
// request_id.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'request_id'")
		return
	}
	if req.Tool == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'tool_name'")
		return
	}

	// Detach from the request context: the call outlives this handler.
	go func() {
		s.dispatcher.Dispatch(context.Background(), req)
	}()

	respondJSON(w, http.StatusOK, ExecuteAck{Status: "processing", RequestID: req.RequestID})
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
