package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fofimon/reconciler/internal/server/storage"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store Store
}

// NewServer creates a new Server with the provided storage layer.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetResults responds to GET /api/v1/results.
//
// Supported query parameters:
//
//	session_id  – exact session UUID filter (optional)
//	result_type – one of CREATED, DELETED, MODIFIED, TEMPORARY (optional)
//	from        – RFC3339 start of the received_at window (required)
//	to          – RFC3339 end of the received_at window (required)
//	limit       – maximum number of results (default 100, max 1000)
//	offset      – pagination offset (default 0)
//
// Returns HTTP 400 when required parameters are missing or malformed.
// Returns HTTP 200 with a JSON array of Result objects on success.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fromStr := q.Get("from")
	toStr := q.Get("to")
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "query parameters 'from' and 'to' are required (RFC3339)")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' must be a valid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' must be a valid RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'to' must be after 'from'")
		return
	}

	rq := storage.ResultQuery{
		From: from,
		To:   to,
	}

	if sessionID := q.Get("session_id"); sessionID != "" {
		rq.SessionID = sessionID
	}

	if rt := q.Get("result_type"); rt != "" {
		switch rt {
		case "CREATED", "DELETED", "MODIFIED", "TEMPORARY":
			rq.ResultType = &rt
		default:
			writeError(w, http.StatusBadRequest, "'result_type' must be one of CREATED, DELETED, MODIFIED, TEMPORARY")
			return
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		rq.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		rq.Offset = offset
	}

	results, err := s.store.QueryResults(r.Context(), rq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query results")
		return
	}

	// Ensure we always return a JSON array, not null.
	if results == nil {
		results = []storage.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(results)
}

// handleGetAgents responds to GET /api/v1/agents.
//
// Returns HTTP 200 with a JSON array of all registered Agent objects ordered
// alphabetically by hostname.
func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	if agents == nil {
		agents = []storage.Agent{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(agents)
}

// handleGetSessions responds to GET /api/v1/sessions.
//
// Supported query parameters:
//
//	agent_id – restrict to sessions declared by this agent (optional; lists
//	           every session, including unassigned ones, when omitted)
//
// Returns HTTP 200 with a JSON array of Session objects on success.
func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")

	sessions, err := s.store.ListSessions(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []storage.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sessions)
}
