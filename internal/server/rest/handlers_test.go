package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fofimon/reconciler/internal/server/storage"
)

// mockStore is a test double for the Store interface.
type mockStore struct {
	results     []storage.Result
	resultsErr  error
	agents      []storage.Agent
	agentsErr   error
	sessions    []storage.Session
	sessionsErr error
}

func (m *mockStore) QueryResults(_ context.Context, _ storage.ResultQuery) ([]storage.Result, error) {
	return m.results, m.resultsErr
}

func (m *mockStore) ListAgents(_ context.Context) ([]storage.Agent, error) {
	return m.agents, m.agentsErr
}

func (m *mockStore) ListSessions(_ context.Context, _ string) ([]storage.Session, error) {
	return m.sessions, m.sessionsErr
}

// newTestServer creates a Server backed by the mock store and returns its HTTP
// handler with JWT middleware disabled (pubKey = nil).
func newTestServer(ms *mockStore) http.Handler {
	srv := NewServer(ms)
	return NewRouter(srv, nil)
}

// ---- /healthz ---------------------------------------------------------------

func TestHandleHealthz_Returns200(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

// ---- GET /api/v1/results -----------------------------------------------------

func TestHandleGetResults_MissingFrom_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?to=2026-01-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_MissingTo_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?from=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_InvalidFromFormat_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?from=not-a-time&to=2026-01-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_ToNotAfterFrom_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_InvalidResultType_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z&result_type=UNKNOWN", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_InvalidLimit_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z&limit=abc", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_InvalidOffset_Returns400(t *testing.T) {
	h := newTestServer(&mockStore{})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z&offset=-1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetResults_ValidRequest_Returns200WithArray(t *testing.T) {
	now := time.Now().UTC()
	ms := &mockStore{
		results: []storage.Result{
			{
				ResultID:   "result-1",
				AgentID:    "agent-1",
				SessionID:  "session-1",
				RecordedAt: now,
				ParentPath: "/var/www/html",
				Name:       "index.php",
				ResultType: "MODIFIED",
				ReceivedAt: now,
			},
		},
	}
	h := newTestServer(ms)
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
	var results []storage.Result
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ResultID != "result-1" {
		t.Errorf("unexpected result ID: %s", results[0].ResultID)
	}
}

func TestHandleGetResults_EmptyResult_ReturnsEmptyArray(t *testing.T) {
	h := newTestServer(&mockStore{results: nil})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var results []storage.Result
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty array, got %v", results)
	}
}

func TestHandleGetResults_WithResultTypeFilter_Returns200(t *testing.T) {
	now := time.Now().UTC()
	ms := &mockStore{
		results: []storage.Result{
			{ResultID: "r1", ResultType: "DELETED", ReceivedAt: now, RecordedAt: now},
		},
	}
	h := newTestServer(ms)
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&result_type=DELETED", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
}

func TestHandleGetResults_WithSessionID_Returns200(t *testing.T) {
	now := time.Now().UTC()
	ms := &mockStore{
		results: []storage.Result{
			{ResultID: "r1", SessionID: "session-42", ReceivedAt: now, RecordedAt: now},
		},
	}
	h := newTestServer(ms)
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/results?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&session_id=session-42", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
}

// ---- GET /api/v1/agents ------------------------------------------------------

func TestHandleGetAgents_Returns200WithArray(t *testing.T) {
	ms := &mockStore{
		agents: []storage.Agent{
			{AgentID: "a1", Hostname: "agent-01", Status: storage.AgentStatusOnline},
			{AgentID: "a2", Hostname: "agent-02", Status: storage.AgentStatusOffline},
		},
	}
	h := newTestServer(ms)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var agents []storage.Agent
	if err := json.NewDecoder(rec.Body).Decode(&agents); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
}

func TestHandleGetAgents_EmptyResult_ReturnsEmptyArray(t *testing.T) {
	h := newTestServer(&mockStore{agents: nil})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var agents []storage.Agent
	if err := json.NewDecoder(rec.Body).Decode(&agents); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("expected empty array, got %v", agents)
	}
}

// ---- GET /api/v1/sessions ----------------------------------------------------

func TestHandleGetSessions_Returns200WithArray(t *testing.T) {
	ms := &mockStore{
		sessions: []storage.Session{
			{SessionID: "s1", AgentID: "a1", Name: "web-root", Enabled: true},
		},
	}
	h := newTestServer(ms)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?agent_id=a1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
	var sessions []storage.Session
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Name != "web-root" {
		t.Errorf("unexpected session name: %s", sessions[0].Name)
	}
}

func TestHandleGetSessions_EmptyResult_ReturnsEmptyArray(t *testing.T) {
	h := newTestServer(&mockStore{sessions: nil})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sessions []storage.Session
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected empty array, got %v", sessions)
	}
}
