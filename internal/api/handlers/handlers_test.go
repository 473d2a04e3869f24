package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/bus"
	"guardacademy.io/guardacademy/internal/difficulty"
	"guardacademy.io/guardacademy/internal/orchestrator"
	"guardacademy.io/guardacademy/internal/scenario"
	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/session"
	"guardacademy.io/guardacademy/internal/storage"
	"guardacademy.io/guardacademy/internal/threatagent"
	"guardacademy.io/guardacademy/pkg/protocol"
)

// setupTestHandlers creates handlers backed by a temporary database, a live
// bus, and a phishing threat agent.
func setupTestHandlers(t *testing.T) (*Handlers, *orchestrator.Orchestrator, func()) {
	t.Helper()

	ctx := context.Background()

	db, err := storage.New(ctx, storage.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		EnableWAL: false,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	catalog, err := scenario.Load("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	b := bus.New(bus.DefaultConfig(), zerolog.Nop())
	agent := threatagent.New(orchestrator.AgentAddress(session.ThreatPhishing), b, catalog, nil, zerolog.Nop())
	agent.Start(ctx)

	ctrl := difficulty.New(difficulty.DefaultConfig(), nil, zerolog.Nop())
	orch := orchestrator.New(orchestrator.DefaultConfig(), b, catalog, db,
		scoring.NewDefault(), ctrl, nil, zerolog.Nop())

	h := New(db, orch, "test", time.Now(), zerolog.Nop())

	cleanup := func() {
		agent.Stop()
		db.Close()
	}
	return h, orch, cleanup
}

// withURLParam attaches a chi route parameter to a request.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func startSession(t *testing.T, h *Handlers) protocol.StartSessionResponse {
	t.Helper()

	body, _ := json.Marshal(protocol.StartSessionRequest{UserID: "alice", ThreatType: "phishing"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.StartSession(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var resp protocol.StartSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestStartSession_Success(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	resp := startSession(t, h)

	if resp.Session.ID == "" {
		t.Error("Expected session id in response")
	}
	if resp.Session.State != string(session.StateEngaged) {
		t.Errorf("Expected engaged state, got %s", resp.Session.State)
	}
	if resp.Opening.Narrative == "" {
		t.Error("Expected opening narrative")
	}
	if len(resp.Opening.EmailArtifact) == 0 {
		t.Error("Expected email artifact for a phishing scenario")
	}
}

func TestStartSession_ValidationFailure(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"threat_type": "phishing"}`},
		{"unknown threat type", `{"user_id": "alice", "threat_type": "ransomware"}`},
		{"malformed json", `{user_id}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()

			h.StartSession(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestSubmitInput_AdvancesNarrative(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	started := startSession(t, h)

	body, _ := json.Marshal(protocol.TurnRequest{Text: "Hello? What is this about?"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+started.Session.ID+"/input", bytes.NewReader(body))
	req = withURLParam(req, "sessionID", started.Session.ID)
	w := httptest.NewRecorder()

	h.SubmitInput(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp protocol.TurnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.DecisionExpected {
		t.Error("Expected the first beat to present a decision")
	}
	if resp.State != string(session.StateDecisionPending) {
		t.Errorf("Expected decision_pending, got %s", resp.State)
	}
}

func TestSubmitInput_SessionNotFound(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	body, _ := json.Marshal(protocol.TurnRequest{Text: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/nope/input", bytes.NewReader(body))
	req = withURLParam(req, "sessionID", "nope")
	w := httptest.NewRecorder()

	h.SubmitInput(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var resp protocol.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if resp.Error != "session_not_found" {
		t.Errorf("Expected session_not_found, got %s", resp.Error)
	}
}

func TestCompleteSession_PrematureConflict(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	started := startSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+started.Session.ID+"/complete", nil)
	req = withURLParam(req, "sessionID", started.Session.ID)
	w := httptest.NewRecorder()

	h.CompleteSession(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}

	var resp protocol.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if resp.Error != "premature_completion" {
		t.Errorf("Expected premature_completion, got %s", resp.Error)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	started := startSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+started.Session.ID+"/pause", nil)
	req = withURLParam(req, "sessionID", started.Session.ID)
	w := httptest.NewRecorder()
	h.PauseSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Pause: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var paused protocol.SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&paused); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if paused.State != string(session.StateClosed) {
		t.Errorf("Expected closed while paused, got %s", paused.State)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+started.Session.ID+"/resume", nil)
	req = withURLParam(req, "sessionID", started.Session.ID)
	w = httptest.NewRecorder()
	h.ResumeSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Resume: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resumed protocol.SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resumed); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resumed.State != string(session.StateEngaged) {
		t.Errorf("Expected engaged after resume, got %s", resumed.State)
	}
	if resumed.Turns != paused.Turns {
		t.Errorf("Turn count changed across pause/resume: %d vs %d", resumed.Turns, paused.Turns)
	}
}

func TestRequestHint_NoDecisionPending(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	started := startSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+started.Session.ID+"/hint", nil)
	req = withURLParam(req, "sessionID", started.Session.ID)
	w := httptest.NewRecorder()

	h.RequestHint(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestGetProfile_NewUserDefaults(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/users/newbie/profile", nil)
	req = withURLParam(req, "userID", "newbie")
	w := httptest.NewRecorder()

	h.GetProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp protocol.ProfileResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.UserID != "newbie" || resp.Difficulty != 3 {
		t.Errorf("Expected default profile, got %+v", resp)
	}
}

func TestGetSessionHistory_InvalidLimit(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice/sessions?limit=bogus", nil)
	req = withURLParam(req, "userID", "alice")
	w := httptest.NewRecorder()

	h.GetSessionHistory(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	h, _, cleanup := setupTestHandlers(t)
	defer cleanup()

	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Health: expected status %d, got %d", http.StatusOK, w.Code)
	}

	var health protocol.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", health.Status)
	}

	w = httptest.NewRecorder()
	h.ReadyCheck(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Ready: expected status %d, got %d", http.StatusOK, w.Code)
	}
}
