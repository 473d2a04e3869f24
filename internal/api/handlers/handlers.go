// Package handlers provides HTTP request handlers for the trainer API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/orchestrator"
	"guardacademy.io/guardacademy/internal/profile"
	"guardacademy.io/guardacademy/internal/session"
	"guardacademy.io/guardacademy/internal/storage"
	"guardacademy.io/guardacademy/pkg/protocol"
)

// Handlers contains all API handlers.
type Handlers struct {
	db        *storage.DB
	orch      *orchestrator.Orchestrator
	validate  *validator.Validate
	version   string
	startTime time.Time
	logger    zerolog.Logger
}

// New creates a new Handlers instance.
func New(db *storage.DB, orch *orchestrator.Orchestrator, version string, startTime time.Time, logger zerolog.Logger) *Handlers {
	return &Handlers{
		db:        db,
		orch:      orch,
		validate:  validator.New(),
		version:   version,
		startTime: startTime,
		logger:    logger.With().Str("component", "handlers").Logger(),
	}
}

// ============================================================
// Session Handlers
// ============================================================

// StartSession handles POST /api/sessions
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	sess, update, err := h.orch.StartScenario(r.Context(), req.UserID, session.ThreatType(req.ThreatType))
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownThreatType) {
			h.writeError(w, r, http.StatusBadRequest, "unknown_threat_type", err.Error())
			return
		}
		h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to start session")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to start session")
		return
	}

	h.writeJSON(w, http.StatusCreated, protocol.StartSessionResponse{
		Session: sessionResponse(*sess),
		Opening: turnResponse(update),
	})
}

// GetSession handles GET /api/sessions/{sessionID}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.orch.Session(sessionID)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// SubmitInput handles POST /api/sessions/{sessionID}/input
func (h *Handlers) SubmitInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req protocol.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	update, err := h.orch.SubmitInput(r.Context(), sessionID, req.Text)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, turnResponse(update))
}

// RequestHint handles POST /api/sessions/{sessionID}/hint
func (h *Handlers) RequestHint(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	hint, err := h.orch.RequestHint(r.Context(), sessionID)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, protocol.HintResponse{SessionID: sessionID, Hint: hint})
}

// PauseSession handles POST /api/sessions/{sessionID}/pause
func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.orch.Pause(sessionID); err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	sess, err := h.orch.Session(sessionID)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// ResumeSession handles POST /api/sessions/{sessionID}/resume
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.orch.Resume(sessionID)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse(*sess))
}

// CompleteSession handles POST /api/sessions/{sessionID}/complete
func (h *Handlers) CompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.orch.CompleteSession(r.Context(), sessionID)
	if err != nil {
		h.writeOrchestratorError(w, r, sessionID, err)
		return
	}

	resp := protocol.CompletionResponse{
		SessionID:      result.SessionID,
		Score:          result.Result.Score,
		RiskLevel:      string(result.Result.RiskLevel),
		Decisions:      result.Result.Decisions,
		Debrief:        result.Debrief,
		NextDifficulty: result.NextDifficulty,
	}
	if len(result.Result.Categories) > 0 {
		resp.Categories = make(map[string]protocol.CategoryResult, len(result.Result.Categories))
		for cat, cs := range result.Result.Categories {
			resp.Categories[string(cat)] = protocol.CategoryResult{
				Count:    cs.Count,
				Failures: cs.Failures,
				Average:  cs.Average,
				Trend:    string(cs.Trend),
			}
		}
	}
	for _, rec := range result.Result.Recommendations {
		resp.Recommendations = append(resp.Recommendations, string(rec.Category))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ============================================================
// User Handlers
// ============================================================

// GetProfile handles GET /api/users/{userID}/profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	prof, err := h.db.LoadProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load profile")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load profile")
		return
	}

	h.writeJSON(w, http.StatusOK, profileResponse(prof))
}

// GetSessionHistory handles GET /api/users/{userID}/sessions
func (h *Handlers) GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.db.ListSessionRecords(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list session records")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list sessions")
		return
	}

	resp := protocol.SessionHistoryResponse{
		Records: make([]protocol.SessionRecordResponse, 0, len(records)),
		Total:   len(records),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, protocol.SessionRecordResponse{
			ID:         rec.ID,
			ThreatType: string(rec.ThreatType),
			PatternID:  rec.PatternID,
			Difficulty: rec.Difficulty,
			Score:      rec.Score,
			RiskLevel:  string(rec.RiskLevel),
			Decisions:  rec.Decisions,
			StartedAt:  rec.StartedAt,
			EndedAt:    rec.EndedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ============================================================
// Health Handlers
// ============================================================

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus, dbErr := h.db.Health(r.Context())

	status := "healthy"
	if dbErr != nil {
		status = "unhealthy"
	}

	resp := protocol.HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components: map[string]protocol.ComponentHealth{
			"database": {
				Status:    dbStatus,
				LastCheck: time.Now(),
			},
		},
	}

	if dbErr != nil {
		resp.Components["database"] = protocol.ComponentHealth{
			Status:    "unhealthy",
			LastCheck: time.Now(),
			Details:   dbErr.Error(),
		}
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, resp)
}

// ReadyCheck handles GET /ready
func (h *Handlers) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "Database not available")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// ============================================================
// Helpers
// ============================================================

func sessionResponse(sess session.Session) protocol.SessionResponse {
	return protocol.SessionResponse{
		ID:         sess.ID,
		UserID:     sess.UserID,
		ThreatType: string(sess.ThreatType),
		PatternID:  sess.PatternID,
		Difficulty: sess.Difficulty,
		State:      string(sess.State),
		Turns:      len(sess.Turns),
		Decisions:  len(sess.Decisions),
		HintsUsed:  sess.HintsUsed,
		StartedAt:  sess.StartedAt,
		EndedAt:    sess.EndedAt,
	}
}

func turnResponse(update *orchestrator.NarrativeUpdate) protocol.TurnResponse {
	return protocol.TurnResponse{
		SessionID:        update.SessionID,
		State:            string(update.State),
		Narrative:        update.Narrative,
		EmailArtifact:    update.EmailArtifact,
		DecisionExpected: update.DecisionExpected,
		NarrativeEnded:   update.NarrativeEnded,
	}
}

func profileResponse(prof *profile.UserProfile) protocol.ProfileResponse {
	resp := protocol.ProfileResponse{
		UserID:           prof.UserID,
		Role:             prof.Role,
		Difficulty:       prof.Difficulty,
		RecentScores:     make([]float64, 0, len(prof.RecentOutcomes)),
		CategoryFailures: make(map[string]int, len(prof.CategoryFailures)),
		TotalSessions:    prof.TotalSessions,
		TrainingSeconds:  int64(prof.TrainingTime.Seconds()),
		HintsUsed:        prof.HintsUsed,
		CreatedAt:        prof.CreatedAt,
		UpdatedAt:        prof.UpdatedAt,
	}
	for _, o := range prof.RecentOutcomes {
		resp.RecentScores = append(resp.RecentScores, o.Score)
	}
	for cat, n := range prof.CategoryFailures {
		resp.CategoryFailures[string(cat)] = n
	}
	return resp
}

// writeOrchestratorError maps orchestrator errors to HTTP status codes.
func (h *Handlers) writeOrchestratorError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	var premature *orchestrator.PrematureCompletionError
	var illegal *session.IllegalTransitionError

	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		h.writeError(w, r, http.StatusNotFound, "session_not_found", "Session not found")
	case errors.Is(err, orchestrator.ErrHintsExhausted):
		h.writeError(w, r, http.StatusConflict, "hints_exhausted", "Hint budget exhausted for this session")
	case errors.Is(err, orchestrator.ErrNoDecisionPending):
		h.writeError(w, r, http.StatusConflict, "no_decision_pending", "No decision is pending")
	case errors.Is(err, session.ErrSessionClosed):
		h.writeError(w, r, http.StatusConflict, "session_closed", "Session is closed")
	case errors.As(err, &premature):
		h.writeError(w, r, http.StatusConflict, "premature_completion", premature.Error())
	case errors.As(err, &illegal):
		h.writeError(w, r, http.StatusConflict, "illegal_transition", illegal.Error())
	default:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "Request failed")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := protocol.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}
	h.writeJSON(w, status, resp)
}
