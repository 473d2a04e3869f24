package protocol

import "time"

// HTTP API response types. The A2A envelope above is the agent-facing
// contract; these are the trainee/admin-facing shapes.

// ============================================================
// Session Responses
// ============================================================

// SessionResponse summarizes a training session in API responses.
type SessionResponse struct {
	// Session ID
	ID string `json:"id"`

	// Owning user
	UserID string `json:"user_id"`

	// Threat category being simulated
	ThreatType string `json:"threat_type"`

	// Scenario pattern in play
	PatternID string `json:"pattern_id"`

	// Difficulty level in [1,5]
	Difficulty int `json:"difficulty"`

	// Current narrative state
	State string `json:"state"`

	// Turn count so far
	Turns int `json:"turns"`

	// Decisions recorded so far
	Decisions int `json:"decisions"`

	// Hints consumed
	HintsUsed int `json:"hints_used"`

	// Timestamps
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StartSessionResponse is returned when a session opens: the session
// summary plus the opening narrative beat.
type StartSessionResponse struct {
	Session SessionResponse `json:"session"`
	Opening TurnResponse    `json:"opening"`
}

// TurnResponse carries the next narrative beat after a user turn.
type TurnResponse struct {
	// Session this beat belongs to
	SessionID string `json:"session_id"`

	// Session state after the turn
	State string `json:"state"`

	// Narrative text to present to the trainee
	Narrative string `json:"narrative"`

	// Rendered email artifact (RFC 5322 bytes, base64 in JSON), present
	// on email-borne opening beats
	EmailArtifact []byte `json:"email_artifact,omitempty"`

	// Whether the beat asks the trainee to decide
	DecisionExpected bool `json:"decision_expected"`

	// Whether the scenario narrative has run its course
	NarrativeEnded bool `json:"narrative_ended"`
}

// HintResponse carries hint text for a pending decision.
type HintResponse struct {
	SessionID string `json:"session_id"`
	Hint      string `json:"hint"`
}

// CompletionResponse is returned when a session is scored and closed.
type CompletionResponse struct {
	// Session ID
	SessionID string `json:"session_id"`

	// Overall score 0-100, absent when no decisions were recorded
	Score *float64 `json:"score,omitempty"`

	// Risk bucket for the score
	RiskLevel string `json:"risk_level"`

	// Decisions evaluated
	Decisions int `json:"decisions"`

	// Per-category breakdown
	Categories map[string]CategoryResult `json:"categories,omitempty"`

	// Categories to focus on next, worst first
	Recommendations []string `json:"recommendations,omitempty"`

	// Closing debrief text
	Debrief string `json:"debrief"`

	// Difficulty level planned for the next session
	NextDifficulty int `json:"next_difficulty"`
}

// CategoryResult summarizes one vulnerability category's performance.
type CategoryResult struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	Average  float64 `json:"average"`
	Trend    string  `json:"trend"`
}

// ============================================================
// Profile Responses
// ============================================================

// ProfileResponse represents a user's learning profile.
type ProfileResponse struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role,omitempty"`
	Difficulty int    `json:"difficulty"`

	// Rolling outcome history, oldest first
	RecentScores []float64 `json:"recent_scores"`

	// Failure counts per vulnerability category
	CategoryFailures map[string]int `json:"category_failures"`

	TotalSessions   int   `json:"total_sessions"`
	TrainingSeconds int64 `json:"training_seconds"`
	HintsUsed       int   `json:"hints_used"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRecordResponse is one entry of a user's session history.
type SessionRecordResponse struct {
	ID         string     `json:"id"`
	ThreatType string     `json:"threat_type"`
	PatternID  string     `json:"pattern_id"`
	Difficulty int        `json:"difficulty"`
	Score      *float64   `json:"score,omitempty"`
	RiskLevel  string     `json:"risk_level"`
	Decisions  int        `json:"decisions"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at"`
}

// SessionHistoryResponse lists a user's completed sessions.
type SessionHistoryResponse struct {
	Records []SessionRecordResponse `json:"records"`
	Total   int                     `json:"total"`
}

// ============================================================
// Error Response
// ============================================================

// ErrorResponse is the standard error format for all API errors.
type ErrorResponse struct {
	// Error code for programmatic handling
	Error string `json:"error"`

	// Human-readable error message
	Message string `json:"message"`

	// Request ID for debugging
	RequestID string `json:"request_id,omitempty"`
}

// ============================================================
// Health Check Response
// ============================================================

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	// Service status: healthy, degraded, unhealthy
	Status string `json:"status"`

	// Service version
	Version string `json:"version"`

	// Service uptime in seconds
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Component health
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of a subsystem.
type ComponentHealth struct {
	// Component status
	Status string `json:"status"`

	// Last check time
	LastCheck time.Time `json:"last_check"`

	// Additional details
	Details string `json:"details,omitempty"`
}
