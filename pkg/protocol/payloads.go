package protocol

// ============================================================
// Request payloads (orchestrator -> threat agent)
// ============================================================

// ActivateScenarioPayload asks a threat agent to open a scenario.
type ActivateScenarioPayload struct {
	// Threat category to simulate (phishing, vishing, ...)
	ThreatType string `json:"threat_type"`

	// Scenario template identifier from the catalog
	PatternID string `json:"pattern_id"`

	// Difficulty level in [1,5]
	Difficulty int `json:"difficulty"`

	// Primary social engineering category to exercise
	FocusCategory string `json:"focus_category"`

	// User's job role for personalization
	UserRole string `json:"user_role,omitempty"`

	// Categories recently seen, to steer variety
	RecentCategories []string `json:"recent_categories,omitempty"`
}

// TrackScenarioPayload forwards a user turn for the next narrative beat.
type TrackScenarioPayload struct {
	// The user's latest utterance
	UserInput string `json:"user_input"`

	// Zero-based index of the user turn in the session transcript
	TurnIndex int `json:"turn_index"`

	// Current narrative state of the session
	NarrativeState string `json:"narrative_state"`

	// Index of the current decision stage within the scenario
	StageIndex int `json:"stage_index"`
}

// AdaptScenarioPayload adjusts scenario pressure mid-session.
type AdaptScenarioPayload struct {
	Difficulty    int    `json:"difficulty"`
	FocusCategory string `json:"focus_category,omitempty"`
}

// SessionCompletePayload announces session end.
type SessionCompletePayload struct {
	Reason string `json:"reason"` // resolved, paused, aborted
}

// ============================================================
// Response payloads (threat agent -> orchestrator)
// ============================================================

// ScenarioReadyPayload carries a generated narrative beat.
type ScenarioReadyPayload struct {
	// Narrative text to present to the trainee
	Narrative string `json:"narrative"`

	// Rendered email artifact (RFC 5322 bytes), present for
	// email-borne threats on the opening beat
	EmailArtifact []byte `json:"email_artifact,omitempty"`

	// Whether this beat presents a decision to the user
	DecisionExpected bool `json:"decision_expected"`

	// Vulnerability category the pending decision tests
	Category string `json:"category,omitempty"`

	// The optimal security action for the pending decision
	CorrectAction string `json:"correct_action,omitempty"`

	// Whether the scenario narrative has run its course
	NarrativeEnded bool `json:"narrative_ended"`

	// True when the beat came from a cached template rather than
	// the generation collaborator
	FromTemplate bool `json:"from_template,omitempty"`
}

// ScenarioFailedPayload signals that the agent could not produce a beat.
type ScenarioFailedPayload struct {
	Reason string `json:"reason"`

	// Retryable hints whether the orchestrator may ask again
	Retryable bool `json:"retryable"`
}
