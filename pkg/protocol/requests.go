package protocol

// HTTP API request types. Validation tags are enforced by the handlers.

// StartSessionRequest opens a new training session.
type StartSessionRequest struct {
	// User the session belongs to
	UserID string `json:"user_id" validate:"required"`

	// Optional explicit threat type; empty lets the trainer rotate
	ThreatType string `json:"threat_type" validate:"omitempty,oneof=phishing vishing bec physical insider"`
}

// TurnRequest submits one user utterance to a session.
type TurnRequest struct {
	// The user's message text
	Text string `json:"text" validate:"required"`
}
