// Package protocol defines the agent-to-agent (A2A) message envelope and
// the typed payloads carried between the orchestrator and threat agents.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of A2A message. The set is closed:
// dispatch on it must be exhaustive.
type MessageType string

const (
	// TypeActivateScenario asks a threat agent to start a scenario.
	TypeActivateScenario MessageType = "activate_scenario"

	// TypeScenarioReady is the threat agent's response carrying the
	// opening narrative beat. Every activate_scenario produces exactly
	// one scenario_ready or one scenario_failed with the same
	// correlation ID.
	TypeScenarioReady MessageType = "scenario_ready"

	// TypeTrackScenario forwards a user turn to the active threat agent
	// and requests the next narrative beat.
	TypeTrackScenario MessageType = "track_scenario"

	// TypeAdaptScenario tells the threat agent to adjust scenario
	// pressure mid-session (difficulty, focus category).
	TypeAdaptScenario MessageType = "adapt_scenario"

	// TypeSessionComplete announces session end so agents can release
	// per-session state.
	TypeSessionComplete MessageType = "session_complete"

	// TypeScenarioFailed is the failure signal counterpart to
	// scenario_ready and track responses.
	TypeScenarioFailed MessageType = "scenario_failed"
)

// IsValidType reports whether t is a known message type.
func IsValidType(t MessageType) bool {
	switch t {
	case TypeActivateScenario, TypeScenarioReady, TypeTrackScenario,
		TypeAdaptScenario, TypeSessionComplete, TypeScenarioFailed:
		return true
	}
	return false
}

// Message is the A2A envelope. Exactly one payload field matching Type must
// be set; the envelope is a tagged union so handlers never need to probe
// untyped maps.
type Message struct {
	Type          MessageType `json:"type"`
	Sender        string      `json:"sender"`
	Recipient     string      `json:"recipient"`
	SessionID     string      `json:"session_id"`
	CorrelationID string      `json:"correlation_id"`
	SentAt        time.Time   `json:"sent_at"`

	Activate *ActivateScenarioPayload `json:"activate,omitempty"`
	Ready    *ScenarioReadyPayload    `json:"ready,omitempty"`
	Track    *TrackScenarioPayload    `json:"track,omitempty"`
	Adapt    *AdaptScenarioPayload    `json:"adapt,omitempty"`
	Complete *SessionCompletePayload  `json:"complete,omitempty"`
	Failed   *ScenarioFailedPayload   `json:"failed,omitempty"`
}

// New creates a message of the given type with a fresh correlation ID.
// The payload must be assigned by the caller before sending.
func New(msgType MessageType, sender, recipient, sessionID string) Message {
	return Message{
		Type:          msgType,
		Sender:        sender,
		Recipient:     recipient,
		SessionID:     sessionID,
		CorrelationID: uuid.New().String(),
		SentAt:        time.Now().UTC(),
	}
}

// Reply builds a response envelope that carries the original's correlation
// ID back to the sender. The payload must be assigned by the caller.
func (m Message) Reply(msgType MessageType) Message {
	return Message{
		Type:          msgType,
		Sender:        m.Recipient,
		Recipient:     m.Sender,
		SessionID:     m.SessionID,
		CorrelationID: m.CorrelationID,
		SentAt:        time.Now().UTC(),
	}
}

// Validate checks the envelope invariants: known type, addressing fields
// present, and exactly one payload matching the type.
func (m Message) Validate() error {
	if !IsValidType(m.Type) {
		return fmt.Errorf("unknown message type: %q", m.Type)
	}
	if m.Sender == "" || m.Recipient == "" {
		return fmt.Errorf("message %s missing sender or recipient", m.Type)
	}
	if m.CorrelationID == "" {
		return fmt.Errorf("message %s missing correlation id", m.Type)
	}

	count := 0
	if m.Activate != nil {
		count++
	}
	if m.Ready != nil {
		count++
	}
	if m.Track != nil {
		count++
	}
	if m.Adapt != nil {
		count++
	}
	if m.Complete != nil {
		count++
	}
	if m.Failed != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("message %s must carry exactly one payload, has %d", m.Type, count)
	}

	var match bool
	switch m.Type {
	case TypeActivateScenario:
		match = m.Activate != nil
	case TypeScenarioReady:
		match = m.Ready != nil
	case TypeTrackScenario:
		match = m.Track != nil
	case TypeAdaptScenario:
		match = m.Adapt != nil
	case TypeSessionComplete:
		match = m.Complete != nil
	case TypeScenarioFailed:
		match = m.Failed != nil
	}
	if !match {
		return fmt.Errorf("message payload does not match type %s", m.Type)
	}

	return nil
}

// IsResponse reports whether the message type is a response to a request.
func (m Message) IsResponse() bool {
	switch m.Type {
	case TypeScenarioReady, TypeScenarioFailed:
		return true
	}
	return false
}
