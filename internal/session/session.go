// Package session defines the training session aggregate: the ordered
// transcript, recorded decision points, and the narrative state machine
// that governs a session's lifecycle.
package session

import (
	"time"

	"github.com/google/uuid"
)

// State is a session's narrative state.
type State string

const (
	StateIntro           State = "intro"
	StateEngaged         State = "engaged"
	StateDecisionPending State = "decision_pending"
	StateResolved        State = "resolved"
	StateDebrief         State = "debrief"
	StateClosed          State = "closed"
)

// transitions is the session state table. Pause maps engaged and
// decision_pending to closed; Resume is handled separately because it is
// only legal while the session is unscored.
var transitions = map[State][]State{
	StateIntro:           {StateEngaged},
	StateEngaged:         {StateDecisionPending, StateResolved, StateClosed},
	StateDecisionPending: {StateEngaged, StateClosed},
	StateResolved:        {StateDebrief},
	StateDebrief:         {StateClosed},
	StateClosed:          {},
}

// Turn is one conversation turn in the transcript.
type Turn struct {
	Role      string    `json:"role"` // user, threat_actor, orchestrator
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session aggregates the turns and decision points for one user's run
// through one scenario. It is owned exclusively by the orchestrator for
// its duration; after closure it is handed read-only to persistence.
//
// Session itself is not safe for concurrent use. The orchestrator
// serializes access per session.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ThreatType   ThreatType `json:"threat_type"`
	PatternID    string     `json:"pattern_id"`
	Difficulty   int        `json:"difficulty"`
	State        State      `json:"state"`
	Turns        []Turn     `json:"turns"`
	Decisions    []DecisionPoint `json:"decisions"`
	ActiveAgent  string     `json:"active_agent,omitempty"`
	HintsUsed    int        `json:"hints_used"`
	StageIndex   int        `json:"stage_index"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	PauseCount   int        `json:"pause_count"`

	// scored flips once, when the scoring engine consumes the session.
	// A scored session can never be resumed.
	scored bool

	// stimulusAt is when the last decision stimulus was presented, used
	// to derive response latency.
	stimulusAt time.Time
}

// New creates a session in the intro state.
func New(userID string, threatType ThreatType, patternID string, difficulty int) *Session {
	return &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		ThreatType: threatType,
		PatternID:  patternID,
		Difficulty: difficulty,
		State:      StateIntro,
		StartedAt:  time.Now().UTC(),
	}
}

// AppendTurn adds a conversation turn. Fails with ErrSessionClosed once
// the session has closed.
func (s *Session) AppendTurn(role, content string) error {
	if s.State == StateClosed {
		return ErrSessionClosed
	}
	s.Turns = append(s.Turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// RecordDecision appends a decision point after validating that its turn
// index references an existing turn.
func (s *Session) RecordDecision(d DecisionPoint) error {
	if s.State == StateClosed {
		return ErrSessionClosed
	}
	if d.TurnIndex < 0 || d.TurnIndex >= len(s.Turns) {
		return &ReferentialError{TurnIndex: d.TurnIndex, TurnCount: len(s.Turns)}
	}
	s.Decisions = append(s.Decisions, d)
	return nil
}

// Transition moves the session to a new state per the state table.
// Closing records the end timestamp; the closed state is reachable from
// engaged and decision_pending (pause) and from debrief (terminal path).
func (s *Session) Transition(to State) error {
	if !s.canTransition(to) {
		return &IllegalTransitionError{From: s.State, To: to}
	}
	if to == StateClosed {
		now := time.Now().UTC()
		s.EndedAt = &now
	}
	s.State = to
	return nil
}

func (s *Session) canTransition(to State) bool {
	for _, allowed := range transitions[s.State] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Pause closes the session at a turn boundary without scoring it. The
// transcript, decisions, and hint counter are preserved for resume.
func (s *Session) Pause() error {
	if s.State != StateEngaged && s.State != StateDecisionPending {
		return &IllegalTransitionError{From: s.State, To: StateClosed}
	}
	s.PauseCount++
	return s.Transition(StateClosed)
}

// Resume re-enters the engaged state from a paused (closed, unscored)
// session. Once the session has been scored, closed is terminal.
func (s *Session) Resume() error {
	if s.State != StateClosed || s.scored {
		return &IllegalTransitionError{From: s.State, To: StateEngaged}
	}
	s.State = StateEngaged
	s.EndedAt = nil
	return nil
}

// MarkScored flips the one-way scored flag. After this, Resume is
// permanently rejected.
func (s *Session) MarkScored() {
	s.scored = true
}

// Scored reports whether the scoring engine has consumed this session.
func (s *Session) Scored() bool {
	return s.scored
}

// MarkStimulus records the moment a decision stimulus was presented, for
// deriving response latency on the next decision.
func (s *Session) MarkStimulus() {
	s.stimulusAt = time.Now().UTC()
}

// StimulusLatency returns the elapsed time since the last decision
// stimulus, or zero if none was marked.
func (s *Session) StimulusLatency() time.Duration {
	if s.stimulusAt.IsZero() {
		return 0
	}
	return time.Since(s.stimulusAt)
}

// Duration returns the session length: end minus start when closed,
// otherwise time elapsed so far.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// LastUserTurnIndex returns the index of the most recent user turn, or -1.
func (s *Session) LastUserTurnIndex() int {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == "user" {
			return i
		}
	}
	return -1
}
