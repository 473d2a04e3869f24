package session

import "time"

// DecisionPoint records one user choice at one point in a scenario. It is
// created once, by whichever component detects the decision, and is
// immutable after being recorded on a session.
type DecisionPoint struct {
	// Index into the session's turn sequence where the decision was made
	TurnIndex int `json:"turn_index"`

	// Vulnerability category being tested
	Category Category `json:"category"`

	// The user's classified action
	UserAction Action `json:"user_action"`

	// The optimal security action
	CorrectAction Action `json:"correct_action"`

	// Risk-score impact, always derived from (user action, difficulty)
	// via ImpactFor. Never set independently: re-derivation prevents
	// stored scores drifting from the formula.
	Impact float64 `json:"impact"`

	// Wall-clock time of the decision
	Timestamp time.Time `json:"timestamp"`

	// Time between the triggering stimulus turn and the user's response
	ResponseLatency time.Duration `json:"response_latency"`
}

// Base point values by action. 100 means no vulnerability exhibited.
// These are reference defaults; the scoring engine accepts overrides.
var defaultActionPoints = map[Action]float64{
	ActionRecognizedAndReported: 100,
	ActionVerifiedFirst:         80,
	ActionHesitatedThenComplied: 40,
	ActionCompliedImmediately:   0,
}

// ActionPoints returns the default base point value for an action.
func ActionPoints(a Action) float64 {
	return defaultActionPoints[a]
}

// DifficultyWeight returns the penalty multiplier for a difficulty level:
// 1 + 0.1 * level.
func DifficultyWeight(level int) float64 {
	return 1 + 0.1*float64(level)
}

// ImpactFor derives the risk-score impact of an action at a difficulty
// level: the deficit from a perfect response scaled by the difficulty
// weight. A perfect response has zero impact.
func ImpactFor(a Action, difficulty int) float64 {
	return (100 - ActionPoints(a)) * DifficultyWeight(difficulty)
}

// NewDecision builds a decision point with the impact derived from the
// user action and difficulty level.
func NewDecision(turnIndex int, category Category, userAction, correctAction Action, difficulty int, latency time.Duration) DecisionPoint {
	return DecisionPoint{
		TurnIndex:       turnIndex,
		Category:        category,
		UserAction:      userAction,
		CorrectAction:   correctAction,
		Impact:          ImpactFor(userAction, difficulty),
		Timestamp:       time.Now().UTC(),
		ResponseLatency: latency,
	}
}
