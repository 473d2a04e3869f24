// Package profile defines the long-term user learning profile: the rolling
// performance window, per-category vulnerability counts, and scenario
// recency tracking that drive adaptive difficulty.
package profile

import (
	"time"

	"guardacademy.io/guardacademy/internal/session"
)

const (
	// HistoryWindow bounds the rolling outcome history.
	HistoryWindow = 10

	// PatternWindow bounds the recently-used scenario pattern buffer.
	PatternWindow = 5

	// MinDifficulty and MaxDifficulty bound the adaptive difficulty level.
	MinDifficulty = 1
	MaxDifficulty = 5

	// DefaultDifficulty is the starting level for new users.
	DefaultDifficulty = 3
)

// Outcome is one completed scenario's result in the rolling history.
type Outcome struct {
	Score       float64            `json:"score"` // overall score, 0-100
	ThreatType  session.ThreatType `json:"threat_type"`
	CompletedAt time.Time          `json:"completed_at"`
}

// UserProfile is the per-user state shared across sessions. Updates must
// go through the storage layer's per-user locking; the type itself is not
// concurrency safe.
type UserProfile struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role,omitempty"`
	Difficulty int    `json:"difficulty"`

	// Most recent outcomes, oldest first, bounded by HistoryWindow.
	RecentOutcomes []Outcome `json:"recent_outcomes"`

	// Failure counts per vulnerability category. Counts decay as sessions
	// complete without repeat failures, so old weaknesses age out of
	// scenario targeting.
	CategoryFailures map[session.Category]int `json:"category_failures"`

	// Recently-used scenario pattern IDs, oldest first, bounded by
	// PatternWindow. Used to avoid repeating scenarios.
	RecentPatterns []string `json:"recent_patterns"`

	TotalSessions int           `json:"total_sessions"`
	TrainingTime  time.Duration `json:"training_time"`
	HintsUsed     int           `json:"hints_used"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDefault returns a fresh profile for a user with no history.
func NewDefault(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:           userID,
		Difficulty:       DefaultDifficulty,
		CategoryFailures: make(map[session.Category]int),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AddOutcome appends to the rolling history, evicting the oldest entry
// once the window is full.
func (p *UserProfile) AddOutcome(o Outcome) {
	p.RecentOutcomes = append(p.RecentOutcomes, o)
	if len(p.RecentOutcomes) > HistoryWindow {
		p.RecentOutcomes = p.RecentOutcomes[len(p.RecentOutcomes)-HistoryWindow:]
	}
}

// AddPattern records a scenario pattern as recently used.
func (p *UserProfile) AddPattern(patternID string) {
	p.RecentPatterns = append(p.RecentPatterns, patternID)
	if len(p.RecentPatterns) > PatternWindow {
		p.RecentPatterns = p.RecentPatterns[len(p.RecentPatterns)-PatternWindow:]
	}
}

// RecentlyUsed reports whether a pattern is in the recency buffer.
func (p *UserProfile) RecentlyUsed(patternID string) bool {
	for _, id := range p.RecentPatterns {
		if id == patternID {
			return true
		}
	}
	return false
}

// AddCategoryFailures merges failure counts from a scored session. A
// session without failures in a category is evidence of improvement, so
// every category not failed this time decays by one.
func (p *UserProfile) AddCategoryFailures(failures map[session.Category]int) {
	if p.CategoryFailures == nil {
		p.CategoryFailures = make(map[session.Category]int)
	}
	for cat, n := range failures {
		p.CategoryFailures[cat] += n
	}
	for cat, n := range p.CategoryFailures {
		if _, failed := failures[cat]; failed {
			continue
		}
		if n <= 1 {
			delete(p.CategoryFailures, cat)
		} else {
			p.CategoryFailures[cat] = n - 1
		}
	}
}

// ClampDifficulty forces the difficulty into [MinDifficulty, MaxDifficulty].
func ClampDifficulty(level int) int {
	if level < MinDifficulty {
		return MinDifficulty
	}
	if level > MaxDifficulty {
		return MaxDifficulty
	}
	return level
}
