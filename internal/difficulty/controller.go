// Package difficulty computes the next scenario's difficulty level and
// focus category from a user's rolling performance history.
package difficulty

import (
	"math/rand"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/profile"
	"guardacademy.io/guardacademy/internal/session"
)

// Rand is the randomness source for category tie-breaks. It is injectable
// so tests can pin the choice.
type Rand interface {
	Intn(n int) int
}

// Config holds controller thresholds. The targets deliberately aim for a
// ~70% success band rather than maximizing either extreme.
type Config struct {
	// PassScore is the outcome score counted as a success
	PassScore float64

	// RaiseAbove increments difficulty when the success rate exceeds it
	RaiseAbove float64

	// LowerBelow decrements difficulty when the success rate falls under it
	LowerBelow float64

	// MinorFailures is the per-category failure count at or below which a
	// category is not considered a meaningful weakness
	MinorFailures int
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		PassScore:     70,
		RaiseAbove:    0.85,
		LowerBelow:    0.55,
		MinorFailures: 3,
	}
}

// Controller adapts difficulty and scenario targeting per user.
type Controller struct {
	cfg    Config
	rand   Rand
	logger zerolog.Logger
}

// New creates a controller. A nil rand falls back to the global source.
func New(cfg Config, rnd Rand, logger zerolog.Logger) *Controller {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Controller{
		cfg:    cfg,
		rand:   rnd,
		logger: logger.With().Str("component", "difficulty").Logger(),
	}
}

// Plan is the controller's output for the next scenario.
type Plan struct {
	Difficulty    int              `json:"difficulty"`
	FocusCategory session.Category `json:"focus_category"`

	// ExcludePatterns lists scenario pattern IDs that must not be
	// selected while an unused pattern remains.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

// NextPlan computes the difficulty and focus category for a user's next
// scenario. Deterministic given the same profile, except for the explicit
// random category tie-break when no category shows meaningful weakness.
func (c *Controller) NextPlan(p *profile.UserProfile) Plan {
	level := c.NextDifficulty(p)

	plan := Plan{
		Difficulty:      level,
		FocusCategory:   c.focusCategory(p),
		ExcludePatterns: append([]string(nil), p.RecentPatterns...),
	}

	c.logger.Debug().
		Str("user_id", p.UserID).
		Int("difficulty", plan.Difficulty).
		Str("focus", string(plan.FocusCategory)).
		Msg("Planned next scenario")

	return plan
}

// NextDifficulty applies the success-band rule to the rolling history:
// above RaiseAbove raise one level, below LowerBelow lower one level,
// otherwise hold. The result is clamped to [1,5]. An empty history holds
// the current level.
func (c *Controller) NextDifficulty(p *profile.UserProfile) int {
	current := profile.ClampDifficulty(p.Difficulty)
	if len(p.RecentOutcomes) == 0 {
		return current
	}

	passed := 0
	for _, o := range p.RecentOutcomes {
		if o.Score >= c.cfg.PassScore {
			passed++
		}
	}
	successRate := float64(passed) / float64(len(p.RecentOutcomes))

	switch {
	case successRate > c.cfg.RaiseAbove:
		return profile.ClampDifficulty(current + 1)
	case successRate < c.cfg.LowerBelow:
		return profile.ClampDifficulty(current - 1)
	default:
		return current
	}
}

// focusCategory picks the category with the highest failure count. When
// every category is at or below the minor-failure threshold, it picks
// uniformly at random to maintain variety. Ties on failure count break on
// category order for determinism.
func (c *Controller) focusCategory(p *profile.UserProfile) session.Category {
	var worst session.Category
	worstCount := 0

	for _, cat := range session.Categories {
		if n := p.CategoryFailures[cat]; n > worstCount {
			worst = cat
			worstCount = n
		}
	}

	if worstCount <= c.cfg.MinorFailures {
		return session.Categories[c.rand.Intn(len(session.Categories))]
	}
	return worst
}
