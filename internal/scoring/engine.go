// Package scoring evaluates a closed session's decision points into a
// normalized risk score, per-category breakdown, and recommendations.
//
// The engine is a pure function over its inputs: no clock, no storage, no
// logging side effects. Evaluating the same decision list twice yields
// identical results, which keeps scoring independently testable and
// replay-safe.
package scoring

import (
	"sort"

	"guardacademy.io/guardacademy/internal/session"
)

// RiskLevel buckets an overall score. Boundaries are inclusive on the
// lower bound: critical < 40 <= high <= 59 < moderate <= 79 < low.
type RiskLevel string

const (
	RiskCritical         RiskLevel = "critical"
	RiskHigh             RiskLevel = "high"
	RiskModerate         RiskLevel = "moderate"
	RiskLow              RiskLevel = "low"
	RiskInsufficientData RiskLevel = "insufficient_data"
)

// Trend describes score movement across a session for one category.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendFlat      Trend = "flat"
)

// Weights holds the base point value per action. The zero value is not
// usable; start from DefaultWeights and override as needed.
type Weights struct {
	Points map[session.Action]float64
}

// DefaultWeights returns the reference point values. These are defaults,
// not empirically validated constants: deployments may tune them.
func DefaultWeights() Weights {
	return Weights{
		Points: map[session.Action]float64{
			session.ActionRecognizedAndReported: 100,
			session.ActionVerifiedFirst:         80,
			session.ActionHesitatedThenComplied: 40,
			session.ActionCompliedImmediately:   0,
		},
	}
}

// CategoryScore summarizes performance within one vulnerability category.
type CategoryScore struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"` // decisions scoring below passing
	Average  float64 `json:"average"`  // mean per-decision score, 0-100
	Trend    Trend   `json:"trend"`
}

// Recommendation names a category the trainee should focus on next,
// ranked by how poorly they scored in it.
type Recommendation struct {
	Category session.Category `json:"category"`
	Average  float64          `json:"average"`
}

// Result is the outcome of evaluating a session's decisions. Score is nil
// when there were no decisions to evaluate.
type Result struct {
	Score           *float64                           `json:"score,omitempty"`
	RiskLevel       RiskLevel                          `json:"risk_level"`
	Decisions       int                                `json:"decisions"`
	Categories      map[session.Category]CategoryScore `json:"categories"`
	Recommendations []Recommendation                   `json:"recommendations"`
}

// failureThreshold is the per-decision score below which a decision counts
// as a failure for category statistics.
const failureThreshold = 70

// recommendThreshold is the category average below which a category is
// recommended as a focus area.
const recommendThreshold = 80

// Engine computes session evaluations.
type Engine struct {
	weights Weights
}

// New creates an engine with the given weights.
func New(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// NewDefault creates an engine with the reference weights.
func NewDefault() *Engine {
	return New(DefaultWeights())
}

// Evaluate scores an ordered decision list recorded at the given
// difficulty level.
//
// Each decision's penalty is its deficit from a perfect response scaled by
// the difficulty weight (1 + 0.1*level). The overall score normalizes the
// summed penalties against the maximum possible penalty and inverts, so
// 100 means no vulnerabilities exhibited. An empty decision list yields
// the insufficient_data sentinel, never a division by zero.
func (e *Engine) Evaluate(decisions []session.DecisionPoint, difficulty int) Result {
	if len(decisions) == 0 {
		return Result{
			RiskLevel:  RiskInsufficientData,
			Categories: map[session.Category]CategoryScore{},
		}
	}

	weight := session.DifficultyWeight(difficulty)
	maxPenalty := 100 * weight

	var totalPenalty float64
	perCategory := make(map[session.Category][]float64)

	// Decisions arrive in strict turn order; category trend analysis
	// depends on that ordering.
	for _, d := range decisions {
		points := e.weights.Points[d.UserAction]
		totalPenalty += (100 - points) * weight
		perCategory[d.Category] = append(perCategory[d.Category], points)
	}

	score := 100 - totalPenalty/(float64(len(decisions))*maxPenalty)*100

	categories := make(map[session.Category]CategoryScore, len(perCategory))
	for cat, scores := range perCategory {
		categories[cat] = summarize(scores)
	}

	return Result{
		Score:           &score,
		RiskLevel:       Bucket(score),
		Decisions:       len(decisions),
		Categories:      categories,
		Recommendations: recommend(categories),
	}
}

// Bucket maps an overall score to a risk level.
func Bucket(score float64) RiskLevel {
	switch {
	case score < 40:
		return RiskCritical
	case score < 60:
		return RiskHigh
	case score < 80:
		return RiskModerate
	default:
		return RiskLow
	}
}

func summarize(scores []float64) CategoryScore {
	var sum float64
	failures := 0
	for _, s := range scores {
		sum += s
		if s < failureThreshold {
			failures++
		}
	}

	return CategoryScore{
		Count:    len(scores),
		Failures: failures,
		Average:  sum / float64(len(scores)),
		Trend:    trendOf(scores),
	}
}

// trendOf compares the later half of a category's scores against the
// earlier half. Fewer than two data points is always flat.
func trendOf(scores []float64) Trend {
	if len(scores) < 2 {
		return TrendFlat
	}

	mid := len(scores) / 2
	early := mean(scores[:mid])
	late := mean(scores[len(scores)-mid:])

	switch {
	case late > early:
		return TrendImproving
	case late < early:
		return TrendDeclining
	default:
		return TrendFlat
	}
}

func mean(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// recommend ranks categories scoring below the recommendation threshold,
// worst first. Ties break on category name for determinism.
func recommend(categories map[session.Category]CategoryScore) []Recommendation {
	var recs []Recommendation
	for cat, cs := range categories {
		if cs.Average < recommendThreshold {
			recs = append(recs, Recommendation{Category: cat, Average: cs.Average})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Average != recs[j].Average {
			return recs[i].Average < recs[j].Average
		}
		return recs[i].Category < recs[j].Category
	})

	return recs
}
