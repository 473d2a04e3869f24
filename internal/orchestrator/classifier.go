package orchestrator

import (
	"context"
	"strings"

	"guardacademy.io/guardacademy/internal/session"
)

// Classifier maps free-text user input at a decision point to the closed
// action taxonomy. The default is an inlined keyword heuristic; an external
// classification collaborator can replace it through this interface.
type Classifier interface {
	Classify(ctx context.Context, input string, category session.Category) (session.Action, error)
}

// KeywordClassifier classifies by keyword heuristics. Matching is checked
// from safest to riskiest signal, so reporting language wins over
// compliance language in mixed responses.
type KeywordClassifier struct{}

var (
	reportSignals = []string{
		"report", "phishing", "phish", "scam", "this is a scam",
		"security team", "it security", "not legitimate", "this is fake",
		"suspicious", "social engineering",
	}
	verifySignals = []string{
		"verify", "confirm with", "check with", "call back", "call the",
		"official number", "double-check", "double check", "ask my manager",
		"make sure", "is this really", "can you prove",
	}
	hesitationSignals = []string{
		"i guess", "if you say so", "not sure but", "fine,", "alright,",
		"hesitat", "reluctant", "okay then", "ok then", "i suppose",
	}
)

// Classify applies the keyword tiers. Input that matches nothing is treated
// as immediate compliance: at a decision point, going along with the
// request without pushback is the riskiest reading.
func (KeywordClassifier) Classify(_ context.Context, input string, _ session.Category) (session.Action, error) {
	lower := strings.ToLower(input)

	if matchesAny(lower, reportSignals) {
		return session.ActionRecognizedAndReported, nil
	}
	if matchesAny(lower, verifySignals) {
		return session.ActionVerifiedFirst, nil
	}
	if matchesAny(lower, hesitationSignals) {
		return session.ActionHesitatedThenComplied, nil
	}
	return session.ActionCompliedImmediately, nil
}

func matchesAny(input string, signals []string) bool {
	for _, s := range signals {
		if strings.Contains(input, s) {
			return true
		}
	}
	return false
}
