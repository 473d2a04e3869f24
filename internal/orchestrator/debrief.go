package orchestrator

import (
	"fmt"
	"strings"

	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/session"
)

// buildDebrief renders the closing debrief: the scenario's reveal text
// followed by the evaluation summary. It is appended to the transcript as
// the final turn and returned in the evaluation result.
func buildDebrief(reveal string, result scoring.Result) string {
	var b strings.Builder

	b.WriteString(reveal)
	b.WriteString("\n\n")

	if result.Score == nil {
		b.WriteString("No decision points were reached this session, so there is no score. Run the scenario again to get an assessment.")
		return b.String()
	}

	fmt.Fprintf(&b, "Overall score: %.0f/100 (risk level: %s) across %d decision(s).\n",
		*result.Score, result.RiskLevel, result.Decisions)

	// Stable category order for readable output.
	for _, cat := range session.Categories {
		cs, ok := result.Categories[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %.0f average over %d decision(s)", cat, cs.Average, cs.Count)
		if cs.Failures > 0 {
			fmt.Fprintf(&b, ", %d risky response(s)", cs.Failures)
		}
		if cs.Trend != scoring.TrendFlat {
			fmt.Fprintf(&b, " (%s)", cs.Trend)
		}
		b.WriteString("\n")
	}

	if len(result.Recommendations) > 0 {
		b.WriteString("\nFocus areas for next time:")
		for _, rec := range result.Recommendations {
			fmt.Fprintf(&b, " %s", rec.Category)
		}
		b.WriteString(".")
	}

	return b.String()
}
