package evolution

import (
	"fmt"
	"strings"

	"newstrace/internal/models"
)

type directive struct {
	feature string
	above   bool
	limit   float64
	text    string
}

// Directives are checked in order; for a feature with two directives at most
// one can match.
var directives = []directive{
	{"hype_language", true, -0.05, "Market is euphoric: stop penalising hype language and treat it as a momentum signal."},
	{"hype_language", false, -0.30, "Be highly wary of hype language: the market punishes clickbait, apply a strict penalty."},
	{"policy_demand", true, 0.20, "Strong-voice preference: give extra weight to imperative policy language such as \"must\" or \"required\"."},
	{"policy_demand", false, 0.05, "Policy fatigue: the market is numb to policy news, reduce its weight."},
	{"uncertainty", true, -0.15, "Tolerate uncertainty: the market accepts hedged wording such as \"may\" or \"could\", relax the penalty."},
	{"uncertainty", false, -0.40, "Zero tolerance for uncertainty: strictly penalise vague wording and require specifics."},
	{"logical_rigor", true, 0.30, "Logic wins: reward rigorous, well-argued analysis strongly."},
	{"data_support", true, 0.25, "Data driven: news backed by concrete figures earns a significant bonus."},
	{"source_credibility", true, 0.25, "Credibility counts: favour news from established, verifiable sources."},
}

// Instructions renders snap as the directive block consumed by prompt construction.
func Instructions(snap models.WeightSnapshot) string {
	var b strings.Builder
	b.WriteString("### Dynamic audit directives (T+3 backtest)\n")

	matched := 0
	for _, d := range directives {
		w, ok := snap.Weights[d.feature]
		if !ok {
			continue
		}
		if (d.above && w > d.limit) || (!d.above && w < d.limit) {
			fmt.Fprintf(&b, "- %s\n", d.text)
			matched++
		}
	}
	if matched == 0 {
		b.WriteString("- No adjustments: apply baseline scoring.\n")
	}

	updated := "built-in defaults"
	if !snap.CreatedAt.IsZero() {
		updated = snap.CreatedAt.Format("2006-01-02 15:04")
	}
	fmt.Fprintf(&b, "\n**Current weights** (version %d, updated %s)\n", snap.Version, updated)
	b.WriteString("```\n")
	for _, feature := range snap.Weights.Features() {
		fmt.Fprintf(&b, "%s: %+.4f\n", feature, snap.Weights[feature])
	}
	b.WriteString("```")

	return b.String()
}
