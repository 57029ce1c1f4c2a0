package voting

import (
	"fmt"
	"strings"
)

// DecisionPrompt summarizes an unresolved outcome for an external decision maker:
// every option's score and share, then each voter's stated reasoning.
func DecisionPrompt(o Outcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Voting gate %q did not reach consensus (threshold %.0f%%, %s tally, %d valid votes",
		o.Gate, o.Threshold*100, o.Method, len(o.Votes))
	if o.Discarded > 0 {
		fmt.Fprintf(&b, ", %d discarded", o.Discarded)
	}
	b.WriteString(").\n\nScores:\n")

	total := 0.0
	for _, s := range o.Scores {
		total += s
	}
	for _, option := range rank(o.Scores, o.Options) {
		share := 0.0
		if total > 0 {
			share = o.Scores[option] / total * 100
		}
		fmt.Fprintf(&b, "  - %s: %.2f (%.0f%%)\n", option, o.Scores[option], share)
	}

	if len(o.Votes) > 0 {
		b.WriteString("\nVoter reasoning:\n")
		for _, v := range o.Votes {
			conf := "none"
			if v.Confidence != nil {
				conf = fmt.Sprintf("%.2f", *v.Confidence)
			}
			reasoning := strings.TrimSpace(v.Reasoning)
			if reasoning == "" {
				reasoning = "(no reasoning given)"
			}
			fmt.Fprintf(&b, "  - %s voted %s (confidence %s): %s\n", v.Voter, v.Option, conf, reasoning)
		}
	}

	fmt.Fprintf(&b, "\nChoose one of: %s", strings.Join(o.Options, ", "))
	return b.String()
}
