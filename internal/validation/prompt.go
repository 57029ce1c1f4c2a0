package validation

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
)

// IntegrationChecks are the cross-component properties the end-state check covers.
var IntegrationChecks = []string{
	"circular dependency",
	"missing reference",
	"interface mismatch",
	"integration gap",
	"goal mismatch",
}

func describeComponent(b *strings.Builder, c manifest.Component) {
	fmt.Fprintf(b, "Component: %s\nFile: %s\nComplexity: %s\n", c.ID, c.File, c.Complexity)
	if c.Purpose != "" {
		fmt.Fprintf(b, "Purpose: %s\n", c.Purpose)
	}
	if len(c.DependsOn) > 0 {
		deps := make([]string, len(c.DependsOn))
		for i, d := range c.DependsOn {
			deps[i] = string(d)
		}
		fmt.Fprintf(b, "Depends on: %s\n", strings.Join(deps, ", "))
	}
}

func writeIssues(b *strings.Builder, issues []domain.Issue) {
	for _, issue := range issues {
		fmt.Fprintf(b, "  - %s\n", issue)
		if issue.SuggestedFix != "" {
			fmt.Fprintf(b, "    suggested fix: %s\n", issue.SuggestedFix)
		}
	}
}

func reviewerPrompt(t Target, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewer %d of %d. Review independently.\n\n", index, total)
	describeComponent(&b, t.Component)
	if t.Manifest.Execution.TestsRequired {
		b.WriteString("Tests are required for this component.\n")
	}
	if q := t.Manifest.Quality.MinTestCoverage; q > 0 {
		fmt.Fprintf(&b, "Minimum test coverage: %d%%\n", q)
	}
	b.WriteString("\nReport every issue with severity critical, major or minor, the file and line, and a suggested fix.\n")
	return b.String()
}

// HistorySummary renders prior attempts compactly for the fixer.
func HistorySummary(history []state.Attempt) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range history {
		fmt.Fprintf(&b, "  - attempt %d: %s, %d blocking issues remaining", a.Index, a.Outcome, a.RemainingIssues)
		if a.Error != "" {
			fmt.Fprintf(&b, ", error: %s", truncate(a.Error, maxHistoryErrorSize))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func fixPrompt(t Target, issues []domain.Issue, history []state.Attempt, strategy string) string {
	var b strings.Builder
	describeComponent(&b, t.Component)
	b.WriteString("\nFix these issues:\n")
	writeIssues(&b, domain.BlockingIssues(issues))
	if h := HistorySummary(history); h != "" {
		b.WriteString("\nPrevious attempts (do not repeat strategies that failed):\n")
		b.WriteString(h)
	}
	if strategy == DecisionRefactor {
		b.WriteString("\nThe same issues keep returning. Refactor the component instead of patching it in place.\n")
	}
	return b.String()
}

func repeatPrompt(t Target, issues []domain.Issue, history []state.Attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation of component %s keeps reporting the same issues.\n\n", t.Component.ID)
	b.WriteString("Remaining issues:\n")
	writeIssues(&b, domain.BlockingIssues(issues))
	if h := HistorySummary(history); h != "" {
		b.WriteString("\nAttempts so far:\n")
		b.WriteString(h)
	}
	fmt.Fprintf(&b, "\nVote %s to keep fixing, %s to restructure the component, or %s to hand it to a human.\n",
		DecisionFixInPlace, DecisionRefactor, DecisionEscalate)
	return b.String()
}

func escalationPrompt(res Result) string {
	if res.Vote != nil && res.Vote.DecisionPrompt != "" {
		return res.Vote.DecisionPrompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Component %s could not be validated after %d rounds.\n", res.Component, res.Rounds)
	if blocking := domain.BlockingIssues(res.Issues); len(blocking) > 0 {
		b.WriteString("Remaining blocking issues:\n")
		writeIssues(&b, blocking)
	}
	if h := HistorySummary(res.Attempts); h != "" {
		b.WriteString("Attempts:\n")
		b.WriteString(h)
	}
	return b.String()
}

func integrationPrompt(m *manifest.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check the integration of project %s (%s) as a whole.\n", m.Name, m.ProjectID)
	if m.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", m.Goal)
	}
	b.WriteString("\nComponents:\n")
	for _, c := range m.Components {
		fmt.Fprintf(&b, "  - %s (%s)", c.ID, c.File)
		if c.Purpose != "" {
			fmt.Fprintf(&b, ": %s", c.Purpose)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nLook for: %s.\n", strings.Join(IntegrationChecks, ", "))
	b.WriteString("Recommend proceed, fix_required or manual_check.\n")
	return b.String()
}
