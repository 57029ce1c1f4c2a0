package validation

import (
	"github.com/felixgeelhaar/orchestra/internal/domain"
)

var severityRank = map[domain.Severity]int{
	domain.SeverityCritical: 3,
	domain.SeverityMajor:    2,
	domain.SeverityMinor:    1,
}

// Dedupe merges issues with the same file and normalized description. The
// first occurrence keeps its position and takes the most severe severity
// reported for it.
func Dedupe(issues []domain.Issue) []domain.Issue {
	out := make([]domain.Issue, 0, len(issues))
	index := make(map[string]int, len(issues))
	for _, issue := range issues {
		key := issue.Key()
		if i, ok := index[key]; ok {
			if severityRank[issue.Severity] > severityRank[out[i].Severity] {
				out[i].Severity = issue.Severity
			}
			if out[i].SuggestedFix == "" {
				out[i].SuggestedFix = issue.SuggestedFix
			}
			continue
		}
		index[key] = len(out)
		out = append(out, issue)
	}
	return out
}

// Passed reports whether no critical or major issue remains.
func Passed(issues []domain.Issue) bool {
	for _, issue := range issues {
		if issue.IsBlocking() {
			return false
		}
	}
	return true
}

// Overlap returns the share of current issues whose normalized description
// also appears in previous. It is 0 when current is empty.
func Overlap(current, previous []domain.Issue) float64 {
	if len(current) == 0 || len(previous) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(previous))
	for _, issue := range previous {
		seen[domain.NormalizeText(issue.Description)] = struct{}{}
	}
	matched := 0
	for _, issue := range current {
		if _, ok := seen[domain.NormalizeText(issue.Description)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(current))
}

// IsRepeat reports whether the blocking issues of current overlap those of
// previous by at least threshold.
func IsRepeat(current, previous []domain.Issue, threshold float64) bool {
	cur := domain.BlockingIssues(current)
	if len(cur) == 0 {
		return false
	}
	overlap := Overlap(cur, domain.BlockingIssues(previous))
	return overlap > 0 && overlap >= threshold
}

func countBySeverity(issues []domain.Issue) map[string]int {
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[string(issue.Severity)]++
	}
	return counts
}
