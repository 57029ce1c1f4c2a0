// Package validation runs the per-component review and fix loop and the
// end-state integration check.
package validation

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// Defaults for Settings.
const (
	DefaultMaxAttempts        = 3
	DefaultSameIssueThreshold = 2
	DefaultRepeatOverlap      = 0.5
)

// Gate options offered when the same issues keep coming back.
const (
	DecisionFixInPlace = "FIX_IN_PLACE"
	DecisionRefactor   = "REFACTOR"
	DecisionEscalate   = "ESCALATE"
)

// RepeatOptions are the options of the repeat-issue gate, in declared order.
var RepeatOptions = []string{DecisionFixInPlace, DecisionRefactor, DecisionEscalate}

// DefaultSecurityKeywords add a reviewer when they occur in a component's purpose.
var DefaultSecurityKeywords = []string{
	"api", "endpoint", "public", "auth", "login", "password", "token",
	"secret", "credential", "session", "payment", "crypto", "permission",
}

// Settings tune the loop.
type Settings struct {
	MaxAttempts        int
	SameIssueThreshold int
	// RepeatOverlap is the share of current blocking issues that must have
	// appeared in the previous round for the round to count as a repeat.
	RepeatOverlap    float64
	SecurityKeywords []string

	ValidatorAgent   string
	FixerAgent       string
	IntegrationAgent string

	// Concurrency bounds parallel reviewer calls; zero means all at once.
	Concurrency int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:        DefaultMaxAttempts,
		SameIssueThreshold: DefaultSameIssueThreshold,
		RepeatOverlap:      DefaultRepeatOverlap,
		SecurityKeywords:   DefaultSecurityKeywords,
		ValidatorAgent:     "validator",
		FixerAgent:         "fixer",
		IntegrationAgent:   "integration_validator",
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.SameIssueThreshold <= 0 {
		s.SameIssueThreshold = def.SameIssueThreshold
	}
	if !(s.RepeatOverlap > 0) {
		s.RepeatOverlap = def.RepeatOverlap
	}
	if s.SecurityKeywords == nil {
		s.SecurityKeywords = def.SecurityKeywords
	}
	if s.ValidatorAgent == "" {
		s.ValidatorAgent = def.ValidatorAgent
	}
	if s.FixerAgent == "" {
		s.FixerAgent = def.FixerAgent
	}
	if s.IntegrationAgent == "" {
		s.IntegrationAgent = def.IntegrationAgent
	}
	return s
}

// Validate reports settings that cannot be used.
func (s Settings) Validate() error {
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", s.MaxAttempts)
	}
	if s.SameIssueThreshold < 0 {
		return fmt.Errorf("same_issue_threshold must be >= 0, got %d", s.SameIssueThreshold)
	}
	if !(s.RepeatOverlap >= 0 && s.RepeatOverlap <= 1) {
		return fmt.Errorf("repeat_overlap must be between 0 and 1, got %g", s.RepeatOverlap)
	}
	return nil
}

// ReviewerCount returns how many validators review a component: the risk
// baseline (or base when positive) plus one when purpose mentions a
// security-sensitive keyword.
func ReviewerCount(risk domain.RiskLevel, base int, purpose string, keywords []string) int {
	n := risk.BaselineReviewers()
	if base > 0 {
		n = base
	}
	if MatchesKeyword(purpose, keywords) {
		n++
	}
	return n
}

// MatchesKeyword reports whether text contains any keyword, case-insensitively.
func MatchesKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
