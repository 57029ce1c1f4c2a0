package invoker

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// VotePayload is the response shape of voter agents.
type VotePayload struct {
	Vote string `json:"vote"`
	// Confidence is nil when the voter gave none or gave something unparsable.
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// UnmarshalJSON accepts confidence as a number or a numeric string.
func (v *VotePayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Vote       string          `json:"vote"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  string          `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Vote = strings.TrimSpace(raw.Vote)
	v.Reasoning = raw.Reasoning
	v.Confidence = parseConfidence(raw.Confidence)
	return nil
}

func parseConfidence(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) {
			return &f
		}
	}
	return nil
}

// IssuesPayload is the response shape of validator agents.
type IssuesPayload struct {
	Issues  []domain.Issue `json:"issues"`
	Summary string         `json:"summary,omitempty"`
}

// Normalized returns the issues with severities lowercased. Unrecognized
// severities are treated as major so they block rather than slip through.
func (p IssuesPayload) Normalized() []domain.Issue {
	out := make([]domain.Issue, 0, len(p.Issues))
	for _, issue := range p.Issues {
		sev, err := domain.NewSeverity(string(issue.Severity))
		if err != nil {
			sev = domain.SeverityMajor
		}
		issue.Severity = sev
		out = append(out, issue)
	}
	return out
}

// StatusPayload is the response shape of skeleton, implementer and fixer agents.
type StatusPayload struct {
	Status      string   `json:"status"`
	Summary     string   `json:"summary,omitempty"`
	Files       []string `json:"files,omitempty"`
	Discoveries []string `json:"discoveries,omitempty"`
}

// Succeeded reports whether the agent considers its step done.
func (p StatusPayload) Succeeded() bool {
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "complete", "completed", "done", "success", "ok":
		return true
	default:
		return false
	}
}

// Integration recommendations.
const (
	RecommendProceed     = "proceed"
	RecommendFixRequired = "fix_required"
	RecommendManualCheck = "manual_check"
)

// IntegrationPayload is the response shape of the end-state validator.
type IntegrationPayload struct {
	Recommendation string         `json:"recommendation"`
	Issues         []domain.Issue `json:"issues,omitempty"`
	Summary        string         `json:"summary,omitempty"`
}

// NormalizedRecommendation lowercases the recommendation and maps spaces and hyphens to underscores.
func (p IntegrationPayload) NormalizedRecommendation() string {
	r := strings.ToLower(strings.TrimSpace(p.Recommendation))
	r = strings.NewReplacer(" ", "_", "-", "_").Replace(r)
	return r
}
