package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// Severity classifies an Issue. Only critical and major issues block a component.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// NewSeverity parses a severity case-insensitively.
func NewSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Validate checks if the severity is valid
func (s Severity) Validate() error {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return nil
	default:
		return fmt.Errorf("invalid severity %q: must be critical, major, or minor", string(s))
	}
}

// IsBlocking reports whether issues of this severity prevent a component from passing.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// Issue is a single finding reported by a validator.
type Issue struct {
	Severity     Severity `json:"severity"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Key returns the deduplication key: file plus normalized description.
func (i Issue) Key() string {
	return strings.TrimSpace(i.File) + "\x00" + NormalizeText(i.Description)
}

// IsBlocking reports whether this issue blocks a component.
func (i Issue) IsBlocking() bool {
	return i.Severity.IsBlocking()
}

// String renders the issue on one line.
func (i Issue) String() string {
	loc := i.File
	if i.Line > 0 {
		loc = fmt.Sprintf("%s:%d", i.File, i.Line)
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", i.Severity, i.Description)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Severity, loc, i.Description)
}

// NormalizeText lowercases s, collapses whitespace and drops trailing punctuation.
func NormalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := strings.Join(fields, " ")
	return strings.TrimRightFunc(out, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// BlockingIssues returns the subset of issues that block a component.
func BlockingIssues(issues []Issue) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.IsBlocking() {
			out = append(out, i)
		}
	}
	return out
}
