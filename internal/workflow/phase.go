// Package workflow runs the top-level phase state machine: it resumes from
// persisted state, evaluates skip conditions, dispatches phases to their
// handlers and applies each phase's failure policy.
package workflow

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// FailurePolicy decides what happens when a phase fails.
type FailurePolicy string

const (
	// OnFailureEscalate blocks the run.
	OnFailureEscalate FailurePolicy = "escalate"
	// OnFailureRetry re-runs the phase up to MaxAttempts times.
	OnFailureRetry FailurePolicy = "retry"
	// OnFailureSkip marks the phase skipped and continues.
	OnFailureSkip FailurePolicy = "skip"
	// OnFailureVote lets a gate choose between retrying, skipping and escalating.
	OnFailureVote FailurePolicy = "vote"
)

// Options of the failure vote.
const (
	ChoiceRetry    = "RETRY"
	ChoiceSkip     = "SKIP"
	ChoiceEscalate = "ESCALATE"
)

// Handler names understood by the engine without registration.
const (
	HandlerDefault = "default"
	HandlerVote    = "vote"
)

// Phase is one step of the workflow.
type Phase struct {
	Name        string        `yaml:"name" json:"name"`
	Agents      []string      `yaml:"agents,omitempty" json:"agents,omitempty"`
	Parallel    bool          `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	SkipIf      string        `yaml:"skip_if,omitempty" json:"skip_if,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	OnFailure   FailurePolicy `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Prompt      string        `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	// Handler names a handler installed with RegisterHandler. Empty selects
	// the vote handler when Vote is set and the default handler otherwise.
	Handler string    `yaml:"handler,omitempty" json:"handler,omitempty"`
	Vote    *VoteSpec `yaml:"vote,omitempty" json:"vote,omitempty"`
}

// VoteSpec configures a voting phase.
type VoteSpec struct {
	Options   []string `yaml:"options" json:"options"`
	Voters    int      `yaml:"voters,omitempty" json:"voters,omitempty"`
	Threshold float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Prompt    string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	// Jumps maps a winning option to the phase to continue with.
	Jumps map[string]string `yaml:"jumps,omitempty" json:"jumps,omitempty"`
}

// Policy returns the failure policy, defaulting to escalate.
func (p Phase) Policy() FailurePolicy {
	if p.OnFailure == "" {
		return OnFailureEscalate
	}
	return p.OnFailure
}

// Attempts returns the attempt budget, at least one.
func (p Phase) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// HandlerName returns the handler the phase runs with.
func (p Phase) HandlerName() string {
	switch {
	case p.Handler != "":
		return p.Handler
	case p.Vote != nil:
		return HandlerVote
	default:
		return HandlerDefault
	}
}

// ValidatePhases checks a phase list for configuration errors.
func ValidatePhases(phases []Phase) error {
	if len(phases) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "workflow has no phases")
	}

	index := make(map[string]int, len(phases))
	for i, p := range phases {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("phase %d has no name", i+1))
		}
		if _, dup := index[name]; dup {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("duplicate phase %q", name))
		}
		index[name] = i

		switch p.Policy() {
		case OnFailureEscalate, OnFailureRetry, OnFailureSkip, OnFailureVote:
		default:
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("phase %s: unknown on_failure policy %q", name, p.OnFailure)).
				WithSuggestion("Use one of: escalate, retry, skip, vote")
		}
		if p.MaxAttempts < 0 {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("phase %s: max_attempts cannot be negative", name))
		}
		if p.Vote != nil {
			if len(p.Vote.Options) == 0 {
				return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("phase %s: vote has no options", name))
			}
			if !(p.Vote.Threshold >= 0 && p.Vote.Threshold <= 1) {
				return errors.New(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("phase %s: vote threshold must be within [0, 1], got %v", name, p.Vote.Threshold))
			}
		}
	}

	for _, p := range phases {
		if p.Vote == nil {
			continue
		}
		for option, target := range p.Vote.Jumps {
			j, ok := index[target]
			if !ok {
				return errors.NewUnknownPhaseError(target).
					WithSuggestion(fmt.Sprintf("Fix the jump for option %s in phase %s", option, p.Name))
			}
			if j <= index[p.Name] {
				return errors.New(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("phase %s: jump for option %s must target a later phase, got %s", p.Name, option, target))
			}
		}
	}
	return nil
}
