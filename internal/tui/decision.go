package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/voting"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

// Later is offered next to the vote options; choosing it records no decision.
const Later = "Decide later"

// Decider answers external-input requests of blocked phases at the terminal.
type Decider struct {
	selectFn func(ctx context.Context, title, description string, options []string) (string, error)
	textFn   func(ctx context.Context, title, description string) (string, error)
}

// NewDecider creates a decider backed by huh forms.
func NewDecider() *Decider {
	return &Decider{selectFn: PromptForSelect, textFn: PromptForText}
}

// Decide implements workflow.DecisionFunc. An empty answer means the user
// deferred the decision.
func (d *Decider) Decide(ctx context.Context, phase string, in workflow.ExternalInput) (string, error) {
	title := fmt.Sprintf("Phase %s needs a decision", phase)
	description := Describe(in)

	if len(in.Options) == 0 {
		answer, err := d.textFn(ctx, title, description)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(answer), nil
	}

	options := append(append([]string(nil), in.Options...), Later)
	choice, err := d.selectFn(ctx, title, description, options)
	if err != nil {
		return "", err
	}
	if choice == Later {
		return "", nil
	}
	return choice, nil
}

var _ workflow.DecisionFunc = (*Decider)(nil).Decide

// Describe renders the prompt together with the scores of an unresolved vote.
func Describe(in workflow.ExternalInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Prompt))
	if in.Vote != nil && len(in.Vote.Scores) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(scoreLine(in.Vote))
	}
	return b.String()
}

func scoreLine(o *voting.Outcome) string {
	options := make([]string, 0, len(o.Scores))
	for opt := range o.Scores {
		options = append(options, opt)
	}
	sort.SliceStable(options, func(i, j int) bool {
		if o.Scores[options[i]] != o.Scores[options[j]] {
			return o.Scores[options[i]] > o.Scores[options[j]]
		}
		return options[i] < options[j]
	})

	parts := make([]string, len(options))
	for i, opt := range options {
		parts[i] = fmt.Sprintf("%s %.2f", opt, o.Scores[opt])
	}
	return fmt.Sprintf("Scores (%s, %d votes): %s", o.Method, len(o.Votes), strings.Join(parts, ", "))
}
