package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// ContextProvider supplies the opaque workspace context passed to agents.
// component is empty for phase-level calls.
type ContextProvider interface {
	Context(ctx context.Context, agent string, component domain.ComponentID) (string, error)
}

// PhaseContext is what a handler sees of the run.
type PhaseContext struct {
	Phase   Phase
	Attempt int
	RunID   string
	// State is a snapshot taken before the handler ran.
	State    *state.WorkflowState
	Store    *state.Store
	Manifest *manifest.Manifest
	Vars     map[string]any
	DryRun   bool
	Logger   *log.Logger
}

// Result is the outcome of one phase execution.
type Result struct {
	Success bool
	Error   string
	// NextPhase asks the engine to continue with a later phase.
	NextPhase string
	// ExternalInput is set when the failure needs a decision from outside.
	ExternalInput *ExternalInput
}

// ExternalInput is a request for a decision the engine cannot make itself.
type ExternalInput struct {
	Prompt  string
	Options []string
	Vote    *voting.Outcome
}

// Handler executes a phase. The error is reserved for failures that must
// end the run, such as persistence errors; an unsuccessful phase is a Result.
type Handler interface {
	Handle(ctx context.Context, pc *PhaseContext) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, pc *PhaseContext) (Result, error)

// Handle calls f(ctx, pc).
func (f HandlerFunc) Handle(ctx context.Context, pc *PhaseContext) (Result, error) {
	return f(ctx, pc)
}

// Succeeded is a successful result.
func Succeeded() Result { return Result{Success: true} }

// Failed is an unsuccessful result.
func Failed(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// PhaseTier selects the capability tier for phase-level calls.
func PhaseTier(m *manifest.Manifest) domain.Tier {
	if m != nil && m.RiskLevel.IsElevated() {
		return domain.TierAdvanced
	}
	return domain.TierStandard
}

// DefaultHandler dispatches the phase's agents and fails when any of them
// fails or reports an unsuccessful status.
type DefaultHandler struct {
	Invoker  invoker.Invoker
	Contexts ContextProvider
	// Concurrency bounds parallel phases; zero means unbounded.
	Concurrency int
}

// Handle implements Handler.
func (h *DefaultHandler) Handle(ctx context.Context, pc *PhaseContext) (Result, error) {
	if len(pc.Phase.Agents) == 0 {
		return Succeeded(), nil
	}

	reqs := make([]invoker.Request, len(pc.Phase.Agents))
	for i, agent := range pc.Phase.Agents {
		blob, err := contextFor(ctx, h.Contexts, agent, "")
		if err != nil {
			pc.Logger.Warn("workspace context unavailable", "agent", agent, "error", err)
		}
		reqs[i] = invoker.Request{
			Agent:   agent,
			Prompt:  phasePrompt(pc),
			Tier:    PhaseTier(pc.Manifest),
			Schema:  invoker.SchemaStatus,
			Context: blob,
			Metadata: map[string]string{
				"phase":   pc.Phase.Name,
				"attempt": strconv.Itoa(pc.Attempt),
				"run_id":  pc.RunID,
			},
		}
	}

	limit := h.Concurrency
	if !pc.Phase.Parallel || (pc.Manifest != nil && pc.Manifest.IsSequential()) {
		limit = 1
	}
	results := invoker.Batch(ctx, h.Invoker, reqs, limit)

	var failures []string
	for i, res := range results {
		agent := pc.Phase.Agents[i]
		if !res.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", agent, res.Error))
			continue
		}
		var payload invoker.StatusPayload
		if err := res.Decode(&payload); err != nil {
			// free-form output is accepted as done
			continue
		}
		for _, d := range payload.Discoveries {
			if strings.TrimSpace(d) == "" {
				continue
			}
			if _, err := pc.Store.AddDiscovery(ctx, pc.Phase.Name, agent, d); err != nil {
				return Result{}, err
			}
		}
		if payload.Status != "" && !payload.Succeeded() {
			failures = append(failures, fmt.Sprintf("%s: reported status %q", agent, payload.Status))
		}
	}

	if len(failures) > 0 {
		return Failed("%s", strings.Join(failures, "; ")), nil
	}
	return Succeeded(), nil
}

// VoteHandler runs the phase's consensus gate. Consensus succeeds and may
// jump ahead; no consensus fails with a request for an external decision.
type VoteHandler struct {
	Gate     *voting.Gate
	Contexts ContextProvider
}

// Handle implements Handler.
func (h *VoteHandler) Handle(ctx context.Context, pc *PhaseContext) (Result, error) {
	spec := pc.Phase.Vote
	if spec == nil {
		return Result{}, fmt.Errorf("phase %s has no vote configuration", pc.Phase.Name)
	}

	agent := ""
	if len(pc.Phase.Agents) > 0 {
		agent = pc.Phase.Agents[0]
	}
	blob, err := contextFor(ctx, h.Contexts, agent, "")
	if err != nil {
		pc.Logger.Warn("workspace context unavailable", "agent", agent, "error", err)
	}

	outcome, err := h.Gate.Run(ctx, voting.Request{
		Name:      pc.Phase.Name,
		Options:   spec.Options,
		Voters:    spec.Voters,
		Threshold: spec.Threshold,
		Prompt:    votePrompt(pc),
		Agent:     agent,
		Tier:      PhaseTier(pc.Manifest),
		Context:   blob,
	})
	if err != nil {
		return Result{}, err
	}
	if err := pc.Store.AddVoteResult(ctx, outcome); err != nil {
		return Result{}, err
	}

	if !outcome.Consensus {
		return Result{
			Error: fmt.Sprintf("no consensus in vote %s", pc.Phase.Name),
			ExternalInput: &ExternalInput{
				Prompt:  outcome.DecisionPrompt,
				Options: outcome.Options,
				Vote:    &outcome,
			},
		}, nil
	}

	if _, err := pc.Store.AddDiscovery(ctx, pc.Phase.Name, "vote",
		fmt.Sprintf("%s decided %s", pc.Phase.Name, outcome.Winner)); err != nil {
		return Result{}, err
	}
	return Result{Success: true, NextPhase: spec.Jumps[outcome.Winner]}, nil
}

func contextFor(ctx context.Context, p ContextProvider, agent string, component domain.ComponentID) (string, error) {
	if p == nil {
		return "", nil
	}
	return p.Context(ctx, agent, component)
}

func phasePrompt(pc *PhaseContext) string {
	var b strings.Builder
	if pc.Phase.Prompt != "" {
		b.WriteString(pc.Phase.Prompt)
	} else {
		fmt.Fprintf(&b, "Carry out the %s phase of the workflow.", pc.Phase.Name)
	}
	writeManifestSummary(&b, pc.Manifest)
	if pc.Attempt > 1 {
		fmt.Fprintf(&b, "\n\nThis is attempt %d; the previous attempt failed.", pc.Attempt)
	}
	b.WriteString("\n\nRespond with JSON: {\"status\": \"complete\"|\"failed\", \"summary\": <text>, \"discoveries\": [<text>]}.")
	return b.String()
}

func votePrompt(pc *PhaseContext) string {
	var b strings.Builder
	switch {
	case pc.Phase.Vote.Prompt != "":
		b.WriteString(pc.Phase.Vote.Prompt)
	case pc.Phase.Prompt != "":
		b.WriteString(pc.Phase.Prompt)
	default:
		fmt.Fprintf(&b, "Decide how the workflow should proceed at the %s phase.", pc.Phase.Name)
	}
	writeManifestSummary(&b, pc.Manifest)
	return b.String()
}

func writeManifestSummary(b *strings.Builder, m *manifest.Manifest) {
	if m == nil {
		return
	}
	fmt.Fprintf(b, "\n\nProject: %s (risk %s, complexity %d/10)", m.Name, m.RiskLevel, m.Complexity)
	if m.Goal != "" {
		fmt.Fprintf(b, "\nGoal: %s", m.Goal)
	}
	if len(m.Components) > 0 {
		b.WriteString("\nComponents:")
		for _, c := range m.Components {
			fmt.Fprintf(b, "\n  - %s (%s)", c.ID, c.File)
		}
	}
}
