// Package pipeline drives individual components through skeleton,
// implementation and validation, and installs itself as the handler of the
// workflow's components phase.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
	"github.com/felixgeelhaar/orchestra/internal/validation"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

// Step is one stage of the component pipeline.
type Step string

const (
	StepSkeleton       Step = "skeleton"
	StepImplementation Step = "implementation"
	StepValidation     Step = "validation"
	StepDone           Step = "done"
)

// Committer takes a filesystem checkpoint. It returns an empty id when
// there was nothing to record.
type Committer interface {
	Commit(ctx context.Context, label string, component domain.ComponentID) (string, error)
}

// Settings names the agents used by the pipeline.
type Settings struct {
	SkeletonAgent       string
	ImplementerAgent    string
	SharedPathFragments []string
}

// DefaultSettings returns the built-in agent names.
func DefaultSettings() Settings {
	return Settings{
		SkeletonAgent:       "skeleton",
		ImplementerAgent:    "implementer",
		SharedPathFragments: DefaultSharedPathFragments,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.SkeletonAgent == "" {
		s.SkeletonAgent = def.SkeletonAgent
	}
	if s.ImplementerAgent == "" {
		s.ImplementerAgent = def.ImplementerAgent
	}
	if s.SharedPathFragments == nil {
		s.SharedPathFragments = def.SharedPathFragments
	}
	return s
}

// Options wires a Pipeline.
type Options struct {
	Invoker   invoker.Invoker
	Loop      *validation.Loop
	Store     *state.Store
	Committer Committer
	Contexts  workflow.ContextProvider
	Settings  Settings
	// Phase labels discoveries; defaults to "components".
	Phase   string
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Pipeline runs one component at a time.
type Pipeline struct {
	inv       invoker.Invoker
	loop      *validation.Loop
	store     *state.Store
	committer Committer
	contexts  workflow.ContextProvider
	settings  Settings
	phase     string
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// New creates a pipeline. A nil Committer takes no filesystem checkpoints.
func New(opts Options) *Pipeline {
	phase := opts.Phase
	if phase == "" {
		phase = "components"
	}
	return &Pipeline{
		inv:       opts.Invoker,
		loop:      opts.Loop,
		store:     opts.Store,
		committer: opts.Committer,
		contexts:  opts.Contexts,
		settings:  opts.Settings.withDefaults(),
		phase:     phase,
		logger:    log.OrDefault(opts.Logger).With("component", "pipeline"),
		metrics:   opts.Metrics,
	}
}

// Outcome is the terminal result of RunComponent.
type Outcome struct {
	Component domain.ComponentID
	Status    state.ComponentStatus
	// Step is where a blocked component stopped.
	Step       Step
	Reason     string
	Escalation *state.Escalation
	Validation *validation.Result
	Commits    []string
}

// ResumeStep returns the step a component continues from. Interrupted
// validation or fixing restarts validation; a blocked component restarts
// validation if it got that far and from the skeleton otherwise.
func ResumeStep(c state.ComponentState) Step {
	switch c.Status {
	case state.ComponentComplete:
		return StepDone
	case state.ComponentImplementing:
		return StepImplementation
	case state.ComponentValidating, state.ComponentFixing:
		return StepValidation
	case state.ComponentBlocked:
		if c.ValidationAttempts > 0 {
			return StepValidation
		}
		return StepSkeleton
	default:
		return StepSkeleton
	}
}

func stepRank(s Step) int {
	switch s {
	case StepSkeleton:
		return 0
	case StepImplementation:
		return 1
	case StepValidation:
		return 2
	default:
		return 3
	}
}

// RunComponent drives c to Complete or Blocked. The error is reserved for
// persistence failures and cancellation.
func (p *Pipeline) RunComponent(ctx context.Context, m *manifest.Manifest, c manifest.Component) (Outcome, error) {
	out := Outcome{Component: c.ID}
	logger := p.logger.With("component", string(c.ID))

	current := p.store.State().Component(c.ID)
	start := ResumeStep(current)
	if start == StepDone {
		out.Status = state.ComponentComplete
		return out, nil
	}
	if current.Status == state.ComponentBlocked {
		logger.Info("retrying blocked component", "from", start)
		if err := p.store.UpdateComponent(ctx, c.ID, func(cs *state.ComponentState) {
			cs.Escalation = nil
			cs.LastError = ""
		}); err != nil {
			return out, err
		}
	}

	tier := SelectTier(m.RiskLevel, c.Complexity, c.File, p.settings.SharedPathFragments)
	logger.Info("component started", "from", start, "tier", tier)

	if stepRank(start) <= stepRank(StepSkeleton) {
		ok, err := p.generate(ctx, m, c, StepSkeleton, tier, &out)
		if err != nil || !ok {
			return out, err
		}
	}
	if stepRank(start) <= stepRank(StepImplementation) {
		ok, err := p.generate(ctx, m, c, StepImplementation, tier, &out)
		if err != nil || !ok {
			return out, err
		}
	}

	res, err := p.loop.Run(ctx, validation.Target{
		Manifest:  m,
		Component: c,
		Tier:      tier,
		Context:   p.context(ctx, p.loop.Settings().ValidatorAgent, c.ID),
	})
	if err != nil {
		return out, err
	}
	out.Validation = &res

	if !res.Passed {
		p.commit(ctx, "validation_blocked", c.ID, &out)
		esc := p.store.State().Component(c.ID).Escalation
		return out, p.block(ctx, c.ID, StepValidation, res.Reason, esc, &out)
	}
	p.commit(ctx, string(StepValidation), c.ID, &out)

	if err := p.store.UpdateComponent(ctx, c.ID, func(cs *state.ComponentState) {
		cs.Status = state.ComponentComplete
		cs.LastError = ""
		cs.Escalation = nil
		cs.Commits = append(cs.Commits, out.Commits...)
	}); err != nil {
		return out, err
	}
	out.Status = state.ComponentComplete
	p.metrics.RecordComponent(string(state.ComponentComplete))
	logger.Info("component complete", "rounds", res.Rounds, "commits", len(out.Commits))
	return out, nil
}

// generate runs the skeleton or implementation step. It reports false when
// the component was blocked.
func (p *Pipeline) generate(ctx context.Context, m *manifest.Manifest, c manifest.Component, step Step, tier domain.Tier, out *Outcome) (bool, error) {
	agent, status, prompt := p.settings.SkeletonAgent, state.ComponentSkeleton, skeletonPrompt(m, c)
	if step == StepImplementation {
		agent, status, prompt = p.settings.ImplementerAgent, state.ComponentImplementing, implementationPrompt(m, c)
	}

	if err := p.store.UpdateComponent(ctx, c.ID, func(cs *state.ComponentState) {
		cs.Status = status
	}); err != nil {
		return false, err
	}

	ctx, span := telemetry.StartComponentSpan(ctx, string(c.ID), string(step))
	defer span.End()

	res := p.inv.Invoke(ctx, invoker.Request{
		Agent:   agent,
		Prompt:  prompt,
		Tier:    tier,
		Schema:  invoker.SchemaStatus,
		Context: p.context(ctx, agent, c.ID),
		Metadata: map[string]string{
			"component": string(c.ID),
			"step":      string(step),
		},
	})

	var payload invoker.StatusPayload
	reason := ""
	if err := res.Decode(&payload); err != nil {
		reason = fmt.Sprintf("%s failed: %v", step, err)
	} else if !payload.Succeeded() {
		reason = fmt.Sprintf("%s reported status %q", step, payload.Status)
		if payload.Summary != "" {
			reason += ": " + payload.Summary
		}
	}
	if reason != "" {
		telemetry.RecordFailure(span, reason, attribute.String("agent", agent))
		return false, p.block(ctx, c.ID, step, reason, nil, out)
	}

	for _, d := range payload.Discoveries {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if _, err := p.store.AddDiscovery(ctx, p.phase, agent, d); err != nil {
			return false, err
		}
	}
	telemetry.RecordSuccess(span, attribute.String("model", res.Model))
	p.commit(ctx, string(step), c.ID, out)
	return true, nil
}

func (p *Pipeline) block(ctx context.Context, id domain.ComponentID, step Step, reason string, esc *state.Escalation, out *Outcome) error {
	out.Status = state.ComponentBlocked
	out.Step = step
	out.Reason = reason
	out.Escalation = esc

	err := p.store.UpdateComponent(ctx, id, func(cs *state.ComponentState) {
		cs.Status = state.ComponentBlocked
		cs.LastError = reason
		cs.Commits = append(cs.Commits, out.Commits...)
	})
	if err != nil {
		return err
	}
	p.metrics.RecordComponent(string(state.ComponentBlocked))
	p.logger.Warn("component blocked", "component", string(id), "step", step, "reason", reason)
	return nil
}

// commit takes a filesystem checkpoint. Failures are logged; the state
// store remains the source of truth for resumption.
func (p *Pipeline) commit(ctx context.Context, label string, id domain.ComponentID, out *Outcome) {
	if p.committer == nil {
		return
	}
	ref, err := p.committer.Commit(ctx, label, id)
	if err != nil {
		p.logger.Warn("filesystem checkpoint failed", "component", string(id), "label", label, "error", err)
		return
	}
	if ref != "" {
		out.Commits = append(out.Commits, ref)
	}
}

func (p *Pipeline) context(ctx context.Context, agent string, id domain.ComponentID) string {
	if p.contexts == nil {
		return ""
	}
	blob, err := p.contexts.Context(ctx, agent, id)
	if err != nil {
		p.logger.Warn("workspace context unavailable", "agent", agent, "component", string(id), "error", err)
		return ""
	}
	return blob
}
