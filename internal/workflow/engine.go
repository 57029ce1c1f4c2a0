package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/hooks"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// DecisionFunc surfaces an external-input request and returns the choice.
type DecisionFunc func(ctx context.Context, phase string, input ExternalInput) (string, error)

// AgentLookup reports whether an agent is declared.
type AgentLookup interface {
	Has(name string) bool
}

// Options configures an Engine.
type Options struct {
	Workflow string
	Phases   []Phase
	Store    *state.Store
	Invoker  invoker.Invoker
	// Gate is required by vote phases and the vote failure policy.
	Gate     *voting.Gate
	Manifest *manifest.Manifest
	// ExpectedComponents must all be Complete for the run to complete.
	ExpectedComponents []domain.ComponentID
	Hooks              *hooks.Registry
	Decide             DecisionFunc
	Contexts           ContextProvider
	Agents             AgentLookup
	DryRun             bool
	Concurrency        int
	Logger             *log.Logger
	Metrics            *metrics.Metrics
}

// RunResult is the outcome of Run. Success is false whenever the run
// stopped on a blocked phase or finished with incomplete components.
type RunResult struct {
	RunID    string
	Success  bool
	Status   state.RunStatus
	Phase    string
	Reason   string
	Decision string
}

// Engine executes phases one at a time against a state store.
type Engine struct {
	opts     Options
	index    map[string]int
	handlers map[string]Handler
	logger   *log.Logger
}

// NewEngine validates the phase list and installs the built-in handlers.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("workflow engine requires a state store")
	}
	if err := ValidatePhases(opts.Phases); err != nil {
		return nil, err
	}
	e := &Engine{
		opts:     opts,
		index:    make(map[string]int, len(opts.Phases)),
		handlers: make(map[string]Handler),
		logger:   log.OrDefault(opts.Logger).With("component", "workflow"),
	}
	for i, p := range opts.Phases {
		e.index[p.Name] = i
	}
	e.handlers[HandlerDefault] = &DefaultHandler{Invoker: opts.Invoker, Contexts: opts.Contexts, Concurrency: opts.Concurrency}
	if opts.Gate != nil {
		e.handlers[HandlerVote] = &VoteHandler{Gate: opts.Gate, Contexts: opts.Contexts}
	}
	return e, nil
}

// RegisterHandler installs h under name. Phases select it through their
// handler field; a name equal to a phase name also binds that phase.
func (e *Engine) RegisterHandler(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler %s cannot be nil", name)
	}
	if _, isPhase := e.index[name]; !isPhase && !e.referenced(name) {
		return errors.NewUnknownPhaseError(name).
			WithSuggestion("Register handlers under a phase name or a handler referenced by a phase")
	}
	e.handlers[name] = h
	return nil
}

func (e *Engine) referenced(handler string) bool {
	for _, p := range e.opts.Phases {
		if p.Handler == handler {
			return true
		}
	}
	return false
}

// Phases returns the configured phase list.
func (e *Engine) Phases() []Phase {
	return append([]Phase(nil), e.opts.Phases...)
}

func (e *Engine) handlerFor(p Phase) (Handler, bool) {
	if h, ok := e.handlers[p.Name]; ok {
		return h, true
	}
	h, ok := e.handlers[p.HandlerName()]
	return h, ok
}

// Validate reports configuration errors that would stop the run before any
// agent is invoked.
func (e *Engine) Validate() error {
	for _, p := range e.opts.Phases {
		if _, ok := e.handlerFor(p); !ok {
			if p.HandlerName() == HandlerVote {
				return errors.New(errors.ErrCodeUnknownGate, fmt.Sprintf("phase %s needs a voting gate", p.Name))
			}
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("phase %s: no handler registered for %q", p.Name, p.HandlerName()))
		}
		if p.Policy() == OnFailureVote && e.opts.Gate == nil {
			return errors.New(errors.ErrCodeUnknownGate, fmt.Sprintf("phase %s uses on_failure vote without a voting gate", p.Name))
		}
		if p.HandlerName() == HandlerDefault && len(p.Agents) > 0 && e.opts.Invoker == nil {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("phase %s dispatches agents but no invoker is configured", p.Name))
		}
		if e.opts.Agents == nil {
			continue
		}
		for _, a := range p.Agents {
			if !e.opts.Agents.Has(a) {
				return errors.NewUnknownAgentError(a, "phase "+p.Name)
			}
		}
	}
	return nil
}

// Run executes the workflow from its persisted position to the end of the
// phase list or the first blocked phase. The error is reserved for
// configuration, persistence and hook failures.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	if err := e.Validate(); err != nil {
		return RunResult{}, err
	}

	st, err := e.opts.Store.Load(ctx)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{RunID: st.RunID, Status: st.Status}
	logger := e.logger.With("run_id", st.RunID)

	ctx, span := telemetry.StartRunSpan(ctx, e.workflowName(), st.RunID)
	defer span.End()

	if st.Status == state.RunComplete {
		logger.Info("workflow already complete")
		res.Success = true
		telemetry.RecordSuccess(span, attribute.Bool("resumed", true))
		return res, nil
	}

	if err := e.prepare(ctx, st, logger); err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	if err := e.fire(ctx, hooks.EventWorkflowStart, st.RunID, nil); err != nil {
		return res, err
	}

	start := e.resumeIndex(st)
	if start > 0 || st.CurrentPhase != "" {
		logger.Info("resuming workflow", "phase", e.opts.Phases[start].Name)
	}

	for i := start; i < len(e.opts.Phases); {
		phase := e.opts.Phases[i]
		if e.opts.Store.State().PhaseStatusOf(phase.Name).IsDone() {
			i++
			continue
		}

		out, err := e.runPhase(ctx, i, logger.With("phase", phase.Name))
		if err != nil {
			telemetry.RecordError(span, err)
			if serr := e.opts.Store.SetError(ctx, err.Error()); serr != nil {
				logger.WithError(serr).Warn("failed to record run error")
			}
			return res, err
		}
		if out.blocked {
			res, err = e.block(ctx, res, phase, out, logger)
			telemetry.RecordFailure(span, res.Reason, attribute.String("phase", phase.Name))
			return res, err
		}
		i = out.next
	}

	status, err := e.opts.Store.MarkComplete(ctx, e.opts.ExpectedComponents)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	res.Status = status
	final := e.opts.Store.State()

	if status != state.RunComplete {
		res.Reason = final.LastError
		logger.Warn("workflow finished with incomplete components", "reason", res.Reason)
		telemetry.RecordFailure(span, res.Reason)
		return res, e.fire(ctx, hooks.EventWorkflowFailed, st.RunID, map[string]any{"reason": res.Reason})
	}

	res.Success = true
	logger.Info("workflow complete")
	telemetry.RecordSuccess(span)
	return res, e.fire(ctx, hooks.EventWorkflowComplete, st.RunID, nil)
}

type phaseOutcome struct {
	blocked bool
	next    int
	reason  string
	input   *ExternalInput
}

// runPhase executes one phase and returns where to continue.
func (e *Engine) runPhase(ctx context.Context, idx int, logger *log.Logger) (phaseOutcome, error) {
	phase := e.opts.Phases[idx]
	snapshot := e.opts.Store.State()
	vars := Variables(e.opts.Manifest, snapshot, e.opts.DryRun)

	if phase.SkipIf != "" && EvaluateSkip(phase.SkipIf, vars) {
		logger.Info("phase skipped", "condition", phase.SkipIf)
		if err := e.setPhase(ctx, phase.Name, state.PhaseSkipped); err != nil {
			return phaseOutcome{}, err
		}
		return phaseOutcome{next: idx + 1}, e.fire(ctx, hooks.EventPhaseSkipped, snapshot.RunID,
			map[string]any{"phase": phase.Name, "reason": phase.SkipIf})
	}

	handler, _ := e.handlerFor(phase)
	ctx, span := telemetry.StartPhaseSpan(ctx, phase.Name)
	defer span.End()
	started := time.Now()

	if err := e.setPhase(ctx, phase.Name, state.PhaseInProgress); err != nil {
		return phaseOutcome{}, err
	}
	if err := e.fire(ctx, hooks.EventPhaseStart, snapshot.RunID, map[string]any{"phase": phase.Name}); err != nil {
		return phaseOutcome{}, err
	}

	for attempt := 1; ; attempt++ {
		logger.Info("phase started", "attempt", attempt, "handler", phase.HandlerName())
		pc := &PhaseContext{
			Phase:    phase,
			Attempt:  attempt,
			RunID:    snapshot.RunID,
			State:    e.opts.Store.State(),
			Store:    e.opts.Store,
			Manifest: e.opts.Manifest,
			Vars:     vars,
			DryRun:   e.opts.DryRun,
			Logger:   logger,
		}
		result, err := handler.Handle(ctx, pc)
		if err != nil {
			telemetry.RecordError(span, err)
			return phaseOutcome{}, err
		}

		if result.Success {
			e.opts.Metrics.RecordPhaseDuration(phase.Name, time.Since(started))
			telemetry.RecordSuccess(span, attribute.Int("attempts", attempt))
			return e.complete(ctx, idx, result.NextPhase, logger)
		}

		logger.Warn("phase failed", "attempt", attempt, "error", result.Error)
		if result.ExternalInput != nil {
			telemetry.RecordFailure(span, result.Error)
			return phaseOutcome{blocked: true, reason: result.Error, input: result.ExternalInput}, nil
		}

		action, input, err := e.onFailure(ctx, phase, attempt, result.Error)
		if err != nil {
			return phaseOutcome{}, err
		}
		switch action {
		case ChoiceRetry:
			continue
		case ChoiceSkip:
			logger.Info("phase skipped after failure", "error", result.Error)
			telemetry.RecordFailure(span, result.Error, attribute.Bool("skipped", true))
			if err := e.setPhase(ctx, phase.Name, state.PhaseSkipped); err != nil {
				return phaseOutcome{}, err
			}
			return phaseOutcome{next: idx + 1}, e.fire(ctx, hooks.EventPhaseSkipped, snapshot.RunID,
				map[string]any{"phase": phase.Name, "reason": result.Error})
		default:
			reason := result.Error
			if attempt > 1 {
				reason = fmt.Sprintf("failed after %d attempts: %s", attempt, result.Error)
			}
			telemetry.RecordFailure(span, reason)
			return phaseOutcome{blocked: true, reason: reason, input: input}, nil
		}
	}
}

// onFailure applies the phase's failure policy and returns RETRY, SKIP or
// ESCALATE. A failure vote without consensus escalates with its prompt.
func (e *Engine) onFailure(ctx context.Context, phase Phase, attempt int, failure string) (string, *ExternalInput, error) {
	canRetry := attempt < phase.Attempts()

	switch phase.Policy() {
	case OnFailureRetry:
		if canRetry {
			return ChoiceRetry, nil, nil
		}
	case OnFailureSkip:
		return ChoiceSkip, nil, nil
	case OnFailureVote:
		options := []string{ChoiceSkip, ChoiceEscalate}
		if canRetry {
			options = append([]string{ChoiceRetry}, options...)
		}
		outcome, err := e.opts.Gate.Run(ctx, voting.Request{
			Name:    phase.Name + "_failure",
			Options: options,
			Prompt: fmt.Sprintf("The %s phase failed on attempt %d: %s\n\nShould the workflow retry the phase, skip it, or escalate to a human?",
				phase.Name, attempt, failure),
			Tier: PhaseTier(e.opts.Manifest),
		})
		if err != nil {
			return "", nil, err
		}
		if err := e.opts.Store.AddVoteResult(ctx, outcome); err != nil {
			return "", nil, err
		}
		if outcome.Consensus {
			return outcome.Winner, nil, nil
		}
		return ChoiceEscalate, &ExternalInput{Prompt: outcome.DecisionPrompt, Options: outcome.Options, Vote: &outcome}, nil
	}
	return ChoiceEscalate, nil, nil
}

// complete marks the phase done and resolves the next phase index.
func (e *Engine) complete(ctx context.Context, idx int, next string, logger *log.Logger) (phaseOutcome, error) {
	phase := e.opts.Phases[idx]
	if err := e.setPhase(ctx, phase.Name, state.PhaseComplete); err != nil {
		return phaseOutcome{}, err
	}
	logger.Info("phase complete")
	runID := e.opts.Store.State().RunID
	if err := e.fire(ctx, hooks.EventPhaseComplete, runID, map[string]any{"phase": phase.Name}); err != nil {
		return phaseOutcome{}, err
	}

	out := phaseOutcome{next: idx + 1}
	if next == "" || next == phase.Name {
		return out, nil
	}
	target, ok := e.index[next]
	if !ok || target <= idx {
		logger.Warn("ignoring jump to unknown or earlier phase", "target", next)
		return out, nil
	}

	logger.Info("jumping ahead", "target", next)
	for j := idx + 1; j < target; j++ {
		skipped := e.opts.Phases[j].Name
		if err := e.setPhase(ctx, skipped, state.PhaseSkipped); err != nil {
			return phaseOutcome{}, err
		}
		if err := e.fire(ctx, hooks.EventPhaseSkipped, runID,
			map[string]any{"phase": skipped, "reason": "jump from " + phase.Name}); err != nil {
			return phaseOutcome{}, err
		}
	}
	out.next = target
	return out, nil
}

// block records a blocked phase and ends the run. An external-input request
// is surfaced through Decide and the decision kept as a discovery; the run
// still stops so the caller can re-invoke it.
func (e *Engine) block(ctx context.Context, res RunResult, phase Phase, out phaseOutcome, logger *log.Logger) (RunResult, error) {
	res.Phase = phase.Name
	res.Reason = out.reason
	res.Status = state.RunBlocked

	esc := &state.Escalation{Reason: out.reason}
	if out.input != nil {
		esc.Prompt = out.input.Prompt
		esc.Vote = out.input.Vote
		if e.opts.Decide != nil {
			choice, err := e.opts.Decide(ctx, phase.Name, *out.input)
			switch {
			case err != nil:
				logger.Warn("external decision unavailable", "error", err)
			case choice != "":
				res.Decision = choice
				if _, err := e.opts.Store.AddDiscovery(ctx, phase.Name, "user", "decision: "+choice); err != nil {
					return res, err
				}
			}
		}
	}

	if err := e.setPhase(ctx, phase.Name, state.PhaseBlocked); err != nil {
		return res, err
	}
	if err := e.opts.Store.SetEscalation(ctx, esc); err != nil {
		return res, err
	}
	if err := e.opts.Store.MarkBlocked(ctx, out.reason); err != nil {
		return res, err
	}
	logger.Error("workflow blocked", "reason", out.reason)

	data := map[string]any{"phase": phase.Name, "reason": out.reason}
	if err := e.fire(ctx, hooks.EventPhaseBlocked, res.RunID, data); err != nil {
		return res, err
	}
	if err := e.fire(ctx, hooks.EventEscalation, res.RunID, data); err != nil {
		return res, err
	}
	return res, e.fire(ctx, hooks.EventWorkflowFailed, res.RunID, data)
}

// prepare stamps run-level fields and reopens a previously blocked run.
func (e *Engine) prepare(ctx context.Context, st *state.WorkflowState, logger *log.Logger) error {
	var fingerprint string
	if e.opts.Manifest != nil {
		fp, err := e.opts.Manifest.Fingerprint()
		if err != nil {
			return err
		}
		fingerprint = fp
	}
	drifted := st.ManifestHash != "" && fingerprint != "" && st.ManifestHash != fingerprint

	err := e.opts.Store.Mutate(ctx, func(s *state.WorkflowState) error {
		if s.Workflow == "" {
			s.Workflow = e.workflowName()
		}
		if fingerprint != "" {
			s.ManifestHash = fingerprint
		}
		if m := e.opts.Manifest; m != nil {
			s.RiskLevel = m.RiskLevel
			s.ExecutionMode = string(m.Execution.Parallelism)
		}
		s.DryRun = e.opts.DryRun
		if s.Status == state.RunBlocked {
			s.LastError = ""
			s.Escalation = nil
			s.CompletedAt = time.Time{}
		}
		s.Status = state.RunRunning
		return nil
	})
	if err != nil {
		return err
	}

	if drifted {
		logger.Warn("manifest changed since the run started", "previous", st.ManifestHash, "current", fingerprint)
		if _, err := e.opts.Store.AddDiscovery(ctx, st.CurrentPhase, "engine",
			fmt.Sprintf("manifest changed since the run started (%s -> %s)", short(st.ManifestHash), short(fingerprint))); err != nil {
			return err
		}
	}
	return nil
}

// resumeIndex returns the phase to continue from. An unknown recorded phase
// restarts from the first phase.
func (e *Engine) resumeIndex(st *state.WorkflowState) int {
	if st.CurrentPhase == "" {
		return 0
	}
	i, ok := e.index[st.CurrentPhase]
	if !ok {
		e.logger.Warn("recorded phase not configured, starting from the first phase", "phase", st.CurrentPhase)
		return 0
	}
	return i
}

func (e *Engine) setPhase(ctx context.Context, phase string, status state.PhaseStatus) error {
	if err := e.opts.Store.UpdatePhase(ctx, phase, status); err != nil {
		return err
	}
	e.opts.Metrics.RecordPhase(phase, string(status))
	return nil
}

func (e *Engine) fire(ctx context.Context, t hooks.EventType, runID string, data map[string]any) error {
	event := hooks.NewEvent(t, runID, data)
	event.Workflow = e.workflowName()
	_, err := e.opts.Hooks.Fire(ctx, event)
	return err
}

func (e *Engine) workflowName() string {
	switch {
	case e.opts.Workflow != "":
		return e.opts.Workflow
	case e.opts.Manifest != nil && e.opts.Manifest.Name != "":
		return e.opts.Manifest.Name
	default:
		return "workflow"
	}
}

// Variables builds the skip-condition namespace.
func Variables(m *manifest.Manifest, st *state.WorkflowState, dryRun bool) map[string]any {
	vars := map[string]any{
		"dry_run":          dryRun,
		"risk_level":       string(domain.RiskMedium),
		"is_new_project":   false,
		"dependency_count": 0,
		"component_count":  0,
		"complexity":       0,
		"execution_mode":   string(manifest.ParallelismParallel),
		"tests_required":   false,
		"project_id":       "",
	}
	if m != nil {
		vars["risk_level"] = string(m.RiskLevel)
		vars["is_new_project"] = m.NewProject
		vars["dependency_count"] = m.DependencyCount()
		vars["component_count"] = len(m.Components)
		vars["complexity"] = m.Complexity
		vars["execution_mode"] = string(m.Execution.Parallelism)
		vars["tests_required"] = m.Execution.TestsRequired
		vars["project_id"] = m.ProjectID
	}
	if st != nil {
		vars["completed_components"] = len(st.ComponentsWithStatus(state.ComponentComplete))
		vars["blocked_components"] = len(st.ComponentsWithStatus(state.ComponentBlocked))
	}
	return vars
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
