package config

import (
	"fmt"

	"github.com/felixgeelhaar/orchestra/internal/agents"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/pipeline"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

// KnownHandlers are the handler names a phase may reference.
var KnownHandlers = []string{workflow.HandlerDefault, workflow.HandlerVote, pipeline.HandlerName}

// Validate reports configuration errors before anything is invoked. reg
// resolves agent references; nil skips those checks. Skip conditions that do
// not parse are returned as warnings because they evaluate to false.
func (c *Config) Validate(reg *agents.Registry) (warnings []string, err error) {
	switch c.State.Backend {
	case BackendFile, BackendSQLite:
	default:
		return nil, configError("state.backend must be %s or %s, got %q", BackendFile, BackendSQLite, c.State.Backend)
	}
	if c.RunDir == "" {
		return nil, configError("run_dir cannot be empty")
	}

	if err := c.validateInvoker(); err != nil {
		return nil, err
	}
	if err := c.ValidationSettings().Validate(); err != nil {
		return nil, configError("validation: %v", err)
	}
	if !unitInterval(c.Voting.Threshold) {
		return nil, configError("voting.threshold must be between 0 and 1, got %g", c.Voting.Threshold)
	}
	if !unitInterval(c.Voting.DefaultConfidence) {
		return nil, configError("voting.default_confidence must be between 0 and 1, got %g", c.Voting.DefaultConfidence)
	}
	if c.Voting.Voters < 0 {
		return nil, configError("voting.voters cannot be negative")
	}

	if err := workflow.ValidatePhases(c.Phases); err != nil {
		return nil, err
	}
	for _, p := range c.Phases {
		if !isKnownHandler(p.HandlerName()) {
			return nil, configError("phase %s uses unknown handler %q", p.Name, p.Handler).
				WithSuggestion(fmt.Sprintf("Use one of %v", KnownHandlers))
		}
		if p.SkipIf != "" {
			if _, perr := workflow.ParseCondition(p.SkipIf); perr != nil {
				warnings = append(warnings, fmt.Sprintf("phase %s: skip_if %q never matches: %v", p.Name, p.SkipIf, perr))
			}
		}
	}

	for i, h := range c.Hooks {
		if err := h.Validate(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("hooks[%d]", i), err)
		}
	}

	if reg != nil {
		if err := c.validateAgents(reg); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

func (c *Config) validateInvoker() error {
	inv := c.Invoker
	switch {
	case inv.Timeout < 0:
		return configError("invoker.timeout cannot be negative")
	case inv.MaxRetries < 0:
		return configError("invoker.max_retries cannot be negative")
	case inv.InitialBackoff < 0 || inv.MaxBackoff < 0:
		return configError("invoker backoff cannot be negative")
	case inv.RatePerSecond < 0:
		return configError("invoker.rate_per_second cannot be negative")
	case inv.Concurrency < 0:
		return configError("invoker.concurrency cannot be negative")
	}
	for tier := range inv.Models {
		if err := tier.Validate(); err != nil {
			return configError("invoker.models: %v", err)
		}
	}
	if inv.Fallback != nil && inv.Fallback.Command == "" {
		return configError("invoker.fallback.command is required when a fallback is configured")
	}
	return nil
}

func (c *Config) validateAgents(reg *agents.Registry) error {
	for _, p := range c.Phases {
		for _, a := range p.Agents {
			if !reg.Has(a) {
				return errors.NewUnknownAgentError(a, "phase "+p.Name)
			}
		}
	}

	vs := c.ValidationSettings()
	ps := c.PipelineSettings()
	roles := []struct{ name, role string }{
		{c.Voting.Agent, "voting.agent"},
		{vs.ValidatorAgent, "validation.validator_agent"},
		{vs.FixerAgent, "validation.fixer_agent"},
		{vs.IntegrationAgent, "validation.integration_agent"},
		{ps.SkeletonAgent, "pipeline.skeleton_agent"},
		{ps.ImplementerAgent, "pipeline.implementer_agent"},
	}
	for _, r := range roles {
		if r.name != "" && !reg.Has(r.name) {
			return errors.NewUnknownAgentError(r.name, r.role)
		}
	}
	return nil
}

func isKnownHandler(name string) bool {
	for _, h := range KnownHandlers {
		if h == name {
			return true
		}
	}
	return false
}

// unitInterval is false for NaN.
func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
