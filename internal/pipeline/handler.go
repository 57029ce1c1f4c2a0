package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/hooks"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/validation"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

// HandlerName is the handler name phases use to run the component pipeline.
const HandlerName = "components"

// Handler runs every manifest component in dependency order and finishes
// with the whole-project integration check.
type Handler struct {
	pipeline *Pipeline
	hooks    *hooks.Registry
	// SkipEndState disables the integration check.
	SkipEndState bool
}

// NewHandler wraps p as a workflow phase handler. registry may be nil.
func NewHandler(p *Pipeline, registry *hooks.Registry) *Handler {
	return &Handler{pipeline: p, hooks: registry}
}

var _ workflow.Handler = (*Handler)(nil)

// Handle implements workflow.Handler. Components already Complete are not
// re-run; a component whose dependency is Blocked is blocked without
// invoking any agent.
func (h *Handler) Handle(ctx context.Context, pc *workflow.PhaseContext) (workflow.Result, error) {
	m := pc.Manifest
	if m == nil {
		return workflow.Failed("no manifest loaded"), nil
	}
	order, err := m.ExecutionOrder()
	if err != nil {
		return workflow.Result{}, err
	}

	var blocked []string
	var escalation *state.Escalation
	for _, c := range order {
		if err := ctx.Err(); err != nil {
			return workflow.Result{}, err
		}
		snapshot := pc.Store.State()
		if snapshot.Component(c.ID).Status == state.ComponentComplete {
			continue
		}

		if dep := blockedDependency(snapshot, c); dep != "" {
			reason := fmt.Sprintf("dependency %s blocked", dep)
			if err := pc.Store.UpdateComponent(ctx, c.ID, func(cs *state.ComponentState) {
				cs.Status = state.ComponentBlocked
				cs.LastError = reason
			}); err != nil {
				return workflow.Result{}, err
			}
			pc.Logger.Warn("component blocked by dependency", "component", string(c.ID), "dependency", string(dep))
			blocked = append(blocked, string(c.ID))
			if err := h.fire(ctx, pc, hooks.EventComponentBlocked, c.ID, reason); err != nil {
				return workflow.Result{}, err
			}
			continue
		}

		out, err := h.pipeline.RunComponent(ctx, m, c)
		if err != nil {
			return workflow.Result{}, err
		}
		if out.Status == state.ComponentComplete {
			if err := h.fire(ctx, pc, hooks.EventComponentComplete, c.ID, ""); err != nil {
				return workflow.Result{}, err
			}
			continue
		}

		blocked = append(blocked, string(c.ID))
		if escalation == nil && out.Escalation != nil {
			escalation = out.Escalation
		}
		if err := h.fire(ctx, pc, hooks.EventComponentBlocked, c.ID, out.Reason); err != nil {
			return workflow.Result{}, err
		}
	}

	if len(blocked) > 0 {
		res := workflow.Failed("blocked components: %s", strings.Join(blocked, ", "))
		if escalation != nil {
			res.ExternalInput = &workflow.ExternalInput{Prompt: escalation.Prompt, Vote: escalation.Vote}
			if escalation.Vote != nil {
				res.ExternalInput.Options = escalation.Vote.Options
			}
		}
		return res, nil
	}

	if h.SkipEndState || len(order) == 0 {
		return workflow.Succeeded(), nil
	}
	return h.endState(ctx, pc, m)
}

func (h *Handler) endState(ctx context.Context, pc *workflow.PhaseContext, m *manifest.Manifest) (workflow.Result, error) {
	loop := h.pipeline.loop
	blob := h.pipeline.context(ctx, loop.Settings().IntegrationAgent, "")
	es := loop.ValidateEndState(ctx, m, blob)

	summary := fmt.Sprintf("integration check: %s", es.Recommendation)
	if es.Summary != "" {
		summary += " - " + es.Summary
	}
	if _, err := pc.Store.AddDiscovery(ctx, pc.Phase.Name, loop.Settings().IntegrationAgent, summary); err != nil {
		return workflow.Result{}, err
	}

	switch {
	case es.Passed:
		return workflow.Succeeded(), nil
	case es.Escalated:
		return workflow.Result{
			Error:         es.Reason,
			ExternalInput: &workflow.ExternalInput{Prompt: endStatePrompt(es)},
		}, nil
	default:
		return workflow.Failed("%s", es.Reason), nil
	}
}

func endStatePrompt(es validation.EndStateResult) string {
	var b strings.Builder
	b.WriteString(es.Reason)
	if es.Summary != "" {
		fmt.Fprintf(&b, "\n\n%s", es.Summary)
	}
	if len(es.Issues) > 0 {
		b.WriteString("\n\nReported issues:")
		for _, issue := range es.Issues {
			fmt.Fprintf(&b, "\n  - %s", issue)
		}
	}
	b.WriteString("\n\nReview the integration manually, then re-run to continue.")
	return b.String()
}

func blockedDependency(st *state.WorkflowState, c manifest.Component) domain.ComponentID {
	for _, dep := range c.DependsOn {
		if st.Component(dep).Status == state.ComponentBlocked {
			return dep
		}
	}
	return ""
}

func (h *Handler) fire(ctx context.Context, pc *workflow.PhaseContext, t hooks.EventType, id domain.ComponentID, reason string) error {
	data := map[string]any{"phase": pc.Phase.Name, "component": string(id)}
	if reason != "" {
		data["reason"] = reason
	}
	_, err := h.hooks.Fire(ctx, hooks.NewEvent(t, pc.RunID, data))
	return err
}
