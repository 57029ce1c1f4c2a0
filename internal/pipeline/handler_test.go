package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

func phaseContext(f *fixture, m *manifest.Manifest) *workflow.PhaseContext {
	return &workflow.PhaseContext{
		Phase:    workflow.Phase{Name: "components", Handler: HandlerName},
		Attempt:  1,
		RunID:    "run-1",
		State:    f.store.State(),
		Store:    f.store,
		Manifest: m,
		Logger:   log.Discard(),
	}
}

func TestHandlerRunsComponentsInOrder(t *testing.T) {
	f := newFixture(t, &fakeAgents{})
	m := testManifest(component("d", "b", "c"), component("c", "a"), component("b", "a"), component("a"))

	res, err := NewHandler(f.pipeline, nil).Handle(context.Background(), phaseContext(f, m))
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)

	var order []domain.ComponentID
	for _, r := range f.agents.requests {
		if r.Agent == "skeleton" {
			order = append(order, domain.ComponentID(r.Metadata["component"]))
		}
	}
	assert.Equal(t, []domain.ComponentID{"a", "b", "c", "d"}, order)
	assert.Equal(t, 1, f.agents.calls("integration_validator", ""))

	for _, id := range order {
		assert.Equal(t, state.ComponentComplete, f.store.State().Component(id).Status)
	}
}

func TestHandlerBlocksDependents(t *testing.T) {
	f := newFixture(t, &fakeAgents{failing: map[string]bool{"implementer:a": true}})
	m := testManifest(component("a"), component("b", "a"), component("c"))

	res, err := NewHandler(f.pipeline, nil).Handle(context.Background(), phaseContext(f, m))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "blocked components: a, b", res.Error)
	assert.Nil(t, res.ExternalInput, "a step failure is not an escalation")

	st := f.store.State()
	assert.Equal(t, state.ComponentBlocked, st.Component("a").Status)
	assert.Equal(t, state.ComponentBlocked, st.Component("b").Status)
	assert.Equal(t, "dependency a blocked", st.Component("b").LastError)
	assert.Equal(t, state.ComponentComplete, st.Component("c").Status)
	assert.Zero(t, f.agents.calls("skeleton", "b"))
	assert.Zero(t, f.agents.calls("integration_validator", ""))
}

func TestHandlerEscalationRequestsDecision(t *testing.T) {
	agents := &fakeAgents{
		issues: func(component string, _ int) []domain.Issue {
			if component != "a" {
				return nil
			}
			return []domain.Issue{{Severity: domain.SeverityMajor, File: "a.go", Description: "leaks handles"}}
		},
	}
	f := newFixture(t, agents)
	m := testManifest(component("a"))

	res, err := NewHandler(f.pipeline, nil).Handle(context.Background(), phaseContext(f, m))
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.ExternalInput)
	assert.NotEmpty(t, res.ExternalInput.Prompt)
	assert.NotNil(t, res.ExternalInput.Vote)
	assert.NotEmpty(t, res.ExternalInput.Options)
}

func TestHandlerSkipsCompletedComponents(t *testing.T) {
	f := newFixture(t, &fakeAgents{})
	m := testManifest(component("a"), component("b", "a"))
	ctx := context.Background()
	require.NoError(t, f.store.UpdateComponent(ctx, "a", func(cs *state.ComponentState) {
		cs.Status = state.ComponentComplete
	}))

	res, err := NewHandler(f.pipeline, nil).Handle(ctx, phaseContext(f, m))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, f.agents.calls("skeleton", "a"))
	assert.Equal(t, 1, f.agents.calls("skeleton", "b"))
}

func TestHandlerEndState(t *testing.T) {
	tests := []struct {
		recommendation string
		success        bool
		external       bool
	}{
		{invoker.RecommendProceed, true, false},
		{invoker.RecommendFixRequired, false, false},
		{invoker.RecommendManualCheck, false, true},
		{"shrug", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.recommendation, func(t *testing.T) {
			f := newFixture(t, &fakeAgents{recommendation: tt.recommendation})
			m := testManifest(component("a"))

			res, err := NewHandler(f.pipeline, nil).Handle(context.Background(), phaseContext(f, m))
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.external, res.ExternalInput != nil)

			last := f.store.State().Discoveries[len(f.store.State().Discoveries)-1]
			assert.Equal(t, "integration_validator", last.Source)
		})
	}
}

func TestHandlerCycleIsAnError(t *testing.T) {
	f := newFixture(t, &fakeAgents{})
	m := testManifest(component("a", "b"), component("b", "a"))

	_, err := NewHandler(f.pipeline, nil).Handle(context.Background(), phaseContext(f, m))
	var cycle *manifest.CycleDetectedError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b"}, cycle.Unresolved)
}

// The component handler installed into the engine drives a whole run.
func TestEngineWithComponentsPhase(t *testing.T) {
	f := newFixture(t, &fakeAgents{})
	m := testManifest(component("api"), component("web", "api"))

	engine, err := workflow.NewEngine(workflow.Options{
		Phases: []workflow.Phase{
			{Name: "planning", Agents: []string{"planner"}},
			{Name: "components", Handler: HandlerName},
		},
		Store:              f.store,
		Invoker:            invoker.DryRun{},
		Manifest:           m,
		ExpectedComponents: []domain.ComponentID{"api", "web"},
		Logger:             log.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.RegisterHandler(HandlerName, NewHandler(f.pipeline, nil)))

	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success, res.Reason)
	assert.Equal(t, state.RunComplete, f.store.State().Status)
}
