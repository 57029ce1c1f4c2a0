package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/validation"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// fakeAgents answers every agent the pipeline talks to and records the
// requests it received.
type fakeAgents struct {
	mu       sync.Mutex
	requests []invoker.Request

	// failing holds "<agent>:<component>" pairs that report a failed status.
	failing map[string]bool
	// issues returns reviewer findings per component and attempt.
	issues         func(component string, attempt int) []domain.Issue
	recommendation string
}

func (f *fakeAgents) Invoke(_ context.Context, req invoker.Request) invoker.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	component := req.Metadata["component"]
	switch req.Agent {
	case "skeleton", "implementer":
		if f.failing[req.Agent+":"+component] {
			return invoker.Succeeded(invoker.StatusPayload{Status: "failed", Summary: "cannot satisfy interface"})
		}
		return invoker.Succeeded(invoker.StatusPayload{
			Status:      "complete",
			Discoveries: []string{fmt.Sprintf("%s wrote %s", req.Agent, component)},
		})
	case "validator":
		var found []domain.Issue
		if f.issues != nil {
			attempt, _ := strconv.Atoi(req.Metadata["attempt"])
			found = f.issues(component, attempt)
		}
		return invoker.Succeeded(invoker.IssuesPayload{Issues: found})
	case "fixer":
		return invoker.Succeeded(invoker.StatusPayload{Status: "complete"})
	case "voter":
		confidence := 1.0
		return invoker.Succeeded(invoker.VotePayload{Vote: validation.DecisionEscalate, Confidence: &confidence})
	case "integration_validator":
		rec := f.recommendation
		if rec == "" {
			rec = invoker.RecommendProceed
		}
		return invoker.Succeeded(invoker.IntegrationPayload{Recommendation: rec, Summary: "checked"})
	}
	return invoker.Failed(invoker.ClassNonRetryable, "unexpected agent %s", req.Agent)
}

func (f *fakeAgents) calls(agent, component string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Agent == agent && (component == "" || r.Metadata["component"] == component) {
			n++
		}
	}
	return n
}

func (f *fakeAgents) tiers(agent string) []domain.Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Tier
	for _, r := range f.requests {
		if r.Agent == agent {
			out = append(out, r.Tier)
		}
	}
	return out
}

// fakeCommitter records checkpoint labels and hands out sequential ids.
type fakeCommitter struct {
	mu     sync.Mutex
	labels []string
}

func (c *fakeCommitter) Commit(_ context.Context, label string, id domain.ComponentID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels = append(c.labels, string(id)+"/"+label)
	return fmt.Sprintf("commit-%d", len(c.labels)), nil
}

func testManifest(components ...manifest.Component) *manifest.Manifest {
	return &manifest.Manifest{
		Name:       "shop",
		ProjectID:  "shop",
		RiskLevel:  domain.RiskLow,
		Complexity: 3,
		Components: components,
		Execution:  manifest.Execution{Parallelism: manifest.ParallelismParallel},
	}
}

func component(id string, deps ...domain.ComponentID) manifest.Component {
	return manifest.Component{ID: domain.ComponentID(id), File: id + ".go", Complexity: domain.ComplexityLow, DependsOn: deps}
}

type fixture struct {
	agents    *fakeAgents
	committer *fakeCommitter
	store     *state.Store
	loop      *validation.Loop
	pipeline  *Pipeline
}

func newFixture(t *testing.T, agents *fakeAgents) *fixture {
	t.Helper()
	store := state.NewStore(state.NewMemoryBackend(), log.Discard(), nil)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	gate := voting.NewGate(agents, voting.Config{Voters: 3}, log.Discard(), nil)
	loop := validation.NewLoop(agents, gate, store, validation.DefaultSettings(), log.Discard(), nil)
	committer := &fakeCommitter{}
	p := New(Options{
		Invoker:   agents,
		Loop:      loop,
		Store:     store,
		Committer: committer,
		Logger:    log.Discard(),
	})
	return &fixture{agents: agents, committer: committer, store: store, loop: loop, pipeline: p}
}
