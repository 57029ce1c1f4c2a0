package validation

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/voting"
)

// fakeAgents answers reviewer, fixer, voter and integration calls from
// per-agent functions and records every request.
type fakeAgents struct {
	mu       sync.Mutex
	requests []invoker.Request

	reviewer    func(attempt, index int) invoker.Result
	fixer       func(attempt int) invoker.Result
	voter       func(index int) invoker.Result
	integration func() invoker.Result
}

func (f *fakeAgents) Invoke(_ context.Context, req invoker.Request) invoker.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	attempt, _ := strconv.Atoi(req.Metadata["attempt"])
	switch req.Agent {
	case "validator":
		index, _ := strconv.Atoi(req.Metadata["reviewer_index"])
		return f.reviewer(attempt, index)
	case "fixer":
		if f.fixer == nil {
			return invoker.Succeeded(invoker.StatusPayload{Status: "complete"})
		}
		return f.fixer(attempt)
	case "voter":
		index, _ := strconv.Atoi(req.Metadata["voter_index"])
		return f.voter(index)
	case "integration_validator":
		return f.integration()
	}
	return invoker.Failed(invoker.ClassNonRetryable, "unexpected agent %s", req.Agent)
}

func (f *fakeAgents) calls(agent string) []invoker.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []invoker.Request
	for _, r := range f.requests {
		if r.Agent == agent {
			out = append(out, r)
		}
	}
	return out
}

func issues(list ...domain.Issue) invoker.Result {
	return invoker.Succeeded(invoker.IssuesPayload{Issues: list})
}

func critical(desc string) domain.Issue {
	return domain.Issue{Severity: domain.SeverityCritical, File: "auth.go", Description: desc}
}

func vote(option string, confidence float64) invoker.Result {
	return invoker.Succeeded(invoker.VotePayload{Vote: option, Confidence: &confidence})
}

func testManifest(risk domain.RiskLevel) *manifest.Manifest {
	return &manifest.Manifest{
		Name:      "demo",
		ProjectID: "demo",
		RiskLevel: risk,
		Components: []manifest.Component{
			{ID: "auth", File: "auth.go", Complexity: domain.ComplexityMedium, Purpose: "session handling"},
		},
		Execution: manifest.Execution{Parallelism: manifest.ParallelismParallel},
	}
}

func newTestLoop(t *testing.T, agents *fakeAgents, settings Settings) (*Loop, *state.Store) {
	t.Helper()
	store := state.NewStore(state.NewMemoryBackend(), log.Discard(), nil)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	gate := voting.NewGate(agents, voting.Config{Voters: 3}, log.Discard(), nil)
	return NewLoop(agents, gate, store, settings, log.Discard(), nil), store
}

func target(m *manifest.Manifest) Target {
	return Target{Manifest: m, Component: m.Components[0], Tier: domain.TierStandard}
}
