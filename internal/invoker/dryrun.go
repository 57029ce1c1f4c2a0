package invoker

import (
	"context"
	"strings"
)

// DryRun answers every request with a canned successful payload for the
// requested schema, so a whole run can be exercised without spawning agents.
type DryRun struct{}

// Invoke implements Invoker.
func (DryRun) Invoke(_ context.Context, req Request) Result {
	var res Result
	switch req.Schema {
	case SchemaVote:
		option := ""
		if opts := req.Metadata["options"]; opts != "" {
			option = strings.TrimSpace(strings.Split(opts, ",")[0])
		}
		confidence := 1.0
		res = Succeeded(VotePayload{Vote: option, Confidence: &confidence, Reasoning: "dry run"})
	case SchemaIssues:
		res = Succeeded(IssuesPayload{Issues: nil, Summary: "dry run"})
	case SchemaIntegration:
		res = Succeeded(IntegrationPayload{Recommendation: RecommendProceed, Summary: "dry run"})
	default:
		res = Succeeded(StatusPayload{Status: "complete", Summary: "dry run"})
	}
	res.Model = "dry-run"
	return res
}
