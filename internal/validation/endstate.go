package validation

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
)

// EndStateResult is the outcome of the whole-project integration check.
type EndStateResult struct {
	Passed bool
	// Escalated is set only for a manual-check recommendation.
	Escalated      bool
	Recommendation string
	Issues         []domain.Issue
	Summary        string
	Reason         string
}

// ValidateEndState runs one integration check across all components at the
// advanced tier. "proceed" passes, "fix_required" fails without escalating,
// "manual_check" and unrecognized recommendations fail and escalate.
func (l *Loop) ValidateEndState(ctx context.Context, m *manifest.Manifest, contextBlob string) EndStateResult {
	ctx, span := telemetry.StartComponentSpan(ctx, m.Name, "integration")
	defer span.End()

	res := l.inv.Invoke(ctx, invoker.Request{
		Agent:   l.settings.IntegrationAgent,
		Prompt:  integrationPrompt(m),
		Tier:    domain.TierAdvanced,
		Schema:  invoker.SchemaIntegration,
		Context: contextBlob,
		Metadata: map[string]string{
			"project": m.ProjectID,
		},
	})

	var payload invoker.IntegrationPayload
	if err := res.Decode(&payload); err != nil {
		reason := fmt.Sprintf("integration check failed: %v", err)
		telemetry.RecordFailure(span, reason)
		l.logger.Warn("integration check failed", "error", err)
		return EndStateResult{Reason: reason}
	}

	out := EndStateResult{
		Recommendation: payload.NormalizedRecommendation(),
		Issues:         Dedupe(invoker.IssuesPayload{Issues: payload.Issues}.Normalized()),
		Summary:        payload.Summary,
	}
	switch out.Recommendation {
	case invoker.RecommendProceed:
		out.Passed = true
	case invoker.RecommendFixRequired:
		out.Reason = "integration check requires fixes"
	default:
		out.Escalated = true
		out.Reason = ReasonManualCheck
		if out.Recommendation != invoker.RecommendManualCheck {
			out.Reason = fmt.Sprintf("%s (unrecognized recommendation %q)", ReasonManualCheck, payload.Recommendation)
		}
		l.metrics.RecordEscalation("manual_check")
	}

	l.metrics.RecordValidation(out.Passed, countBySeverity(out.Issues))
	if out.Passed {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordFailure(span, out.Reason)
	}
	l.logger.Info("integration check finished", "recommendation", out.Recommendation, "passed", out.Passed, "issues", len(out.Issues))
	return out
}
