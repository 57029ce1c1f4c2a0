package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
)

func TestValidateEndState(t *testing.T) {
	tests := []struct {
		name          string
		result        invoker.Result
		wantPassed    bool
		wantEscalated bool
	}{
		{"proceed", invoker.Succeeded(invoker.IntegrationPayload{Recommendation: "proceed"}), true, false},
		{"fix required", invoker.Succeeded(invoker.IntegrationPayload{Recommendation: "Fix Required"}), false, false},
		{"manual check with no issues", invoker.Succeeded(invoker.IntegrationPayload{Recommendation: "manual-check"}), false, true},
		{"unknown recommendation", invoker.Succeeded(invoker.IntegrationPayload{Recommendation: "ship it"}), false, true},
		{"invocation failure", invoker.Failed(invoker.ClassNonRetryable, "boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agents := &fakeAgents{integration: func() invoker.Result { return tt.result }}
			loop, _ := newTestLoop(t, agents, DefaultSettings())

			res := loop.ValidateEndState(context.Background(), testManifest(domain.RiskMedium), "ctx")
			assert.Equal(t, tt.wantPassed, res.Passed)
			assert.Equal(t, tt.wantEscalated, res.Escalated)
			if !tt.wantPassed {
				assert.NotEmpty(t, res.Reason)
			}

			calls := agents.calls("integration_validator")
			if assert.Len(t, calls, 1) {
				assert.Equal(t, domain.TierAdvanced, calls[0].Tier)
				assert.Equal(t, "ctx", calls[0].Context)
				assert.Contains(t, calls[0].Prompt, "interface mismatch")
			}
		})
	}
}
