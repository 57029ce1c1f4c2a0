package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	_, m := NewRegistry()

	m.RecordInvocation("validator", "advanced", false, "retryable", 3, 2*time.Second)
	m.RecordInvocation("validator", "advanced", false, "retryable", 1, time.Second)
	m.RecordPhase("components", "complete")
	m.RecordPhaseDuration("components", time.Minute)
	m.RecordComponent("blocked")
	m.RecordValidation(false, map[string]int{"critical": 2, "minor": 1})
	m.RecordVote("repeat_issue", false, "weighted")
	m.RecordEscalation("max_attempts")
	m.RecordStateWrite("save", true)
	m.RecordError("STATE-002")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Invocations.WithLabelValues("validator", "advanced", "false", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseTransitions.WithLabelValues("components", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentOutcomes.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationAttempts.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IssuesFound.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Votes.WithLabelValues("repeat_issue", "false", "weighted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("max_attempts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateWrites.WithLabelValues("save", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("STATE-002")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInvocation("a", "standard", true, "", 1, time.Millisecond)
		m.RecordPhase("p", "complete")
		m.RecordPhaseDuration("p", time.Second)
		m.RecordComponent("complete")
		m.RecordValidation(true, nil)
		m.RecordVote("g", true, "majority")
		m.RecordEscalation("x")
		m.RecordStateWrite("save", false)
		m.RecordError("X")
	})
}

func TestServe(t *testing.T) {
	reg, m := NewRegistry()
	m.RecordPhase("planning", "complete")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0", reg)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `orchestra_phase_transitions_total{phase="planning",status="complete"} 1`))
}
