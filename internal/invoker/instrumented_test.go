package invoker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
)

func TestInstrumented(t *testing.T) {
	_, m := metrics.NewRegistry()
	calls := 0
	inner := Func(func(ctx context.Context, req Request) Result {
		calls++
		if req.Agent == "bad" {
			return Failed(ClassNonRetryable, "nope")
		}
		return Succeeded(StatusPayload{Status: "complete"})
	})

	inv := NewInstrumented(inner, m, log.Discard())
	assert.True(t, inv.Invoke(context.Background(), Request{Agent: "good"}).Success)
	assert.False(t, inv.Invoke(context.Background(), Request{Agent: "bad", Tier: "advanced"}).Success)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("good", "standard", "true", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("bad", "advanced", "false", "non_retryable")))
}
