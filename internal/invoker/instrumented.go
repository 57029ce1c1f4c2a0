package invoker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/orchestra/internal/log"
	"github.com/felixgeelhaar/orchestra/internal/metrics"
	"github.com/felixgeelhaar/orchestra/internal/telemetry"
)

// Instrumented records metrics, a span and a debug log line around every call.
type Instrumented struct {
	next    Invoker
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewInstrumented wraps next. m may be nil.
func NewInstrumented(next Invoker, m *metrics.Metrics, logger *log.Logger) *Instrumented {
	return &Instrumented{next: next, metrics: m, logger: log.OrDefault(logger)}
}

// Invoke implements Invoker.
func (i *Instrumented) Invoke(ctx context.Context, req Request) Result {
	tier := req.Tier.OrDefault().String()
	ctx, span := telemetry.StartInvocationSpan(ctx, req.Agent, tier)
	defer span.End()

	start := time.Now()
	res := i.next.Invoke(ctx, req)
	elapsed := time.Since(start)
	if res.Duration == 0 {
		res.Duration = elapsed
	}

	i.metrics.RecordInvocation(req.Agent, tier, res.Success, string(res.Classification), res.Attempts, elapsed)

	attrs := []attribute.KeyValue{
		attribute.String("model", res.Model),
		attribute.Int("attempts", res.Attempts),
	}
	if res.Success {
		telemetry.RecordSuccess(span, attrs...)
		i.logger.DebugContext(ctx, "agent call succeeded",
			"agent", req.Agent,
			"tier", tier,
			"model", res.Model,
			"attempts", res.Attempts,
			"duration", elapsed,
		)
		return res
	}

	telemetry.RecordFailure(span, res.Error, append(attrs,
		attribute.String("classification", string(res.Classification)),
		attribute.Bool("backend_unavailable", res.BackendUnavailable),
	)...)
	i.logger.WarnContext(ctx, "agent call failed",
		"agent", req.Agent,
		"tier", tier,
		"classification", string(res.Classification),
		"attempts", res.Attempts,
		"error", res.Error,
	)
	return res
}
