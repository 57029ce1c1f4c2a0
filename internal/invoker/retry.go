package invoker

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/orchestra/internal/log"
)

// RetryPolicy configures exponential backoff with full jitter.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns three retries starting at one second, capped at 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Backoff returns the upper bound of the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RetryInvoker retries Retryable failures of the wrapped invoker.
// Unavailable backends are not retried; that is the fallback's job.
type RetryInvoker struct {
	next    Invoker
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *log.Logger

	// jitter returns a value in [0,1); replaced in tests
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryInvoker wraps next. limiter may be nil.
func NewRetryInvoker(next Invoker, policy RetryPolicy, limiter *rate.Limiter, logger *log.Logger) *RetryInvoker {
	return &RetryInvoker{
		next:    next,
		policy:  policy,
		limiter: limiter,
		logger:  log.OrDefault(logger),
		jitter:  rand.Float64,
		sleep:   sleepContext,
	}
}

// Invoke implements Invoker.
func (r *RetryInvoker) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				res := Failed(ClassRetryable, "rate limiter: %v", err)
				res.Attempts = attempt
				res.Duration = time.Since(start)
				return res
			}
		}

		res := r.next.Invoke(ctx, req)
		res.Attempts = attempt
		res.Duration = time.Since(start)

		if res.Success || res.Classification != ClassRetryable || res.BackendUnavailable || attempt > r.policy.MaxRetries {
			return res
		}

		wait := time.Duration(r.jitter() * float64(r.policy.Backoff(attempt)))
		r.logger.Debug("retrying agent call",
			"agent", req.Agent,
			"attempt", attempt,
			"backoff", wait,
			"error", res.Error,
		)
		if err := r.sleep(ctx, wait); err != nil {
			res.Error = res.Error + "; retry aborted: " + err.Error()
			return res
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
