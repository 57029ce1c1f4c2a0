package invoker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/orchestra/internal/log"
)

type scripted struct {
	results []Result
	calls   int
}

func (s *scripted) Invoke(ctx context.Context, req Request) Result {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i]
}

func newTestRetry(next Invoker, policy RetryPolicy) (*RetryInvoker, *[]time.Duration) {
	r := NewRetryInvoker(next, policy, nil, log.Discard())
	var waits []time.Duration
	r.jitter = func() float64 { return 1 }
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestRetryInvoker_RetriesUntilSuccess(t *testing.T) {
	next := &scripted{results: []Result{
		Failed(ClassRetryable, "rate limited"),
		Failed(ClassRetryable, "rate limited"),
		Succeeded(StatusPayload{Status: "complete"}),
	}}
	r, waits := newTestRetry(next, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second})

	res := r.Invoke(context.Background(), Request{Agent: "implementer"})
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestRetryInvoker_StopsOnNonRetryable(t *testing.T) {
	next := &scripted{results: []Result{Failed(ClassNonRetryable, "invalid prompt")}}
	r, waits := newTestRetry(next, DefaultRetryPolicy())

	res := r.Invoke(context.Background(), Request{Agent: "a"})
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, *waits)
}

func TestRetryInvoker_ExhaustsRetries(t *testing.T) {
	next := &scripted{results: []Result{Failed(ClassRetryable, "overloaded")}}
	r, waits := newTestRetry(next, RetryPolicy{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond})

	res := r.Invoke(context.Background(), Request{Agent: "a"})
	assert.False(t, res.Success)
	assert.Equal(t, ClassRetryable, res.Classification)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, *waits, 2)
}

func TestRetryInvoker_DoesNotRetryUnavailable(t *testing.T) {
	unavailable := Failed(ClassRetryable, "connection refused")
	unavailable.BackendUnavailable = true
	next := &scripted{results: []Result{unavailable}}
	r, _ := newTestRetry(next, DefaultRetryPolicy())

	res := r.Invoke(context.Background(), Request{Agent: "a"})
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.BackendUnavailable)
}

func TestRetryInvoker_ContextCancelledDuringBackoff(t *testing.T) {
	next := &scripted{results: []Result{Failed(ClassRetryable, "busy")}}
	r := NewRetryInvoker(next, RetryPolicy{MaxRetries: 5, InitialBackoff: time.Hour}, nil, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Invoke(ctx, Request{Agent: "a"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "retry aborted")
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(40))
}

func TestFallbackInvoker(t *testing.T) {
	unavailable := Failed(ClassNonRetryable, "not installed")
	unavailable.BackendUnavailable = true

	secondary := Func(func(ctx context.Context, req Request) Result {
		res := Succeeded(StatusPayload{Status: "complete"})
		res.Model = "secondary"
		return res
	})

	t.Run("falls back on unavailability", func(t *testing.T) {
		f := &FallbackInvoker{Primary: &scripted{results: []Result{unavailable}}, Secondary: secondary, Logger: log.Discard()}
		res := f.Invoke(context.Background(), Request{Agent: "a"})
		assert.True(t, res.Success)
		assert.Equal(t, "secondary", res.Model)
		assert.Equal(t, 2, res.Attempts)
	})

	t.Run("keeps other failures", func(t *testing.T) {
		f := &FallbackInvoker{Primary: &scripted{results: []Result{Failed(ClassNonRetryable, "bad")}}, Secondary: secondary}
		res := f.Invoke(context.Background(), Request{Agent: "a"})
		assert.False(t, res.Success)
		assert.Equal(t, "bad", res.Error)
	})

	t.Run("no secondary configured", func(t *testing.T) {
		f := &FallbackInvoker{Primary: &scripted{results: []Result{unavailable}}}
		res := f.Invoke(context.Background(), Request{Agent: "a"})
		assert.True(t, res.BackendUnavailable)
	})
}
