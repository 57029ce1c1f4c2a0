package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// Manager runs checks in parallel.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
}

// NewManager creates a manager for checkers.
func NewManager(checkers ...Checker) *Manager {
	return &Manager{checkers: checkers, timeout: DefaultTimeout}
}

// WithTimeout sets the per-check timeout.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.timeout = timeout
	return m
}

// Add registers another checker.
func (m *Manager) Add(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Check runs every checker and returns the results in registration order.
// A checker that overruns its timeout is reported unhealthy.
func (m *Manager) Check(ctx context.Context) []*Result {
	results := make([]*Result, len(m.checkers))
	var wg sync.WaitGroup
	for i, c := range m.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.run(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (m *Manager) run(ctx context.Context, c Checker) *Result {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan *Result, 1)
	go func() { done <- c.Check(checkCtx) }()

	var res *Result
	select {
	case res = <-done:
	case <-checkCtx.Done():
		res = Unhealthy("check timed out").WithDetail("error", checkCtx.Err().Error())
	}
	if res == nil {
		res = Unhealthy("check returned no result")
	}
	res.Name = c.Name()
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	return res
}

// Overall returns the worst status among results; no results is healthy.
func Overall(results []*Result) Status {
	worst := StatusHealthy
	for _, r := range results {
		if r.Status.rank() > worst.rank() {
			worst = r.Status
		}
	}
	return worst
}
