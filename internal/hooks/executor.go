package hooks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds parallel hook executions for one event.
const DefaultMaxConcurrency = 10

type binding struct {
	hook Hook
	cfg  Config
}

// execute runs every binding for event concurrently and returns results in
// binding order. Each hook gets its own timeout.
func execute(ctx context.Context, bindings []binding, event *Event, limit int) []Result {
	results := make([]Result, len(bindings))
	if len(bindings) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range bindings {
		i := i
		g.Go(func() error {
			results[i] = runOne(ctx, bindings[i], event)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOne(ctx context.Context, b binding, event *Event) (res Result) {
	res = Result{Hook: b.hook.Name(), Event: event.Type}

	hookCtx, cancel := context.WithTimeout(ctx, b.cfg.timeout())
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("hook panicked: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	if err := b.hook.Execute(hookCtx, event); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}
