package invoker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batch dispatches reqs concurrently, at most limit at a time (limit <= 0 means
// unbounded), and waits for all of them. results[i] always belongs to reqs[i].
// A failing or panicking call never cancels its siblings; it occupies its slot
// with a failed result.
func Batch(ctx context.Context, inv Invoker, reqs []Request, limit int) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := range reqs {
		i := i
		g.Go(func() error {
			results[i] = invokeIsolated(ctx, inv, reqs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func invokeIsolated(ctx context.Context, inv Invoker, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(ClassUnknown, "agent %s panicked: %v", req.Agent, r)
		}
	}()
	return inv.Invoke(ctx, req)
}
