package invoker

import (
	"context"

	"github.com/felixgeelhaar/orchestra/internal/log"
)

// FallbackInvoker tries Primary and, only when Primary reports that its backend
// is unavailable, repeats the call on Secondary. Every other failure is returned as is.
type FallbackInvoker struct {
	Primary   Invoker
	Secondary Invoker
	Logger    *log.Logger
}

// Invoke implements Invoker.
func (f *FallbackInvoker) Invoke(ctx context.Context, req Request) Result {
	res := f.Primary.Invoke(ctx, req)
	if res.Success || !res.BackendUnavailable || f.Secondary == nil {
		return res
	}

	log.OrDefault(f.Logger).Warn("primary backend unavailable, using fallback",
		"agent", req.Agent,
		"error", res.Error,
	)

	second := f.Secondary.Invoke(ctx, req)
	second.Attempts += res.Attempts
	return second
}
