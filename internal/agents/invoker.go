package agents

import (
	"context"

	"github.com/felixgeelhaar/orchestra/internal/invoker"
)

// SchemaInvoker resolves requests against the registry before calling next and
// checks successful payloads against the agent's contract afterwards. A payload
// that breaks the contract becomes a non-retryable failure.
type SchemaInvoker struct {
	next     invoker.Invoker
	registry *Registry
}

// NewSchemaInvoker wraps next.
func NewSchemaInvoker(next invoker.Invoker, registry *Registry) *SchemaInvoker {
	return &SchemaInvoker{next: next, registry: registry}
}

// Invoke implements invoker.Invoker.
func (s *SchemaInvoker) Invoke(ctx context.Context, req invoker.Request) invoker.Result {
	def, ok := s.registry.Lookup(req.Agent)
	if !ok {
		return invoker.Failed(invoker.ClassNonRetryable, "unknown agent %q", req.Agent)
	}
	if req.Schema == "" {
		req.Schema = def.Schema
	}
	if req.Tier == "" {
		req.Tier = def.Tier
	}

	res := s.next.Invoke(ctx, req)
	if !res.Success || req.Schema == "" {
		return res
	}

	if err := s.registry.ValidatePayload(req.Schema, res.Payload); err != nil {
		failed := invoker.Failed(invoker.ClassNonRetryable, "agent %s returned a payload violating the %s contract: %v", req.Agent, req.Schema, err)
		failed.Model = res.Model
		failed.Attempts = res.Attempts
		failed.Duration = res.Duration
		return failed
	}
	return res
}
