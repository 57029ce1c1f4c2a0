// Package invoker defines the contract between the orchestration core and the
// agents it coordinates, plus the building blocks used to assemble a concrete
// invoker: bounded fan-out, retry with backoff, primary/secondary fallback and
// an executable backend that speaks JSON over stdin/stdout.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// Classification tells the core whether a failed call could succeed if repeated.
type Classification string

const (
	ClassNone         Classification = ""
	ClassRetryable    Classification = "retryable"
	ClassNonRetryable Classification = "non_retryable"
	ClassUnknown      Classification = "unknown"
)

// Structured-output contracts understood by the core.
const (
	SchemaVote        = "vote"
	SchemaIssues      = "issues"
	SchemaStatus      = "status"
	SchemaIntegration = "integration"
)

// Request is one agent call.
type Request struct {
	Agent  string      `json:"agent"`
	Prompt string      `json:"prompt"`
	Tier   domain.Tier `json:"tier"`
	// Schema names the structured-output contract the payload must satisfy.
	Schema string `json:"schema,omitempty"`
	// Context is the opaque workspace blob passed through to the agent.
	Context  string            `json:"context,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the outcome of a call after any internal retries were exhausted.
type Result struct {
	Success        bool            `json:"success"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error,omitempty"`
	Classification Classification  `json:"classification,omitempty"`
	// BackendUnavailable marks failures where the backend itself could not be reached.
	BackendUnavailable bool          `json:"backend_unavailable,omitempty"`
	Model              string        `json:"model,omitempty"`
	Attempts           int           `json:"attempts"`
	Duration           time.Duration `json:"duration"`
}

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	if !r.Success {
		return fmt.Errorf("cannot decode payload of failed call: %s", r.Error)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Failed builds a failed result.
func Failed(class Classification, format string, args ...any) Result {
	return Result{
		Success:        false,
		Error:          fmt.Sprintf(format, args...),
		Classification: class,
		Attempts:       1,
	}
}

// Succeeded builds a successful result carrying payload marshalled as JSON.
func Succeeded(payload any) Result {
	data, err := json.Marshal(payload)
	if err != nil {
		return Failed(ClassNonRetryable, "marshal payload: %v", err)
	}
	return Result{Success: true, Payload: data, Attempts: 1}
}

// Invoker turns an agent request into a result. Implementations must be safe
// for concurrent use; failures are reported in the Result, never as panics.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
}

// Func adapts an ordinary function to the Invoker interface.
type Func func(ctx context.Context, req Request) Result

// Invoke calls f(ctx, req).
func (f Func) Invoke(ctx context.Context, req Request) Result {
	return f(ctx, req)
}
