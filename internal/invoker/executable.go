package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// Exit codes with a meaning for the executable protocol (sysexits.h).
const (
	ExitUnavailable = 69 // EX_UNAVAILABLE: backend cannot be reached
	ExitTempFail    = 75 // EX_TEMPFAIL: try again later
)

const maxStderr = 2000

// ExecutableInvoker runs an external command per call. The request is written
// to stdin as JSON; the command answers on stdout with a JSON envelope.
type ExecutableInvoker struct {
	Command string
	Args    []string
	// Timeout bounds a single call; zero means no per-call timeout.
	Timeout time.Duration
	// Models maps a capability tier to the model name sent to the command.
	Models map[domain.Tier]string
	Env    []string
}

type wireRequest struct {
	Agent    string            `json:"agent"`
	Prompt   string            `json:"prompt"`
	Tier     domain.Tier       `json:"tier"`
	Model    string            `json:"model,omitempty"`
	Schema   string            `json:"schema,omitempty"`
	Context  string            `json:"context,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type wireResponse struct {
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	ErrorType string          `json:"error_type"`
	Model     string          `json:"model"`
}

// Invoke implements Invoker.
func (e *ExecutableInvoker) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	res := e.run(ctx, req)
	res.Duration = time.Since(start)
	if res.Attempts == 0 {
		res.Attempts = 1
	}
	return res
}

func (e *ExecutableInvoker) run(ctx context.Context, req Request) Result {
	tier := req.Tier.OrDefault()
	model := e.Models[tier]

	input, err := json.Marshal(wireRequest{
		Agent:    req.Agent,
		Prompt:   req.Prompt,
		Tier:     tier,
		Model:    model,
		Schema:   req.Schema,
		Context:  req.Context,
		Metadata: req.Metadata,
	})
	if err != nil {
		return Failed(ClassNonRetryable, "marshal request: %v", err)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failed(ClassRetryable, "agent %s timed out after %s", req.Agent, e.Timeout)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		var pathErr *fs.PathError
		switch {
		case errors.Is(runErr, exec.ErrNotFound), errors.As(runErr, &pathErr):
			res := Failed(ClassNonRetryable, "agent backend %s not available: %v", e.Command, runErr)
			res.BackendUnavailable = true
			return res
		case errors.As(runErr, &exitErr):
			msg := truncate(strings.TrimSpace(stderr.String()), maxStderr)
			switch exitErr.ExitCode() {
			case ExitTempFail:
				return Failed(ClassRetryable, "agent %s temporarily failed: %s", req.Agent, msg)
			case ExitUnavailable:
				res := Failed(ClassNonRetryable, "agent backend unavailable: %s", msg)
				res.BackendUnavailable = true
				return res
			default:
				return Failed(ClassNonRetryable, "agent %s exited with code %d: %s", req.Agent, exitErr.ExitCode(), msg)
			}
		default:
			return Failed(ClassUnknown, "run agent %s: %v", req.Agent, runErr)
		}
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Failed(ClassNonRetryable, "malformed response from agent %s: %v", req.Agent, err)
	}

	if resp.Model == "" {
		resp.Model = model
	}

	if !resp.Success {
		res := Failed(classify(resp.ErrorType), "%s", resp.Error)
		res.Model = resp.Model
		return res
	}

	return Result{
		Success:  true,
		Payload:  resp.Payload,
		Model:    resp.Model,
		Attempts: 1,
	}
}

func classify(errorType string) Classification {
	switch strings.ToLower(errorType) {
	case "retryable", "transient", "rate_limit", "timeout":
		return ClassRetryable
	case "non_retryable", "permanent", "invalid_request":
		return ClassNonRetryable
	default:
		return ClassUnknown
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// cut on a rune boundary
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// String describes the command line, for logs.
func (e *ExecutableInvoker) String() string {
	return fmt.Sprintf("%s %s", e.Command, strings.Join(e.Args, " "))
}
