package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeManifestInvalid   ErrorCode = "CONFIG-001"
	ErrCodeUnknownDependency ErrorCode = "CONFIG-002"
	ErrCodeDependencyCycle   ErrorCode = "CONFIG-003"
	ErrCodeUnknownPhase      ErrorCode = "CONFIG-004"
	ErrCodeUnknownAgent      ErrorCode = "CONFIG-005"
	ErrCodeUnknownGate       ErrorCode = "CONFIG-006"
	ErrCodeConfigInvalid     ErrorCode = "CONFIG-007"
	ErrCodeSchemaInvalid     ErrorCode = "CONFIG-008"

	// State persistence errors (STATE-001 to STATE-099)
	ErrCodeStateReadFailed       ErrorCode = "STATE-001"
	ErrCodeStateWriteFailed      ErrorCode = "STATE-002"
	ErrCodeStateCorrupt          ErrorCode = "STATE-003"
	ErrCodeCheckpointNotFound    ErrorCode = "STATE-004"
	ErrCodeCheckpointWriteFailed ErrorCode = "STATE-005"
	ErrCodeCheckpointExists      ErrorCode = "STATE-006"

	// Invocation errors (INVOKE-001 to INVOKE-099)
	ErrCodeInvokeRetryable    ErrorCode = "INVOKE-001"
	ErrCodeInvokeNonRetryable ErrorCode = "INVOKE-002"
	ErrCodeInvokeUnavailable  ErrorCode = "INVOKE-003"
	ErrCodeInvokeBadPayload   ErrorCode = "INVOKE-004"

	// Escalations (ESCALATION-001 to ESCALATION-099)
	ErrCodeWorkflowBlocked    ErrorCode = "ESCALATION-001"
	ErrCodeMaxAttemptsReached ErrorCode = "ESCALATION-002"
	ErrCodeNoConsensus        ErrorCode = "ESCALATION-003"
	ErrCodeManualCheck        ErrorCode = "ESCALATION-004"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound   ErrorCode = "IO-001"
	ErrCodeFileReadFailed ErrorCode = "IO-002"
	ErrCodeFileUnmarshal  ErrorCode = "IO-005"
)

// Category returns the family prefix of the code (CONFIG, STATE, ...)
func (c ErrorCode) Category() string {
	s := string(c)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// OrchestraError represents an enhanced error with code, suggestions, and documentation
type OrchestraError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *OrchestraError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *OrchestraError) Unwrap() error {
	return e.Cause
}

// New creates a new OrchestraError
func New(code ErrorCode, message string) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new OrchestraError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *OrchestraError {
	return &OrchestraError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *OrchestraError) WithSuggestion(suggestion string) *OrchestraError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *OrchestraError) WithSuggestions(suggestions ...string) *OrchestraError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *OrchestraError) WithDocs(url string) *OrchestraError {
	e.DocsURL = url
	return e
}

// Find returns the first OrchestraError in err's chain.
func Find(err error) (*OrchestraError, bool) {
	var oe *OrchestraError
	if stderrors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// CodeOf returns the code of the first OrchestraError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	if oe, ok := Find(err); ok {
		return oe.Code, true
	}
	return "", false
}

// HasCategory reports whether err carries a code of the given family.
func HasCategory(err error, category string) bool {
	code, ok := CodeOf(err)
	return ok && code.Category() == category
}

// Common error constructors for frequently used errors

// NewManifestInvalidError creates a manifest validation error
func NewManifestInvalidError(details string) *OrchestraError {
	return New(ErrCodeManifestInvalid, fmt.Sprintf("invalid manifest: %s", details)).
		WithSuggestion("Run 'orchestra plan --manifest <file>' to see validation errors").
		WithSuggestion("Check component ids, dependencies, complexity and risk level")
}

// NewUnknownPhaseError creates an unknown phase reference error
func NewUnknownPhaseError(phase string) *OrchestraError {
	return New(ErrCodeUnknownPhase, fmt.Sprintf("unknown phase: %s", phase)).
		WithSuggestion("Check the phases section of orchestra.yaml")
}

// NewUnknownAgentError creates an unknown agent reference error
func NewUnknownAgentError(agent, referencedBy string) *OrchestraError {
	return New(ErrCodeUnknownAgent, fmt.Sprintf("unknown agent %q referenced by %s", agent, referencedBy)).
		WithSuggestion("Declare the agent in the agents section of orchestra.yaml")
}

// NewStateWriteError creates a persistence failure error
func NewStateWriteError(what string, cause error) *OrchestraError {
	return Wrap(ErrCodeStateWriteFailed, fmt.Sprintf("failed to persist %s", what), cause).
		WithSuggestion("Check that the run directory is writable and the disk is not full")
}

// NewStateReadError creates a state read failure error
func NewStateReadError(what string, cause error) *OrchestraError {
	return Wrap(ErrCodeStateReadFailed, fmt.Sprintf("failed to read %s", what), cause).
		WithSuggestion("Inspect the run directory; remove a corrupt state file to start over")
}

// NewCheckpointNotFoundError creates a missing checkpoint error
func NewCheckpointNotFoundError(label string) *OrchestraError {
	return New(ErrCodeCheckpointNotFound, fmt.Sprintf("checkpoint not found: %s", label)).
		WithSuggestion("Run 'orchestra checkpoint list' to see available labels")
}

// NewCheckpointExistsError reports an attempt to overwrite a checkpoint.
func NewCheckpointExistsError(label string) *OrchestraError {
	return New(ErrCodeCheckpointExists, fmt.Sprintf("checkpoint already exists: %s", label))
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *OrchestraError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *OrchestraError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}

// NewWorkflowBlockedError reports a run that stopped on a blocked phase
func NewWorkflowBlockedError(phase, reason string) *OrchestraError {
	return New(ErrCodeWorkflowBlocked, fmt.Sprintf("workflow blocked in phase %s: %s", phase, reason)).
		WithSuggestion("Run 'orchestra status' to see the recorded escalation").
		WithSuggestion("Resolve the escalation and re-run 'orchestra run' to resume")
}
