// Package hooks notifies external scripts and services about run lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowFailed   EventType = "workflow_failed"

	EventPhaseStart    EventType = "phase_start"
	EventPhaseComplete EventType = "phase_complete"
	EventPhaseSkipped  EventType = "phase_skipped"
	EventPhaseBlocked  EventType = "phase_blocked"

	EventComponentComplete EventType = "component_complete"
	EventComponentBlocked  EventType = "component_blocked"

	EventEscalation EventType = "escalation"
)

// AllEvents lists every event type in lifecycle order.
var AllEvents = []EventType{
	EventWorkflowStart, EventWorkflowComplete, EventWorkflowFailed,
	EventPhaseStart, EventPhaseComplete, EventPhaseSkipped, EventPhaseBlocked,
	EventComponentComplete, EventComponentBlocked,
	EventEscalation,
}

// IsValidEvent reports whether t is a known event type.
func IsValidEvent(t EventType) bool {
	for _, e := range AllEvents {
		if e == t {
			return true
		}
	}
	return false
}

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Workflow  string         `json:"workflow,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, runID string, data map[string]any) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	}
}

// String returns the value of key rendered as text, or "".
func (e *Event) String(key string) string {
	v, ok := e.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Hook receives events.
type Hook interface {
	Name() string
	Events() []EventType
	Execute(ctx context.Context, event *Event) error
}

// Failure modes.
const (
	FailureIgnore = "ignore"
	FailureWarn   = "warn"
	FailureFail   = "fail"
)

// ValidFailureModes lists the accepted failure modes.
var ValidFailureModes = []string{FailureIgnore, FailureWarn, FailureFail}

// IsValidFailureMode checks if a failure mode is valid
func IsValidFailureMode(mode string) bool {
	for _, valid := range ValidFailureModes {
		if mode == valid {
			return true
		}
	}
	return false
}

// DefaultTimeout bounds a hook without its own timeout.
const DefaultTimeout = 30 * time.Second

// Config declares one hook in orchestra.yaml.
type Config struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"`
	Events  []EventType    `yaml:"events" json:"events"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
	Timeout time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// FailureMode is ignore, warn (default) or fail. A failing "fail" hook
	// aborts the operation that fired the event.
	FailureMode string `yaml:"failure_mode,omitempty" json:"failure_mode,omitempty"`
}

// Validate checks the declaration without constructing the hook.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("hook name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("hook %s: type is required", c.Name)
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("hook %s: at least one event is required", c.Name)
	}
	for _, e := range c.Events {
		if !IsValidEvent(e) {
			return fmt.Errorf("hook %s: unknown event %q", c.Name, e)
		}
	}
	if c.FailureMode != "" && !IsValidFailureMode(c.FailureMode) {
		return fmt.Errorf("hook %s: invalid failure_mode %q (use ignore, warn or fail)", c.Name, c.FailureMode)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("hook %s: timeout cannot be negative", c.Name)
	}
	return nil
}

func (c Config) failureMode() string {
	if c.FailureMode == "" {
		return FailureWarn
	}
	return c.FailureMode
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Result is the outcome of running one hook for one event.
type Result struct {
	Hook     string        `json:"hook"`
	Event    EventType     `json:"event"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Factory builds a hook from its declaration.
type Factory func(cfg Config) (Hook, error)
