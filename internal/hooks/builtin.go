package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/log"
)

type base struct {
	name   string
	events []EventType
}

func (b base) Name() string        { return b.name }
func (b base) Events() []EventType { return b.events }

// ScriptHook runs a command with the event as JSON on stdin and as
// ORCHESTRA_* environment variables.
type ScriptHook struct {
	base
	command string
	args    []string
}

// NewScriptHook reads options.command and the optional options.args.
func NewScriptHook(cfg Config) (Hook, error) {
	command, ok := cfg.Options["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("script hook requires options.command")
	}
	h := &ScriptHook{base: base{name: cfg.Name, events: cfg.Events}, command: command}
	if list, ok := cfg.Options["args"].([]any); ok {
		for _, a := range list {
			if s, ok := a.(string); ok {
				h.args = append(h.args, s)
			}
		}
	}
	return h, nil
}

func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.command, h.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		"ORCHESTRA_EVENT="+string(event.Type),
		"ORCHESTRA_RUN_ID="+event.RunID,
	)
	for key, value := range event.Data {
		if s, ok := value.(string); ok {
			cmd.Env = append(cmd.Env, fmt.Sprintf("ORCHESTRA_%s=%s", strings.ToUpper(key), s))
		}
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// WebhookHook POSTs the event as JSON.
type WebhookHook struct {
	base
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookHook reads options.url and the optional options.headers.
func NewWebhookHook(cfg Config) (Hook, error) {
	url, ok := cfg.Options["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("webhook hook requires options.url")
	}
	h := &WebhookHook{
		base:    base{name: cfg.Name, events: cfg.Events},
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: cfg.timeout()},
	}
	if headers, ok := cfg.Options["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				h.headers[k] = s
			}
		}
	}
	return h, nil
}

func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogHook writes events to the structured log.
type LogHook struct {
	base
	logger *log.Logger
}

// NewLogHook creates a hook that logs at info level.
func NewLogHook(cfg Config, logger *log.Logger) *LogHook {
	return &LogHook{base: base{name: cfg.Name, events: cfg.Events}, logger: log.OrDefault(logger)}
}

func (h *LogHook) Execute(ctx context.Context, event *Event) error {
	args := []any{"event", string(event.Type), "run_id", event.RunID}
	for k, v := range event.Data {
		args = append(args, k, v)
	}
	h.logger.InfoContext(ctx, "lifecycle event", args...)
	return nil
}
