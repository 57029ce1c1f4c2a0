package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/orchestra/internal/log"
)

// Registry holds the configured hooks and fires events at them.
type Registry struct {
	mu        sync.RWMutex
	bindings  map[EventType][]binding
	factories map[string]Factory
	logger    *log.Logger
	limit     int
}

// NewRegistry creates a registry with the built-in hook types registered.
func NewRegistry(logger *log.Logger) *Registry {
	r := &Registry{
		bindings:  make(map[EventType][]binding),
		factories: make(map[string]Factory),
		logger:    log.OrDefault(logger).With("component", "hooks"),
		limit:     DefaultMaxConcurrency,
	}
	r.RegisterFactory("script", NewScriptHook)
	r.RegisterFactory("webhook", NewWebhookHook)
	r.RegisterFactory("log", func(cfg Config) (Hook, error) { return NewLogHook(cfg, r.logger), nil })
	return r
}

// RegisterFactory adds or replaces a hook type.
func (r *Registry) RegisterFactory(hookType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register binds hook to the events it declares. cfg supplies the timeout
// and failure mode.
func (r *Registry) Register(hook Hook, cfg Config) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range hook.Events() {
		r.bindings[e] = append(r.bindings[e], binding{hook: hook, cfg: cfg})
	}
	return nil
}

// Load validates and registers every enabled declaration.
func (r *Registry) Load(configs []Config) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.mu.RLock()
		factory, ok := r.factories[cfg.Type]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("hook %s: unknown hook type %q", cfg.Name, cfg.Type)
		}
		hook, err := factory(cfg)
		if err != nil {
			return fmt.Errorf("failed to create hook %s: %w", cfg.Name, err)
		}
		if err := r.Register(hook, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of distinct hooks registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, bs := range r.bindings {
		for _, b := range bs {
			seen[b.hook.Name()] = true
		}
	}
	return len(seen)
}

// Fire runs every hook bound to event.Type and applies their failure modes.
// It returns an error only when a hook with failure mode "fail" failed.
// A nil registry fires nothing.
func (r *Registry) Fire(ctx context.Context, event *Event) ([]Result, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	bindings := append([]binding(nil), r.bindings[event.Type]...)
	r.mu.RUnlock()
	if len(bindings) == 0 {
		return nil, nil
	}

	results := execute(ctx, bindings, event, r.limit)

	var failed error
	for i, res := range results {
		if res.Success {
			continue
		}
		args := []any{"hook", res.Hook, "event", string(res.Event), "error", res.Error, "duration", res.Duration}
		switch bindings[i].cfg.failureMode() {
		case FailureIgnore:
			r.logger.Debug("hook failed", args...)
		case FailureFail:
			r.logger.Error("hook failed", args...)
			if failed == nil {
				failed = fmt.Errorf("hook %s failed on %s: %s", res.Hook, res.Event, res.Error)
			}
		default:
			r.logger.Warn("hook failed", args...)
		}
	}
	return results, failed
}
