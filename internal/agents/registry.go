// Package agents holds the agent-definition registry: which agents exist, the
// structured-output contract each must satisfy and the capability tier it
// defaults to. The registry is an explicit object built at startup and passed
// to the pieces that need lookups.
package agents

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
	"github.com/felixgeelhaar/orchestra/internal/invoker"
)

//go:embed schemas/*.json
var builtinSchemas embed.FS

// Definition describes one agent.
type Definition struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Schema      string      `yaml:"schema,omitempty" json:"schema,omitempty"`
	Tier        domain.Tier `yaml:"tier,omitempty" json:"tier,omitempty"`
}

// Registry maps agent names to definitions and schema names to compiled schemas.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]Definition
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns a registry with the built-in schemas compiled and no agents.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		agents:  make(map[string]Definition),
		schemas: make(map[string]*jsonschema.Schema),
	}

	for _, name := range []string{invoker.SchemaVote, invoker.SchemaIssues, invoker.SchemaStatus, invoker.SchemaIntegration} {
		doc, err := builtinSchemas.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read builtin schema %s: %w", name, err)
		}
		if err := r.RegisterSchema(name, string(doc)); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Default returns a registry holding the built-in agents used by the default workflow.
func Default() (*Registry, error) {
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, def := range DefaultDefinitions() {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultDefinitions lists the built-in agents.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "analyst", Description: "Analyzes the existing codebase", Schema: invoker.SchemaStatus},
		{Name: "planner", Description: "Breaks the goal into an implementation plan", Schema: invoker.SchemaStatus},
		{Name: "security_reviewer", Description: "Reviews the plan for security risks", Schema: invoker.SchemaIssues, Tier: domain.TierAdvanced},
		{Name: "architect", Description: "Proposes the component architecture", Schema: invoker.SchemaStatus, Tier: domain.TierAdvanced},
		{Name: "skeleton", Description: "Writes the component skeleton", Schema: invoker.SchemaStatus},
		{Name: "implementer", Description: "Implements a component", Schema: invoker.SchemaStatus},
		{Name: "validator", Description: "Reviews a component and reports issues", Schema: invoker.SchemaIssues},
		{Name: "fixer", Description: "Fixes reported issues", Schema: invoker.SchemaStatus},
		{Name: "voter", Description: "Votes on a decision", Schema: invoker.SchemaVote},
		{Name: "integration_validator", Description: "Checks the components as a whole", Schema: invoker.SchemaIntegration, Tier: domain.TierAdvanced},
		{Name: "documenter", Description: "Writes documentation", Schema: invoker.SchemaStatus},
	}
}

// RegisterSchema compiles doc (JSON Schema draft 2020-12) under name.
func (r *Registry) RegisterSchema(name, doc string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://orchestra.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return errors.Wrap(errors.ErrCodeSchemaInvalid, fmt.Sprintf("load schema %s", name), err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSchemaInvalid, fmt.Sprintf("compile schema %s", name), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = compiled
	return nil
}

// Register adds or replaces an agent definition. Its schema must already be registered.
func (r *Registry) Register(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "agent name cannot be empty")
	}
	if def.Tier != "" {
		if err := def.Tier.Validate(); err != nil {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("agent %s: %v", def.Name, err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Schema != "" {
		if _, ok := r.schemas[def.Schema]; !ok {
			return errors.New(errors.ErrCodeSchemaInvalid, fmt.Sprintf("agent %s references unknown schema %q", def.Name, def.Schema))
		}
	}
	r.agents[def.Name] = def
	return nil
}

// Lookup returns the definition of the named agent.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[name]
	return def, ok
}

// Has reports whether an agent is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePayload checks payload against the named schema.
func (r *Registry) ValidatePayload(schema string, payload json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.schemas[schema]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return compiled.Validate(doc)
}
