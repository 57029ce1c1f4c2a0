package manifest

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// Validate checks if the Component is valid
func (c *Component) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return fmt.Errorf("invalid component ID: %w", err)
	}

	if strings.TrimSpace(c.File) == "" {
		return fmt.Errorf("file cannot be empty")
	}

	if err := c.Complexity.Validate(); err != nil {
		return err
	}

	for i, dep := range c.DependsOn {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("dependency at index %d is invalid: %w", i, err)
		}
	}

	return nil
}

// Validate checks the manifest structure and resolves the dependency graph.
// Structural problems are reported as CONFIG-001; unknown dependencies and
// cycles are reported through their typed errors.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.NewManifestInvalidError("name cannot be empty")
	}

	if strings.TrimSpace(m.ProjectID) == "" {
		return errors.NewManifestInvalidError("project_id cannot be empty")
	}

	if err := m.RiskLevel.Validate(); err != nil {
		return errors.NewManifestInvalidError(err.Error())
	}

	if m.Complexity < 1 || m.Complexity > 10 {
		return errors.NewManifestInvalidError(fmt.Sprintf("complexity must be between 1 and 10, got %d", m.Complexity))
	}

	switch m.Execution.Parallelism {
	case ParallelismParallel, ParallelismSequential:
	default:
		return errors.NewManifestInvalidError(fmt.Sprintf("execution.parallelism must be parallel or sequential, got %q", m.Execution.Parallelism))
	}

	if m.Execution.Reviewers < 0 {
		return errors.NewManifestInvalidError(fmt.Sprintf("execution.reviewers cannot be negative, got %d", m.Execution.Reviewers))
	}

	if len(m.Components) == 0 {
		return errors.NewManifestInvalidError("manifest must have at least one component")
	}

	ids := make(map[domain.ComponentID]bool, len(m.Components))
	for i := range m.Components {
		c := &m.Components[i]
		if err := c.Validate(); err != nil {
			return errors.NewManifestInvalidError(fmt.Sprintf("component at index %d (%s): %v", i, c.ID, err))
		}
		if ids[c.ID] {
			return errors.NewManifestInvalidError(fmt.Sprintf("duplicate component ID %q at index %d", c.ID, i))
		}
		ids[c.ID] = true
	}

	if _, err := m.ExecutionOrder(); err != nil {
		return err
	}

	return nil
}
