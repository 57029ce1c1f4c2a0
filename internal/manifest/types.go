package manifest

import (
	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// Parallelism controls whether fan-out calls of a run execute concurrently.
type Parallelism string

const (
	ParallelismParallel   Parallelism = "parallel"
	ParallelismSequential Parallelism = "sequential"
)

// Manifest is the static description of a unit of work.
// It is immutable once loaded and validated before any execution begins.
type Manifest struct {
	Name       string            `yaml:"name" json:"name"`
	ProjectID  string            `yaml:"project_id" json:"project_id"`
	NewProject bool              `yaml:"new_project,omitempty" json:"new_project,omitempty"`
	Goal       string            `yaml:"goal,omitempty" json:"goal,omitempty"`
	Components []Component       `yaml:"components" json:"components"`
	Execution  Execution         `yaml:"execution" json:"execution"`
	Quality    Quality           `yaml:"quality,omitempty" json:"quality,omitempty"`
	Complexity int               `yaml:"complexity" json:"complexity"` // 1-10
	RiskLevel  domain.RiskLevel  `yaml:"risk_level" json:"risk_level"`
	Metadata   map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Component is one unit of deliverable work with its own sub-pipeline.
type Component struct {
	ID         domain.ComponentID   `yaml:"id" json:"id"`
	File       string               `yaml:"file" json:"file"`
	DependsOn  []domain.ComponentID `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Complexity domain.Complexity    `yaml:"complexity" json:"complexity"`
	Purpose    string               `yaml:"purpose,omitempty" json:"purpose,omitempty"`
}

// Execution holds run-wide execution settings.
type Execution struct {
	Parallelism   Parallelism `yaml:"parallelism" json:"parallelism"`
	Reviewers     int         `yaml:"reviewers,omitempty" json:"reviewers,omitempty"` // 0 = scale by risk
	TestsRequired bool        `yaml:"tests_required,omitempty" json:"tests_required,omitempty"`
}

// Quality holds the thresholds forwarded to implementers and validators.
type Quality struct {
	MinTestCoverage int `yaml:"min_test_coverage,omitempty" json:"min_test_coverage,omitempty"`
	MaxMinorIssues  int `yaml:"max_minor_issues,omitempty" json:"max_minor_issues,omitempty"`
}

// Component returns the component with the given id.
func (m *Manifest) Component(id domain.ComponentID) (Component, bool) {
	for _, c := range m.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// DependencyCount returns the total number of dependency edges.
func (m *Manifest) DependencyCount() int {
	n := 0
	for _, c := range m.Components {
		n += len(c.DependsOn)
	}
	return n
}

// IsSequential reports whether fan-out calls must run one at a time.
func (m *Manifest) IsSequential() bool {
	return m.Execution.Parallelism == ParallelismSequential
}

// applyDefaults fills optional fields left empty in the source document.
func (m *Manifest) applyDefaults() {
	if m.RiskLevel == "" {
		m.RiskLevel = domain.RiskMedium
	}
	if m.Complexity == 0 {
		m.Complexity = 5
	}
	if m.Execution.Parallelism == "" {
		m.Execution.Parallelism = ParallelismParallel
	}
	for i := range m.Components {
		if m.Components[i].Complexity == "" {
			m.Components[i].Complexity = domain.ComplexityMedium
		}
	}
}
