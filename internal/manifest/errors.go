package manifest

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// UnknownDependencyError reports a dependency id that names no component.
type UnknownDependencyError struct {
	Component string
	Missing   string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("component %q depends on unknown component %q", e.Component, e.Missing)
}

// Unwrap exposes the coded configuration error for exit-code mapping.
func (e *UnknownDependencyError) Unwrap() error {
	return errors.New(errors.ErrCodeUnknownDependency, e.Error()).
		WithSuggestion("Declare the missing component or remove it from depends_on")
}

// CycleDetectedError reports the components that could not be ordered.
// Unresolved is sorted so the error is reproducible.
type CycleDetectedError struct {
	Unresolved []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected among components: %s", strings.Join(e.Unresolved, ", "))
}

// Unwrap exposes the coded configuration error for exit-code mapping.
func (e *CycleDetectedError) Unwrap() error {
	return errors.New(errors.ErrCodeDependencyCycle, e.Error()).
		WithSuggestion("Break the cycle by removing one of the depends_on edges")
}
