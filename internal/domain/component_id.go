package domain

import (
	"fmt"
	"regexp"
)

// ComponentID identifies one unit of deliverable work inside a manifest.
type ComponentID string

var (
	// componentIDPattern allows letters, digits, dots, underscores and hyphens.
	// The first character must be a letter or digit.
	componentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	maxComponentIDLength = 100
)

// NewComponentID creates a new ComponentID value object with validation
func NewComponentID(value string) (ComponentID, error) {
	id := ComponentID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks if the component ID is valid
func (c ComponentID) Validate() error {
	s := string(c)

	if s == "" {
		return fmt.Errorf("component ID cannot be empty")
	}

	if len(s) > maxComponentIDLength {
		return fmt.Errorf("component ID %q exceeds maximum length of %d characters", s, maxComponentIDLength)
	}

	if !componentIDPattern.MatchString(s) {
		return fmt.Errorf("component ID %q must start with a letter or digit and contain only letters, digits, '.', '_' and '-'", s)
	}

	return nil
}

// String returns the string representation
func (c ComponentID) String() string {
	return string(c)
}
