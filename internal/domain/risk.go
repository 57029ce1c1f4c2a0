package domain

import "fmt"

// RiskLevel is the coarse classification of a unit of work.
// It scales reviewer count and capability tier.
type RiskLevel string

// Valid risk levels
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// NewRiskLevel creates a new RiskLevel value object with validation
func NewRiskLevel(value string) (RiskLevel, error) {
	r := RiskLevel(value)
	if err := r.Validate(); err != nil {
		return "", err
	}
	return r, nil
}

// Validate checks if the risk level is valid
func (r RiskLevel) Validate() error {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return nil
	default:
		return fmt.Errorf("invalid risk level %q: must be low, medium, high, or critical", string(r))
	}
}

// String returns the string representation
func (r RiskLevel) String() string {
	return string(r)
}

// IsElevated reports whether the risk level is high or critical.
func (r RiskLevel) IsElevated() bool {
	return r == RiskHigh || r == RiskCritical
}

// BaselineReviewers returns the number of validators dispatched for this risk level
// before any purpose-based adjustment.
func (r RiskLevel) BaselineReviewers() int {
	switch r {
	case RiskLow:
		return 2
	case RiskMedium:
		return 4
	case RiskHigh, RiskCritical:
		return 6
	default:
		return 4
	}
}

// IsHigherThan checks if this risk level is higher than another
func (r RiskLevel) IsHigherThan(other RiskLevel) bool {
	return riskRank(r) > riskRank(other)
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Complexity is the per-component complexity tier.
type Complexity string

// Valid complexity tiers
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// NewComplexity creates a new Complexity value object with validation
func NewComplexity(value string) (Complexity, error) {
	c := Complexity(value)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate checks if the complexity is valid
func (c Complexity) Validate() error {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return nil
	default:
		return fmt.Errorf("invalid complexity %q: must be low, medium, or high", string(c))
	}
}

// String returns the string representation
func (c Complexity) String() string {
	return string(c)
}

// Tier selects the higher- or lower-capability mode of an invocation.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

// Validate checks if the tier is valid
func (t Tier) Validate() error {
	switch t {
	case TierStandard, TierAdvanced:
		return nil
	default:
		return fmt.Errorf("invalid capability tier %q: must be standard or advanced", string(t))
	}
}

// String returns the string representation
func (t Tier) String() string {
	return string(t)
}

// OrDefault returns TierStandard for the zero value.
func (t Tier) OrDefault() Tier {
	if t == "" {
		return TierStandard
	}
	return t
}
