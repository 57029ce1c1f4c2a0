package domain

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func genRiskLevel() *rapid.Generator[RiskLevel] {
	return rapid.SampledFrom([]RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical})
}

// TestRiskLevel_ReviewersMonotonic checks that a higher risk never gets fewer reviewers
func TestRiskLevel_ReviewersMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genRiskLevel().Draw(t, "a")
		b := genRiskLevel().Draw(t, "b")

		if a.IsHigherThan(b) && a.BaselineReviewers() < b.BaselineReviewers() {
			t.Fatalf("%s has fewer reviewers than %s", a, b)
		}
	})
}

// TestNormalizeText_Idempotent checks that normalizing twice changes nothing
func TestNormalizeText_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[A-Za-z0-9 .,!?\t]{0,40}`).Draw(t, "text")
		once := NormalizeText(s)
		if twice := NormalizeText(once); twice != once {
			t.Fatalf("NormalizeText not idempotent: %q -> %q -> %q", s, once, twice)
		}
	})
}

// TestNormalizeText_CaseInsensitive checks that case never affects the key
func TestNormalizeText_CaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[A-Za-z ]{0,30}`).Draw(t, "text")
		if NormalizeText(strings.ToUpper(s)) != NormalizeText(strings.ToLower(s)) {
			t.Fatalf("case changed normalization of %q", s)
		}
	})
}

// TestComponentID_GeneratedIDsValidate checks the accepted alphabet
func TestComponentID_GeneratedIDsValidate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[a-z0-9][a-z0-9._-]{0,30}`).Draw(t, "id")
		if err := ComponentID(s).Validate(); err != nil {
			t.Fatalf("generated id %q should validate: %v", s, err)
		}
	})
}
