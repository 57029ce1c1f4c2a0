package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

func TestReviewerCount(t *testing.T) {
	tests := []struct {
		name    string
		risk    domain.RiskLevel
		base    int
		purpose string
		want    int
	}{
		{"low baseline", domain.RiskLow, 0, "render reports", 2},
		{"medium baseline", domain.RiskMedium, 0, "render reports", 4},
		{"high baseline", domain.RiskHigh, 0, "render reports", 6},
		{"critical baseline", domain.RiskCritical, 0, "render reports", 6},
		{"public api endpoint", domain.RiskMedium, 0, "public API endpoint", 5},
		{"auth keyword", domain.RiskLow, 0, "OAuth token exchange", 3},
		{"manifest override", domain.RiskHigh, 3, "render reports", 3},
		{"override plus keyword", domain.RiskHigh, 3, "login form", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReviewerCount(tt.risk, tt.base, tt.purpose, DefaultSecurityKeywords))
		})
	}
}

func TestReviewerCountAuthAddsExactlyOne(t *testing.T) {
	for _, risk := range []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical} {
		plain := ReviewerCount(risk, 0, "formats dates", DefaultSecurityKeywords)
		withAuth := ReviewerCount(risk, 0, "formats dates for auth", DefaultSecurityKeywords)
		assert.Equal(t, plain+1, withAuth, "risk %s", risk)
	}
}

func TestSettingsDefaultsAndValidate(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts)
	assert.Equal(t, DefaultSameIssueThreshold, s.SameIssueThreshold)
	assert.Equal(t, DefaultRepeatOverlap, s.RepeatOverlap)
	assert.Equal(t, "validator", s.ValidatorAgent)
	assert.NoError(t, s.Validate())

	assert.Error(t, Settings{RepeatOverlap: 1.5}.Validate())
	assert.Error(t, Settings{RepeatOverlap: math.NaN()}.Validate())
	assert.Equal(t, DefaultRepeatOverlap, Settings{RepeatOverlap: math.NaN()}.withDefaults().RepeatOverlap)
	assert.Error(t, Settings{MaxAttempts: -1}.Validate())
}

func TestFixTier(t *testing.T) {
	assert.Equal(t, domain.TierStandard, FixTier(1))
	assert.Equal(t, domain.TierAdvanced, FixTier(2))
	assert.Equal(t, domain.TierAdvanced, FixTier(3))
}
