package pipeline

import (
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

// DefaultSharedPathFragments mark files that many components build on.
var DefaultSharedPathFragments = []string{"common/", "helpers/", "utils/", "util/", "shared/", "lib/", "pkg/"}

// SelectTier picks the capability tier for skeleton and implementation
// calls. Any one of elevated risk, high complexity or a shared file path
// selects the advanced tier.
func SelectTier(risk domain.RiskLevel, complexity domain.Complexity, file string, fragments []string) domain.Tier {
	if risk.IsElevated() || complexity == domain.ComplexityHigh || IsSharedPath(file, fragments) {
		return domain.TierAdvanced
	}
	return domain.TierStandard
}

// IsSharedPath reports whether file lies under a directory named by one of
// fragments. Matching is by whole path segment and case-insensitive.
func IsSharedPath(file string, fragments []string) bool {
	if file == "" {
		return false
	}
	p := "/" + strings.ToLower(toSlash(file))
	for _, f := range fragments {
		f = strings.ToLower(strings.Trim(toSlash(f), "/"))
		if f == "" {
			continue
		}
		if strings.Contains(p, "/"+f+"/") {
			return true
		}
	}
	return false
}

// toSlash normalizes backslashes regardless of the host OS.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
