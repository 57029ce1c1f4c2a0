package pipeline

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/manifest"
)

func describe(b *strings.Builder, m *manifest.Manifest, c manifest.Component) {
	fmt.Fprintf(b, "Project: %s\n", m.Name)
	if m.Goal != "" {
		fmt.Fprintf(b, "Goal: %s\n", m.Goal)
	}
	fmt.Fprintf(b, "\nComponent: %s\nFile: %s\nComplexity: %s\n", c.ID, c.File, c.Complexity)
	if c.Purpose != "" {
		fmt.Fprintf(b, "Purpose: %s\n", c.Purpose)
	}
	if len(c.DependsOn) > 0 {
		b.WriteString("Builds on:\n")
		for _, dep := range c.DependsOn {
			if d, ok := m.Component(dep); ok {
				fmt.Fprintf(b, "  - %s (%s)\n", d.ID, d.File)
			}
		}
	}
}

func skeletonPrompt(m *manifest.Manifest, c manifest.Component) string {
	var b strings.Builder
	describe(&b, m, c)
	b.WriteString("\nCreate the skeleton: types, signatures and stubs only, no behaviour. ")
	b.WriteString("Keep the public surface minimal and consistent with the components it builds on.\n")
	b.WriteString("\nRespond with JSON: {\"status\": \"complete\"|\"failed\", \"summary\": <text>, \"files\": [<path>], \"discoveries\": [<text>]}.")
	return b.String()
}

func implementationPrompt(m *manifest.Manifest, c manifest.Component) string {
	var b strings.Builder
	describe(&b, m, c)
	b.WriteString("\nImplement the component on top of its skeleton.\n")
	if m.Execution.TestsRequired {
		b.WriteString("Write tests alongside the implementation.\n")
	}
	if q := m.Quality.MinTestCoverage; q > 0 {
		fmt.Fprintf(&b, "Minimum test coverage: %d%%\n", q)
	}
	b.WriteString("\nRespond with JSON: {\"status\": \"complete\"|\"failed\", \"summary\": <text>, \"files\": [<path>], \"discoveries\": [<text>]}.")
	return b.String()
}
