package ux

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// FormatError renders err for the terminal. Coded errors show their code,
// cause and suggestions on separate lines.
func FormatError(err error, s Styles) string {
	if err == nil {
		return ""
	}

	var oe *errors.OrchestraError
	if !stderrors.As(err, &oe) {
		return s.Error.Render("Error:") + " " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Error.Render(fmt.Sprintf("Error [%s]:", oe.Code)), oe.Message)
	if oe.Cause != nil {
		fmt.Fprintf(&b, "\n  %s %v", s.Label.Render("cause:"), oe.Cause)
	}
	if len(oe.Suggestions) > 0 {
		fmt.Fprintf(&b, "\n\n%s", s.Title.Render("Suggestions:"))
		for _, suggestion := range oe.Suggestions {
			fmt.Fprintf(&b, "\n  • %s", suggestion)
		}
	}
	if oe.DocsURL != "" {
		fmt.Fprintf(&b, "\n\n%s %s", s.Label.Render("Documentation:"), oe.DocsURL)
	}
	return b.String()
}
