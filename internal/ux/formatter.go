// Package ux renders command output: run status, execution plans and
// checkpoints as styled tables, or as JSON/YAML for scripts.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formats lists the values accepted by --output.
var Formats = []string{"text", "json", "yaml"}

// Formatter writes a value in one output format.
type Formatter interface {
	Format(data any) error
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(data any) error

// Format calls f(data).
func (f FormatterFunc) Format(data any) error { return f(data) }

// TextRenderer is implemented by views with a human-readable form.
type TextRenderer interface {
	RenderText(w io.Writer, styles Styles) error
}

// FormatterOptions configures NewFormatter. A nil Writer means os.Stdout.
type FormatterOptions struct {
	Writer  io.Writer
	NoColor bool
	// Compact drops indentation from JSON and YAML.
	Compact bool
}

// NewFormatter returns the formatter for format; the empty string means text.
func NewFormatter(format string, opts *FormatterOptions) (Formatter, error) {
	var o FormatterOptions
	if opts != nil {
		o = *opts
	}
	if o.Writer == nil {
		o.Writer = os.Stdout
	}

	switch format {
	case "json":
		return FormatterFunc(func(data any) error {
			enc := json.NewEncoder(o.Writer)
			if !o.Compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(data)
		}), nil
	case "yaml":
		return FormatterFunc(func(data any) error {
			enc := yaml.NewEncoder(o.Writer)
			if !o.Compact {
				enc.SetIndent(2)
			}
			if err := enc.Encode(data); err != nil {
				return err
			}
			return enc.Close()
		}), nil
	case "text", "":
		styles := DefaultStyles()
		if o.NoColor {
			styles = PlainStyles()
		}
		return FormatterFunc(func(data any) error { return renderText(o.Writer, styles, data) }), nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

func renderText(w io.Writer, styles Styles, data any) error {
	switch v := data.(type) {
	case TextRenderer:
		return v.RenderText(w, styles)
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, v.String())
		return err
	default:
		return fmt.Errorf("text output is not supported for %T; use --output json", data)
	}
}
