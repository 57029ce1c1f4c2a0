// Package tui holds the interactive prompts: resolving an escalated phase
// and confirming destructive commands.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// ciVariables disable prompting when any of them is set.
var ciVariables = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"}

func runField(ctx context.Context, field huh.Field) error {
	if err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

// PromptForConfirmation asks a yes/no question.
func PromptForConfirmation(ctx context.Context, message string, defaultValue bool) (bool, error) {
	confirmed := defaultValue
	if err := runField(ctx, huh.NewConfirm().Title(message).Value(&confirmed)); err != nil {
		return false, err
	}
	return confirmed, nil
}

// PromptForSelect asks the user to pick one of options.
func PromptForSelect(ctx context.Context, title, description string, options []string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("no options provided")
	}
	var selected string
	field := huh.NewSelect[string]().
		Title(title).
		Description(description).
		Options(huh.NewOptions(options...)...).
		Value(&selected)
	if err := runField(ctx, field); err != nil {
		return "", err
	}
	return selected, nil
}

// PromptForText asks for a free-form answer.
func PromptForText(ctx context.Context, title, description string) (string, error) {
	var value string
	if err := runField(ctx, huh.NewText().Title(title).Description(description).Value(&value)); err != nil {
		return "", err
	}
	return value, nil
}

// ShouldPrompt reports whether stdin is a terminal outside CI.
func ShouldPrompt() bool {
	for _, name := range ciVariables {
		if os.Getenv(name) != "" {
			return false
		}
	}
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
