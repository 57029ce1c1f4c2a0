package ux

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/orchestra/internal/health"
	"github.com/felixgeelhaar/orchestra/internal/state"
)

// Styles contains the lipgloss styles of the text output.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Active  lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")), // Purple
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),           // Gray
		Success: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")), // Green
		Warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")), // Cyan
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:   plain,
		Label:   plain,
		Success: plain,
		Warning: plain,
		Error:   plain,
		Active:  plain,
		Muted:   plain,
	}
}

// RunBadge renders a run status.
func (s Styles) RunBadge(status state.RunStatus) string {
	switch status {
	case state.RunComplete:
		return s.Success.Render("✓ complete")
	case state.RunBlocked:
		return s.Error.Render("✗ blocked")
	case state.RunRunning:
		return s.Active.Render("● running")
	default:
		return s.Muted.Render(string(status))
	}
}

// PhaseBadge renders a phase status.
func (s Styles) PhaseBadge(status state.PhaseStatus) string {
	switch status {
	case state.PhaseComplete:
		return s.Success.Render("complete")
	case state.PhaseInProgress:
		return s.Active.Render("in progress")
	case state.PhaseBlocked:
		return s.Error.Render("blocked")
	case state.PhaseSkipped:
		return s.Muted.Render("skipped")
	case "", state.PhaseNotStarted:
		return s.Muted.Render("pending")
	default:
		return string(status)
	}
}

// ComponentBadge renders a component status.
func (s Styles) ComponentBadge(status state.ComponentStatus) string {
	switch status {
	case state.ComponentComplete:
		return s.Success.Render("complete")
	case state.ComponentBlocked:
		return s.Error.Render("blocked")
	case state.ComponentFixing:
		return s.Warning.Render("fixing")
	case "", state.ComponentNotStarted:
		return s.Muted.Render("pending")
	default:
		return s.Active.Render(string(status))
	}
}

// HealthBadge renders a preflight check status.
func (s Styles) HealthBadge(status health.Status) string {
	switch status {
	case health.StatusHealthy:
		return s.Success.Render("✓ healthy")
	case health.StatusDegraded:
		return s.Warning.Render("! degraded")
	default:
		return s.Error.Render("✗ unhealthy")
	}
}
