package ux

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/health"
	"github.com/felixgeelhaar/orchestra/internal/manifest"
	"github.com/felixgeelhaar/orchestra/internal/pipeline"
	"github.com/felixgeelhaar/orchestra/internal/state"
	"github.com/felixgeelhaar/orchestra/internal/workflow"
)

// maxDiscoveries is how many of the latest discoveries the status view shows.
const maxDiscoveries = 5

// StatusView is the output of `orchestra status` and `checkpoint show`.
type StatusView struct {
	Label  string               `json:"label,omitempty" yaml:"label,omitempty"`
	State  *state.WorkflowState `json:"state" yaml:"state"`
	Phases []workflow.Phase     `json:"-" yaml:"-"`
}

// RenderText implements TextRenderer.
func (v StatusView) RenderText(w io.Writer, s Styles) error {
	st := v.State
	if st == nil {
		_, err := fmt.Fprintln(w, s.Muted.Render("No run recorded yet. Start one with 'orchestra run --manifest <file>'."))
		return err
	}

	title := "Run " + st.RunID
	if v.Label != "" {
		title = fmt.Sprintf("Checkpoint %s (run %s)", v.Label, st.RunID)
	}
	fmt.Fprintln(w, s.Title.Render(title))
	fmt.Fprintf(w, "%s %s\n", s.Label.Render("Workflow:"), st.Workflow)
	fmt.Fprintf(w, "%s %s\n", s.Label.Render("Status:  "), s.RunBadge(st.Status))
	if st.CurrentPhase != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", s.Label.Render("Phase:   "), st.CurrentPhase, s.PhaseBadge(st.PhaseStatus))
	}
	if st.DryRun {
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("Mode:    "), s.Warning.Render("dry run"))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("Error:   "), s.Error.Render(st.LastError))
	}
	if esc := st.Escalation; esc != nil && esc.Prompt != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", s.Warning.Render("Decision needed:"), esc.Prompt)
	}

	fmt.Fprintln(w)
	phases := table.NewWriter()
	phases.SetOutputMirror(w)
	phases.SetStyle(table.StyleLight)
	phases.AppendHeader(table.Row{"Phase", "Status"})
	for _, name := range v.phaseNames() {
		phases.AppendRow(table.Row{name, s.PhaseBadge(st.PhaseStatusOf(name))})
	}
	phases.Render()

	if len(st.Components) > 0 {
		fmt.Fprintln(w)
		renderComponents(w, st, s)
	}

	if n := len(st.Discoveries); n > 0 {
		fmt.Fprintf(w, "\n%s\n", s.Title.Render("Latest discoveries"))
		from := 0
		if n > maxDiscoveries {
			from = n - maxDiscoveries
		}
		for _, d := range st.Discoveries[from:] {
			fmt.Fprintf(w, "  %s %s\n", s.Muted.Render(fmt.Sprintf("[%s/%s]", d.Phase, d.Source)), d.Content)
		}
	}
	return nil
}

// phaseNames lists the configured phases, then any recorded phase that is
// no longer configured.
func (v StatusView) phaseNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range v.Phases {
		seen[p.Name] = true
		names = append(names, p.Name)
	}
	var extra []string
	for name := range v.State.Phases {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func renderComponents(w io.Writer, st *state.WorkflowState, s Styles) {
	ids := make([]domain.ComponentID, 0, len(st.Components))
	for id := range st.Components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Component", "Status", "Validations", "Fixes", "Blocking", "Commits", "Note"})
	for _, id := range ids {
		c := st.Components[id]
		note := c.LastError
		if c.Escalation != nil {
			note = c.Escalation.Reason
		}
		tw.AppendRow(table.Row{
			id,
			s.ComponentBadge(c.Status),
			c.ValidationAttempts,
			c.FixAttempts,
			len(domain.BlockingIssues(c.Issues)),
			len(c.Commits),
			note,
		})
	}
	tw.Render()
}

// PlanView is the output of `orchestra plan`.
type PlanView struct {
	Manifest  *manifest.Manifest   `json:"manifest" yaml:"manifest"`
	Order     []manifest.Component `json:"order" yaml:"order"`
	Phases    []PlannedPhase       `json:"phases" yaml:"phases"`
	Fragments []string             `json:"-" yaml:"-"`
}

// PlannedPhase is a phase with its skip decision for the manifest.
type PlannedPhase struct {
	Name    string `json:"name" yaml:"name"`
	Handler string `json:"handler" yaml:"handler"`
	Skipped bool   `json:"skipped" yaml:"skipped"`
	SkipIf  string `json:"skip_if,omitempty" yaml:"skip_if,omitempty"`
}

// NewPlanView evaluates each phase's skip condition against m.
func NewPlanView(m *manifest.Manifest, order []manifest.Component, phases []workflow.Phase, fragments []string, dryRun bool) PlanView {
	vars := workflow.Variables(m, nil, dryRun)
	planned := make([]PlannedPhase, len(phases))
	for i, p := range phases {
		planned[i] = PlannedPhase{
			Name:    p.Name,
			Handler: p.HandlerName(),
			Skipped: p.SkipIf != "" && workflow.EvaluateSkip(p.SkipIf, vars),
			SkipIf:  p.SkipIf,
		}
	}
	return PlanView{Manifest: m, Order: order, Phases: planned, Fragments: fragments}
}

// RenderText implements TextRenderer.
func (v PlanView) RenderText(w io.Writer, s Styles) error {
	m := v.Manifest
	fmt.Fprintln(w, s.Title.Render("Plan for "+m.Name))
	fmt.Fprintf(w, "%s %s   %s %d   %s %s\n",
		s.Label.Render("Risk:"), m.RiskLevel,
		s.Label.Render("Complexity:"), m.Complexity,
		s.Label.Render("Execution:"), m.Execution.Parallelism)

	fmt.Fprintln(w)
	phases := table.NewWriter()
	phases.SetOutputMirror(w)
	phases.SetStyle(table.StyleLight)
	phases.AppendHeader(table.Row{"Phase", "Handler", "Runs"})
	for _, p := range v.Phases {
		runs := s.Success.Render("yes")
		if p.Skipped {
			runs = s.Muted.Render("skipped: " + p.SkipIf)
		}
		phases.AppendRow(table.Row{p.Name, p.Handler, runs})
	}
	phases.Render()

	fmt.Fprintln(w)
	order := table.NewWriter()
	order.SetOutputMirror(w)
	order.SetStyle(table.StyleLight)
	order.AppendHeader(table.Row{"#", "Component", "File", "Depends on", "Complexity", "Tier"})
	for i, c := range v.Order {
		deps := make([]string, len(c.DependsOn))
		for j, d := range c.DependsOn {
			deps[j] = string(d)
		}
		tier := pipeline.SelectTier(m.RiskLevel, c.Complexity, c.File, v.Fragments)
		order.AppendRow(table.Row{i + 1, c.ID, c.File, strings.Join(deps, ", "), c.Complexity, tier})
	}
	order.Render()
	return nil
}

// CheckpointsView is the output of `orchestra checkpoint list`.
type CheckpointsView struct {
	Labels []string `json:"checkpoints" yaml:"checkpoints"`
}

// RenderText implements TextRenderer.
func (v CheckpointsView) RenderText(w io.Writer, s Styles) error {
	if len(v.Labels) == 0 {
		_, err := fmt.Fprintln(w, s.Muted.Render("No checkpoints."))
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Checkpoint"})
	for _, l := range v.Labels {
		tw.AppendRow(table.Row{l})
	}
	tw.Render()
	return nil
}

// HistoryView is the output of `orchestra status --history`.
type HistoryView struct {
	Snapshots []*state.WorkflowState `json:"snapshots" yaml:"snapshots"`
}

// RenderText implements TextRenderer.
func (v HistoryView) RenderText(w io.Writer, s Styles) error {
	if len(v.Snapshots) == 0 {
		_, err := fmt.Fprintln(w, s.Muted.Render("No history recorded."))
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Updated", "Phase", "Phase status", "Run", "Complete"})
	for i, st := range v.Snapshots {
		tw.AppendRow(table.Row{
			i + 1,
			st.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
			st.CurrentPhase,
			s.PhaseBadge(st.PhaseStatus),
			s.RunBadge(st.Status),
			fmt.Sprintf("%d/%d", len(st.ComponentsWithStatus(state.ComponentComplete)), len(st.Components)),
		})
	}
	tw.Render()
	return nil
}

// DoctorView is the output of `orchestra doctor`.
type DoctorView struct {
	Overall health.Status    `json:"overall" yaml:"overall"`
	Checks  []*health.Result `json:"checks" yaml:"checks"`
}

// RenderText implements TextRenderer.
func (v DoctorView) RenderText(w io.Writer, s Styles) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Check", "Status", "Message"})
	for _, r := range v.Checks {
		msg := r.Message
		if hint, ok := r.Details["suggestion"].(string); ok {
			msg += "\n" + s.Muted.Render(hint)
		}
		tw.AppendRow(table.Row{r.Name, s.HealthBadge(r.Status), msg})
	}
	tw.Render()
	_, err := fmt.Fprintf(w, "%s %s\n", s.Label.Render("Overall:"), s.HealthBadge(v.Overall))
	return err
}
