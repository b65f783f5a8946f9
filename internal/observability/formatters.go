// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/costs"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 8
)

// Theme holds the colors used by the printer.
type Theme struct {
	Title   lipgloss.Color
	Border  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Title:   lipgloss.Color("#5FAFD7"),
	Border:  lipgloss.Color("#6C6C6C"),
	Success: lipgloss.Color("#00D787"),
	Warning: lipgloss.Color("#FFAF00"),
	Error:   lipgloss.Color("#FF005F"),
	Hint:    lipgloss.Color("#6C6C6C"),
}

func (t Theme) boxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1).
		Width(boxWidth)
}

func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Title).Bold(true)
}

func (t Theme) statusStyle(ok, warn bool) lipgloss.Style {
	switch {
	case ok:
		return lipgloss.NewStyle().Foreground(t.Success)
	case warn:
		return lipgloss.NewStyle().Foreground(t.Warning)
	default:
		return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
	}
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// Printer handles formatted output for verbose mode
type Printer struct {
	out   io.Writer
	theme Theme
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, theme: defaultTheme}
}

// printBox prints a bordered box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	body := p.theme.titleStyle().Render(title) + "\n\n" + content
	fmt.Fprintln(p.out, p.theme.boxStyle().Render(body))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// PrintPlan outputs the research plan step by step.
func (p *Printer) PrintPlan(steps []types.PlanStep) {
	if len(steps) == 0 {
		p.printBox("RESEARCH PLAN", p.theme.hintStyle().Render("no steps: no connector can serve this target"))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d steps\n\n", len(steps)))
	for i, step := range steps {
		sb.WriteString(fmt.Sprintf("%2d. %s  [%s]\n", i+1, step.Name, step.ConnectorID))
		if len(step.SectionAffinity) > 0 {
			names := make([]string, len(step.SectionAffinity))
			for j, s := range step.SectionAffinity {
				names[j] = string(s)
			}
			sb.WriteString(fmt.Sprintf("    sections: %s\n", truncate(strings.Join(names, ", "), 60)))
		}
		if step.IsFallback() {
			sb.WriteString(p.theme.hintStyle().Render("    fallback: "+step.Metadata[types.MetaFallbackReason]) + "\n")
		}
	}
	p.printBox("RESEARCH PLAN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintResults outputs one line per executed step.
func (p *Printer) PrintResults(results []types.ConnectorResult) {
	if len(results) == 0 {
		return
	}

	var sb strings.Builder
	for _, r := range results {
		ok := r.Status == types.StatusOK
		status := p.theme.statusStyle(ok, r.Status == types.StatusTimeout).Render(fmt.Sprintf("%-7s", r.Status))
		sb.WriteString(fmt.Sprintf("%s %-28s %3d records %3d snippets %6dms\n",
			status, truncate(r.StepName, 28), len(r.Records), len(r.Snippets), r.DurationMs))
		if r.Error != "" {
			sb.WriteString(p.theme.hintStyle().Render("        "+truncate(r.Error, 60)) + "\n")
		}
	}
	p.printBox("CONNECTOR RESULTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintGraph outputs the resolved entity and its attached nodes.
func (p *Printer) PrintGraph(graph *resolution.KnowledgeGraph) {
	if graph == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Entity:   %s (%s)\n", graph.Name(), graph.TargetType))
	if c := graph.Company; c != nil {
		if c.Domain != "" {
			sb.WriteString(fmt.Sprintf("Domain:   %s (%s, %.2f)\n", c.Domain, c.DomainSource, c.DomainConfidence))
		}
		keys := c.AttributeKeys()
		if len(keys) > 0 {
			sb.WriteString("\nAttributes:\n")
			for i, k := range keys {
				if i == maxItemsToShow {
					sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(keys)-maxItemsToShow))
					break
				}
				a := c.Attributes[k]
				sb.WriteString(fmt.Sprintf("  • %s: %s (%s)\n", k, truncate(a.Value, 40), a.Provider))
			}
		}
	}

	if len(graph.People) > 0 {
		sb.WriteString(fmt.Sprintf("\nPeople: %d\n", len(graph.People)))
		count := min(len(graph.People), maxItemsToShow)
		for i := 0; i < count; i++ {
			person := graph.People[i]
			line := person.FullName
			if person.Title != "" {
				line += ", " + person.Title
			}
			sb.WriteString(fmt.Sprintf("  • %s\n", truncate(line, 60)))
		}
		if len(graph.People) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(graph.People)-maxItemsToShow))
		}
	}
	if len(graph.Funding) > 0 {
		sb.WriteString(fmt.Sprintf("\nFunding rounds: %d\n", len(graph.Funding)))
	}
	if len(graph.Competitors) > 0 {
		sb.WriteString(fmt.Sprintf("Competitors: %d\n", len(graph.Competitors)))
	}
	if len(graph.Conflicts) > 0 {
		sb.WriteString(p.theme.statusStyle(false, true).Render(fmt.Sprintf("\nConflicts: %d", len(graph.Conflicts))) + "\n")
		for _, c := range graph.Conflicts {
			sb.WriteString(fmt.Sprintf("  ⚠ %s: kept %q from %s\n", c.Attribute, truncate(c.Winner.Value, 30), c.Winner.Provider))
		}
	}

	p.printBox("RESOLVED ENTITY", strings.TrimSuffix(sb.String(), "\n"))
}

// TraceLine renders one trace event as a single line.
func (p *Printer) TraceLine(ev types.TraceEvent) string {
	line := fmt.Sprintf("%3d %-17s %s", ev.Seq, ev.Phase, ev.Label)
	if ev.Detail != "" {
		line += p.theme.hintStyle().Render(" · " + truncate(ev.Detail, 60))
	}
	if ev.Phase == types.PhaseFailed {
		return p.theme.statusStyle(false, false).Render(line)
	}
	return line
}

// PrintTrace outputs the full trace of a job.
func (p *Printer) PrintTrace(events []types.TraceEvent) {
	if len(events) == 0 {
		return
	}
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = p.TraceLine(ev)
	}
	p.printBox("TRACE", strings.Join(lines, "\n"))
}

// PrintCosts outputs the per-component cost summary.
func (p *Printer) PrintCosts(summary costs.Summary) {
	var sb strings.Builder
	for _, component := range summary.Components() {
		sb.WriteString(fmt.Sprintf("%-20s $%.4f\n", component, summary.ByComponent[component]))
	}
	sb.WriteString(fmt.Sprintf("\n%-20s $%.4f\n", "total", summary.TotalUSD))
	sb.WriteString(fmt.Sprintf("tokens: %d in / %d out / %d cached, web searches: %d",
		summary.InputTokens, summary.OutputTokens, summary.CachedTokens, summary.WebSearchCalls))
	p.printBox("COSTS", sb.String())
}

// PrintBriefSummary outputs the status of each drafted section.
func (p *Printer) PrintBriefSummary(brief *types.Brief) {
	if brief == nil {
		return
	}

	var sb strings.Builder
	for _, s := range brief.Sections {
		ok := s.Status == types.SectionDrafted
		warn := s.Status == types.SectionUnverified || s.Status == types.SectionEmpty
		status := p.theme.statusStyle(ok, warn).Render(fmt.Sprintf("%-10s", s.Status))
		sb.WriteString(fmt.Sprintf("%s %-26s %2d cited\n", status, s.Name, len(s.CitedIDs)))
		if s.Error != "" {
			sb.WriteString(p.theme.hintStyle().Render("           "+truncate(s.Error, 58)) + "\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\n%d of %d sources cited", len(brief.UsedCitations), len(brief.AllCitations)))
	p.printBox("BRIEF", sb.String())
}

// WriteBriefMarkdown writes the brief as a markdown document.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func WriteBriefMarkdown(out io.Writer, title string, brief *types.Brief) {
	if brief == nil {
		return
	}
	fmt.Fprintf(out, "# %s\n\n", title)
	for _, s := range brief.Sections {
		if s.Status == types.SectionFailed {
			continue
		}
		fmt.Fprintf(out, "## %s\n\n%s\n\n", sectionTitle(s.Name), strings.TrimSpace(s.Markdown))
	}
	if brief.SourcesText != "" {
		fmt.Fprintf(out, "## Sources\n\n%s\n", strings.TrimSpace(brief.SourcesText))
	}
}

// sectionTitle turns "founders_and_leadership" into "Founders and leadership".
func sectionTitle(name types.SectionName) string {
	s := strings.ReplaceAll(string(name), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
