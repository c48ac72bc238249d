package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/views"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("99")).Padding(0, 1)
)

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func printOK(w io.Writer, msg string) {
	fmt.Fprintln(w, okStyle.Render(msg))
}

func printError(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render(msg))
}

func printMuted(w io.Writer, msg string) {
	fmt.Fprintln(w, mutedStyle.Render(msg))
}

// printLines writes rendered view lines. The first line carries the outcome
// and is styled by ok.
func printLines(w io.Writer, lines []string, ok bool) {
	for i, line := range lines {
		switch {
		case i > 0:
			fmt.Fprintln(w, line)
		case ok:
			printOK(w, line)
		default:
			printError(w, line)
		}
	}
}

func cardSummary(c backend.DecisionCard) string {
	status := ""
	if c.IsDone() {
		status = " · done"
	}
	return fmt.Sprintf("%s  %s\n   Impact %d/5 · Effort %d/5 · %s confidence%s",
		c.ID, c.Problem, c.ImpactLevel, c.EffortEstimate, views.ConfidenceLabel(c.ConfidenceScore), status)
}

func renderCard(c *backend.DecisionCard) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(c.Problem))
	b.WriteString("\n\nRecommended action: " + c.RecommendedAction)
	fmt.Fprintf(&b, "\nImpact %d/5 · Effort %d/5 · %s confidence · %s",
		c.ImpactLevel, c.EffortEstimate, views.ConfidenceLabel(c.ConfidenceScore), c.Status)
	if len(c.EvidenceSnippets) > 0 {
		b.WriteString("\n\nEvidence")
		for _, s := range c.EvidenceSnippets {
			if s.Text != "" {
				b.WriteString("\n- " + s.Text)
				continue
			}
			fmt.Fprintf(&b, "\n- %q → %q", s.Input, s.Output)
		}
	}
	return cardStyle.Render(b.String())
}
