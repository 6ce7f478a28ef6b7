package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))  //nolint:gochecknoglobals // style
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))            //nolint:gochecknoglobals // style
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")) //nolint:gochecknoglobals // style
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))  //nolint:gochecknoglobals // style
)

// View renders the dashboard (Bubble Tea interface).
func (m BenchModel) View() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	switch m.state {
	case BenchStateRunning:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(titleStyle.Render(m.title))
	case BenchStateDone:
		if m.err != nil {
			b.WriteString(errorStyle.Render("✗ " + m.title))
		} else {
			b.WriteString(okStyle.Render("✓ " + m.title))
		}
	case BenchStateQuitting:
		b.WriteString(mutedStyle.Render("stopping " + m.title))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n")
	b.WriteString(p.Sprintf("%d / %d requests", m.completed, m.total))
	b.WriteString("\n")
	b.WriteString(p.Sprintf("backend calls: %d   ratio: %.1fx   errors: %d",
		m.backendCalls, m.Ratio(), m.errors))
	b.WriteString("\n")

	if m.state == BenchStateRunning {
		b.WriteString(mutedStyle.Render("q: stop"))
		b.WriteString("\n")
	}
	return b.String()
}
