package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/coalesce/internal/batch"
)

const benchBoxWidth = 56

func boxBorderColor() lipgloss.Color { return lipgloss.Color("240") }

func boxTitleColor() lipgloss.Color { return lipgloss.Color("39") }

func colorWarning() lipgloss.Color { return lipgloss.Color("214") }

// isWriterTerminal reports whether w is an *os.File attached to a terminal.
func isWriterTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

// renderBenchSummary writes the bench result to w, boxed when styled is set.
func renderBenchSummary(w io.Writer, res benchResult, styled bool) error {
	lines := benchSummaryLines(res)
	if !styled {
		return renderPlainBenchSummary(w, lines, res)
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(boxTitleColor())
	borderStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(boxBorderColor()).
		Padding(0, 1).
		Width(benchBoxWidth)

	var content strings.Builder
	content.WriteString(titleStyle.Render("BENCH SUMMARY"))
	content.WriteString("\n")
	content.WriteString(strings.Repeat("─", benchBoxWidth-4))
	content.WriteString("\n")
	content.WriteString(strings.Join(lines, "\n"))
	if res.Interrupted {
		content.WriteString("\n\n")
		content.WriteString(lipgloss.NewStyle().Bold(true).Foreground(colorWarning()).Render("Run interrupted"))
	}

	_, err := fmt.Fprintln(w, borderStyle.Render(content.String()))
	return err
}

func renderPlainBenchSummary(w io.Writer, lines []string, res benchResult) error {
	if _, err := fmt.Fprintln(w, "BENCH SUMMARY"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "============="); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if res.Interrupted {
		if _, err := fmt.Fprintln(w, "Run interrupted"); err != nil {
			return err
		}
	}
	return nil
}

func benchSummaryLines(res benchResult) []string {
	p := message.NewPrinter(language.English)
	s := res.Stats

	return []string{
		p.Sprintf("Mode:             %s", res.Mode),
		p.Sprintf("Callers:          %d", res.Callers),
		p.Sprintf("Requests:         %d", res.Requests),
		p.Sprintf("Backend calls:    %d", res.BackendCalls),
		p.Sprintf("Coalescing ratio: %.1fx", res.CoalescingRatio()),
		p.Sprintf("Deduplicated:     %d", s.Deduplicated),
		p.Sprintf("Avg batch size:   %.1f", s.AvgBatchSize),
		p.Sprintf("Flushes:          %s", formatTriggers(s.Triggers)),
		p.Sprintf("Not found:        %d", res.NotFound),
		p.Sprintf("Errors:           %d", res.Errors),
		p.Sprintf("Duration:         %s", res.Duration.Round(time.Millisecond)),
		p.Sprintf("Throughput:       %.0f req/s", res.Throughput()),
	}
}

// formatTriggers renders trigger counts as "size=3 time=1", sorted by name.
func formatTriggers(triggers map[batch.Trigger]int) string {
	if len(triggers) == 0 {
		return "none"
	}
	names := make([]string, 0, len(triggers))
	for t := range triggers {
		names = append(names, string(t))
	}
	slices.Sort(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, triggers[batch.Trigger(n)])
	}
	return strings.Join(parts, " ")
}

// writeMetrics encodes everything in g in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}
