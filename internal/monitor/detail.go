package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rileyhilliard/chdig/internal/query"
)

// sparklineWidth is how many snapshots a detail sparkline covers.
const sparklineWidth = 40

var (
	detailContainerStyle = lipgloss.NewStyle().
				Padding(1, 2)

	detailSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBorder).
				Padding(0, 1).
				MarginBottom(1)

	detailKeyStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary).
			Width(14)

	sparklineChars = []rune{'_', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
)

// renderDetail renders every column of the selected row, the history of its
// metrics and the state of the host it came from.
func (m Model) renderDetail() string {
	row, ok := m.selectedRow()
	if !ok {
		return LabelStyle.Render("No row selected")
	}
	v := m.currentView()
	series := m.store.Series(v.Name)

	contentWidth := max(m.width-6, 40)

	var b strings.Builder
	b.WriteString(SectionStyle.Render(v.Title + " " + row.Key.String()))
	b.WriteString("\n\n")

	var fields, metrics []string
	for _, c := range visibleColumns(v.Template) {
		line := detailKeyStyle.Render(c.Header()) + ValueStyle.Render(formatCell(row, c))
		if c.Kind == query.KindMetric {
			if rate, ok := series.Rate(row.Key, c.Name); ok {
				line += LabelStyle.Render(fmt.Sprintf("  %s/s", humanize.CommafWithDigits(rate, 1)))
			}
			if spark := renderSparkline(series.Values(row.Key, c.Name, sparklineWidth)); spark != "" {
				line += "  " + FlameBarStyle.Render(spark)
			}
			metrics = append(metrics, line)
			continue
		}
		fields = append(fields, line)
	}
	if len(fields) > 0 {
		b.WriteString(detailSectionStyle.Width(contentWidth).Render(strings.Join(fields, "\n")))
		b.WriteString("\n")
	}
	if len(metrics) > 0 {
		b.WriteString(detailSectionStyle.Width(contentWidth).Render(strings.Join(metrics, "\n")))
		b.WriteString("\n")
	}

	if m.exec != nil {
		if h, ok := m.exec.Topology().Host(row.Key.HostID); ok {
			b.WriteString(detailSectionStyle.Width(contentWidth).Render(renderHostLine(h)))
			b.WriteString("\n")
		}
	}

	hints := []string{"esc back", "up/down scroll"}
	if v.Killable {
		hints = append(hints, "K kill")
	}
	if v.QueryScoped && m.collector != nil {
		hints = append(hints, "f flamegraph")
	}
	b.WriteString(LabelStyle.Render(strings.Join(hints, " | ")))
	return detailContainerStyle.Render(b.String())
}

// renderSparkline maps values onto block characters between their min and
// max. Fewer than two values render nothing.
func renderSparkline(values []float64) string {
	if len(values) < 2 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	top := len(sparklineChars) - 1
	out := make([]rune, len(values))
	for i, v := range values {
		level := top / 2
		if hi > lo {
			level = int((v - lo) / (hi - lo) * float64(top))
		}
		out[i] = sparklineChars[level]
	}
	return string(out)
}
