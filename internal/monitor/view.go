package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/scheduler"
	"github.com/rileyhilliard/chdig/internal/snapshot"
)

// Column width limits in cells.
const (
	minColumnWidth = 4
	maxColumnWidth = 48
	rateColumn     = "rate/s"
)

func newTable() table.Model {
	t := table.New(table.WithFocused(true))
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorTextPrimary)
	s.Cell = s.Cell.Foreground(ColorTextSecondary)
	s.Selected = s.Selected.
		Foreground(ColorTextPrimary).
		Background(ColorBorder).
		Bold(false)
	t.SetStyles(s)
	return t
}

// visibleColumns are the template columns a table shows.
func visibleColumns(t *query.Template) []query.Column {
	var cols []query.Column
	for _, c := range t.Columns() {
		if c.Kind != query.KindFrames {
			cols = append(cols, c)
		}
	}
	return cols
}

// tableData renders rows into header titles and cells.
func tableData(v View, rows []query.Row, series *snapshot.Series) ([]string, [][]string) {
	cols := visibleColumns(v.Template)
	headers := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		headers = append(headers, c.Header())
	}

	var rates map[query.RowKey]float64
	if v.RateOf != "" {
		headers = append(headers, rateColumn)
		rates = series.Rates(v.RateOf)
	}

	cells := make([][]string, len(rows))
	for i := range rows {
		r := &rows[i]
		line := make([]string, 0, len(headers))
		for _, c := range cols {
			line = append(line, formatCell(r, c))
		}
		if rates != nil {
			// A row seen for the first time has no rate yet.
			if rate, ok := rates[r.Key]; ok {
				line = append(line, commaf(rate, 1))
			} else {
				line = append(line, "-")
			}
		}
		cells[i] = line
	}
	return headers, cells
}

func formatCell(r *query.Row, c query.Column) string {
	switch c.Kind {
	case query.KindMetric:
		v, ok := r.Metric(c.Name)
		if !ok {
			return "-"
		}
		return formatMetric(c.Unit, v)
	case query.KindKey:
		if v := r.Label(c.Name); v != "" {
			return v
		}
		return r.Key.NativeID
	default:
		return singleLine(r.Label(c.Name))
	}
}

// formatMetric renders v for humans according to its unit.
func formatMetric(unit query.Unit, v float64) string {
	switch unit {
	case query.UnitBytes:
		if v < 0 {
			return "-" + humanize.IBytes(uint64(-v))
		}
		return humanize.IBytes(uint64(v))
	case query.UnitSeconds:
		return formatSeconds(v)
	case query.UnitMicroseconds:
		return formatSeconds(v / 1e6)
	case query.UnitPercent:
		return fmt.Sprintf("%.1f%%", v)
	case query.UnitCount:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return humanize.Comma(int64(v))
		}
		return commaf(v, 2)
	case query.UnitTimestamp:
		if v <= 0 {
			return "-"
		}
		return time.Unix(int64(v), 0).Format(time.DateTime)
	default:
		return humanize.Ftoa(v)
	}
}

// commaf rounds v to digits decimals before grouping; CommafWithDigits
// alone truncates.
func commaf(v float64, digits int) string {
	p := math.Pow10(digits)
	return humanize.CommafWithDigits(math.Round(v*p)/p, digits)
}

func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second))
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// columnWidths sizes each column to its widest cell within limits, then
// gives any spare width to the last column.
func columnWidths(headers []string, cells [][]string, total int) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = max(lipgloss.Width(h), minColumnWidth)
	}
	for _, line := range cells {
		for i, c := range line {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = min(w, maxColumnWidth)
			}
		}
	}
	if len(widths) > 0 && total > 0 {
		// Each column carries one cell of padding on both sides.
		used := 0
		for _, w := range widths {
			used += w + 2
		}
		if spare := total - used; spare > 0 {
			widths[len(widths)-1] += spare
		}
	}
	return widths
}

// refreshRows rebuilds the table from the current view's latest snapshot,
// keeping the cursor on the same row when it is still present.
func (m *Model) refreshRows() {
	v := m.currentView()
	if v.Profile() {
		m.rows = nil
		return
	}

	var keep query.RowKey
	var hadSelection bool
	if row, ok := m.selectedRow(); ok {
		keep, hadSelection = row.Key, true
	}

	snap := m.snapshots[v.Name]
	m.rows = nil
	if snap != nil {
		m.rows = snap.Top(m.sched.TopN())
	}

	headers, cells := tableData(v, m.rows, m.store.Series(v.Name))
	widths := columnWidths(headers, cells, m.width)
	cols := make([]table.Column, len(headers))
	for i, h := range headers {
		cols[i] = table.Column{Title: h, Width: widths[i]}
	}
	trows := make([]table.Row, len(cells))
	for i, line := range cells {
		trows[i] = table.Row(line)
	}

	// Rows go first so the old rows never meet a narrower column set.
	m.table.SetRows(nil)
	m.table.SetColumns(cols)
	m.table.SetRows(trows)

	cursor := 0
	if hadSelection {
		for i := range m.rows {
			if m.rows[i].Key == keep {
				cursor = i
				break
			}
		}
	}
	if cursor >= len(m.rows) {
		cursor = max(len(m.rows)-1, 0)
	}
	m.table.SetCursor(cursor)
}

func (m Model) renderDashboard() string {
	if m.showHelp {
		return m.renderHelpOverlay()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	var body string
	switch {
	case m.viewMode == ViewDetail, m.viewMode == ViewFlamegraph, m.currentView().Profile():
		body = m.detailViewport.View()
	default:
		body = m.renderTable()
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderTable() string {
	v := m.currentView()
	if err, ok := m.errs[v.Name]; ok && m.snapshots[v.Name] == nil {
		return StatusErrStyle.Render("  " + errors.Short(err))
	}
	if m.snapshots[v.Name] == nil {
		return LabelStyle.Render("  waiting for the first cycle...")
	}
	if len(m.rows) == 0 {
		return LabelStyle.Render("  no rows")
	}
	return m.table.View()
}

// renderHeader draws the title line, the state line and the tab strip.
func (m Model) renderHeader() string {
	info := m.sched.Info()
	v := m.currentView()

	title := HeaderStyle.Render("chdig") + " " + ValueStyle.Bold(true).Render(v.Title)
	state := stateStyle(info.State).Render(info.State.String())
	parts := []string{
		state,
		LabelStyle.Render(info.Window.String()),
		m.renderHostCounts(),
	}
	if info.TopN > 0 {
		parts = append(parts, LabelStyle.Render(fmt.Sprintf("top %d", info.TopN)))
	}
	if !m.lastUpdate.IsZero() {
		parts = append(parts, LabelStyle.Render("updated "+m.lastUpdate.Format(time.TimeOnly)))
	}
	line1 := title + "  " + strings.Join(parts, LabelStyle.Render(" | "))

	line2 := m.renderHealth()
	return lipgloss.JoinVertical(lipgloss.Left, line1, line2, m.renderTabs())
}

func stateStyle(s scheduler.State) lipgloss.Style {
	switch s {
	case scheduler.Paused:
		return PausedStyle
	case scheduler.Seeking:
		return SeekingStyle
	default:
		return RunningStyle
	}
}

// renderHealth shows partial and total failure of the current view.
func (m Model) renderHealth() string {
	v := m.currentView()
	if v.Profile() {
		if err, ok := m.errs[v.Name]; ok {
			return BannerStyle.Render("no stacks: " + errors.Short(err))
		}
		if m.live != nil && m.live.Partial() {
			return PartialStyle.Render("partial: " + strings.Join(m.live.Failed, ", ") + " failed")
		}
		return ""
	}

	snap := m.snapshots[v.Name]
	if snap == nil {
		return ""
	}
	if snap.TotalFailure() {
		return BannerStyle.Render("ALL HOSTS FAILED: " + firstError(snap))
	}
	if snap.Partial() {
		return PartialStyle.Render("partial: " + strings.Join(snap.Failed, ", ") + " failed")
	}
	return ""
}

func firstError(snap *snapshot.Snapshot) string {
	for _, id := range snap.Failed {
		if err := snap.Errors[id]; err != nil {
			return errors.Short(err)
		}
	}
	return "no host answered"
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(m.views))
	for i, v := range m.views {
		if i == m.current {
			tabs[i] = TabActiveStyle.Render(v.Title)
		} else {
			tabs[i] = TabStyle.Render(v.Title)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderFooter() string {
	hints := []string{"p pause", "T/t seek", "L live", "[/] span", "+/- rows", "tab view", "? help", "q quit"}
	v := m.currentView()
	if v.Killable {
		hints = append([]string{"K kill"}, hints...)
	}
	if v.QueryScoped && m.collector != nil {
		hints = append([]string{"f query flame"}, hints...)
	}
	if m.viewMode != ViewList {
		hints = append([]string{"esc back"}, hints...)
	}

	status := ""
	if m.status != "" {
		style := StatusOKStyle
		if m.statusErr {
			style = StatusErrStyle
		}
		status = style.Render(m.status)
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, FooterStyle.Render(strings.Join(hints, " | ")))
}
