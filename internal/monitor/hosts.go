package monitor

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/chdig/internal/cluster"
)

// renderHostCounts summarizes the topology as glyph counts.
func (m Model) renderHostCounts() string {
	if m.exec == nil {
		return ""
	}
	up, down, unknown := m.exec.Topology().Counts()
	parts := []string{StatusOKStyle.Render(fmt.Sprintf("%s %d", StatusUp, up))}
	if down > 0 {
		parts = append(parts, StatusErrStyle.Render(fmt.Sprintf("%s %d", StatusDown, down)))
	}
	if unknown > 0 {
		parts = append(parts, LabelStyle.Render(fmt.Sprintf("%s %d", StatusUnknown, unknown)))
	}
	return strings.Join(parts, " ")
}

// statusGlyph returns the styled glyph for a host status.
func statusGlyph(s cluster.Status) string {
	switch s {
	case cluster.StatusUp:
		return StatusOKStyle.Render(StatusUp)
	case cluster.StatusDown:
		return StatusErrStyle.Render(StatusDown)
	default:
		return LabelStyle.Render(StatusUnknown)
	}
}

// renderHostLine describes one host: glyph, id, address, version and the
// last error when it is down.
func renderHostLine(h *cluster.Host) string {
	st := h.State()
	var b strings.Builder
	b.WriteString(statusGlyph(st.Status))
	b.WriteString(" ")
	b.WriteString(ValueStyle.Bold(true).Render(h.ID))
	b.WriteString(" ")
	b.WriteString(LabelStyle.Render(h.Address))
	if st.Version != "" {
		b.WriteString(LabelStyle.Render(" v" + st.Version))
	}
	if h.Shard > 0 {
		b.WriteString(LabelStyle.Render(fmt.Sprintf(" shard %d replica %d", h.Shard, h.Replica)))
	}
	if st.Status == cluster.StatusDown && st.LastError != nil {
		b.WriteString(" ")
		b.WriteString(StatusErrStyle.Render(truncateWithEllipsis(st.LastError.Error(), 80)))
	}
	return b.String()
}

// truncateWithEllipsis cuts s to max runes, ending in "...".
func truncateWithEllipsis(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
