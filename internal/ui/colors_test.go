package ui

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorConstants(t *testing.T) {
	colors := []lipgloss.Color{
		ColorSuccess,
		ColorError,
		ColorWarning,
		ColorPrimary,
		ColorMuted,
	}
	colors = append(colors, GradientColors...)

	for _, color := range colors {
		s := string(color)
		require.Len(t, s, 7, "color should be #RRGGBB: %s", s)
		assert.Equal(t, byte('#'), s[0])
	}
}

func TestStyles(t *testing.T) {
	tests := []struct {
		name  string
		style lipgloss.Style
	}{
		{"success", SuccessStyle()},
		{"error", ErrorStyle()},
		{"warning", WarningStyle()},
		{"muted", MutedStyle()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.style.Render(tt.name), tt.name)
		})
	}
}

func TestPrintWarning(t *testing.T) {
	var buf bytes.Buffer
	PrintWarning(&buf, "2 of 3 hosts answered")

	assert.Contains(t, buf.String(), "2 of 3 hosts answered")
	assert.Contains(t, buf.String(), SymbolWarning)
}

func TestDisableColors(t *testing.T) {
	defer lipgloss.SetColorProfile(lipgloss.ColorProfile())

	DisableColors()
	assert.Equal(t, "plain", SuccessStyle().Render("plain"))
}
