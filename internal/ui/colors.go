package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "#39FF14"
	ColorError   lipgloss.Color = "#FF3864"
	ColorWarning lipgloss.Color = "#FFB000"
)

// Text colors for content hierarchy
const (
	ColorPrimary lipgloss.Color = "#E8E8F0"
	ColorMuted   lipgloss.Color = "#6C6C80"
)

// GradientColors cycle through the spinner frames.
var GradientColors = []lipgloss.Color{
	"#FF2A6D",
	"#B967FF",
	"#00F0FF",
	"#39FF14",
}

// SuccessStyle renders text in the success color.
func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorSuccess)
}

// ErrorStyle renders text in the error color.
func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorError)
}

// WarningStyle renders text in the warning color.
func WarningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorWarning)
}

// MutedStyle renders secondary text such as timings.
func MutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorMuted)
}

// PrintWarning writes a warning line to w.
func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", WarningStyle().Render(SymbolWarning), msg)
}

// DisableColors switches every lipgloss style to plain text.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
