package monitor

import (
	"github.com/charmbracelet/lipgloss"
)

// Dashboard color palette.
const (
	ColorDarkBg    = lipgloss.Color("#0A0A0F")
	ColorSurfaceBg = lipgloss.Color("#12121A")
	ColorBorder    = lipgloss.Color("#2A2A4A")

	ColorHealthy  = lipgloss.Color("#39FF14")
	ColorWarning  = lipgloss.Color("#FFAA00")
	ColorCritical = lipgloss.Color("#FF0055")

	ColorTextPrimary   = lipgloss.Color("#FFFFFF")
	ColorTextSecondary = lipgloss.Color("#B4B4D0")
	ColorTextMuted     = lipgloss.Color("#6B6B8D")

	ColorAccent    = lipgloss.Color("#FF2E97")
	ColorAccentDim = lipgloss.Color("#BF40FF")

	ColorGraph = lipgloss.Color("#00FFFF")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Background(ColorSurfaceBg).
			Bold(true).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary)

	TabStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	TabActiveStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true).
			Underline(true).
			Padding(0, 1)

	// BannerStyle marks a cycle in which no host answered.
	BannerStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Background(ColorCritical).
			Bold(true).
			Padding(0, 1)

	PartialStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	StatusOKStyle = lipgloss.NewStyle().
			Foreground(ColorHealthy)

	StatusErrStyle = lipgloss.NewStyle().
			Foreground(ColorCritical)

	PausedStyle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	SeekingStyle = lipgloss.NewStyle().
			Foreground(ColorAccentDim).
			Bold(true)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorHealthy).
			Bold(true)

	SectionStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	FlameBarStyle = lipgloss.NewStyle().
			Foreground(ColorGraph)
)

// Host status glyphs.
const (
	StatusUp      = "◉"
	StatusDown    = "◌"
	StatusUnknown = "◐"
)
