// Package ui provides Lip Gloss styling and terminal rendering for the
// history timeline.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mstride/historyd/internal/store"
)

// Colors
var (
	ColorTextPrimary = lipgloss.Color("#c9d1d9") // soft white
	ColorTextMuted   = lipgloss.Color("#8b949e") // gentle gray
	ColorBorder      = lipgloss.Color("#30363d") // subtle separation
	ColorAccentBlue  = lipgloss.Color("#58a6ff")
	ColorAccentGreen = lipgloss.Color("#3fb950")
	ColorAccentAmber = lipgloss.Color("#d29922")
	ColorAccentRed   = lipgloss.Color("#f85149")
	ColorAccentPlum  = lipgloss.Color("#bc8cff")
)

// KindColors maps item kinds to their badge color.
var KindColors = map[store.Kind]lipgloss.Color{
	store.KindTap:        ColorAccentBlue,
	store.KindWalk:       ColorAccentBlue,
	store.KindTremor:     ColorAccentBlue,
	store.KindMedication: ColorAccentGreen,
	store.KindSymptom:    ColorAccentAmber,
	store.KindTrigger:    ColorAccentRed,
}

// Base styles
var (
	// Day header line
	DayHeader = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true)

	// Timezone-change marker on a day header
	TZMarker = lipgloss.NewStyle().
			Foreground(ColorAccentPlum).
			Italic(true)

	// Run head item
	RunHead = lipgloss.NewStyle().
		Foreground(ColorTextPrimary)

	// Run member item, indented under its head
	RunMember = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			PaddingLeft(4)

	// Item timestamp
	TimeStamp = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	// Item detail (dosage, severity, tap counts)
	Detail = lipgloss.NewStyle().
		Foreground(ColorTextMuted).
		Italic(true)

	// Divider between days
	Divider = lipgloss.NewStyle().
		Foreground(ColorBorder)
)

// KindBadge returns the styled badge for an item kind.
func KindBadge(kind store.Kind) string {
	color, ok := KindColors[kind]
	if !ok {
		color = ColorTextMuted
	}
	return lipgloss.NewStyle().
		Foreground(color).
		Bold(true).
		Render("[" + string(kind) + "]")
}

// ForcePlain disables all color output, for piped or --plain invocations.
func ForcePlain() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
