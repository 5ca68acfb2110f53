package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette. Adaptive pairs are light/dark so output stays readable on
// both backgrounds.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "63", Dark: "86"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "204"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "240"}
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorFail)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	KeyStyle = lipgloss.NewStyle().
			Bold(true)
)

// ColorProfile reports the terminal's color capability, honoring the
// NO_COLOR/CLICOLOR conventions.
func ColorProfile() termenv.Profile {
	if !ShouldUseColor() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
