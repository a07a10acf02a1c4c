// Package theme holds the colors, styles and glyphs of the AskUni terminal
// client. Colors adapt to light and dark backgrounds; lipgloss drops them
// entirely when NO_COLOR is set.
package theme

import "github.com/charmbracelet/lipgloss"

// Palette. Primary is the university blue, Highlight the gold accent.
var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#003f7d", Dark: "#6fa8ff"}
	ColorHighlight = lipgloss.AdaptiveColor{Light: "#9a6b00", Dark: "#f2c14e"}
	ColorSuccess   = lipgloss.AdaptiveColor{Light: "#1b6e3a", Dark: "#5fd38d"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#b3261e", Dark: "#f2857d"}
	ColorWarning   = lipgloss.AdaptiveColor{Light: "#a14a00", Dark: "#ffb15c"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#6b6b6b", Dark: "#a0a0a0"}
	ColorFaint     = lipgloss.AdaptiveColor{Light: "#a3a3a3", Dark: "#6e6e6e"}
	ColorPanel     = lipgloss.AdaptiveColor{Light: "#eef2f8", Dark: "#1f2633"}
)

// Text styles.
var (
	Bold      = lipgloss.NewStyle().Bold(true)
	Dim       = lipgloss.NewStyle().Faint(true)
	TextInfo  = lipgloss.NewStyle().Foreground(ColorPrimary)
	TextMuted = lipgloss.NewStyle().Foreground(ColorMuted)
	TextError = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextGood  = lipgloss.NewStyle().Foreground(ColorSuccess)
)

// Transcript styles.
var (
	UserLabel   = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	BotLabel    = lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)
	SystemLabel = lipgloss.NewStyle().Foreground(ColorMuted).Bold(true)
	ErrorLabel  = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	Timestamp   = lipgloss.NewStyle().Foreground(ColorFaint)

	// AbortedNote marks an answer whose stream ended before the final event.
	AbortedNote = lipgloss.NewStyle().Foreground(ColorWarning).Italic(true)

	// Chip is an attachment queued for the next question.
	Chip = lipgloss.NewStyle().Foreground(ColorPrimary).Background(ColorPanel).Padding(0, 1)
)

// Chrome.
var (
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Padding(0, 1)

	Selected = lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)

	StatusBar = lipgloss.NewStyle().Foreground(ColorMuted).Background(ColorPanel).Padding(0, 1)
	StatusKey = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	Prompt      = lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)
	Placeholder = lipgloss.NewStyle().Foreground(ColorFaint)
)

// MaxContentWidth caps the width of rendered answers.
const MaxContentWidth = 100
