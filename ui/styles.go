package ui

import "github.com/charmbracelet/lipgloss"

var (
	normalDim = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	midGray   = lipgloss.AdaptiveColor{Light: "#B2B2B2", Dark: "#4A4A4A"}
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	green     = lipgloss.Color("#04B575")
	yellow    = lipgloss.AdaptiveColor{Light: "#C6A000", Dark: "#ECFD65"}
	cream     = lipgloss.AdaptiveColor{Light: "#FFFDF5", Dark: "#FFFDF5"}
	fuchsia   = lipgloss.Color("#EE6FF8")
)

var (
	errorTitleStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(red).
			Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().Foreground(gray)

	logoStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(fuchsia).
			Bold(true)

	markerStyle = lipgloss.NewStyle().Foreground(yellow).Bold(true)

	playingStyle = lipgloss.NewStyle().Foreground(green)
	pausedStyle  = lipgloss.NewStyle().Foreground(yellow)
	idleStyle    = lipgloss.NewStyle().Foreground(normalDim)
	errorStyle   = lipgloss.NewStyle().Foreground(red)

	visualizerStyle = lipgloss.NewStyle().Foreground(fuchsia)
)

func logoView() string {
	return logoStyle.Render(" readaloud ")
}
