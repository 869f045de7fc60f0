// Package run implements the task runner TUI: it spawns the agent CLI,
// renders its decoded output stream, and reports the task's lifecycle to the
// ledger when the run ends or the window is closed.
package run

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the runner TUI.
type Theme struct {
	// Tool badges
	BadgeRead   lipgloss.Style
	BadgeEdit   lipgloss.Style
	BadgeShell  lipgloss.Style
	BadgeSearch lipgloss.Style
	BadgeTodo   lipgloss.Style
	BadgeOther  lipgloss.Style

	// Result badges
	ResultOK     lipgloss.Style
	ResultFailed lipgloss.Style

	// Status line
	StatusRunning lipgloss.Style
	StatusDone    lipgloss.Style
	StatusFailed  lipgloss.Style

	// Text
	Text   lipgloss.Style
	Dim    lipgloss.Style
	Title  lipgloss.Style
	Border lipgloss.Style
}

func NewDefaultTheme() Theme {
	badge := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(color)).
			Background(lipgloss.Color("#2C313A")).
			Padding(0, 1)
	}

	return Theme{
		BadgeRead:   badge("#61AFEF"),
		BadgeEdit:   badge("#E5C07B"),
		BadgeShell:  badge("#E5C07B"),
		BadgeSearch: badge("#56B6C2"),
		BadgeTodo:   badge("#C678DD"),
		BadgeOther:  badge("#ABB2BF"),

		ResultOK:     badge("#98C379"),
		ResultFailed: badge("#E06C75"),

		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		StatusDone:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379")),
		StatusFailed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75")),

		Text:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ABB2BF")),
		Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#5C6370")),
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#61AFEF")).
			Padding(0, 1),
	}
}
