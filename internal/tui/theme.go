package tui

import "github.com/charmbracelet/lipgloss"

var (
	Primary     = lipgloss.Color("#6C5CE7")
	Foreground  = lipgloss.Color("#EDEDED")
	Muted       = lipgloss.Color("#8A8F98")
	Border      = lipgloss.Color("#3B3F46")
	Destructive = lipgloss.Color("#E53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
)

// Theme groups the styles every view renders with.
type Theme struct {
	Title    lipgloss.Style
	Heading  lipgloss.Style
	Text     lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Pending  lipgloss.Style
	Section  lipgloss.Style
	Button   lipgloss.Style
	Disabled lipgloss.Style
	Label    lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(Primary).MarginBottom(1),
		Heading:  lipgloss.NewStyle().Bold(true).Foreground(Foreground),
		Text:     lipgloss.NewStyle().Foreground(Foreground),
		Bold:     lipgloss.NewStyle().Bold(true).Foreground(Foreground),
		Muted:    lipgloss.NewStyle().Foreground(Muted),
		Error:    lipgloss.NewStyle().Foreground(Destructive),
		Success:  lipgloss.NewStyle().Foreground(Success),
		Pending:  lipgloss.NewStyle().Foreground(Warning),
		Section:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Border).Padding(0, 1).MarginBottom(1),
		Button:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(Primary).Padding(0, 2),
		Disabled: lipgloss.NewStyle().Foreground(Muted).Background(Border).Padding(0, 2),
		Label:    lipgloss.NewStyle().Width(12).Foreground(Muted),
	}
}
