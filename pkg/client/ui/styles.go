package ui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor = lipgloss.Color("205")
	AccentColor  = lipgloss.Color("86")
	MutedColor   = lipgloss.Color("241")
	ErrorColor   = lipgloss.Color("196")
	WarningColor = lipgloss.Color("214")
	OnlineColor  = lipgloss.Color("42")

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	SidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 1)

	ChatPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(AccentColor).
			Padding(0, 1)

	SelectedItemStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(AccentColor)

	ItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	MutedTextStyle = lipgloss.NewStyle().Foreground(MutedColor)
	UnreadStyle    = lipgloss.NewStyle().Bold(true).Foreground(WarningColor)
	OnlineDotStyle = lipgloss.NewStyle().Foreground(OnlineColor)
	OwnAuthorStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	AuthorStyle    = lipgloss.NewStyle().Bold(true).Foreground(AccentColor)
	PendingStyle   = lipgloss.NewStyle().Italic(true).Foreground(MutedColor)
	FailedStyle    = lipgloss.NewStyle().Foreground(ErrorColor)
	ErrorTextStyle = lipgloss.NewStyle().Bold(true).Foreground(ErrorColor)
	StatusStyle    = lipgloss.NewStyle().Foreground(WarningColor)
)
