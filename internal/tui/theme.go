package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tabActiveStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	tabInactiveStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("250"))
	statusBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236"))
	bannerStyle      = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("124"))
	meanBarStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	stddevBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	sparkStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	okStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)
