package cmd

import "github.com/charmbracelet/lipgloss"

// Styles used across the CLI commands
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")). // Gold/Amber
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC")) // Light Gray

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6347")). // Tomato red
			Bold(true)
)
