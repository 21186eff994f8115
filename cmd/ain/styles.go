package main

import "github.com/charmbracelet/lipgloss"

// One small palette for non-interactive output. Colors follow the
// organism's notification scheme: green growth, yellow caution, red
// failure.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("#5F87AF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E53935"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func row(label, value string) string {
	return labelStyle.Render(label) + " " + value
}
