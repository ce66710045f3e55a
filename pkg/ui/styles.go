package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#04B575")
	colorWarning = lipgloss.Color("#FFBD2E")
	colorError   = lipgloss.Color("#FF6B6B")
	colorMuted   = lipgloss.Color("#626262")
	colorPrimary = lipgloss.Color("#326CE5")

	// Title renders section headers
	Title = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	// Success renders completed steps
	Success = lipgloss.NewStyle().Foreground(colorSuccess)
	// Warn renders warnings
	Warn = lipgloss.NewStyle().Foreground(colorWarning)
	// Fail renders errors
	Fail = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	// Muted renders secondary detail such as hints
	Muted = lipgloss.NewStyle().Foreground(colorMuted)
	// Banner frames the final summary
	Banner = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorSuccess).
		Padding(0, 1)
)

// StatusStyle picks a style for a kubectl-style status word
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "Running", "Succeeded", "Complete", "deployed", "Ready", "superseded":
		return Success
	case "Pending", "ContainerCreating", "pending-install", "pending-upgrade", "pending-rollback":
		return Warn
	case "Failed", "Error", "CrashLoopBackOff", "ImagePullBackOff", "ErrImagePull", "failed":
		return Fail
	default:
		return Muted
	}
}
