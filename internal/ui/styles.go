// Package ui provides terminal styling for steward CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/stewardhq/steward/internal/types"
)

// Ayu theme color palette, adaptive for light and dark terminals.
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

// Status styles, consistent across all commands.
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// HeaderStyle for section headers.
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Status icons.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

// TaskStatus renders a task status with its semantic color.
func TaskStatus(s types.TaskStatus) string {
	switch s {
	case types.TaskDone:
		return PassStyle.Render(IconPass + " " + string(s))
	case types.TaskInProgress:
		return AccentStyle.Render("▸ " + string(s))
	case types.TaskFailed, types.TaskCancelled:
		return FailStyle.Render(IconFail + " " + string(s))
	case types.TaskBlocked, types.TaskPartial:
		return WarnStyle.Render(IconWarn + " " + string(s))
	default:
		return MutedStyle.Render(IconSkip + " " + string(s))
	}
}

// FeatureStatus renders a feature status with its semantic color.
func FeatureStatus(s types.FeatureStatus) string {
	switch s {
	case types.FeatureCompleted:
		return PassStyle.Render(string(s))
	case types.FeatureApproved, types.FeatureExecuting:
		return AccentStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
