// Package ui provides consistent styling and components for the drm-cursor CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)
)

// Indicators
var (
	ActiveIndicator = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Render("●")

	InactiveIndicator = lipgloss.NewStyle().
				Foreground(ColorSubtle).
				Render("○")

	FailedIndicator = lipgloss.NewStyle().
			Foreground(ColorError).
			Render("✗")

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ControlDescStyle = lipgloss.NewStyle().
				Foreground(ColorText)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary).
				Padding(0, 1)

	TableCellStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Padding(0, 1)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorSubtle)
)

// Spinner presets
var (
	SpinnerDot  = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}
	SpinnerLine = []string{"|", "/", "-", "\\"}
)

// Icons
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconSetup   = "»"
	IconPhase   = "·"
)

// FormatControl renders a key binding hint.
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + ControlDescStyle.Render(desc)
}

// FormatStatus prefixes status with an activity indicator.
func FormatStatus(active bool, status string) string {
	indicator := InactiveIndicator
	if active {
		indicator = ActiveIndicator
	}
	return indicator + " " + status
}

func FormatSetupHeader(title string) string {
	coloredIcon := InfoStyle.Render(IconSetup)
	header := HeaderStyle.UnsetMarginBottom().Render(coloredIcon + " " + title)
	return header + "\n" + CreateSeparator(50, "─")
}

func FormatSetupResult(success bool, step, message string) string {
	var coloredIcon string
	style := SuccessStyle

	if success {
		coloredIcon = SuccessStyle.Render(IconSuccess)
	} else {
		coloredIcon = ErrorStyle.Render(IconError)
		style = ErrorStyle
	}

	result := "   " + coloredIcon + " " + step
	if message != "" {
		result += " - " + style.Render(message)
	}
	return result
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}

	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}
