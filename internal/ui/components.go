package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusBar represents a reusable status bar component
type StatusBar struct {
	Width       int
	Title       string
	Status      string
	Active      bool
	ShowSpinner bool
	spinner     spinner.Model
}

// NewStatusBar creates a new status bar
func NewStatusBar(title string) *StatusBar {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: SpinnerDot,
		FPS:    time.Second / 10,
	}
	s.Style = SpinnerStyle

	return &StatusBar{
		Title:       title,
		ShowSpinner: true,
		spinner:     s,
	}
}

// Init implements tea.Model
func (s *StatusBar) Init() tea.Cmd {
	return s.spinner.Tick
}

// Update implements tea.Model
func (s *StatusBar) Update(msg tea.Msg) (*StatusBar, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	case tea.WindowSizeMsg:
		s.Width = msg.Width
	}
	return s, nil
}

// View renders the status bar
func (s *StatusBar) View() string {
	title := TitleStyle.Render(s.Title)

	status := s.Status
	if s.ShowSpinner && s.Active {
		status = s.spinner.View() + " " + s.Status
	}
	statusFormatted := FormatStatus(s.Active, status)

	gap := s.Width - lipgloss.Width(title) - lipgloss.Width(statusFormatted) - 4
	if gap < 1 {
		gap = 1
	}
	line := title + strings.Repeat(" ", gap) + statusFormatted

	if s.Width <= 0 {
		return BoxStyle.Render(line)
	}
	return BoxStyle.Width(s.Width - 2).Render(line)
}

// InfoPanel represents a panel with information
type InfoPanel struct {
	Title   string
	Content []string
	Width   int
}

// View renders the info panel
func (p *InfoPanel) View() string {
	var b strings.Builder

	if p.Title != "" {
		b.WriteString(SubheaderStyle.Render(p.Title))
		b.WriteString("\n")
	}
	for i, line := range p.Content {
		b.WriteString(TextStyle.Render(line))
		if i < len(p.Content)-1 {
			b.WriteString("\n")
		}
	}

	if p.Width <= 0 {
		return BoxStyle.Render(b.String())
	}
	return BoxStyle.Width(p.Width - 2).Render(b.String())
}

// ControlsHelp displays keyboard controls
type ControlsHelp struct {
	Controls []Control
}

// Control represents a keyboard control
type Control struct {
	Key  string
	Desc string
}

// View renders the controls on one line
func (c *ControlsHelp) View() string {
	parts := make([]string, len(c.Controls))
	for i, ctrl := range c.Controls {
		parts[i] = FormatControl(ctrl.Key, ctrl.Desc)
	}
	return MutedStyle.Render(strings.Join(parts, "  "))
}

// MessageType represents the type of message
type MessageType int

const (
	MessageInfo MessageType = iota
	MessageSuccess
	MessageWarning
	MessageError
)

// Message displays a styled message
type Message struct {
	Type    MessageType
	Content string
	At      time.Time
}

// View renders the message
func (m *Message) View() string {
	var style lipgloss.Style
	var prefix string

	switch m.Type {
	case MessageSuccess:
		style = SuccessStyle
		prefix = "✓ "
	case MessageWarning:
		style = WarningStyle
		prefix = "⚠ "
	case MessageError:
		style = ErrorStyle
		prefix = "✗ "
	default:
		style = InfoStyle
		prefix = "ℹ "
	}

	line := style.Render(prefix + m.Content)
	if !m.At.IsZero() {
		line = SubtleStyle.Render(fmt.Sprintf("[%s] ", m.At.Format("15:04:05"))) + line
	}
	return line
}
