package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/drmcursor/internal/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// StatusSource returns a fresh snapshot of the cursor manager.
type StatusSource func() cursor.Status

// StatusTickMsg triggers a refresh of the status snapshot.
type StatusTickMsg time.Time

// LogLineMsg adds an entry to the activity list.
type LogLineMsg Message

// StatusModel is the Bubble Tea model for the live output view of the run
// command.
type StatusModel struct {
	source    StatusSource
	interval  time.Duration
	status    cursor.Status
	statusBar *StatusBar
	controls  *ControlsHelp
	messages  []Message
	width     int
	height    int
	device    string
	started   time.Time
	quitting  bool
}

// NewStatusModel creates a status view polling source every interval.
func NewStatusModel(device string, source StatusSource, interval time.Duration) *StatusModel {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	statusBar := NewStatusBar("drm-cursor")
	statusBar.Status = "Starting"

	return &StatusModel{
		source:    source,
		interval:  interval,
		statusBar: statusBar,
		device:    device,
		started:   time.Now(),
		controls: &ControlsHelp{
			Controls: []Control{
				{Key: "q", Desc: "Quit"},
				{Key: "c", Desc: "Clear messages"},
				{Key: "r", Desc: "Refresh"},
			},
		},
	}
}

func (m *StatusModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return StatusTickMsg(t)
	})
}

// Init implements tea.Model
func (m *StatusModel) Init() tea.Cmd {
	m.refresh()
	return tea.Batch(m.statusBar.Init(), m.tick())
}

func (m *StatusModel) refresh() {
	if m.source == nil {
		return
	}
	m.status = m.source()

	active, failed := 0, 0
	for _, o := range m.status.Outputs {
		switch {
		case o.State == cursor.StateError:
			failed++
		case o.Plane != 0:
			active++
		}
	}
	m.statusBar.Active = active > 0
	m.statusBar.Status = fmt.Sprintf("%d active, %d failed on %s", active, failed, m.device)
}

// Update implements tea.Model
func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.messages = nil
		case "r":
			m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StatusTickMsg:
		m.refresh()
		return m, m.tick()

	case LogLineMsg:
		m.AddMessage(msg.Type, msg.Content)
	}

	statusBar, cmd := m.statusBar.Update(msg)
	m.statusBar = statusBar
	return m, cmd
}

// AddMessage adds a message to the activity list
func (m *StatusModel) AddMessage(t MessageType, content string) {
	m.messages = append(m.messages, Message{Type: t, Content: content, At: time.Now()})
	if len(m.messages) > 50 {
		m.messages = m.messages[len(m.messages)-50:]
	}
}

// View implements tea.Model
func (m *StatusModel) View() string {
	if m.quitting {
		return MutedStyle.Render("Stopping cursor workers...\n")
	}

	sections := []string{
		m.statusBar.View(),
		RenderOutputs(m.status),
		m.summary(),
	}

	if len(m.messages) > 0 {
		start := 0
		if len(m.messages) > 5 {
			start = len(m.messages) - 5
		}
		var b strings.Builder
		for _, msg := range m.messages[start:] {
			b.WriteString(msg.View())
			b.WriteString("\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	sections = append(sections, m.controls.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *StatusModel) summary() string {
	mode := SuccessStyle.Render("atomic")
	if m.status.AtomicDisabled {
		mode = WarningStyle.Render("legacy")
	}
	return SubtleStyle.Render("commits: ") + mode + SubtleStyle.Render(fmt.Sprintf(
		"  %s atomic / %s legacy  up %s",
		humanize.Comma(int64(m.status.AtomicCommits)),
		humanize.Comma(int64(m.status.LegacyCommits)),
		time.Since(m.started).Round(time.Second),
	))
}

// RenderOutputs renders one table row per output.
func RenderOutputs(st cursor.Status) string {
	rows := make([][]string, 0, len(st.Outputs))
	for _, o := range st.Outputs {
		rows = append(rows, outputRow(o))
	}

	return newTable().
		Headers("", "CRTC", "PLANE", "MODE", "STATE", "CURSOR", "COMMITS", "CONVERTS", "LAST").
		Rows(rows...).
		String()
}

func outputRow(o cursor.OutputStatus) []string {
	indicator := InactiveIndicator
	switch {
	case o.State == cursor.StateError:
		indicator = FailedIndicator
	case o.Plane != 0:
		indicator = ActiveIndicator
	}

	plane := "-"
	if o.Plane != 0 {
		var flags []string
		if o.NativeCursor {
			flags = append(flags, "cursor")
		} else {
			flags = append(flags, "overlay")
		}
		if o.AFBC {
			flags = append(flags, "afbc")
		}
		if o.Async {
			flags = append(flags, "async")
		}
		plane = fmt.Sprintf("%d (%s)", o.Plane, strings.Join(flags, ","))
	}

	mode := "off"
	if o.ScreenWidth > 0 && o.ScreenHeight > 0 {
		mode = fmt.Sprintf("%dx%d", o.ScreenWidth, o.ScreenHeight)
	}

	state := o.State.String()
	if o.Blocked {
		state = "blocked"
	}

	pos := "hidden"
	if o.Cursor.Handle != 0 {
		pos = fmt.Sprintf("%dx%d @ %d,%d", o.Cursor.Width, o.Cursor.Height, o.Cursor.X, o.Cursor.Y)
		if o.Cursor.OffX != 0 || o.Cursor.OffY != 0 {
			pos += fmt.Sprintf(" [%+d,%+d]", o.Cursor.OffX, o.Cursor.OffY)
		}
	}

	last := "never"
	if !o.LastCommit.IsZero() {
		last = humanize.Time(o.LastCommit)
	}

	return []string{
		indicator,
		fmt.Sprint(o.CrtcID),
		plane,
		mode,
		state,
		pos,
		humanize.Comma(int64(o.Commits)),
		humanize.Comma(int64(o.Converts)),
		last,
	}
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
}
