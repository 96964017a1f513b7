package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/bnema/drmcursor/internal/cursor"
	"github.com/bnema/drmcursor/internal/display"
	tea "github.com/charmbracelet/bubbletea"
)

func sampleStatus() cursor.Status {
	return cursor.Status{
		AtomicCommits: 1234,
		Outputs: []cursor.OutputStatus{
			{
				CrtcID:       31,
				Plane:        40,
				NativeCursor: true,
				State:        cursor.StateIdle,
				Verified:     true,
				ScreenWidth:  1920,
				ScreenHeight: 1080,
				Cursor:       cursor.State{Handle: 7, Width: 64, Height: 64, X: -10, Y: 5, OffX: -10},
				Commits:      1234,
				Converts:     2,
				LastCommit:   time.Now(),
			},
			{CrtcID: 32, State: cursor.StateError},
		},
	}
}

func TestStatusModel(t *testing.T) {
	t.Run("renders outputs", func(t *testing.T) {
		model := NewStatusModel("/dev/dri/card0", sampleStatus, time.Second)
		model.Init()

		view := model.View()
		for _, want := range []string{"drm-cursor", "1 active, 1 failed", "1920x1080", "64x64 @ -10,5", "[-10,+0]", "1,234", "atomic"} {
			if !strings.Contains(view, want) {
				t.Errorf("view should contain %q", want)
			}
		}
	})

	t.Run("refreshes on tick", func(t *testing.T) {
		calls := 0
		model := NewStatusModel("card0", func() cursor.Status {
			calls++
			return sampleStatus()
		}, time.Second)
		model.Init()

		_, cmd := model.Update(StatusTickMsg(time.Now()))
		if calls != 2 {
			t.Errorf("expected 2 snapshots, got %d", calls)
		}
		if cmd == nil {
			t.Error("tick should schedule the next tick")
		}
	})

	t.Run("legacy mode is shown", func(t *testing.T) {
		model := NewStatusModel("card0", func() cursor.Status {
			return cursor.Status{AtomicDisabled: true, LegacyCommits: 3}
		}, time.Second)
		model.Init()

		if !strings.Contains(model.View(), "legacy") {
			t.Error("view should show legacy commits")
		}
	})

	t.Run("messages", func(t *testing.T) {
		model := NewStatusModel("card0", nil, 0)
		model.Update(LogLineMsg{Type: MessageWarning, Content: "plane lost"})
		if !strings.Contains(model.View(), "plane lost") {
			t.Error("view should show messages")
		}

		model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
		if len(model.messages) != 0 {
			t.Error("c should clear messages")
		}
	})

	t.Run("quits", func(t *testing.T) {
		model := NewStatusModel("card0", nil, 0)
		_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
		if cmd == nil {
			t.Fatal("q should return a command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("q should quit")
		}
	})
}

func TestRenderPlanes(t *testing.T) {
	out := RenderPlanes([]display.PlaneInfo{
		{ID: 40, TypeName: "cursor", PossibleCrtcs: 0x3, CanLinear: true},
		{ID: 41, TypeName: "overlay", PossibleCrtcs: 0x1, CurrentCrtc: 31, CanAFBC: true},
	})
	for _, want := range []string{"PLANE", "40", "cursor", "0x3", "overlay", "AR24"} {
		if !strings.Contains(out, want) {
			t.Errorf("planes table should contain %q", want)
		}
	}

	if !strings.Contains(RenderPlanes(nil), "No planes") {
		t.Error("empty inventory should say so")
	}
}

func TestRenderCRTCs(t *testing.T) {
	out := RenderCRTCs([]display.CRTC{
		{ID: 31, Pipe: 0, Width: 1920, Height: 1080, PreferPlane: 40},
		{ID: 32, Pipe: 1, Blocked: true},
	})
	for _, want := range []string{"31", "1920x1080", "40", "off"} {
		if !strings.Contains(out, want) {
			t.Errorf("crtc table should contain %q", want)
		}
	}
}
