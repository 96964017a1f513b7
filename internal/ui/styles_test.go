package ui

import (
	"strings"
	"testing"
)

func TestFormatControl(t *testing.T) {
	tests := []struct {
		name string
		key  string
		desc string
	}{
		{name: "basic control", key: "q", desc: "Quit"},
		{name: "longer key", key: "ctrl+c", desc: "Stop workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatControl(tt.key, tt.desc)
			if !strings.Contains(got, tt.key) {
				t.Errorf("FormatControl() missing key %q", tt.key)
			}
			if !strings.Contains(got, tt.desc) {
				t.Errorf("FormatControl() missing description %q", tt.desc)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	if got := FormatStatus(true, "2 active"); !strings.Contains(got, "●") || !strings.Contains(got, "2 active") {
		t.Errorf("active status rendered as %q", got)
	}
	if got := FormatStatus(false, "idle"); !strings.Contains(got, "○") {
		t.Errorf("inactive status rendered as %q", got)
	}
}

func TestFormatSetupResult(t *testing.T) {
	ok := FormatSetupResult(true, "Write config", "/etc/drm-cursor.conf")
	if !strings.Contains(ok, IconSuccess) || !strings.Contains(ok, "/etc/drm-cursor.conf") {
		t.Errorf("success result rendered as %q", ok)
	}
	failed := FormatSetupResult(false, "Write config", "")
	if !strings.Contains(failed, IconError) || strings.Contains(failed, " - ") {
		t.Errorf("failure result rendered as %q", failed)
	}
}

func TestCreateSeparator(t *testing.T) {
	tests := []struct {
		width int
		char  string
		want  int
	}{
		{10, "=", 10},
		{0, "", 50},
	}

	for _, tt := range tests {
		got := CreateSeparator(tt.width, tt.char)
		char := tt.char
		if char == "" {
			char = "─"
		}
		if n := strings.Count(got, char); n != tt.want {
			t.Errorf("CreateSeparator(%d, %q) has %d chars, want %d", tt.width, tt.char, n, tt.want)
		}
	}
}
