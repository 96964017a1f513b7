package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.log")
	require.NoError(t, Setup(true, path))
	t.Cleanup(Close)

	assert.True(t, IsDebug())
	Debug("bound plane", "crtc", 41, "plane", 31)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bound plane")
	assert.Contains(t, string(data), "plane=31")
}

func TestSetupFallsBackToStderr(t *testing.T) {
	err := Setup(false, filepath.Join(t.TempDir(), "missing", "cursor.log"))
	t.Cleanup(Close)
	assert.Error(t, err)
	assert.False(t, IsDebug())
}

func TestSetOutputRestoresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.log")
	require.NoError(t, Setup(false, path))
	t.Cleanup(Close)

	var buf bytes.Buffer
	SetOutput(&buf)
	Info("redirected")
	SetOutput(nil)
	Info("back to file")

	assert.Contains(t, buf.String(), "redirected")
	assert.NotContains(t, buf.String(), "back to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "back to file")
	assert.NotContains(t, string(data), "redirected")
}

func TestSetDebug(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })
	SetDebug(true)
	assert.True(t, IsDebug())
	SetDebug(false)
	assert.False(t, IsDebug())
}

func TestWatchDebugFlag(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })
	SetDebug(false)

	dir := t.TempDir()
	flag := filepath.Join(dir, ".drm_cursor_debug")
	assert.False(t, DebugFlagSet(flag))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchDebugFlag(ctx, flag) }()

	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(flag, nil, 0o644))
	assert.Eventually(t, IsDebug, 2*time.Second, 10*time.Millisecond)
	assert.True(t, DebugFlagSet(flag))

	require.NoError(t, os.Remove(flag))
	assert.Eventually(t, func() bool { return !IsDebug() }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
