package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drm-cursor.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults when no config exists", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.NumSurfaces)
		assert.Equal(t, 60, cfg.MaxFPS)
		assert.True(t, cfg.Atomic)
		assert.False(t, cfg.AllowOverlay)
		assert.False(t, cfg.PreferAFBC)
		assert.Equal(t, BackendEGL, cfg.Backend)
		assert.Empty(t, cfg.PreferPlanes)
		assert.Equal(t, "/var/log/drm-cursor.log", cfg.LogFile)
	})

	t.Run("reads key=value file", func(t *testing.T) {
		path := writeConfig(t, `
# cursor settings
allow-overlay=1
prefer-afbc=1   # mali
prefer-planes=0, 45,47
crtc-blocklist=80
num-surfaces=16
max-fps=30
atomic=0
hide=1
backend=cpu
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.True(t, cfg.AllowOverlay)
		assert.True(t, cfg.PreferAFBC)
		assert.True(t, cfg.Hide)
		assert.False(t, cfg.Atomic)
		assert.Equal(t, []uint32{0, 45, 47}, cfg.PreferPlanes)
		assert.Equal(t, []uint32{80}, cfg.CrtcBlocklist)
		assert.Equal(t, 16, cfg.NumSurfaces)
		assert.Equal(t, 30, cfg.MaxFPS)
		assert.Equal(t, BackendCPU, cfg.Backend)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "prefer-plane=31\nlog-file=/tmp/file.log\n")
		t.Setenv("DRM_CURSOR_PREFER_PLANE", "52")
		t.Setenv("DRM_CURSOR_LOG_FILE", "/tmp/env.log")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, uint32(52), cfg.PreferPlane)
		assert.Equal(t, "/tmp/env.log", cfg.LogFile)
	})

	t.Run("environment does not override other keys", func(t *testing.T) {
		path := writeConfig(t, "max-fps=30\n")
		t.Setenv("MAX_FPS", "120")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.MaxFPS)
	})

	t.Run("DRM_DEBUG enables debug", func(t *testing.T) {
		t.Setenv("DRM_DEBUG", "1")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.True(t, cfg.Debug)
	})

	t.Run("flags set on viper win", func(t *testing.T) {
		path := writeConfig(t, "max-fps=30\n")
		v := viper.New()
		v.Set("max-fps", 90)

		cfg, err := LoadFrom(v, path)
		require.NoError(t, err)
		assert.Equal(t, 90, cfg.MaxFPS)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "prefer-planes=a,b\n"))
		assert.Error(t, err)

		_, err = Load(writeConfig(t, "backend=vulkan\n"))
		assert.Error(t, err)

		_, err = Load(writeConfig(t, "just a line\n"))
		assert.Error(t, err)
	})

	t.Run("num-surfaces is clamped", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "num-surfaces=500\n"))
		require.NoError(t, err)
		assert.Equal(t, MaxSurfaces, cfg.NumSurfaces)

		cfg, err = Load(writeConfig(t, "num-surfaces=0\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.NumSurfaces)
	})
}

func TestMinInterval(t *testing.T) {
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{60, 15 * time.Millisecond},
		{30, 32 * time.Millisecond},
		{1000, 0},
		{2000, 0},
		{0, 15 * time.Millisecond},
	}
	for _, tt := range tests {
		cfg := &Config{MaxFPS: tt.fps}
		assert.Equal(t, tt.want, cfg.MinInterval(), "max-fps=%d", tt.fps)
	}
}

func TestPreferredPlane(t *testing.T) {
	cfg := &Config{PreferPlane: 31, PreferPlanes: []uint32{0, 45}}
	assert.Equal(t, uint32(31), cfg.PreferredPlane(0))
	assert.Equal(t, uint32(45), cfg.PreferredPlane(1))
	assert.Equal(t, uint32(31), cfg.PreferredPlane(2))
	assert.Equal(t, uint32(31), cfg.PreferredPlane(-1))
}

func TestBlocked(t *testing.T) {
	cfg := &Config{CrtcBlocklist: []uint32{80, 81}}
	assert.True(t, cfg.Blocked(81))
	assert.False(t, cfg.Blocked(41))
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList(" 1, ,3 ")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 0, 3}, ids)

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseIDList("1,-2")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "drm-cursor.conf")
	in := DefaultConfig
	in.AllowOverlay = true
	in.PreferPlanes = []uint32{45, 0}
	in.MaxFPS = 120

	require.NoError(t, Save(&in, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#"))
	assert.Contains(t, string(data), "allow-overlay=1\n")

	out, err := Load(path)
	require.NoError(t, err)
	assert.True(t, out.AllowOverlay)
	assert.Equal(t, []uint32{45, 0}, out.PreferPlanes)
	assert.Equal(t, 120, out.MaxFPS)
}
