package drmcursor

import (
	"testing"

	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/cursor"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/drm/drmtest"
	"github.com/bnema/drmcursor/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type nopConverter struct {
	dev *drmtest.Device
}

func (n nopConverter) Convert(handle uint32, w, h, cropX, cropY int) (uint32, error) {
	return n.dev.AddFB(uint32(w), uint32(h), 32, 32, uint32(w*4), handle)
}

func (nopConverter) Close() error { return nil }

func newCompositor(t *testing.T) (*Compositor, *drmtest.Device) {
	t.Helper()
	dev := drmtest.New()
	dev.AddCrtc(31, 1920, 1080)
	dev.AddPlane(drmtest.PlaneSpec{ID: 40, Type: 2, PossibleCrtcs: 1})

	cfg := config.DefaultConfig
	cfg.MaxFPS = 1000
	dc, err := display.Discover(dev, &cfg)
	require.NoError(t, err)

	m := cursor.NewManager(dc, cursor.WithBackend(func(gpu.Options) (gpu.Converter, error) {
		return nopConverter{dev: dev}, nil
	}))
	c := New(m)
	t.Cleanup(func() { c.Close() })
	return c, dev
}

func TestHooks(t *testing.T) {
	c, dev := newCompositor(t)

	assert.Equal(t, 0, c.SetCursor(3, 31, 7, 64, 64))
	assert.Equal(t, 0, c.MoveCursor(3, 31, 100, 100))
	assert.Equal(t, 0, c.MoveCursor(3, 0, -10, 0))
	assert.Equal(t, -1, c.SetCursor(3, 99, 7, 64, 64))
	assert.Equal(t, -1, c.MoveCursor(3, 99, 0, 0))
	assert.Equal(t, -int(unix.EINVAL), c.SetCursor2(3, 31, 7, 64, 64, 1, 1))
	assert.NotEmpty(t, dev.Commits())
}

func TestDisabled(t *testing.T) {
	c := Disabled(display.ErrDiscovery)

	assert.Equal(t, -1, c.SetCursor(3, 31, 7, 64, 64))
	assert.Equal(t, -1, c.MoveCursor(3, 31, 0, 0))
	assert.Equal(t, -int(unix.EINVAL), c.SetCursor2(3, 31, 7, 64, 64, 0, 0))
	assert.NoError(t, c.Close())
}
