// Package drmcursor is the entry point for display servers. The two cursor
// primitives a server issues against a DRM device are routed to hardware
// cursor planes, with one worker per CRTC.
//
// The first call discovers the device behind fd and loads the configuration
// from ConfigPath; the result is shared by the whole process.
package drmcursor

import (
	"errors"
	"sync"

	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/cursor"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/logger"
	"golang.org/x/sys/unix"
)

// ConfigPath is read on first use.
var ConfigPath = config.DefaultPath

// Hooks are the cursor primitives of the kernel mode-setting interface.
// Results follow its conventions: 0 on success, negative on failure.
type Hooks interface {
	SetCursor(fd int, crtcID, handle, width, height uint32) int
	SetCursor2(fd int, crtcID, handle, width, height uint32, hotX, hotY int32) int
	MoveCursor(fd int, crtcID uint32, x, y int) int
}

// Compositor implements Hooks on top of a cursor manager.
type Compositor struct {
	m   *cursor.Manager
	err error
}

var _ Hooks = (*Compositor)(nil)

// New wraps m.
func New(m *cursor.Manager) *Compositor {
	return &Compositor{m: m}
}

// Disabled returns a Compositor that fails every call with err.
func Disabled(err error) *Compositor {
	return &Compositor{err: err}
}

func (c *Compositor) result(op string, crtcID uint32, err error) int {
	if err == nil {
		return 0
	}
	if !errors.Is(err, cursor.ErrUnavailable) {
		logger.Debug(op+" failed", "crtc", crtcID, "error", err)
	}
	return -1
}

// SetCursor shows the buffer handle as cursor image on crtcID; 0 hides it.
func (c *Compositor) SetCursor(fd int, crtcID, handle, width, height uint32) int {
	if c.m == nil {
		return c.result("set cursor", crtcID, c.err)
	}
	return c.result("set cursor", crtcID, c.m.SetCursor(crtcID, handle, int(width), int(height)))
}

// SetCursor2 is not supported; servers fall back to SetCursor.
func (c *Compositor) SetCursor2(fd int, crtcID, handle, width, height uint32, hotX, hotY int32) int {
	return -int(unix.EINVAL)
}

// MoveCursor moves the cursor of crtcID.
func (c *Compositor) MoveCursor(fd int, crtcID uint32, x, y int) int {
	if c.m == nil {
		return c.result("move cursor", crtcID, c.err)
	}
	return c.result("move cursor", crtcID, c.m.MoveCursor(crtcID, x, y))
}

// Close stops the workers.
func (c *Compositor) Close() error {
	if c.m == nil {
		return nil
	}
	return c.m.Close()
}

var global struct {
	once sync.Once
	c    *Compositor
}

// Default returns the process-wide Compositor for the device behind fd.
// Discovery happens once; when it fails every call reports failure.
func Default(fd int) *Compositor {
	global.once.Do(func() {
		dc, err := display.Shared(fd, ConfigPath)
		if err != nil {
			logger.Error("hardware cursor disabled", "error", err)
			global.c = Disabled(err)
			return
		}
		global.c = New(cursor.NewManager(dc))
	})
	return global.c
}

// SetCursor is the process-wide SetCursor hook.
func SetCursor(fd int, crtcID, handle, width, height uint32) int {
	return Default(fd).SetCursor(fd, crtcID, handle, width, height)
}

// SetCursor2 is the process-wide SetCursor2 hook.
func SetCursor2(fd int, crtcID, handle, width, height uint32, hotX, hotY int32) int {
	return Default(fd).SetCursor2(fd, crtcID, handle, width, height, hotX, hotY)
}

// MoveCursor is the process-wide MoveCursor hook.
func MoveCursor(fd int, crtcID uint32, x, y int) int {
	return Default(fd).MoveCursor(fd, crtcID, x, y)
}
