// Package gpu converts client cursor buffers into framebuffers a display
// plane can scan out.
//
// A Converter keeps a ring of render targets. Every conversion renders into
// the next slot so a buffer still being scanned out is never drawn over;
// reusing a displayed AFBC buffer corrupts the cursor on Mali.
package gpu

import (
	"errors"
	"fmt"

	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
)

// ErrUnsupported is returned by backends not compiled into this binary.
var ErrUnsupported = errors.New("GPU backend not available (build with CGO enabled)")

// Converter turns a GEM handle of a width×height ARGB8888 buffer into a
// framebuffer id, shifted by (cropX, cropY) pixels so the visible part of
// a cursor hanging over a screen edge lands inside the plane.
type Converter interface {
	Convert(handle uint32, width, height, cropX, cropY int) (uint32, error)
	Close() error
}

// Device is what the backends need from the DRM device.
type Device interface {
	Fd() int
	PrimeHandleToFD(handle uint32) (int, error)
	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	AddFB2(l drm.FramebufferLayout) (uint32, error)
}

// DumbDevice additionally allocates CPU-mapped buffers.
type DumbDevice interface {
	Device
	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)
	DestroyDumb(b *drm.DumbBuffer) error
}

// Options configures a backend.
type Options struct {
	NumSurfaces int
	Width       int
	Height      int
	Format      uint32
	Modifier    uint64
}

// Layout returns the render format and modifier for a plane. Mali only
// renders AFBC with BGR component order.
func Layout(afbc bool) (format uint32, modifier uint64) {
	if afbc {
		return drm.FormatABGR8888, drm.ModifierAFBC
	}
	return drm.FormatARGB8888, drm.ModifierLinear
}

// New creates the backend named by kind. When the EGL backend is not
// compiled in it falls back to the CPU backend.
func New(kind string, dev DumbDevice, opts Options) (Converter, error) {
	if kind == config.BackendCPU {
		return NewSoftware(dev, opts)
	}

	e, err := NewEGL(dev, opts)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			logger.Warn("EGL backend unavailable, using CPU backend")
			return NewSoftware(dev, opts)
		}
		return nil, err
	}
	return e, nil
}

// QuadVertices returns the triangle-strip quad covering the viewport,
// shifted by (cropX, cropY) pixels in normalized device coordinates.
func QuadVertices(width, height, cropX, cropY int) [8]float32 {
	v := [8]float32{
		-1, -1,
		1, -1,
		-1, 1,
		1, 1,
	}
	if width <= 0 || height <= 0 {
		return v
	}
	dx := float32(cropX) * 2 / float32(width)
	dy := float32(cropY) * 2 / float32(height)
	for i := 0; i < 4; i++ {
		v[2*i] += dx
		v[2*i+1] -= dy
	}
	return v
}

// TexCoords maps the quad so the first row of the source buffer ends up at
// the top of the scanout buffer.
var TexCoords = [8]float32{
	0, 1,
	1, 1,
	0, 0,
	1, 0,
}

// ring hands out surface slots round robin.
type ring struct {
	size int
	cur  int
}

func newRing(n int) ring {
	if n < 1 {
		n = 1
	}
	if n > config.MaxSurfaces {
		n = config.MaxSurfaces
	}
	return ring{size: n}
}

func (r *ring) next() int {
	r.cur = (r.cur + 1) % r.size
	return r.cur
}

func validate(opts Options) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid cursor size %dx%d", opts.Width, opts.Height)
	}
	return nil
}

// registerFB adds a framebuffer for a rendered buffer: legacy ADDFB for
// linear buffers, ADDFB2 with modifiers otherwise.
func registerFB(dev Device, handle, width, height, stride uint32, format uint32, modifier uint64) (uint32, error) {
	if modifier == drm.ModifierLinear {
		return dev.AddFB(width, height, 32, 32, stride, handle)
	}
	return dev.AddFB2(drm.FramebufferLayout{
		Width:     width,
		Height:    height,
		Format:    format,
		Handles:   [4]uint32{handle},
		Pitches:   [4]uint32{stride},
		Modifiers: [4]uint64{modifier},
		Flags:     drm.ModeFBModifiers,
	})
}
