// Package display discovers CRTCs and planes once and holds the result as
// a read-only context shared by every cursor output.
package display

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/plane"
	"golang.org/x/sys/unix"
)

// ErrDiscovery disables the cursor compositor for the whole process.
var ErrDiscovery = errors.New("display discovery failed")

// Device is everything the compositor needs from the kernel.
type Device interface {
	plane.Device
	Fd() int
	SetClientCap(capability, value uint64) error
	Resources() (*drm.Resources, error)
	Crtc(id uint32) (*drm.Crtc, error)
	PlaneResources() ([]uint32, error)
	AtomicCommit(flags uint32, props []drm.AtomicProperty) error
	SetPlane(u drm.PlaneUpdate) error
	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	AddFB2(l drm.FramebufferLayout) (uint32, error)
	RmFB(fbID uint32) error
	PrimeHandleToFD(handle uint32) (int, error)
	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)
	DestroyDumb(b *drm.DumbBuffer) error
}

// CRTC is a discovered display pipeline.
type CRTC struct {
	ID          uint32 `json:"id"`
	Pipe        int    `json:"pipe"`
	PreferPlane uint32 `json:"prefer_plane,omitempty"`
	Blocked     bool   `json:"blocked"`
	// Width and Height at discovery time; zero without an active mode.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Context is the immutable result of discovery.
type Context struct {
	Device Device
	Config *config.Config
	CRTCs  []CRTC
	Planes []uint32

	closer func() error
}

// Discover enumerates CRTCs and planes on dev and applies the per-CRTC
// settings of cfg.
func Discover(dev Device, cfg *config.Config) (*Context, error) {
	if err := dev.SetClientCap(drm.ClientCapUniversalPlanes, 1); err != nil {
		logger.Warn("universal planes unavailable", "error", err)
	}

	res, err := dev.Resources()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	planes, err := dev.PlaneResources()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	ctx := &Context{Device: dev, Config: cfg, Planes: planes}
	for pipe, id := range res.CRTCs {
		c, err := dev.Crtc(id)
		if err != nil {
			logger.Debug("skip CRTC", "crtc", id, "error", err)
			continue
		}
		crtc := CRTC{
			ID:          id,
			Pipe:        pipe,
			PreferPlane: cfg.PreferredPlane(pipe),
			Blocked:     cfg.Blocked(id),
			Width:       c.Width,
			Height:      c.Height,
		}
		logger.Debug("found CRTC", "crtc", id, "pipe", pipe,
			"size", fmt.Sprintf("%dx%d", c.Width, c.Height),
			"prefer_plane", crtc.PreferPlane, "blocked", crtc.Blocked)
		ctx.CRTCs = append(ctx.CRTCs, crtc)
	}
	if len(ctx.CRTCs) == 0 {
		return nil, fmt.Errorf("%w: no CRTCs", ErrDiscovery)
	}

	if logger.IsDebug() {
		for _, p := range ctx.DescribePlanes() {
			logger.Debug("plane", "id", p.ID, "type", p.Type, "crtcs", fmt.Sprintf("%#x", p.PossibleCrtcs),
				"argb", p.CanLinear, "afbc", p.CanAFBC)
		}
	}
	return ctx, nil
}

// Open opens the device node at path and discovers it.
func Open(path string, cfg *config.Config) (*Context, error) {
	dev, err := drm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	ctx, err := Discover(dev, cfg)
	if err != nil {
		dev.Close()
		return nil, err
	}
	ctx.closer = dev.Close
	return ctx, nil
}

// Close releases the device if the context opened it.
func (c *Context) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer()
	c.closer = nil
	return err
}

// CRTC returns the CRTC with the given id.
func (c *Context) CRTC(id uint32) (CRTC, bool) {
	for _, crtc := range c.CRTCs {
		if crtc.ID == id {
			return crtc, true
		}
	}
	return CRTC{}, false
}

// PlaneInfo summarises a plane for diagnostics.
type PlaneInfo struct {
	ID            uint32     `json:"id"`
	Type          plane.Type `json:"-"`
	TypeName      string     `json:"type"`
	PossibleCrtcs uint32     `json:"possible_crtcs"`
	CurrentCrtc   uint32     `json:"crtc"`
	CanLinear     bool       `json:"argb8888"`
	CanAFBC       bool       `json:"afbc"`
}

// DescribePlanes probes every plane. Planes that cannot be read are skipped.
func (c *Context) DescribePlanes() []PlaneInfo {
	infos := make([]PlaneInfo, 0, len(c.Planes))
	for _, id := range c.Planes {
		p, err := plane.Discover(c.Device, id)
		if err != nil {
			logger.Debug("skip plane", "plane", id, "error", err)
			continue
		}
		t := p.Type()
		infos = append(infos, PlaneInfo{
			ID:            id,
			Type:          t,
			TypeName:      t.String(),
			PossibleCrtcs: p.PossibleCrtcs,
			CurrentCrtc:   p.CurrentCrtc,
			CanLinear:     p.CanLinear,
			CanAFBC:       p.CanAFBC,
		})
	}
	return infos
}

var shared struct {
	once sync.Once
	ctx  *Context
	err  error
}

// Shared returns the process-wide context, discovering it on the first
// call from a duplicate of fd. Later calls return the same result, even if
// discovery failed.
func Shared(fd int, configPath string) (*Context, error) {
	shared.once.Do(func() {
		shared.ctx, shared.err = openShared(fd, configPath)
	})
	return shared.ctx, shared.err
}

func openShared(fd int, configPath string) (*Context, error) {
	if !drm.IsDevice(fd) {
		return nil, fmt.Errorf("%w: fd %d is not a DRM device", ErrDiscovery, fd)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("invalid configuration, using defaults", "path", configPath, "error", err)
		def := config.DefaultConfig
		cfg = &def
	}
	if err := logger.Setup(cfg.Debug, cfg.LogFile); err != nil {
		logger.Warn("log file unavailable", "path", cfg.LogFile, "error", err)
	}
	logger.Info("drm-cursor starting",
		"atomic", cfg.Atomic, "hide", cfg.Hide, "allow_overlay", cfg.AllowOverlay,
		"prefer_afbc", cfg.PreferAFBC, "max_fps", cfg.MaxFPS, "backend", cfg.Backend)

	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: dup: %w", ErrDiscovery, err)
	}
	unix.CloseOnExec(dup)
	dev := drm.NewDevice(dup)

	ctx, err := Discover(dev, cfg)
	if err != nil {
		unix.Close(dup)
		return nil, err
	}
	ctx.closer = func() error { return unix.Close(dup) }
	return ctx, nil
}
