package cursor

import (
	"fmt"

	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/plane"
)

// bindPlane tries to claim plane id for o. force skips the overlay
// restriction, used for configured and last-resort candidates.
func (m *Manager) bindPlane(o *Output, id uint32, force bool) bool {
	if id == 0 {
		return false
	}
	if owner, ok := m.claims.Load(id); ok {
		logger.Debug("plane already claimed", "plane", id, "crtc", o.ID, "owner", owner)
		return false
	}

	p, reason := m.probe(o, id, force)
	if p == nil {
		logger.Debug("plane rejected", "plane", id, "crtc", o.ID, "reason", reason)
		return false
	}
	// only accepted planes are claimed; another output may have won the
	// plane while it was probed
	if owner, loaded := m.claims.LoadOrStore(id, o.ID); loaded {
		logger.Debug("plane already claimed", "plane", id, "crtc", o.ID, "owner", owner)
		return false
	}

	t, _ := p.Value(plane.PropType)
	o.plane = p
	o.nativeCursor = plane.Type(t) == plane.TypeCursor
	o.afbc = (m.cfg.PreferAFBC && p.CanAFBC) || !p.CanLinear

	o.mu.Lock()
	o.info = planeInfo{id: id, nativeCursor: o.nativeCursor, afbc: o.afbc}
	o.mu.Unlock()
	logger.Info("plane bound", "crtc", o.ID, "plane", id, "type", plane.Type(t), "afbc", o.afbc)
	return true
}

func (m *Manager) probe(o *Output, id uint32, force bool) (*plane.Plane, string) {
	p, err := plane.Discover(m.dev, id)
	if err != nil {
		return nil, err.Error()
	}
	if !p.Supported() {
		return nil, "no ARGB8888 layout"
	}
	if !p.AttachedTo(o.Pipe) {
		return nil, "cannot drive this CRTC"
	}
	t, err := p.Value(plane.PropType)
	if err != nil {
		return nil, "unknown type"
	}
	switch plane.Type(t) {
	case plane.TypePrimary:
		return nil, "primary plane"
	case plane.TypeOverlay:
		if !force {
			return nil, "overlay not allowed"
		}
	}
	return p, ""
}

// prepare binds a plane to o and starts its worker. It runs at most once
// per output; a failure leaves the output in the error state for good.
func (m *Manager) prepare(o *Output) error {
	o.bindMu.Lock()
	defer o.bindMu.Unlock()

	if o.prepared {
		return o.prepareErr
	}

	m.life.RLock()
	defer m.life.RUnlock()
	if m.closed {
		return ErrClosed
	}
	o.prepared = true

	bound := m.bindPlane(o, o.PreferPlane, true)
	for i := 0; !bound && i < len(m.ctx.Planes); i++ {
		bound = m.bindPlane(o, m.ctx.Planes[i], false)
	}
	if m.cfg.AllowOverlay {
		for i := len(m.ctx.Planes) - 1; !bound && i >= 0; i-- {
			bound = m.bindPlane(o, m.ctx.Planes[i], true)
		}
	}
	if !bound {
		logger.Error("no plane available", "crtc", o.ID, "allow_overlay", m.cfg.AllowOverlay)
		o.prepareErr = fmt.Errorf("crtc %d: %w: %w", o.ID, ErrOutputFailed, ErrNoPlane)
		o.mu.Lock()
		o.state = StateError
		o.err = o.prepareErr
		o.mu.Unlock()
		return o.prepareErr
	}

	m.workers.Go(func() { m.run(o) })
	return nil
}
