// Package commit programs a cursor plane, preferring atomic requests and
// falling back to legacy SETPLANE for good once an atomic request fails.
package commit

import (
	"fmt"
	"sync/atomic"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/plane"
)

// Device is the part of the kernel interface used for plane updates.
type Device interface {
	AtomicCommit(flags uint32, props []drm.AtomicProperty) error
	SetPlane(u drm.PlaneUpdate) error
}

// Target identifies the plane to program.
type Target struct {
	CrtcID uint32
	Plane  *plane.Plane
	// Legacy forces SETPLANE, for native cursor planes and outputs that
	// negotiated async commits.
	Legacy bool
}

// Committer submits plane updates. A single Committer is shared by every
// output; once an atomic request fails, all outputs use legacy updates.
type Committer struct {
	dev       Device
	atomicOff atomic.Bool
	atomic    atomic.Uint64
	legacy    atomic.Uint64
}

// New returns a Committer. useAtomic false starts in legacy mode.
func New(dev Device, useAtomic bool) *Committer {
	c := &Committer{dev: dev}
	c.atomicOff.Store(!useAtomic)
	return c
}

// AtomicDisabled reports whether atomic requests were given up on.
func (c *Committer) AtomicDisabled() bool {
	return c.atomicOff.Load()
}

// Counts returns how many atomic and legacy updates succeeded.
func (c *Committer) Counts() (atomicCommits, legacyCommits uint64) {
	return c.atomic.Load(), c.legacy.Load()
}

// Commit shows fb at (x, y) with size w×h on the target plane. fb 0
// disables the plane.
func (c *Committer) Commit(t Target, fb uint32, x, y, w, h int) error {
	if !t.Legacy && !c.atomicOff.Load() {
		err := c.commitAtomic(t, fb, x, y, w, h)
		if err == nil {
			c.atomic.Add(1)
			return nil
		}
		if c.atomicOff.CompareAndSwap(false, true) {
			logger.Warn("atomic commit failed, using legacy plane updates from now on",
				"crtc", t.CrtcID, "plane", t.Plane.ID, "error", err)
		}
	}

	if err := c.commitLegacy(t, fb, x, y, w, h); err != nil {
		return err
	}
	c.legacy.Add(1)
	return nil
}

type propValue struct {
	prop  plane.Prop
	value uint64
}

func (c *Committer) commitAtomic(t Target, fb uint32, x, y, w, h int) error {
	p := t.Plane

	props := []propValue{
		{plane.PropCrtcID, 0},
		{plane.PropFbID, 0},
	}
	if fb != 0 {
		props = []propValue{
			{plane.PropCrtcID, uint64(t.CrtcID)},
			{plane.PropFbID, uint64(fb)},
			{plane.PropSrcX, 0},
			{plane.PropSrcY, 0},
			{plane.PropSrcW, uint64(w) << 16},
			{plane.PropSrcH, uint64(h) << 16},
			{plane.PropCrtcX, uint64(int64(x))},
			{plane.PropCrtcY, uint64(int64(y))},
			{plane.PropCrtcW, uint64(w)},
			{plane.PropCrtcH, uint64(h)},
		}
	}

	req := make([]drm.AtomicProperty, 0, len(props))
	for _, pv := range props {
		id, err := p.PropertyID(pv.prop)
		if err != nil {
			return err
		}
		req = append(req, drm.AtomicProperty{Object: p.ID, Property: id, Value: pv.value})
	}

	if err := c.dev.AtomicCommit(drm.AtomicNonblock, req); err != nil {
		return fmt.Errorf("atomic commit plane %d: %w", p.ID, err)
	}
	return nil
}

func (c *Committer) commitLegacy(t Target, fb uint32, x, y, w, h int) error {
	u := drm.PlaneUpdate{PlaneID: t.Plane.ID, CrtcID: t.CrtcID}
	if fb != 0 {
		u.FbID = fb
		u.CrtcX, u.CrtcY = int32(x), int32(y)
		u.CrtcW, u.CrtcH = uint32(w), uint32(h)
		u.SrcW, u.SrcH = uint32(w)<<16, uint32(h)<<16
	}
	if err := c.dev.SetPlane(u); err != nil {
		return fmt.Errorf("legacy commit plane %d: %w", t.Plane.ID, err)
	}
	return nil
}
