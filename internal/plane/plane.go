// Package plane discovers display planes and probes what they can scan out.
package plane

import (
	"errors"
	"fmt"

	"github.com/bnema/drmcursor/internal/drm"
)

// ErrPropertyNotFound means the plane does not expose a property. Callers
// treat it as "feature absent".
var ErrPropertyNotFound = errors.New("property not found")

// Device is the part of the kernel interface the prober needs.
type Device interface {
	Plane(id uint32) (*drm.Plane, error)
	ObjectProperties(objID, objType uint32) (*drm.ObjectProperties, error)
	Property(id uint32) (*drm.Property, error)
	PropertyBlob(blobID uint32) ([]byte, error)
	SetObjectProperty(objID, objType, propID uint32, value uint64) error
}

// Prop indexes the properties a plane update may touch.
type Prop int

const (
	PropType Prop = iota
	PropInFormats
	PropZpos
	PropZposUpper
	PropAsyncCommit
	PropCrtcID
	PropFbID
	PropSrcX
	PropSrcY
	PropSrcW
	PropSrcH
	PropCrtcX
	PropCrtcY
	PropCrtcW
	PropCrtcH
	numProps
)

var propNames = [numProps]string{
	PropType:        "type",
	PropInFormats:   "IN_FORMATS",
	PropZpos:        "zpos",
	PropZposUpper:   "ZPOS",
	PropAsyncCommit: "ASYNC_COMMIT",
	PropCrtcID:      "CRTC_ID",
	PropFbID:        "FB_ID",
	PropSrcX:        "SRC_X",
	PropSrcY:        "SRC_Y",
	PropSrcW:        "SRC_W",
	PropSrcH:        "SRC_H",
	PropCrtcX:       "CRTC_X",
	PropCrtcY:       "CRTC_Y",
	PropCrtcW:       "CRTC_W",
	PropCrtcH:       "CRTC_H",
}

func (p Prop) String() string {
	if p < 0 || p >= numProps {
		return fmt.Sprintf("Prop(%d)", int(p))
	}
	return propNames[p]
}

// Type is the value of a plane's "type" property.
type Type uint64

const (
	TypeOverlay Type = 0
	TypePrimary Type = 1
	TypeCursor  Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeOverlay:
		return "overlay"
	case TypePrimary:
		return "primary"
	case TypeCursor:
		return "cursor"
	default:
		return fmt.Sprintf("type(%d)", uint64(t))
	}
}

// Plane is a probed plane. It is not safe for concurrent use; once bound it
// belongs to one output worker.
type Plane struct {
	ID            uint32
	PossibleCrtcs uint32
	CurrentCrtc   uint32
	CanLinear     bool
	CanAFBC       bool

	dev   Device
	props *drm.ObjectProperties
	// resolved property ids, 0 until first lookup succeeds
	ids [numProps]uint32
}

// Discover fetches a plane and its property set and probes its ARGB8888
// layout support.
func Discover(dev Device, id uint32) (*Plane, error) {
	info, err := dev.Plane(id)
	if err != nil {
		return nil, fmt.Errorf("get plane %d: %w", id, err)
	}
	props, err := dev.ObjectProperties(id, drm.ObjectPlane)
	if err != nil {
		return nil, fmt.Errorf("get plane %d properties: %w", id, err)
	}

	p := &Plane{
		ID:            id,
		PossibleCrtcs: info.PossibleCrtcs,
		CurrentCrtc:   info.CrtcID,
		dev:           dev,
		props:         props,
	}
	p.CanLinear, p.CanAFBC = p.probeFormats(info)
	return p, nil
}

func (p *Plane) probeFormats(info *drm.Plane) (linear, afbc bool) {
	found := false
	for _, f := range info.Formats {
		if f == drm.FormatARGB8888 {
			found = true
			break
		}
	}
	if !found {
		return false, false
	}

	// Without IN_FORMATS only linear buffers are known to work.
	blobID, err := p.Value(PropInFormats)
	if err != nil {
		return true, false
	}
	// an unreadable blob means nothing is known to work
	blob, err := p.dev.PropertyBlob(uint32(blobID))
	if err != nil {
		return false, false
	}
	set, err := drm.ParseFormatModifiers(blob)
	if err != nil || !set.Lists(drm.FormatARGB8888) {
		return false, false
	}
	if len(set.Modifiers) == 0 {
		return true, false
	}
	return set.Supports(drm.FormatARGB8888, drm.ModifierLinear),
		set.Supports(drm.FormatARGB8888, drm.ModifierAFBC)
}

// Supported reports whether the plane can show ARGB8888 in any layout.
func (p *Plane) Supported() bool {
	return p.CanLinear || p.CanAFBC
}

// AttachedTo reports whether the plane can feed the CRTC at pipe.
func (p *Plane) AttachedTo(pipe int) bool {
	return pipe >= 0 && pipe < 32 && p.PossibleCrtcs&(1<<uint(pipe)) != 0
}

// Refresh re-reads the property set, which changes once the atomic client
// capability is enabled.
func (p *Plane) Refresh() error {
	props, err := p.dev.ObjectProperties(p.ID, drm.ObjectPlane)
	if err != nil {
		return fmt.Errorf("refresh plane %d properties: %w", p.ID, err)
	}
	p.props = props
	p.ids = [numProps]uint32{}
	return nil
}

// PropertyID resolves prop to the kernel property id.
func (p *Plane) PropertyID(prop Prop) (uint32, error) {
	_, id, err := p.lookup(prop)
	return id, err
}

// Value returns the current value of prop.
func (p *Plane) Value(prop Prop) (uint64, error) {
	idx, _, err := p.lookup(prop)
	if err != nil {
		return 0, err
	}
	return p.props.Values[idx], nil
}

func (p *Plane) lookup(prop Prop) (int, uint32, error) {
	if prop < 0 || prop >= numProps {
		return 0, 0, fmt.Errorf("%s: %w", prop, ErrPropertyNotFound)
	}

	if id := p.ids[prop]; id != 0 {
		for i, pid := range p.props.IDs {
			if pid == id {
				return i, id, nil
			}
		}
	}

	for i, pid := range p.props.IDs {
		def, err := p.dev.Property(pid)
		if err != nil {
			continue
		}
		if def.Name == propNames[prop] {
			p.ids[prop] = pid
			return i, pid, nil
		}
	}
	return 0, 0, fmt.Errorf("plane %d %s: %w", p.ID, prop, ErrPropertyNotFound)
}

// Type returns the plane type. Planes without a type property are overlays.
func (p *Plane) Type() Type {
	v, err := p.Value(PropType)
	if err != nil {
		return TypeOverlay
	}
	return Type(v)
}

// SetMax sets prop to the largest value it accepts.
func (p *Plane) SetMax(prop Prop) error {
	id, err := p.PropertyID(prop)
	if err != nil {
		return err
	}
	def, err := p.dev.Property(id)
	if err != nil {
		return fmt.Errorf("plane %d %s: %w", p.ID, prop, err)
	}
	if len(def.Values) == 0 {
		return fmt.Errorf("plane %d %s has no values", p.ID, prop)
	}

	var max uint64
	for _, v := range def.Values {
		if v > max {
			max = v
		}
	}
	if err := p.dev.SetObjectProperty(p.ID, drm.ObjectPlane, id, max); err != nil {
		return fmt.Errorf("plane %d %s=%d: %w", p.ID, prop, max, err)
	}
	return nil
}
