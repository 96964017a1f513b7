// Package drmtest provides an in-memory DRM device for tests.
package drmtest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bnema/drmcursor/internal/drm"
	"golang.org/x/sys/unix"
)

// PlaneSpec describes a fake plane.
type PlaneSpec struct {
	ID            uint32
	Type          uint64
	PossibleCrtcs uint32
	// Formats defaults to ARGB8888 and XRGB8888.
	Formats []uint32
	// InFormats adds an IN_FORMATS blob when set.
	InFormats *drm.FormatModifierSet
	// InFormatsBlob replaces the encoded InFormats when non-nil. An empty
	// slice leaves the blob id dangling.
	InFormatsBlob []byte
	// ZposMax adds a zpos range property [0, ZposMax] when non-zero.
	ZposMax uint64
	// AsyncCommit adds an ASYNC_COMMIT range property [0, 1].
	AsyncCommit bool
}

// Commit is a recorded plane update.
type Commit struct {
	Atomic bool
	Plane  uint32
	Crtc   uint32
	FB     uint32
	X, Y   int32
	W, H   uint32
	SrcW   uint32
	SrcH   uint32
	At     time.Time
}

// Framebuffer is a recorded AddFB/AddFB2 call.
type Framebuffer struct {
	ID       uint32
	Handle   uint32
	Width    uint32
	Height   uint32
	Format   uint32
	Modifier uint64
}

// Device is a fake DRM device. Atomic-only plane properties (CRTC_ID, FB_ID,
// SRC_*, CRTC_*) are hidden until the atomic client capability is set, as
// the kernel does.
type Device struct {
	mu sync.Mutex

	crtcs     []uint32
	crtcModes map[uint32][2]int
	gone      map[uint32]bool
	planes    []*PlaneSpec

	propIDs   map[string]uint32
	propDefs  map[uint32]*drm.Property
	blobs     map[uint32][]byte
	objValues map[uint32]map[uint32]uint64
	caps      map[uint64]uint64

	nextID  uint32
	commits []Commit
	fbs     map[uint32]Framebuffer
	removed []uint32
	sets    map[uint32]map[string]uint64
	primed  []uint32
	dumbs   int

	// Fault injection.
	AtomicErr   error
	SetPlaneErr error
	AddFBErr    error
	ResourceErr error
}

// ErrNoObject mimics ENOENT.
var ErrNoObject = unix.ENOENT

// New returns an empty fake device.
func New() *Device {
	return &Device{
		crtcModes: make(map[uint32][2]int),
		gone:      make(map[uint32]bool),
		propIDs:   make(map[string]uint32),
		propDefs:  make(map[uint32]*drm.Property),
		blobs:     make(map[uint32][]byte),
		objValues: make(map[uint32]map[uint32]uint64),
		caps:      make(map[uint64]uint64),
		fbs:       make(map[uint32]Framebuffer),
		sets:      make(map[uint32]map[string]uint64),
		nextID:    1000,
	}
}

// AddCrtc adds a CRTC with an active mode. A zero size leaves it without
// a mode.
func (d *Device) AddCrtc(id uint32, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crtcs = append(d.crtcs, id)
	d.crtcModes[id] = [2]int{width, height}
}

// SetMode changes the resolution of a CRTC.
func (d *Device) SetMode(id uint32, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crtcModes[id] = [2]int{width, height}
	delete(d.gone, id)
}

// Unplug makes GETCRTC fail for id.
func (d *Device) Unplug(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gone[id] = true
}

// AddPlane adds a plane.
func (d *Device) AddPlane(spec PlaneSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec.Formats == nil {
		spec.Formats = []uint32{drm.FormatXRGB8888, drm.FormatARGB8888}
	}
	s := spec
	d.planes = append(d.planes, &s)

	values := make(map[uint32]uint64)
	values[d.prop("type", drm.PropEnum, 0, 1, 2)] = spec.Type
	if spec.InFormats != nil || spec.InFormatsBlob != nil {
		d.nextID++
		blobID := d.nextID
		switch {
		case len(spec.InFormatsBlob) > 0:
			d.blobs[blobID] = spec.InFormatsBlob
		case spec.InFormats != nil && spec.InFormatsBlob == nil:
			d.blobs[blobID] = drm.EncodeFormatModifiers(spec.InFormats)
		}
		values[d.prop("IN_FORMATS", drm.PropBlob)] = uint64(blobID)
	}
	if spec.ZposMax > 0 {
		values[d.prop("zpos", drm.PropRange, 0, spec.ZposMax)] = 0
	}
	if spec.AsyncCommit {
		values[d.prop("ASYNC_COMMIT", drm.PropRange, 0, 1)] = 0
	}
	for _, name := range atomicProps {
		values[d.prop(name, drm.PropRange, 0, 1<<32)] = 0
	}
	d.objValues[spec.ID] = values
}

var atomicProps = []string{
	"CRTC_ID", "FB_ID",
	"SRC_X", "SRC_Y", "SRC_W", "SRC_H",
	"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
}

func isAtomicProp(name string) bool {
	for _, n := range atomicProps {
		if n == name {
			return true
		}
	}
	return false
}

func (d *Device) prop(name string, flags uint32, values ...uint64) uint32 {
	if id, ok := d.propIDs[name]; ok {
		return id
	}
	d.nextID++
	id := d.nextID
	d.propIDs[name] = id
	d.propDefs[id] = &drm.Property{ID: id, Flags: flags, Name: name, Values: values}
	return id
}

func (d *Device) findPlane(id uint32) *PlaneSpec {
	for _, p := range d.planes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// SetClientCap records the capability.
func (d *Device) SetClientCap(capability, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps[capability] = value
	return nil
}

// Cap returns the value set for a client capability.
func (d *Device) Cap(capability uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps[capability]
}

// Resources lists the fake CRTCs.
func (d *Device) Resources() (*drm.Resources, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ResourceErr != nil {
		return nil, d.ResourceErr
	}
	return &drm.Resources{CRTCs: append([]uint32(nil), d.crtcs...)}, nil
}

// Crtc returns the CRTC mode or ENOENT when unplugged.
func (d *Device) Crtc(id uint32) (*drm.Crtc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode, ok := d.crtcModes[id]
	if !ok || d.gone[id] {
		return nil, ErrNoObject
	}
	return &drm.Crtc{
		ID:        id,
		ModeValid: mode[0] > 0 && mode[1] > 0,
		Width:     mode[0],
		Height:    mode[1],
	}, nil
}

// PlaneResources lists plane ids in insertion order.
func (d *Device) PlaneResources() ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint32, 0, len(d.planes))
	for _, p := range d.planes {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Plane returns a plane.
func (d *Device) Plane(id uint32) (*drm.Plane, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.findPlane(id)
	if p == nil {
		return nil, ErrNoObject
	}
	return &drm.Plane{
		ID:            p.ID,
		PossibleCrtcs: p.PossibleCrtcs,
		Formats:       append([]uint32(nil), p.Formats...),
	}, nil
}

// ObjectProperties returns the plane properties visible with the current
// client capabilities, sorted by id.
func (d *Device) ObjectProperties(objID, objType uint32) (*drm.ObjectProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	values, ok := d.objValues[objID]
	if !ok {
		return nil, ErrNoObject
	}
	atomic := d.caps[drm.ClientCapAtomic] == 1

	ids := make([]uint32, 0, len(values))
	for id := range values {
		if !atomic && isAtomicProp(d.propDefs[id].Name) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	props := &drm.ObjectProperties{IDs: ids, Values: make([]uint64, len(ids))}
	for i, id := range ids {
		props.Values[i] = values[id]
	}
	return props, nil
}

// Property returns a property definition.
func (d *Device) Property(id uint32) (*drm.Property, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.propDefs[id]
	if !ok {
		return nil, ErrNoObject
	}
	cp := *p
	cp.Values = append([]uint64(nil), p.Values...)
	return &cp, nil
}

// PropertyBlob returns blob contents.
func (d *Device) PropertyBlob(id uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blobs[id]
	if !ok {
		return nil, ErrNoObject
	}
	return append([]byte(nil), b...), nil
}

// SetObjectProperty stores a property value.
func (d *Device) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	values, ok := d.objValues[objID]
	if !ok {
		return ErrNoObject
	}
	if _, ok := values[propID]; !ok {
		return unix.EINVAL
	}
	values[propID] = value
	if d.sets[objID] == nil {
		d.sets[objID] = make(map[string]uint64)
	}
	d.sets[objID][d.propDefs[propID].Name] = value
	return nil
}

// PropertySet returns the last value set for a named property on an object.
func (d *Device) PropertySet(objID uint32, name string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.sets[objID][name]
	return v, ok
}

// AtomicCommit records the update.
func (d *Device) AtomicCommit(flags uint32, props []drm.AtomicProperty) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AtomicErr != nil {
		return d.AtomicErr
	}
	if len(props) == 0 {
		return nil
	}

	c := Commit{Atomic: true, Plane: props[0].Object, At: time.Now()}
	for _, p := range props {
		def, ok := d.propDefs[p.Property]
		if !ok {
			return unix.EINVAL
		}
		switch def.Name {
		case "CRTC_ID":
			c.Crtc = uint32(p.Value)
		case "FB_ID":
			c.FB = uint32(p.Value)
		case "CRTC_X":
			c.X = int32(p.Value)
		case "CRTC_Y":
			c.Y = int32(p.Value)
		case "CRTC_W":
			c.W = uint32(p.Value)
		case "CRTC_H":
			c.H = uint32(p.Value)
		case "SRC_W":
			c.SrcW = uint32(p.Value)
		case "SRC_H":
			c.SrcH = uint32(p.Value)
		}
	}
	d.commits = append(d.commits, c)
	return nil
}

// SetPlane records the update.
func (d *Device) SetPlane(u drm.PlaneUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetPlaneErr != nil {
		return d.SetPlaneErr
	}
	d.commits = append(d.commits, Commit{
		Plane: u.PlaneID,
		Crtc:  u.CrtcID,
		FB:    u.FbID,
		X:     u.CrtcX,
		Y:     u.CrtcY,
		W:     u.CrtcW,
		H:     u.CrtcH,
		SrcW:  u.SrcW,
		SrcH:  u.SrcH,
		At:    time.Now(),
	})
	return nil
}

// Commits returns a copy of the recorded plane updates.
func (d *Device) Commits() []Commit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Commit(nil), d.commits...)
}

// AddFB allocates a framebuffer id.
func (d *Device) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	return d.addFB(Framebuffer{Handle: handle, Width: width, Height: height, Format: drm.FormatARGB8888})
}

// AddFB2 allocates a framebuffer id.
func (d *Device) AddFB2(l drm.FramebufferLayout) (uint32, error) {
	return d.addFB(Framebuffer{
		Handle:   l.Handles[0],
		Width:    l.Width,
		Height:   l.Height,
		Format:   l.Format,
		Modifier: l.Modifiers[0],
	})
}

func (d *Device) addFB(fb Framebuffer) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AddFBErr != nil {
		return 0, d.AddFBErr
	}
	d.nextID++
	fb.ID = d.nextID
	d.fbs[fb.ID] = fb
	return fb.ID, nil
}

// RmFB frees a framebuffer id.
func (d *Device) RmFB(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fbs[id]; !ok {
		return ErrNoObject
	}
	delete(d.fbs, id)
	d.removed = append(d.removed, id)
	return nil
}

// LiveFramebuffers returns the ids of framebuffers not yet removed.
func (d *Device) LiveFramebuffers() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint32, 0, len(d.fbs))
	for id := range d.fbs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Removed returns removed framebuffer ids in order.
func (d *Device) Removed() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.removed...)
}

// ErrInjected is a generic failure for fault injection.
var ErrInjected = errors.New("injected failure")

// Inject runs f with the device locked, for changing the fault injection
// fields while other goroutines use the device.
func (d *Device) Inject(f func(d *Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(d)
}

// Fd returns an invalid descriptor; the fake has no device node.
func (d *Device) Fd() int { return -1 }

// PrimeHandleToFD returns a descriptor for /dev/null so callers can close
// it safely.
func (d *Device) PrimeHandleToFD(handle uint32) (int, error) {
	d.mu.Lock()
	d.primed = append(d.primed, handle)
	d.mu.Unlock()
	return unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

// Primed returns the handles exported so far.
func (d *Device) Primed() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.primed...)
}

// CreateDumb allocates an in-memory dumb buffer with a 64-byte aligned
// pitch.
func (d *Device) CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pitch := (width*bpp/8 + 63) &^ 63
	d.nextID++
	b := &drm.DumbBuffer{
		Handle: d.nextID,
		Width:  width,
		Height: height,
		Pitch:  pitch,
		Size:   uint64(pitch * height),
		Data:   make([]byte, pitch*height),
	}
	d.dumbs++
	return b, nil
}

// DestroyDumb frees a dumb buffer.
func (d *Device) DestroyDumb(b *drm.DumbBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.Data = nil
	d.dumbs--
	return nil
}

// LiveDumbs returns the number of dumb buffers not yet destroyed.
func (d *Device) LiveDumbs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dumbs
}
