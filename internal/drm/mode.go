package drm

import (
	"bytes"
	"fmt"
	"runtime"
	"unsafe"
)

type setClientCap struct {
	Capability uint64
	Value      uint64
}

type modeCardRes struct {
	FbIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFbs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

type modeInfo struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

type modeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FbID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             modeInfo
}

type modeGetPlaneRes struct {
	PlaneIDPtr  uint64
	CountPlanes uint32
	_           uint32
}

type modeGetPlane struct {
	PlaneID          uint32
	CrtcID           uint32
	FbID             uint32
	PossibleCrtcs    uint32
	GammaSize        uint32
	CountFormatTypes uint32
	FormatTypePtr    uint64
}

type modeSetPlane struct {
	PlaneID uint32
	CrtcID  uint32
	FbID    uint32
	Flags   uint32
	CrtcX   int32
	CrtcY   int32
	CrtcW   uint32
	CrtcH   uint32
	SrcX    uint32
	SrcY    uint32
	SrcH    uint32
	SrcW    uint32
}

type modeObjGetProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
	_             uint32
}

type modeObjSetProperty struct {
	Value   uint64
	PropID  uint32
	ObjID   uint32
	ObjType uint32
	_       uint32
}

type modeGetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [propertyNameLen]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

type modePropertyEnum struct {
	Value uint64
	Name  [propertyNameLen]byte
}

type modeGetBlob struct {
	BlobID uint32
	Length uint32
	Data   uint64
}

type modeAtomic struct {
	Flags         uint32
	CountObjs     uint32
	ObjsPtr       uint64
	CountPropsPtr uint64
	PropsPtr      uint64
	PropValuesPtr uint64
	Reserved      uint64
	UserData      uint64
}

// Resources lists the mode objects of a card.
type Resources struct {
	FBs        []uint32
	CRTCs      []uint32
	Connectors []uint32
	Encoders   []uint32
	MinWidth   uint32
	MaxWidth   uint32
	MinHeight  uint32
	MaxHeight  uint32
}

// Crtc is the current configuration of a CRTC.
type Crtc struct {
	ID        uint32
	FbID      uint32
	X, Y      uint32
	ModeValid bool
	Width     int
	Height    int
	ModeName  string
}

// Plane describes a plane object.
type Plane struct {
	ID            uint32
	CrtcID        uint32
	FbID          uint32
	PossibleCrtcs uint32
	Formats       []uint32
}

// Property flags.
const (
	PropPending   = 1 << 0
	PropRange     = 1 << 1
	PropImmutable = 1 << 2
	PropEnum      = 1 << 3
	PropBlob      = 1 << 4
	PropBitmask   = 1 << 5
)

// Property is a mode property definition.
type Property struct {
	ID     uint32
	Flags  uint32
	Name   string
	Values []uint64
	Enums  map[string]uint64
}

// ObjectProperties holds the property ids and current values of an object.
type ObjectProperties struct {
	IDs    []uint32
	Values []uint64
}

// AtomicProperty is a single object/property/value triple of an atomic
// request.
type AtomicProperty struct {
	Object   uint32
	Property uint32
	Value    uint64
}

// PlaneUpdate holds the arguments of a legacy SETPLANE call. Source
// coordinates are 16.16 fixed point.
type PlaneUpdate struct {
	PlaneID uint32
	CrtcID  uint32
	FbID    uint32
	Flags   uint32
	CrtcX   int32
	CrtcY   int32
	CrtcW   uint32
	CrtcH   uint32
	SrcX    uint32
	SrcY    uint32
	SrcW    uint32
	SrcH    uint32
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// SetClientCap enables a client capability such as universal planes.
func (d *Device) SetClientCap(capability, value uint64) error {
	arg := setClientCap{Capability: capability, Value: value}
	if err := d.ioctl(ioctlSetClientCap, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("SET_CLIENT_CAP %d: %w", capability, err)
	}
	return nil
}

// Resources returns the card's CRTCs, connectors, encoders and framebuffers.
func (d *Device) Resources() (*Resources, error) {
	for {
		var res modeCardRes
		if err := d.ioctl(ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
			return nil, fmt.Errorf("MODE_GETRESOURCES (count): %w", err)
		}

		out := &Resources{
			FBs:        make([]uint32, res.CountFbs),
			CRTCs:      make([]uint32, res.CountCrtcs),
			Connectors: make([]uint32, res.CountConnectors),
			Encoders:   make([]uint32, res.CountEncoders),
		}
		counts := res
		res.FbIDPtr = sliceAddr(out.FBs)
		res.CrtcIDPtr = sliceAddr(out.CRTCs)
		res.ConnectorIDPtr = sliceAddr(out.Connectors)
		res.EncoderIDPtr = sliceAddr(out.Encoders)
		err := d.ioctl(ioctlModeGetResources, unsafe.Pointer(&res))
		runtime.KeepAlive(out)
		if err != nil {
			return nil, fmt.Errorf("MODE_GETRESOURCES: %w", err)
		}

		// Objects may appear between the two calls; start over.
		if res.CountFbs > counts.CountFbs || res.CountCrtcs > counts.CountCrtcs ||
			res.CountConnectors > counts.CountConnectors || res.CountEncoders > counts.CountEncoders {
			continue
		}
		out.FBs = out.FBs[:res.CountFbs]
		out.CRTCs = out.CRTCs[:res.CountCrtcs]
		out.Connectors = out.Connectors[:res.CountConnectors]
		out.Encoders = out.Encoders[:res.CountEncoders]
		out.MinWidth, out.MaxWidth = res.MinWidth, res.MaxWidth
		out.MinHeight, out.MaxHeight = res.MinHeight, res.MaxHeight
		return out, nil
	}
}

// Crtc returns the current state of a CRTC. Width and Height are the
// active mode's resolution and are zero when no mode is set.
func (d *Device) Crtc(id uint32) (*Crtc, error) {
	arg := modeCrtc{CrtcID: id}
	if err := d.ioctl(ioctlModeGetCrtc, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_GETCRTC %d: %w", id, err)
	}
	c := &Crtc{
		ID:        arg.CrtcID,
		FbID:      arg.FbID,
		X:         arg.X,
		Y:         arg.Y,
		ModeValid: arg.ModeValid != 0,
	}
	if c.ModeValid {
		c.Width = int(arg.Mode.Hdisplay)
		c.Height = int(arg.Mode.Vdisplay)
		c.ModeName = cstring(arg.Mode.Name[:])
	}
	return c, nil
}

// PlaneResources returns the ids of every plane. Universal planes must be
// enabled to see primary and cursor planes.
func (d *Device) PlaneResources() ([]uint32, error) {
	var arg modeGetPlaneRes
	if err := d.ioctl(ioctlModeGetPlaneRes, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_GETPLANERESOURCES (count): %w", err)
	}
	if arg.CountPlanes == 0 {
		return nil, nil
	}
	ids := make([]uint32, arg.CountPlanes)
	arg.PlaneIDPtr = sliceAddr(ids)
	err := d.ioctl(ioctlModeGetPlaneRes, unsafe.Pointer(&arg))
	runtime.KeepAlive(ids)
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPLANERESOURCES: %w", err)
	}
	return ids[:min(int(arg.CountPlanes), len(ids))], nil
}

// Plane returns a plane object and its format list.
func (d *Device) Plane(id uint32) (*Plane, error) {
	arg := modeGetPlane{PlaneID: id}
	if err := d.ioctl(ioctlModeGetPlane, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_GETPLANE %d (count): %w", id, err)
	}
	formats := make([]uint32, arg.CountFormatTypes)
	if len(formats) > 0 {
		arg.FormatTypePtr = sliceAddr(formats)
		err := d.ioctl(ioctlModeGetPlane, unsafe.Pointer(&arg))
		runtime.KeepAlive(formats)
		if err != nil {
			return nil, fmt.Errorf("MODE_GETPLANE %d: %w", id, err)
		}
		formats = formats[:min(int(arg.CountFormatTypes), len(formats))]
	}
	return &Plane{
		ID:            arg.PlaneID,
		CrtcID:        arg.CrtcID,
		FbID:          arg.FbID,
		PossibleCrtcs: arg.PossibleCrtcs,
		Formats:       formats,
	}, nil
}

// ObjectProperties returns the property ids and values attached to a mode
// object.
func (d *Device) ObjectProperties(objID, objType uint32) (*ObjectProperties, error) {
	arg := modeObjGetProperties{ObjID: objID, ObjType: objType}
	if err := d.ioctl(ioctlModeObjGetProps, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_OBJ_GETPROPERTIES %d (count): %w", objID, err)
	}
	props := &ObjectProperties{
		IDs:    make([]uint32, arg.CountProps),
		Values: make([]uint64, arg.CountProps),
	}
	if arg.CountProps == 0 {
		return props, nil
	}
	arg.PropsPtr = sliceAddr(props.IDs)
	arg.PropValuesPtr = sliceAddr(props.Values)
	err := d.ioctl(ioctlModeObjGetProps, unsafe.Pointer(&arg))
	runtime.KeepAlive(props)
	if err != nil {
		return nil, fmt.Errorf("MODE_OBJ_GETPROPERTIES %d: %w", objID, err)
	}
	n := min(int(arg.CountProps), len(props.IDs))
	props.IDs, props.Values = props.IDs[:n], props.Values[:n]
	return props, nil
}

// Property returns a property definition with its allowed values.
func (d *Device) Property(id uint32) (*Property, error) {
	arg := modeGetProperty{PropID: id}
	if err := d.ioctl(ioctlModeGetProperty, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_GETPROPERTY %d (count): %w", id, err)
	}
	p := &Property{
		ID:     id,
		Flags:  arg.Flags,
		Name:   cstring(arg.Name[:]),
		Values: make([]uint64, arg.CountValues),
	}

	// Blob properties report blob ids through the enum array; skip them.
	var enums []modePropertyEnum
	if arg.Flags&(PropEnum|PropBitmask) != 0 && arg.CountEnumBlobs > 0 {
		enums = make([]modePropertyEnum, arg.CountEnumBlobs)
	}
	if len(p.Values) == 0 && len(enums) == 0 {
		return p, nil
	}

	arg.ValuesPtr = sliceAddr(p.Values)
	arg.EnumBlobPtr = sliceAddr(enums)
	if len(enums) == 0 {
		arg.CountEnumBlobs = 0
	}
	err := d.ioctl(ioctlModeGetProperty, unsafe.Pointer(&arg))
	runtime.KeepAlive(p.Values)
	runtime.KeepAlive(enums)
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPERTY %d: %w", id, err)
	}
	p.Values = p.Values[:min(int(arg.CountValues), len(p.Values))]
	if len(enums) > 0 {
		p.Enums = make(map[string]uint64, len(enums))
		for _, e := range enums[:min(int(arg.CountEnumBlobs), len(enums))] {
			p.Enums[cstring(e.Name[:])] = e.Value
		}
	}
	return p, nil
}

// PropertyBlob returns the contents of a blob property.
func (d *Device) PropertyBlob(blobID uint32) ([]byte, error) {
	arg := modeGetBlob{BlobID: blobID}
	if err := d.ioctl(ioctlModeGetPropBlob, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("MODE_GETPROPBLOB %d (length): %w", blobID, err)
	}
	if arg.Length == 0 {
		return nil, nil
	}
	data := make([]byte, arg.Length)
	arg.Data = sliceAddr(data)
	err := d.ioctl(ioctlModeGetPropBlob, unsafe.Pointer(&arg))
	runtime.KeepAlive(data)
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPBLOB %d: %w", blobID, err)
	}
	return data[:min(int(arg.Length), len(data))], nil
}

// SetObjectProperty sets a single property through the legacy interface.
func (d *Device) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	arg := modeObjSetProperty{Value: value, PropID: propID, ObjID: objID, ObjType: objType}
	if err := d.ioctl(ioctlModeObjSetProperty, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("MODE_OBJ_SETPROPERTY %d/%d: %w", objID, propID, err)
	}
	return nil
}

// AtomicCommit submits props as one atomic request. Entries for the same
// object must be adjacent.
func (d *Device) AtomicCommit(flags uint32, props []AtomicProperty) error {
	if len(props) == 0 {
		return nil
	}

	var (
		objs       []uint32
		countProps []uint32
		propIDs    = make([]uint32, 0, len(props))
		values     = make([]uint64, 0, len(props))
	)
	for i, p := range props {
		if i == 0 || p.Object != props[i-1].Object {
			objs = append(objs, p.Object)
			countProps = append(countProps, 0)
		}
		countProps[len(countProps)-1]++
		propIDs = append(propIDs, p.Property)
		values = append(values, p.Value)
	}

	arg := modeAtomic{
		Flags:         flags,
		CountObjs:     uint32(len(objs)),
		ObjsPtr:       sliceAddr(objs),
		CountPropsPtr: sliceAddr(countProps),
		PropsPtr:      sliceAddr(propIDs),
		PropValuesPtr: sliceAddr(values),
	}
	err := d.ioctl(ioctlModeAtomic, unsafe.Pointer(&arg))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(countProps)
	runtime.KeepAlive(propIDs)
	runtime.KeepAlive(values)
	if err != nil {
		return fmt.Errorf("MODE_ATOMIC: %w", err)
	}
	return nil
}

// SetPlane performs a legacy plane update. A zero FbID disables the plane.
func (d *Device) SetPlane(u PlaneUpdate) error {
	arg := modeSetPlane{
		PlaneID: u.PlaneID,
		CrtcID:  u.CrtcID,
		FbID:    u.FbID,
		Flags:   u.Flags,
		CrtcX:   u.CrtcX,
		CrtcY:   u.CrtcY,
		CrtcW:   u.CrtcW,
		CrtcH:   u.CrtcH,
		SrcX:    u.SrcX,
		SrcY:    u.SrcY,
		SrcW:    u.SrcW,
		SrcH:    u.SrcH,
	}
	if err := d.ioctl(ioctlModeSetPlane, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("MODE_SETPLANE %d: %w", u.PlaneID, err)
	}
	return nil
}
