package drm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type modeFBCmd struct {
	FbID   uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint32
	Depth  uint32
	Handle uint32
}

type modeFBCmd2 struct {
	FbID        uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Flags       uint32
	Handles     [4]uint32
	Pitches     [4]uint32
	Offsets     [4]uint32
	Modifier    [4]uint64
}

type primeHandle struct {
	Handle uint32
	Flags  uint32
	Fd     int32
}

type modeCreateDumb struct {
	Height uint32
	Width  uint32
	Bpp    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type modeMapDumb struct {
	Handle uint32
	_      uint32
	Offset uint64
}

type modeDestroyDumb struct {
	Handle uint32
}

// FramebufferLayout describes a multi-planar buffer for AddFB2.
type FramebufferLayout struct {
	Width     uint32
	Height    uint32
	Format    uint32
	Handles   [4]uint32
	Pitches   [4]uint32
	Offsets   [4]uint32
	Modifiers [4]uint64
	Flags     uint32
}

// AddFB registers a single-plane buffer object using the legacy depth/bpp
// interface and returns the framebuffer id.
func (d *Device) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	arg := modeFBCmd{
		Width:  width,
		Height: height,
		Pitch:  pitch,
		Bpp:    uint32(bpp),
		Depth:  uint32(depth),
		Handle: handle,
	}
	if err := d.ioctl(ioctlModeAddFB, unsafe.Pointer(&arg)); err != nil {
		return 0, fmt.Errorf("MODE_ADDFB: %w", err)
	}
	return arg.FbID, nil
}

// AddFB2 registers a buffer with an explicit fourcc format and optional
// modifiers.
func (d *Device) AddFB2(l FramebufferLayout) (uint32, error) {
	arg := modeFBCmd2{
		Width:       l.Width,
		Height:      l.Height,
		PixelFormat: l.Format,
		Flags:       l.Flags,
		Handles:     l.Handles,
		Pitches:     l.Pitches,
		Offsets:     l.Offsets,
		Modifier:    l.Modifiers,
	}
	if err := d.ioctl(ioctlModeAddFB2, unsafe.Pointer(&arg)); err != nil {
		return 0, fmt.Errorf("MODE_ADDFB2 %s: %w", FourCCString(l.Format), err)
	}
	return arg.FbID, nil
}

// RmFB removes a framebuffer.
func (d *Device) RmFB(fbID uint32) error {
	arg := fbID
	if err := d.ioctl(ioctlModeRmFB, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("MODE_RMFB %d: %w", fbID, err)
	}
	return nil
}

// PrimeHandleToFD exports a GEM handle as a dma-buf descriptor.
func (d *Device) PrimeHandleToFD(handle uint32) (int, error) {
	arg := primeHandle{Handle: handle, Flags: unix.O_CLOEXEC | unix.O_RDWR}
	if err := d.ioctl(ioctlPrimeHandleToFD, unsafe.Pointer(&arg)); err != nil {
		return -1, fmt.Errorf("PRIME_HANDLE_TO_FD %d: %w", handle, err)
	}
	return int(arg.Fd), nil
}

// DumbBuffer is a CPU-mappable scanout buffer.
type DumbBuffer struct {
	Handle uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Size   uint64
	Data   []byte
}

// CreateDumb allocates a dumb buffer and maps it into memory.
func (d *Device) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	create := modeCreateDumb{Width: width, Height: height, Bpp: bpp}
	if err := d.ioctl(ioctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, fmt.Errorf("MODE_CREATE_DUMB %dx%d: %w", width, height, err)
	}

	b := &DumbBuffer{
		Handle: create.Handle,
		Width:  width,
		Height: height,
		Pitch:  create.Pitch,
		Size:   create.Size,
	}

	mapArg := modeMapDumb{Handle: b.Handle}
	if err := d.ioctl(ioctlModeMapDumb, unsafe.Pointer(&mapArg)); err != nil {
		d.DestroyDumb(b)
		return nil, fmt.Errorf("MODE_MAP_DUMB: %w", err)
	}

	data, err := unix.Mmap(d.fd, int64(mapArg.Offset), int(b.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.DestroyDumb(b)
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}
	b.Data = data
	return b, nil
}

// DestroyDumb unmaps and frees a dumb buffer.
func (d *Device) DestroyDumb(b *DumbBuffer) error {
	if b.Data != nil {
		unix.Munmap(b.Data)
		b.Data = nil
	}
	arg := modeDestroyDumb{Handle: b.Handle}
	if err := d.ioctl(ioctlModeDestroyDumb, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("MODE_DESTROY_DUMB %d: %w", b.Handle, err)
	}
	return nil
}
