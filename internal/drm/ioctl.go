// Package drm is a small kernel mode-setting client built directly on the
// DRM ioctl interface. It covers what a cursor compositor needs: planes,
// properties, atomic and legacy plane updates, framebuffers and dumb buffers.
package drm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl encoding:
//
//	_IOC(dir, type, nr, size) = dir<<30 | size<<16 | type<<8 | nr
const (
	iocWrite = 1
	iocRead  = 2

	drmIoctlBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | drmIoctlBase<<8 | nr
}

func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }
func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

var (
	ioctlSetClientCap       = iow(0x0d, unsafe.Sizeof(setClientCap{}))
	ioctlPrimeHandleToFD    = iowr(0x2d, unsafe.Sizeof(primeHandle{}))
	ioctlModeGetResources   = iowr(0xa0, unsafe.Sizeof(modeCardRes{}))
	ioctlModeGetCrtc        = iowr(0xa1, unsafe.Sizeof(modeCrtc{}))
	ioctlModeGetProperty    = iowr(0xaa, unsafe.Sizeof(modeGetProperty{}))
	ioctlModeGetPropBlob    = iowr(0xac, unsafe.Sizeof(modeGetBlob{}))
	ioctlModeAddFB          = iowr(0xae, unsafe.Sizeof(modeFBCmd{}))
	ioctlModeRmFB           = iowr(0xaf, unsafe.Sizeof(uint32(0)))
	ioctlModeCreateDumb     = iowr(0xb2, unsafe.Sizeof(modeCreateDumb{}))
	ioctlModeMapDumb        = iowr(0xb3, unsafe.Sizeof(modeMapDumb{}))
	ioctlModeDestroyDumb    = iowr(0xb4, unsafe.Sizeof(modeDestroyDumb{}))
	ioctlModeGetPlaneRes    = iowr(0xb5, unsafe.Sizeof(modeGetPlaneRes{}))
	ioctlModeGetPlane       = iowr(0xb6, unsafe.Sizeof(modeGetPlane{}))
	ioctlModeSetPlane       = iowr(0xb7, unsafe.Sizeof(modeSetPlane{}))
	ioctlModeAddFB2         = iowr(0xb8, unsafe.Sizeof(modeFBCmd2{}))
	ioctlModeObjGetProps    = iowr(0xb9, unsafe.Sizeof(modeObjGetProperties{}))
	ioctlModeObjSetProperty = iowr(0xba, unsafe.Sizeof(modeObjSetProperty{}))
	ioctlModeAtomic         = iowr(0xbc, unsafe.Sizeof(modeAtomic{}))
)

// Client capabilities.
const (
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3
)

// Mode object types.
const (
	ObjectCrtc  = 0xcccccccc
	ObjectPlane = 0xeeeeeeee
)

// AtomicNonblock queues an atomic commit without waiting for vblank.
const AtomicNonblock = 0x0200

// ModeFBModifiers tells ADDFB2 that the modifier array is valid.
const ModeFBModifiers = 1 << 1

const (
	DefaultCardPath = "/dev/dri/card0"
	propertyNameLen = 32
)

// Device is an open DRM device node.
type Device struct {
	fd    int
	owned bool
}

// Open opens a DRM device node for reading and writing.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{fd: fd, owned: true}, nil
}

// NewDevice wraps a descriptor owned by someone else. Close is a no-op.
func NewDevice(fd int) *Device {
	return &Device{fd: fd}
}

// Fd returns the underlying file descriptor.
func (d *Device) Fd() int { return d.fd }

// Close closes the device if it was opened by Open.
func (d *Device) Close() error {
	if !d.owned || d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// IsDevice reports whether fd refers to a DRM character device.
func IsDevice(fd int) bool {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false
	}
	// DRM_MAJOR
	return st.Mode&unix.S_IFMT == unix.S_IFCHR && unix.Major(uint64(st.Rdev)) == 226
}

// ioctl retries on EINTR and EAGAIN the way libdrm's drmIoctl does.
func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func sliceAddr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

// DefaultCard returns the card path from DRM_CURSOR_DEVICE or the default.
func DefaultCard() string {
	if p := os.Getenv("DRM_CURSOR_DEVICE"); p != "" {
		return p
	}
	return DefaultCardPath
}
