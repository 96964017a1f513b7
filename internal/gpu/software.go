package gpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
	"golang.org/x/sys/unix"
)

// DMA_BUF_IOCTL_SYNC = _IOW('b', 0, struct dma_buf_sync)
const (
	dmaBufIoctlSync = 0x40086200
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

// sourceMapper maps a dma-buf for reading and returns a release func.
type sourceMapper func(fd, size int) ([]byte, func(), error)

// Software copies cursor pixels on the CPU into a ring of dumb buffers.
// It only produces linear ARGB8888 framebuffers.
type Software struct {
	dev       DumbDevice
	bufs      []*drm.DumbBuffer
	ring      ring
	width     int
	height    int
	mapSource sourceMapper
}

// NewSoftware allocates the dumb buffer ring.
func NewSoftware(dev DumbDevice, opts Options) (*Software, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	if opts.Modifier != drm.ModifierLinear {
		return nil, fmt.Errorf("CPU backend cannot render modifier %#x", opts.Modifier)
	}

	s := &Software{
		dev:       dev,
		ring:      newRing(opts.NumSurfaces),
		mapSource: mapDmabuf,
	}
	if err := s.allocate(opts.Width, opts.Height); err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("CPU backend ready", "surfaces", s.ring.size, "size", fmt.Sprintf("%dx%d", s.width, s.height))
	return s, nil
}

func (s *Software) allocate(width, height int) error {
	s.release()
	s.width, s.height = width, height
	for i := 0; i < s.ring.size; i++ {
		b, err := s.dev.CreateDumb(uint32(width), uint32(height), 32)
		if err != nil {
			return fmt.Errorf("allocate surface %d: %w", i, err)
		}
		s.bufs = append(s.bufs, b)
	}
	return nil
}

func (s *Software) release() {
	for _, b := range s.bufs {
		if err := s.dev.DestroyDumb(b); err != nil {
			logger.Debug("destroy dumb buffer", "handle", b.Handle, "error", err)
		}
	}
	s.bufs = nil
}

// Convert copies the source buffer into the next ring slot.
func (s *Software) Convert(handle uint32, width, height, cropX, cropY int) (uint32, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid cursor size %dx%d", width, height)
	}
	if width != s.width || height != s.height {
		if err := s.allocate(width, height); err != nil {
			return 0, fmt.Errorf("rebuild surfaces: %w", err)
		}
	}

	fd, err := s.dev.PrimeHandleToFD(handle)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	src, done, err := s.mapSource(fd, width*height*4)
	if err != nil {
		return 0, fmt.Errorf("map source buffer: %w", err)
	}
	dst := s.bufs[s.ring.next()]
	blit(dst.Data, int(dst.Pitch), src, width*4, width, height, cropX, cropY)
	done()

	fb, err := registerFB(s.dev, dst.Handle, uint32(width), uint32(height), dst.Pitch,
		drm.FormatARGB8888, drm.ModifierLinear)
	if err != nil {
		return 0, fmt.Errorf("register framebuffer: %w", err)
	}
	return fb, nil
}

// Close frees the ring.
func (s *Software) Close() error {
	s.release()
	return nil
}

// blit copies a width×height 32bpp image so that source pixel (x, y) lands
// at (x+cropX, y+cropY). Uncovered pixels become transparent.
func blit(dst []byte, dstPitch int, src []byte, srcPitch, width, height, cropX, cropY int) {
	for dy := 0; dy < height; dy++ {
		row := dst[dy*dstPitch : dy*dstPitch+width*4]
		sy := dy - cropY
		if sy < 0 || sy >= height {
			clear(row)
			continue
		}

		x0 := min(max(0, cropX), width)
		x1 := max(min(width, width+cropX), 0)
		clear(row[:x0*4])
		clear(row[x1*4:])
		if x1 > x0 {
			sx := x0 - cropX
			copy(row[x0*4:x1*4], src[sy*srcPitch+sx*4:])
		}
	}
}

func syncDmabuf(fd int, flags uint64) error {
	arg := flags
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), dmaBufIoctlSync, uintptr(unsafe.Pointer(&arg)))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func mapDmabuf(fd, size int) ([]byte, func(), error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	if err := syncDmabuf(fd, dmaBufSyncStart|dmaBufSyncRead); err != nil && !errors.Is(err, unix.ENOTTY) {
		logger.Debug("dma-buf sync start", "error", err)
	}
	return data, func() {
		syncDmabuf(fd, dmaBufSyncEnd|dmaBufSyncRead)
		unix.Munmap(data)
	}, nil
}
