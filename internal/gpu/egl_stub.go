//go:build !cgo

package gpu

// EGL is not available without cgo.
type EGL struct{}

// NewEGL always fails with ErrUnsupported.
func NewEGL(dev Device, opts Options) (*EGL, error) {
	return nil, ErrUnsupported
}

func (e *EGL) Convert(handle uint32, width, height, cropX, cropY int) (uint32, error) {
	return 0, ErrUnsupported
}

func (e *EGL) Close() error { return nil }
