package cmd

import (
	"testing"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(size uint32) *drm.DumbBuffer {
	return &drm.DumbBuffer{
		Width:  size,
		Height: size,
		Pitch:  size * 4,
		Data:   make([]byte, size*size*4),
	}
}

func pixel(b *drm.DumbBuffer, x, y int) []byte {
	off := y*int(b.Pitch) + x*4
	return b.Data[off : off+4]
}

func TestFillCursor(t *testing.T) {
	t.Run("gradient", func(t *testing.T) {
		buf := newTestBuffer(16)
		require.NoError(t, fillCursor(buf, "gradient"))
		assert.Equal(t, []byte{0, 2, 6, 0x4f}, pixel(buf, 3, 2))
	})

	t.Run("arrow", func(t *testing.T) {
		buf := newTestBuffer(16)
		require.NoError(t, fillCursor(buf, "arrow"))
		assert.Equal(t, byte(0xff), pixel(buf, 2, 6)[3])
		assert.Equal(t, byte(0), pixel(buf, 15, 0)[3])
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, fillCursor(newTestBuffer(16), "star"))
	})
}
