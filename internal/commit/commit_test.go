package commit

import (
	"testing"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/drm/drmtest"
	"github.com/bnema/drmcursor/internal/plane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, atomicCap bool) (*drmtest.Device, *plane.Plane) {
	t.Helper()
	dev := drmtest.New()
	dev.AddCrtc(41, 1920, 1080)
	dev.AddPlane(drmtest.PlaneSpec{ID: 31, PossibleCrtcs: 1})
	if atomicCap {
		require.NoError(t, dev.SetClientCap(drm.ClientCapAtomic, 1))
	}
	p, err := plane.Discover(dev, 31)
	require.NoError(t, err)
	return dev, p
}

func TestAtomicEnable(t *testing.T) {
	dev, p := setup(t, true)
	c := New(dev, true)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 77, 100, 200, 64, 64))

	commits := dev.Commits()
	require.Len(t, commits, 1)
	got := commits[0]
	assert.True(t, got.Atomic)
	assert.Equal(t, uint32(31), got.Plane)
	assert.Equal(t, uint32(41), got.Crtc)
	assert.Equal(t, uint32(77), got.FB)
	assert.Equal(t, int32(100), got.X)
	assert.Equal(t, int32(200), got.Y)
	assert.Equal(t, uint32(64), got.W)
	assert.Equal(t, uint32(64)<<16, got.SrcW)
	assert.Equal(t, uint32(64)<<16, got.SrcH)
	assert.False(t, c.AtomicDisabled())
}

func TestAtomicDisable(t *testing.T) {
	dev, p := setup(t, true)
	c := New(dev, true)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 0, 0, 0, 0, 0))

	commits := dev.Commits()
	require.Len(t, commits, 1)
	assert.True(t, commits[0].Atomic)
	assert.Zero(t, commits[0].Crtc)
	assert.Zero(t, commits[0].FB)
	assert.Zero(t, commits[0].SrcW)
}

func TestAtomicFailureFallsBackForGood(t *testing.T) {
	dev, p := setup(t, true)
	dev.AtomicErr = drmtest.ErrInjected
	c := New(dev, true)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 77, 10, 20, 64, 64))
	assert.True(t, c.AtomicDisabled())

	// Atomic would succeed now, but the downgrade is permanent.
	dev.AtomicErr = nil
	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 78, 11, 21, 64, 64))

	commits := dev.Commits()
	require.Len(t, commits, 2)
	for _, cm := range commits {
		assert.False(t, cm.Atomic)
	}
	assert.Equal(t, int32(11), commits[1].X)

	a, l := c.Counts()
	assert.Zero(t, a)
	assert.Equal(t, uint64(2), l)
}

func TestMissingPropertyFallsBack(t *testing.T) {
	// Without the atomic capability the plane has no FB_ID property.
	dev, p := setup(t, false)
	c := New(dev, true)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 77, 0, 0, 64, 64))
	assert.True(t, c.AtomicDisabled())

	commits := dev.Commits()
	require.Len(t, commits, 1)
	assert.False(t, commits[0].Atomic)
	assert.Equal(t, uint32(77), commits[0].FB)
}

func TestLegacyTarget(t *testing.T) {
	dev, p := setup(t, true)
	c := New(dev, true)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p, Legacy: true}, 77, 5, 6, 32, 32))
	assert.False(t, c.AtomicDisabled(), "legacy targets must not downgrade other outputs")

	commits := dev.Commits()
	require.Len(t, commits, 1)
	assert.False(t, commits[0].Atomic)
	assert.Equal(t, uint32(32)<<16, commits[0].SrcH)
}

func TestLegacyDisable(t *testing.T) {
	dev, p := setup(t, false)
	c := New(dev, false)

	require.NoError(t, c.Commit(Target{CrtcID: 41, Plane: p}, 0, 50, 50, 64, 64))
	commits := dev.Commits()
	require.Len(t, commits, 1)
	assert.Zero(t, commits[0].FB)
	assert.Zero(t, commits[0].X)
	assert.Zero(t, commits[0].W)
}

func TestLegacyFailure(t *testing.T) {
	dev, p := setup(t, false)
	dev.SetPlaneErr = drmtest.ErrInjected
	c := New(dev, false)

	err := c.Commit(Target{CrtcID: 41, Plane: p}, 77, 0, 0, 64, 64)
	assert.ErrorIs(t, err, drmtest.ErrInjected)
}
