package plane

import (
	"testing"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/drm/drmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFormatSupport(t *testing.T) {
	tests := []struct {
		name       string
		spec       drmtest.PlaneSpec
		wantLinear bool
		wantAFBC   bool
	}{
		{
			name:       "no IN_FORMATS means linear",
			spec:       drmtest.PlaneSpec{ID: 31},
			wantLinear: true,
		},
		{
			name: "no ARGB8888 at all",
			spec: drmtest.PlaneSpec{ID: 31, Formats: []uint32{drm.FormatXRGB8888}},
		},
		{
			name: "linear and afbc",
			spec: drmtest.PlaneSpec{ID: 31, InFormats: &drm.FormatModifierSet{
				Formats: []uint32{drm.FormatARGB8888},
				Modifiers: []drm.FormatModifier{
					{Formats: 1, Modifier: drm.ModifierLinear},
					{Formats: 1, Modifier: drm.ModifierAFBC},
				},
			}},
			wantLinear: true,
			wantAFBC:   true,
		},
		{
			name: "afbc only",
			spec: drmtest.PlaneSpec{ID: 31, InFormats: &drm.FormatModifierSet{
				Formats:   []uint32{drm.FormatARGB8888},
				Modifiers: []drm.FormatModifier{{Formats: 1, Modifier: drm.ModifierAFBC}},
			}},
			wantAFBC: true,
		},
		{
			name: "listed without modifiers means linear",
			spec: drmtest.PlaneSpec{ID: 31, InFormats: &drm.FormatModifierSet{
				Formats: []uint32{drm.FormatARGB8888},
			}},
			wantLinear: true,
		},
		{
			name: "not listed in IN_FORMATS",
			spec: drmtest.PlaneSpec{ID: 31, InFormats: &drm.FormatModifierSet{
				Formats: []uint32{drm.FormatXRGB8888},
			}},
		},
		{
			name: "IN_FORMATS blob missing",
			spec: drmtest.PlaneSpec{ID: 31, InFormatsBlob: []byte{}},
		},
		{
			name: "IN_FORMATS blob truncated",
			spec: drmtest.PlaneSpec{ID: 31, InFormatsBlob: make([]byte, 8)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := drmtest.New()
			dev.AddPlane(tt.spec)

			p, err := Discover(dev, tt.spec.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLinear, p.CanLinear)
			assert.Equal(t, tt.wantAFBC, p.CanAFBC)
			assert.Equal(t, tt.wantLinear || tt.wantAFBC, p.Supported())
		})
	}
}

func TestDiscoverUnknownPlane(t *testing.T) {
	_, err := Discover(drmtest.New(), 99)
	assert.Error(t, err)
}

func TestPlaneType(t *testing.T) {
	dev := drmtest.New()
	dev.AddPlane(drmtest.PlaneSpec{ID: 31, Type: uint64(TypeCursor)})
	dev.AddPlane(drmtest.PlaneSpec{ID: 32, Type: uint64(TypePrimary)})

	p, err := Discover(dev, 31)
	require.NoError(t, err)
	assert.Equal(t, TypeCursor, p.Type())

	p, err = Discover(dev, 32)
	require.NoError(t, err)
	assert.Equal(t, TypePrimary, p.Type())
	assert.Equal(t, "primary", p.Type().String())
}

func TestPropertyLookupNotFound(t *testing.T) {
	dev := drmtest.New()
	dev.AddPlane(drmtest.PlaneSpec{ID: 31})

	p, err := Discover(dev, 31)
	require.NoError(t, err)

	// Atomic-only properties are hidden until the capability is set.
	_, err = p.PropertyID(PropFbID)
	assert.ErrorIs(t, err, ErrPropertyNotFound)

	_, err = p.PropertyID(PropZpos)
	assert.ErrorIs(t, err, ErrPropertyNotFound)

	_, err = p.PropertyID(numProps)
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestRefreshAfterAtomicCap(t *testing.T) {
	dev := drmtest.New()
	dev.AddPlane(drmtest.PlaneSpec{ID: 31})

	p, err := Discover(dev, 31)
	require.NoError(t, err)

	require.NoError(t, dev.SetClientCap(drm.ClientCapAtomic, 1))
	require.NoError(t, p.Refresh())

	id, err := p.PropertyID(PropFbID)
	require.NoError(t, err)
	assert.NotZero(t, id)

	// Cached lookup returns the same id.
	again, err := p.PropertyID(PropFbID)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSetMax(t *testing.T) {
	dev := drmtest.New()
	dev.AddPlane(drmtest.PlaneSpec{ID: 31, ZposMax: 7, AsyncCommit: true})

	p, err := Discover(dev, 31)
	require.NoError(t, err)

	require.NoError(t, p.SetMax(PropZpos))
	v, ok := dev.PropertySet(31, "zpos")
	require.True(t, ok)
	assert.Equal(t, uint64(7), v)

	require.NoError(t, p.SetMax(PropAsyncCommit))
	v, ok = dev.PropertySet(31, "ASYNC_COMMIT")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	assert.ErrorIs(t, p.SetMax(PropZposUpper), ErrPropertyNotFound)
}

func TestAttachedTo(t *testing.T) {
	p := &Plane{PossibleCrtcs: 0b101}
	assert.True(t, p.AttachedTo(0))
	assert.False(t, p.AttachedTo(1))
	assert.True(t, p.AttachedTo(2))
	assert.False(t, p.AttachedTo(-1))
	assert.False(t, p.AttachedTo(40))
}

func TestPropString(t *testing.T) {
	assert.Equal(t, "IN_FORMATS", PropInFormats.String())
	assert.Equal(t, "CRTC_H", PropCrtcH.String())
	assert.Equal(t, "Prop(99)", Prop(99).String())
}
