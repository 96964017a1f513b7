package drm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Pixel formats.
var (
	FormatARGB8888 = fourcc('A', 'R', '2', '4')
	FormatABGR8888 = fourcc('A', 'B', '2', '4')
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
)

// FourCCString renders a format code as its four characters.
func FourCCString(f uint32) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

const (
	vendorARM = 0x08

	afbcBlockSize16x16 = 1
	afbcSparse         = 1 << 6
)

// ModCode builds a vendor format modifier.
func ModCode(vendor uint8, value uint64) uint64 {
	return uint64(vendor)<<56 | value&0x00ffffffffffffff
}

// Format modifiers.
var (
	ModifierLinear uint64 = 0
	// ModifierAFBC is ARM frame buffer compression with 16x16 superblocks
	// and sparse layout.
	ModifierAFBC = ModCode(vendorARM, afbcSparse|afbcBlockSize16x16)
)

// ErrShortBlob is returned for truncated IN_FORMATS blobs.
var ErrShortBlob = errors.New("format modifier blob truncated")

const (
	formatModifierHeaderSize = 24
	formatModifierEntrySize  = 24
)

// FormatModifier is one entry of an IN_FORMATS blob. Bit i of Formats
// refers to format index Offset+i.
type FormatModifier struct {
	Formats  uint64
	Offset   uint32
	Modifier uint64
}

// FormatModifierSet is the decoded IN_FORMATS blob of a plane.
type FormatModifierSet struct {
	Formats   []uint32
	Modifiers []FormatModifier
}

// ParseFormatModifiers decodes a struct drm_format_modifier_blob.
func ParseFormatModifiers(blob []byte) (*FormatModifierSet, error) {
	if len(blob) < formatModifierHeaderSize {
		return nil, ErrShortBlob
	}
	ne := binary.NativeEndian
	countFormats := ne.Uint32(blob[8:])
	formatsOffset := ne.Uint32(blob[12:])
	countModifiers := ne.Uint32(blob[16:])
	modifiersOffset := ne.Uint32(blob[20:])

	fEnd := uint64(formatsOffset) + uint64(countFormats)*4
	mEnd := uint64(modifiersOffset) + uint64(countModifiers)*formatModifierEntrySize
	if fEnd > uint64(len(blob)) || mEnd > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: %d formats at %d, %d modifiers at %d in %d bytes",
			ErrShortBlob, countFormats, formatsOffset, countModifiers, modifiersOffset, len(blob))
	}

	set := &FormatModifierSet{
		Formats:   make([]uint32, countFormats),
		Modifiers: make([]FormatModifier, countModifiers),
	}
	for i := range set.Formats {
		set.Formats[i] = ne.Uint32(blob[int(formatsOffset)+i*4:])
	}
	for i := range set.Modifiers {
		e := blob[int(modifiersOffset)+i*formatModifierEntrySize:]
		set.Modifiers[i] = FormatModifier{
			Formats:  ne.Uint64(e[0:]),
			Offset:   ne.Uint32(e[8:]),
			Modifier: ne.Uint64(e[16:]),
		}
	}
	return set, nil
}

// Lists reports whether format appears in the set at all.
func (s *FormatModifierSet) Lists(format uint32) bool {
	return s.index(format) >= 0
}

func (s *FormatModifierSet) index(format uint32) int {
	for i, f := range s.Formats {
		if f == format {
			return i
		}
	}
	return -1
}

// Supports reports whether format can be scanned out with modifier.
func (s *FormatModifierSet) Supports(format uint32, modifier uint64) bool {
	idx := s.index(format)
	if idx < 0 {
		return false
	}

	for _, m := range s.Modifiers {
		if m.Modifier != modifier {
			continue
		}
		if uint32(idx) < m.Offset || uint32(idx) > m.Offset+63 {
			continue
		}
		if m.Formats&(1<<(uint32(idx)-m.Offset)) != 0 {
			return true
		}
	}
	return false
}

// EncodeFormatModifiers builds an IN_FORMATS blob. The kernel is the usual
// producer; this exists for fakes and tooling.
func EncodeFormatModifiers(set *FormatModifierSet) []byte {
	ne := binary.NativeEndian
	formatsOffset := formatModifierHeaderSize
	modifiersOffset := formatsOffset + len(set.Formats)*4
	// modifiers are 8-byte aligned
	modifiersOffset = (modifiersOffset + 7) &^ 7
	blob := make([]byte, modifiersOffset+len(set.Modifiers)*formatModifierEntrySize)

	ne.PutUint32(blob[0:], 1)
	ne.PutUint32(blob[8:], uint32(len(set.Formats)))
	ne.PutUint32(blob[12:], uint32(formatsOffset))
	ne.PutUint32(blob[16:], uint32(len(set.Modifiers)))
	ne.PutUint32(blob[20:], uint32(modifiersOffset))
	for i, f := range set.Formats {
		ne.PutUint32(blob[formatsOffset+i*4:], f)
	}
	for i, m := range set.Modifiers {
		e := blob[modifiersOffset+i*formatModifierEntrySize:]
		ne.PutUint64(e[0:], m.Formats)
		ne.PutUint32(e[8:], m.Offset)
		ne.PutUint64(e[16:], m.Modifier)
	}
	return blob
}
