package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBitsAcrossByteBoundary(t *testing.T) {
	tests := []struct {
		name  string
		order ByteOrder
		want  []byte
	}{
		{"little endian", LittleEndian, []byte{0xB0, 0x0A}},
		{"big endian", BigEndian, []byte{0x0A, 0xB0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 2)
			StoreBits(buf, tt.order, LSB0, 4, 12, 0xAB)
			assert.Equal(t, tt.want, buf)
			assert.Equal(t, uint64(0xAB), LoadBits(buf, tt.order, LSB0, 4, 12))
		})
	}
}

func TestStoreBitsLeavesNeighboursAlone(t *testing.T) {
	buf := []byte{0xFF, 0xFF}
	StoreBits(buf, LittleEndian, LSB0, 3, 9, 0)
	assert.Equal(t, []byte{0x07, 0xFE}, buf)
}

func TestMSB0NumbersFromTheTop(t *testing.T) {
	tests := []struct {
		name  string
		order ByteOrder
		want  []byte
	}{
		{"little endian", LittleEndian, []byte{0x00, 0xA0}},
		{"big endian", BigEndian, []byte{0xA0, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 2)
			StoreBits(buf, tt.order, MSB0, 0, 4, 0xA)
			assert.Equal(t, tt.want, buf)
			assert.Equal(t, uint64(0xA), LoadBits(buf, tt.order, MSB0, 0, 4))
			assert.Equal(t, uint64(0xA), LoadBits(buf, tt.order, LSB0, 12, 16))
		})
	}

	fs := Layout{SizeBits: 16, ByteOrder: BigEndian, BitOrder: MSB0}.New()
	fs.SetBool(0, true)
	assert.Equal(t, []byte{0x80, 0x00}, fs.Bytes())
	assert.Equal(t, MSB0, fs.BitOrder())
}

func TestFieldSetCopiesAreIndependent(t *testing.T) {
	a := NewFieldSet(13, LittleEndian, nil)
	a.SetUint(0, 11, 3)
	b := a
	b.SetUint(0, 11, 5)
	assert.Equal(t, uint64(3), a.Uint(0, 11))
	assert.Equal(t, uint64(5), b.Uint(0, 11))

	raw := []byte{0x01, 0x00}
	c, err := FieldSetFromBytes(13, LittleEndian, raw)
	require.NoError(t, err)
	raw[0] = 0xFF
	assert.Equal(t, uint64(1), c.Uint(0, 11))

	out := c.Bytes()
	out[0] = 0xFF
	assert.Equal(t, uint64(1), c.Uint(0, 11))
}

func TestLayoutInitialisesZeroValues(t *testing.T) {
	l := Layout{SizeBits: 13, ByteOrder: LittleEndian, Reset: []byte{0x07, 0x00}}

	var zero FieldSet
	assert.True(t, zero.IsZero())
	assert.Equal(t, uint64(7), l.Of(zero).Uint(0, 11))
	assert.True(t, zero.IsZero(), "Of leaves its argument alone")

	l.Init(&zero)
	assert.False(t, zero.IsZero())
	zero.SetUint(0, 11, 1)
	assert.Equal(t, uint64(1), zero.Uint(0, 11))

	set := l.New()
	set.SetUint(0, 11, 9)
	l.Init(&set)
	assert.Equal(t, uint64(9), set.Uint(0, 11), "Init keeps a payload that is already set up")
}

// ctrl has the shape rdt generates for a payload type.
type ctrl struct {
	fs FieldSet
}

var ctrlLayout = Layout{SizeBits: 16, ByteOrder: LittleEndian, Reset: []byte{0x00, 0x80}}

func newCtrl() ctrl { return ctrl{fs: ctrlLayout.New()} }

func (f ctrl) Wide() uint16 { return uint16(ctrlLayout.Of(f.fs).Uint(0, 12)) }
func (f ctrl) Top() bool    { return ctrlLayout.Of(f.fs).Bool(15) }

func (f *ctrl) SetWide(v uint16) {
	ctrlLayout.Init(&f.fs)
	f.fs.SetUint(0, 12, uint64(v))
}

func TestGeneratedPayloadsBehaveAsValues(t *testing.T) {
	a := newCtrl()
	b := a
	b.SetWide(5)
	assert.Equal(t, uint16(0), a.Wide())
	assert.Equal(t, uint16(5), b.Wide())
	assert.NotEqual(t, a, b)

	var z ctrl
	assert.True(t, z.Top(), "the zero value reads as the reset value")
	assert.NotPanics(t, func() { z.SetWide(1) })
	assert.Equal(t, uint16(1), z.Wide())
	assert.True(t, z.Top())
	assert.Equal(t, []byte{0x01, 0x80}, ctrlLayout.Of(z.fs).Bytes())
}

func TestFieldSetRoundTrip(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			fs := NewFieldSet(24, order, nil)
			fs.SetBool(0, true)
			fs.SetUint(1, 16, 12345)
			fs.SetInt(16, 24, -1)

			assert.True(t, fs.Bool(0))
			assert.Equal(t, uint64(12345), fs.Uint(1, 16))
			assert.Equal(t, int64(-1), fs.Int(16, 24))

			fs.SetInt(16, 24, -128)
			assert.Equal(t, int64(-128), fs.Int(16, 24))
			assert.Equal(t, uint64(12345), fs.Uint(1, 16))
			assert.True(t, fs.Bool(0))
		})
	}
}

func TestFieldSetBytePlacement(t *testing.T) {
	le := NewFieldSet(24, LittleEndian, nil)
	le.SetBool(0, true)
	assert.Equal(t, []byte{0x01, 0x00, 0x00}, le.Bytes())

	be := NewFieldSet(24, BigEndian, nil)
	be.SetBool(0, true)
	assert.Equal(t, []byte{0x00, 0x00, 0x01}, be.Bytes())
}

func TestFieldSetMasksOversizedValues(t *testing.T) {
	fs := NewFieldSet(8, LittleEndian, nil)
	fs.SetUint(0, 4, 0xFF)
	assert.Equal(t, []byte{0x0F}, fs.Bytes())
}

func TestFieldSetWide(t *testing.T) {
	fs := NewFieldSet(72, BigEndian, nil)
	fs.SetUint(4, 68, 0xDEADBEEFCAFEF00D)
	assert.Equal(t, uint64(0xDEADBEEFCAFEF00D), fs.Uint(4, 68))
}

func TestFieldSetFromBytes(t *testing.T) {
	_, err := FieldSetFromBytes(16, LittleEndian, []byte{1})
	assert.EqualError(t, err, "payload is 1 bytes, want 2 bytes (16 bits)")

	fs, err := FieldSetFromBytes(16, LittleEndian, []byte{0x34, 0x12})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), fs.Uint(0, 16))
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int64(-1), SignExtend(0xFF, 8))
	assert.Equal(t, int64(127), SignExtend(0x7F, 8))
	assert.Equal(t, int64(-16384), SignExtend(0x4000, 15))
	assert.Equal(t, int64(-1), SignExtend(^uint64(0), 64))
}

func TestParseHelpers(t *testing.T) {
	o, err := ParseByteOrder("be")
	require.NoError(t, err)
	assert.Equal(t, BigEndian, o)
	_, err = ParseByteOrder("middle")
	assert.ErrorContains(t, err, "unknown byte order")

	a, err := ParseAccess("RO")
	require.NoError(t, err)
	assert.False(t, a.CanWrite())
	_, err = ParseAccess("XX")
	assert.Error(t, err)

	b, err := ParseBitOrder("msb0")
	require.NoError(t, err)
	assert.Equal(t, MSB0, b)
	_, err = ParseBitOrder("MSB1")
	assert.ErrorContains(t, err, "unknown bit order")
}
