package device

import "fmt"

// Layout describes a payload: its width, byte and bit order and the value a
// fresh payload starts from.
type Layout struct {
	SizeBits  uint
	ByteOrder ByteOrder
	BitOrder  BitOrder
	Reset     []byte
}

// New returns a payload preloaded with Reset. A reset shorter than the
// payload is zero padded.
func (l Layout) New() FieldSet {
	buf := make([]byte, ByteLen(l.SizeBits))
	copy(buf, l.Reset)
	return FieldSet{data: string(buf), size: l.SizeBits, order: l.ByteOrder, bit: l.BitOrder}
}

// FromBytes wraps raw payload bytes received from a transport.
func (l Layout) FromBytes(raw []byte) (FieldSet, error) {
	if want := ByteLen(l.SizeBits); len(raw) != want {
		return FieldSet{}, fmt.Errorf("payload is %d bytes, want %d bytes (%d bits)", len(raw), want, l.SizeBits)
	}
	return FieldSet{data: string(raw), size: l.SizeBits, order: l.ByteOrder, bit: l.BitOrder}, nil
}

// Of returns fs, or a fresh payload when fs is the zero FieldSet.
func (l Layout) Of(fs FieldSet) FieldSet {
	if fs.IsZero() {
		return l.New()
	}
	return fs
}

// Init replaces a zero *fs with a fresh payload.
func (l Layout) Init(fs *FieldSet) {
	if fs.IsZero() {
		*fs = l.New()
	}
}

// FieldSet is a payload of SizeBits bits stored in ceil(SizeBits/8) bytes.
// It is a value: copies never share storage, and setters only change the
// copy they are called on.
type FieldSet struct {
	data  string
	size  uint
	order ByteOrder
	bit   BitOrder
}

// NewFieldSet returns an LSB0 payload, zeroed or initialised from reset.
func NewFieldSet(sizeBits uint, order ByteOrder, reset []byte) FieldSet {
	return Layout{SizeBits: sizeBits, ByteOrder: order, Reset: reset}.New()
}

// FieldSetFromBytes wraps raw LSB0 payload bytes.
func FieldSetFromBytes(sizeBits uint, order ByteOrder, raw []byte) (FieldSet, error) {
	return Layout{SizeBits: sizeBits, ByteOrder: order}.FromBytes(raw)
}

func (fs FieldSet) SizeBits() uint       { return fs.size }
func (fs FieldSet) ByteOrder() ByteOrder { return fs.order }
func (fs FieldSet) BitOrder() BitOrder   { return fs.bit }

// IsZero reports whether fs is the zero value, which holds no payload.
func (fs FieldSet) IsZero() bool { return fs.size == 0 && fs.data == "" }

// Bytes returns a copy of the payload.
func (fs FieldSet) Bytes() []byte { return []byte(fs.data) }

func (fs FieldSet) check(start, end uint) {
	if start >= end || end > fs.size || end-start > 64 {
		panic(fmt.Sprintf("device: field [%d,%d) outside the %d-bit payload", start, end, fs.size))
	}
}

func (fs FieldSet) Uint(start, end uint) uint64 {
	fs.check(start, end)
	return LoadBits([]byte(fs.data), fs.order, fs.bit, start, end)
}

func (fs FieldSet) Int(start, end uint) int64 {
	return SignExtend(fs.Uint(start, end), end-start)
}

func (fs FieldSet) Bool(bit uint) bool {
	return fs.Uint(bit, bit+1) == 1
}

func (fs *FieldSet) SetUint(start, end uint, v uint64) {
	fs.check(start, end)
	buf := []byte(fs.data)
	StoreBits(buf, fs.order, fs.bit, start, end, v&Mask(end-start))
	fs.data = string(buf)
}

func (fs *FieldSet) SetInt(start, end uint, v int64) {
	fs.SetUint(start, end, uint64(v))
}

func (fs *FieldSet) SetBool(bit uint, v bool) {
	var u uint64
	if v {
		u = 1
	}
	fs.SetUint(bit, bit+1, u)
}

// sizeError reports a payload of the wrong width.
func sizeError(op, name, what string, got FieldSet, wantBits uint) error {
	return fmt.Errorf("%s %s: %s is %d bytes (%d bits), want %d bytes (%d bits)",
		op, name, what, len(got.data), got.size, ByteLen(wantBits), wantBits)
}
