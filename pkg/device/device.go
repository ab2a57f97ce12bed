package device

import (
	"context"
	"fmt"
	"sync"
)

// Register describes one concrete register instance.
type Register struct {
	Name     string
	Address  uint64
	SizeBits uint
	Order    ByteOrder
	BitOrder BitOrder
	Access   Access
	Reset    []byte
}

func (r Register) Layout() Layout {
	return Layout{SizeBits: r.SizeBits, ByteOrder: r.Order, BitOrder: r.BitOrder, Reset: r.Reset}
}

// Command describes one concrete command instance.
type Command struct {
	Name        string
	Address     uint64
	SizeBitsIn  uint
	SizeBitsOut uint
	Order       ByteOrder
	BitOrder    BitOrder
}

func (c Command) InLayout() Layout {
	return Layout{SizeBits: c.SizeBitsIn, ByteOrder: c.Order, BitOrder: c.BitOrder}
}

func (c Command) OutLayout() Layout {
	return Layout{SizeBits: c.SizeBitsOut, ByteOrder: c.Order, BitOrder: c.BitOrder}
}

// Buffer describes one concrete buffer instance.
type Buffer struct {
	Name    string
	Address uint64
	Access  Access
}

// Device serialises operations on a transport. Every method is one
// encode/exchange/decode unit; ModifyRegister holds the lock across its read
// and write. Transport errors are returned as they are.
type Device struct {
	mu    sync.Mutex
	iface Interface
}

func New(iface Interface) *Device {
	return &Device{iface: iface}
}

func (d *Device) ReadRegister(ctx context.Context, r Register) (FieldSet, error) {
	if !r.Access.CanRead() {
		return FieldSet{}, fmt.Errorf("read %s: %w", r.Name, ErrAccess)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(ctx, r)
}

func (d *Device) read(ctx context.Context, r Register) (FieldSet, error) {
	p := make([]byte, ByteLen(r.SizeBits))
	if err := d.iface.ReadRegister(ctx, r.Address, r.SizeBits, p); err != nil {
		return FieldSet{}, err
	}
	return r.Layout().FromBytes(p)
}

// WriteRegister starts from the reset value (or zero), lets f fill in the
// fields and writes the result.
func (d *Device) WriteRegister(ctx context.Context, r Register, f func(*FieldSet)) error {
	fs := r.Layout().New()
	if f != nil {
		f(&fs)
	}
	return d.WriteRegisterValue(ctx, r, fs)
}

func (d *Device) WriteRegisterValue(ctx context.Context, r Register, fs FieldSet) error {
	if !r.Access.CanWrite() {
		return fmt.Errorf("write %s: %w", r.Name, ErrAccess)
	}
	if fs.size != r.SizeBits {
		return sizeError("write", r.Name, "payload", fs, r.SizeBits)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iface.WriteRegister(ctx, r.Address, r.SizeBits, fs.Bytes())
}

func (d *Device) ModifyRegister(ctx context.Context, r Register, f func(*FieldSet)) error {
	if r.Access != ReadWrite {
		return fmt.Errorf("modify %s: %w", r.Name, ErrAccess)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, err := d.read(ctx, r)
	if err != nil {
		return err
	}
	f(&fs)
	if fs.size != r.SizeBits {
		return sizeError("modify", r.Name, "payload", fs, r.SizeBits)
	}
	return d.iface.WriteRegister(ctx, r.Address, r.SizeBits, fs.Bytes())
}

// Invoke sends in and decodes the response into a SizeBitsOut payload.
func (d *Device) Invoke(ctx context.Context, c Command, in FieldSet) (FieldSet, error) {
	if in.size != c.SizeBitsIn {
		return FieldSet{}, sizeError("invoke", c.Name, "input", in, c.SizeBitsIn)
	}
	out := make([]byte, ByteLen(c.SizeBitsOut))
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.iface.ExchangeCommand(ctx, c.Address, in.Bytes(), out); err != nil {
		return FieldSet{}, err
	}
	return c.OutLayout().FromBytes(out)
}

func (d *Device) ReadBuffer(ctx context.Context, b Buffer, n int) ([]byte, error) {
	if !b.Access.CanRead() {
		return nil, fmt.Errorf("read %s: %w", b.Name, ErrAccess)
	}
	p := make([]byte, n)
	d.mu.Lock()
	defer d.mu.Unlock()
	got, err := d.iface.ReadBuffer(ctx, b.Address, p)
	if err != nil {
		return nil, err
	}
	return p[:got], nil
}

func (d *Device) WriteBuffer(ctx context.Context, b Buffer, p []byte) (int, error) {
	if !b.Access.CanWrite() {
		return 0, fmt.Errorf("write %s: %w", b.Name, ErrAccess)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iface.WriteBuffer(ctx, b.Address, p)
}
