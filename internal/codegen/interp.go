package codegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/marte-community/register-dev-tools/pkg/device"
)

// ErrNotFound is returned for paths the plan does not declare.
var ErrNotFound = errors.New("no such object")

// Interpreter exposes a plan's accessors dynamically, without generating
// code. Objects are addressed by declaration path plus repeat indices.
type Interpreter struct {
	plan *Plan
	dev  *device.Device
}

func NewInterpreter(plan *Plan, iface device.Interface) *Interpreter {
	return &Interpreter{plan: plan, dev: device.New(iface)}
}

func (in *Interpreter) Plan() *Plan { return in.plan }

// instance finds the concrete instance of path at the given indices.
func (in *Interpreter) instance(kind, path string, idx []int) (*Entry, uint64, error) {
	e := in.plan.Entry(path)
	if e == nil || e.Kind != kind {
		return nil, 0, fmt.Errorf("%s %s: %w", kind, path, ErrNotFound)
	}
	if len(idx) != len(e.Dims) {
		return nil, 0, fmt.Errorf("%s %s takes %d indices, got %d", kind, path, len(e.Dims), len(idx))
	}
	for i, d := range e.Dims {
		if err := device.CheckIndex(d.Path, idx[i], int(d.Count)); err != nil {
			return nil, 0, err
		}
	}
	for _, inst := range e.Instances {
		if sameIndices(inst.Indices, idx) {
			return e, inst.Address, nil
		}
	}
	return nil, 0, fmt.Errorf("%s %s%v: %w", kind, path, idx, ErrNotFound)
}

func sameIndices(a []uint64, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != uint64(b[i]) {
			return false
		}
	}
	return true
}

type RegisterHandle struct {
	Entry *Entry
	plan  *Plan
	dev   *device.Device
	reg   device.Register
}

func (in *Interpreter) Register(path string, idx ...int) (*RegisterHandle, error) {
	e, addr, err := in.instance("register", path, idx)
	if err != nil {
		return nil, err
	}
	return &RegisterHandle{Entry: e, plan: in.plan, dev: in.dev, reg: device.Register{
		Name:     path,
		Address:  addr,
		SizeBits: uint(e.Fields.SizeBits),
		Order:    e.Fields.Order(),
		BitOrder: e.Fields.Bits(),
		Access:   e.AccessMode(),
		Reset:    e.Fields.Reset,
	}}, nil
}

func (r *RegisterHandle) Address() uint64 { return r.reg.Address }

// Reset returns a view holding the register's reset value.
func (r *RegisterHandle) Reset() *FieldView {
	return r.view(r.reg.Layout().New())
}

func (r *RegisterHandle) view(fs device.FieldSet) *FieldView {
	return &FieldView{plan: r.plan, set: r.Entry.Fields, fs: fs}
}

func (r *RegisterHandle) Read(ctx context.Context) (*FieldView, error) {
	fs, err := r.dev.ReadRegister(ctx, r.reg)
	if err != nil {
		return nil, err
	}
	return r.view(fs), nil
}

// Write starts from the reset value, applies f and writes the result. An
// error from f aborts the write.
func (r *RegisterHandle) Write(ctx context.Context, f func(*FieldView) error) error {
	v := r.Reset()
	if f != nil {
		if err := f(v); err != nil {
			return err
		}
	}
	return r.dev.WriteRegisterValue(ctx, r.reg, v.fs)
}

func (r *RegisterHandle) Modify(ctx context.Context, f func(*FieldView) error) error {
	var ferr error
	err := r.dev.ModifyRegister(ctx, r.reg, func(fs *device.FieldSet) {
		v := r.view(*fs)
		ferr = f(v)
		*fs = v.fs
	})
	if err != nil {
		return err
	}
	return ferr
}

type CommandHandle struct {
	Entry *Entry
	plan  *Plan
	dev   *device.Device
	cmd   device.Command
}

func (in *Interpreter) Command(path string, idx ...int) (*CommandHandle, error) {
	e, addr, err := in.instance("command", path, idx)
	if err != nil {
		return nil, err
	}
	return &CommandHandle{Entry: e, plan: in.plan, dev: in.dev, cmd: device.Command{
		Name:        path,
		Address:     addr,
		SizeBitsIn:  uint(e.In.SizeBits),
		SizeBitsOut: uint(e.Out.SizeBits),
		Order:       e.In.Order(),
		BitOrder:    e.In.Bits(),
	}}, nil
}

func (c *CommandHandle) Address() uint64 { return c.cmd.Address }

// Input returns a zeroed input payload.
func (c *CommandHandle) Input() *FieldView {
	return &FieldView{plan: c.plan, set: c.Entry.In, fs: c.cmd.InLayout().New()}
}

// Invoke exchanges in with the device. A nil in sends an empty input.
func (c *CommandHandle) Invoke(ctx context.Context, in *FieldView) (*FieldView, error) {
	if in == nil {
		in = c.Input()
	}
	out, err := c.dev.Invoke(ctx, c.cmd, in.fs)
	if err != nil {
		return nil, err
	}
	return &FieldView{plan: c.plan, set: c.Entry.Out, fs: out}, nil
}

type BufferHandle struct {
	Entry *Entry
	dev   *device.Device
	buf   device.Buffer
}

func (in *Interpreter) Buffer(path string, idx ...int) (*BufferHandle, error) {
	e, addr, err := in.instance("buffer", path, idx)
	if err != nil {
		return nil, err
	}
	return &BufferHandle{Entry: e, dev: in.dev, buf: device.Buffer{Name: path, Address: addr, Access: e.AccessMode()}}, nil
}

func (b *BufferHandle) Address() uint64 { return b.buf.Address }

func (b *BufferHandle) Read(ctx context.Context, n int) ([]byte, error) {
	return b.dev.ReadBuffer(ctx, b.buf, n)
}

func (b *BufferHandle) Write(ctx context.Context, p []byte) (int, error) {
	return b.dev.WriteBuffer(ctx, b.buf, p)
}
