package codegen

import (
	"bytes"
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/model"
	manifest "github.com/marte-community/register-dev-tools/internal/parser"
	"github.com/marte-community/register-dev-tools/internal/resolver"
	"github.com/marte-community/register-dev-tools/internal/validator"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

func build(t *testing.T, src string) (*Plan, error) {
	t.Helper()
	root, err := manifest.ParseBytes("m.yaml", []byte(src), manifest.FormatYAML)
	require.NoError(t, err)
	cfgNode, _ := root.Lookup(model.ConfigKey)
	cfg, err := config.Resolve(cfgNode)
	require.NoError(t, err)
	m, err := model.Parse(root, cfg)
	require.NoError(t, err)
	dev, err := resolver.Resolve(context.Background(), m, index.Build(m))
	require.NoError(t, err)
	v := validator.NewValidator(dev)
	v.ValidateDevice(context.Background())
	require.NoError(t, v.Err())
	return Build(dev)
}

func mustBuild(t *testing.T, src string) *Plan {
	t.Helper()
	p, err := build(t, src)
	require.NoError(t, err)
	return p
}

const fixture = `
config:
  register_address_type: u8
  command_address_type: u8
  buffer_address_type: u32
  default_byte_order: LE
  feature_flags: {stringer: true}
Bar:
  type: block
  address_offset: 10
  repeat: {count: 2, stride: 20}
  children:
    Foo:
      type: register
      address: 0
      size_bits: 24
      fields:
        value0: {base: bool, start: 0, end: 1}
        value1: {base: uint, start: 1, end: 16}
        value2: {base: int, start: 16, end: 24}
FooRef:
  type: ref
  target: Foo
  override: {address: 3, reset_value: 2}
Mode:
  type: enum
  bits: 2
  variants: {Off: 0, Slow: 1, Fast: 2}
Status:
  type: register
  address: 4
  size_bits: 8
  access: RO
  fields:
    mode: {base: Mode, start: 0, end: 2}
    ready: {base: bool, start: 7}
Ping:
  type: command
  address: 1
  size_bits_in: 8
  size_bits_out: 16
  fields_in: {seq: {base: uint, start: 0, end: 8}}
  fields_out: {seq: {base: uint, start: 0, end: 8}, echo: {base: uint, start: 8, end: 16}}
Fifo:
  type: buffer
  address: 0x100
  access: RW
`

func TestBuildFixture(t *testing.T) {
	p := mustBuild(t, fixture)

	foo := p.Entry("Bar/Foo")
	require.NotNil(t, foo)
	assert.Equal(t, "Foo", foo.TypeName)
	assert.Equal(t, "FooRegister", foo.Handle)
	assert.Equal(t, "foo", foo.FuncName)
	assert.Equal(t, "FOO", foo.ConstName)
	assert.Equal(t, "Bar", foo.Parent)
	assert.Equal(t, []string{OpRead, OpWrite, OpModify}, foo.Operations)
	assert.Equal(t, "u8", foo.AddressType)
	require.Len(t, foo.Instances, 2)
	assert.Equal(t, uint64(10), foo.Instances[0].Address)
	assert.Equal(t, uint64(30), foo.Instances[1].Address)
	assert.Equal(t, []uint64{1}, foo.Instances[1].Indices)
	assert.Equal(t, []Dim{{Path: "Bar", Count: 2, Stride: 20}}, foo.Dims)

	require.Len(t, foo.Fields.Fields, 3)
	assert.Equal(t, "bool", foo.Fields.Fields[0].GoType)
	assert.Equal(t, ConvBool, foo.Fields.Fields[0].Conversion)
	assert.Equal(t, "uint16", foo.Fields.Fields[1].GoType)
	assert.Equal(t, "int8", foo.Fields.Fields[2].GoType)
	assert.Equal(t, 3, foo.Fields.SizeBytes)

	ref := p.Entry("FooRef")
	require.NotNil(t, ref)
	assert.True(t, ref.Fields.Shared)
	assert.Equal(t, "Foo", ref.Fields.TypeName)
	assert.Equal(t, Bytes{2, 0, 0}, ref.Fields.Reset)
	require.Len(t, p.ResetConstructors, 1)
	assert.Equal(t, "NewFooAsFooRef", p.ResetConstructors[0].Func)

	status := p.Entry("Status")
	assert.Equal(t, []string{OpRead}, status.Operations)
	assert.Equal(t, ConvEnumFallible, status.Fields.Fields[0].Conversion)
	assert.Equal(t, "Mode", status.Fields.Fields[0].GoType)

	ping := p.Entry("Ping")
	assert.Equal(t, "PingIn", ping.In.TypeName)
	assert.Equal(t, "PingOut", ping.Out.TypeName)

	bar := p.Block("Bar")
	require.NotNil(t, bar)
	assert.Equal(t, []string{OpAt}, bar.Operations)

	mode := p.Enum("Mode")
	require.NotNil(t, mode)
	assert.Equal(t, "uint8", mode.GoType)
	assert.Equal(t, "ModeFast", mode.Variants[2].ConstName)
	assert.Equal(t, "fallible", mode.Conversion)
}

func TestPlanJSONIsStable(t *testing.T) {
	first, err := mustBuild(t, fixture).JSON()
	require.NoError(t, err)
	second, err := mustBuild(t, fixture).JSON()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"reset": [`)

	back, err := ParseJSON(first)
	require.NoError(t, err)
	again, err := back.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(again))
}

func TestInterpreterRoundTrip(t *testing.T) {
	p := mustBuild(t, fixture)
	mem := device.NewMemory()
	in := NewInterpreter(p, mem)
	ctx := context.Background()

	reg, err := in.Register("Bar/Foo", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), reg.Address())

	err = reg.Write(ctx, func(v *FieldView) error {
		require.NoError(t, v.Set("value0", true))
		require.NoError(t, v.Set("value1", 12345))
		return v.Set("value2", -5)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x73, 0x60, 0xFB}, mem.RegisterBytes(30))
	assert.Empty(t, mem.RegisterBytes(10))

	got, err := reg.Read(ctx)
	require.NoError(t, err)
	v0, _ := got.Get("value0")
	v1, _ := got.Get("value1")
	v2, _ := got.Get("value2")
	assert.Equal(t, true, v0)
	assert.Equal(t, uint64(12345), v1)
	assert.Equal(t, int64(-5), v2)

	require.NoError(t, reg.Modify(ctx, func(v *FieldView) error { return v.Set("value2", 7) }))
	got, err = reg.Read(ctx)
	require.NoError(t, err)
	v1, _ = got.Get("value1")
	v2, _ = got.Get("value2")
	assert.Equal(t, uint64(12345), v1)
	assert.Equal(t, int64(7), v2)
}

func TestInterpreterWriteStartsFromReset(t *testing.T) {
	p := mustBuild(t, fixture)
	mem := device.NewMemory()
	reg, err := NewInterpreter(p, mem).Register("FooRef")
	require.NoError(t, err)
	require.NoError(t, reg.Write(context.Background(), nil))
	assert.Equal(t, []byte{2, 0, 0}, mem.RegisterBytes(3))
}

func TestInterpreterErrors(t *testing.T) {
	p := mustBuild(t, fixture)
	mem := device.NewMemory()
	in := NewInterpreter(p, mem)
	ctx := context.Background()

	_, err := in.Register("Bar/Foo", 2)
	assert.ErrorIs(t, err, device.ErrIndexOutOfRange)
	_, err = in.Register("Bar/Foo")
	assert.Error(t, err)
	_, err = in.Register("Missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = in.Register("Fifo")
	assert.ErrorIs(t, err, ErrNotFound)

	status, err := in.Register("Status")
	require.NoError(t, err)
	assert.ErrorIs(t, status.Write(ctx, nil), device.ErrAccess)

	mem.SetRegisterBytes(4, []byte{0x83})
	v, err := status.Read(ctx)
	require.NoError(t, err)
	ready, err := v.Get("ready")
	require.NoError(t, err)
	assert.Equal(t, true, ready)
	_, err = v.Get("mode")
	assert.ErrorIs(t, err, device.ErrInvalidValue)
	raw, err := v.Raw("mode")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), raw)

	mem.SetRegisterBytes(4, []byte{0x02})
	v, err = status.Read(ctx)
	require.NoError(t, err)
	mode, err := v.Get("mode")
	require.NoError(t, err)
	assert.Equal(t, "Fast", mode)

	foo, err := in.Register("Bar/Foo", 0)
	require.NoError(t, err)
	view := foo.Reset()
	assert.ErrorIs(t, view.Set("value1", 1<<15), device.ErrInvalidValue)
	assert.ErrorIs(t, view.Set("value2", 128), device.ErrInvalidValue)
	assert.Error(t, view.Set("value0", 1))
	assert.ErrorIs(t, view.Set("nope", 1), ErrNotFound)
}

func TestInterpreterCommandAndBuffer(t *testing.T) {
	p := mustBuild(t, fixture)
	mem := device.NewMemory()
	mem.HandleCommand(1, func(in, out []byte) error {
		out[0], out[1] = in[0], in[0]+1
		return nil
	})
	in := NewInterpreter(p, mem)
	ctx := context.Background()

	ping, err := in.Command("Ping")
	require.NoError(t, err)
	req := ping.Input()
	require.NoError(t, req.Set("seq", 41))
	resp, err := ping.Invoke(ctx, req)
	require.NoError(t, err)
	seq, _ := resp.Get("seq")
	echo, _ := resp.Get("echo")
	assert.Equal(t, uint64(41), seq)
	assert.Equal(t, uint64(42), echo)

	fifo, err := in.Buffer("Fifo")
	require.NoError(t, err)
	n, err := fifo.Write(ctx, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := fifo.Read(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestEnumDefaultVariant(t *testing.T) {
	p := mustBuild(t, `
config: {register_address_type: u8}
Level: {type: enum, bits: 2, default: Unknown, variants: {Low: 0, High: 1, Unknown: 3}}
R:
  type: register
  address: 0
  size_bits: 8
  fields: {level: {base: Level, start: 0, end: 2}}
`)
	assert.Equal(t, "infallible", p.Enum("Level").Conversion)
	mem := device.NewMemory()
	mem.SetRegisterBytes(0, []byte{2})
	reg, err := NewInterpreter(p, mem).Register("R")
	require.NoError(t, err)
	v, err := reg.Read(context.Background())
	require.NoError(t, err)
	level, err := v.Get("level")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", level)
}

func TestTypeNamesDisambiguate(t *testing.T) {
	p := mustBuild(t, `
config: {register_address_type: u8}
A: {type: block, children: {Ctl: {type: register, address: 0, size_bits: 8}}}
B: {type: block, address_offset: 8, children: {Ctl: {type: register, address: 0, size_bits: 8}}}
`)
	assert.Equal(t, "ACtl", p.Entry("A/Ctl").TypeName)
	assert.Equal(t, "BCtl", p.Entry("B/Ctl").TypeName)

	_, err := build(t, `
config: {register_address_type: u8}
A: {type: block, children: {Ctl: {type: register, address: 0, size_bits: 8}}}
B: {type: block, address_offset: 8, children: {Ctl: {type: register, address: 0, size_bits: 8}}}
ACtl: {type: register, address: 16, size_bits: 8}
`)
	require.Error(t, err)
	assert.True(t, diag.Is(err, diag.Validation))
	assert.Contains(t, err.Error(), "generated name ACtl is used by both")
}

func declNames(t *testing.T, src []byte) map[string]bool {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "gen.go", src, 0)
	require.NoError(t, err, string(src))
	names := make(map[string]bool)
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil {
				var recv string
				switch rt := d.Recv.List[0].Type.(type) {
				case *ast.Ident:
					recv = rt.Name
				case *ast.StarExpr:
					recv = rt.X.(*ast.Ident).Name
				}
				name = recv + "." + name
			}
			names[name] = true
		case *ast.GenDecl:
			for _, s := range d.Specs {
				switch s := s.(type) {
				case *ast.TypeSpec:
					names[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						names[n.Name] = true
					}
				}
			}
		}
	}
	return names
}

func TestEmitGo(t *testing.T) {
	p := mustBuild(t, fixture)
	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{Package: "regs"}, &buf))
	src := buf.Bytes()
	assert.Contains(t, string(src), "// Code generated by rdt. DO NOT EDIT.")
	assert.Contains(t, string(src), "package regs")

	names := declNames(t, src)
	for _, want := range []string{
		"Device", "New", "Bar", "Device.Bar", "Bar.Foo", "Device.FooRef",
		"Foo", "NewFoo", "Foo.Value0", "Foo.SetValue0", "Foo.Value1", "Foo.Value2", "Foo.String",
		"NewFooAsFooRef", "FooRegister.Read", "FooRegister.Write", "FooRegister.Modify",
		"Mode", "ModeOff", "ModeFromBits", "Mode.String",
		"StatusRegister.Read", "Status.Mode", "Status.Ready",
		"PingIn", "PingOut", "NewPingIn", "NewPingOut", "PingCommand.Invoke",
		"FifoBuffer.Read", "FifoBuffer.Write",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
	for _, absent := range []string{"StatusRegister.Write", "StatusRegister.Modify", "FooRef"} {
		assert.False(t, names[absent], "unexpected %s", absent)
	}
	assert.Contains(t, string(src), "func (p Device) Bar(index int) (Bar, error)")
	assert.Contains(t, string(src), "func (f Status) Mode() (Mode, error)")
	assert.Contains(t, string(src), "func (c PingCommand) Invoke(ctx context.Context, in PingIn) (PingOut, error)")
}

func TestEmitGoWithoutStringer(t *testing.T) {
	p := mustBuild(t, `
config: {command_address_type: u16}
Reset: {type: command, address: 0x10}
`)
	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{}, &buf))
	names := declNames(t, buf.Bytes())
	assert.True(t, names["ResetCommand.Invoke"])
	assert.Contains(t, buf.String(), "package registers")
	assert.Contains(t, buf.String(), "func (c ResetCommand) Invoke(ctx context.Context) error")
	assert.NotContains(t, buf.String(), `"fmt"`)
}

const accessFixture = `
config:
  register_address_type: u8
  default_byte_order: BE
  feature_flags: {stringer: true}
Ctrl:
  type: register
  address: 0
  size_bits: 16
  bit_order: MSB0
  fields:
    status: {base: uint, start: 4, end: 8, access: RO}
    go: {base: bool, start: 0, access: WO}
    level: {base: uint, start: 8, end: 16}
`

func TestFieldAccessGatesAccessors(t *testing.T) {
	p := mustBuild(t, accessFixture)
	set := p.Entry("Ctrl").Fields
	assert.Equal(t, "RO", set.Field("status").Access)
	assert.False(t, set.Field("status").CanWrite())
	assert.False(t, set.Field("go").CanRead())
	assert.True(t, set.Field("level").CanRead())
	assert.True(t, set.Field("level").CanWrite())

	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{}, &buf))
	names := declNames(t, buf.Bytes())
	for _, want := range []string{"Ctrl.Status", "Ctrl.SetGo", "Ctrl.Level", "Ctrl.SetLevel", "Ctrl.String"} {
		assert.True(t, names[want], "missing %s", want)
	}
	for _, absent := range []string{"Ctrl.SetStatus", "Ctrl.Go"} {
		assert.False(t, names[absent], "unexpected %s", absent)
	}
	assert.Contains(t, buf.String(), `"Ctrl{status: %v, level: %v}"`)

	reg, err := NewInterpreter(p, device.NewMemory()).Register("Ctrl")
	require.NoError(t, err)
	v := reg.Reset()
	assert.ErrorIs(t, v.Set("status", 1), device.ErrAccess)
	assert.NoError(t, v.Set("go", true))
	_, err = v.Get("go")
	assert.ErrorIs(t, err, device.ErrAccess)
	raw, err := v.Raw("go")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), raw)
}

func TestMSB0ThroughInterpreter(t *testing.T) {
	p := mustBuild(t, accessFixture)
	assert.Equal(t, "MSB0", p.Entry("Ctrl").Fields.BitOrder)

	mem := device.NewMemory()
	reg, err := NewInterpreter(p, mem).Register("Ctrl")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, reg.Write(ctx, func(v *FieldView) error {
		require.NoError(t, v.Set("go", true))
		return v.Set("level", 0x5A)
	}))
	assert.Equal(t, []byte{0x80, 0x5A}, mem.RegisterBytes(0))

	mem.SetRegisterBytes(0, []byte{0x0C, 0x00})
	got, err := reg.Read(ctx)
	require.NoError(t, err)
	status, err := got.Get("status")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xC), status)

	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{}, &buf))
	assert.Contains(t, buf.String(), "device.MSB0")
}

func TestEnumCatchAll(t *testing.T) {
	p := mustBuild(t, `
config: {register_address_type: u8}
Speed: {type: enum, bits: 4, variants: {Slow: 0, Other: catch_all, Fast: null}}
R:
  type: register
  address: 0
  size_bits: 8
  fields: {speed: {base: Speed, start: 0, end: 4}}
`)
	en := p.Enum("Speed")
	assert.Equal(t, "Other", en.CatchAll)
	assert.Equal(t, "IsOther", en.CatchAllMethod)
	assert.Equal(t, "infallible", en.Conversion)
	assert.Nil(t, en.ByValue(9))

	mem := device.NewMemory()
	mem.SetRegisterBytes(0, []byte{9})
	reg, err := NewInterpreter(p, mem).Register("R")
	require.NoError(t, err)
	v, err := reg.Read(context.Background())
	require.NoError(t, err)
	speed, err := v.Get("speed")
	require.NoError(t, err)
	assert.Equal(t, "Other", speed)
	raw, _ := v.Raw("speed")
	assert.Equal(t, uint64(9), raw)

	require.NoError(t, v.Set("speed", 12))
	assert.Equal(t, []byte{12}, v.Bytes())
	require.NoError(t, v.Set("speed", "Fast"))
	assert.Equal(t, []byte{1}, v.Bytes())
	assert.ErrorIs(t, v.Set("speed", "Other"), device.ErrInvalidValue)
	assert.ErrorIs(t, v.Set("speed", 16), device.ErrInvalidValue)

	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{}, &buf))
	names := declNames(t, buf.Bytes())
	for _, want := range []string{"SpeedFromBits", "Speed.IsOther", "Speed.String", "R.Speed", "R.SetSpeed"} {
		assert.True(t, names[want], "missing %s", want)
	}
	assert.Contains(t, buf.String(), "func SpeedFromBits(v uint8) Speed {")
	assert.Contains(t, buf.String(), `return fmt.Sprintf("%s(%d)", "Other", uint64(v))`)
}

func TestEmitGoPayloadsAreValues(t *testing.T) {
	p := mustBuild(t, fixture)
	var buf bytes.Buffer
	require.NoError(t, EmitGo(p, GoOptions{}, &buf))
	src := buf.String()

	assert.True(t, declNames(t, buf.Bytes())["fooLayout"])
	assert.Contains(t, src, "type Foo struct {\n\tfs device.FieldSet\n}")
	assert.NotContains(t, src, "struct{ device.FieldSet }")
	assert.Contains(t, src, "func (f Foo) Value1() uint16 {\n\treturn uint16(fooLayout.Of(f.fs).Uint(1, 16))\n}")
	assert.Contains(t, src, "func (f *Foo) SetValue1(v uint16) {\n\tfooLayout.Init(&f.fs)\n\tf.fs.SetUint(1, 16, uint64(v))\n}")
	assert.Contains(t, src, "return r.dev.WriteRegisterValue(ctx, r.reg, fooLayout.Of(v.fs))")
	assert.Contains(t, src, "c.dev.Invoke(ctx, c.cmd, pingInLayout.Of(in.fs))")
}

func TestAccessorClashes(t *testing.T) {
	_, err := build(t, `
config: {register_address_type: u8}
R:
  type: register
  address: 0
  size_bits: 8
  fields: {bytes: {base: uint, start: 0, end: 8}}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generated method R.Bytes is used by both the payload type and field bytes")
}

func TestPlanCarriesFormat(t *testing.T) {
	data, err := mustBuild(t, fixture).JSON()
	require.NoError(t, err)
	back, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, back.Format)
}
