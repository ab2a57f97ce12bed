package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"strings"
	"text/template"
	"unicode"
)

// GoOptions configures EmitGo.
type GoOptions struct {
	// Package is the package clause of the generated file.
	Package string
	// RuntimeImport overrides the import path of the accessor runtime.
	RuntimeImport string
}

const runtimeImport = "github.com/marte-community/register-dev-tools/pkg/device"

type goData struct {
	Plan        *Plan
	Package     string
	Runtime     string
	Stringer    bool
	NeedFmt     bool
	NeedContext bool
}

// EmitGo writes one gofmt-formatted Go source file for plan.
func EmitGo(plan *Plan, opts GoOptions, w io.Writer) error {
	data := goData{
		Plan:        plan,
		Package:     opts.Package,
		Runtime:     opts.RuntimeImport,
		Stringer:    plan.FlagEnabled("stringer"),
		NeedContext: len(plan.Entries) > 0,
	}
	if data.Package == "" {
		data.Package = "registers"
	}
	if data.Runtime == "" {
		data.Runtime = runtimeImport
	}
	data.NeedFmt = len(plan.Enums) > 0 || (data.Stringer && hasFieldSets(plan))

	var buf bytes.Buffer
	if err := goTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render go source: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("format generated go source: %w", err)
	}
	_, err = w.Write(src)
	return err
}

// hasFieldSets reports whether some payload type gets a String method.
func hasFieldSets(p *Plan) bool {
	for _, fs := range fieldSets(p) {
		if len(readable(fs.Fields)) > 0 {
			return true
		}
	}
	return false
}

func readable(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.CanRead() {
			out = append(out, f)
		}
	}
	return out
}

// layoutVar names the package variable holding a payload type's layout.
func layoutVar(fs *FieldSet) string {
	r := []rune(fs.TypeName)
	r[0] = unicode.ToLower(r[0])
	return string(r) + "Layout"
}

// fieldSets lists the payload types a plan declares, once each.
func fieldSets(p *Plan) []*FieldSet {
	var out []*FieldSet
	for _, e := range p.Entries {
		for _, fs := range []*FieldSet{e.Fields, e.In, e.Out} {
			if fs != nil && !fs.Shared && fs.SizeBits > 0 {
				out = append(out, fs)
			}
		}
	}
	return out
}

func byteLiteral(b Bytes) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("0x%02X", v)
	}
	return "[]byte{" + strings.Join(parts, ", ") + "}"
}

func orderLiteral(s string) string {
	if s == "BE" {
		return "device.BigEndian"
	}
	return "device.LittleEndian"
}

func bitOrderLiteral(s string) string {
	if s == "MSB0" {
		return "device.MSB0"
	}
	return "device.LSB0"
}

func getterType(f Field) string {
	if f.Conversion == ConvEnumFallible {
		return "(" + f.GoType + ", error)"
	}
	return f.GoType
}

func getterExpr(p *Plan, layout string, f Field) string {
	fs := layout + ".Of(f.fs)"
	switch {
	case f.Conversion == ConvBool:
		return fmt.Sprintf("%s.Bool(%d)", fs, f.Start)
	case f.Enum != "":
		return fmt.Sprintf("%sFromBits(%s(%s.Uint(%d, %d)))", f.GoType, p.Enum(f.Enum).GoType, fs, f.Start, f.End)
	case f.Base == "int":
		return fmt.Sprintf("%s(%s.Int(%d, %d))", f.GoType, fs, f.Start, f.End)
	}
	return fmt.Sprintf("%s(%s.Uint(%d, %d))", f.GoType, fs, f.Start, f.End)
}

func setterStmt(f Field) string {
	switch {
	case f.Conversion == ConvBool:
		return fmt.Sprintf("f.fs.SetBool(%d, v)", f.Start)
	case f.Base == "int":
		return fmt.Sprintf("f.fs.SetInt(%d, %d, int64(v))", f.Start, f.End)
	}
	return fmt.Sprintf("f.fs.SetUint(%d, %d, uint64(v))", f.Start, f.End)
}

func accessLiteral(s string) string {
	switch s {
	case "RO":
		return "device.ReadOnly"
	case "WO":
		return "device.WriteOnly"
	}
	return "device.ReadWrite"
}

func comment(name, text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	for i, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if i == 0 {
			fmt.Fprintf(&b, "// %s: %s\n", name, strings.TrimSpace(line))
			continue
		}
		fmt.Fprintf(&b, "// %s\n", strings.TrimSpace(line))
	}
	return b.String()
}

var goFuncs = template.FuncMap{
	"bytes":    byteLiteral,
	"order":    orderLiteral,
	"bitorder": bitOrderLiteral,
	"access":   accessLiteral,
	"doc":      comment,
	"quote":    func(s string) string { return fmt.Sprintf("%q", s) },
	"layout":   layoutVar,
	"readable": readable,
	"getType":  getterType,
	"getExpr":  getterExpr,
	"setStmt":  setterStmt,
	"owner": func(p *Plan, parent string) string {
		if parent == "" {
			return "Device"
		}
		return p.Block(parent).TypeName
	},
	"fieldSets": fieldSets,
	"enumGoType": func(p *Plan, name string) string {
		return p.Enum(name).GoType
	},
	"entryFields": func(p *Plan, path string) *FieldSet {
		return p.Entry(path).Fields
	},
	"cases": func(e *Enum) string {
		names := make([]string, len(e.Variants))
		for i, v := range e.Variants {
			names[i] = v.ConstName
		}
		return strings.Join(names, ", ")
	},
	"defaultConst": func(e *Enum) string {
		if v := e.Variant(e.Default); v != nil {
			return v.ConstName
		}
		return ""
	},
	"stringArgs": func(fs *FieldSet) string {
		var args []string
		for _, f := range readable(fs.Fields) {
			if f.Conversion == ConvEnumFallible {
				args = append(args, fmt.Sprintf("%s.Of(f.fs).Uint(%d, %d)", layoutVar(fs), f.Start, f.End))
				continue
			}
			args = append(args, fmt.Sprintf("f.%s()", f.Getter))
		}
		return strings.Join(args, ", ")
	},
	"stringFormat": func(fs *FieldSet) string {
		var parts []string
		for _, f := range readable(fs.Fields) {
			parts = append(parts, f.Name+": %v")
		}
		return fs.TypeName + "{" + strings.Join(parts, ", ") + "}"
	},
}

var goTemplate = template.Must(template.New("go").Funcs(goFuncs).Parse(goSource))

const goSource = `// Code generated by rdt. DO NOT EDIT.

package {{.Package}}

import (
{{- if .NeedContext}}
	"context"
{{- end}}
{{- if .NeedFmt}}
	"fmt"
{{- end}}

	"{{.Runtime}}"
)
{{$plan := .Plan}}{{$stringer := .Stringer}}
{{- range $e := .Plan.Enums}}
{{doc .TypeName .Description}}type {{.TypeName}} {{.GoType}}

const (
{{- range .Variants}}
	{{.ConstName}} {{$e.TypeName}} = {{.Value}}
{{- end}}
)
{{if eq .Conversion "fallible"}}
// {{.TypeName}}FromBits decodes raw field bits. Patterns without a variant
// return device.ErrInvalidValue.
func {{.TypeName}}FromBits(v {{.GoType}}) ({{.TypeName}}, error) {
	switch {{.TypeName}}(v) {
	case {{cases .}}:
		return {{.TypeName}}(v), nil
	}
	return 0, device.InvalidValue({{quote .Name}}, uint64(v))
}
{{else if .CatchAll}}
// {{.TypeName}}FromBits decodes raw field bits. Patterns without a variant
// are kept as they are and reported by {{.CatchAllMethod}}.
func {{.TypeName}}FromBits(v {{.GoType}}) {{.TypeName}} {
	return {{.TypeName}}(v)
}

// {{.CatchAllMethod}} reports whether v is a pattern without a variant.
func (v {{.TypeName}}) {{.CatchAllMethod}}() bool {
	switch v {
	case {{cases .}}:
		return false
	}
	return true
}
{{else if .Default}}
// {{.TypeName}}FromBits decodes raw field bits. Patterns without a variant
// decode to {{defaultConst .}}.
func {{.TypeName}}FromBits(v {{.GoType}}) {{.TypeName}} {
	switch {{.TypeName}}(v) {
	case {{cases .}}:
		return {{.TypeName}}(v)
	}
	return {{defaultConst .}}
}
{{else}}
// {{.TypeName}}FromBits decodes raw field bits. Every pattern has a variant.
func {{.TypeName}}FromBits(v {{.GoType}}) {{.TypeName}} {
	return {{.TypeName}}(v)
}
{{end}}
func (v {{.TypeName}}) String() string {
	switch v {
{{- range .Variants}}
	case {{.ConstName}}:
		return {{quote .Name}}
{{- end}}
	}
	return fmt.Sprintf("%s(%d)", {{quote (or .CatchAll .TypeName)}}, uint64(v))
}
{{end}}
{{- range $fs := fieldSets .Plan}}
{{- $layout := layout .}}
// {{.TypeName}} is a {{.SizeBits}}-bit payload. The zero value holds the
// reset value.
type {{.TypeName}} struct {
	fs device.FieldSet
}

var {{$layout}} = device.Layout{
	SizeBits:  {{.SizeBits}},
	ByteOrder: {{order .ByteOrder}},
	BitOrder:  {{bitorder .BitOrder}},
	Reset:     {{bytes .Reset}},
}

// New{{.TypeName}} returns the payload preloaded with its reset value.
func New{{.TypeName}}() {{.TypeName}} {
	return {{.TypeName}}{fs: {{$layout}}.New()}
}

// Bytes returns a copy of the raw payload.
func (f {{.TypeName}}) Bytes() []byte {
	return {{$layout}}.Of(f.fs).Bytes()
}
{{range .Fields}}
{{- if .CanRead}}
{{doc .Getter .Description}}func (f {{$fs.TypeName}}) {{.Getter}}() {{getType .}} {
	return {{getExpr $plan $layout .}}
}
{{end}}
{{- if .CanWrite}}
{{if not .CanRead}}{{doc .Setter .Description}}{{end}}func (f *{{$fs.TypeName}}) {{.Setter}}(v {{.GoType}}) {
	{{$layout}}.Init(&f.fs)
	{{setStmt .}}
}
{{end}}
{{- end}}
{{- if and $stringer (readable .Fields)}}
func (f {{.TypeName}}) String() string {
	return fmt.Sprintf({{quote (stringFormat .)}}, {{stringArgs .}})
}
{{- end}}
{{end}}
{{- range .Plan.ResetConstructors}}
{{- $fs := entryFields $plan .Ref}}
// {{.Func}} returns a {{.TypeName}} preloaded with the reset value of {{.Ref}}.
func {{.Func}}() {{.TypeName}} {
	l := {{layout $fs}}
	l.Reset = {{bytes .Reset}}
	return {{.TypeName}}{fs: l.New()}
}
{{end}}
// Device is the root of the register map.
type Device struct {
	dev  *device.Device
	base uint64
}

// New binds the register map to a transport.
func New(t device.Interface) Device {
	return Device{dev: device.New(t)}
}
{{range .Plan.Blocks}}
{{doc .TypeName .Description}}type {{.TypeName}} struct {
	dev  *device.Device
	base uint64
}
{{if .Repeated}}
// {{.Method}} returns instance index of block {{.Path}}.
func (p {{owner $plan .Parent}}) {{.Method}}(index int) ({{.TypeName}}, error) {
	if err := device.CheckIndex({{quote .Path}}, index, {{.Count}}); err != nil {
		return {{.TypeName}}{}, err
	}
	return {{.TypeName}}{dev: p.dev, base: p.base + {{.Offset}} + uint64(index)*{{.Stride}}}, nil
}
{{else}}
func (p {{owner $plan .Parent}}) {{.Method}}() {{.TypeName}} {
	return {{.TypeName}}{dev: p.dev, base: p.base + {{.Offset}}}
}
{{end}}
{{- end}}
{{- range .Plan.Entries}}
{{- if eq .Kind "register"}}
{{doc .Handle .Description}}type {{.Handle}} struct {
	dev *device.Device
	reg device.Register
}
{{if .Repeat}}
func (p {{owner $plan .Parent}}) {{.Method}}(index int) ({{.Handle}}, error) {
	if err := device.CheckIndex({{quote .Path}}, index, {{.Repeat.Count}}); err != nil {
		return {{.Handle}}{}, err
	}
	return new{{.Handle}}(p.dev, p.base+{{.Offset}}+uint64(index)*{{.Repeat.Stride}}), nil
}
{{else}}
func (p {{owner $plan .Parent}}) {{.Method}}() {{.Handle}} {
	return new{{.Handle}}(p.dev, p.base+{{.Offset}})
}
{{end}}
func new{{.Handle}}(dev *device.Device, address uint64) {{.Handle}} {
	return {{.Handle}}{dev: dev, reg: device.Register{
		Name:     {{quote .Path}},
		Address:  address,
		SizeBits: {{.Fields.SizeBits}},
		Order:    {{order .Fields.ByteOrder}},
		BitOrder: {{bitorder .Fields.BitOrder}},
		Access:   {{access .Access}},
		Reset:    {{bytes .Fields.Reset}},
	}}
}

func (r {{.Handle}}) Address() uint64 { return r.reg.Address }
{{if .Has "read"}}
func (r {{.Handle}}) Read(ctx context.Context) ({{.Fields.TypeName}}, error) {
	fs, err := r.dev.ReadRegister(ctx, r.reg)
	if err != nil {
		return {{.Fields.TypeName}}{}, err
	}
	return {{.Fields.TypeName}}{fs: fs}, nil
}
{{end}}
{{- if .Has "write"}}
// Write starts from the reset value, applies f and writes the result.
func (r {{.Handle}}) Write(ctx context.Context, f func(*{{.Fields.TypeName}})) error {
	return r.dev.WriteRegister(ctx, r.reg, func(fs *device.FieldSet) {
		v := {{.Fields.TypeName}}{fs: *fs}
		if f != nil {
			f(&v)
		}
		*fs = {{layout .Fields}}.Of(v.fs)
	})
}

func (r {{.Handle}}) WriteValue(ctx context.Context, v {{.Fields.TypeName}}) error {
	return r.dev.WriteRegisterValue(ctx, r.reg, {{layout .Fields}}.Of(v.fs))
}
{{end}}
{{- if .Has "modify"}}
// Modify reads the register, applies f and writes the result back.
func (r {{.Handle}}) Modify(ctx context.Context, f func(*{{.Fields.TypeName}})) error {
	return r.dev.ModifyRegister(ctx, r.reg, func(fs *device.FieldSet) {
		v := {{.Fields.TypeName}}{fs: *fs}
		f(&v)
		*fs = {{layout .Fields}}.Of(v.fs)
	})
}
{{end}}
{{- else if eq .Kind "command"}}
{{doc .Handle .Description}}type {{.Handle}} struct {
	dev *device.Device
	cmd device.Command
}
{{if .Repeat}}
func (p {{owner $plan .Parent}}) {{.Method}}(index int) ({{.Handle}}, error) {
	if err := device.CheckIndex({{quote .Path}}, index, {{.Repeat.Count}}); err != nil {
		return {{.Handle}}{}, err
	}
	return new{{.Handle}}(p.dev, p.base+{{.Offset}}+uint64(index)*{{.Repeat.Stride}}), nil
}
{{else}}
func (p {{owner $plan .Parent}}) {{.Method}}() {{.Handle}} {
	return new{{.Handle}}(p.dev, p.base+{{.Offset}})
}
{{end}}
func new{{.Handle}}(dev *device.Device, address uint64) {{.Handle}} {
	return {{.Handle}}{dev: dev, cmd: device.Command{
		Name:        {{quote .Path}},
		Address:     address,
		SizeBitsIn:  {{.In.SizeBits}},
		SizeBitsOut: {{.Out.SizeBits}},
		Order:       {{order .In.ByteOrder}},
		BitOrder:    {{bitorder .In.BitOrder}},
	}}
}

func (c {{.Handle}}) Address() uint64 { return c.cmd.Address }

func (c {{.Handle}}) Invoke(ctx context.Context{{if .In.SizeBits}}, in {{.In.TypeName}}{{end}}) {{if .Out.SizeBits}}({{.Out.TypeName}}, error){{else}}error{{end}} {
{{- if .In.SizeBits}}
	{{if .Out.SizeBits}}out{{else}}_{{end}}, err := c.dev.Invoke(ctx, c.cmd, {{layout .In}}.Of(in.fs))
{{- else}}
	{{if .Out.SizeBits}}out{{else}}_{{end}}, err := c.dev.Invoke(ctx, c.cmd, device.FieldSet{})
{{- end}}
{{- if .Out.SizeBits}}
	if err != nil {
		return {{.Out.TypeName}}{}, err
	}
	return {{.Out.TypeName}}{fs: out}, nil
{{- else}}
	return err
{{- end}}
}
{{- else}}
{{doc .Handle .Description}}type {{.Handle}} struct {
	dev *device.Device
	buf device.Buffer
}

func (p {{owner $plan .Parent}}) {{.Method}}() {{.Handle}} {
	return {{.Handle}}{dev: p.dev, buf: device.Buffer{
		Name:    {{quote .Path}},
		Address: p.base + {{.Offset}},
		Access:  {{access .Access}},
	}}
}

func (b {{.Handle}}) Address() uint64 { return b.buf.Address }
{{if .Has "read"}}
// Read reads up to n bytes.
func (b {{.Handle}}) Read(ctx context.Context, n int) ([]byte, error) {
	return b.dev.ReadBuffer(ctx, b.buf, n)
}
{{end}}
{{- if .Has "write"}}
func (b {{.Handle}}) Write(ctx context.Context, p []byte) (int, error) {
	return b.dev.WriteBuffer(ctx, b.buf, p)
}
{{end}}
{{- end}}
{{end}}
`
