// Package validator checks resolved objects for layout and address-space
// consistency: field ranges, overlaps, enum widths, reset values, byte
// orders and address widths.
package validator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/resolver"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

type DiagnosticLevel int

const (
	LevelError DiagnosticLevel = iota
	LevelWarning
)

func (l DiagnosticLevel) String() string {
	if l == LevelWarning {
		return "warning"
	}
	return "error"
}

type Diagnostic struct {
	Level    DiagnosticLevel
	Tag      string
	Message  string
	Path     string
	Position tree.Position
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s [%s] at %s (%s)", d.Level, d.Message, d.Tag, d.Path, d.Position)
}

type Validator struct {
	Diagnostics []Diagnostic
	Device      *resolver.Device
	Config      *config.Config
	mu          sync.Mutex
}

func NewValidator(dev *resolver.Device) *Validator {
	return &Validator{Device: dev, Config: dev.Config}
}

// ValidateDevice runs every check. Each definition is checked once, however
// many instances it has; addresses are checked per instance.
func (v *Validator) ValidateDevice(ctx context.Context) {
	if v.Device == nil {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers < 4 {
		numWorkers = 4
	}
	tasks := make(chan *resolver.Object, 100)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		go func() {
			for o := range tasks {
				if ctx.Err() == nil {
					v.validateDefinition(o)
				}
				wg.Done()
			}
		}()
	}

	seen := make(map[string]bool)
	for _, o := range v.Device.Objects {
		if ctx.Err() != nil {
			break
		}
		if seen[o.Path] {
			continue
		}
		seen[o.Path] = true
		wg.Add(1)
		tasks <- o
	}
	wg.Wait()
	close(tasks)

	if ctx.Err() != nil {
		return
	}
	v.CheckAddressSpace(ctx)
	v.CheckEnums(ctx)
	v.CheckNames(ctx)
	v.CheckUnused(ctx)
	v.sort()
}

func (v *Validator) report(tag string, level DiagnosticLevel, n *tree.Node, format string, args ...any) {
	d := Diagnostic{Level: level, Tag: tag, Message: fmt.Sprintf(format, args...)}
	if n != nil {
		d.Path, d.Position = n.Path, n.Pos
	}
	v.mu.Lock()
	v.Diagnostics = append(v.Diagnostics, d)
	v.mu.Unlock()
}

// sort orders diagnostics by source position so worker scheduling does not
// leak into the output.
func (v *Validator) sort() {
	sort.SliceStable(v.Diagnostics, func(i, j int) bool {
		a, b := v.Diagnostics[i], v.Diagnostics[j]
		if a.Position.File != b.Position.File {
			return a.Position.File < b.Position.File
		}
		if a.Position.Line != b.Position.Line {
			return a.Position.Line < b.Position.Line
		}
		if a.Position.Column != b.Position.Column {
			return a.Position.Column < b.Position.Column
		}
		return a.Message < b.Message
	})
}

// Err returns the error-level diagnostics as a diag.List of validation
// errors, or nil.
func (v *Validator) Err() error {
	var l diag.List
	for _, d := range v.Diagnostics {
		if d.Level == LevelError {
			l.Add(diag.New(diag.Validation, d.Path, d.Position, "%s", d.Message))
		}
	}
	return l.Err()
}

func (v *Validator) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range v.Diagnostics {
		if d.Level == LevelWarning {
			out = append(out, d)
		}
	}
	return out
}

// Object checks a single concrete object and returns its validation errors.
func Object(cfg *config.Config, o *resolver.Object) error {
	v := &Validator{Config: cfg}
	v.validateDefinition(o)
	v.checkAddress(o)
	v.sort()
	return v.Err()
}

func (v *Validator) validateDefinition(o *resolver.Object) {
	switch d := o.Definition.(type) {
	case *model.Register:
		if d.SizeBits == 0 {
			v.report("size", LevelError, nodeOr(d.Node, "size_bits"), "register %s has size_bits 0", o.Path)
			return
		}
		v.checkFields(o.Path, "fields", d.Fields, d.SizeBits, d.AllowBitOverlap)
		v.checkReset(o.Path, d)
		v.checkByteOrder(o, d.SizeBits)
		if d.Access == device.WriteOnly && len(d.Fields) > 0 && d.ResetValue == nil {
			v.report("write_only_no_reset", LevelWarning, d.Node,
				"write-only register %s has fields but no reset_value; writes start from zero", o.Path)
		}
	case *model.Command:
		v.checkFields(o.Path, "fields_in", d.FieldsIn, d.SizeBitsIn, d.AllowBitOverlap)
		v.checkFields(o.Path, "fields_out", d.FieldsOut, d.SizeBitsOut, d.AllowBitOverlap)
		v.checkByteOrder(o, max(d.SizeBitsIn, d.SizeBitsOut))
	}
}

func nodeOr(n *tree.Node, key string) *tree.Node {
	if c, ok := n.Lookup(key); ok {
		return c
	}
	return n
}

func (v *Validator) checkFields(path, set string, fields []*model.Field, size uint64, allowOverlap bool) {
	for _, f := range fields {
		switch {
		case f.End > size:
			v.report("field_range", LevelError, nodeOr(f.Node, "end"),
				"field %s [%d,%d) lies outside the %d-bit %s payload of %s", f.Name, f.Start, f.End, size, set, path)
		case f.Width() > 64:
			v.report("field_width", LevelError, f.Node,
				"field %s is %d bits wide, at most 64 are supported", f.Name, f.Width())
		}
		switch f.Base {
		case model.BaseBool:
			if f.Width() != 1 {
				v.report("bool_width", LevelError, f.Node, "bool field %s must be 1 bit wide, got %d", f.Name, f.Width())
			}
		case model.BaseEnum:
			if f.Width() != f.Enum.Bits {
				v.report("enum_width", LevelError, f.Node,
					"enum width mismatch: field %s is %d bits wide but enum %s has %d bits", f.Name, f.Width(), f.Enum.Name, f.Enum.Bits)
			}
		}
	}

	if allowOverlap {
		return
	}
	sorted := append([]*model.Field(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		// Compare against every earlier field still open at this start.
		for j := i - 1; j >= 0; j-- {
			a, b := sorted[j], sorted[i]
			if a.End > b.Start {
				v.report("field_overlap", LevelError, b.Node,
					"fields %s [%d,%d) and %s [%d,%d) of %s overlap", a.Name, a.Start, a.End, b.Name, b.Start, b.End, path)
			}
		}
	}
}

func (v *Validator) checkReset(path string, r *model.Register) {
	rv := r.ResetValue
	if rv == nil {
		return
	}
	if rv.IsBytes {
		if want := device.ByteLen(uint(r.SizeBits)); len(rv.Bytes) != want {
			v.report("reset_length", LevelError, rv.Node,
				"reset_value has %d bytes but register %s needs %d", len(rv.Bytes), path, want)
		}
		return
	}
	if r.SizeBits < 64 && rv.Value>>r.SizeBits != 0 {
		v.report("reset_overflow", LevelError, rv.Node,
			"reset_value %d does not fit in the %d bits of register %s", rv.Value, r.SizeBits, path)
	}
}

func (v *Validator) checkByteOrder(o *resolver.Object, size uint64) {
	if size > 8 && !o.HasByteOrder {
		v.report("byte_order", LevelError, o.Node(),
			"%s %s is %d bits wide and has no byte_order; set one or configure default_byte_order", o.Kind, o.Path, size)
	}
}

func (v *Validator) addressType(k model.Kind) (config.AddressType, string) {
	switch k {
	case model.KindRegister:
		return v.Config.RegisterAddressType, "register_address_type"
	case model.KindCommand:
		return v.Config.CommandAddressType, "command_address_type"
	}
	return v.Config.BufferAddressType, "buffer_address_type"
}

func (v *Validator) checkAddress(o *resolver.Object) bool {
	typ, key := v.addressType(o.Kind)
	if typ == config.Unset {
		v.report("address_type", LevelError, o.Node(),
			"%s %s needs an address width but %s is not configured", o.Kind, o.Path, key)
		return false
	}
	if o.Address > typ.Max() {
		v.report("address_range", LevelError, nodeOr(o.Node(), "address"),
			"address %d of %s does not fit in %s", o.Address, o.Instance, typ)
	}
	return true
}

// CheckAddressSpace reports a missing address type once per kind and every
// instance address that does not fit its type.
func (v *Validator) CheckAddressSpace(ctx context.Context) {
	missing := make(map[model.Kind]bool)
	for _, o := range v.Device.Objects {
		if ctx.Err() != nil {
			return
		}
		if missing[o.Kind] {
			continue
		}
		if !v.checkAddress(o) {
			missing[o.Kind] = true
		}
	}
}

func (v *Validator) CheckEnums(ctx context.Context) {
	for _, e := range v.Device.Enums {
		if ctx.Err() != nil {
			return
		}
		values := make(map[uint64]string)
		for _, vr := range e.Variants {
			if e.Bits < 64 && vr.Value>>e.Bits != 0 {
				v.report("variant_range", LevelError, vr.Node,
					"variant %s of enum %s has value %d which does not fit in %d bits", vr.Name, e.Name, vr.Value, e.Bits)
			}
			if prev, dup := values[vr.Value]; dup {
				v.report("variant_duplicate", LevelError, vr.Node,
					"variants %s and %s of enum %s share the value %d", prev, vr.Name, e.Name, vr.Value)
				continue
			}
			values[vr.Value] = vr.Name
		}
		if e.Declared && e.Conversion == model.Infallible && !e.CanBeInfallible() {
			v.report("enum_conversion", LevelError, nodeOr(e.Node, "conversion"),
				"enum %s is declared infallible but does not cover all %d-bit values and has no default", e.Name, e.Bits)
		}
	}
}

// CheckNames rejects siblings whose generated identifiers would clash under
// the configured word boundaries.
func (v *Validator) CheckNames(ctx context.Context) {
	split := v.Config.Splitter()
	type owner struct {
		name string
		node *tree.Node
	}
	scopes := make(map[string]map[string]owner)
	claim := func(scope, name string, n *tree.Node) {
		ident := split.Pascal(name)
		if ident == "" {
			v.report("name", LevelError, n, "name %q has no letters or digits to build an identifier from", name)
			return
		}
		byIdent, ok := scopes[scope]
		if !ok {
			byIdent = make(map[string]owner)
			scopes[scope] = byIdent
		}
		if prev, dup := byIdent[ident]; dup {
			if prev.name != name {
				v.report("name_collision", LevelError, n,
					"%s and %s both become the identifier %s", prev.name, name, ident)
			}
			return
		}
		byIdent[ident] = owner{name, n}
	}

	for _, b := range v.Device.Blocks {
		claim(b.Parent, b.Name, b.Node)
	}
	seen := make(map[string]bool)
	for _, o := range v.Device.Objects {
		if ctx.Err() != nil {
			return
		}
		if seen[o.Path] {
			continue
		}
		seen[o.Path] = true
		claim(parentOf(o.Path), o.Name, o.Node())
		switch d := o.Definition.(type) {
		case *model.Register:
			for _, f := range d.Fields {
				claim(o.Path+"#fields", f.Name, f.Node)
			}
		case *model.Command:
			for _, f := range d.FieldsIn {
				claim(o.Path+"#in", f.Name, f.Node)
			}
			for _, f := range d.FieldsOut {
				claim(o.Path+"#out", f.Name, f.Node)
			}
		}
	}
	for _, e := range v.Device.Enums {
		claim("#enums", e.Name, e.Node)
		for _, vr := range e.Variants {
			claim("#enum/"+e.Name, vr.Name, vr.Node)
		}
		if e.CatchAll != "" {
			claim("#enum/"+e.Name, e.CatchAll, nodeOr(nodeOr(e.Node, "variants"), e.CatchAll))
		}
	}
}

func parentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

// CheckUnused warns about enums no field refers to.
func (v *Validator) CheckUnused(ctx context.Context) {
	used := make(map[string]bool)
	for _, o := range v.Device.Objects {
		var sets [][]*model.Field
		switch d := o.Definition.(type) {
		case *model.Register:
			sets = append(sets, d.Fields)
		case *model.Command:
			sets = append(sets, d.FieldsIn, d.FieldsOut)
		}
		for _, set := range sets {
			for _, f := range set {
				if f.Enum != nil {
					used[f.Enum.Name] = true
				}
			}
		}
	}
	for _, e := range v.Device.Enums {
		if ctx.Err() != nil {
			return
		}
		if !used[e.Name] {
			v.report("unused_enum", LevelWarning, e.Node, "enum %s is not used by any field", e.Name)
		}
	}
}
