// Package codegen turns a resolved device into a Plan: the language neutral
// description of every type, accessor and operation a backend emits. The Go
// emitter and the interpreter both consume a Plan.
package codegen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/naming"
	"github.com/marte-community/register-dev-tools/internal/resolver"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

// Conversions between raw field bits and the field's Go type.
const (
	ConvNone           = "none"
	ConvBool           = "bool"
	ConvEnumInfallible = "enum-infallible"
	ConvEnumFallible   = "enum-fallible"
)

// Operations a concrete object offers.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpModify = "modify"
	OpInvoke = "invoke"
	OpAt     = "at"
)

// Bytes marshals as a list of numbers rather than base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(Bytes, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type Field struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Getter      string `json:"getter"`
	Setter      string `json:"setter"`
	Base        string `json:"base"`
	GoType      string `json:"go_type"`
	Enum        string `json:"enum,omitempty"`
	Start       uint64 `json:"start"`
	End         uint64 `json:"end"`
	Conversion  string `json:"conversion"`
	// Access gates the getter (RW, RO) and the setter (RW, WO).
	Access      string `json:"access,omitempty"`
}

func (f *Field) Width() uint64 { return f.End - f.Start }

func (f Field) Mode() device.Access {
	a, _ := device.ParseAccess(f.Access)
	return a
}

func (f Field) CanRead() bool  { return f.Mode().CanRead() }
func (f Field) CanWrite() bool { return f.Mode().CanWrite() }

// FieldSet is one payload layout.
type FieldSet struct {
	TypeName  string  `json:"type_name"`
	SizeBits  uint64  `json:"size_bits"`
	SizeBytes int     `json:"size_bytes"`
	ByteOrder string  `json:"byte_order"`
	BitOrder  string  `json:"bit_order,omitempty"`
	Reset     Bytes   `json:"reset"`
	Fields    []Field `json:"fields"`

	// Shared is set when the type is declared by another entry.
	Shared bool `json:"shared,omitempty"`
}

func (fs *FieldSet) Field(name string) *Field {
	for i := range fs.Fields {
		if fs.Fields[i].Name == name {
			return &fs.Fields[i]
		}
	}
	return nil
}

func (fs *FieldSet) Order() device.ByteOrder {
	o, _ := device.ParseByteOrder(fs.ByteOrder)
	return o
}

func (fs *FieldSet) Bits() device.BitOrder {
	b, _ := device.ParseBitOrder(fs.BitOrder)
	return b
}

// Layout is the runtime description of the payload, reset included.
func (fs *FieldSet) Layout() device.Layout {
	return device.Layout{SizeBits: uint(fs.SizeBits), ByteOrder: fs.Order(), BitOrder: fs.Bits(), Reset: fs.Reset}
}

// Dim is one repeat dimension of an entry, outermost first.
type Dim struct {
	Path   string `json:"path"`
	Count  uint64 `json:"count"`
	Stride uint64 `json:"stride"`
}

type Instance struct {
	Path    string   `json:"path"`
	Indices []uint64 `json:"indices,omitempty"`
	Address uint64   `json:"address"`
}

// Entry is one register, command or buffer declaration and all of its
// concrete instances.
type Entry struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Parent      string `json:"parent"`
	Description string `json:"description,omitempty"`
	Origin      string `json:"origin,omitempty"`

	TypeName  string `json:"type_name"`
	FuncName  string `json:"func_name"`
	ConstName string `json:"const_name"`

	// Handle is the Go type of the accessor value.
	Handle string `json:"handle"`
	Method string `json:"method"`

	// Offset is the address relative to the enclosing block instance.
	Offset      uint64   `json:"offset"`
	AddressType string   `json:"address_type"`
	ByteOrder   string   `json:"byte_order"`
	Access      string   `json:"access,omitempty"`
	Operations  []string `json:"operations"`

	// Repeat is the entry's own repeat, if any.
	Repeat *Dim  `json:"repeat,omitempty"`
	Dims   []Dim `json:"dims,omitempty"`

	Fields *FieldSet `json:"fields,omitempty"`
	In     *FieldSet `json:"in,omitempty"`
	Out    *FieldSet `json:"out,omitempty"`

	Instances []Instance `json:"instances"`
}

func (e *Entry) Has(op string) bool {
	for _, o := range e.Operations {
		if o == op {
			return true
		}
	}
	return false
}

func (e *Entry) AccessMode() device.Access {
	a, _ := device.ParseAccess(e.Access)
	return a
}

type Block struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Parent      string   `json:"parent"`
	Description string   `json:"description,omitempty"`
	TypeName    string   `json:"type_name"`
	FuncName    string   `json:"func_name"`
	Method      string   `json:"method"`
	Offset      uint64   `json:"offset"`
	Count       uint64   `json:"count"`
	Stride      uint64   `json:"stride"`
	Repeated    bool     `json:"repeated"`
	Operations  []string `json:"operations"`
}

type Variant struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ConstName   string `json:"const_name"`
	Value       uint64 `json:"value"`
}

type Enum struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TypeName    string `json:"type_name"`
	GoType      string `json:"go_type"`
	Bits        uint64 `json:"bits"`
	Conversion  string `json:"conversion"`
	Default     string `json:"default,omitempty"`

	// CatchAll names the variant holding every unmapped bit pattern.
	// CatchAllMethod is the Go predicate that recognises it.
	CatchAll       string `json:"catch_all,omitempty"`
	CatchAllMethod string `json:"catch_all_method,omitempty"`

	Variants []Variant `json:"variants"`
}

func (e *Enum) Variant(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// ByValue returns the variant a raw bit pattern decodes to, falling back to
// the default variant. It returns nil when neither exists, which for an
// enum with a catch-all means the pattern belongs to the catch-all.
func (e *Enum) ByValue(v uint64) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Value == v {
			return &e.Variants[i]
		}
	}
	if e.Default != "" {
		return e.Variant(e.Default)
	}
	return nil
}

// ResetConstructor builds a field set preloaded with the reset value of a
// ref that reuses another register's layout.
type ResetConstructor struct {
	Func     string `json:"func"`
	TypeName string `json:"type_name"`
	Ref      string `json:"ref"`
	Reset    Bytes  `json:"reset"`
}

type Flag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormatVersion identifies the IR layout and the emitter it feeds. Cached
// plans with a different format are rebuilt.
const FormatVersion = "rdt-ir/2"

type Plan struct {
	Format            string             `json:"format"`
	AddressTypes      map[string]string  `json:"address_types"`
	FeatureFlags      []Flag             `json:"feature_flags,omitempty"`
	Enums             []*Enum            `json:"enums"`
	Blocks            []*Block           `json:"blocks"`
	Entries           []*Entry           `json:"entries"`
	ResetConstructors []ResetConstructor `json:"reset_constructors,omitempty"`
}

func (p *Plan) Enum(name string) *Enum {
	for _, e := range p.Enums {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (p *Plan) Entry(path string) *Entry {
	for _, e := range p.Entries {
		if e.Path == path {
			return e
		}
	}
	return nil
}

func (p *Plan) Block(path string) *Block {
	for _, b := range p.Blocks {
		if b.Path == path {
			return b
		}
	}
	return nil
}

// FlagEnabled mirrors config.Config.FlagEnabled for plans loaded from IR.
func (p *Plan) FlagEnabled(name string) bool {
	for _, f := range p.FeatureFlags {
		if f.Name == name {
			switch strings.ToLower(f.Value) {
			case "true", "1", "yes", "on":
				return true
			}
		}
	}
	return false
}

// ChildBlocks returns the blocks declared directly below parent.
func (p *Plan) ChildBlocks(parent string) []*Block {
	var out []*Block
	for _, b := range p.Blocks {
		if b.Parent == parent {
			out = append(out, b)
		}
	}
	return out
}

// ChildEntries returns the entries declared directly below parent.
func (p *Plan) ChildEntries(parent string) []*Entry {
	var out []*Entry
	for _, e := range p.Entries {
		if e.Parent == parent {
			out = append(out, e)
		}
	}
	return out
}

// JSON renders the plan as the IR document written by "rdt build --format ir".
func (p *Plan) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseJSON reads an IR document back into a plan.
func ParseJSON(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ident makes a Pascal name usable as a Go identifier.
func ident(s string) string {
	if s == "" {
		return s
	}
	if r := []rune(s)[0]; unicode.IsDigit(r) {
		return "N" + s
	}
	return s
}

func uintType(bits uint64) string {
	switch {
	case bits <= 8:
		return "uint8"
	case bits <= 16:
		return "uint16"
	case bits <= 32:
		return "uint32"
	}
	return "uint64"
}

func intType(bits uint64) string {
	return strings.TrimPrefix(uintType(bits), "u")
}

func parentOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

type builder struct {
	cfg   *config.Config
	split *naming.Splitter
	dev   *resolver.Device
	plan  *Plan
	enums map[string]*Enum
}

// Build derives the plan for dev.
func Build(dev *resolver.Device) (*Plan, error) {
	b := &builder{
		cfg:   dev.Config,
		split: dev.Config.Splitter(),
		dev:   dev,
		enums: make(map[string]*Enum),
		plan: &Plan{
			Format: FormatVersion,
			AddressTypes: map[string]string{
				"register": dev.Config.RegisterAddressType.String(),
				"command":  dev.Config.CommandAddressType.String(),
				"buffer":   dev.Config.BufferAddressType.String(),
			},
			Enums:   []*Enum{},
			Blocks:  []*Block{},
			Entries: []*Entry{},
		},
	}
	for _, f := range dev.Config.FeatureFlags {
		b.plan.FeatureFlags = append(b.plan.FeatureFlags, Flag{Name: f.Name, Value: f.Value})
	}
	for _, e := range dev.Enums {
		b.enum(e)
	}
	for _, blk := range dev.Blocks {
		b.block(blk)
	}
	b.entries()
	if err := b.assignTypeNames(); err != nil {
		return nil, err
	}
	b.shareLayouts()
	return b.plan, nil
}

func (b *builder) pascal(name string) string { return ident(b.split.Pascal(name)) }

func (b *builder) enum(e *model.Enum) {
	en := &Enum{
		Name:        e.Name,
		Description: e.Description,
		TypeName:    b.pascal(e.Name),
		GoType:      uintType(e.Bits),
		Bits:        e.Bits,
		Conversion:  e.Conversion.String(),
		Default:     e.Default,
		CatchAll:    e.CatchAll,
	}
	if e.CatchAll != "" {
		en.CatchAllMethod = "Is" + b.split.Pascal(e.CatchAll)
	}
	for _, v := range e.Variants {
		en.Variants = append(en.Variants, Variant{
			Name:        v.Name,
			Description: v.Description,
			ConstName:   en.TypeName + b.split.Pascal(v.Name),
			Value:       v.Value,
		})
	}
	b.enums[e.Name] = en
	b.plan.Enums = append(b.plan.Enums, en)
}

func (b *builder) block(blk *resolver.Block) {
	pb := &Block{
		Name:        blk.Name,
		Path:        blk.Path,
		Parent:      blk.Parent,
		Description: blk.Description,
		FuncName:    b.split.Snake(blk.Name),
		Method:      b.pascal(blk.Name),
		Offset:      blk.Offset,
		Count:       blk.Count,
		Stride:      blk.Stride,
		Repeated:    blk.Repeated,
	}
	if pb.Repeated {
		pb.Operations = []string{OpAt}
	} else {
		pb.Operations = []string{}
	}
	b.plan.Blocks = append(b.plan.Blocks, pb)
}

func (b *builder) entries() {
	byPath := make(map[string]*Entry)
	for _, o := range b.dev.Objects {
		inst := Instance{Path: o.Instance, Address: o.Address}
		for _, idx := range o.Indices {
			inst.Indices = append(inst.Indices, idx.Value)
		}
		if e, ok := byPath[o.Path]; ok {
			e.Instances = append(e.Instances, inst)
			continue
		}
		e := b.entry(o)
		e.Instances = []Instance{inst}
		byPath[o.Path] = e
		b.plan.Entries = append(b.plan.Entries, e)
	}
}

func (b *builder) entry(o *resolver.Object) *Entry {
	e := &Entry{
		Kind:        o.Kind.String(),
		Name:        o.Name,
		Path:        o.Path,
		Parent:      parentOf(o.Path),
		Description: o.Definition.Info().Description,
		Origin:      o.Origin,
		FuncName:    b.split.Snake(o.Name),
		ConstName:   b.split.ScreamingSnake(o.Name),
		Method:      b.pascal(o.Name),
		AddressType: b.plan.AddressTypes[o.Kind.String()],
	}
	if o.HasByteOrder {
		e.ByteOrder = o.ByteOrder.String()
	}
	for _, idx := range o.Indices {
		d := Dim{Path: idx.Path, Count: idx.Count}
		if blk := b.dev.Block(idx.Path); blk != nil {
			d.Stride = blk.Stride
		}
		e.Dims = append(e.Dims, d)
	}

	var rep *model.Repeat
	switch def := o.Definition.(type) {
	case *model.Register:
		e.Offset, rep = def.Address, def.Repeat
		e.Access = o.Access.String()
		e.Fields = b.fieldSet(def.Fields, def.SizeBits, o, resetBytes(def, o))
		if o.Access.CanRead() {
			e.Operations = append(e.Operations, OpRead)
		}
		if o.Access.CanWrite() {
			e.Operations = append(e.Operations, OpWrite)
		}
		if o.Access == device.ReadWrite {
			e.Operations = append(e.Operations, OpModify)
		}
	case *model.Command:
		e.Offset, rep = def.Address, def.Repeat
		e.In = b.fieldSet(def.FieldsIn, def.SizeBitsIn, o, nil)
		e.Out = b.fieldSet(def.FieldsOut, def.SizeBitsOut, o, nil)
		e.Operations = []string{OpInvoke}
	case *model.Buffer:
		e.Offset = def.Address
		e.Access = o.Access.String()
		if o.Access.CanRead() {
			e.Operations = append(e.Operations, OpRead)
		}
		if o.Access.CanWrite() {
			e.Operations = append(e.Operations, OpWrite)
		}
	}
	if rep != nil {
		e.Repeat = &Dim{Path: o.Path, Count: rep.Count, Stride: rep.Stride}
		e.Dims[len(e.Dims)-1].Stride = rep.Stride
		e.Operations = append(e.Operations, OpAt)
	}
	if e.Operations == nil {
		e.Operations = []string{}
	}
	return e
}

// resetBytes lays the reset value out in payload order.
func resetBytes(r *model.Register, o *resolver.Object) []byte {
	n := device.ByteLen(uint(r.SizeBits))
	if r.ResetValue == nil || n == 0 {
		return make([]byte, n)
	}
	if r.ResetValue.IsBytes {
		out := make([]byte, n)
		copy(out, r.ResetValue.Bytes)
		return out
	}
	fs := device.NewFieldSet(uint(r.SizeBits), o.ByteOrder, nil)
	bits := min(r.SizeBits, 64)
	fs.SetUint(0, uint(bits), r.ResetValue.Value)
	return fs.Bytes()
}

func (b *builder) fieldSet(fields []*model.Field, size uint64, o *resolver.Object, reset []byte) *FieldSet {
	fs := &FieldSet{
		SizeBits:  size,
		SizeBytes: device.ByteLen(uint(size)),
		ByteOrder: o.ByteOrder.String(),
		BitOrder:  o.BitOrder.String(),
		Reset:     reset,
		Fields:    []Field{},
	}
	if fs.Reset == nil {
		fs.Reset = make(Bytes, fs.SizeBytes)
	}
	for _, f := range fields {
		pascal := b.pascal(f.Name)
		pf := Field{
			Name:        f.Name,
			Description: f.Description,
			Getter:      pascal,
			Setter:      "Set" + pascal,
			Base:        f.Base.String(),
			Start:       f.Start,
			End:         f.End,
			Conversion:  ConvNone,
			Access:      f.Access.String(),
		}
		switch f.Base {
		case model.BaseBool:
			pf.GoType, pf.Conversion = "bool", ConvBool
		case model.BaseUint:
			pf.GoType = uintType(f.Width())
		case model.BaseInt:
			pf.GoType = intType(f.Width())
		case model.BaseEnum:
			en := b.enums[f.Enum.Name]
			pf.Enum, pf.GoType = en.Name, en.TypeName
			pf.Conversion = ConvEnumFallible
			if f.Enum.Conversion == model.Infallible {
				pf.Conversion = ConvEnumInfallible
			}
		}
		fs.Fields = append(fs.Fields, pf)
	}
	return fs
}

// assignTypeNames gives every block and entry a package-wide unique type
// name: the Pascal name when that is unique, the Pascal path otherwise.
func (b *builder) assignTypeNames() error {
	count := make(map[string]int)
	for _, blk := range b.plan.Blocks {
		count[b.pascal(blk.Name)]++
	}
	for _, e := range b.plan.Entries {
		count[b.pascal(e.Name)]++
	}
	pick := func(name, path string) string {
		if n := b.pascal(name); count[n] == 1 {
			return n
		}
		var parts strings.Builder
		for _, seg := range strings.Split(path, "/") {
			parts.WriteString(b.split.Pascal(seg))
		}
		return ident(parts.String())
	}

	owners := map[string]string{"Device": "the device root", "New": "the device constructor"}
	var errs diag.List
	claim := func(name, owner string) {
		if prev, dup := owners[name]; dup {
			errs.Add(diag.New(diag.Validation, owner, tree.Position{},
				"generated name %s is used by both %s and %s", name, prev, owner))
			return
		}
		owners[name] = owner
	}

	for _, en := range b.plan.Enums {
		claim(en.TypeName, "enum "+en.Name)
		claim(en.TypeName+"FromBits", "enum "+en.Name)
		for _, v := range en.Variants {
			claim(v.ConstName, "variant "+en.Name+"."+v.Name)
		}
	}
	for _, blk := range b.plan.Blocks {
		blk.TypeName = pick(blk.Name, blk.Path)
		claim(blk.TypeName, "block "+blk.Path)
	}
	for _, e := range b.plan.Entries {
		e.TypeName = pick(e.Name, e.Path)
		owner := e.Kind + " " + e.Path
		switch e.Kind {
		case "register":
			e.Handle = e.TypeName + "Register"
			e.Fields.TypeName = e.TypeName
			claim(e.TypeName, owner)
			claim("New"+e.TypeName, owner)
		case "command":
			e.Handle = e.TypeName + "Command"
			e.In.TypeName, e.Out.TypeName = e.TypeName+"In", e.TypeName+"Out"
			claim(e.In.TypeName, owner)
			claim(e.Out.TypeName, owner)
			claim("New"+e.In.TypeName, owner)
			claim("New"+e.Out.TypeName, owner)
		case "buffer":
			e.Handle = e.TypeName + "Buffer"
		}
		claim(e.Handle, owner)
		for _, fs := range []*FieldSet{e.Fields, e.In, e.Out} {
			if fs != nil {
				checkMethods(&errs, fs, owner)
			}
		}
	}
	errs.Errors = sortErrors(errs.Errors)
	return errs.Err()
}

// checkMethods rejects fields whose accessors clash with each other or with
// the methods every payload type declares.
func checkMethods(errs *diag.List, fs *FieldSet, owner string) {
	methods := map[string]string{"Bytes": "the payload type", "String": "the payload type"}
	for _, f := range fs.Fields {
		for _, m := range []string{f.Getter, f.Setter} {
			who := "field " + f.Name
			if prev, dup := methods[m]; dup {
				errs.Add(diag.New(diag.Validation, owner, tree.Position{},
					"generated method %s.%s is used by both %s and %s", fs.TypeName, m, prev, who))
				continue
			}
			methods[m] = who
		}
	}
}

func sortErrors(errs []*diag.Error) []*diag.Error {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

// shareLayouts lets a register declared by a ref reuse the field set type
// of the register it copies when the layouts match. A differing reset value
// becomes a reset constructor.
func (b *builder) shareLayouts() {
	targets := make(map[string]string)
	for _, o := range b.dev.Objects {
		if o.Target != "" {
			targets[o.Path] = o.Target
		}
	}
	for _, e := range b.plan.Entries {
		target, ok := targets[e.Path]
		if !ok || e.Kind != "register" {
			continue
		}
		te := b.plan.Entry(target)
		if te == nil || te.Fields.Shared || !sameLayout(e.Fields, te.Fields) {
			continue
		}
		e.Fields.TypeName = te.Fields.TypeName
		e.Fields.Shared = true
		if string(e.Fields.Reset) != string(te.Fields.Reset) {
			b.plan.ResetConstructors = append(b.plan.ResetConstructors, ResetConstructor{
				Func:     "New" + te.Fields.TypeName + "As" + e.TypeName,
				TypeName: te.Fields.TypeName,
				Ref:      e.Path,
				Reset:    e.Fields.Reset,
			})
		}
	}
}

func sameLayout(a, b *FieldSet) bool {
	if a.SizeBits != b.SizeBits || a.ByteOrder != b.ByteOrder || a.BitOrder != b.BitOrder || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.Name != fb.Name || fa.Base != fb.Base || fa.Enum != fb.Enum || fa.Start != fb.Start || fa.End != fb.End || fa.Access != fb.Access {
			return false
		}
	}
	return true
}
