package model

import (
	"sort"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

// ConfigKey is the reserved top-level key holding the global config.
const ConfigKey = "config"

var kindKeys = map[string][]string{
	"block":    {"type", "description", "address_offset", "repeat", "children"},
	"register": {"type", "description", "address", "size_bits", "access", "reset_value", "byte_order", "bit_order", "repeat", "fields", "allow_bit_overlap", "allow_address_overlap"},
	"command":  {"type", "description", "address", "size_bits_in", "size_bits_out", "byte_order", "bit_order", "repeat", "fields_in", "fields_out", "allow_bit_overlap", "allow_address_overlap"},
	"buffer":   {"type", "description", "address", "access"},
	"ref":      {"type", "description", "target", "override"},
	"enum":     {"type", "description", "bits", "conversion", "variants", "default"},
}

var requiredKeys = map[string][]string{
	"register": {"address", "size_bits"},
	"command":  {"address"},
	"buffer":   {"address"},
	"ref":      {"target"},
	"enum":     {"bits", "variants"},
}

var fieldKeys = []string{"base", "start", "end", "access", "description"}

// KeysFor lists the keys an object of kind k accepts.
func KeysFor(k Kind) []string {
	return kindKeys[k.String()]
}

// Accepts reports whether key is valid for kind k.
func Accepts(k Kind, key string) bool {
	for _, c := range kindKeys[k.String()] {
		if c == key {
			return true
		}
	}
	return false
}

func typeNames() []string {
	names := make([]string, 0, len(kindKeys))
	for n := range kindKeys {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parser turns tree nodes into objects. Enums are known up front so fields
// may name enums declared anywhere in the manifest.
type Parser struct {
	cfg   *config.Config
	enums map[string]*Enum
}

func NewParser(cfg *config.Config, enums []*Enum) *Parser {
	p := &Parser{cfg: cfg, enums: make(map[string]*Enum, len(enums))}
	for _, e := range enums {
		p.enums[e.Name] = e
	}
	return p
}

// Parse builds the object model for a whole manifest.
func Parse(root *tree.Node, cfg *config.Config) (*Manifest, error) {
	if root.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, root, "manifest must be a mapping, got %s", root.Describe())
	}
	m := &Manifest{Config: cfg, Root: root}

	for _, e := range root.Entries {
		if e.Key == ConfigKey {
			continue
		}
		if typ, ok := e.Value.Lookup("type"); ok && typ.Type == tree.String && typ.Str == "enum" {
			en, err := ParseEnum(e.Value, e.Key)
			if err != nil {
				return nil, err
			}
			m.Enums = append(m.Enums, en)
		}
	}

	m.parser = NewParser(cfg, m.Enums)
	for _, e := range root.Entries {
		if e.Key == ConfigKey {
			continue
		}
		if typ, ok := e.Value.Lookup("type"); ok && typ.Type == tree.String && typ.Str == "enum" {
			continue
		}
		obj, err := m.parser.ParseObject(e.Value, e.Key)
		if err != nil {
			return nil, err
		}
		m.Objects = append(m.Objects, obj)
	}
	return m, nil
}

// ParseObject parses a complete object definition.
func (p *Parser) ParseObject(n *tree.Node, name string) (Object, error) {
	return p.parse(n, name, 0, false)
}

// ParseOverride checks a partial object. The kind comes from the patch's
// own type tag when present and from def otherwise.
func (p *Parser) ParseOverride(n *tree.Node, name string, def Kind) (Object, error) {
	return p.parse(n, name, def, true)
}

func (p *Parser) parse(n *tree.Node, name string, def Kind, partial bool) (Object, error) {
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, n, "object %q must be a mapping, got %s", name, n.Describe())
	}
	kind := def
	typ, ok := n.Lookup("type")
	switch {
	case ok:
		if typ.Type != tree.String {
			return nil, diag.At(diag.Parse, typ, "type must be a string, got %s", typ.Describe())
		}
		if typ.Str == "enum" {
			return nil, diag.At(diag.Parse, typ, "enum %q must be declared at the top level", name)
		}
		k, known := ParseKind(typ.Str)
		if !known {
			return nil, diag.At(diag.Parse, typ, "unknown object type %q", typ.Str).
				WithSuggestion(diag.Suggest(typ.Str, typeNames()))
		}
		kind = k
	case !partial:
		return nil, diag.At(diag.Parse, n, "object %q has no type", name)
	}
	if partial && kind == KindRef {
		return nil, diag.At(diag.Parse, n, "an override cannot itself be a ref")
	}

	r := reader{node: n, kind: kind.String()}
	if err := r.checkKeys(partial); err != nil {
		return nil, err
	}
	meta := Meta{Name: name, Node: n}
	meta.Description = r.str("description")

	var obj Object
	switch kind {
	case KindBlock:
		b := &Block{Meta: meta}
		b.AddressOffset = r.uint("address_offset")
		b.Repeat = r.repeat()
		if children, ok := n.Lookup("children"); ok && r.err == nil {
			if partial {
				// Child patches are checked once merged with their base.
				r.err = checkMappings(children, "children")
			} else {
				b.Children, r.err = p.children(children)
			}
		}
		obj = b
	case KindRegister:
		reg := &Register{Meta: meta, Access: p.cfg.DefaultRegisterAccess}
		reg.Address = r.uint("address")
		reg.SizeBits = r.uint("size_bits")
		if a := r.access("access"); a != nil {
			reg.Access = *a
		}
		reg.ResetValue = r.reset()
		reg.ByteOrder = r.byteOrder("byte_order")
		reg.BitOrder = r.bitOrder("bit_order")
		reg.AllowBitOverlap = r.bool("allow_bit_overlap")
		reg.AllowAddressOverlap = r.bool("allow_address_overlap")
		reg.Repeat = r.repeat()
		reg.Fields = p.fields(&r, "fields")
		obj = reg
	case KindCommand:
		c := &Command{Meta: meta}
		c.Address = r.uint("address")
		c.SizeBitsIn = r.uint("size_bits_in")
		c.SizeBitsOut = r.uint("size_bits_out")
		c.ByteOrder = r.byteOrder("byte_order")
		c.BitOrder = r.bitOrder("bit_order")
		c.AllowBitOverlap = r.bool("allow_bit_overlap")
		c.AllowAddressOverlap = r.bool("allow_address_overlap")
		c.Repeat = r.repeat()
		c.FieldsIn = p.fields(&r, "fields_in")
		c.FieldsOut = p.fields(&r, "fields_out")
		obj = c
	case KindBuffer:
		b := &Buffer{Meta: meta, Access: p.cfg.DefaultBufferAccess}
		b.Address = r.uint("address")
		if a := r.access("access"); a != nil {
			b.Access = *a
		}
		obj = b
	case KindRef:
		ref := &Ref{Meta: meta}
		ref.Target = r.str("target")
		ref.TargetNode, _ = n.Lookup("target")
		if r.err == nil && ref.Target == "" {
			r.err = diag.At(diag.Parse, ref.TargetNode, "ref target must not be empty")
		}
		if ov, ok := n.Lookup("override"); ok && r.err == nil {
			if ov.Kind != tree.Mapping {
				r.err = diag.At(diag.Parse, ov, "override must be a mapping, got %s", ov.Describe())
			} else if _, ok := ov.Lookup("type"); ok {
				// The kind is only known up front when the patch names it.
				_, r.err = p.ParseOverride(ov, name, KindRegister)
			} else {
				for _, e := range ov.Entries {
					if !acceptedByAny(e.Key) {
						r.err = diag.At(diag.Parse, e.Value, "override key %q is not valid for any object type", e.Key)
						break
					}
				}
			}
			ref.Override = ov
		}
		obj = ref
	}
	if r.err != nil {
		return nil, r.err
	}
	return obj, nil
}

func acceptedByAny(key string) bool {
	for kind, keys := range kindKeys {
		if kind == "enum" || kind == "ref" {
			continue
		}
		for _, k := range keys {
			if k == key {
				return true
			}
		}
	}
	return false
}

func (p *Parser) children(n *tree.Node) ([]Object, error) {
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, n, "children must be a mapping, got %s", n.Describe())
	}
	out := make([]Object, 0, len(n.Entries))
	for _, e := range n.Entries {
		obj, err := p.ParseObject(e.Value, e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func checkMappings(n *tree.Node, what string) error {
	if n.Kind != tree.Mapping {
		return diag.At(diag.Parse, n, "%s must be a mapping, got %s", what, n.Describe())
	}
	for _, e := range n.Entries {
		if e.Value.Kind != tree.Mapping {
			return diag.At(diag.Parse, e.Value, "object %q must be a mapping, got %s", e.Key, e.Value.Describe())
		}
	}
	return nil
}

func (p *Parser) fields(r *reader, key string) []*Field {
	n, ok := r.node.Lookup(key)
	if !ok || r.err != nil {
		return nil
	}
	if n.Kind != tree.Mapping {
		r.err = diag.At(diag.Parse, n, "%s must be a mapping, got %s", key, n.Describe())
		return nil
	}
	out := make([]*Field, 0, len(n.Entries))
	for _, e := range n.Entries {
		f, err := p.field(e.Value, e.Key)
		if err != nil {
			r.err = err
			return nil
		}
		out = append(out, f)
	}
	return out
}

func (p *Parser) baseNames() []string {
	names := []string{"bool", "uint", "int"}
	for n := range p.enums {
		names = append(names, n)
	}
	sort.Strings(names[3:])
	return names
}

func (p *Parser) field(n *tree.Node, name string) (*Field, error) {
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, n, "field %q must be a mapping, got %s", name, n.Describe())
	}
	r := reader{node: n, kind: "field"}
	for _, e := range n.Entries {
		if !contains(fieldKeys, e.Key) {
			return nil, diag.At(diag.Parse, e.Value, "unknown key %q in field %q", e.Key, name).
				WithSuggestion(diag.Suggest(e.Key, fieldKeys))
		}
	}
	f := &Field{Name: name, Node: n, Access: p.cfg.DefaultFieldAccess}
	baseNode, ok := n.Lookup("base")
	if !ok {
		return nil, diag.At(diag.Parse, n, "field %q has no base", name)
	}
	base := r.str("base")
	if r.err != nil {
		return nil, r.err
	}
	switch base {
	case "bool":
		f.Base = BaseBool
	case "uint":
		f.Base = BaseUint
	case "int":
		f.Base = BaseInt
	default:
		en, ok := p.enums[base]
		if !ok {
			return nil, diag.At(diag.Parse, baseNode, "unknown base %q for field %q", base, name).
				WithSuggestion(diag.Suggest(base, p.baseNames()))
		}
		f.Base = BaseEnum
		f.Enum = en
	}

	if _, ok := n.Lookup("start"); !ok {
		return nil, diag.At(diag.Parse, n, "field %q has no start", name)
	}
	f.Start = r.uint("start")
	endNode, hasEnd := n.Lookup("end")
	switch {
	case hasEnd:
		f.End = r.uint("end")
	case f.Base == BaseBool:
		f.End = f.Start + 1
	default:
		return nil, diag.At(diag.Parse, n, "field %q has no end", name)
	}
	if r.err != nil {
		return nil, r.err
	}
	if f.Start >= f.End {
		return nil, diag.At(diag.Parse, endNode, "malformed bit range for field %q: start %d must be below end %d", name, f.Start, f.End)
	}
	if a := r.access("access"); a != nil {
		f.Access = *a
	}
	f.Description = r.str("description")
	return f, r.err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// reader extracts typed values from a mapping, keeping the first error.
type reader struct {
	node *tree.Node
	kind string
	err  error
}

func (r *reader) checkKeys(partial bool) error {
	allowed := kindKeys[r.kind]
	for _, e := range r.node.Entries {
		if !contains(allowed, e.Key) {
			return diag.At(diag.Parse, e.Value, "key %q is not valid for a %s", e.Key, r.kind).
				WithSuggestion(diag.Suggest(e.Key, allowed))
		}
	}
	if partial {
		return nil
	}
	for _, k := range requiredKeys[r.kind] {
		if _, ok := r.node.Lookup(k); !ok {
			return diag.At(diag.Parse, r.node, "%s is missing required key %q", r.kind, k)
		}
	}
	return nil
}

func (r *reader) lookup(key string) (*tree.Node, bool) {
	if r.err != nil {
		return nil, false
	}
	return r.node.Lookup(key)
}

func (r *reader) str(key string) string {
	n, ok := r.lookup(key)
	if !ok {
		return ""
	}
	if n.Kind != tree.Scalar || n.Type != tree.String {
		r.err = diag.At(diag.Parse, n, "%s must be a string, got %s", key, n.Describe())
		return ""
	}
	return n.Str
}

func (r *reader) uint(key string) uint64 {
	n, ok := r.lookup(key)
	if !ok {
		return 0
	}
	v, err := uintValue(n, key)
	if err != nil {
		r.err = err
	}
	return v
}

func uintValue(n *tree.Node, what string) (uint64, error) {
	if n.Kind != tree.Scalar || n.Type != tree.Int {
		return 0, diag.At(diag.Parse, n, "%s must be an integer, got %s", what, n.Describe())
	}
	if n.Negative {
		return 0, diag.At(diag.Parse, n, "%s must not be negative", what)
	}
	return n.Uint, nil
}

func (r *reader) access(key string) *device.Access {
	s := r.str(key)
	if s == "" || r.err != nil {
		return nil
	}
	a, err := device.ParseAccess(s)
	if err != nil {
		n, _ := r.node.Lookup(key)
		r.err = diag.At(diag.Parse, n, "%v", err)
		return nil
	}
	return &a
}

func (r *reader) bool(key string) bool {
	n, ok := r.lookup(key)
	if !ok {
		return false
	}
	if n.Kind != tree.Scalar || n.Type != tree.Bool {
		r.err = diag.At(diag.Parse, n, "%s must be a boolean, got %s", key, n.Describe())
		return false
	}
	return n.Bool
}

func (r *reader) bitOrder(key string) *device.BitOrder {
	s := r.str(key)
	if s == "" || r.err != nil {
		return nil
	}
	b, err := device.ParseBitOrder(s)
	if err != nil {
		n, _ := r.node.Lookup(key)
		r.err = diag.At(diag.Parse, n, "%v", err)
		return nil
	}
	return &b
}

func (r *reader) byteOrder(key string) *device.ByteOrder {
	s := r.str(key)
	if s == "" || r.err != nil {
		return nil
	}
	o, err := device.ParseByteOrder(s)
	if err != nil {
		n, _ := r.node.Lookup(key)
		r.err = diag.At(diag.Parse, n, "%v", err)
		return nil
	}
	return &o
}

func (r *reader) repeat() *Repeat {
	n, ok := r.lookup("repeat")
	if !ok {
		return nil
	}
	if n.Kind != tree.Mapping {
		r.err = diag.At(diag.Parse, n, "repeat must be a mapping, got %s", n.Describe())
		return nil
	}
	sub := reader{node: n, kind: "repeat"}
	for _, e := range n.Entries {
		if e.Key != "count" && e.Key != "stride" {
			r.err = diag.At(diag.Parse, e.Value, "key %q is not valid for a repeat", e.Key).
				WithSuggestion(diag.Suggest(e.Key, []string{"count", "stride"}))
			return nil
		}
	}
	if _, ok := n.Lookup("count"); !ok {
		r.err = diag.At(diag.Parse, n, "repeat is missing required key \"count\"")
		return nil
	}
	rep := &Repeat{Node: n}
	rep.Count = sub.uint("count")
	_, hasStride := n.Lookup("stride")
	rep.Stride = sub.uint("stride")
	switch {
	case sub.err != nil:
		r.err = sub.err
		return nil
	case rep.Count == 0:
		c, _ := n.Lookup("count")
		r.err = diag.At(diag.Parse, c, "repeat count must be at least 1")
		return nil
	case rep.Count > 1 && !hasStride:
		r.err = diag.At(diag.Parse, n, "repeat with count %d needs a stride", rep.Count)
		return nil
	}
	return rep
}

func (r *reader) reset() *Reset {
	n, ok := r.lookup("reset_value")
	if !ok {
		return nil
	}
	if n.Kind == tree.Sequence {
		res := &Reset{IsBytes: true, Node: n, Bytes: make([]byte, len(n.Items))}
		for i, item := range n.Items {
			v, err := uintValue(item, "reset_value byte")
			if err == nil && v > 0xFF {
				err = diag.At(diag.Parse, item, "reset_value byte %d does not fit in 8 bits", v)
			}
			if err != nil {
				r.err = err
				return nil
			}
			res.Bytes[i] = byte(v)
		}
		return res
	}
	v, err := uintValue(n, "reset_value")
	if err != nil {
		r.err = err
		return nil
	}
	return &Reset{Value: v, Node: n}
}
