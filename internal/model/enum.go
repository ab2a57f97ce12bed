package model

import (
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

type Conversion int

const (
	Infallible Conversion = iota
	Fallible
)

func (c Conversion) String() string {
	if c == Fallible {
		return "fallible"
	}
	return "infallible"
}

type Variant struct {
	Name        string
	Description string
	Value       uint64
	Node        *tree.Node
}

type Enum struct {
	Name        string
	Description string
	Bits        uint64
	Conversion  Conversion
	// Declared is false when the conversion was inferred.
	Declared bool
	Variants []Variant
	// Default names the variant unmapped bit patterns decode to.
	Default string
	// CatchAll names a variant that keeps unmapped bit patterns as they are.
	// It has no value of its own and is not listed in Variants.
	CatchAll string
	Node     *tree.Node
}

// Complete reports whether every bit pattern of the enum maps to a variant.
func (e *Enum) Complete() bool {
	if e.Bits == 0 || e.Bits > 16 {
		return false
	}
	seen := make(map[uint64]bool)
	for _, v := range e.Variants {
		if v.Value < 1<<e.Bits {
			seen[v.Value] = true
		}
	}
	return uint64(len(seen)) == 1<<e.Bits
}

// CanBeInfallible reports whether decoding can never fail.
func (e *Enum) CanBeInfallible() bool {
	return e.Default != "" || e.CatchAll != "" || e.Complete()
}

func (e *Enum) Variant(name string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// ParseEnum parses a top-level enum declaration. Variant values may be
// left null, in which case they continue from the previous variant. A
// variant whose value is the string catch_all becomes the catch-all.
func ParseEnum(n *tree.Node, name string) (*Enum, error) {
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, n, "enum %q must be a mapping, got %s", name, n.Describe())
	}
	r := reader{node: n, kind: "enum"}
	if err := r.checkKeys(false); err != nil {
		return nil, err
	}
	e := &Enum{Name: name, Node: n}
	e.Description = r.str("description")
	e.Bits = r.uint("bits")
	if r.err != nil {
		return nil, r.err
	}
	if e.Bits == 0 || e.Bits > 64 {
		bits, _ := n.Lookup("bits")
		return nil, diag.At(diag.Parse, bits, "enum %q bits must be between 1 and 64, got %d", name, e.Bits)
	}

	vs, _ := n.Lookup("variants")
	if vs.Kind != tree.Mapping {
		return nil, diag.At(diag.Parse, vs, "variants must be a mapping, got %s", vs.Describe())
	}
	if len(vs.Entries) == 0 {
		return nil, diag.At(diag.Parse, vs, "enum %q has no variants", name)
	}
	var next uint64
	for _, entry := range vs.Entries {
		if entry.Value.Kind == tree.Scalar && entry.Value.Type == tree.String && entry.Value.Str == "catch_all" {
			if e.CatchAll != "" {
				return nil, diag.At(diag.Parse, entry.Value, "enum %q has two catch_all variants: %s and %s", name, e.CatchAll, entry.Key)
			}
			e.CatchAll = entry.Key
			continue
		}
		v := Variant{Name: entry.Key, Node: entry.Value, Value: next}
		if !(entry.Value.Kind == tree.Scalar && entry.Value.Type == tree.Null) {
			val, err := uintValue(entry.Value, "variant "+entry.Key)
			if err != nil {
				return nil, err
			}
			v.Value = val
		}
		next = v.Value + 1
		e.Variants = append(e.Variants, v)
	}

	e.Default = r.str("default")
	if r.err != nil {
		return nil, r.err
	}
	if e.Default != "" {
		if _, ok := e.Variant(e.Default); !ok {
			d, _ := n.Lookup("default")
			names := make([]string, len(e.Variants))
			for i, v := range e.Variants {
				names[i] = v.Name
			}
			return nil, diag.At(diag.Parse, d, "default variant %q is not declared in enum %q", e.Default, name).
				WithSuggestion(diag.Suggest(e.Default, names))
		}
	}

	if e.CatchAll != "" {
		if len(e.Variants) == 0 {
			return nil, diag.At(diag.Parse, vs, "enum %q has only a catch_all variant", name)
		}
		if e.Default != "" {
			d, _ := n.Lookup("default")
			return nil, diag.At(diag.Parse, d, "enum %q cannot have both a default and a catch_all variant", name)
		}
	}

	switch conv := r.str("conversion"); conv {
	case "":
		e.Conversion = Fallible
		if e.CanBeInfallible() {
			e.Conversion = Infallible
		}
	case "infallible":
		e.Conversion, e.Declared = Infallible, true
	case "fallible":
		if e.CatchAll != "" {
			c, _ := n.Lookup("conversion")
			return nil, diag.At(diag.Parse, c, "enum %q has a catch_all variant and cannot be fallible", name)
		}
		e.Conversion, e.Declared = Fallible, true
	default:
		c, _ := n.Lookup("conversion")
		return nil, diag.At(diag.Parse, c, "conversion must be infallible or fallible, got %q", conv)
	}
	return e, r.err
}
