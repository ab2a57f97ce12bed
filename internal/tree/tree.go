// Package tree holds the generic, order preserving value tree every manifest
// loader produces. Nodes are immutable once Annotate has run.
package tree

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

func (p Position) IsValid() bool { return p.Line > 0 }

type Kind int

const (
	Scalar Kind = iota
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	}
	return "scalar"
}

type ScalarType int

const (
	Null ScalarType = iota
	Bool
	Int
	Float
	String
)

func (t ScalarType) String() string {
	return [...]string{"null", "bool", "integer", "float", "string"}[t]
}

// Entry is one key/value pair of a mapping.
type Entry struct {
	Key    string
	KeyPos Position
	Value  *Node
}

type Node struct {
	Kind Kind
	Pos  Position
	Path string

	// End is the closing brace of an .rdl mapping or sequence.
	End Position
	// Raw is the source spelling of a number, when the loader kept it.
	Raw string

	Type     ScalarType
	Str      string
	Bool     bool
	Uint     uint64 // integer magnitude
	Negative bool
	Float    float64

	Items   []*Node
	Entries []Entry
}

func NewString(s string, pos Position) *Node {
	return &Node{Kind: Scalar, Type: String, Str: s, Pos: pos}
}

func NewBool(b bool, pos Position) *Node {
	return &Node{Kind: Scalar, Type: Bool, Bool: b, Pos: pos}
}

func NewUint(v uint64, pos Position) *Node {
	return &Node{Kind: Scalar, Type: Int, Uint: v, Pos: pos}
}

func NewInt(v int64, pos Position) *Node {
	if v < 0 {
		return &Node{Kind: Scalar, Type: Int, Uint: uint64(-(v + 1)) + 1, Negative: true, Pos: pos}
	}
	return NewUint(uint64(v), pos)
}

func NewFloat(f float64, pos Position) *Node {
	return &Node{Kind: Scalar, Type: Float, Float: f, Pos: pos}
}

func NewNull(pos Position) *Node {
	return &Node{Kind: Scalar, Type: Null, Pos: pos}
}

func NewSequence(pos Position, items ...*Node) *Node {
	return &Node{Kind: Sequence, Pos: pos, Items: items}
}

func NewMapping(pos Position) *Node {
	return &Node{Kind: Mapping, Pos: pos}
}

// Set appends key to a mapping. Duplicate keys are rejected.
func (n *Node) Set(key string, keyPos Position, value *Node) error {
	if n.Kind != Mapping {
		return fmt.Errorf("set %q on %s", key, n.Kind)
	}
	if _, ok := n.Lookup(key); ok {
		return fmt.Errorf("%s: duplicate key %q", keyPos, key)
	}
	n.Entries = append(n.Entries, Entry{Key: key, KeyPos: keyPos, Value: value})
	return nil
}

func (n *Node) Lookup(key string) (*Node, bool) {
	if n == nil || n.Kind != Mapping {
		return nil, false
	}
	for _, e := range n.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (n *Node) Keys() []string {
	keys := make([]string, len(n.Entries))
	for i, e := range n.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Describe names the node's shape for error messages.
func (n *Node) Describe() string {
	if n.Kind == Scalar {
		return n.Type.String()
	}
	return n.Kind.String()
}

// Int64 returns the integer value if it fits.
func (n *Node) Int64() (int64, bool) {
	if n.Type != Int {
		return 0, false
	}
	if n.Negative {
		if n.Uint > 1<<63 {
			return 0, false
		}
		return -int64(n.Uint-1) - 1, true
	}
	if n.Uint > math.MaxInt64 {
		return 0, false
	}
	return int64(n.Uint), true
}

// Text renders a scalar the way a user would have written it.
func (n *Node) Text() string {
	switch n.Type {
	case Bool:
		return strconv.FormatBool(n.Bool)
	case Int:
		if n.Negative {
			return "-" + strconv.FormatUint(n.Uint, 10)
		}
		return strconv.FormatUint(n.Uint, 10)
	case Float:
		return strconv.FormatFloat(n.Float, 'g', -1, 64)
	case String:
		return n.Str
	}
	return "null"
}

// Annotate assigns dot/index paths below root. The root itself has an empty
// path.
func Annotate(root *Node) *Node {
	annotate(root, "")
	return root
}

func annotate(n *Node, path string) {
	n.Path = path
	switch n.Kind {
	case Sequence:
		for i, item := range n.Items {
			annotate(item, IndexPath(path, i))
		}
	case Mapping:
		for _, e := range n.Entries {
			annotate(e.Value, KeyPath(path, e.Key))
		}
	}
}

func KeyPath(parent, key string) string {
	if strings.ContainsAny(key, ".[]") {
		key = strconv.Quote(key)
	}
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func IndexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

// Clone returns a deep copy of n.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Items != nil {
		c.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			c.Items[i] = Clone(item)
		}
	}
	if n.Entries != nil {
		c.Entries = make([]Entry, len(n.Entries))
		for i, e := range n.Entries {
			c.Entries[i] = Entry{Key: e.Key, KeyPos: e.KeyPos, Value: Clone(e.Value)}
		}
	}
	return &c
}

// Interface converts the tree into plain Go values: map[string]any,
// []any, string, bool, int64, uint64, float64 or nil.
func (n *Node) Interface() any {
	switch n.Kind {
	case Sequence:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Interface()
		}
		return out
	case Mapping:
		out := make(map[string]any, len(n.Entries))
		for _, e := range n.Entries {
			out[e.Key] = e.Value.Interface()
		}
		return out
	}
	switch n.Type {
	case Bool:
		return n.Bool
	case Int:
		if v, ok := n.Int64(); ok {
			return v
		}
		return n.Uint
	case Float:
		return n.Float
	case String:
		return n.Str
	}
	return nil
}
