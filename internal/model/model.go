// Package model holds the typed object definitions parsed from a manifest
// tree: blocks, registers, commands, buffers, refs and enums.
package model

import (
	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

type Kind int

const (
	KindBlock Kind = iota
	KindRegister
	KindCommand
	KindBuffer
	KindRef
)

var kindNames = [...]string{"block", "register", "command", "buffer", "ref"}

func (k Kind) String() string { return kindNames[k] }

// Addressable reports whether concrete objects of this kind carry an
// address of their own.
func (k Kind) Addressable() bool {
	return k == KindRegister || k == KindCommand || k == KindBuffer
}

func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Object is implemented by *Block, *Register, *Command, *Buffer and *Ref.
type Object interface {
	Kind() Kind
	Info() *Meta
}

// Meta is shared by every object.
type Meta struct {
	Name        string
	Description string
	// Node is the tree the object was parsed from.
	Node *tree.Node
}

func (m *Meta) Info() *Meta { return m }

// Path is the manifest path of the declaring node.
func (m *Meta) Path() string {
	if m.Node == nil {
		return ""
	}
	return m.Node.Path
}

type Repeat struct {
	Count  uint64
	Stride uint64
	Node   *tree.Node
}

type Block struct {
	Meta
	AddressOffset uint64
	Repeat        *Repeat
	Children      []Object
}

func (*Block) Kind() Kind { return KindBlock }

// Reset is a register reset value, given either as an integer or as raw
// payload bytes.
type Reset struct {
	Value   uint64
	Bytes   []byte
	IsBytes bool
	Node    *tree.Node
}

type Register struct {
	Meta
	Address    uint64
	SizeBits   uint64
	Access     device.Access
	ResetValue *Reset
	ByteOrder  *device.ByteOrder
	BitOrder   *device.BitOrder
	Repeat     *Repeat
	Fields     []*Field

	AllowBitOverlap     bool
	AllowAddressOverlap bool
}

func (*Register) Kind() Kind { return KindRegister }

type Command struct {
	Meta
	Address     uint64
	SizeBitsIn  uint64
	SizeBitsOut uint64
	ByteOrder   *device.ByteOrder
	BitOrder    *device.BitOrder
	Repeat      *Repeat
	FieldsIn    []*Field
	FieldsOut   []*Field

	AllowBitOverlap     bool
	AllowAddressOverlap bool
}

func (*Command) Kind() Kind { return KindCommand }

type Buffer struct {
	Meta
	Address uint64
	Access  device.Access
}

func (*Buffer) Kind() Kind { return KindBuffer }

// Ref copies the resolved definition of Target and patches it with Override.
type Ref struct {
	Meta
	Target     string
	TargetNode *tree.Node
	// Override is the raw patch. It is checked against the target's kind
	// when the ref is resolved.
	Override *tree.Node
}

func (*Ref) Kind() Kind { return KindRef }

type BaseType int

const (
	BaseBool BaseType = iota
	BaseUint
	BaseInt
	BaseEnum
)

func (b BaseType) String() string {
	return [...]string{"bool", "uint", "int", "enum"}[b]
}

type Field struct {
	Name        string
	Description string
	Base        BaseType
	Enum        *Enum
	Start       uint64
	End         uint64
	// Access gates the generated getter and setter.
	Access device.Access
	Node   *tree.Node
}

func (f *Field) Width() uint64 { return f.End - f.Start }

// BaseName is the base as written in the manifest.
func (f *Field) BaseName() string {
	if f.Base == BaseEnum {
		return f.Enum.Name
	}
	return f.Base.String()
}

type Manifest struct {
	Config  *config.Config
	Objects []Object
	Enums   []*Enum
	Root    *tree.Node

	parser *Parser
}

// Parser returns the parser the manifest was built with, for re-parsing
// merged ref definitions.
func (m *Manifest) Parser() *Parser { return m.parser }

func (m *Manifest) Enum(name string) *Enum {
	for _, e := range m.Enums {
		if e.Name == name {
			return e
		}
	}
	return nil
}
