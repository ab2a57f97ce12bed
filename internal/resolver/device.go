// Package resolver turns the object model into a flat, ordered list of
// concrete objects: refs are merged, repeats expanded and addresses
// computed.
package resolver

import (
	"fmt"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

// Index is one repeat coordinate of a concrete object.
type Index struct {
	// Path is the declaration path of the repeated block or object.
	Path  string
	Value uint64
	Count uint64
}

// Object is a concrete, uniquely addressed register, command or buffer.
type Object struct {
	Kind model.Kind
	Name string
	// Path is the declaration path, shared by every instance.
	Path string
	// Instance is the path with repeat indices, such as Bar[1]/Foo.
	Instance string
	Indices  []Index
	Address  uint64

	ByteOrder    device.ByteOrder
	HasByteOrder bool
	BitOrder     device.BitOrder
	Access       device.Access

	// Definition is the merged *model.Register, *model.Command or
	// *model.Buffer. Its own address is relative to the enclosing block.
	Definition model.Object
	// Origin is the path of the ref this object came from, if any.
	Origin string
	// Target is set on registers declared directly by a ref and names the
	// register definition the ref copies.
	Target string
}

func (o *Object) Node() *tree.Node { return o.Definition.Info().Node }

// AllowsAddressOverlap reports whether the definition opted out of the
// address collision check.
func (o *Object) AllowsAddressOverlap() bool {
	switch d := o.Definition.(type) {
	case *model.Register:
		return d.AllowAddressOverlap
	case *model.Command:
		return d.AllowAddressOverlap
	}
	return false
}

func (o *Object) Register() *model.Register {
	r, _ := o.Definition.(*model.Register)
	return r
}

func (o *Object) Command() *model.Command {
	c, _ := o.Definition.(*model.Command)
	return c
}

func (o *Object) Buffer() *model.Buffer {
	b, _ := o.Definition.(*model.Buffer)
	return b
}

// Block describes one block declaration, repeated or not.
type Block struct {
	Name        string
	Path        string
	Parent      string
	Description string
	Offset      uint64
	Count       uint64
	Stride      uint64
	Repeated    bool
	Origin      string
	Node        *tree.Node
}

type Device struct {
	Config  *config.Config
	Enums   []*model.Enum
	Blocks  []*Block
	Objects []*Object
}

// Block returns the descriptor declared at path.
func (d *Device) Block(path string) *Block {
	for _, b := range d.Blocks {
		if b.Path == path {
			return b
		}
	}
	return nil
}

// Instances returns the concrete objects declared at path, in index order.
func (d *Device) Instances(path string) []*Object {
	var out []*Object
	for _, o := range d.Objects {
		if o.Path == path {
			out = append(out, o)
		}
	}
	return out
}

// Dump renders the resolved object list, one object per line. Equal
// manifests produce equal dumps.
func (d *Device) Dump() string {
	var b strings.Builder
	for _, o := range d.Objects {
		fmt.Fprintf(&b, "%s %s @%d", o.Kind, o.Instance, o.Address)
		switch def := o.Definition.(type) {
		case *model.Register:
			fmt.Fprintf(&b, " bits=%d access=%s", def.SizeBits, o.Access)
			if def.ResetValue != nil {
				fmt.Fprintf(&b, " reset=%v", resetText(def.ResetValue))
			}
			for _, f := range def.Fields {
				fmt.Fprintf(&b, " %s:%s[%d,%d)", f.Name, f.BaseName(), f.Start, f.End)
			}
		case *model.Command:
			fmt.Fprintf(&b, " in=%d out=%d", def.SizeBitsIn, def.SizeBitsOut)
		case *model.Buffer:
			fmt.Fprintf(&b, " access=%s", o.Access)
		}
		if o.HasByteOrder {
			fmt.Fprintf(&b, " order=%s", o.ByteOrder)
		}
		if o.BitOrder == device.MSB0 {
			fmt.Fprintf(&b, " bit_order=%s", o.BitOrder)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func resetText(r *model.Reset) string {
	if r.IsBytes {
		return fmt.Sprintf("%x", r.Bytes)
	}
	return fmt.Sprintf("%d", r.Value)
}
