package parser

import (
	"errors"
	"strings"

	"github.com/pelletier/go-toml/v2/unstable"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// ParseTOML converts a TOML document using go-toml's AST parser, which keeps
// declaration order and byte offsets.
func ParseTOML(file string, data []byte) (*tree.Node, error) {
	c := &tomlConverter{file: file}
	c.p.Reset(data)
	root := tree.NewMapping(tree.Position{File: file, Line: 1, Column: 1})
	current := root

	for c.p.NextExpression() {
		expr := c.p.Expression()
		var err error
		switch expr.Kind {
		case unstable.KeyValue:
			err = c.keyValue(current, expr)
		case unstable.Table:
			current, err = c.table(root, expr.Key())
		case unstable.ArrayTable:
			current, err = c.arrayTable(root, expr.Key())
		}
		if err != nil {
			return nil, err
		}
	}
	if err := c.p.Error(); err != nil {
		return nil, c.parseError(err)
	}
	return root, nil
}

type tomlConverter struct {
	file string
	p    unstable.Parser
}

func (c *tomlConverter) pos(n *unstable.Node) tree.Position {
	if n.Raw.Length == 0 {
		return tree.Position{File: c.file}
	}
	s := c.p.Shape(n.Raw)
	return tree.Position{File: c.file, Line: s.Start.Line, Column: s.Start.Column}
}

func (c *tomlConverter) parseError(err error) error {
	var perr *unstable.ParserError
	if errors.As(err, &perr) && len(perr.Highlight) > 0 {
		s := c.p.Shape(c.p.Range(perr.Highlight))
		return diag.New(diag.Syntax, "", tree.Position{File: c.file, Line: s.Start.Line, Column: s.Start.Column}, "%s", perr.Message)
	}
	return diag.New(diag.Syntax, "", tree.Position{File: c.file}, "%v", err)
}

type keyPart struct {
	name string
	pos  tree.Position
}

func (c *tomlConverter) keyParts(it unstable.Iterator) []keyPart {
	var parts []keyPart
	for it.Next() {
		k := it.Node()
		parts = append(parts, keyPart{name: string(k.Data), pos: c.pos(k)})
	}
	return parts
}

// descend walks to the mapping named by parts, creating mappings on the way.
// A sequence on the path resolves to its last element, as TOML array tables
// do.
func descend(m *tree.Node, parts []keyPart) (*tree.Node, error) {
	for _, part := range parts {
		child, ok := m.Lookup(part.name)
		if !ok {
			child = tree.NewMapping(part.pos)
			if err := m.Set(part.name, part.pos, child); err != nil {
				return nil, diag.New(diag.Syntax, "", part.pos, "%v", err)
			}
		}
		if child.Kind == tree.Sequence && len(child.Items) > 0 {
			child = child.Items[len(child.Items)-1]
		}
		if child.Kind != tree.Mapping {
			return nil, diag.New(diag.Syntax, "", part.pos, "key %q is already defined as a value", part.name)
		}
		m = child
	}
	return m, nil
}

func (c *tomlConverter) table(root *tree.Node, it unstable.Iterator) (*tree.Node, error) {
	return descend(root, c.keyParts(it))
}

func (c *tomlConverter) arrayTable(root *tree.Node, it unstable.Iterator) (*tree.Node, error) {
	parts := c.keyParts(it)
	parent, err := descend(root, parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	last := parts[len(parts)-1]
	seq, ok := parent.Lookup(last.name)
	if !ok {
		seq = tree.NewSequence(last.pos)
		if err := parent.Set(last.name, last.pos, seq); err != nil {
			return nil, diag.New(diag.Syntax, "", last.pos, "%v", err)
		}
	}
	if seq.Kind != tree.Sequence {
		return nil, diag.New(diag.Syntax, "", last.pos, "key %q is not an array of tables", last.name)
	}
	m := tree.NewMapping(last.pos)
	seq.Items = append(seq.Items, m)
	return m, nil
}

func (c *tomlConverter) keyValue(m *tree.Node, expr *unstable.Node) error {
	parts := c.keyParts(expr.Key())
	parent, err := descend(m, parts[:len(parts)-1])
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	v, err := c.value(expr.Value(), last.pos)
	if err != nil {
		return err
	}
	if err := parent.Set(last.name, last.pos, v); err != nil {
		return diag.New(diag.Syntax, "", last.pos, "duplicate key %q", last.name)
	}
	return nil
}

func (c *tomlConverter) value(n *unstable.Node, at tree.Position) (*tree.Node, error) {
	pos := c.pos(n)
	if !pos.IsValid() {
		pos = at
	}
	switch n.Kind {
	case unstable.String:
		return tree.NewString(string(n.Data), pos), nil
	case unstable.Bool:
		return tree.NewBool(string(n.Data) == "true", pos), nil
	case unstable.Integer, unstable.Float:
		v, err := ParseNumber(strings.ReplaceAll(string(n.Data), "_", ""), pos)
		if err != nil {
			return nil, diag.New(diag.Syntax, "", pos, "%v", err)
		}
		return v, nil
	case unstable.Array:
		seq := tree.NewSequence(pos)
		it := n.Children()
		for it.Next() {
			item, err := c.value(it.Node(), pos)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		return seq, nil
	case unstable.InlineTable:
		m := tree.NewMapping(pos)
		it := n.Children()
		for it.Next() {
			if err := c.keyValue(m, it.Node()); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
	// Dates and times stay textual.
	return tree.NewString(string(n.Data), pos), nil
}
