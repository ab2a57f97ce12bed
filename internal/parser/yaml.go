package parser

import (
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// ParseYAML converts a YAML document. Node order and positions come from
// yaml.v3's node API.
func ParseYAML(file string, data []byte) (*tree.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, diag.New(diag.Syntax, "", tree.Position{File: file}, "%v", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return tree.NewMapping(tree.Position{File: file, Line: 1, Column: 1}), nil
	}
	c := yamlConverter{file: file}
	return c.convert(doc.Content[0], 0)
}

type yamlConverter struct {
	file string
}

func (c yamlConverter) pos(n *yaml.Node) tree.Position {
	return tree.Position{File: c.file, Line: n.Line, Column: n.Column}
}

func (c yamlConverter) convert(n *yaml.Node, depth int) (*tree.Node, error) {
	if depth > 256 {
		return nil, diag.New(diag.Syntax, "", c.pos(n), "document nested too deeply")
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return tree.NewNull(c.pos(n)), nil
		}
		return c.convert(n.Content[0], depth+1)
	case yaml.AliasNode:
		return c.convert(n.Alias, depth+1)
	case yaml.SequenceNode:
		seq := tree.NewSequence(c.pos(n))
		for _, item := range n.Content {
			v, err := c.convert(item, depth+1)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, v)
		}
		return seq, nil
	case yaml.MappingNode:
		m := tree.NewMapping(c.pos(n))
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, diag.New(diag.Syntax, "", c.pos(k), "mapping keys must be scalars")
			}
			val, err := c.convert(v, depth+1)
			if err != nil {
				return nil, err
			}
			if err := m.Set(k.Value, c.pos(k), val); err != nil {
				return nil, diag.New(diag.Syntax, "", c.pos(k), "duplicate key %q", k.Value)
			}
		}
		return m, nil
	}
	return c.scalar(n)
}

func (c yamlConverter) scalar(n *yaml.Node) (*tree.Node, error) {
	pos := c.pos(n)
	switch n.ShortTag() {
	case "!!null":
		return tree.NewNull(pos), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, diag.New(diag.Syntax, "", pos, "%v", err)
		}
		return tree.NewBool(b, pos), nil
	case "!!int":
		v, err := ParseNumber(n.Value, pos)
		if err != nil {
			return nil, diag.New(diag.Syntax, "", pos, "%v", err)
		}
		return v, nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			var d float64
			if derr := n.Decode(&d); derr != nil {
				return nil, diag.New(diag.Syntax, "", pos, "%v", derr)
			}
			f = d
		}
		return tree.NewFloat(f, pos), nil
	}
	return tree.NewString(n.Value, pos), nil
}
