package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// ParseJSON converts a JSON document, keeping object key order by walking
// the decoder's token stream.
func ParseJSON(file string, data []byte) (*tree.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	c := &jsonConverter{file: file, data: data, dec: dec}
	for i, b := range data {
		if b == '\n' {
			c.lines = append(c.lines, i+1)
		}
	}
	root, err := c.value()
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, diag.New(diag.Syntax, "", c.pos(), "unexpected data after the document")
	}
	return root, nil
}

type jsonConverter struct {
	file  string
	data  []byte
	dec   *json.Decoder
	lines []int // offsets of line starts after the first
}

// pos locates the next token: the decoder offset, skipping whitespace and
// separators.
func (c *jsonConverter) pos() tree.Position {
	off := int(c.dec.InputOffset())
	for off < len(c.data) {
		switch c.data[off] {
		case ' ', '\t', '\r', '\n', ':', ',':
			off++
			continue
		}
		break
	}
	line := sort.SearchInts(c.lines, off+1)
	start := 0
	if line > 0 {
		start = c.lines[line-1]
	}
	return tree.Position{File: c.file, Line: line + 1, Column: off - start + 1}
}

func (c *jsonConverter) fail(pos tree.Position, err error) error {
	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		return diag.New(diag.Syntax, "", pos, "%s", serr.Error())
	}
	if err == io.EOF {
		return diag.New(diag.Syntax, "", pos, "unexpected end of input")
	}
	return diag.New(diag.Syntax, "", pos, "%v", err)
}

func (c *jsonConverter) value() (*tree.Node, error) {
	pos := c.pos()
	tok, err := c.dec.Token()
	if err != nil {
		return nil, c.fail(pos, err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := tree.NewMapping(pos)
			for c.dec.More() {
				kpos := c.pos()
				kt, err := c.dec.Token()
				if err != nil {
					return nil, c.fail(kpos, err)
				}
				key, _ := kt.(string)
				v, err := c.value()
				if err != nil {
					return nil, err
				}
				if err := m.Set(key, kpos, v); err != nil {
					return nil, diag.New(diag.Syntax, "", kpos, "duplicate key %q", key)
				}
			}
			if _, err := c.dec.Token(); err != nil {
				return nil, c.fail(c.pos(), err)
			}
			return m, nil
		case '[':
			seq := tree.NewSequence(pos)
			for c.dec.More() {
				v, err := c.value()
				if err != nil {
					return nil, err
				}
				seq.Items = append(seq.Items, v)
			}
			if _, err := c.dec.Token(); err != nil {
				return nil, c.fail(c.pos(), err)
			}
			return seq, nil
		}
	case string:
		return tree.NewString(t, pos), nil
	case bool:
		return tree.NewBool(t, pos), nil
	case json.Number:
		n, err := ParseNumber(string(t), pos)
		if err != nil {
			return nil, diag.New(diag.Syntax, "", pos, "%v", err)
		}
		return n, nil
	case nil:
		return tree.NewNull(pos), nil
	}
	return nil, diag.New(diag.Syntax, "", pos, "unexpected token %v", tok)
}
