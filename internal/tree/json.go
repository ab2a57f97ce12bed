package tree

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// MarshalJSON encodes the tree with mapping keys in declaration order.
// Positions are not part of the encoding, so two manifests that differ
// only in layout encode identically.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind {
	case Sequence:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case Mapping:
		buf.WriteByte('{')
		for i, e := range n.Entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(e.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := e.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	}
	switch n.Type {
	case Int:
		buf.WriteString(n.Text())
	case Float:
		buf.WriteString(strconv.FormatFloat(n.Float, 'g', -1, 64))
	case Bool:
		buf.WriteString(strconv.FormatBool(n.Bool))
	case String:
		s, err := json.Marshal(n.Str)
		if err != nil {
			return err
		}
		buf.Write(s)
	default:
		buf.WriteString("null")
	}
	return nil
}
