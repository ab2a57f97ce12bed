package model

import (
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// fieldSetKeys are merged entry by entry: a field named in the patch
// replaces the base field of the same name as a whole.
var fieldSetKeys = map[string]bool{"fields": true, "fields_in": true, "fields_out": true}

// Merge applies patch on top of a copy of base and returns the merged
// definition. base and patch are left untouched. The result takes its
// position and path from at.
//
// Scalars and repeat are replaced, fields are replaced by name and children
// are merged recursively. When patch names a different type, keys of base
// that the new type does not accept are dropped.
func Merge(base, patch, at *tree.Node) *tree.Node {
	out := merge(base, patch)
	out.Pos = at.Pos
	out.Path = at.Path
	return out
}

func typeOf(n *tree.Node) (Kind, bool) {
	t, ok := n.Lookup("type")
	if !ok || t.Type != tree.String {
		return 0, false
	}
	return ParseKind(t.Str)
}

func merge(base, patch *tree.Node) *tree.Node {
	if base.Kind != tree.Mapping || patch == nil || patch.Kind != tree.Mapping {
		if patch == nil {
			return tree.Clone(base)
		}
		return tree.Clone(patch)
	}

	baseKind, baseTyped := typeOf(base)
	newKind, patchTyped := typeOf(patch)
	reshaped := baseTyped && patchTyped && baseKind != newKind

	out := tree.NewMapping(base.Pos)
	out.Path = base.Path
	for _, e := range base.Entries {
		if reshaped && !Accepts(newKind, e.Key) {
			continue
		}
		out.Entries = append(out.Entries, tree.Entry{Key: e.Key, KeyPos: e.KeyPos, Value: tree.Clone(e.Value)})
	}

	for _, e := range patch.Entries {
		cur, exists := out.Lookup(e.Key)
		var v *tree.Node
		switch {
		case !exists:
			v = tree.Clone(e.Value)
		case fieldSetKeys[e.Key]:
			v = mergeEntries(cur, e.Value, false)
		case e.Key == "children":
			v = mergeEntries(cur, e.Value, true)
		default:
			v = tree.Clone(e.Value)
		}
		put(out, tree.Entry{Key: e.Key, KeyPos: e.KeyPos, Value: v})
	}
	return out
}

// mergeEntries merges two mappings key by key. With deep set, entries
// present on both sides are merged recursively, otherwise the patch entry
// wins outright.
func mergeEntries(base, patch *tree.Node, deep bool) *tree.Node {
	if base.Kind != tree.Mapping || patch.Kind != tree.Mapping {
		return tree.Clone(patch)
	}
	out := tree.Clone(base)
	for _, e := range patch.Entries {
		v := tree.Clone(e.Value)
		if cur, ok := out.Lookup(e.Key); ok && deep {
			v = merge(cur, e.Value)
		}
		put(out, tree.Entry{Key: e.Key, KeyPos: e.KeyPos, Value: v})
	}
	return out
}

func put(m *tree.Node, e tree.Entry) {
	for i := range m.Entries {
		if m.Entries[i].Key == e.Key {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
}
