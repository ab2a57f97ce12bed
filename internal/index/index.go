// Package index keys a manifest's object definitions by fully-qualified
// path ("Bar/Foo") and answers name and position queries against them.
package index

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// Separator joins path segments.
const Separator = "/"

type Entry struct {
	Path     string
	Name     string
	KeyPos   tree.Position
	Object   model.Object
	Parent   *Entry
	Children []*Entry
	// Order is the position in a depth first walk of the manifest.
	Order int
}

func (e *Entry) Node() *tree.Node { return e.Object.Info().Node }

type ObjectTree struct {
	Root    *Entry
	NodeMap map[string][]*Entry
	entries map[string]*Entry
	order   []*Entry
	mu      sync.RWMutex
}

func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + Separator + name
}

// NormalizePath trims whitespace and stray separators from a ref target.
func NormalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), Separator)
}

func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, Separator)
}

// Build indexes every object of m, refs included.
func Build(m *model.Manifest) *ObjectTree {
	t := &ObjectTree{
		Root:    &Entry{},
		NodeMap: make(map[string][]*Entry),
		entries: make(map[string]*Entry),
	}
	t.addAll(t.Root, m.Objects, m.Root)
	return t
}

func keyPos(container *tree.Node, name string) tree.Position {
	if container == nil {
		return tree.Position{}
	}
	for _, e := range container.Entries {
		if e.Key == name {
			return e.KeyPos
		}
	}
	return tree.Position{}
}

func (t *ObjectTree) addAll(parent *Entry, objs []model.Object, container *tree.Node) {
	for _, obj := range objs {
		name := obj.Info().Name
		e := &Entry{
			Path:   JoinPath(parent.Path, name),
			Name:   name,
			KeyPos: keyPos(container, name),
			Object: obj,
			Parent: parent,
			Order:  len(t.order),
		}
		parent.Children = append(parent.Children, e)
		t.entries[e.Path] = e
		t.order = append(t.order, e)
		t.NodeMap[name] = append(t.NodeMap[name], e)
		if b, ok := obj.(*model.Block); ok {
			children, _ := b.Node.Lookup("children")
			t.addAll(e, b.Children, children)
		}
	}
}

func (t *ObjectTree) Lookup(path string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[NormalizePath(path)]
	return e, ok
}

// Entries returns every entry in declaration order.
func (t *ObjectTree) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Entry(nil), t.order...)
}

func (t *ObjectTree) Walk(visitor func(*Entry)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.order {
		visitor(e)
	}
}

// ResolveName finds target as seen from scope: first relative to scope and
// each of its ancestors, then as a unique leaf name anywhere. Ambiguous leaf
// matches are returned as candidates with a nil entry.
func (t *ObjectTree) ResolveName(scope *Entry, target string) (*Entry, []*Entry) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolveName(scope, target)
}

func (t *ObjectTree) resolveName(scope *Entry, target string) (*Entry, []*Entry) {
	target = NormalizePath(target)
	for curr := scope; curr != nil; curr = curr.Parent {
		if e, ok := t.entries[JoinPath(curr.Path, target)]; ok {
			return e, nil
		}
	}
	if e, ok := t.entries[target]; ok {
		return e, nil
	}
	if strings.Contains(target, Separator) {
		return nil, nil
	}
	candidates := t.NodeMap[target]
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return nil, candidates
}

// QueryResult is what sits under a cursor position.
type QueryResult struct {
	Entry *Entry
	Field *model.Field
}

// Query finds the object or field whose key is at line:col of file.
func (t *ObjectTree) Query(file string, line, col int) *QueryResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hit := func(pos tree.Position, name string) bool {
		return pos.File == file && pos.Line == line && col >= pos.Column && col < pos.Column+len(name)
	}
	for _, e := range t.order {
		if hit(e.KeyPos, e.Name) {
			return &QueryResult{Entry: e}
		}
		for _, set := range fieldSets(e.Object) {
			container, _ := e.Node().Lookup(set.key)
			for _, f := range set.fields {
				if hit(keyPos(container, f.Name), f.Name) {
					return &QueryResult{Entry: e, Field: f}
				}
			}
		}
	}
	return nil
}

type fieldSet struct {
	key    string
	fields []*model.Field
}

func fieldSets(obj model.Object) []fieldSet {
	switch o := obj.(type) {
	case *model.Register:
		return []fieldSet{{"fields", o.Fields}}
	case *model.Command:
		return []fieldSet{{"fields_in", o.FieldsIn}, {"fields_out", o.FieldsOut}}
	}
	return nil
}

// ScanDirectory lists manifest files below root accepted by match, sorted.
func ScanDirectory(root string, match func(path string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			rel = path
		}
		if match(filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
