package resolver

import (
	"context"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/model"
)

type resolved struct {
	obj model.Object
	// scope is the entry names inside the definition are looked up from.
	scope *index.Entry
	// target is the path of the definition the ref finally points at.
	target string
}

type Resolver struct {
	ctx    context.Context
	m      *model.Manifest
	idx    *index.ObjectTree
	parser *model.Parser

	memo       map[string]resolved
	inProgress map[string]bool
	stack      []string

	// expanding holds the blocks currently being walked, by definition.
	expanding map[string]bool

	dev    *Device
	blocks map[string]bool
}

// Resolve expands m into a Device. Inputs are not modified.
func Resolve(ctx context.Context, m *model.Manifest, idx *index.ObjectTree) (*Device, error) {
	r := &Resolver{
		ctx:        ctx,
		m:          m,
		idx:        idx,
		parser:     m.Parser(),
		memo:       make(map[string]resolved),
		inProgress: make(map[string]bool),
		expanding:  make(map[string]bool),
		dev:        &Device{Config: m.Config, Enums: m.Enums},
		blocks:     make(map[string]bool),
	}
	if err := r.walk(m.Objects, idx.Root, walkState{}); err != nil {
		return nil, err
	}
	if err := r.checkCollisions(); err != nil {
		return nil, err
	}
	return r.dev, nil
}

// walkState threads the enclosing block context down the tree.
type walkState struct {
	parent   string
	instance string
	base     uint64
	indices  []Index
	origin   string
}

func (s walkState) child(name string) (path, instance string) {
	return index.JoinPath(s.parent, name), index.JoinPath(s.instance, name)
}

func (r *Resolver) walk(objs []model.Object, scope *index.Entry, st walkState) error {
	for _, obj := range objs {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		path, inst := st.child(obj.Info().Name)
		def := obj
		childScope := r.scopeFor(obj.Info().Name, path, scope)
		origin := st.origin
		key := path
		if ref, ok := obj.(*model.Ref); ok {
			res, err := r.resolveRef(ref, path, scope)
			if err != nil {
				return err
			}
			def, childScope, key = res.obj, res.scope, res.target
			if origin == "" {
				origin = path
			}
		}

		var err error
		switch d := def.(type) {
		case *model.Block:
			if r.expanding[key] {
				return diag.At(diag.Resolution, obj.Info().Node, "reference cycle: %s contains itself through %s", key, path)
			}
			r.expanding[key] = true
			err = r.block(d, path, inst, childScope, st, origin)
			delete(r.expanding, key)
		case *model.Register:
			first := len(r.dev.Objects)
			err = r.emit(d, d.Address, d.Repeat, path, inst, st, origin)
			if key != path {
				for _, o := range r.dev.Objects[first:] {
					o.Target = key
				}
			}
		case *model.Command:
			err = r.emit(d, d.Address, d.Repeat, path, inst, st, origin)
		case *model.Buffer:
			err = r.emit(d, d.Address, nil, path, inst, st, origin)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// scopeFor returns the index entry of the child called name, falling back
// to the declared path and then to the enclosing scope for objects that only
// exist inside a ref's copy.
func (r *Resolver) scopeFor(name, path string, scope *index.Entry) *index.Entry {
	if scope != nil {
		for _, c := range scope.Children {
			if c.Name == name {
				return c
			}
		}
	}
	if e, ok := r.idx.Lookup(path); ok {
		return e
	}
	return scope
}

func addAddr(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func offsetFor(i, stride uint64) (uint64, bool) {
	hi, lo := bits.Mul64(i, stride)
	return lo, hi == 0
}

func (r *Resolver) block(b *model.Block, path, inst string, scope *index.Entry, st walkState, origin string) error {
	if !r.blocks[path] {
		r.blocks[path] = true
		desc := &Block{
			Name:        b.Name,
			Path:        path,
			Parent:      st.parent,
			Description: b.Description,
			Offset:      b.AddressOffset,
			Count:       1,
			Origin:      origin,
			Node:        b.Node,
		}
		if b.Repeat != nil {
			desc.Count, desc.Stride, desc.Repeated = b.Repeat.Count, b.Repeat.Stride, true
		}
		r.dev.Blocks = append(r.dev.Blocks, desc)
	}

	start, ok := addAddr(st.base, b.AddressOffset)
	if !ok {
		return diag.At(diag.Resolution, b.Node, "address offset of block %s overflows 64 bits", path)
	}
	count, stride := uint64(1), uint64(0)
	if b.Repeat != nil {
		count, stride = b.Repeat.Count, b.Repeat.Stride
	}

	for i := uint64(0); i < count; i++ {
		off, ok := offsetFor(i, stride)
		base, ok2 := addAddr(start, off)
		if !ok || !ok2 {
			return diag.At(diag.Resolution, b.Repeat.Node, "instance %d of block %s overflows 64 bits", i, path)
		}
		next := walkState{parent: path, instance: inst, base: base, indices: st.indices, origin: origin}
		if b.Repeat != nil {
			next.instance = fmt.Sprintf("%s[%d]", inst, i)
			next.indices = append(append([]Index(nil), st.indices...), Index{Path: path, Value: i, Count: count})
		}
		first := len(r.dev.Objects)
		if err := r.walk(b.Children, scope, next); err != nil {
			return err
		}
		if i == 0 && count > 1 {
			if err := r.checkStride(b, path, base, stride, r.dev.Objects[first:]); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkStride rejects a repeat whose stride is smaller than one instance's
// footprint in any address namespace.
func (r *Resolver) checkStride(b *model.Block, path string, base, stride uint64, instance []*Object) error {
	type span struct{ lo, hi uint64 }
	spans := make(map[model.Kind]*span)
	for _, o := range instance {
		rel := o.Address - base
		s, ok := spans[o.Kind]
		if !ok {
			spans[o.Kind] = &span{rel, rel}
			continue
		}
		s.lo, s.hi = min(s.lo, rel), max(s.hi, rel)
	}
	kinds := make([]model.Kind, 0, len(spans))
	for k := range spans {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		s := spans[k]
		footprint := s.hi - s.lo + 1
		if stride < footprint {
			return diag.At(diag.Resolution, b.Repeat.Node,
				"repeat stride %d of block %s is smaller than its %s footprint of %d; instances would overlap",
				stride, path, k, footprint)
		}
	}
	return nil
}

func (r *Resolver) emit(def model.Object, addr uint64, rep *model.Repeat, path, inst string, st walkState, origin string) error {
	count, stride := uint64(1), uint64(0)
	if rep != nil {
		count, stride = rep.Count, rep.Stride
		if count > 1 && stride == 0 {
			return diag.At(diag.Resolution, rep.Node, "repeat stride 0 of %s %s is smaller than its footprint of 1; instances would overlap", def.Kind(), path)
		}
	}
	start, ok := addAddr(st.base, addr)
	if !ok {
		return diag.At(diag.Resolution, def.Info().Node, "address of %s overflows 64 bits", path)
	}
	for i := uint64(0); i < count; i++ {
		off, ok := offsetFor(i, stride)
		a, ok2 := addAddr(start, off)
		if !ok || !ok2 {
			return diag.At(diag.Resolution, rep.Node, "instance %d of %s overflows 64 bits", i, path)
		}
		o := &Object{
			Kind:       def.Kind(),
			Name:       def.Info().Name,
			Path:       path,
			Instance:   inst,
			Indices:    st.indices,
			Address:    a,
			Definition: def,
			Origin:     origin,
		}
		if rep != nil {
			o.Instance = fmt.Sprintf("%s[%d]", inst, i)
			o.Indices = append(append([]Index(nil), st.indices...), Index{Path: path, Value: i, Count: count})
		}
		r.applyDefaults(o, def)
		r.dev.Objects = append(r.dev.Objects, o)
	}
	return nil
}

func (r *Resolver) applyDefaults(o *Object, def model.Object) {
	cfg := r.m.Config
	o.ByteOrder, o.HasByteOrder = cfg.DefaultByteOrder, cfg.HasDefaultByteOrder
	o.BitOrder = cfg.DefaultBitOrder
	switch d := def.(type) {
	case *model.Register:
		o.Access = d.Access
		if d.ByteOrder != nil {
			o.ByteOrder, o.HasByteOrder = *d.ByteOrder, true
		}
		if d.BitOrder != nil {
			o.BitOrder = *d.BitOrder
		}
	case *model.Command:
		if d.ByteOrder != nil {
			o.ByteOrder, o.HasByteOrder = *d.ByteOrder, true
		}
		if d.BitOrder != nil {
			o.BitOrder = *d.BitOrder
		}
	case *model.Buffer:
		o.Access = d.Access
	}
}

// checkCollisions reports objects of one kind sharing an address. A pair
// is accepted when either side sets allow_address_overlap.
func (r *Resolver) checkCollisions() error {
	var errs diag.List
	seen := make(map[model.Kind]map[uint64][]*Object)
	for _, o := range r.dev.Objects {
		byAddr, ok := seen[o.Kind]
		if !ok {
			byAddr = make(map[uint64][]*Object)
			seen[o.Kind] = byAddr
		}
		for _, prev := range byAddr[o.Address] {
			if prev.AllowsAddressOverlap() || o.AllowsAddressOverlap() {
				continue
			}
			errs.Add(diag.At(diag.Resolution, o.Node(),
				"address collision: %s and %s both use %s address %d", prev.Instance, o.Instance, o.Kind, o.Address).
				WithRelated(prev.Instance, o.Instance))
			break
		}
		byAddr[o.Address] = append(byAddr[o.Address], o)
	}
	return errs.Err()
}

// resolveRef returns the merged definition for the ref declared at path.
// scope is the entry of the block enclosing the ref.
func (r *Resolver) resolveRef(ref *model.Ref, path string, scope *index.Entry) (resolved, error) {
	if res, ok := r.memo[path]; ok {
		return res, nil
	}
	if r.inProgress[path] {
		cycle := append(append([]string(nil), r.stack[r.indexOf(path):]...), path)
		return resolved{}, diag.At(diag.Resolution, ref.TargetNode, "reference cycle: %s", strings.Join(cycle, " -> "))
	}
	r.inProgress[path] = true
	r.stack = append(r.stack, path)
	defer func() {
		delete(r.inProgress, path)
		r.stack = r.stack[:len(r.stack)-1]
	}()

	target, err := r.lookup(ref, scope)
	if err != nil {
		return resolved{}, err
	}
	base := target.obj.Info().Node
	targetKind := target.obj.Kind()

	if ref.Override != nil {
		if _, err := r.parser.ParseOverride(ref.Override, ref.Name, targetKind); err != nil {
			return resolved{}, err
		}
		if t, ok := ref.Override.Lookup("type"); ok && t.Str != targetKind.String() {
			newKind, _ := model.ParseKind(t.Str)
			if !targetKind.Addressable() || !newKind.Addressable() {
				return resolved{}, diag.At(diag.Resolution, t,
					"override cannot turn %s %s into a %s", targetKind, ref.Target, t.Str)
			}
		}
	}
	merged := model.Merge(base, ref.Override, ref.Node)
	obj, err := r.parser.ParseObject(merged, ref.Name)
	if err != nil {
		return resolved{}, err
	}
	if ref.Description != "" {
		obj.Info().Description = ref.Description
	}
	res := resolved{obj: obj, scope: target.scope, target: target.target}
	r.memo[path] = res
	return res, nil
}

func (r *Resolver) indexOf(path string) int {
	for i, p := range r.stack {
		if p == path {
			return i
		}
	}
	return 0
}

// lookup finds the non-ref definition a ref points at. Targets may pass
// through other refs, including blocks that only exist as a ref's copy.
func (r *Resolver) lookup(ref *model.Ref, scope *index.Entry) (resolved, error) {
	e, candidates := r.idx.ResolveName(scope, ref.Target)
	if e != nil {
		return r.definition(e)
	}
	if len(candidates) > 1 {
		paths := make([]string, len(candidates))
		for i, c := range candidates {
			paths[i] = c.Path
		}
		return resolved{}, diag.At(diag.Resolution, ref.TargetNode,
			"ref target %q is ambiguous: %s", ref.Target, strings.Join(paths, ", ")).
			WithRelated(paths...)
	}

	segs := index.SplitPath(ref.Target)
	for k := len(segs) - 1; k >= 1; k-- {
		prefix := strings.Join(segs[:k], index.Separator)
		pe, _ := r.idx.ResolveName(scope, prefix)
		if pe == nil {
			continue
		}
		res, err := r.definition(pe)
		if err != nil {
			return resolved{}, err
		}
		return r.descend(res, pe.Path, segs[k:], ref)
	}

	var names []string
	for _, entry := range r.idx.Entries() {
		names = append(names, entry.Path)
	}
	return resolved{}, diag.At(diag.Resolution, ref.TargetNode, "ref target %q does not exist", ref.Target).
		WithSuggestion(diag.Suggest(ref.Target, names))
}

func (r *Resolver) definition(e *index.Entry) (resolved, error) {
	if ref, ok := e.Object.(*model.Ref); ok {
		return r.resolveRef(ref, e.Path, e.Parent)
	}
	return resolved{obj: e.Object, scope: e, target: e.Path}, nil
}

// descend walks rest through the children of a resolved block.
func (r *Resolver) descend(cur resolved, path string, rest []string, ref *model.Ref) (resolved, error) {
	for _, name := range rest {
		b, ok := cur.obj.(*model.Block)
		if !ok {
			return resolved{}, diag.At(diag.Resolution, ref.TargetNode, "ref target %q: %s is a %s, not a block", ref.Target, path, cur.obj.Kind())
		}
		var child model.Object
		for _, c := range b.Children {
			if c.Info().Name == name {
				child = c
				break
			}
		}
		if child == nil {
			return resolved{}, diag.At(diag.Resolution, ref.TargetNode, "ref target %q: %s has no child %q", ref.Target, path, name)
		}
		path = index.JoinPath(path, name)
		if cr, ok := child.(*model.Ref); ok {
			res, err := r.resolveRef(cr, path, cur.scope)
			if err != nil {
				return resolved{}, err
			}
			cur = res
			continue
		}
		cur = resolved{obj: child, scope: r.scopeFor(name, path, cur.scope), target: path}
	}
	return cur, nil
}
