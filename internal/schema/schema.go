// Package schema checks the structure of a manifest against an embedded CUE
// schema before the object model parser sees it.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

//go:embed manifest.cue
var manifestCUE []byte

// ProjectFile is the optional schema extension looked up in a project root.
const ProjectFile = ".rdt_schema.cue"

type Schema struct {
	Context *cue.Context
	Value   cue.Value
	mu      sync.Mutex
}

// Source returns the embedded schema text.
func Source() string {
	return string(manifestCUE)
}

// Load compiles the embedded schema.
func Load() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(manifestCUE, cue.Filename("manifest.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile embedded schema: %w", err)
	}
	return &Schema{Context: ctx, Value: v}, nil
}

// Extend unifies the CUE file at path into s. Extensions may only narrow
// the embedded definitions and must leave their own definitions open with
// "..." so they do not close off fields declared by manifest.cue.
func (s *Schema) Extend(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ext := s.Context.CompileBytes(content, cue.Filename(path))
	if err := ext.Err(); err != nil {
		return fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	merged := s.Value.Unify(ext)
	if err := merged.Err(); err != nil {
		return fmt.Errorf("schema %s conflicts with the built-in schema: %w", path, err)
	}
	s.Value = merged
	return nil
}

// LoadFullSchema loads the embedded schema, then the user wide extension
// and finally the project's ProjectFile when they exist.
func LoadFullSchema(projectRoot string) (*Schema, error) {
	s, err := Load()
	if err != nil {
		return nil, err
	}

	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local/share/rdt/schema.cue"))
	}
	if projectRoot != "" {
		paths = append(paths, filepath.Join(projectRoot, ProjectFile))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := s.Extend(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var definitions = map[string]string{
	"block":    "#Block",
	"register": "#Register",
	"command":  "#Command",
	"buffer":   "#Buffer",
	"ref":      "#Ref",
	"enum":     "#Enum",
}

// definitionFor picks the narrowest definition for a top-level entry so
// errors are not buried under a failed disjunction.
func definitionFor(key string, n *tree.Node) string {
	if key == "config" {
		return "#Config"
	}
	if typ, ok := n.Lookup("type"); ok && typ.Type == tree.String {
		if def, ok := definitions[typ.Str]; ok {
			return def
		}
	}
	return "#Entry"
}

// Check validates every top-level entry of root and returns a diag.List of
// Parse errors.
func (s *Schema) Check(root *tree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list diag.List
	if root == nil || root.Kind != tree.Mapping {
		list.Add(diag.At(diag.Parse, root, "manifest must be a mapping"))
		return list.Err()
	}
	for _, e := range root.Entries {
		def := s.Value.LookupPath(cue.ParsePath(definitionFor(e.Key, e.Value)))
		data := s.Context.Encode(e.Value.Interface())
		res := def.Unify(data)
		if err := res.Validate(cue.Concrete(true)); err != nil {
			s.report(&list, e.Value, err)
		}
	}
	return list.Err()
}

func (s *Schema) report(list *diag.List, entry *tree.Node, err error) {
	seen := make(map[string]bool)
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		at := locate(entry, e.Path())
		key := at.Path + "\x00" + msg
		if seen[key] {
			continue
		}
		seen[key] = true
		list.Add(diag.At(diag.Parse, at, "schema: %s", msg))
	}
}

// locate walks a CUE error path down from entry, stopping at the deepest
// node that exists.
func locate(entry *tree.Node, path []string) *tree.Node {
	curr := entry
	for _, sel := range path {
		if strings.HasPrefix(sel, "#") {
			continue
		}
		if unq, err := strconv.Unquote(sel); err == nil {
			sel = unq
		}
		var next *tree.Node
		switch curr.Kind {
		case tree.Mapping:
			next, _ = curr.Lookup(sel)
		case tree.Sequence:
			if i, err := strconv.Atoi(sel); err == nil && i >= 0 && i < len(curr.Items) {
				next = curr.Items[i]
			}
		}
		if next == nil {
			return curr
		}
		curr = next
	}
	return curr
}
