// Package project reads rdt.toml, the per-project settings file.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pelletier/go-toml/v2"
)

const FileName = "rdt.toml"

type Settings struct {
	Build  BuildSettings  `toml:"build"`
	Check  CheckSettings  `toml:"check"`
	Schema SchemaSettings `toml:"schema"`

	// Root is the directory holding the settings file. Relative paths in
	// the settings are resolved against it.
	Root string `toml:"-"`
	// File is the settings file that was loaded, empty for defaults.
	File string `toml:"-"`
}

type BuildSettings struct {
	Format  string `toml:"format"`
	Package string `toml:"package"`
	Output  string `toml:"output"`
	Cache   string `toml:"cache"`
	Metrics string `toml:"metrics"`
}

type CheckSettings struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

type SchemaSettings struct {
	Strict bool `toml:"strict"`
}

func Default() *Settings {
	return &Settings{
		Build: BuildSettings{Format: "ir", Package: "registers"},
		Check: CheckSettings{
			Include: []string{"**.rdl", "**.yaml", "**.yml", "**.toml", "**.json"},
			Exclude: []string{FileName, "**/" + FileName, "**.ir.json"},
		},
		Schema: SchemaSettings{Strict: true},
	}
}

// Load reads a settings file. Keys it leaves out keep their defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", path, row, col, derr.Error())
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, 0, len(serr.Errors))
			for _, e := range serr.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return nil, fmt.Errorf("%s: unknown settings %s", path, strings.Join(keys, ", "))
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	s.File = abs
	s.Root = filepath.Dir(abs)
	return s, nil
}

func (s *Settings) validate() error {
	switch s.Build.Format {
	case "ir", "go":
	default:
		return fmt.Errorf("build.format must be \"ir\" or \"go\", got %q", s.Build.Format)
	}
	for _, p := range append(append([]string(nil), s.Check.Include...), s.Check.Exclude...) {
		if _, err := glob.Compile(p, '/'); err != nil {
			return fmt.Errorf("bad glob %q: %w", p, err)
		}
	}
	return nil
}

// Find looks for FileName in dir and its parents. When none exists it
// returns the defaults rooted at dir.
func Find(dir string) (*Settings, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for curr := abs; ; {
		path := filepath.Join(curr, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return Load(path)
		}
		parent := filepath.Dir(curr)
		if parent == curr {
			break
		}
		curr = parent
	}
	s := Default()
	s.Root = abs
	return s, nil
}

// Path resolves p against Root unless it is empty or absolute.
func (s *Settings) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.Root == "" {
		return p
	}
	return filepath.Join(s.Root, p)
}

// Matcher returns a predicate over slash separated relative paths built
// from the include and exclude globs.
func (s *Settings) Matcher() (func(rel string) bool, error) {
	compile := func(patterns []string) ([]glob.Glob, error) {
		out := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	}
	include, err := compile(s.Check.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compile(s.Check.Exclude)
	if err != nil {
		return nil, err
	}
	return func(rel string) bool {
		for _, g := range exclude {
			if g.Match(rel) {
				return false
			}
		}
		for _, g := range include {
			if g.Match(rel) {
				return true
			}
		}
		return false
	}, nil
}

// Encode renders s as TOML.
func (s *Settings) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sample is the manifest written by Init.
const Sample = `// Sample device manifest.
config = {
    register_address_type = u8
    default_byte_order = LE
}

Mode = {
    type = enum
    bits = 2
    variants = { Off = 0 On = 1 Auto = 2 }
    default = Off
}

Control = {
    type = register
    description = "Main control register"
    address = 0
    size_bits = 8
    reset_value = 0
    fields = {
        enable = { base = bool start = 0 }
        mode = { base = Mode start = 1 end = 3 }
    }
}

Status = {
    type = register
    address = 1
    size_bits = 8
    access = RO
    fields = {
        ready = { base = bool start = 0 }
    }
}
`

// Init writes FileName and <name>.rdl into dir. Existing files are never
// overwritten.
func Init(dir, name string) ([]string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid project name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := Default()
	s.Build.Output = name + ".ir.json"
	settings, err := s.Encode()
	if err != nil {
		return nil, err
	}
	files := []struct {
		path string
		data []byte
	}{
		{filepath.Join(dir, FileName), settings},
		{filepath.Join(dir, name+".rdl"), []byte(Sample)},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			return nil, fmt.Errorf("%s already exists", f.path)
		}
	}
	var written []string
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return written, err
		}
		written = append(written, f.path)
	}
	return written, nil
}
