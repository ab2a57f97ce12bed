package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

type Format int

const (
	FormatRDL Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
)

func (f Format) String() string {
	return [...]string{"rdl", "yaml", "toml", "json"}[f]
}

// Extensions lists the file extensions manifests are recognised by.
var Extensions = []string{".rdl", ".yaml", ".yml", ".toml", ".json"}

func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rdl":
		return FormatRDL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("%s: unrecognised manifest extension (want one of %s)", path, strings.Join(Extensions, ", "))
}

// ParseBytes parses data in the given format and annotates node paths.
func ParseBytes(file string, data []byte, f Format) (*tree.Node, error) {
	var (
		root *tree.Node
		err  error
	)
	switch f {
	case FormatRDL:
		var doc *Document
		doc, err = NewParser(file, string(data)).Parse()
		if doc != nil {
			root = doc.Root
		}
	case FormatYAML:
		root, err = ParseYAML(file, data)
	case FormatTOML:
		root, err = ParseTOML(file, data)
	case FormatJSON:
		root, err = ParseJSON(file, data)
	}
	if err != nil {
		return nil, err
	}
	return tree.Annotate(root), nil
}

// LoadFile reads and parses a manifest, picking the format by extension.
func LoadFile(path string) (*tree.Node, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, diag.New(diag.IO, "", tree.Position{File: path}, "%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, diag.New(diag.IO, "", tree.Position{File: path}, "%v", err)
	}
	return ParseBytes(path, data, f)
}
