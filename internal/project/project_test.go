package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, FileName), `
[build]
format = "go"
package = "regs"

[check]
exclude = ["vendor/**"]
`)
	s, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "go", s.Build.Format)
	assert.Equal(t, "regs", s.Build.Package)
	assert.Equal(t, []string{"vendor/**"}, s.Check.Exclude)
	assert.Equal(t, Default().Check.Include, s.Check.Include)
	assert.True(t, s.Schema.Strict)
	assert.Equal(t, dir, s.Root)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "[build]\ncolour = \"red\"\n", "colour"},
		{"bad format", "[build]\nformat = \"c\"\n", "build.format"},
		{"bad glob", "[check]\ninclude = [\"[a\"]\n", "bad glob"},
		{"syntax", "[build\n", FileName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			write(t, filepath.Join(dir, FileName), tt.content)
			_, err := Load(filepath.Join(dir, FileName))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindSearchesUpward(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, FileName), "[schema]\nstrict = false\n")
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	s, err := Find(nested)
	require.NoError(t, err)
	assert.False(t, s.Schema.Strict)
	assert.Equal(t, dir, s.Root)
	assert.Equal(t, filepath.Join(dir, "out.json"), s.Path("out.json"))
	assert.Equal(t, "/abs/out.json", s.Path("/abs/out.json"))
}

func TestFindWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Find(dir)
	require.NoError(t, err)
	assert.Empty(t, s.File)
	assert.Equal(t, "ir", s.Build.Format)
}

func TestMatcher(t *testing.T) {
	s := Default()
	s.Check.Exclude = append(s.Check.Exclude, "build/**")
	match, err := s.Matcher()
	require.NoError(t, err)

	for path, want := range map[string]bool{
		"top.rdl":           true,
		"sub/dev.yaml":      true,
		"sub/deep/dev.toml": true,
		"rdt.toml":          false,
		"sub/rdt.toml":      false,
		"dev.ir.json":       false,
		"build/dev.rdl":     false,
		"notes.txt":         false,
	} {
		assert.Equal(t, want, match(path), path)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	files, err := Init(dir, "demo")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	s, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "demo.ir.json", s.Build.Output)

	data, err := os.ReadFile(filepath.Join(dir, "demo.rdl"))
	require.NoError(t, err)
	assert.Equal(t, Sample, string(data))

	_, err = Init(dir, "demo")
	assert.ErrorContains(t, err, "already exists")
	_, err = Init(dir, "a/b")
	assert.Error(t, err)
}
