package index

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/config"
	"github.com/marte-community/register-dev-tools/internal/model"
	"github.com/marte-community/register-dev-tools/internal/parser"
)

const src = `Top:
  type: block
  children:
    Foo:
      type: register
      address: 0
      size_bits: 8
      fields:
        flag: {base: bool, start: 0}
    Inner:
      type: block
      children:
        Foo: {type: register, address: 1, size_bits: 8}
Other:
  type: buffer
  address: 3
Copy: {type: ref, target: Other}
`

func build(t *testing.T) *ObjectTree {
	t.Helper()
	root, err := parser.ParseBytes("m.yaml", []byte(src), parser.FormatYAML)
	require.NoError(t, err)
	m, err := model.Parse(root, config.Default())
	require.NoError(t, err)
	return Build(m)
}

func TestBuildOrdersEntries(t *testing.T) {
	tr := build(t)
	var paths []string
	tr.Walk(func(e *Entry) { paths = append(paths, e.Path) })
	assert.Equal(t, []string{"Top", "Top/Foo", "Top/Inner", "Top/Inner/Foo", "Other", "Copy"}, paths)

	e, ok := tr.Lookup("/Top/Inner/")
	require.True(t, ok)
	assert.Equal(t, "Top", e.Parent.Path)
	assert.Len(t, e.Children, 1)
	assert.Len(t, tr.NodeMap["Foo"], 2)
}

func TestResolveName(t *testing.T) {
	tr := build(t)
	inner, _ := tr.Lookup("Top/Inner")
	top, _ := tr.Lookup("Top")

	e, _ := tr.ResolveName(inner, "Foo")
	require.NotNil(t, e)
	assert.Equal(t, "Top/Inner/Foo", e.Path)

	e, _ = tr.ResolveName(top, "Foo")
	require.NotNil(t, e)
	assert.Equal(t, "Top/Foo", e.Path)

	e, _ = tr.ResolveName(inner, "Other")
	require.NotNil(t, e)
	assert.Equal(t, "Other", e.Path)

	e, candidates := tr.ResolveName(tr.Root, "Foo")
	assert.Nil(t, e)
	assert.Len(t, candidates, 2)

	e, candidates = tr.ResolveName(tr.Root, "Top/Missing")
	assert.Nil(t, e)
	assert.Empty(t, candidates)
}

func TestQuery(t *testing.T) {
	tr := build(t)
	// "    Foo:" on line 4
	res := tr.Query("m.yaml", 4, 6)
	require.NotNil(t, res)
	assert.Equal(t, "Top/Foo", res.Entry.Path)
	assert.Nil(t, res.Field)

	res = tr.Query("m.yaml", 9, 10)
	require.NotNil(t, res)
	require.NotNil(t, res.Field)
	assert.Equal(t, "flag", res.Field.Name)

	assert.Nil(t, tr.Query("m.yaml", 2, 3))
	assert.Nil(t, tr.Query("other.yaml", 4, 6))
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, SplitPath(" /A/B/ "))
	assert.Nil(t, SplitPath(""))
	assert.Equal(t, "A/B", JoinPath("A", "B"))
	assert.Equal(t, "B", JoinPath("", "B"))
}

func TestScanDirectory(t *testing.T) {
	root := filepath.Join("testdata", "tree")
	files, err := ScanDirectory(root, func(rel string) bool {
		return !strings.HasSuffix(rel, ".txt")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.yaml"),
		filepath.Join(root, "sub", "b.rdl"),
	}, files)
}
