package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/parser"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

func open(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "builds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func manifest(t *testing.T, f parser.Format, src string) *tree.Node {
	t.Helper()
	root, err := parser.ParseBytes("m", []byte(src), f)
	require.NoError(t, err)
	return root
}

func TestHashIgnoresLayoutAndFormat(t *testing.T) {
	a := manifest(t, parser.FormatRDL, "// note\nR = { type = register address = 0x10 size_bits = 8 }\n")
	b := manifest(t, parser.FormatYAML, "R:\n  type: register\n  address: 16\n  size_bits: 8\n")
	c := manifest(t, parser.FormatRDL, "R = { type = register address = 17 size_bits = 8 }")

	ha, err := Hash(a, "ir/1")
	require.NoError(t, err)
	hb, err := Hash(b, "ir/1")
	require.NoError(t, err)
	hc, err := Hash(c, "ir/1")
	require.NoError(t, err)

	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestHashDependsOnIRFormat(t *testing.T) {
	root := manifest(t, parser.FormatRDL, "R = { type = register address = 0 size_bits = 8 }")
	v1, err := Hash(root, "ir/1")
	require.NoError(t, err)
	again, err := Hash(root, "ir/1")
	require.NoError(t, err)
	v2, err := Hash(root, "ir/2")
	require.NoError(t, err)

	assert.Equal(t, v1, again)
	assert.NotEqual(t, v1, v2)
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	c := open(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := c.Put(ctx, "h1", []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, []byte(`{"v":1}`), e.IR)
	assert.False(t, e.CreatedAt.IsZero())

	again, err := c.Put(ctx, "h1", []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	e, _, err = c.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), e.IR)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	c := open(t)
	for _, h := range []string{"a", "b", "c", "d"} {
		_, err := c.Put(ctx, h, []byte(h))
		require.NoError(t, err)
	}

	removed, err := c.Prune(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	for h, want := range map[string]bool{"a": false, "b": false, "c": true, "d": true} {
		_, ok, err := c.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, want, ok, h)
	}

	_, err = c.Prune(ctx, -1)
	assert.Error(t, err)
}

func TestOpenRejectsDirectory(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
	_, err = Open("  ")
	assert.Error(t, err)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "builds.db")
	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Put(ctx, "h", []byte("ir"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(ctx, "h")
	require.NoError(t, err)
	assert.True(t, ok)
}
