package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/naming"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

func mapping(t *testing.T, kv ...any) *tree.Node {
	t.Helper()
	m := tree.NewMapping(tree.Position{Line: 1, Column: 1})
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, m.Set(kv[i].(string), tree.Position{}, kv[i+1].(*tree.Node)))
	}
	return m
}

func s(v string) *tree.Node { return tree.NewString(v, tree.Position{}) }

func TestResolveFixtureConfig(t *testing.T) {
	n := tree.Annotate(mapping(t,
		"register_address_type", s("u8"),
		"buffer_address_type", s("u32"),
		"default_byte_order", s("LE"),
		"name_word_boundaries", tree.NewSequence(tree.Position{}, s("underscore"), s("LowerUpper")),
		"feature_flags", mapping(t, "stringer", tree.NewBool(true, tree.Position{})),
	))
	cfg, err := Resolve(n)
	require.NoError(t, err)

	assert.Equal(t, U8, cfg.RegisterAddressType)
	assert.Equal(t, Unset, cfg.CommandAddressType)
	assert.Equal(t, U32, cfg.BufferAddressType)
	assert.True(t, cfg.HasDefaultByteOrder)
	assert.Equal(t, device.LittleEndian, cfg.DefaultByteOrder)
	assert.Equal(t, []naming.Boundary{naming.Underscore, naming.LowerUpper}, cfg.NameWordBoundaries)
	assert.True(t, cfg.FlagEnabled("stringer"))
	assert.False(t, cfg.FlagEnabled("missing"))
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve(nil)
	require.NoError(t, err)
	assert.False(t, cfg.HasDefaultByteOrder)
	assert.Equal(t, device.ReadWrite, cfg.DefaultRegisterAccess)
	assert.Equal(t, device.ReadWrite, cfg.DefaultFieldAccess)
	assert.Equal(t, device.LSB0, cfg.DefaultBitOrder)
	assert.Equal(t, naming.Defaults(), cfg.NameWordBoundaries)
}

func TestResolveFieldDefaults(t *testing.T) {
	cfg, err := Resolve(tree.Annotate(mapping(t,
		"default_bit_order", s("MSB0"),
		"default_field_access", s("RO"),
	)))
	require.NoError(t, err)
	assert.Equal(t, device.MSB0, cfg.DefaultBitOrder)
	assert.Equal(t, device.ReadOnly, cfg.DefaultFieldAccess)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		node func(t *testing.T) *tree.Node
		want string
	}{
		{"unknown key", func(t *testing.T) *tree.Node {
			return mapping(t, "default_byteorder", s("LE"))
		}, "Did you mean 'default_byte_order'?"},
		{"bad width", func(t *testing.T) *tree.Node {
			return mapping(t, "register_address_type", s("u12"))
		}, `unsupported address type "u12"`},
		{"address type not a string", func(t *testing.T) *tree.Node {
			return mapping(t, "command_address_type", tree.NewUint(8, tree.Position{}))
		}, "expected a string, got integer"},
		{"bad byte order", func(t *testing.T) *tree.Node {
			return mapping(t, "default_byte_order", s("PDP"))
		}, "unknown byte order"},
		{"bad bit order", func(t *testing.T) *tree.Node {
			return mapping(t, "default_bit_order", s("MSB1"))
		}, "unknown bit order"},
		{"bad field access", func(t *testing.T) *tree.Node {
			return mapping(t, "default_field_access", s("RX"))
		}, "unknown access"},
		{"empty boundaries", func(t *testing.T) *tree.Node {
			return mapping(t, "name_word_boundaries", tree.NewSequence(tree.Position{}))
		}, "must not be empty"},
		{"unknown boundary", func(t *testing.T) *tree.Node {
			return mapping(t, "name_word_boundaries", tree.NewSequence(tree.Position{}, s("hyphn")))
		}, "Did you mean 'hyphen'?"},
		{"duplicate boundary", func(t *testing.T) *tree.Node {
			return mapping(t, "name_word_boundaries", tree.NewSequence(tree.Position{}, s("hyphen"), s("Hyphen")))
		}, "listed twice"},
		{"not a mapping", func(t *testing.T) *tree.Node {
			return tree.NewSequence(tree.Position{})
		}, "config must be a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tree.Annotate(tt.node(t))
			_, err := Resolve(n)
			require.Error(t, err)
			assert.True(t, diag.Is(err, diag.Config))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAddressTypeMax(t *testing.T) {
	assert.Equal(t, uint64(0xFF), U8.Max())
	assert.Equal(t, ^uint64(0), U64.Max())
}
