package config

import (
	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/naming"
	"github.com/marte-community/register-dev-tools/internal/tree"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

var knownKeys = []string{
	"register_address_type",
	"command_address_type",
	"buffer_address_type",
	"default_byte_order",
	"default_bit_order",
	"default_register_access",
	"default_buffer_access",
	"default_field_access",
	"name_word_boundaries",
	"feature_flags",
}

// Resolve validates a config node. A nil node yields Default().
func Resolve(n *tree.Node) (*Config, error) {
	cfg := Default()
	if n == nil {
		return cfg, nil
	}
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Config, n, "config must be a mapping, got %s", n.Describe())
	}

	for _, e := range n.Entries {
		v := e.Value
		var err error
		switch e.Key {
		case "register_address_type":
			cfg.RegisterAddressType, err = addressType(v)
		case "command_address_type":
			cfg.CommandAddressType, err = addressType(v)
		case "buffer_address_type":
			cfg.BufferAddressType, err = addressType(v)
		case "default_byte_order":
			var s string
			if s, err = str(v); err == nil {
				var perr error
				if cfg.DefaultByteOrder, perr = device.ParseByteOrder(s); perr != nil {
					err = diag.At(diag.Config, v, "%v", perr)
				}
				cfg.HasDefaultByteOrder = true
			}
		case "default_bit_order":
			cfg.DefaultBitOrder, err = bitOrder(v)
		case "default_register_access":
			cfg.DefaultRegisterAccess, err = access(v)
		case "default_buffer_access":
			cfg.DefaultBufferAccess, err = access(v)
		case "default_field_access":
			cfg.DefaultFieldAccess, err = access(v)
		case "name_word_boundaries":
			cfg.NameWordBoundaries, err = boundaries(v)
		case "feature_flags":
			cfg.FeatureFlags, err = flags(v)
		default:
			err = diag.At(diag.Config, v, "unknown config key %q", e.Key).
				WithSuggestion(diag.Suggest(e.Key, knownKeys))
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func str(n *tree.Node) (string, error) {
	if n.Kind != tree.Scalar || n.Type != tree.String {
		return "", diag.At(diag.Config, n, "expected a string, got %s", n.Describe())
	}
	return n.Str, nil
}

func addressType(n *tree.Node) (AddressType, error) {
	s, err := str(n)
	if err != nil {
		return Unset, err
	}
	t, perr := ParseAddressType(s)
	if perr != nil {
		return Unset, diag.At(diag.Config, n, "%v", perr)
	}
	return t, nil
}

func access(n *tree.Node) (device.Access, error) {
	s, err := str(n)
	if err != nil {
		return device.ReadWrite, err
	}
	a, perr := device.ParseAccess(s)
	if perr != nil {
		return device.ReadWrite, diag.At(diag.Config, n, "%v", perr)
	}
	return a, nil
}

func bitOrder(n *tree.Node) (device.BitOrder, error) {
	s, err := str(n)
	if err != nil {
		return device.LSB0, err
	}
	b, perr := device.ParseBitOrder(s)
	if perr != nil {
		return device.LSB0, diag.At(diag.Config, n, "%v", perr)
	}
	return b, nil
}

func boundaries(n *tree.Node) ([]naming.Boundary, error) {
	if n.Kind != tree.Sequence {
		return nil, diag.At(diag.Config, n, "name_word_boundaries must be a sequence, got %s", n.Describe())
	}
	if len(n.Items) == 0 {
		return nil, diag.At(diag.Config, n, "name_word_boundaries must not be empty")
	}
	seen := make(map[naming.Boundary]bool)
	out := make([]naming.Boundary, 0, len(n.Items))
	for _, item := range n.Items {
		s, err := str(item)
		if err != nil {
			return nil, err
		}
		b, perr := naming.ParseBoundary(s)
		if perr != nil {
			return nil, diag.At(diag.Config, item, "%v", perr).
				WithSuggestion(diag.Suggest(s, naming.Names()))
		}
		if seen[b] {
			return nil, diag.At(diag.Config, item, "word boundary %q listed twice", s)
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}

func flags(n *tree.Node) ([]Flag, error) {
	if n.Kind != tree.Mapping {
		return nil, diag.At(diag.Config, n, "feature_flags must be a mapping, got %s", n.Describe())
	}
	out := make([]Flag, 0, len(n.Entries))
	for _, e := range n.Entries {
		if e.Value.Kind != tree.Scalar {
			return nil, diag.At(diag.Config, e.Value, "feature flag %q must be a scalar", e.Key)
		}
		out = append(out, Flag{Name: e.Key, Value: e.Value.Text()})
	}
	return out, nil
}
