// Package config resolves the manifest's global `config` block.
package config

import (
	"fmt"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/naming"
	"github.com/marte-community/register-dev-tools/pkg/device"
)

// AddressType is the unsigned integer width addressing one object kind.
// The zero value means the manifest did not configure it.
type AddressType uint8

const (
	Unset AddressType = 0
	U8    AddressType = 8
	U16   AddressType = 16
	U32   AddressType = 32
	U64   AddressType = 64
)

func (t AddressType) String() string {
	if t == Unset {
		return "unset"
	}
	return fmt.Sprintf("u%d", uint8(t))
}

// Max is the largest address representable.
func (t AddressType) Max() uint64 {
	return device.Mask(uint(t))
}

func ParseAddressType(s string) (AddressType, error) {
	switch strings.ToLower(s) {
	case "u8":
		return U8, nil
	case "u16":
		return U16, nil
	case "u32":
		return U32, nil
	case "u64":
		return U64, nil
	}
	return Unset, fmt.Errorf("unsupported address type %q (expected u8, u16, u32 or u64)", s)
}

// Flag is an opaque feature flag handed to backends unevaluated.
type Flag struct {
	Name  string
	Value string
}

type Config struct {
	RegisterAddressType AddressType
	CommandAddressType  AddressType
	BufferAddressType   AddressType

	DefaultByteOrder    device.ByteOrder
	HasDefaultByteOrder bool

	DefaultBitOrder device.BitOrder

	DefaultRegisterAccess device.Access
	DefaultBufferAccess   device.Access
	DefaultFieldAccess    device.Access

	NameWordBoundaries []naming.Boundary
	FeatureFlags       []Flag
}

// Default returns the configuration used when a manifest has no config block.
func Default() *Config {
	return &Config{
		DefaultRegisterAccess: device.ReadWrite,
		DefaultBufferAccess:   device.ReadWrite,
		DefaultFieldAccess:    device.ReadWrite,
		NameWordBoundaries:    naming.Defaults(),
	}
}

// Flag returns the value of a feature flag.
func (c *Config) Flag(name string) (string, bool) {
	for _, f := range c.FeatureFlags {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// FlagEnabled treats "true", "1", "yes" and "on" as enabled.
func (c *Config) FlagEnabled(name string) bool {
	v, ok := c.Flag(name)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Splitter returns the tokenizer configured by name_word_boundaries.
func (c *Config) Splitter() *naming.Splitter {
	return naming.NewSplitter(c.NameWordBoundaries)
}
