package codegen

import (
	"fmt"
	"math"

	"github.com/marte-community/register-dev-tools/pkg/device"
)

// FieldView reads and writes the fields of one payload by name. Enum fields
// are exchanged as variant names.
type FieldView struct {
	plan *Plan
	set  *FieldSet
	fs   device.FieldSet
}

// Bytes returns a copy of the raw payload.
func (v *FieldView) Bytes() []byte { return v.fs.Bytes() }

func (v *FieldView) field(name string) (*Field, error) {
	f := v.set.Field(name)
	if f == nil {
		return nil, fmt.Errorf("field %s of %s: %w", name, v.set.TypeName, ErrNotFound)
	}
	return f, nil
}

// Raw returns the unconverted bits of a field.
func (v *FieldView) Raw(name string) (uint64, error) {
	f, err := v.field(name)
	if err != nil {
		return 0, err
	}
	return v.fs.Uint(uint(f.Start), uint(f.End)), nil
}

// Get returns a bool, uint64, int64 or variant name. A bit pattern without
// a variant in a fallible enum yields device.ErrInvalidValue; with a
// catch-all it yields the catch-all name. Write-only fields yield
// device.ErrAccess.
func (v *FieldView) Get(name string) (any, error) {
	f, err := v.field(name)
	if err != nil {
		return nil, err
	}
	if !f.CanRead() {
		return nil, fmt.Errorf("get field %s: %w", name, device.ErrAccess)
	}
	start, end := uint(f.Start), uint(f.End)
	switch {
	case f.Conversion == ConvBool:
		return v.fs.Bool(start), nil
	case f.Enum != "":
		en := v.plan.Enum(f.Enum)
		raw := v.fs.Uint(start, end)
		vr := en.ByValue(raw)
		if vr == nil {
			if en.CatchAll != "" {
				return en.CatchAll, nil
			}
			return nil, device.InvalidValue(en.TypeName, raw)
		}
		return vr.Name, nil
	case f.Base == "int":
		return v.fs.Int(start, end), nil
	}
	return v.fs.Uint(start, end), nil
}

// Set stores value into a field. Integers must fit the field's width; enum
// fields take a variant name, or a raw integer when the enum has a
// catch-all. Read-only fields yield device.ErrAccess.
func (v *FieldView) Set(name string, value any) error {
	f, err := v.field(name)
	if err != nil {
		return err
	}
	if !f.CanWrite() {
		return fmt.Errorf("set field %s: %w", name, device.ErrAccess)
	}
	start, end := uint(f.Start), uint(f.End)
	width := end - start

	switch {
	case f.Conversion == ConvBool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %s takes a bool, got %T", name, value)
		}
		v.fs.SetBool(start, b)
	case f.Enum != "":
		en := v.plan.Enum(f.Enum)
		if n, ok := toUint64(value); ok && en.CatchAll != "" {
			if n > device.Mask(width) {
				return fmt.Errorf("field %s: %d does not fit in %d bits: %w", name, n, width, device.ErrInvalidValue)
			}
			v.fs.SetUint(start, end, n)
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %s takes a variant name, got %T", name, value)
		}
		if en.CatchAll != "" && s == en.CatchAll {
			return fmt.Errorf("field %s: catch-all %s of enum %s needs a raw value: %w", name, s, en.Name, device.ErrInvalidValue)
		}
		vr := en.Variant(s)
		if vr == nil {
			return fmt.Errorf("field %s: enum %s has no variant %q: %w", name, en.Name, s, device.ErrInvalidValue)
		}
		v.fs.SetUint(start, end, vr.Value)
	case f.Base == "int":
		n, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("field %s takes an integer, got %T", name, value)
		}
		if width < 64 {
			lo, hi := -int64(1)<<(width-1), int64(1)<<(width-1)-1
			if n < lo || n > hi {
				return fmt.Errorf("field %s: %d does not fit in %d signed bits: %w", name, n, width, device.ErrInvalidValue)
			}
		}
		v.fs.SetInt(start, end, n)
	default:
		n, ok := toUint64(value)
		if !ok {
			return fmt.Errorf("field %s takes a non-negative integer, got %v", name, value)
		}
		if n > device.Mask(width) {
			return fmt.Errorf("field %s: %d does not fit in %d bits: %w", name, n, width, device.ErrInvalidValue)
		}
		v.fs.SetUint(start, end, n)
	}
	return nil
}

func toInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func toUint64(value any) (uint64, bool) {
	switch n := value.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	if i, ok := toInt64(value); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}
