package device

import (
	"errors"
	"fmt"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidValue    = errors.New("bit pattern has no matching variant")
	ErrAccess          = errors.New("operation not permitted by access mode")
	ErrUnsupported     = errors.New("operation not supported by transport")
)

// CheckIndex reports ErrIndexOutOfRange unless 0 <= index < count.
func CheckIndex(name string, index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("%s[%d]: %w (count %d)", name, index, ErrIndexOutOfRange, count)
	}
	return nil
}

// InvalidValue builds the error returned by fallible enum conversions.
func InvalidValue(enum string, raw uint64) error {
	return fmt.Errorf("%s: %w: %#x", enum, ErrInvalidValue, raw)
}
