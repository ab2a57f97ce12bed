// Package device is the runtime linked by generated register accessors and by
// the interpreter in internal/codegen. It packs field values into payload
// bytes and serialises access to a caller supplied transport.
package device

import (
	"fmt"
	"strings"
)

// ByteOrder selects how a multi-byte payload is laid out on the wire.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "BE"
	}
	return "LE"
}

// ParseByteOrder accepts LE/BE and the spelled out forms in any case.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "le", "little", "littleendian", "little_endian":
		return LittleEndian, nil
	case "be", "big", "bigendian", "big_endian":
		return BigEndian, nil
	}
	return LittleEndian, fmt.Errorf("unknown byte order %q (expected LE or BE)", s)
}

// BitOrder selects which end of a payload bit 0 names.
type BitOrder uint8

const (
	LSB0 BitOrder = iota
	MSB0
)

func (b BitOrder) String() string {
	if b == MSB0 {
		return "MSB0"
	}
	return "LSB0"
}

func ParseBitOrder(s string) (BitOrder, error) {
	switch strings.ToLower(s) {
	case "lsb0":
		return LSB0, nil
	case "msb0":
		return MSB0, nil
	}
	return LSB0, fmt.Errorf("unknown bit order %q (expected LSB0 or MSB0)", s)
}

// Access describes which directions an object supports.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "RO"
	case WriteOnly:
		return "WO"
	}
	return "RW"
}

func (a Access) CanRead() bool  { return a != WriteOnly }
func (a Access) CanWrite() bool { return a != ReadOnly }

func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(s) {
	case "rw", "readwrite", "read_write":
		return ReadWrite, nil
	case "ro", "readonly", "read_only":
		return ReadOnly, nil
	case "wo", "writeonly", "write_only":
		return WriteOnly, nil
	}
	return ReadWrite, fmt.Errorf("unknown access %q (expected RW, RO or WO)", s)
}
