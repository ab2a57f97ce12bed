package device

// Bits are numbered LSB0 across the whole payload unless MSB0 is asked for.
// With LittleEndian bit 0 lives in byte 0, with BigEndian it lives in the
// last byte. MSB0 numbers the same bits from the other end: MSB0 bit i is
// LSB0 bit 8*len(buf)-1-i, and a field's most significant bit is its first.

func byteIndex(n int, bit uint, order ByteOrder) int {
	if order == BigEndian {
		return n - 1 - int(bit/8)
	}
	return int(bit / 8)
}

// lsb0 maps a range given in bit order to the equivalent LSB0 range.
func lsb0(buf []byte, bit BitOrder, start, end uint) (uint, uint) {
	if bit == MSB0 {
		n := uint(len(buf)) * 8
		return n - end, n - start
	}
	return start, end
}

// LoadBits returns the bits [start,end) of buf as an unsigned value. The
// range must be at most 64 bits wide and lie inside buf.
func LoadBits(buf []byte, order ByteOrder, bit BitOrder, start, end uint) uint64 {
	start, end = lsb0(buf, bit, start, end)
	var v uint64
	for i := start; i < end; i++ {
		b := buf[byteIndex(len(buf), i, order)]
		if b>>(i%8)&1 == 1 {
			v |= 1 << (i - start)
		}
	}
	return v
}

// StoreBits writes the low end-start bits of v into [start,end) of buf.
// Bits outside the range are left untouched.
func StoreBits(buf []byte, order ByteOrder, bit BitOrder, start, end uint, v uint64) {
	start, end = lsb0(buf, bit, start, end)
	for i := start; i < end; i++ {
		idx := byteIndex(len(buf), i, order)
		mask := byte(1) << (i % 8)
		if v>>(i-start)&1 == 1 {
			buf[idx] |= mask
		} else {
			buf[idx] &^= mask
		}
	}
}

// SignExtend interprets the low width bits of v as two's complement.
func SignExtend(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	shift := 64 - width
	return int64(v<<shift) >> shift
}

// Mask returns a value with the low width bits set.
func Mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}

// ByteLen is the number of bytes needed to hold bits.
func ByteLen(bits uint) int {
	return int((bits + 7) / 8)
}
