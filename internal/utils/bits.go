package utils

import (
	"encoding/binary"
	"math/bits"
)

// MinBytes returns the minimum number of bytes needed to hold value.
// Fractal-heap offsets, v2 B-tree record counts, and fixed-point
// precisions all size fields this way; keep the computation in one place.
func MinBytes(value uint64) uint8 {
	if value == 0 {
		return 1
	}
	//nolint:gosec // G115: bits.Len64 <= 64, result <= 8
	return uint8((bits.Len64(value) + 7) / 8)
}

// AlignUp8 rounds v up to the next 8-byte boundary.
func AlignUp8(v uint64) uint64 {
	return (v + 7) &^ 7
}

// Undefined returns the all-ones sentinel for the given field width.
// It denotes a null pointer or absent length throughout the file.
func Undefined(width uint8) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * uint(width))) - 1
}

// IsUndefined reports whether v is the all-ones sentinel at width.
func IsUndefined(v uint64, width uint8) bool {
	return v == Undefined(width)
}

// ReadUint reads a variable-width unsigned integer from data.
// Widths 1, 2, 4, and 8 use the fast paths; anything else is assembled
// byte by byte in the given order.
func ReadUint(data []byte, size int, order binary.ByteOrder) uint64 {
	if len(data) < size {
		return 0
	}

	switch size {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(order.Uint16(data[:2]))
	case 4:
		return uint64(order.Uint32(data[:4]))
	case 8:
		return order.Uint64(data[:8])
	default:
		var val uint64
		for i := 0; i < size && i < 8; i++ {
			if order == binary.LittleEndian {
				val |= uint64(data[i]) << (8 * i)
			} else {
				val = (val << 8) | uint64(data[i])
			}
		}
		return val
	}
}

// WriteUint writes a variable-width unsigned integer to buf.
func WriteUint(buf []byte, value uint64, size int, order binary.ByteOrder) {
	if len(buf) < size {
		size = len(buf)
	}

	switch size {
	case 1:
		buf[0] = byte(value)
	case 2:
		order.PutUint16(buf[:2], uint16(value)) //nolint:gosec // field width matches value range
	case 4:
		order.PutUint32(buf[:4], uint32(value)) //nolint:gosec // field width matches value range
	case 8:
		order.PutUint64(buf[:8], value)
	default:
		for i := 0; i < size && i < 8; i++ {
			if order == binary.LittleEndian {
				buf[i] = byte(value >> (8 * i))
			} else {
				buf[i] = byte(value >> (8 * (size - 1 - i)))
			}
		}
	}
}
