// Package core provides low-level HDF5 file format parsing and generation.
// It handles superblocks, object headers, messages, datatypes, and the
// global heap without CGo dependencies.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// leOrder is the file byte order; every multi-byte integer in the format
// family handled here is little-endian.
var leOrder binary.ByteOrder = binary.LittleEndian

// Codec-level failures for malformed fixed-point descriptors.
var (
	ErrPrecisionExceedsWidth = errors.New("bit precision exceeds byte width")
	ErrNegativeBitOffset     = errors.New("negative bit offset")
)

// PadBit is the fill value for bits outside the precision window.
type PadBit uint8

// Pad bit policies for the unused low/high bits of a fixed-point cell.
const (
	PadZero PadBit = 0
	PadOne  PadBit = 1
)

// FixedPoint describes an integer cell of configurable byte width.
// Every persisted address, length, and fixed-point dataset element is one
// of these. BitOffset names the lowest significant bit within the byte
// run; BitPrecision counts the bits that carry value. BitPrecision 0 means
// full width; BitOffset then acts as a binary scale factor for the decimal
// projection (value / 2^BitOffset).
type FixedPoint struct {
	Width        uint8 // Byte width (1..8)
	Signed       bool
	Order        binary.ByteOrder
	BitOffset    int
	BitPrecision int
	LoPad        PadBit
	HiPad        PadBit
	StrictPad    bool // Fail on pad-bit mismatch instead of ignoring
}

// order falls back to little-endian, the file default.
func (d *FixedPoint) order() binary.ByteOrder {
	if d.Order == nil {
		return binary.LittleEndian
	}
	return d.Order
}

// precision returns the effective bit precision (0 means full width).
func (d *FixedPoint) precision() int {
	if d.BitPrecision == 0 {
		return int(d.Width) * 8
	}
	return d.BitPrecision
}

// validate checks descriptor consistency before any decode or encode.
func (d *FixedPoint) validate() error {
	if d.Width == 0 || d.Width > 8 {
		return fmt.Errorf("invalid fixed-point width: %d", d.Width)
	}
	if d.BitOffset < 0 {
		return ErrNegativeBitOffset
	}
	if d.BitPrecision < 0 {
		return ErrPrecisionExceedsWidth
	}
	if d.BitPrecision > 0 && d.BitOffset+d.BitPrecision > int(d.Width)*8 {
		return ErrPrecisionExceedsWidth
	}
	if d.BitPrecision == 0 && d.BitOffset >= int(d.Width)*8 {
		return ErrPrecisionExceedsWidth
	}
	return nil
}

// Decode extracts the unsigned value of the cell.
//
// The raw bytes are read in the descriptor's order into a 64-bit scratch
// integer. With an explicit precision, the bit slice
// [BitOffset, BitOffset+BitPrecision) is extracted after the pad bits are
// checked; with precision 0 the full-width value is returned unchanged
// (the bit offset is a scaling convention, see DecimalString).
func (d *FixedPoint) Decode(data []byte) (uint64, error) {
	if err := d.validate(); err != nil {
		return 0, err
	}
	if len(data) < int(d.Width) {
		return 0, fmt.Errorf("%w: fixed-point cell needs %d bytes, got %d",
			utils.ErrTruncatedRead, d.Width, len(data))
	}

	raw := utils.ReadUint(data, int(d.Width), d.order())

	if d.BitPrecision == 0 {
		return raw, nil
	}

	if d.StrictPad {
		if err := d.checkPadBits(raw); err != nil {
			return 0, err
		}
	}

	mask := precisionMask(d.BitPrecision)
	return (raw >> uint(d.BitOffset)) & mask, nil
}

// DecodeInt decodes the cell and sign-extends over the effective precision.
func (d *FixedPoint) DecodeInt(data []byte) (int64, error) {
	v, err := d.Decode(data)
	if err != nil {
		return 0, err
	}
	if !d.Signed {
		//nolint:gosec // G115: caller asked for the two's-complement view
		return int64(v), nil
	}

	prec := d.precision()
	if prec < 64 && v&(uint64(1)<<uint(prec-1)) != 0 {
		v |= ^precisionMask(prec)
	}
	//nolint:gosec // G115: sign extension above makes this conversion exact
	return int64(v), nil
}

// Encode is the inverse of Decode: it places value at the descriptor's bit
// offset, fills the pad bits per policy, and writes Width bytes in order.
func (d *FixedPoint) Encode(value uint64, buf []byte) error {
	if err := d.validate(); err != nil {
		return err
	}
	if len(buf) < int(d.Width) {
		return fmt.Errorf("%w: fixed-point cell needs %d bytes, got %d",
			utils.ErrBufferOverflowOnWrite, d.Width, len(buf))
	}

	var raw uint64
	if d.BitPrecision == 0 {
		raw = value
		if d.Width < 8 {
			raw &= utils.Undefined(d.Width)
		}
	} else {
		mask := precisionMask(d.BitPrecision)
		raw = (value & mask) << uint(d.BitOffset)
		if d.LoPad == PadOne && d.BitOffset > 0 {
			raw |= precisionMask(d.BitOffset)
		}
		hi := d.BitOffset + d.BitPrecision
		if d.HiPad == PadOne && hi < int(d.Width)*8 {
			raw |= precisionMask(int(d.Width)*8-hi) << uint(hi)
		}
	}

	utils.WriteUint(buf, raw, int(d.Width), d.order())
	return nil
}

// IsUndefined reports whether the cell holds the all-ones sentinel that
// denotes a null pointer or absent length. Callers must test this before
// treating the cell as a numeric.
func (d *FixedPoint) IsUndefined(data []byte) bool {
	if len(data) < int(d.Width) {
		return false
	}
	for _, b := range data[:d.Width] {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// DecimalString renders the decoded value as a decimal, applying the
// bit-offset scaling convention: with precision 0 and a non-zero bit
// offset, the projection is value / 2^BitOffset. The fraction always
// terminates (power-of-two denominator); trailing zeros are trimmed.
func (d *FixedPoint) DecimalString(value uint64) string {
	if d.BitPrecision != 0 || d.BitOffset == 0 {
		if d.Signed {
			//nolint:gosec // G115: rendering the signed view of the cell
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%d", value)
	}

	num := new(big.Int).SetUint64(value)
	if d.Signed {
		//nolint:gosec // G115: rendering the signed view of the cell
		num = big.NewInt(int64(value))
	}
	den := new(big.Int).Lsh(big.NewInt(1), uint(d.BitOffset))
	rat := new(big.Rat).SetFrac(num, den)

	s := rat.FloatString(d.BitOffset)
	return trimDecimal(s)
}

// BigInt returns the decoded value as an arbitrary-precision integer.
func (d *FixedPoint) BigInt(value uint64) *big.Int {
	if d.Signed {
		//nolint:gosec // G115: two's-complement view requested
		return big.NewInt(int64(value))
	}
	return new(big.Int).SetUint64(value)
}

// checkPadBits validates the bits outside the precision window.
func (d *FixedPoint) checkPadBits(raw uint64) error {
	if d.BitOffset > 0 {
		lo := raw & precisionMask(d.BitOffset)
		want := uint64(0)
		if d.LoPad == PadOne {
			want = precisionMask(d.BitOffset)
		}
		if lo != want {
			return fmt.Errorf("%w: low pad bits %#x", utils.ErrReservedBitsViolated, lo)
		}
	}

	hi := d.BitOffset + d.BitPrecision
	total := int(d.Width) * 8
	if hi < total {
		bits := (raw >> uint(hi)) & precisionMask(total-hi)
		want := uint64(0)
		if d.HiPad == PadOne {
			want = precisionMask(total - hi)
		}
		if bits != want {
			return fmt.Errorf("%w: high pad bits %#x", utils.ErrReservedBitsViolated, bits)
		}
	}
	return nil
}

// precisionMask returns a mask of n low bits (n in 1..64).
func precisionMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// trimDecimal strips trailing fraction zeros and a dangling point.
func trimDecimal(s string) string {
	dot := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return s
	}
	end := len(s)
	for end > dot+1 && s[end-1] == '0' {
		end--
	}
	if end == dot+1 {
		end = dot
	}
	return s[:end]
}
