package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

func TestFixedPointFullWidthRoundTrip(t *testing.T) {
	for _, width := range []uint8{1, 2, 4, 8} {
		d := &FixedPoint{Width: width, Order: binary.LittleEndian}
		max := utils.Undefined(width)

		for _, v := range []uint64{0, 1, 42, max / 2, max - 1} {
			buf := make([]byte, width)
			require.NoError(t, d.Encode(v, buf))

			got, err := d.Decode(buf)
			require.NoError(t, err)
			require.Equal(t, v, got, "width %d value %d", width, v)
		}
	}
}

func TestFixedPointByteExactness(t *testing.T) {
	// With bit offset 0 and full precision, decode followed by encode
	// reproduces the input bytes exactly.
	d := &FixedPoint{Width: 8, Order: binary.LittleEndian}
	in := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}

	v, err := d.Decode(in)
	require.NoError(t, err)

	out := make([]byte, 8)
	require.NoError(t, d.Encode(v, out))
	require.Equal(t, in, out)
}

func TestFixedPointSignExtension(t *testing.T) {
	tests := []struct {
		name string
		d    FixedPoint
		in   []byte
		want int64
	}{
		{
			name: "negative int8",
			d:    FixedPoint{Width: 1, Signed: true},
			in:   []byte{0xFE},
			want: -2,
		},
		{
			name: "negative int64",
			d:    FixedPoint{Width: 8, Signed: true},
			in:   []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			want: -1,
		},
		{
			name: "12-bit slice",
			d:    FixedPoint{Width: 2, Signed: true, BitPrecision: 12},
			in:   []byte{0xFF, 0x0F}, // all twelve bits set
			want: -1,
		},
		{
			name: "positive",
			d:    FixedPoint{Width: 8, Signed: true},
			in:   []byte{0x2A, 0, 0, 0, 0, 0, 0, 0},
			want: 42,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.d.DecodeInt(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFixedPointBitOffsetSlice(t *testing.T) {
	// Precision 4 at offset 4: the high nibble of one byte.
	d := &FixedPoint{Width: 1, BitOffset: 4, BitPrecision: 4}

	v, err := d.Decode([]byte{0xA0})
	require.NoError(t, err)
	require.Equal(t, uint64(0xA), v)

	buf := make([]byte, 1)
	require.NoError(t, d.Encode(0xA, buf))
	require.Equal(t, []byte{0xA0}, buf)
}

func TestFixedPointScalingProjection(t *testing.T) {
	// Width 4, little-endian, unsigned, bit offset 8, precision 0: the
	// full-width integer decodes unchanged and the decimal projection is
	// value / 2^8.
	d := &FixedPoint{Width: 4, Order: binary.LittleEndian, BitOffset: 8}

	v, err := d.Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Equal(t, uint64(4_294_967_295), v)
	require.Equal(t, "16777215.99609375", d.DecimalString(v))
}

func TestFixedPointDecimalStringPlain(t *testing.T) {
	d := &FixedPoint{Width: 8}
	require.Equal(t, "42", d.DecimalString(42))

	signed := &FixedPoint{Width: 8, Signed: true}
	require.Equal(t, "-2", signed.DecimalString(^uint64(0)-1))
}

func TestFixedPointStrictPad(t *testing.T) {
	d := &FixedPoint{Width: 1, BitOffset: 4, BitPrecision: 4, StrictPad: true}

	_, err := d.Decode([]byte{0xA1}) // low pad bits set but policy is zero
	require.ErrorIs(t, err, utils.ErrReservedBitsViolated)

	_, err = d.Decode([]byte{0xA0})
	require.NoError(t, err)

	ones := &FixedPoint{Width: 1, BitOffset: 4, BitPrecision: 4, LoPad: PadOne, StrictPad: true}
	_, err = ones.Decode([]byte{0xAF})
	require.NoError(t, err)
}

func TestFixedPointDescriptorErrors(t *testing.T) {
	_, err := (&FixedPoint{Width: 2, BitOffset: -1}).Decode([]byte{0, 0})
	require.ErrorIs(t, err, ErrNegativeBitOffset)

	_, err = (&FixedPoint{Width: 2, BitOffset: 8, BitPrecision: 12}).Decode([]byte{0, 0})
	require.ErrorIs(t, err, ErrPrecisionExceedsWidth)

	_, err = (&FixedPoint{Width: 2}).Decode([]byte{0})
	require.ErrorIs(t, err, utils.ErrTruncatedRead)
}

func TestFixedPointUndefined(t *testing.T) {
	d := &FixedPoint{Width: 4}
	require.True(t, d.IsUndefined([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	require.False(t, d.IsUndefined([]byte{0xFF, 0xFF, 0xFF, 0x7F}))
}
