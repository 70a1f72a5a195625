package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

func TestSuperblockV0RoundTrip(t *testing.T) {
	sb := testSuperblock()
	sb.RootObjectHeader = 96
	sb.RootBTree = 136
	sb.RootHeap = 680
	sb.EndOfFile = 2384

	f := &memFile{}
	require.NoError(t, sb.WriteTo(f))
	require.Len(t, f.buf, 96)

	got, err := ReadSuperblock(f)
	require.NoError(t, err)

	require.Equal(t, uint8(Version0), got.Version)
	require.Equal(t, uint8(8), got.OffsetSize)
	require.Equal(t, uint8(8), got.LengthSize)
	require.Equal(t, uint16(DefaultGroupLeafK), got.GroupLeafK)
	require.Equal(t, uint16(DefaultGroupInternalK), got.GroupInternalK)
	require.Equal(t, uint64(2384), got.EndOfFile)
	require.Equal(t, uint64(96), got.RootObjectHeader)
	require.Equal(t, uint64(136), got.RootBTree)
	require.Equal(t, uint64(680), got.RootHeap)
	require.True(t, utils.IsUndefined(got.FreeSpaceAddress, 8))
	require.True(t, utils.IsUndefined(got.DriverInfo, 8))
}

func TestSuperblockV1RoundTrip(t *testing.T) {
	sb := testSuperblock()
	sb.Version = Version1
	sb.IndexedStorageK = 32
	sb.RootObjectHeader = 100
	sb.EndOfFile = 4096

	f := &memFile{}
	require.NoError(t, sb.WriteTo(f))
	require.Len(t, f.buf, 100)

	got, err := ReadSuperblock(f)
	require.NoError(t, err)
	require.Equal(t, uint8(Version1), got.Version)
	require.Equal(t, uint16(32), got.IndexedStorageK)
	require.Equal(t, uint64(100), got.RootObjectHeader)
	require.Equal(t, uint64(4096), got.EndOfFile)
}

func TestSuperblockBadSignature(t *testing.T) {
	// The final signature byte is 0x0B instead of 0x0A.
	buf := make([]byte, 96)
	copy(buf, []byte{0x89, 0x48, 0x44, 0x46, 0x0D, 0x0A, 0x1A, 0x0B})

	_, err := ReadSuperblock(&memFile{buf: buf})
	require.ErrorIs(t, err, utils.ErrBadSignature)
}

func TestSuperblockUnsupportedVersion(t *testing.T) {
	buf := make([]byte, 96)
	copy(buf, Signature)
	buf[8] = 7

	_, err := ReadSuperblock(&memFile{buf: buf})
	require.ErrorIs(t, err, utils.ErrUnsupportedVersion)
}

func TestSuperblockReservedByteNonzero(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}
	require.NoError(t, sb.WriteTo(f))

	f.buf[11] = 1 // reserved
	_, err := ReadSuperblock(f)
	require.ErrorIs(t, err, utils.ErrReservedBitsViolated)
}

func TestSuperblockTooSmall(t *testing.T) {
	_, err := ReadSuperblock(&memFile{buf: []byte(Signature)})
	require.ErrorIs(t, err, utils.ErrTruncatedRead)
}

func TestSuperblockV2ReadOnly(t *testing.T) {
	buf := make([]byte, 48)
	copy(buf, Signature)
	buf[8] = Version2
	buf[9] = 8 // offset size
	buf[10] = 8
	// Base address 0, extension undefined, EOF 48, root header 48.
	for i := 20; i < 28; i++ {
		buf[i] = 0xFF
	}
	buf[28] = 48
	buf[36] = 48

	sb, err := ReadSuperblock(&memFile{buf: buf})
	require.NoError(t, err)
	require.Equal(t, uint8(Version2), sb.Version)
	require.Equal(t, uint64(48), sb.EndOfFile)
	require.Equal(t, uint64(48), sb.RootObjectHeader)

	require.ErrorIs(t, sb.WriteTo(&memFile{}), utils.ErrUnsupportedVersion)
}

func TestNewSuperblockV0Validation(t *testing.T) {
	_, err := NewSuperblockV0(3, 8, 0, 0)
	require.Error(t, err)
	_, err = NewSuperblockV0(8, 5, 0, 0)
	require.Error(t, err)
}
