package writer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

func TestAllocatorPrelude(t *testing.T) {
	a := NewFileAllocator(8, nil)

	regions := a.Regions()
	require.Len(t, regions, 5)
	require.Equal(t, uint64(SuperblockOffset), regions[0].Offset)
	require.Equal(t, uint64(RootObjectHeaderOffset), regions[1].Offset)
	require.Equal(t, uint64(RootBTreeOffset), regions[2].Offset)
	require.Equal(t, uint64(RootHeapHeaderOffset), regions[3].Offset)
	require.Equal(t, uint64(RootHeapDataOffset), regions[4].Offset)

	require.Equal(t, uint64(GrowthZoneEnd), a.EndOfFile())
	require.NoError(t, a.ValidateDisjoint())
}

func TestAllocatorGrowthZoneThenEOF(t *testing.T) {
	a := NewFileAllocator(8, nil)

	// Four 272-byte slots fit the growth zone [800, 2048).
	var offsets []uint64
	for i := 0; i < 5; i++ {
		off, err := a.AllocateDatasetHeader("ds")
		require.NoError(t, err)
		offsets = append(offsets, off)
	}

	require.Equal(t, []uint64{800, 1072, 1344, 1616, 2048}, offsets)
	require.Equal(t, uint64(2048+272), a.EndOfFile())
	require.NoError(t, a.ValidateDisjoint())
}

func TestAllocatorSnodAndDataBlocks(t *testing.T) {
	a := NewFileAllocator(8, nil)

	snod, err := a.AllocateSnod()
	require.NoError(t, err)
	require.Equal(t, uint64(2048), snod)
	require.Equal(t, uint64(2048+328), a.EndOfFile())

	data, err := a.AllocateDataBlock("temperature", 8)
	require.NoError(t, err)
	require.Equal(t, uint64(2376), data)
	require.Equal(t, uint64(2384), a.EndOfFile())

	// End-of-file stays 8-aligned after odd-sized blocks.
	_, err = a.AllocateDataBlock("odd", 13)
	require.NoError(t, err)
	require.Equal(t, uint64(0), a.EndOfFile()%8)
	require.NoError(t, a.ValidateDisjoint())
}

func TestAllocatorGlobalHeapDoubling(t *testing.T) {
	a := NewFileAllocator(8, nil)

	var sizes []uint64
	for i := 0; i < 5; i++ {
		_, size, err := a.AllocateGlobalHeap()
		require.NoError(t, err)
		sizes = append(sizes, size)
	}
	require.Equal(t, []uint64{4096, 4096, 8192, 16384, 32768}, sizes)
	require.NoError(t, a.ValidateDisjoint())
}

func TestAllocatorLocalHeapExpansion(t *testing.T) {
	a := NewFileAllocator(8, nil)

	newAddr, err := a.ExpandLocalHeap(RootHeapDataOffset, RootHeapDataSize, 176)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), newAddr)

	// The old contents region stays reserved but abandoned.
	var abandoned *Region
	for _, r := range a.Regions() {
		if r.Offset == RootHeapDataOffset {
			rr := r
			abandoned = &rr
		}
	}
	require.NotNil(t, abandoned)
	require.True(t, abandoned.Abandoned)
	require.NoError(t, a.ValidateDisjoint())
}

func TestAllocatorIncreaseHeaderAllocation(t *testing.T) {
	a := NewFileAllocator(8, nil)

	off, err := a.AllocateDatasetHeader("ds")
	require.NoError(t, err)
	require.Equal(t, uint64(800), off)

	// Still fits the slot: no move.
	same, err := a.IncreaseHeaderAllocation("ds", 200)
	require.NoError(t, err)
	require.Equal(t, off, same)

	// Outgrows the slot: reallocated at end-of-file, old slot abandoned.
	moved, err := a.IncreaseHeaderAllocation("ds", 600)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), moved)
	require.NoError(t, a.ValidateDisjoint())

	_, err = a.IncreaseHeaderAllocation("missing", 100)
	require.Error(t, err)
}

func TestAllocatorOverflow(t *testing.T) {
	a := NewFileAllocator(4, nil)

	_, err := a.AllocateDataBlock("big", uint64(1)<<32)
	require.ErrorIs(t, err, utils.ErrAllocationOverflow)
}

func TestAllocatorZeroSize(t *testing.T) {
	a := NewFileAllocator(8, nil)
	_, err := a.AllocateDataBlock("empty", 0)
	require.Error(t, err)
}
