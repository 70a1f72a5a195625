package structures

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalHeapAddAndReadBack(t *testing.T) {
	sb := testSuperblock()
	heap := NewLocalHeap(712, 88, nil)

	off1, err := heap.AddString("temperature")
	require.NoError(t, err)
	require.Equal(t, uint64(8), off1, "offset 0 is reserved for the empty string")

	off2, err := heap.AddString("pressure")
	require.NoError(t, err)
	require.Equal(t, uint64(24), off2, "strings pack at 8-byte boundaries")

	// Write the heap and re-load it through the read path.
	f := &memFile{}
	require.NoError(t, heap.WriteTo(f, 680, sb))

	loaded, err := LoadLocalHeap(f, 680, sb)
	require.NoError(t, err)

	s, err := loaded.GetString(off1)
	require.NoError(t, err)
	require.Equal(t, "temperature", s)

	s, err = loaded.GetString(off2)
	require.NoError(t, err)
	require.Equal(t, "pressure", s)

	s, err = loaded.GetString(0)
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestLocalHeapGrowthDoubles(t *testing.T) {
	grown := []uint64{}
	grow := func(oldAddr, oldSize, newSize uint64) (uint64, error) {
		grown = append(grown, newSize)
		return 10_000 * uint64(len(grown)), nil
	}

	heap := NewLocalHeap(712, 88, grow)

	// Sixteen-byte entries: five fit the 88-byte segment after the
	// reserved first slot; the sixth insertion doubles to 176, the
	// eleventh to 352.
	for i := 1; i <= 11; i++ {
		_, err := heap.AddString("dataset_" + string(rune('0'+i%10)) + "x")
		require.NoError(t, err)
	}

	require.Equal(t, []uint64{176, 352}, grown)
	require.Equal(t, uint64(352), heap.SegmentSize())
	require.Equal(t, uint64(20_000), heap.DataAddress)
}

func TestLocalHeapFullWithoutGrowth(t *testing.T) {
	heap := NewLocalHeap(0, 24, nil)
	_, err := heap.AddString("short") // 8 + 8 = 16 used
	require.NoError(t, err)
	_, err = heap.AddString("much_too_long_for_the_rest")
	require.Error(t, err)
}

func TestLocalHeapOffsetsSurviveGrowth(t *testing.T) {
	grow := func(oldAddr, oldSize, newSize uint64) (uint64, error) {
		return 5000, nil
	}
	heap := NewLocalHeap(712, 24, grow)

	off, err := heap.AddString("first")
	require.NoError(t, err)
	_, err = heap.AddString("second_entry_forcing_growth")
	require.NoError(t, err)

	s, err := heap.String(off)
	require.NoError(t, err)
	require.Equal(t, "first", s)
}
