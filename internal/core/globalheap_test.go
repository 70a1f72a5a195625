package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// stepAllocator hands out fixed-size collection blocks at increasing
// offsets, doubling like the file allocator does.
type stepAllocator struct {
	next  uint64
	count int
}

func (a *stepAllocator) allocate() (uint64, uint64, error) {
	shift := a.count - 1
	if shift < 0 {
		shift = 0
	}
	size := uint64(4096) << uint(shift)
	addr := a.next
	a.next += size
	a.count++
	return addr, size, nil
}

func TestGlobalHeapPutGetRoundTrip(t *testing.T) {
	sb := testSuperblock()
	alloc := &stepAllocator{next: 4096}
	w := NewGlobalHeapWriter(sb, alloc.allocate)

	payloads := [][]byte{
		[]byte("hello"),
		[]byte("a longer variable-length payload"),
		{0x01},
	}

	type key struct {
		addr  uint64
		index uint32
	}
	keys := make([]key, 0, len(payloads))
	for _, p := range payloads {
		addr, index, err := w.Put(p)
		require.NoError(t, err)
		keys = append(keys, key{addr, index})
	}

	// All three fit the first collection with consecutive indices.
	require.Equal(t, uint32(1), keys[0].index)
	require.Equal(t, uint32(2), keys[1].index)
	require.Equal(t, uint32(3), keys[2].index)
	require.Equal(t, keys[0].addr, keys[1].addr)

	f := &memFile{}
	require.NoError(t, w.WriteTo(f))

	gc, err := ReadGlobalHeapCollection(f, keys[0].addr, sb)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), gc.Size)

	for i, k := range keys {
		obj, err := gc.GetObject(k.index)
		require.NoError(t, err)
		require.Equal(t, payloads[i], obj.Data)
	}

	_, err = gc.GetObject(99)
	require.Error(t, err)
}

func TestGlobalHeapCollectionOverflow(t *testing.T) {
	sb := testSuperblock()
	alloc := &stepAllocator{next: 4096}
	w := NewGlobalHeapWriter(sb, alloc.allocate)

	// Each 1 KiB payload occupies 1040 bytes with its header; the fourth
	// one cannot fit the remaining space of a 4 KiB collection.
	payload := make([]byte, 1024)
	var addrs []uint64
	for i := 0; i < 5; i++ {
		addr, _, err := w.Put(payload)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	require.Equal(t, addrs[0], addrs[2])
	require.NotEqual(t, addrs[0], addrs[3], "fourth payload should open a new collection")

	collections := w.Collections()
	require.Len(t, collections, 2)
	require.Equal(t, uint64(4096), collections[0][1])
	require.Equal(t, uint64(4096), collections[1][1], "first expansion keeps the 4 KiB bound")
}

func TestGlobalHeapBadSignature(t *testing.T) {
	sb := testSuperblock()
	buf := make([]byte, 64)
	copy(buf, "NOPE")

	_, err := ReadGlobalHeapCollection(&memFile{buf: buf}, 0, sb)
	require.ErrorIs(t, err, utils.ErrBadSignature)
}
