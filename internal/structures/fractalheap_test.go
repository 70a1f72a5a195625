package structures

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// heapFixture describes a synthetic heap image for read-path tests.
type heapFixture struct {
	headerAddr        uint64
	startingBlockSize uint64
	maxDirectSize     uint64
	maxHeapBits       uint16
	tableWidth        uint16
	rootAddr          uint64
	currentRows       uint16
}

// writeHeapHeader serializes an FRHP block the way the parser expects it
// (8-byte offsets and lengths).
func writeHeapHeader(f *memFile, fx heapFixture) {
	le := binary.LittleEndian
	buf := make([]byte, 200)
	copy(buf[0:4], "FRHP")
	buf[4] = 0
	pos := 5

	offsetSize := (fx.maxHeapBits + 7) / 8
	lengthSize := utils.MinBytes(fx.maxDirectSize)
	le.PutUint16(buf[pos:], uint16(1+offsetSize)+uint16(lengthSize)) // heap id length
	pos += 2
	le.PutUint16(buf[pos:], 0) // filter info length
	pos += 2
	buf[pos] = 0 // flags: no checksums
	pos++
	le.PutUint32(buf[pos:], uint32(fx.maxDirectSize)) // max managed object size
	pos += 4
	pos += 8 // next huge id
	pos += 8 // huge btree address
	pos += 8 // free space amount
	pos += 8 // free space address
	le.PutUint64(buf[pos:], uint64(1)<<fx.maxHeapBits) // managed space
	pos += 8
	pos += 8 // allocated managed space
	pos += 8 // iterator offset
	le.PutUint64(buf[pos:], 1) // managed object count
	pos += 8
	pos += 32 // huge/tiny statistics
	le.PutUint16(buf[pos:], fx.tableWidth)
	pos += 2
	le.PutUint64(buf[pos:], fx.startingBlockSize)
	pos += 8
	le.PutUint64(buf[pos:], fx.maxDirectSize)
	pos += 8
	le.PutUint16(buf[pos:], fx.maxHeapBits)
	pos += 2
	le.PutUint16(buf[pos:], 1) // starting rows
	pos += 2
	le.PutUint64(buf[pos:], fx.rootAddr)
	pos += 8
	le.PutUint16(buf[pos:], fx.currentRows)

	_, _ = f.WriteAt(buf, int64(fx.headerAddr)) //nolint:gosec // test fixture
}

// writeDirectBlock lays an FHDB block of blockSize bytes; returns the
// data-region file offset.
func writeDirectBlock(f *memFile, addr, headerAddr, blockOffset, blockSize uint64, offsetFieldSize int) int {
	le := binary.LittleEndian
	buf := make([]byte, blockSize)
	copy(buf[0:4], "FHDB")
	buf[4] = 0
	le.PutUint64(buf[5:], headerAddr)
	utils.WriteUint(buf[13:], blockOffset, offsetFieldSize, le)
	_, _ = f.WriteAt(buf, int64(addr)) //nolint:gosec // test fixture
	return 13 + offsetFieldSize
}

func TestFractalHeapDirectRootResolution(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	fx := heapFixture{
		headerAddr:        1000,
		startingBlockSize: 512,
		maxDirectSize:     512,
		maxHeapBits:       16,
		tableWidth:        4,
		rootAddr:          2000,
		currentRows:       0,
	}
	writeHeapHeader(f, fx)
	headerSize := writeDirectBlock(f, 2000, 1000, 0, 512, 2)

	payload := []byte("managed-object-payload")
	copy(f.buf[2000+headerSize+40:], payload)

	heap, err := OpenFractalHeap(f, 1000, sb)
	require.NoError(t, err)
	require.Equal(t, uint8(2), heap.Header.HeapOffsetSize)
	require.Equal(t, uint8(2), heap.Header.HeapLengthSize)

	// Managed id: flag byte, 2-byte offset, 2-byte length. The linear
	// offset counts the block header bytes.
	id := make([]byte, 5)
	binary.LittleEndian.PutUint16(id[1:], uint16(headerSize+40))
	binary.LittleEndian.PutUint16(id[3:], uint16(len(payload)))

	got, err := heap.ReadObject(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFractalHeapIndirectResolution(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	// startingBlockSize 512, tableWidth 4, 16-bit heap: the id with
	// offset 600 resolves through the child covering [512, 1024).
	fx := heapFixture{
		headerAddr:        1000,
		startingBlockSize: 512,
		maxDirectSize:     1024,
		maxHeapBits:       16,
		tableWidth:        4,
		rootAddr:          2000,
		currentRows:       2,
	}
	writeHeapHeader(f, fx)

	// Indirect root: 2 rows x 4 children.
	le := binary.LittleEndian
	iblock := make([]byte, 5+8+2+8*8+4)
	copy(iblock[0:4], "FHIB")
	le.PutUint64(iblock[5:], 1000)
	// Block offset 0; children: [0]=3000, [1]=4000, rest unallocated.
	le.PutUint64(iblock[15:], 3000)
	le.PutUint64(iblock[23:], 4000)
	_, _ = f.WriteAt(iblock, 2000)

	writeDirectBlock(f, 3000, 1000, 0, 512, 2)
	headerSize := writeDirectBlock(f, 4000, 1000, 512, 512, 2)

	payload := make([]byte, 42)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	// In-block data index = 600 - 512 - headerSize.
	copy(f.buf[4000+int(600-512):], payload)

	heap, err := OpenFractalHeap(f, 1000, sb)
	require.NoError(t, err)

	id := make([]byte, 5)
	le.PutUint16(id[1:], 600)
	le.PutUint16(id[3:], 42)

	got, err := heap.ReadObject(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, 15, headerSize)
}

func TestFractalHeapUnallocatedChild(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	fx := heapFixture{
		headerAddr:        1000,
		startingBlockSize: 512,
		maxDirectSize:     1024,
		maxHeapBits:       16,
		tableWidth:        4,
		rootAddr:          2000,
		currentRows:       2,
	}
	writeHeapHeader(f, fx)

	iblock := make([]byte, 5+8+2+8*8+4)
	copy(iblock[0:4], "FHIB")
	binary.LittleEndian.PutUint64(iblock[5:], 1000)
	_, _ = f.WriteAt(iblock, 2000)

	heap, err := OpenFractalHeap(f, 1000, sb)
	require.NoError(t, err)

	id := make([]byte, 5)
	binary.LittleEndian.PutUint16(id[1:], 600)
	binary.LittleEndian.PutUint16(id[3:], 8)

	_, err = heap.ReadObject(id)
	require.ErrorIs(t, err, utils.ErrUnallocatedChildBlock)
}

func TestFractalHeapIDOutOfRange(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	fx := heapFixture{
		headerAddr:        1000,
		startingBlockSize: 512,
		maxDirectSize:     512,
		maxHeapBits:       10, // 1 KiB virtual space
		tableWidth:        4,
		rootAddr:          2000,
		currentRows:       0,
	}
	writeHeapHeader(f, fx)
	writeDirectBlock(f, 2000, 1000, 0, 512, 2)

	heap, err := OpenFractalHeap(f, 1000, sb)
	require.NoError(t, err)

	id := make([]byte, 5)
	binary.LittleEndian.PutUint16(id[1:], 1020)
	binary.LittleEndian.PutUint16(id[3:], 16) // 1020 + 16 > 1024

	_, err = heap.ReadObject(id)
	require.ErrorIs(t, err, utils.ErrHeapIDOutOfRange)
}

func TestFractalHeapTinyObject(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	fx := heapFixture{
		headerAddr:        1000,
		startingBlockSize: 512,
		maxDirectSize:     512,
		maxHeapBits:       16,
		tableWidth:        4,
		rootAddr:          2000,
		currentRows:       0,
	}
	writeHeapHeader(f, fx)

	heap, err := OpenFractalHeap(f, 1000, sb)
	require.NoError(t, err)

	id := append([]byte{HeapIDTypeTiny}, []byte("inline")...)
	got, err := heap.ReadObject(id)
	require.NoError(t, err)
	require.Equal(t, []byte("inline"), got)
}
