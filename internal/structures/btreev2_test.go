package structures

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// writeBTreeV2Header serializes a BTHD block for link-name records.
func writeBTreeV2Header(f *memFile, addr uint64, nodeSize uint32, recordSize uint16, depth uint16, rootAddr uint64, rootRecords uint16, total uint64) {
	le := binary.LittleEndian
	buf := make([]byte, 4+1+1+4+2+2+1+1+8+2+8+4)
	copy(buf[0:4], "BTHD")
	buf[4] = 0
	buf[5] = BTreeV2RecordLinkName
	pos := 6
	le.PutUint32(buf[pos:], nodeSize)
	pos += 4
	le.PutUint16(buf[pos:], recordSize)
	pos += 2
	le.PutUint16(buf[pos:], depth)
	pos += 2
	buf[pos] = 100 // split percent
	buf[pos+1] = 40
	pos += 2
	le.PutUint64(buf[pos:], rootAddr)
	pos += 8
	le.PutUint16(buf[pos:], rootRecords)
	pos += 2
	le.PutUint64(buf[pos:], total)

	_, _ = f.WriteAt(buf, int64(addr)) //nolint:gosec // test fixture
}

// linkNameRecord builds one type-5 record: 4-byte hash + 7-byte heap id.
func linkNameRecord(hash uint32, tag byte) []byte {
	rec := make([]byte, 11)
	binary.LittleEndian.PutUint32(rec[0:4], hash)
	for i := 4; i < 11; i++ {
		rec[i] = tag
	}
	return rec
}

func writeLeaf(f *memFile, addr uint64, nodeSize uint32, records [][]byte) {
	buf := make([]byte, nodeSize)
	copy(buf[0:4], "BTLF")
	buf[4] = 0
	buf[5] = BTreeV2RecordLinkName
	pos := 6
	for _, rec := range records {
		copy(buf[pos:], rec)
		pos += len(rec)
	}
	_, _ = f.WriteAt(buf, int64(addr)) //nolint:gosec // test fixture
}

func TestBTreeV2LeafRootEnumeration(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	records := [][]byte{
		linkNameRecord(0x100, 0xA1),
		linkNameRecord(0x200, 0xA2),
		linkNameRecord(0x300, 0xA3),
	}
	writeBTreeV2Header(f, 1000, 512, 11, 0, 2000, 3, 3)
	writeLeaf(f, 2000, 512, records)

	bt, err := OpenBTreeV2(f, 1000, sb)
	require.NoError(t, err)
	require.Equal(t, uint16(0), bt.Header.Depth)
	require.Equal(t, uint64(3), bt.Header.TotalRecords)

	got, err := bt.Records()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		require.Equal(t, records[i], rec.Raw)
		require.Equal(t, binary.LittleEndian.Uint32(records[i][0:4]), rec.NameHash)
		require.Equal(t, records[i][4:], rec.HeapID)
	}
}

func TestBTreeV2InternalEnumeration(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	// Depth 1: two leaves around one separator record. The child-pointer
	// record counts are sized from the leaf capacity: (512-10)/11 = 45
	// records, so one byte each.
	writeBTreeV2Header(f, 1000, 512, 11, 1, 2000, 1, 5)

	leaf1 := [][]byte{linkNameRecord(0x10, 1), linkNameRecord(0x20, 2)}
	leaf2 := [][]byte{linkNameRecord(0x40, 4), linkNameRecord(0x50, 5)}
	writeLeaf(f, 3000, 512, leaf1)
	writeLeaf(f, 4000, 512, leaf2)

	le := binary.LittleEndian
	node := make([]byte, 512)
	copy(node[0:4], "BTIN")
	node[4] = 0
	node[5] = BTreeV2RecordLinkName
	pos := 6
	copy(node[pos:], linkNameRecord(0x30, 3)) // separator
	pos += 11
	le.PutUint64(node[pos:], 3000) // child 0
	pos += 8
	node[pos] = 2 // two records
	pos++
	le.PutUint64(node[pos:], 4000) // child 1
	pos += 8
	node[pos] = 2
	_, _ = f.WriteAt(node, 2000)

	bt, err := OpenBTreeV2(f, 1000, sb)
	require.NoError(t, err)

	got, err := bt.Records()
	require.NoError(t, err)
	require.Len(t, got, 5)

	hashes := make([]uint32, len(got))
	for i, rec := range got {
		hashes[i] = rec.NameHash
	}
	require.Equal(t, []uint32{0x10, 0x20, 0x30, 0x40, 0x50}, hashes,
		"preorder walk must yield records in key order")
}

func TestBTreeV2EmptyTree(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}
	writeBTreeV2Header(f, 1000, 512, 11, 0, ^uint64(0), 0, 0)

	bt, err := OpenBTreeV2(f, 1000, sb)
	require.NoError(t, err)

	got, err := bt.Records()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBTreeV2BadSignature(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{buf: make([]byte, 64)}
	copy(f.buf, "XXXX")

	_, err := OpenBTreeV2(f, 0, sb)
	require.ErrorIs(t, err, utils.ErrBadSignature)
}
