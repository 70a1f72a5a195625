package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// snodSignature is the magic for symbol table nodes.
const snodSignature = "SNOD"

// Symbol table entry cache types.
const (
	CacheTypeObject uint32 = 0 // plain object, scratch pad unused
	CacheTypeGroup  uint32 = 1 // sub-group, scratch pad caches B-tree + heap
)

// SymbolTableEntry names one link: a link-name offset into the owning
// group's local heap plus the target's object header offset. Cache type 1
// entries carry the sub-group's B-tree and local heap addresses in the
// scratch pad, saving one header read.
type SymbolTableEntry struct {
	LinkNameOffset uint64
	ObjectAddress  uint64
	CacheType      uint32

	// Scratch pad, cache type 1 only.
	BTreeAddress uint64
	HeapAddress  uint64
}

// entrySize returns the on-disk entry footprint.
func entrySize(sb *core.Superblock) int {
	return 2*int(sb.OffsetSize) + 4 + 4 + 16
}

// SymbolTableNode holds up to 2K entries sorted by link name; it is the
// leaf payload of a group B-tree.
type SymbolTableNode struct {
	Version uint8
	Entries []SymbolTableEntry
}

// SnodSize returns the allocated byte size of a node with the given
// capacity (8-byte header plus capacity entries).
func SnodSize(sb *core.Superblock, capacity uint16) uint64 {
	return 8 + uint64(capacity)*uint64(entrySize(sb))
}

// ParseSymbolTableNode parses the SNOD at address.
//
// Layout: signature "SNOD" (4), version 1 (1), reserved (1), symbol count
// (2), then entries: link name offset (offset-sized), object header
// address (offset-sized), cache type (4), reserved (4), scratch pad (16).
func ParseSymbolTableNode(r io.ReaderAt, address uint64, sb *core.Superblock) (*SymbolTableNode, error) {
	header := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(header)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("SNOD header read failed", err)
	}

	if string(header[0:4]) != snodSignature {
		return nil, fmt.Errorf("%w: SNOD at %d", utils.ErrBadSignature, address)
	}
	if header[4] != 1 {
		return nil, fmt.Errorf("%w: SNOD version %d", utils.ErrUnsupportedVersion, header[4])
	}

	numSymbols := sb.Endianness.Uint16(header[6:8])
	node := &SymbolTableNode{Version: 1}
	if numSymbols == 0 {
		return node, nil
	}

	esize := entrySize(sb)
	data := utils.GetBuffer(int(numSymbols) * esize)
	defer utils.ReleaseBuffer(data)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(data, int64(address)+8); err != nil {
		return nil, utils.WrapError("SNOD entries read failed", err)
	}

	o := int(sb.OffsetSize)
	pos := 0
	for i := uint16(0); i < numSymbols; i++ {
		var e SymbolTableEntry
		e.LinkNameOffset = utils.ReadUint(data[pos:], o, sb.Endianness)
		pos += o
		e.ObjectAddress = utils.ReadUint(data[pos:], o, sb.Endianness)
		pos += o
		e.CacheType = sb.Endianness.Uint32(data[pos:])
		pos += 8 // cache type + reserved
		if e.CacheType == CacheTypeGroup {
			e.BTreeAddress = utils.ReadUint(data[pos:], o, sb.Endianness)
			e.HeapAddress = utils.ReadUint(data[pos+o:], o, sb.Endianness)
		}
		pos += 16
		node.Entries = append(node.Entries, e)
	}

	return node, nil
}

// WriteAt writes the node at address, zero-padding unused entry slots up
// to capacity.
func (stn *SymbolTableNode) WriteAt(w io.WriterAt, address uint64, capacity uint16, sb *core.Superblock) error {
	if len(stn.Entries) > int(capacity) {
		return fmt.Errorf("%w: SNOD holds %d entries, capacity %d",
			utils.ErrBufferOverflowOnWrite, len(stn.Entries), capacity)
	}

	esize := entrySize(sb)
	buf := make([]byte, 8+int(capacity)*esize)

	copy(buf[0:4], snodSignature)
	buf[4] = 1
	sb.Endianness.PutUint16(buf[6:8], uint16(len(stn.Entries))) //nolint:gosec // capacity bounds the count

	o := int(sb.OffsetSize)
	pos := 8
	for _, e := range stn.Entries {
		utils.WriteUint(buf[pos:], e.LinkNameOffset, o, sb.Endianness)
		pos += o
		utils.WriteUint(buf[pos:], e.ObjectAddress, o, sb.Endianness)
		pos += o
		sb.Endianness.PutUint32(buf[pos:], e.CacheType)
		pos += 8 // cache type + reserved
		if e.CacheType == CacheTypeGroup {
			utils.WriteUint(buf[pos:], e.BTreeAddress, o, sb.Endianness)
			utils.WriteUint(buf[pos+o:], e.HeapAddress, o, sb.Endianness)
		}
		pos += 16
	}

	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(buf, int64(address)); err != nil {
		return utils.WrapError("SNOD write failed", err)
	}
	return nil
}
