// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// Fractal heap block signatures.
const (
	fractalHeapSignature   = "FRHP"
	directBlockSignature   = "FHDB"
	indirectBlockSignature = "FHIB"
)

// Heap id type flags (bits 4-5 of the leading byte; bits 6-7 carry the
// version, the low four bits are reserved).
const (
	HeapIDTypeManaged uint8 = 0x00
	HeapIDTypeHuge    uint8 = 0x10
	HeapIDTypeTiny    uint8 = 0x20
)

// FractalHeap is the read-only view over one fractal heap: header fields
// plus a block cache keyed by file offset. Entries never invalidate
// within a read handle.
type FractalHeap struct {
	Header *FractalHeapHeader

	reader     io.ReaderAt
	sb         *core.Superblock
	headerAddr uint64

	directCache   map[uint64]*DirectBlock
	indirectCache map[uint64]*IndirectBlock
}

// FractalHeapHeader is the FRHP block.
type FractalHeapHeader struct {
	HeapIDLen    uint16
	IOFiltersLen uint16
	Flags        uint8

	MaxManagedObjSize uint32

	FreeSpaceAmount      uint64
	FreeSpaceSectionAddr uint64

	ManagedObjSpaceSize uint64
	ManagedObjAllocSize uint64
	ManagedObjCount     uint64

	TableWidth            uint16
	StartingBlockSize     uint64
	MaxDirectBlockSize    uint64
	MaxHeapSizeBits       uint16
	StartRootIndirectRows uint16
	RootBlockAddr         uint64
	CurrentRowCount       uint16

	// Derived field widths.
	HeapOffsetSize       uint8
	HeapLengthSize       uint8
	ChecksumDirectBlocks bool
}

// HeapID is a parsed bit-packed object identifier.
type HeapID struct {
	Raw     []byte
	Version uint8
	Type    uint8
	Offset  uint64
	Length  uint64
}

// DirectBlock is one FHDB block; Data excludes the block header.
type DirectBlock struct {
	Address     uint64
	BlockOffset uint64
	Size        uint64
	HeaderSize  int
	Data        []byte
}

// IndirectBlock is one FHIB block: a (tableWidth x nrows) child pointer
// table. The single block-offset field names the heap address of the
// first child; each further child's offset is the running sum of prior
// block sizes.
type IndirectBlock struct {
	Address     uint64
	BlockOffset uint64
	NumRows     uint16
	Entries     []uint64
}

// OpenFractalHeap reads the heap header at address.
func OpenFractalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*FractalHeap, error) {
	header, err := parseFractalHeapHeader(r, address, sb)
	if err != nil {
		return nil, err
	}
	return &FractalHeap{
		Header:        header,
		reader:        r,
		sb:            sb,
		headerAddr:    address,
		directCache:   map[uint64]*DirectBlock{},
		indirectCache: map[uint64]*IndirectBlock{},
	}, nil
}

// parseFractalHeapHeader deserializes the FRHP block.
func parseFractalHeapHeader(r io.ReaderAt, address uint64, sb *core.Superblock) (*FractalHeapHeader, error) {
	o := int(sb.OffsetSize)
	l := int(sb.LengthSize)

	// Fixed fields (14) + huge-object fields (l + o: next id and B-tree
	// address) + free space (l + o) + statistics (8l) +
	// doubling table (8 + 2l + o) + checksum (4).
	headerSize := 14 + (l + o) + (l + o) + 8*l + (8 + 2*l + o) + 4

	buf := make([]byte, headerSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("fractal heap header read failed", err)
	}

	if string(buf[0:4]) != fractalHeapSignature {
		return nil, fmt.Errorf("%w: fractal heap at %d", utils.ErrBadSignature, address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("%w: fractal heap version %d", utils.ErrUnsupportedVersion, buf[4])
	}

	h := &FractalHeapHeader{}
	pos := 5

	h.HeapIDLen = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.IOFiltersLen = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.Flags = buf[pos]
	pos++
	h.ChecksumDirectBlocks = h.Flags&0x02 != 0

	h.MaxManagedObjSize = sb.Endianness.Uint32(buf[pos:])
	pos += 4

	pos += l // next huge object id
	pos += o // huge object v2 B-tree address

	h.FreeSpaceAmount = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	h.FreeSpaceSectionAddr = utils.ReadUint(buf[pos:], o, sb.Endianness)
	pos += o

	h.ManagedObjSpaceSize = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	h.ManagedObjAllocSize = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	pos += l // managed object iterator offset
	h.ManagedObjCount = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	pos += 4 * l // huge and tiny object statistics

	h.TableWidth = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.StartingBlockSize = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	h.MaxDirectBlockSize = utils.ReadUint(buf[pos:], l, sb.Endianness)
	pos += l
	h.MaxHeapSizeBits = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.StartRootIndirectRows = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.RootBlockAddr = utils.ReadUint(buf[pos:], o, sb.Endianness)
	pos += o
	h.CurrentRowCount = sb.Endianness.Uint16(buf[pos:])

	// Derived widths: the offset field spans the heap's virtual space,
	// the length field the largest storable object.
	h.HeapOffsetSize = uint8((h.MaxHeapSizeBits + 7) / 8) //nolint:gosec // bit counts are small
	maxLen := h.MaxDirectBlockSize
	if uint64(h.MaxManagedObjSize) < maxLen {
		maxLen = uint64(h.MaxManagedObjSize)
	}
	h.HeapLengthSize = utils.MinBytes(maxLen)

	return h, nil
}

// ParseHeapID unpacks a bit-packed heap id against this heap's widths.
func (fh *FractalHeap) ParseHeapID(raw []byte) (*HeapID, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("%w: empty heap id", utils.ErrTruncatedRead)
	}

	id := &HeapID{
		Raw:     raw,
		Version: (raw[0] & 0xC0) >> 6,
		Type:    raw[0] & 0x30,
	}
	if id.Version != 0 {
		return nil, fmt.Errorf("%w: heap id version %d", utils.ErrUnsupportedVersion, id.Version)
	}

	switch id.Type {
	case HeapIDTypeManaged:
		offSize := int(fh.Header.HeapOffsetSize)
		lenSize := int(fh.Header.HeapLengthSize)
		if len(raw) < 1+offSize+lenSize {
			return nil, fmt.Errorf("%w: managed heap id needs %d bytes, got %d",
				utils.ErrTruncatedRead, 1+offSize+lenSize, len(raw))
		}
		id.Offset = utils.ReadUint(raw[1:], offSize, fh.sb.Endianness)
		id.Length = utils.ReadUint(raw[1+offSize:], lenSize, fh.sb.Endianness)
	case HeapIDTypeTiny:
		id.Length = uint64(len(raw) - 1)
	}
	return id, nil
}

// ReadObject resolves a heap id to its object bytes.
func (fh *FractalHeap) ReadObject(raw []byte) ([]byte, error) {
	id, err := fh.ParseHeapID(raw)
	if err != nil {
		return nil, err
	}

	switch id.Type {
	case HeapIDTypeManaged:
		return fh.readManaged(id)
	case HeapIDTypeTiny:
		// Tiny objects live inline in the id itself.
		return append([]byte(nil), id.Raw[1:]...), nil
	default:
		return nil, fmt.Errorf("unsupported heap id type %#02x", id.Type)
	}
}

// readManaged walks the block tree to the direct block covering the id's
// linear offset.
func (fh *FractalHeap) readManaged(id *HeapID) ([]byte, error) {
	space := uint64(1) << fh.Header.MaxHeapSizeBits
	if id.Offset >= space || id.Offset+id.Length > space {
		return nil, fmt.Errorf("%w: offset %d length %d exceeds %d-bit heap",
			utils.ErrHeapIDOutOfRange, id.Offset, id.Length, fh.Header.MaxHeapSizeBits)
	}

	undef := fh.sb.UndefinedOffset()
	if fh.Header.RootBlockAddr == 0 || fh.Header.RootBlockAddr == undef {
		return nil, fmt.Errorf("%w: heap has no root block", utils.ErrUnallocatedChildBlock)
	}

	// Root is a direct block until the heap grows its first indirect row.
	if fh.Header.CurrentRowCount == 0 {
		dblock, err := fh.readDirectBlock(fh.Header.RootBlockAddr, fh.Header.StartingBlockSize)
		if err != nil {
			return nil, err
		}
		return fh.sliceObject(dblock, id)
	}

	return fh.resolveIndirect(fh.Header.RootBlockAddr, uint64(fh.Header.CurrentRowCount), id)
}

// rowBlockSize is the doubling rule: row r holds blocks of size
// startingBlockSize * 2^max(0, r-1).
func (fh *FractalHeap) rowBlockSize(row uint64) uint64 {
	if row <= 1 {
		return fh.Header.StartingBlockSize
	}
	return fh.Header.StartingBlockSize << (row - 1)
}

// resolveIndirect walks one indirect block: children are visited in table
// order, accumulating sizes from the block's own offset, and the walk
// recurses into the child whose range contains the id's offset.
func (fh *FractalHeap) resolveIndirect(addr, nrows uint64, id *HeapID) ([]byte, error) {
	iblock, err := fh.readIndirectBlock(addr, nrows)
	if err != nil {
		return nil, err
	}

	width := uint64(fh.Header.TableWidth)
	running := iblock.BlockOffset
	for i, childAddr := range iblock.Entries {
		row := uint64(i) / width
		size := fh.rowBlockSize(row)

		if id.Offset < running+size {
			if childAddr == 0 || childAddr == fh.sb.UndefinedOffset() {
				return nil, fmt.Errorf("%w: row %d column %d",
					utils.ErrUnallocatedChildBlock, row, uint64(i)%width)
			}
			if size <= fh.Header.MaxDirectBlockSize {
				dblock, err := fh.readDirectBlock(childAddr, size)
				if err != nil {
					return nil, err
				}
				return fh.sliceObject(dblock, id)
			}
			return fh.resolveIndirect(childAddr, fh.indirectRowsForSpan(size), id)
		}
		running += size
	}

	return nil, fmt.Errorf("%w: offset %d beyond indirect block rows", utils.ErrHeapIDOutOfRange, id.Offset)
}

// indirectRowsForSpan inverts the doubling table: the row count of a
// child indirect block whose covered span is known.
func (fh *FractalHeap) indirectRowsForSpan(span uint64) uint64 {
	width := uint64(fh.Header.TableWidth)
	var total uint64
	for rows := uint64(1); rows < 64; rows++ {
		total += width * fh.rowBlockSize(rows-1)
		if total >= span {
			return rows
		}
	}
	return 64
}

// sliceObject extracts the object's byte range from a direct block. Heap
// linear offsets count the block header bytes, so the first usable offset
// within a block is blockOffset + headerSize.
func (fh *FractalHeap) sliceObject(dblock *DirectBlock, id *HeapID) ([]byte, error) {
	if id.Offset < dblock.BlockOffset+uint64(dblock.HeaderSize) {
		return nil, fmt.Errorf("%w: offset %d inside block header", utils.ErrHeapIDOutOfRange, id.Offset)
	}
	rel := id.Offset - dblock.BlockOffset - uint64(dblock.HeaderSize)
	if rel+id.Length > uint64(len(dblock.Data)) {
		return nil, fmt.Errorf("%w: object [%d, +%d) beyond block of %d data bytes",
			utils.ErrHeapIDOutOfRange, id.Offset, id.Length, len(dblock.Data))
	}
	return append([]byte(nil), dblock.Data[rel:rel+id.Length]...), nil
}

// readDirectBlock reads and caches the FHDB block at address.
func (fh *FractalHeap) readDirectBlock(address, blockSize uint64) (*DirectBlock, error) {
	if cached, ok := fh.directCache[address]; ok {
		return cached, nil
	}

	buf := make([]byte, blockSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := fh.reader.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("direct block read failed", err)
	}

	if string(buf[0:4]) != directBlockSignature {
		return nil, fmt.Errorf("%w: direct block at %d", utils.ErrBadSignature, address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("%w: direct block version %d", utils.ErrUnsupportedVersion, buf[4])
	}

	o := int(fh.sb.OffsetSize)
	pos := 5
	heapAddr := utils.ReadUint(buf[pos:], o, fh.sb.Endianness)
	if heapAddr != fh.headerAddr {
		return nil, fmt.Errorf("direct block names heap header %d, expected %d", heapAddr, fh.headerAddr)
	}
	pos += o

	offSize := int(fh.Header.HeapOffsetSize)
	blockOffset := utils.ReadUint(buf[pos:], offSize, fh.sb.Endianness)
	pos += offSize

	headerSize := pos
	if fh.Header.ChecksumDirectBlocks {
		headerSize += 4
	}

	dataEnd := len(buf)
	dblock := &DirectBlock{
		Address:     address,
		BlockOffset: blockOffset,
		Size:        blockSize,
		HeaderSize:  headerSize,
		Data:        append([]byte(nil), buf[headerSize:dataEnd]...),
	}
	fh.directCache[address] = dblock
	return dblock, nil
}

// readIndirectBlock reads and caches the FHIB block at address.
func (fh *FractalHeap) readIndirectBlock(address, nrows uint64) (*IndirectBlock, error) {
	if cached, ok := fh.indirectCache[address]; ok {
		return cached, nil
	}

	o := int(fh.sb.OffsetSize)
	offSize := int(fh.Header.HeapOffsetSize)
	numEntries := int(nrows) * int(fh.Header.TableWidth)
	total := 5 + o + offSize + numEntries*o + 4

	buf := make([]byte, total)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := fh.reader.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("indirect block read failed", err)
	}

	if string(buf[0:4]) != indirectBlockSignature {
		return nil, fmt.Errorf("%w: indirect block at %d", utils.ErrBadSignature, address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("%w: indirect block version %d", utils.ErrUnsupportedVersion, buf[4])
	}

	pos := 5
	heapAddr := utils.ReadUint(buf[pos:], o, fh.sb.Endianness)
	if heapAddr != fh.headerAddr {
		return nil, fmt.Errorf("indirect block names heap header %d, expected %d", heapAddr, fh.headerAddr)
	}
	pos += o

	iblock := &IndirectBlock{
		Address: address,
		NumRows: uint16(nrows), //nolint:gosec // row counts are small
	}
	iblock.BlockOffset = utils.ReadUint(buf[pos:], offSize, fh.sb.Endianness)
	pos += offSize

	iblock.Entries = make([]uint64, numEntries)
	for i := 0; i < numEntries; i++ {
		iblock.Entries[i] = utils.ReadUint(buf[pos:], o, fh.sb.Endianness)
		pos += o
	}

	fh.indirectCache[address] = iblock
	return iblock, nil
}
