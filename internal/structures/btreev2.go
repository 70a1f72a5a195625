// Copyright (c) 2025 SciGo HDF5 Library Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// Version 2 B-tree block signatures.
const (
	btreeV2HeaderSignature   = "BTHD"
	btreeV2InternalSignature = "BTIN"
	btreeV2LeafSignature     = "BTLF"
)

// Version 2 B-tree record types this reader decodes; unknown types are
// enumerated as raw byte runs.
const (
	BTreeV2RecordLinkName      uint8 = 5
	BTreeV2RecordCreationOrder uint8 = 6
	BTreeV2RecordAttrName      uint8 = 8
)

// BTreeV2Header is the BTHD block, read once and cached.
type BTreeV2Header struct {
	RecordType     uint8
	NodeSize       uint32
	RecordSize     uint16
	Depth          uint16
	SplitPercent   uint8
	MergePercent   uint8
	RootAddress    uint64
	RootNumRecords uint16
	TotalRecords   uint64
}

// BTreeV2Record is one record in key order. Raw always holds the on-disk
// encoding; the typed fields are filled for known record types.
type BTreeV2Record struct {
	Raw []byte

	// Link-name records (types 5 and 6).
	NameHash      uint32
	CreationOrder uint64
	HeapID        []byte
}

// BTreeV2 walks one version 2 B-tree. Node capacities and the
// variable-width record-count field sizes are derived once from the
// header: the count field of a child pointer at depth d is the minimum
// bytes that hold the maximum record count of a depth-d subtree node, and
// the sizing cascades from the leaves upward.
type BTreeV2 struct {
	Header *BTreeV2Header

	reader io.ReaderAt
	sb     *core.Superblock

	maxNumRec   []uint64 // max records in one node at depth d
	maxTotalRec []uint64 // max records in a whole depth-d subtree
}

// nodeOverhead is the fixed per-node byte count: signature (4), version
// (1), type (1), checksum (4).
const nodeOverhead = 10

// OpenBTreeV2 reads the header at address and precomputes the size
// cascade.
func OpenBTreeV2(r io.ReaderAt, address uint64, sb *core.Superblock) (*BTreeV2, error) {
	o := int(sb.OffsetSize)
	l := int(sb.LengthSize)
	headerSize := 4 + 1 + 1 + 4 + 2 + 2 + 1 + 1 + o + 2 + l + 4

	buf := make([]byte, headerSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("v2 B-tree header read failed", err)
	}

	if string(buf[0:4]) != btreeV2HeaderSignature {
		return nil, fmt.Errorf("%w: v2 B-tree header at %d", utils.ErrBadSignature, address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("%w: v2 B-tree version %d", utils.ErrUnsupportedVersion, buf[4])
	}

	h := &BTreeV2Header{RecordType: buf[5]}
	pos := 6
	h.NodeSize = sb.Endianness.Uint32(buf[pos:])
	pos += 4
	h.RecordSize = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.Depth = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.SplitPercent = buf[pos]
	h.MergePercent = buf[pos+1]
	pos += 2
	h.RootAddress = utils.ReadUint(buf[pos:], o, sb.Endianness)
	pos += o
	h.RootNumRecords = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.TotalRecords = utils.ReadUint(buf[pos:], l, sb.Endianness)

	if h.RecordSize == 0 || h.NodeSize <= nodeOverhead {
		return nil, fmt.Errorf("invalid v2 B-tree geometry: node=%d record=%d", h.NodeSize, h.RecordSize)
	}

	bt := &BTreeV2{Header: h, reader: r, sb: sb}
	bt.computeSizeCascade()
	return bt, nil
}

// computeSizeCascade fills maxNumRec/maxTotalRec for depths 1..Depth.
// Depth 1 is a leaf: (nodeSize - overhead) / recordSize records. An
// internal node at depth d holds R records and R+1 child pointers, each
// pointer an address plus the cascaded count fields, so its capacity
// follows from the depth d-1 entries.
func (bt *BTreeV2) computeSizeCascade() {
	depth := int(bt.Header.Depth)
	if depth == 0 {
		depth = 1
	}
	bt.maxNumRec = make([]uint64, depth+1)
	bt.maxTotalRec = make([]uint64, depth+1)

	usable := uint64(bt.Header.NodeSize - nodeOverhead)
	recSize := uint64(bt.Header.RecordSize)

	bt.maxNumRec[1] = usable / recSize
	bt.maxTotalRec[1] = bt.maxNumRec[1]

	for d := 2; d <= depth; d++ {
		ptr := bt.childPointerSize(d)
		bt.maxNumRec[d] = (usable - ptr) / (recSize + ptr)
		bt.maxTotalRec[d] = (bt.maxNumRec[d]+1)*bt.maxTotalRec[d-1] + bt.maxNumRec[d]
	}
}

// childPointerSize is the encoded size of one child pointer inside a node
// at depth d (pointing at depth d-1): address, record count, and, when the
// node sits above depth 1, the subtree-total count.
func (bt *BTreeV2) childPointerSize(d int) uint64 {
	size := uint64(bt.sb.OffsetSize) + uint64(utils.MinBytes(bt.maxNumRec[d-1]))
	if d > 2 {
		size += uint64(utils.MinBytes(bt.maxTotalRec[d-1]))
	}
	return size
}

// Records enumerates all records in key order.
func (bt *BTreeV2) Records() ([]BTreeV2Record, error) {
	if bt.Header.TotalRecords == 0 ||
		bt.Header.RootAddress == 0 || bt.Header.RootAddress == bt.sb.UndefinedOffset() {
		return nil, nil
	}
	return bt.walk(bt.Header.RootAddress, uint64(bt.Header.RootNumRecords), int(bt.Header.Depth))
}

// walk recurses preorder: child0, record0, child1, record1, ..., childN.
func (bt *BTreeV2) walk(address, numRecords uint64, depth int) ([]BTreeV2Record, error) {
	if depth == 0 {
		return bt.readLeaf(address, numRecords)
	}

	records, children, err := bt.readInternal(address, numRecords, depth)
	if err != nil {
		return nil, err
	}

	var out []BTreeV2Record
	for i, child := range children {
		sub, err := bt.walk(child.address, child.numRecords, depth-1)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		if i < len(records) {
			out = append(out, records[i])
		}
	}
	return out, nil
}

type btreeV2ChildPointer struct {
	address    uint64
	numRecords uint64
}

// readLeaf parses a BTLF node.
func (bt *BTreeV2) readLeaf(address, numRecords uint64) ([]BTreeV2Record, error) {
	buf := make([]byte, bt.Header.NodeSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := bt.reader.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("v2 B-tree leaf read failed", err)
	}
	if string(buf[0:4]) != btreeV2LeafSignature {
		return nil, fmt.Errorf("%w: v2 B-tree leaf at %d", utils.ErrBadSignature, address)
	}
	if buf[5] != bt.Header.RecordType {
		return nil, fmt.Errorf("v2 B-tree leaf record type %d, header says %d", buf[5], bt.Header.RecordType)
	}

	records := make([]BTreeV2Record, 0, numRecords)
	pos := 6
	for i := uint64(0); i < numRecords; i++ {
		raw := buf[pos : pos+int(bt.Header.RecordSize)]
		records = append(records, bt.decodeRecord(raw))
		pos += int(bt.Header.RecordSize)
	}
	return records, nil
}

// readInternal parses a BTIN node: records interleaved with child
// pointers, the pointers carrying the cascaded variable-width counts.
func (bt *BTreeV2) readInternal(address, numRecords uint64, depth int) ([]BTreeV2Record, []btreeV2ChildPointer, error) {
	buf := make([]byte, bt.Header.NodeSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := bt.reader.ReadAt(buf, int64(address)); err != nil {
		return nil, nil, utils.WrapError("v2 B-tree internal read failed", err)
	}
	if string(buf[0:4]) != btreeV2InternalSignature {
		return nil, nil, fmt.Errorf("%w: v2 B-tree internal at %d", utils.ErrBadSignature, address)
	}

	records := make([]BTreeV2Record, 0, numRecords)
	pos := 6
	for i := uint64(0); i < numRecords; i++ {
		raw := buf[pos : pos+int(bt.Header.RecordSize)]
		records = append(records, bt.decodeRecord(raw))
		pos += int(bt.Header.RecordSize)
	}

	// Children of this node sit at walk depth-1, which is cascade index
	// depth (the cascade counts leaves as 1).
	numSize := int(utils.MinBytes(bt.maxNumRec[depth]))
	totalSize := 0
	if depth > 1 {
		totalSize = int(utils.MinBytes(bt.maxTotalRec[depth]))
	}

	children := make([]btreeV2ChildPointer, 0, numRecords+1)
	for i := uint64(0); i <= numRecords; i++ {
		var p btreeV2ChildPointer
		p.address = utils.ReadUint(buf[pos:], int(bt.sb.OffsetSize), bt.sb.Endianness)
		pos += int(bt.sb.OffsetSize)
		p.numRecords = utils.ReadUint(buf[pos:], numSize, bt.sb.Endianness)
		pos += numSize
		pos += totalSize // subtree totals guide partial lookups, not full walks
		children = append(children, p)
	}

	return records, children, nil
}

// decodeRecord fills the typed view for known record types; unknown types
// keep only the raw bytes (the caller skips recordSize bytes either way).
func (bt *BTreeV2) decodeRecord(raw []byte) BTreeV2Record {
	rec := BTreeV2Record{Raw: append([]byte(nil), raw...)}

	switch bt.Header.RecordType {
	case BTreeV2RecordLinkName:
		if len(raw) >= 4 {
			rec.NameHash = bt.sb.Endianness.Uint32(raw[0:4])
			rec.HeapID = rec.Raw[4:]
		}
	case BTreeV2RecordCreationOrder:
		if len(raw) >= 8 {
			rec.CreationOrder = bt.sb.Endianness.Uint64(raw[0:8])
			rec.HeapID = rec.Raw[8:]
		}
	case BTreeV2RecordAttrName:
		if len(raw) >= 13 {
			rec.HeapID = rec.Raw[0:8]
			rec.CreationOrder = uint64(bt.sb.Endianness.Uint32(raw[9:13]))
			if len(raw) >= 17 {
				rec.NameHash = bt.sb.Endianness.Uint32(raw[13:17])
			}
		}
	}
	return rec
}
