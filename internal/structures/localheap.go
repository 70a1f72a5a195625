// Package structures implements the file-resident containers of the
// format: the local heap, version 1 group B-tree and symbol-table nodes,
// the fractal heap, and the version 2 B-tree.
package structures

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// localHeapSignature is the magic for local heaps.
const localHeapSignature = "HEAP"

// localHeapFreeNull marks an empty free list in the heap header.
const localHeapFreeNull = 1

// LocalHeap is the per-group byte arena holding NUL-terminated link
// names. Entries are addressed by byte offset into the data segment.
//
// Header layout: signature "HEAP" (4), version 0 (1), reserved (3), data
// segment size (length-sized), free-list offset (length-sized), data
// segment address (offset-sized).
type LocalHeap struct {
	// Read-side state.
	Data        []byte
	DataAddress uint64

	// Write-side state. Offset 0 always holds a NUL so that link-name
	// offset 0 reads as the empty string; strings are packed at 8-byte
	// boundaries after it.
	segmentSize uint64
	used        uint64
	buf         []byte
	grow        LocalHeapGrowFunc
}

// LocalHeapGrowFunc reallocates the heap's data segment. It receives the
// old segment and the required new size, marks the old region abandoned,
// and returns the new segment's file offset.
type LocalHeapGrowFunc func(oldAddr, oldSize, newSize uint64) (uint64, error)

// LoadLocalHeap loads a local heap from the specified file address.
func LoadLocalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*LocalHeap, error) {
	headerSize := 8 + 2*int(sb.LengthSize) + int(sb.OffsetSize)

	headerBuf := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(headerBuf)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(headerBuf, int64(address)); err != nil {
		return nil, utils.WrapError("local heap header read failed", err)
	}

	if string(headerBuf[0:4]) != localHeapSignature {
		return nil, fmt.Errorf("%w: local heap at %d", utils.ErrBadSignature, address)
	}
	if headerBuf[4] != 0 {
		return nil, fmt.Errorf("%w: local heap version %d", utils.ErrUnsupportedVersion, headerBuf[4])
	}

	pos := 8
	segmentSize := utils.ReadUint(headerBuf[pos:], int(sb.LengthSize), sb.Endianness)
	pos += int(sb.LengthSize)
	pos += int(sb.LengthSize) // free-list offset
	dataAddr := utils.ReadUint(headerBuf[pos:], int(sb.OffsetSize), sb.Endianness)

	heap := &LocalHeap{
		DataAddress: dataAddr,
		segmentSize: segmentSize,
	}

	heap.Data = make([]byte, segmentSize)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(heap.Data, int64(dataAddr)); err != nil {
		return nil, utils.WrapError("local heap data read failed", err)
	}

	return heap, nil
}

// GetString retrieves the NUL-terminated string at offset.
func (h *LocalHeap) GetString(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", fmt.Errorf("heap offset %d beyond data segment (%d bytes)", offset, len(h.Data))
	}
	end := offset
	for end < uint64(len(h.Data)) && h.Data[end] != 0 {
		end++
	}
	if end >= uint64(len(h.Data)) {
		return "", fmt.Errorf("%w: string at heap offset %d not terminated", utils.ErrTruncatedRead, offset)
	}
	return string(h.Data[offset:end]), nil
}

// NewLocalHeap creates a writable heap whose data segment starts at
// dataAddr with the given size. Overflow doubles the segment through grow;
// the old region stays in the file as an abandoned block.
func NewLocalHeap(dataAddr, size uint64, grow LocalHeapGrowFunc) *LocalHeap {
	h := &LocalHeap{
		DataAddress: dataAddr,
		segmentSize: size,
		used:        8, // offset 0 reads as the empty string
		buf:         make([]byte, size),
		grow:        grow,
	}
	return h
}

// AddString appends a NUL-terminated string and returns its offset.
// Strings are placed at 8-byte boundaries.
func (h *LocalHeap) AddString(s string) (uint64, error) {
	need := utils.AlignUp8(uint64(len(s) + 1))

	for h.used+need > h.segmentSize {
		if h.grow == nil {
			return 0, fmt.Errorf("%w: local heap full (%d of %d bytes)",
				utils.ErrBufferOverflowOnWrite, h.used, h.segmentSize)
		}
		newSize := h.segmentSize * 2
		newAddr, err := h.grow(h.DataAddress, h.segmentSize, newSize)
		if err != nil {
			return 0, utils.WrapError("local heap expansion failed", err)
		}
		grown := make([]byte, newSize)
		copy(grown, h.buf)
		h.buf = grown
		h.DataAddress = newAddr
		h.segmentSize = newSize
	}

	offset := h.used
	copy(h.buf[offset:], s)
	h.used += need
	return offset, nil
}

// SegmentSize returns the current data segment size in bytes.
func (h *LocalHeap) SegmentSize() uint64 {
	return h.segmentSize
}

// String materializes a key for the write-side B-tree: reads back a name
// previously added with AddString.
func (h *LocalHeap) String(offset uint64) (string, error) {
	if h.buf == nil {
		return h.GetString(offset)
	}
	if offset >= uint64(len(h.buf)) {
		return "", fmt.Errorf("heap offset %d beyond segment", offset)
	}
	end := offset
	for end < uint64(len(h.buf)) && h.buf[end] != 0 {
		end++
	}
	return string(h.buf[offset:end]), nil
}

// WriteTo writes the heap header at headerAddr and the data segment at
// its current segment address.
func (h *LocalHeap) WriteTo(w io.WriterAt, headerAddr uint64, sb *core.Superblock) error {
	l := int(sb.LengthSize)
	o := int(sb.OffsetSize)
	header := make([]byte, 8+2*l+o)

	copy(header[0:4], localHeapSignature)
	pos := 8
	utils.WriteUint(header[pos:], h.segmentSize, l, sb.Endianness)
	pos += l
	utils.WriteUint(header[pos:], localHeapFreeNull, l, sb.Endianness)
	pos += l
	utils.WriteUint(header[pos:], h.DataAddress, o, sb.Endianness)

	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(header, int64(headerAddr)); err != nil {
		return utils.WrapError("local heap header write failed", err)
	}
	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(h.buf, int64(h.DataAddress)); err != nil {
		return utils.WrapError("local heap data write failed", err)
	}
	return nil
}
