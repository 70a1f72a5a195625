package core

import (
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// DataLayoutClass identifies how raw dataset bytes are stored.
type DataLayoutClass uint8

// Data layout storage classes.
const (
	LayoutCompact    DataLayoutClass = 0
	LayoutContiguous DataLayoutClass = 1
	LayoutChunked    DataLayoutClass = 2
)

// DataLayoutMessage describes where a dataset's raw bytes live. Versions
// 1-3 parse; only version 3 contiguous is written. Chunked layouts are
// parsed so the reader can report them, but chunked storage itself is out
// of scope.
type DataLayoutMessage struct {
	Version uint8
	Class   DataLayoutClass

	// Contiguous storage.
	DataAddress uint64
	DataSize    uint64

	// Compact storage.
	CompactData []byte

	// Chunked storage (parse only).
	ChunkBTreeAddress uint64
	ChunkDims         []uint32
}

// NewContiguousLayout returns a version 3 contiguous layout message.
func NewContiguousLayout(dataAddress, dataSize uint64) *DataLayoutMessage {
	return &DataLayoutMessage{
		Version:     3,
		Class:       LayoutContiguous,
		DataAddress: dataAddress,
		DataSize:    dataSize,
	}
}

// ParseDataLayoutMessage parses a data layout message, versions 1-3.
//
// Versions 1/2: version(1), dimensionality(1), class(1), reserved(5), then
// an address (except for compact) and dimensionality 4-byte sizes, one more
// for chunked layouts; compact adds a size-prefixed data run. Version 3:
// version(1), class(1), then class-specific fields.
func ParseDataLayoutMessage(data []byte, sb *Superblock) (*DataLayoutMessage, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: data layout message too short", utils.ErrTruncatedRead)
	}

	version := data[0]
	switch version {
	case 1, 2:
		return parseDataLayoutV1V2(data, sb)
	case 3:
		return parseDataLayoutV3(data, sb)
	default:
		return nil, fmt.Errorf("%w: data layout version %d", utils.ErrUnsupportedVersion, version)
	}
}

func parseDataLayoutV1V2(data []byte, sb *Superblock) (*DataLayoutMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: data layout v1/v2 header truncated", utils.ErrTruncatedRead)
	}
	m := &DataLayoutMessage{Version: data[0], Class: DataLayoutClass(data[2])}
	rank := int(data[1])
	pos := 8

	o := int(sb.OffsetSize)
	if m.Class != LayoutCompact {
		if len(data) < pos+o {
			return nil, fmt.Errorf("%w: data layout address truncated", utils.ErrTruncatedRead)
		}
		addr := sb.ReadOffset(data[pos:])
		if m.Class == LayoutContiguous {
			m.DataAddress = addr
		} else {
			m.ChunkBTreeAddress = addr
		}
		pos += o
	}

	dims := rank
	if m.Class == LayoutChunked {
		dims++ // trailing element-size pseudo-dimension
	}
	if len(data) < pos+dims*4 {
		return nil, fmt.Errorf("%w: data layout dimensions truncated", utils.ErrTruncatedRead)
	}
	sizes := make([]uint32, dims)
	total := uint64(1)
	for i := 0; i < dims; i++ {
		sizes[i] = sb.Endianness.Uint32(data[pos:])
		total *= uint64(sizes[i])
		pos += 4
	}

	switch m.Class {
	case LayoutContiguous:
		m.DataSize = total
	case LayoutChunked:
		m.ChunkDims = sizes
	case LayoutCompact:
		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: compact data size truncated", utils.ErrTruncatedRead)
		}
		csize := sb.Endianness.Uint32(data[pos:])
		pos += 4
		if len(data) < pos+int(csize) {
			return nil, fmt.Errorf("%w: compact data truncated", utils.ErrTruncatedRead)
		}
		m.CompactData = append([]byte(nil), data[pos:pos+int(csize)]...)
	}
	return m, nil
}

func parseDataLayoutV3(data []byte, sb *Superblock) (*DataLayoutMessage, error) {
	m := &DataLayoutMessage{Version: 3, Class: DataLayoutClass(data[1])}
	pos := 2
	o := int(sb.OffsetSize)
	l := int(sb.LengthSize)

	switch m.Class {
	case LayoutCompact:
		if len(data) < pos+2 {
			return nil, fmt.Errorf("%w: compact layout truncated", utils.ErrTruncatedRead)
		}
		csize := int(sb.Endianness.Uint16(data[pos:]))
		pos += 2
		if len(data) < pos+csize {
			return nil, fmt.Errorf("%w: compact data truncated", utils.ErrTruncatedRead)
		}
		m.CompactData = append([]byte(nil), data[pos:pos+csize]...)

	case LayoutContiguous:
		if len(data) < pos+o+l {
			return nil, fmt.Errorf("%w: contiguous layout truncated", utils.ErrTruncatedRead)
		}
		m.DataAddress = sb.ReadOffset(data[pos:])
		m.DataSize = sb.ReadLength(data[pos+o:])

	case LayoutChunked:
		if len(data) < pos+1 {
			return nil, fmt.Errorf("%w: chunked layout truncated", utils.ErrTruncatedRead)
		}
		rank := int(data[pos])
		pos++
		if len(data) < pos+o+rank*4 {
			return nil, fmt.Errorf("%w: chunked layout truncated", utils.ErrTruncatedRead)
		}
		m.ChunkBTreeAddress = sb.ReadOffset(data[pos:])
		pos += o
		m.ChunkDims = make([]uint32, rank)
		for i := 0; i < rank; i++ {
			m.ChunkDims[i] = sb.Endianness.Uint32(data[pos:])
			pos += 4
		}

	default:
		return nil, fmt.Errorf("%w: data layout class %d", utils.ErrUnsupportedVersion, m.Class)
	}
	return m, nil
}

// encodeDataLayoutBody serializes the version 3 contiguous layout. Other
// classes are read-only.
func encodeDataLayoutBody(body any, sb *Superblock) ([]byte, error) {
	m, ok := body.(*DataLayoutMessage)
	if !ok {
		return nil, fmt.Errorf("data layout body has type %T", body)
	}
	if m.Class != LayoutContiguous {
		return nil, fmt.Errorf("only contiguous layout is writable, got class %d", m.Class)
	}

	buf := make([]byte, 2+int(sb.OffsetSize)+int(sb.LengthSize))
	buf[0] = 3
	buf[1] = byte(LayoutContiguous)
	sb.WriteOffset(buf[2:], m.DataAddress)
	sb.WriteLength(buf[2+sb.OffsetSize:], m.DataSize)
	return buf, nil
}
