package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// DataspaceType represents the type of dataspace.
type DataspaceType uint8

// Dataspace type constants define the dimensionality of datasets.
const (
	DataspaceScalar DataspaceType = 0 // Scalar (single value).
	DataspaceSimple DataspaceType = 1 // Simple (N-dimensional array).
	DataspaceNull   DataspaceType = 2 // Null (no data).
)

// DataspaceMessage represents an HDF5 dataspace: rank plus per-dimension
// size, with optional per-dimension maxima for resizable datasets.
type DataspaceMessage struct {
	Version    uint8
	Type       DataspaceType
	Dimensions []uint64
	MaxDims    []uint64
}

// NewScalarDataspace returns a rank-0 dataspace treated as one element.
func NewScalarDataspace() *DataspaceMessage {
	return &DataspaceMessage{Version: 1, Type: DataspaceScalar, Dimensions: []uint64{1}}
}

// NewSimpleDataspace returns an N-dimensional dataspace.
func NewSimpleDataspace(dims []uint64, maxDims []uint64) (*DataspaceMessage, error) {
	if len(dims) == 0 {
		return nil, errors.New("dimensions cannot be empty (use a scalar dataspace)")
	}
	if len(maxDims) > 0 && len(maxDims) != len(dims) {
		return nil, fmt.Errorf("maxDims length %d must match dims length %d", len(maxDims), len(dims))
	}
	return &DataspaceMessage{
		Version:    1,
		Type:       DataspaceSimple,
		Dimensions: append([]uint64(nil), dims...),
		MaxDims:    append([]uint64(nil), maxDims...),
	}, nil
}

// ParseDataspaceMessage parses a dataspace message (versions 1 and 2).
//
// Version 1 layout: version(1), dimensionality(1), flags(1), reserved(5),
// then 8-byte dimensions, then 8-byte max dimensions when flags bit 0 is
// set. Version 2 drops the reserved run and adds a type byte.
func ParseDataspaceMessage(data []byte) (*DataspaceMessage, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: dataspace message too short", utils.ErrTruncatedRead)
	}

	version := data[0]
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: dataspace version %d", utils.ErrUnsupportedVersion, version)
	}

	rank := int(data[1])
	flags := data[2]
	hasMaxDims := flags&0x01 != 0

	ds := &DataspaceMessage{Version: version}

	var offset int
	if version == 1 {
		offset = 8
	} else {
		offset = 4
		if data[3] == uint8(DataspaceNull) {
			ds.Type = DataspaceNull
			return ds, nil
		}
	}

	if rank == 0 {
		ds.Type = DataspaceScalar
		ds.Dimensions = []uint64{1}
		return ds, nil
	}
	ds.Type = DataspaceSimple

	need := offset + rank*8
	if hasMaxDims {
		need += rank * 8
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: dataspace message needs %d bytes, got %d",
			utils.ErrTruncatedRead, need, len(data))
	}

	ds.Dimensions = make([]uint64, rank)
	for i := 0; i < rank; i++ {
		ds.Dimensions[i] = utils.ReadUint(data[offset:], 8, leOrder)
		offset += 8
	}

	if hasMaxDims {
		ds.MaxDims = make([]uint64, rank)
		for i := 0; i < rank; i++ {
			ds.MaxDims[i] = utils.ReadUint(data[offset:], 8, leOrder)
			offset += 8
		}
	}

	return ds, nil
}

// encodeDataspaceBody serializes the version 1 layout.
func encodeDataspaceBody(body any, _ *Superblock) ([]byte, error) {
	ds, ok := body.(*DataspaceMessage)
	if !ok {
		return nil, fmt.Errorf("dataspace body has type %T", body)
	}

	rank := len(ds.Dimensions)
	if ds.Type == DataspaceScalar {
		rank = 0
	}

	flags := uint8(0)
	if len(ds.MaxDims) > 0 {
		flags |= 0x01
	}

	size := 8 + rank*8
	if flags&0x01 != 0 {
		size += rank * 8
	}
	buf := make([]byte, size)
	buf[0] = 1
	buf[1] = uint8(rank) //nolint:gosec // rank is bounded by the format (<= 32)
	buf[2] = flags

	offset := 8
	if ds.Type != DataspaceScalar {
		for _, dim := range ds.Dimensions {
			utils.WriteUint(buf[offset:], dim, 8, leOrder)
			offset += 8
		}
		for _, dim := range ds.MaxDims {
			utils.WriteUint(buf[offset:], dim, 8, leOrder)
			offset += 8
		}
	}
	return buf, nil
}

// TotalElements calculates total number of elements in the dataspace.
func (ds *DataspaceMessage) TotalElements() uint64 {
	switch ds.Type {
	case DataspaceNull:
		return 0
	case DataspaceScalar:
		return 1
	}
	total := uint64(1)
	for _, dim := range ds.Dimensions {
		total *= dim
	}
	return total
}

// String returns a human-readable dataspace description.
func (ds *DataspaceMessage) String() string {
	switch ds.Type {
	case DataspaceScalar:
		return "scalar"
	case DataspaceNull:
		return "null"
	default:
		return fmt.Sprintf("%dD array %v", len(ds.Dimensions), ds.Dimensions)
	}
}
