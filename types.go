package hdf5v1

import (
	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/writer"
)

// MemChannel is an in-memory ByteChannel, handy for tests and for
// building file images before persisting them.
type MemChannel = writer.MemChannel

// NewMemChannel returns an empty in-memory channel.
func NewMemChannel() *MemChannel {
	return writer.NewMemChannel()
}

// NewMemChannelFrom returns a channel over an existing byte image.
func NewMemChannelFrom(data []byte) *MemChannel {
	return writer.NewMemChannelFrom(data)
}

// Aliases surface the descriptor types the public API trades in while
// their implementations stay internal.
type (
	// Datatype is the tagged-union element descriptor (one of the twelve
	// datatype classes).
	Datatype = core.Datatype

	// Dataspace is the rank-and-dimensions shape descriptor.
	Dataspace = core.DataspaceMessage

	// CompoundMember is one field of a compound datatype.
	CompoundMember = core.CompoundMember

	// CompoundField is one decoded member of a compound cell.
	CompoundField = core.CompoundField

	// RecordMapper converts compound member bytes to host values by field
	// name; see Dataset.ReadRecords.
	RecordMapper = core.RecordMapper

	// StrPad is the string padding kind.
	StrPad = core.StrPad
)

// String padding kinds.
const (
	StrPadNullTerm = core.StrPadNullTerm
	StrPadNullPad  = core.StrPadNullPad
	StrPadSpacePad = core.StrPadSpacePad
)

// NewFixedDatatype returns a little-endian integer descriptor.
func NewFixedDatatype(size uint32, signed bool) *Datatype {
	return core.NewFixedDatatype(size, signed)
}

// NewFloatDatatype returns an IEEE 754 descriptor (size 4 or 8).
func NewFloatDatatype(size uint32) (*Datatype, error) {
	return core.NewFloatDatatype(size)
}

// NewStringDatatype returns a fixed-length string descriptor.
func NewStringDatatype(size uint32, pad StrPad) *Datatype {
	return core.NewStringDatatype(size, pad)
}

// NewVarLenStringDatatype returns a variable-length string descriptor for
// the file's offset width.
func (f *File) NewVarLenStringDatatype() *Datatype {
	return core.NewVarLenStringDatatype(f.sb.OffsetSize)
}

// NewCompoundDatatype returns a compound descriptor; totalSize is the
// in-file element stride.
func NewCompoundDatatype(totalSize uint32, members []CompoundMember) *Datatype {
	return core.NewCompoundDatatype(totalSize, members)
}

// NewScalarDataspace returns a rank-0 dataspace.
func NewScalarDataspace() *Dataspace {
	return core.NewScalarDataspace()
}

// NewSimpleDataspace returns an N-dimensional dataspace; maxDims may be
// nil for a fixed shape.
func NewSimpleDataspace(dims, maxDims []uint64) (*Dataspace, error) {
	return core.NewSimpleDataspace(dims, maxDims)
}
