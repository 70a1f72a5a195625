// Package hdf5v1 reads and writes HDF5 files of the version-1 superblock
// family: full read and write support for superblock versions 0/1 with
// old-style (symbol-table) groups and contiguous datasets, plus read-only
// support for superblock versions 2/3 and new-style (fractal heap + v2
// B-tree) groups.
package hdf5v1

import "github.com/scigolib/hdf5v1/internal/utils"

// Error kinds surfaced by the engine, re-exported for errors.Is matching.
// Format, allocation and handle-state failures wrap the matching kind;
// argument and lookup errors (an unknown child name, a buffer of the wrong
// size, a duplicate name) are plain errors that wrap none of these.
var (
	ErrBadSignature           = utils.ErrBadSignature
	ErrUnsupportedVersion     = utils.ErrUnsupportedVersion
	ErrReservedBitsViolated   = utils.ErrReservedBitsViolated
	ErrUnknownRequiredMessage = utils.ErrUnknownRequiredMessage
	ErrHeapIDOutOfRange       = utils.ErrHeapIDOutOfRange
	ErrUnallocatedChildBlock  = utils.ErrUnallocatedChildBlock
	ErrBTreeKeyOrder          = utils.ErrBTreeKeyOrder
	ErrAllocationOverflow     = utils.ErrAllocationOverflow
	ErrTruncatedRead          = utils.ErrTruncatedRead
	ErrBufferOverflowOnWrite  = utils.ErrBufferOverflowOnWrite
	ErrHandleClosed           = utils.ErrHandleClosed
	ErrHandlePoisoned         = utils.ErrHandlePoisoned
)
