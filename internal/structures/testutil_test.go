package structures

import (
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
)

// memFile is a minimal in-memory ReaderAt/WriterAt for structure tests.
type memFile struct {
	buf []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

// testSuperblock returns the default 8/8 write-side superblock.
func testSuperblock() *core.Superblock {
	sb, err := core.NewSuperblockV0(8, 8, 0, 0)
	if err != nil {
		panic(err)
	}
	return sb
}

// seqAllocator hands out fixed-size blocks at increasing offsets.
type seqAllocator struct {
	next uint64
	size uint64
}

func (a *seqAllocator) allocate() (uint64, error) {
	addr := a.next
	a.next += a.size
	return addr, nil
}
