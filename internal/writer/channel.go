package writer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// ByteChannel is the positioned I/O contract the engine consumes. All
// reads and writes are absolute; the engine owns the position, so
// streaming-only sinks are rejected by construction.
type ByteChannel interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
}

// FileChannel adapts an *os.File to the ByteChannel contract.
type FileChannel struct {
	*os.File
}

// Size returns the file's current byte length.
func (fc FileChannel) Size() (int64, error) {
	fi, err := fc.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// MemChannel is an in-memory ByteChannel backed by a growable byte slice.
type MemChannel struct {
	buf []byte
}

// NewMemChannel returns an empty in-memory channel.
func NewMemChannel() *MemChannel {
	return &MemChannel{}
}

// NewMemChannelFrom returns a channel over an existing byte image.
func NewMemChannelFrom(data []byte) *MemChannel {
	return &MemChannel{buf: data}
}

// ReadAt implements io.ReaderAt.
func (m *MemChannel) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *MemChannel) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

// Size returns the current byte length.
func (m *MemChannel) Size() (int64, error) {
	return int64(len(m.buf)), nil
}

// Bytes returns the backing image.
func (m *MemChannel) Bytes() []byte {
	return m.buf
}

// PendingWriter defers writes: WriteAt collects byte runs in memory and
// Flush pushes them to the channel in offset order. Readers of the
// underlying channel see only flushed state.
type PendingWriter struct {
	ch      ByteChannel
	pending []pendingBlock
	log     logrus.FieldLogger
}

type pendingBlock struct {
	offset uint64
	data   []byte
}

// NewPendingWriter wraps a channel. The logger is optional; nil discards.
func NewPendingWriter(ch ByteChannel, log logrus.FieldLogger) *PendingWriter {
	if log == nil {
		l := logrus.New()
		l.SetOutput(discardWriter{})
		log = l
	}
	return &PendingWriter{ch: ch, log: log}
}

// WriteAt buffers one byte run.
func (pw *PendingWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}
	pw.pending = append(pw.pending, pendingBlock{
		offset: uint64(off),
		data:   append([]byte(nil), p...),
	})
	return len(p), nil
}

// Pending returns the number of buffered writes.
func (pw *PendingWriter) Pending() int {
	return len(pw.pending)
}

// Flush pushes every buffered run to the channel in offset order. Of runs
// that start at the same offset, the later buffer wins (a structure
// rewritten before flush); where runs with different starts overlap, the
// one starting higher is written last.
func (pw *PendingWriter) Flush() error {
	blocks := pw.pending
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].offset < blocks[j].offset })

	var bytes int
	for _, b := range blocks {
		//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
		n, err := pw.ch.WriteAt(b.data, int64(b.offset))
		if err != nil {
			return utils.WrapError("channel write failed", err)
		}
		if n != len(b.data) {
			return fmt.Errorf("%w: wrote %d of %d bytes at %d",
				utils.ErrBufferOverflowOnWrite, n, len(b.data), b.offset)
		}
		bytes += n
	}

	pw.log.WithFields(logrus.Fields{"blocks": len(blocks), "bytes": bytes}).Debug("flushed metadata")
	pw.pending = nil
	return nil
}
