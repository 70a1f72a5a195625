package hdf5v1

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/structures"
	"github.com/scigolib/hdf5v1/internal/utils"
	"github.com/scigolib/hdf5v1/internal/writer"
)

// CreateOptions configures a new file. Zero values take the defaults of
// the version-0 superblock family: 8-byte offsets and lengths, leaf K 4,
// internal K 16.
type CreateOptions struct {
	OffsetSize     uint8 // 4 or 8
	LengthSize     uint8 // 4 or 8
	GroupLeafK     uint16
	GroupInternalK uint16

	// Logger receives allocator and flush tracing; nil discards.
	Logger logrus.FieldLogger
}

// Create lays out a new file over the channel. The offset and length
// sizes are fixed here and size every address and length the engine
// emits. Metadata is deferred: structures are laid out in allocator order
// and flushed to the channel on Flush or Close.
func Create(ch ByteChannel, opts CreateOptions) (*File, error) {
	if opts.OffsetSize == 0 {
		opts.OffsetSize = 8
	}
	if opts.LengthSize == 0 {
		opts.LengthSize = 8
	}

	sb, err := core.NewSuperblockV0(opts.OffsetSize, opts.LengthSize, opts.GroupLeafK, opts.GroupInternalK)
	if err != nil {
		return nil, err
	}
	sb.RootObjectHeader = writer.RootObjectHeaderOffset
	sb.RootBTree = writer.RootBTreeOffset
	sb.RootHeap = writer.RootHeapHeaderOffset

	alloc := writer.NewFileAllocator(opts.OffsetSize, opts.Logger)
	pw := writer.NewPendingWriter(ch, opts.Logger)

	f := &File{
		ch:          ch,
		sb:          sb,
		headerCache: map[uint64]*core.ObjectHeader{},
		gheapCache:  map[uint64]*core.GlobalHeapCollection{},
		fheapCache:  map[uint64]*structures.FractalHeap{},
		alloc:       alloc,
		pw:          pw,
		writable:    true,
	}
	f.gheapW = core.NewGlobalHeapWriter(sb, alloc.AllocateGlobalHeap)

	rootHeap := structures.NewLocalHeap(writer.RootHeapDataOffset, writer.RootHeapDataSize, alloc.ExpandLocalHeap)
	rootDir := structures.NewGroupDirectory(sb, rootHeap, writer.RootBTreeOffset,
		alloc.AllocateSnod, f.allocBTreeNode)

	f.root = &Group{
		file:           f,
		name:           "/",
		dir:            rootDir,
		headerAddr:     writer.RootObjectHeaderOffset,
		headerSlot:     writer.RootObjectHeaderSize,
		heapHeaderAddr: writer.RootHeapHeaderOffset,
	}

	return f, nil
}

// CreateFile creates a new file on disk.
func CreateFile(path string, opts CreateOptions) (*File, error) {
	//nolint:gosec // G304: creating a caller-named HDF5 file is the point
	osf, err := os.Create(path)
	if err != nil {
		return nil, utils.WrapError("file create failed", err)
	}
	f, err := Create(writer.FileChannel{File: osf}, opts)
	if err != nil {
		_ = osf.Close()
		return nil, err
	}
	return f, nil
}

// allocBTreeNode reserves one directory B-tree node block.
func (f *File) allocBTreeNode() (uint64, error) {
	return f.alloc.AllocateBTreeNode(structures.BTreeNodeSize(f.sb, f.sb.GroupInternalK))
}

// Allocator exposes the write handle's region bookkeeping (read handles
// return nil).
func (f *File) Allocator() *writer.FileAllocator {
	return f.alloc
}

// PutVarLen stores a variable-length payload in the global heap and
// returns the encoded cell: element count, collection address, object
// index, sized by the file's offset width.
func (f *File) PutVarLen(payload []byte, count uint32) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if !f.writable {
		return nil, utils.WrapError("variable-length write on read handle", ErrHandleClosed)
	}

	addr, index, err := f.gheapW.Put(payload)
	if err != nil {
		return nil, f.poison(err)
	}

	o := int(f.sb.OffsetSize)
	cell := make([]byte, 4+o+4)
	f.sb.Endianness.PutUint32(cell[0:4], count)
	f.sb.WriteOffset(cell[4:], addr)
	f.sb.Endianness.PutUint32(cell[4+o:], index)
	return cell, nil
}

// PutVarLenString stores one string payload and returns its cell bytes.
func (f *File) PutVarLenString(s string) ([]byte, error) {
	return f.PutVarLen([]byte(s), uint32(len(s))) //nolint:gosec // payload sizes fit
}

// Flush serializes all pending metadata and pushes it to the channel:
// each group's object header, local heap, and directory, then its dataset
// headers (allocating continuations as needed) and subgroups, then the
// global heap collections, and the superblock last with the final
// end-of-file offset. Dataset data is already buffered by WriteAll; the
// buffered runs reach the channel in offset order. A failed flush poisons
// the handle.
func (f *File) Flush() error {
	if err := f.check(); err != nil {
		return err
	}
	if !f.writable {
		return nil
	}

	if err := f.flushGroup(f.root); err != nil {
		return f.poison(err)
	}

	if err := f.gheapW.WriteTo(f.pw); err != nil {
		return f.poison(err)
	}

	f.sb.EndOfFile = f.alloc.EndOfFile()
	if err := f.sb.WriteTo(f.pw); err != nil {
		return f.poison(err)
	}

	if err := f.pw.Flush(); err != nil {
		return f.poison(err)
	}
	return nil
}

// flushGroup writes one group's object header, local heap, and directory,
// then recurses into subgroups and serializes member dataset headers.
func (f *File) flushGroup(g *Group) error {
	oh := core.NewObjectHeader()
	if _, err := oh.AddMessage(core.MsgSymbolTable, &core.SymbolTableMessage{
		BTreeAddress: g.dir.RootAddress(),
		HeapAddress:  g.heapHeaderAddr,
	}); err != nil {
		return err
	}
	contAlloc := func(size uint64) (uint64, error) {
		return f.alloc.AllocateContinuation(g.name, size)
	}
	if err := oh.WriteTo(f.pw, g.headerAddr, g.headerSlot, contAlloc, f.sb); err != nil {
		return err
	}

	if err := g.dir.Heap().WriteTo(f.pw, g.heapHeaderAddr, f.sb); err != nil {
		return err
	}
	if err := g.dir.WriteTo(f.pw); err != nil {
		return err
	}

	for _, ds := range g.datasets {
		if err := f.flushDataset(ds); err != nil {
			return err
		}
	}
	for _, sg := range g.subgroups {
		if err := f.flushGroup(sg); err != nil {
			return err
		}
	}
	return nil
}

// flushDataset lays the dataset's object header into its slot, spilling
// into a continuation when attributes push it past 272 bytes.
func (f *File) flushDataset(d *Dataset) error {
	oh := core.NewObjectHeader()

	if _, err := oh.AddMessage(core.MsgDataspace, d.ds); err != nil {
		return err
	}
	if _, err := oh.AddMessage(core.MsgDatatype, d.dt); err != nil {
		return err
	}
	if _, err := oh.AddMessage(core.MsgFillValue, &core.FillValueMessage{
		Version:        2,
		SpaceAllocTime: 1,
		WriteTime:      0,
	}); err != nil {
		return err
	}

	layout := d.layout
	if layout == nil {
		addr := d.dataAddr
		if !d.dataWritten {
			addr = f.sb.UndefinedOffset()
		}
		layout = core.NewContiguousLayout(addr, d.dataSize)
	}
	if _, err := oh.AddMessage(core.MsgDataLayout, layout); err != nil {
		return err
	}

	if _, err := oh.AddMessage(core.MsgModificationTime, &core.ModificationTimeMessage{
		Seconds: d.modTime,
	}); err != nil {
		return err
	}

	for _, a := range d.attrs {
		if _, err := oh.AddMessage(core.MsgAttribute, a); err != nil {
			return err
		}
	}

	contAlloc := func(size uint64) (uint64, error) {
		return f.alloc.AllocateContinuation(d.name, size)
	}
	return oh.WriteTo(f.pw, d.headerAddr, writer.DatasetHeaderSlotSize, contAlloc, f.sb)
}
