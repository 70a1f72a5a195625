package hdf5v1

import (
	"fmt"
	"os"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/structures"
	"github.com/scigolib/hdf5v1/internal/utils"
	"github.com/scigolib/hdf5v1/internal/writer"
)

// ByteChannel is the positioned I/O contract a File runs over.
type ByteChannel = writer.ByteChannel

// Object is anything reachable through a group: a Group or a Dataset.
type Object interface {
	Name() string
}

// File is one open handle: the byte channel, the superblock, the live
// object graph, and the per-handle caches. A handle is single-threaded;
// share it across goroutines only with external mutual exclusion.
type File struct {
	ch   ByteChannel
	sb   *core.Superblock
	root *Group

	// Per-handle caches; entries never invalidate within the handle.
	headerCache map[uint64]*core.ObjectHeader
	gheapCache  map[uint64]*core.GlobalHeapCollection
	fheapCache  map[uint64]*structures.FractalHeap

	// Write-side state, nil on read handles.
	alloc  *writer.FileAllocator
	pw     *writer.PendingWriter
	gheapW *core.GlobalHeapWriter

	writable bool
	closed   bool
	poisoned bool
}

// Open opens a channel for reading and parses the superblock and root
// group. Superblock versions 0-3 are accepted; the handle is read-only.
func Open(ch ByteChannel) (*File, error) {
	sb, err := core.ReadSuperblock(ch)
	if err != nil {
		return nil, err
	}

	f := &File{
		ch:          ch,
		sb:          sb,
		headerCache: map[uint64]*core.ObjectHeader{},
		gheapCache:  map[uint64]*core.GlobalHeapCollection{},
		fheapCache:  map[uint64]*structures.FractalHeap{},
	}

	root, err := f.loadGroup("/", sb.RootObjectHeader, sb.RootBTree, sb.RootHeap)
	if err != nil {
		return nil, utils.WrapError("root group load failed", err)
	}
	f.root = root

	return f, nil
}

// OpenFile opens a file on disk for reading.
func OpenFile(path string) (*File, error) {
	//nolint:gosec // G304: opening a caller-named HDF5 file is the point
	osf, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}
	f, err := Open(writer.FileChannel{File: osf})
	if err != nil {
		_ = osf.Close()
		return nil, err
	}
	return f, nil
}

// Root returns the root group.
func (f *File) Root() *Group {
	return f.root
}

// Superblock exposes the file-level metadata.
func (f *File) Superblock() *core.Superblock {
	return f.sb
}

// check gates every operation on handle state.
func (f *File) check() error {
	if f.closed {
		return ErrHandleClosed
	}
	if f.poisoned {
		return ErrHandlePoisoned
	}
	return nil
}

// poison marks the handle unusable after a write error.
func (f *File) poison(err error) error {
	if err != nil {
		f.poisoned = true
	}
	return err
}

// readObjectHeader reads through the per-handle cache.
func (f *File) readObjectHeader(address uint64) (*core.ObjectHeader, error) {
	if oh, ok := f.headerCache[address]; ok {
		return oh, nil
	}
	oh, err := core.ReadObjectHeader(f.ch, address, f.sb)
	if err != nil {
		return nil, err
	}
	f.headerCache[address] = oh
	return oh, nil
}

// ReadGlobalHeapObject resolves a (collection-address, index) pair.
// Collections are read lazily on first use and cached for the handle's
// lifetime. File implements core.HeapResolver with this.
func (f *File) ReadGlobalHeapObject(address uint64, index uint32) ([]byte, error) {
	gc, ok := f.gheapCache[address]
	if !ok {
		var err error
		gc, err = core.ReadGlobalHeapCollection(f.ch, address, f.sb)
		if err != nil {
			return nil, err
		}
		f.gheapCache[address] = gc
	}
	obj, err := gc.GetObject(index)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

// fractalHeap opens a fractal heap through the per-handle cache.
func (f *File) fractalHeap(address uint64) (*structures.FractalHeap, error) {
	if fh, ok := f.fheapCache[address]; ok {
		return fh, nil
	}
	fh, err := structures.OpenFractalHeap(f.ch, address, f.sb)
	if err != nil {
		return nil, err
	}
	f.fheapCache[address] = fh
	return fh, nil
}

// loadGroup materializes a group from its object header. For old-style
// groups the B-tree and heap addresses may already be known from a
// cache-type-1 symbol table entry; zero values force the header's
// SymbolTable message to supply them.
func (f *File) loadGroup(name string, headerAddr, btreeAddr, heapAddr uint64) (*Group, error) {
	g := &Group{
		file:      f,
		name:      name,
		btreeAddr: btreeAddr,
		heapAddr:  heapAddr,
	}

	if headerAddr != 0 && headerAddr != f.sb.UndefinedOffset() {
		oh, err := f.readObjectHeader(headerAddr)
		if err != nil {
			return nil, err
		}
		g.header = oh

		if st := oh.FindMessage(core.MsgSymbolTable); st != nil {
			msg := st.Body.(*core.SymbolTableMessage)
			g.btreeAddr = msg.BTreeAddress
			g.heapAddr = msg.HeapAddress
		}
		if li := oh.FindMessage(core.MsgLinkInfo); li != nil {
			g.linkInfo = li.Body.(*core.LinkInfoMessage)
		}
	}

	if g.btreeAddr == 0 && g.linkInfo == nil {
		return nil, fmt.Errorf("object %q carries neither a symbol table nor link info", name)
	}
	return g, nil
}

// loadObject turns a symbol table entry into a Group or Dataset.
func (f *File) loadObject(name string, entry structures.SymbolTableEntry) (Object, error) {
	if entry.CacheType == structures.CacheTypeGroup {
		g, err := f.loadGroup(name, entry.ObjectAddress, entry.BTreeAddress, entry.HeapAddress)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	oh, err := f.readObjectHeader(entry.ObjectAddress)
	if err != nil {
		return nil, err
	}
	if oh.Type() == core.ObjectTypeGroup {
		g, err := f.loadGroup(name, entry.ObjectAddress, 0, 0)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	d, err := newDataset(f, name, oh)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases the handle. Write handles serialize pending metadata
// first; see (*File).Flush. Closing twice is an error of kind
// ErrHandleClosed.
func (f *File) Close() error {
	if f.closed {
		return ErrHandleClosed
	}
	if f.writable && !f.poisoned {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	f.closed = true
	if c, ok := f.ch.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
