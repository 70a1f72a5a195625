package hdf5v1

import (
	"fmt"
	"time"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/structures"
	"github.com/scigolib/hdf5v1/internal/utils"
	"github.com/scigolib/hdf5v1/internal/writer"
)

// CreateDataset adds a contiguous dataset to the group. The object header
// slot is reserved immediately (growth zone first); raw data is laid out
// when WriteAll or WriteEach runs.
func (g *Group) CreateDataset(name string, dt *core.Datatype, ds *core.DataspaceMessage) (*Dataset, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}
	if g.dir == nil {
		return nil, utils.WrapError("dataset create on read handle", ErrHandleClosed)
	}
	if dt == nil || ds == nil {
		return nil, fmt.Errorf("dataset %q needs a datatype and a dataspace", name)
	}

	headerAddr, err := g.file.alloc.AllocateDatasetHeader(name)
	if err != nil {
		return nil, g.file.poison(err)
	}

	if err := g.dir.Insert(name, structures.SymbolTableEntry{
		ObjectAddress: headerAddr,
		CacheType:     structures.CacheTypeObject,
	}); err != nil {
		return nil, g.file.poison(err)
	}

	d := &Dataset{
		file:       g.file,
		name:       name,
		dt:         dt,
		ds:         ds,
		headerAddr: headerAddr,
		modTime:    uint32(time.Now().Unix()), //nolint:gosec // epoch seconds fit until 2106
	}
	g.datasets = append(g.datasets, d)
	return d, nil
}

// CreateGroup adds an old-style sub-group: its own object header, B-tree
// root, and local heap, linked through the parent's directory with a
// cache-type-1 entry whose scratch pad carries the B-tree and heap
// addresses.
func (g *Group) CreateGroup(name string) (*Group, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}
	if g.dir == nil {
		return nil, utils.WrapError("group create on read handle", ErrHandleClosed)
	}

	f := g.file
	headerAddr, err := f.alloc.AllocateRegion("group-header:"+name, writer.RootObjectHeaderSize)
	if err != nil {
		return nil, f.poison(err)
	}
	btreeAddr, err := f.allocBTreeNode()
	if err != nil {
		return nil, f.poison(err)
	}
	heapHeaderAddr, err := f.alloc.AllocateRegion("group-heap-header:"+name, writer.RootHeapHeaderSize)
	if err != nil {
		return nil, f.poison(err)
	}
	heapDataAddr, err := f.alloc.AllocateRegion("local-heap-data:"+name, writer.RootHeapDataSize)
	if err != nil {
		return nil, f.poison(err)
	}

	heap := structures.NewLocalHeap(heapDataAddr, writer.RootHeapDataSize, f.alloc.ExpandLocalHeap)
	dir := structures.NewGroupDirectory(f.sb, heap, btreeAddr, f.alloc.AllocateSnod, f.allocBTreeNode)

	if err := g.dir.Insert(name, structures.SymbolTableEntry{
		ObjectAddress: headerAddr,
		CacheType:     structures.CacheTypeGroup,
		BTreeAddress:  btreeAddr,
		HeapAddress:   heapHeaderAddr,
	}); err != nil {
		return nil, f.poison(err)
	}

	child := &Group{
		file:           f,
		name:           name,
		dir:            dir,
		headerAddr:     headerAddr,
		headerSlot:     writer.RootObjectHeaderSize,
		heapHeaderAddr: heapHeaderAddr,
	}
	g.subgroups = append(g.subgroups, child)
	return child, nil
}
