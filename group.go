package hdf5v1

import (
	"fmt"
	"sort"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/structures"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// Group is a directory of named objects. Old-style groups read and write
// through the local heap + v1 B-tree + symbol-table-node trio; new-style
// groups (fractal heap + v2 B-tree) are read-only.
type Group struct {
	file *File
	name string

	// Read-side state.
	header    *core.ObjectHeader
	btreeAddr uint64
	heapAddr  uint64
	heap      *structures.LocalHeap
	linkInfo  *core.LinkInfoMessage

	// Write-side state.
	dir            *structures.GroupDirectory
	headerAddr     uint64
	headerSlot     uint64
	heapHeaderAddr uint64
	subgroups      []*Group
	datasets       []*Dataset
}

// Name returns the link name of the group ("/" for the root).
func (g *Group) Name() string {
	return g.name
}

// localHeap lazily loads the group's local heap.
func (g *Group) localHeap() (*structures.LocalHeap, error) {
	if g.heap != nil {
		return g.heap, nil
	}
	heap, err := structures.LoadLocalHeap(g.file.ch, g.heapAddr, g.file.sb)
	if err != nil {
		return nil, err
	}
	g.heap = heap
	return heap, nil
}

// Child looks up a named object.
func (g *Group) Child(name string) (Object, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}

	if g.dir != nil {
		return g.writeSideChild(name)
	}

	if g.linkInfo != nil && g.btreeAddr == 0 {
		return g.denseChild(name)
	}

	heap, err := g.localHeap()
	if err != nil {
		return nil, err
	}
	entry, err := structures.FindGroupEntry(g.file.ch, g.btreeAddr, heap, name, g.file.sb)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("no object named %q in group %q", name, g.name)
	}
	return g.file.loadObject(name, *entry)
}

// Children enumerates all objects in name order.
func (g *Group) Children() ([]Object, error) {
	if err := g.file.check(); err != nil {
		return nil, err
	}

	if g.dir != nil {
		return g.writeSideChildren()
	}

	if g.linkInfo != nil && g.btreeAddr == 0 {
		return g.denseChildren()
	}

	heap, err := g.localHeap()
	if err != nil {
		return nil, err
	}
	entries, err := structures.ReadGroupEntries(g.file.ch, g.btreeAddr, g.file.sb)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		name, err := heap.GetString(entry.LinkNameOffset)
		if err != nil {
			return nil, err
		}
		obj, err := g.file.loadObject(name, entry)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ChildNames enumerates link names in name order.
func (g *Group) ChildNames() ([]string, error) {
	if g.dir != nil {
		return g.dir.Names(), nil
	}
	objs, err := g.Children()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name()
	}
	return names, nil
}

// denseLinks reads the new-style link records: the fractal heap stores
// link messages as variable-length objects, the v2 B-tree indexes them by
// name hash.
func (g *Group) denseLinks() ([]*core.LinkMessage, error) {
	undef := g.file.sb.UndefinedOffset()
	if g.linkInfo.FractalHeapAddress == undef {
		return nil, nil
	}

	fheap, err := g.file.fractalHeap(g.linkInfo.FractalHeapAddress)
	if err != nil {
		return nil, err
	}
	bt, err := structures.OpenBTreeV2(g.file.ch, g.linkInfo.NameIndexBTree, g.file.sb)
	if err != nil {
		return nil, err
	}
	records, err := bt.Records()
	if err != nil {
		return nil, err
	}

	links := make([]*core.LinkMessage, 0, len(records))
	for _, rec := range records {
		if rec.HeapID == nil {
			continue
		}
		raw, err := fheap.ReadObject(rec.HeapID)
		if err != nil {
			return nil, utils.WrapError("link record read failed", err)
		}
		body, err := core.DecodeMessageBody(core.MsgLink, 0, raw, g.file.sb)
		if err != nil {
			return nil, err
		}
		links = append(links, body.(*core.LinkMessage))
	}

	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links, nil
}

func (g *Group) denseChild(name string) (Object, error) {
	links, err := g.denseLinks()
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.Name == name {
			return g.loadLink(link)
		}
	}
	return nil, fmt.Errorf("no object named %q in group %q", name, g.name)
}

func (g *Group) denseChildren() ([]Object, error) {
	links, err := g.denseLinks()
	if err != nil {
		return nil, err
	}
	objects := make([]Object, 0, len(links))
	for _, link := range links {
		obj, err := g.loadLink(link)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// loadLink resolves a hard link record; soft and user-defined links stay
// as names without a target object.
func (g *Group) loadLink(link *core.LinkMessage) (Object, error) {
	if link.Type != 0 {
		return nil, fmt.Errorf("link %q is not a hard link (type %d)", link.Name, link.Type)
	}
	return g.file.loadObject(link.Name, structures.SymbolTableEntry{
		ObjectAddress: link.ObjectAddress,
	})
}

// writeSideChild serves lookups on a handle opened with Create: children
// live in memory until flush.
func (g *Group) writeSideChild(name string) (Object, error) {
	for _, sg := range g.subgroups {
		if sg.name == name {
			return sg, nil
		}
	}
	for _, ds := range g.datasets {
		if ds.name == name {
			return ds, nil
		}
	}
	return nil, fmt.Errorf("no object named %q in group %q", name, g.name)
}

func (g *Group) writeSideChildren() ([]Object, error) {
	names := g.dir.Names()
	objects := make([]Object, 0, len(names))
	for _, name := range names {
		obj, err := g.writeSideChild(name)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
