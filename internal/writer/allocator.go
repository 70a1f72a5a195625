// Package writer provides the write-side infrastructure: the file-offset
// allocator, the deferred-write byte channel, and the filter plug-in
// registry.
package writer

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// Fixed prelude layout for newly written files (byte offsets from 0).
const (
	SuperblockOffset = 0
	SuperblockSize   = 96

	RootObjectHeaderOffset = 96
	RootObjectHeaderSize   = 40

	RootBTreeOffset = 136
	RootBTreeSize   = 544

	RootHeapHeaderOffset = 680
	RootHeapHeaderSize   = 32

	RootHeapDataOffset = 712
	RootHeapDataSize   = 88

	GrowthZoneOffset = 800
	GrowthZoneEnd    = 2048

	// DatasetHeaderSlotSize is the reserved slot for one dataset object
	// header inside the growth zone.
	DatasetHeaderSlotSize = 272

	// SnodAllocSize is the footprint of one symbol table node with the
	// default leaf K of 4 (8-byte header + 8 forty-byte entries).
	SnodAllocSize = 328

	// FirstGlobalHeapSize seeds the global heap collection doubling.
	FirstGlobalHeapSize = 4096
)

// Region is one allocated byte range. Abandoned regions stay reserved in
// the file but carry no live pointer.
type Region struct {
	Name      string
	Offset    uint64
	Size      uint64
	Abandoned bool
}

// FileAllocator lays out all metadata and data blocks of a newly written
// file deterministically: the fixed prelude first, dataset object headers
// in the growth zone, everything else appended at end-of-file with 8-byte
// alignment. Offsets never shrink and regions never overlap.
type FileAllocator struct {
	offsetSize uint8
	regions    []Region
	eof        uint64
	growthNext uint64
	gheapCount int
	log        logrus.FieldLogger
}

// NewFileAllocator seeds the prelude regions. The logger is optional;
// nil discards.
func NewFileAllocator(offsetSize uint8, log logrus.FieldLogger) *FileAllocator {
	if log == nil {
		l := logrus.New()
		l.SetOutput(discardWriter{})
		log = l
	}
	a := &FileAllocator{
		offsetSize: offsetSize,
		eof:        GrowthZoneEnd,
		growthNext: GrowthZoneOffset,
		log:        log,
	}
	a.regions = []Region{
		{Name: "superblock", Offset: SuperblockOffset, Size: SuperblockSize},
		{Name: "root-object-header", Offset: RootObjectHeaderOffset, Size: RootObjectHeaderSize},
		{Name: "root-btree", Offset: RootBTreeOffset, Size: RootBTreeSize},
		{Name: "root-heap-header", Offset: RootHeapHeaderOffset, Size: RootHeapHeaderSize},
		{Name: "root-heap-data", Offset: RootHeapDataOffset, Size: RootHeapDataSize},
	}
	return a
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// append reserves size bytes at end-of-file and realigns it to 8.
func (a *FileAllocator) append(name string, size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot allocate zero bytes for %q", name)
	}

	offset := a.eof
	end := utils.AlignUp8(offset + size)
	if end < offset || end > utils.Undefined(a.offsetSize) {
		return 0, fmt.Errorf("%w: %q of %d bytes at %d", utils.ErrAllocationOverflow, name, size, offset)
	}

	a.regions = append(a.regions, Region{Name: name, Offset: offset, Size: size})
	a.eof = end
	a.log.WithFields(logrus.Fields{"region": name, "offset": offset, "size": size}).
		Debug("allocated at end-of-file")
	return offset, nil
}

// AllocateDatasetHeader reserves a 272-byte header slot in the growth
// zone, falling back to end-of-file once the zone is exhausted.
func (a *FileAllocator) AllocateDatasetHeader(name string) (uint64, error) {
	if a.growthNext+DatasetHeaderSlotSize <= GrowthZoneEnd {
		offset := a.growthNext
		a.growthNext += DatasetHeaderSlotSize
		a.regions = append(a.regions, Region{
			Name:   "object-header:" + name,
			Offset: offset,
			Size:   DatasetHeaderSlotSize,
		})
		a.log.WithFields(logrus.Fields{"dataset": name, "offset": offset}).
			Debug("allocated header slot in growth zone")
		return offset, nil
	}
	return a.append("object-header:"+name, DatasetHeaderSlotSize)
}

// IncreaseHeaderAllocation reallocates a dataset's header region to fit
// newSize bytes. The old region is marked abandoned unless it already sits
// at end-of-file, in which case it is extended in place.
func (a *FileAllocator) IncreaseHeaderAllocation(name string, newSize uint64) (uint64, error) {
	regionName := "object-header:" + name
	for i := range a.regions {
		r := &a.regions[i]
		if r.Name != regionName || r.Abandoned {
			continue
		}
		if newSize <= r.Size {
			return r.Offset, nil
		}
		if utils.AlignUp8(r.Offset+r.Size) == a.eof {
			a.eof = utils.AlignUp8(r.Offset + newSize)
			r.Size = newSize
			return r.Offset, nil
		}
		r.Abandoned = true
		return a.append(regionName, newSize)
	}
	return 0, fmt.Errorf("no header allocation named %q", name)
}

// AllocateContinuation appends a continuation region for a header.
func (a *FileAllocator) AllocateContinuation(name string, size uint64) (uint64, error) {
	return a.append("continuation:"+name, size)
}

// AllocateDataBlock appends a contiguous raw-data region.
func (a *FileAllocator) AllocateDataBlock(name string, size uint64) (uint64, error) {
	return a.append("data:"+name, size)
}

// AllocateSnod appends one 328-byte symbol table node.
func (a *FileAllocator) AllocateSnod() (uint64, error) {
	return a.append("snod", SnodAllocSize)
}

// AllocateBTreeNode appends one B-tree node block.
func (a *FileAllocator) AllocateBTreeNode(size uint64) (uint64, error) {
	return a.append("btree-node", size)
}

// AllocateGlobalHeap reserves the next collection block: 4 KiB for the
// first two collections, then doubling with each further one.
func (a *FileAllocator) AllocateGlobalHeap() (uint64, uint64, error) {
	shift := a.gheapCount - 1
	if shift < 0 {
		shift = 0
	}
	size := uint64(FirstGlobalHeapSize) << uint(shift)
	offset, err := a.append("global-heap", size)
	if err != nil {
		return 0, 0, err
	}
	a.gheapCount++
	return offset, size, nil
}

// ExpandLocalHeap reallocates a heap data segment at doubled size. The
// old region is recorded as abandoned: still accounted for in end-of-file
// but no live pointer.
func (a *FileAllocator) ExpandLocalHeap(oldOffset, oldSize, newSize uint64) (uint64, error) {
	for i := range a.regions {
		r := &a.regions[i]
		if r.Offset == oldOffset && !r.Abandoned {
			r.Abandoned = true
			break
		}
	}
	a.log.WithFields(logrus.Fields{"old": oldOffset, "size": newSize}).
		Debug("local heap contents expanded")
	return a.append("local-heap-data", newSize)
}

// AllocateRegion appends an arbitrary named region (group structures of
// sub-groups and similar).
func (a *FileAllocator) AllocateRegion(name string, size uint64) (uint64, error) {
	return a.append(name, size)
}

// EndOfFile returns the current end-of-file offset; it is always 8-byte
// aligned and monotone.
func (a *FileAllocator) EndOfFile() uint64 {
	return a.eof
}

// Regions returns a copy of all allocations sorted by offset.
func (a *FileAllocator) Regions() []Region {
	out := append([]Region(nil), a.regions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// ValidateDisjoint checks the allocator invariant: every region's
// [offset, offset+size) is disjoint from every other.
func (a *FileAllocator) ValidateDisjoint() error {
	regions := a.Regions()
	for i := 0; i < len(regions)-1; i++ {
		cur, next := regions[i], regions[i+1]
		if cur.Offset+cur.Size > next.Offset {
			return fmt.Errorf("regions %q [%d, +%d) and %q [%d, +%d) overlap",
				cur.Name, cur.Offset, cur.Size, next.Name, next.Offset, next.Size)
		}
	}
	return nil
}
