package core

import (
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// globalHeapSignature is the magic for global heap collections.
const globalHeapSignature = "GCOL"

// globalHeapVersion is the only collection version in the format.
const globalHeapVersion = 1

// GlobalHeapCollection is one named collection of variable-length
// payloads, keyed by its own file offset.
type GlobalHeapCollection struct {
	Address uint64
	Size    uint64
	Objects []GlobalHeapObject
}

// GlobalHeapObject is a single payload within a collection. Indices run
// 1..65535; index 0 marks the collection's free tail.
type GlobalHeapObject struct {
	Index    uint16
	RefCount uint16
	Data     []byte
}

// ReadGlobalHeapCollection reads and parses the collection at address.
//
// Layout: signature "GCOL", version, 3 reserved bytes, collection size
// (length-sized, includes the header), then objects: index(2),
// reference count(2), reserved(4), object size (length-sized), payload
// padded to the 8-byte boundary. Index 0 terminates the object list.
func ReadGlobalHeapCollection(r io.ReaderAt, address uint64, sb *Superblock) (*GlobalHeapCollection, error) {
	l := int(sb.LengthSize)
	headerSize := 8 + l

	headerBuf := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(headerBuf)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(headerBuf, int64(address)); err != nil {
		return nil, utils.WrapError("global heap header read failed", err)
	}

	if string(headerBuf[0:4]) != globalHeapSignature {
		return nil, fmt.Errorf("%w: global heap at %d", utils.ErrBadSignature, address)
	}
	if headerBuf[4] != globalHeapVersion {
		return nil, fmt.Errorf("%w: global heap version %d", utils.ErrUnsupportedVersion, headerBuf[4])
	}

	size := utils.ReadUint(headerBuf[8:], l, sb.Endianness)
	if size < uint64(headerSize) {
		return nil, fmt.Errorf("invalid global heap collection size: %d", size)
	}

	data := make([]byte, size)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if n, err := r.ReadAt(data, int64(address)); err != nil && uint64(n) < size {
		return nil, utils.WrapError("global heap collection read failed", err)
	}

	gc := &GlobalHeapCollection{Address: address, Size: size}

	objHeader := 8 + l
	pos := headerSize
	for pos+objHeader <= len(data) {
		index := sb.Endianness.Uint16(data[pos : pos+2])
		refCount := sb.Endianness.Uint16(data[pos+2 : pos+4])
		objSize := utils.ReadUint(data[pos+8:], l, sb.Endianness)
		pos += objHeader

		if index == 0 {
			// Free tail; the remaining bytes up to the collection size are
			// unused.
			break
		}

		if uint64(pos)+objSize > uint64(len(data)) {
			return nil, fmt.Errorf("%w: heap object %d payload", utils.ErrTruncatedRead, index)
		}

		gc.Objects = append(gc.Objects, GlobalHeapObject{
			Index:    index,
			RefCount: refCount,
			Data:     append([]byte(nil), data[pos:uint64(pos)+objSize]...),
		})

		pos += int(utils.AlignUp8(objSize))
	}

	return gc, nil
}

// GetObject retrieves an object from the collection by index.
func (gc *GlobalHeapCollection) GetObject(index uint32) (*GlobalHeapObject, error) {
	for i := range gc.Objects {
		if uint32(gc.Objects[i].Index) == index {
			return &gc.Objects[i], nil
		}
	}
	return nil, fmt.Errorf("global heap object %d not found in collection at %d", index, gc.Address)
}

// GlobalHeapAllocFunc reserves the next collection block and returns its
// offset and byte size (the doubling policy lives in the file allocator).
type GlobalHeapAllocFunc func() (addr, size uint64, err error)

// GlobalHeapWriter manages the writer-side collections. New payloads land
// in the current collection until its free space runs out, then a new
// collection is allocated and becomes current.
type GlobalHeapWriter struct {
	sb       *Superblock
	allocate GlobalHeapAllocFunc
	builds   []*globalHeapBuild
}

type globalHeapBuild struct {
	addr    uint64
	size    uint64
	used    uint64 // bytes consumed, collection header included
	objects []GlobalHeapObject
}

// NewGlobalHeapWriter returns a writer that allocates collections through
// allocate on demand.
func NewGlobalHeapWriter(sb *Superblock, allocate GlobalHeapAllocFunc) *GlobalHeapWriter {
	return &GlobalHeapWriter{sb: sb, allocate: allocate}
}

// Put stores one payload and returns its (collection-address, index) key.
func (w *GlobalHeapWriter) Put(data []byte) (uint64, uint32, error) {
	objHeader := uint64(8 + int(w.sb.LengthSize))
	need := objHeader + utils.AlignUp8(uint64(len(data)))

	cur := w.current()
	// Keep room for the terminating free-space object header.
	if cur == nil || cur.used+need+objHeader > cur.size {
		addr, size, err := w.allocate()
		if err != nil {
			return 0, 0, utils.WrapError("global heap collection allocation failed", err)
		}
		cur = &globalHeapBuild{addr: addr, size: size, used: uint64(8 + int(w.sb.LengthSize))}
		w.builds = append(w.builds, cur)
	}

	index := uint16(len(cur.objects) + 1) //nolint:gosec // indices are bounded at 65535
	cur.objects = append(cur.objects, GlobalHeapObject{
		Index:    index,
		RefCount: 1,
		Data:     append([]byte(nil), data...),
	})
	cur.used += need

	return cur.addr, uint32(index), nil
}

func (w *GlobalHeapWriter) current() *globalHeapBuild {
	if len(w.builds) == 0 {
		return nil
	}
	return w.builds[len(w.builds)-1]
}

// Collections returns the (address, size) pairs allocated so far, in
// allocation order.
func (w *GlobalHeapWriter) Collections() [][2]uint64 {
	out := make([][2]uint64, len(w.builds))
	for i, b := range w.builds {
		out[i] = [2]uint64{b.addr, b.size}
	}
	return out
}

// WriteTo serializes every collection to its allocated block.
func (w *GlobalHeapWriter) WriteTo(out io.WriterAt) error {
	l := int(w.sb.LengthSize)
	for _, b := range w.builds {
		buf := make([]byte, b.size)
		copy(buf[0:4], globalHeapSignature)
		buf[4] = globalHeapVersion
		utils.WriteUint(buf[8:], b.size, l, w.sb.Endianness)

		pos := 8 + l
		for _, obj := range b.objects {
			w.sb.Endianness.PutUint16(buf[pos:], obj.Index)
			w.sb.Endianness.PutUint16(buf[pos+2:], obj.RefCount)
			utils.WriteUint(buf[pos+8:], uint64(len(obj.Data)), l, w.sb.Endianness)
			pos += 8 + l
			copy(buf[pos:], obj.Data)
			pos += int(utils.AlignUp8(uint64(len(obj.Data))))
		}

		// Terminating free-space object: index 0, size spanning the rest
		// of the collection, its own header included.
		if free := int(b.size) - pos; free >= 8+l {
			utils.WriteUint(buf[pos+8:], uint64(free), l, w.sb.Endianness)
		}

		//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
		if _, err := out.WriteAt(buf, int64(b.addr)); err != nil {
			return utils.WrapError("global heap collection write failed", err)
		}
	}
	return nil
}
