package structures

import (
	"fmt"
	"io"
	"sort"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// btreeSignature is the magic for version 1 B-tree nodes.
const btreeSignature = "TREE"

// btreeNodeTypeGroup is node type 0: keys are link-name heap offsets and
// level-0 children are symbol table nodes.
const btreeNodeTypeGroup = 0

// BTreeNode is one version 1 node as read from disk.
//
// Layout: signature "TREE" (4), node type (1), level (1), entries used
// (2), left sibling (offset-sized), right sibling (offset-sized), then
// keys and children interleaved: key0, child0, key1, child1, ..., keyN.
// A node with E children carries E+1 keys.
type BTreeNode struct {
	NodeType     uint8
	Level        uint8
	EntriesUsed  uint16
	LeftSibling  uint64
	RightSibling uint64
	Keys         []uint64
	Children     []uint64
}

// BTreeNodeSize returns the allocated footprint of a node of width k
// (2k children, 2k+1 keys).
func BTreeNodeSize(sb *core.Superblock, k uint16) uint64 {
	o := uint64(sb.OffsetSize)
	return 8 + 2*o + uint64(2*k+1)*o + uint64(2*k)*o
}

// ReadBTreeNode reads and parses the node at address.
func ReadBTreeNode(r io.ReaderAt, address uint64, sb *core.Superblock) (*BTreeNode, error) {
	o := int(sb.OffsetSize)
	headerSize := 8 + 2*o

	header := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(header)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("B-tree node header read failed", err)
	}

	if string(header[0:4]) != btreeSignature {
		return nil, fmt.Errorf("%w: B-tree node at %d", utils.ErrBadSignature, address)
	}

	node := &BTreeNode{
		NodeType:    header[4],
		Level:       header[5],
		EntriesUsed: sb.Endianness.Uint16(header[6:8]),
	}
	if node.NodeType != btreeNodeTypeGroup {
		return nil, fmt.Errorf("expected group B-tree (type 0), got type %d", node.NodeType)
	}

	node.LeftSibling = utils.ReadUint(header[8:], o, sb.Endianness)
	node.RightSibling = utils.ReadUint(header[8+o:], o, sb.Endianness)

	used := int(node.EntriesUsed)
	dataSize := (2*used + 1) * o
	data := utils.GetBuffer(dataSize)
	defer utils.ReleaseBuffer(data)

	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	if _, err := r.ReadAt(data, int64(address)+int64(headerSize)); err != nil {
		return nil, utils.WrapError("B-tree node data read failed", err)
	}

	pos := 0
	node.Keys = make([]uint64, 0, used+1)
	node.Children = make([]uint64, 0, used)
	for i := 0; i < used; i++ {
		node.Keys = append(node.Keys, utils.ReadUint(data[pos:], o, sb.Endianness))
		pos += o
		node.Children = append(node.Children, utils.ReadUint(data[pos:], o, sb.Endianness))
		pos += o
	}
	node.Keys = append(node.Keys, utils.ReadUint(data[pos:], o, sb.Endianness))

	return node, nil
}

// ReadGroupEntries enumerates all symbol table entries under the B-tree
// rooted at rootAddr, in name order. The walk descends the leftmost path
// to level 0 and then follows right-sibling links, so enumeration is
// sequential without per-step stack growth.
func ReadGroupEntries(r io.ReaderAt, rootAddr uint64, sb *core.Superblock) ([]SymbolTableEntry, error) {
	node, err := ReadBTreeNode(r, rootAddr, sb)
	if err != nil {
		return nil, err
	}

	for node.Level > 0 {
		if len(node.Children) == 0 {
			return nil, nil
		}
		node, err = ReadBTreeNode(r, node.Children[0], sb)
		if err != nil {
			return nil, err
		}
	}

	var entries []SymbolTableEntry
	undef := sb.UndefinedOffset()
	for {
		for _, snodAddr := range node.Children {
			snod, err := ParseSymbolTableNode(r, snodAddr, sb)
			if err != nil {
				return nil, err
			}
			entries = append(entries, snod.Entries...)
		}
		if node.RightSibling == undef || node.RightSibling == 0 {
			return entries, nil
		}
		node, err = ReadBTreeNode(r, node.RightSibling, sb)
		if err != nil {
			return nil, err
		}
	}
}

// FindGroupEntry looks a link name up with a standard B-tree descent.
// Keys are materialized through the local heap once per node visit; a
// non-increasing key run fails with ErrBTreeKeyOrder.
func FindGroupEntry(r io.ReaderAt, rootAddr uint64, heap *LocalHeap, name string, sb *core.Superblock) (*SymbolTableEntry, error) {
	addr := rootAddr
	for {
		node, err := ReadBTreeNode(r, addr, sb)
		if err != nil {
			return nil, err
		}
		if len(node.Children) == 0 {
			return nil, nil
		}

		keys := make([]string, len(node.Keys))
		for i, off := range node.Keys {
			keys[i], err = heap.String(off)
			if err != nil {
				return nil, utils.WrapError("B-tree key materialization failed", err)
			}
			if i > 0 && keys[i] <= keys[i-1] && !(i == len(node.Keys)-1 && keys[i] == "") {
				return nil, fmt.Errorf("%w: %q after %q", utils.ErrBTreeKeyOrder, keys[i], keys[i-1])
			}
		}

		// Child i covers names in (key[i], key[i+1]].
		idx := len(node.Children) - 1
		for i := 0; i < len(node.Children); i++ {
			if name <= keys[i+1] {
				idx = i
				break
			}
		}

		if node.Level > 0 {
			addr = node.Children[idx]
			continue
		}

		snod, err := ParseSymbolTableNode(r, node.Children[idx], sb)
		if err != nil {
			return nil, err
		}
		for i := range snod.Entries {
			ename, err := heap.String(snod.Entries[i].LinkNameOffset)
			if err != nil {
				return nil, err
			}
			if ename == name {
				return &snod.Entries[i], nil
			}
		}
		return nil, nil
	}
}

// --- Write model ---

// dirKey is a separator key held both as its string (for comparisons) and
// its heap offset (for serialization).
type dirKey struct {
	name   string
	offset uint64
}

// namedEntry pairs an entry with its materialized name.
type namedEntry struct {
	name  string
	entry SymbolTableEntry
}

// dirSnod is the in-memory image of one symbol table node.
type dirSnod struct {
	addr    uint64
	entries []namedEntry // sorted by name
}

// dirNode is the in-memory image of one B-tree node. A node with N
// children holds N+1 keys; keys[0] is the empty string and keys[i+1] is
// the maximum name in child i's subtree.
type dirNode struct {
	addr     uint64
	level    int
	keys     []dirKey
	children []any // *dirNode (level > 0) or *dirSnod (level 0)
}

// AllocFunc reserves one fixed-size block and returns its file offset.
type AllocFunc func() (uint64, error)

// GroupDirectory implements directory semantics for one old-style group:
// add a named child, look a name up, enumerate in name order. It owns the
// group's local heap, B-tree nodes, and symbol table nodes until they are
// flushed.
type GroupDirectory struct {
	sb   *core.Superblock
	heap *LocalHeap

	leafCap int // symbol table node capacity, 2 x leaf K
	nodeCap int // B-tree node fanout, 2 x internal K

	root      *dirNode
	snodAlloc AllocFunc
	nodeAlloc AllocFunc
	snodCount int
}

// NewGroupDirectory builds the write model over a preallocated root node
// at rootAddr. snodAlloc and nodeAlloc reserve further fixed-size blocks
// as splits demand them.
func NewGroupDirectory(sb *core.Superblock, heap *LocalHeap, rootAddr uint64, snodAlloc, nodeAlloc AllocFunc) *GroupDirectory {
	return &GroupDirectory{
		sb:        sb,
		heap:      heap,
		leafCap:   2 * int(sb.GroupLeafK),
		nodeCap:   2 * int(sb.GroupInternalK),
		root:      &dirNode{addr: rootAddr, level: 0, keys: []dirKey{{}}},
		snodAlloc: snodAlloc,
		nodeAlloc: nodeAlloc,
	}
}

// RootAddress returns the root node's file offset.
func (d *GroupDirectory) RootAddress() uint64 {
	return d.root.addr
}

// SnodCount returns the number of symbol table nodes allocated so far.
func (d *GroupDirectory) SnodCount() int {
	return d.snodCount
}

// Heap returns the directory's local heap.
func (d *GroupDirectory) Heap() *LocalHeap {
	return d.heap
}

// Insert adds a named child. The link name is appended to the local heap;
// the entry's LinkNameOffset is assigned here. Duplicate names fail.
func (d *GroupDirectory) Insert(name string, entry SymbolTableEntry) error {
	if name == "" {
		return fmt.Errorf("link name cannot be empty")
	}
	if _, ok := d.Lookup(name); ok {
		return fmt.Errorf("link %q already exists", name)
	}

	offset, err := d.heap.AddString(name)
	if err != nil {
		return err
	}
	entry.LinkNameOffset = offset

	// First insertion materializes the first symbol table node.
	if len(d.root.children) == 0 {
		snod, err := d.newSnod()
		if err != nil {
			return err
		}
		snod.entries = []namedEntry{{name: name, entry: entry}}
		d.root.children = []any{snod}
		d.root.keys = []dirKey{{}, {name: name, offset: offset}}
		return nil
	}

	split, err := d.insert(d.root, name, entry, offset)
	if err != nil {
		return err
	}
	if split != nil {
		if err := d.splitRoot(split); err != nil {
			return err
		}
	}
	return nil
}

// splitResult carries the new right sibling produced by a split, plus the
// separator key (the maximum name of the left half).
type splitResult struct {
	separator dirKey
	right     any
	rightMax  dirKey
}

// insert descends to the covering leaf, inserting and splitting on the
// way back up. A non-nil result means node itself split.
func (d *GroupDirectory) insert(node *dirNode, name string, entry SymbolTableEntry, nameOffset uint64) (*splitResult, error) {
	// Name-order position: lexicographic comparison against the
	// materialized keys. Child i covers (key[i], key[i+1]].
	idx := len(node.children) - 1
	for i := 0; i < len(node.children); i++ {
		if name <= node.keys[i+1].name {
			idx = i
			break
		}
	}

	// Keep the subtree maximum current.
	if name > node.keys[len(node.keys)-1].name {
		node.keys[len(node.keys)-1] = dirKey{name: name, offset: nameOffset}
	}

	var childSplit *splitResult
	if node.level == 0 {
		snod := node.children[idx].(*dirSnod)
		var err error
		childSplit, err = d.insertIntoSnod(snod, name, entry)
		if err != nil {
			return nil, err
		}
	} else {
		child := node.children[idx].(*dirNode)
		var err error
		childSplit, err = d.insert(child, name, entry, nameOffset)
		if err != nil {
			return nil, err
		}
	}

	if childSplit == nil {
		return nil, nil
	}

	// Graft the new right sibling next to the split child.
	node.children = append(node.children, nil)
	copy(node.children[idx+2:], node.children[idx+1:])
	node.children[idx+1] = childSplit.right

	node.keys = append(node.keys, dirKey{})
	copy(node.keys[idx+2:], node.keys[idx+1:])
	node.keys[idx+1] = childSplit.separator

	if len(node.children) <= d.nodeCap {
		return nil, nil
	}
	return d.splitNode(node)
}

// insertIntoSnod places the entry at its in-order position, splitting the
// node in half when it exceeds 2K entries.
func (d *GroupDirectory) insertIntoSnod(snod *dirSnod, name string, entry SymbolTableEntry) (*splitResult, error) {
	pos := sort.Search(len(snod.entries), func(i int) bool {
		return snod.entries[i].name >= name
	})
	snod.entries = append(snod.entries, namedEntry{})
	copy(snod.entries[pos+1:], snod.entries[pos:])
	snod.entries[pos] = namedEntry{name: name, entry: entry}

	if len(snod.entries) <= d.leafCap {
		return nil, nil
	}

	mid := len(snod.entries) / 2
	right, err := d.newSnod()
	if err != nil {
		return nil, err
	}
	right.entries = append(right.entries, snod.entries[mid:]...)
	snod.entries = snod.entries[:mid]

	left := snod.entries[len(snod.entries)-1]
	rightMax := right.entries[len(right.entries)-1]
	return &splitResult{
		separator: dirKey{name: left.name, offset: left.entry.LinkNameOffset},
		right:     right,
		rightMax:  dirKey{name: rightMax.name, offset: rightMax.entry.LinkNameOffset},
	}, nil
}

// splitNode halves an over-full B-tree node, allocating a new node for
// the right half.
func (d *GroupDirectory) splitNode(node *dirNode) (*splitResult, error) {
	mid := len(node.children) / 2

	addr, err := d.nodeAlloc()
	if err != nil {
		return nil, err
	}

	right := &dirNode{
		addr:     addr,
		level:    node.level,
		keys:     append([]dirKey(nil), node.keys[mid:]...),
		children: append([]any(nil), node.children[mid:]...),
	}
	separator := node.keys[mid]
	node.keys = append([]dirKey(nil), node.keys[:mid+1]...)
	node.children = node.children[:mid]

	return &splitResult{
		separator: separator,
		right:     right,
		rightMax:  right.keys[len(right.keys)-1],
	}, nil
}

// splitRoot grows the tree one level. The root's file offset is pinned
// (the superblock and symbol-table message point at it), so the old
// contents move into a freshly allocated node and the root becomes their
// parent.
func (d *GroupDirectory) splitRoot(split *splitResult) error {
	addr, err := d.nodeAlloc()
	if err != nil {
		return err
	}

	moved := &dirNode{
		addr:     addr,
		level:    d.root.level,
		keys:     d.root.keys,
		children: d.root.children,
	}

	d.root = &dirNode{
		addr:  d.root.addr,
		level: d.root.level + 1,
		keys: []dirKey{
			{},
			moved.keys[len(moved.keys)-1],
			split.rightMax,
		},
		children: []any{moved, split.right},
	}
	return nil
}

func (d *GroupDirectory) newSnod() (*dirSnod, error) {
	addr, err := d.snodAlloc()
	if err != nil {
		return nil, err
	}
	d.snodCount++
	return &dirSnod{addr: addr}, nil
}

// Lookup returns the entry for name, if present.
func (d *GroupDirectory) Lookup(name string) (SymbolTableEntry, bool) {
	node := d.root
	for {
		if len(node.children) == 0 {
			return SymbolTableEntry{}, false
		}
		idx := len(node.children) - 1
		for i := 0; i < len(node.children); i++ {
			if name <= node.keys[i+1].name {
				idx = i
				break
			}
		}
		if node.level == 0 {
			snod := node.children[idx].(*dirSnod)
			pos := sort.Search(len(snod.entries), func(i int) bool {
				return snod.entries[i].name >= name
			})
			if pos < len(snod.entries) && snod.entries[pos].name == name {
				return snod.entries[pos].entry, true
			}
			return SymbolTableEntry{}, false
		}
		node = node.children[idx].(*dirNode)
	}
}

// Entries returns all entries in name order.
func (d *GroupDirectory) Entries() []SymbolTableEntry {
	var out []SymbolTableEntry
	var walk func(n *dirNode)
	walk = func(n *dirNode) {
		for _, c := range n.children {
			switch child := c.(type) {
			case *dirNode:
				walk(child)
			case *dirSnod:
				for _, e := range child.entries {
					out = append(out, e.entry)
				}
			}
		}
	}
	walk(d.root)
	return out
}

// Names returns all link names in name order.
func (d *GroupDirectory) Names() []string {
	var out []string
	var walk func(n *dirNode)
	walk = func(n *dirNode) {
		for _, c := range n.children {
			switch child := c.(type) {
			case *dirNode:
				walk(child)
			case *dirSnod:
				for _, e := range child.entries {
					out = append(out, e.name)
				}
			}
		}
	}
	walk(d.root)
	return out
}

// WriteTo serializes every B-tree node and symbol table node. Sibling
// links are derived per level, left to right.
func (d *GroupDirectory) WriteTo(w io.WriterAt) error {
	// Collect nodes level by level.
	levels := map[int][]*dirNode{}
	var snods []*dirSnod
	var walk func(n *dirNode)
	walk = func(n *dirNode) {
		levels[n.level] = append(levels[n.level], n)
		for _, c := range n.children {
			switch child := c.(type) {
			case *dirNode:
				walk(child)
			case *dirSnod:
				snods = append(snods, child)
			}
		}
	}
	walk(d.root)

	undef := d.sb.UndefinedOffset()
	for level, nodes := range levels {
		for i, node := range nodes {
			left, right := undef, undef
			if i > 0 {
				left = nodes[i-1].addr
			}
			if i < len(nodes)-1 {
				right = nodes[i+1].addr
			}
			if err := d.writeNode(w, node, left, right); err != nil {
				return fmt.Errorf("B-tree level %d node %d: %w", level, i, err)
			}
		}
	}

	for _, snod := range snods {
		node := &SymbolTableNode{Version: 1}
		for _, e := range snod.entries {
			node.Entries = append(node.Entries, e.entry)
		}
		if err := node.WriteAt(w, snod.addr, uint16(d.leafCap), d.sb); err != nil { //nolint:gosec // small capacity
			return err
		}
	}

	return nil
}

// writeNode serializes one node into its fixed 2K-wide slot.
func (d *GroupDirectory) writeNode(w io.WriterAt, node *dirNode, left, right uint64) error {
	k := d.sb.GroupInternalK
	o := int(d.sb.OffsetSize)
	buf := make([]byte, BTreeNodeSize(d.sb, k))

	copy(buf[0:4], btreeSignature)
	buf[4] = btreeNodeTypeGroup
	buf[5] = uint8(node.level) //nolint:gosec // tree depth is tiny
	d.sb.Endianness.PutUint16(buf[6:8], uint16(len(node.children))) //nolint:gosec // fanout bounds the count

	pos := 8
	utils.WriteUint(buf[pos:], left, o, d.sb.Endianness)
	pos += o
	utils.WriteUint(buf[pos:], right, o, d.sb.Endianness)
	pos += o

	for i, c := range node.children {
		utils.WriteUint(buf[pos:], node.keys[i].offset, o, d.sb.Endianness)
		pos += o
		var addr uint64
		switch child := c.(type) {
		case *dirNode:
			addr = child.addr
		case *dirSnod:
			addr = child.addr
		}
		utils.WriteUint(buf[pos:], addr, o, d.sb.Endianness)
		pos += o
	}
	utils.WriteUint(buf[pos:], node.keys[len(node.children)].offset, o, d.sb.Endianness)

	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := w.WriteAt(buf, int64(node.addr)); err != nil {
		return utils.WrapError("B-tree node write failed", err)
	}
	return nil
}
