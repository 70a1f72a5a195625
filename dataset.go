package hdf5v1

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
	"github.com/scigolib/hdf5v1/internal/writer"
)

// Dataset is a typed, shaped array of cells plus its attributes.
type Dataset struct {
	file *File
	name string

	dt       *core.Datatype
	ds       *core.DataspaceMessage
	layout   *core.DataLayoutMessage
	pipeline *core.FilterPipelineMessage

	// Read-side state.
	header *core.ObjectHeader

	// Write-side state.
	headerAddr  uint64
	dataAddr    uint64
	dataSize    uint64
	dataWritten bool
	modTime     uint32
	attrs       []*core.AttributeMessage
}

// newDataset materializes a read-side dataset from its object header.
func newDataset(f *File, name string, oh *core.ObjectHeader) (*Dataset, error) {
	d := &Dataset{file: f, name: name, header: oh}

	for _, msg := range oh.Messages {
		switch body := msg.Body.(type) {
		case *core.Datatype:
			d.dt = body
		case *core.DataspaceMessage:
			d.ds = body
		case *core.DataLayoutMessage:
			d.layout = body
		case *core.FilterPipelineMessage:
			d.pipeline = body
		}
	}

	if d.dt == nil || d.ds == nil {
		return nil, fmt.Errorf("object %q is not a dataset (missing datatype or dataspace)", name)
	}
	return d, nil
}

// Name returns the dataset's link name.
func (d *Dataset) Name() string {
	return d.name
}

// Datatype returns the element descriptor.
func (d *Dataset) Datatype() *core.Datatype {
	return d.dt
}

// Dataspace returns the shape descriptor.
func (d *Dataset) Dataspace() *core.DataspaceMessage {
	return d.ds
}

// Attributes enumerates the dataset's attributes in header order.
func (d *Dataset) Attributes() ([]*Attribute, error) {
	if err := d.file.check(); err != nil {
		return nil, err
	}

	var out []*Attribute
	if d.header != nil {
		for _, msg := range d.header.FindMessages(core.MsgAttribute) {
			out = append(out, &Attribute{file: d.file, msg: msg.Body.(*core.AttributeMessage)})
		}
		return out, nil
	}
	for _, a := range d.attrs {
		out = append(out, &Attribute{file: d.file, msg: a})
	}
	return out, nil
}

// rawData reads the dataset's contiguous byte run, reversing any filter
// pipeline through the registered plug-ins.
func (d *Dataset) rawData() ([]byte, error) {
	if d.layout == nil {
		return nil, errors.New("dataset has no data layout message")
	}

	switch d.layout.Class {
	case core.LayoutCompact:
		return d.layout.CompactData, nil
	case core.LayoutContiguous:
		// Fall through to the channel read below.
	default:
		return nil, fmt.Errorf("%w: layout class %d (contiguous only)",
			utils.ErrUnsupportedVersion, d.layout.Class)
	}

	size := d.layout.DataSize
	if size == 0 {
		size = uint64(d.dt.Size) * d.ds.TotalElements()
	}
	if size == 0 || utils.IsUndefined(d.layout.DataAddress, d.file.sb.OffsetSize) {
		return nil, nil
	}

	buf := make([]byte, size)
	//nolint:gosec // G115: file addresses fit in int64 for io.ReaderAt
	n, err := d.file.ch.ReadAt(buf, int64(d.layout.DataAddress))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError("dataset data read failed", err)
	}
	if uint64(n) < size {
		return nil, fmt.Errorf("%w: dataset data needs %d bytes, got %d", utils.ErrTruncatedRead, size, n)
	}

	return writer.DecodePipeline(buf, d.pipeline)
}

// Read returns a cursor over the dataset's cells in row-major order.
func (d *Dataset) Read() (*Cursor, error) {
	if err := d.file.check(); err != nil {
		return nil, err
	}
	data, err := d.rawData()
	if err != nil {
		return nil, err
	}
	count := d.ds.TotalElements()
	if data == nil {
		count = 0 // no data block laid out yet
	}
	return &Cursor{
		file:  d.file,
		dt:    d.dt,
		data:  data,
		count: count,
		index: -1,
	}, nil
}

// ReadInt64s reads the whole dataset as signed integers.
func (d *Dataset) ReadInt64s() ([]int64, error) {
	cur, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, cur.count)
	for cur.Next() {
		v, err := cur.Value()
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case uint64:
			out = append(out, int64(n)) //nolint:gosec // caller asked for the signed view
		default:
			return nil, fmt.Errorf("cell %d decodes to %T, not an integer", cur.index, v)
		}
	}
	return out, nil
}

// ReadFloat64s reads the whole dataset as doubles.
func (d *Dataset) ReadFloat64s() ([]float64, error) {
	cur, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, cur.count)
	for cur.Next() {
		v, err := cur.Value()
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case float32:
			out = append(out, float64(n))
		default:
			return nil, fmt.Errorf("cell %d decodes to %T, not a float", cur.index, v)
		}
	}
	return out, nil
}

// ReadStrings reads the whole dataset as strings (fixed or
// variable-length).
func (d *Dataset) ReadStrings() ([]string, error) {
	cur, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, cur.count)
	for cur.Next() {
		v, err := cur.Value()
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cell %d decodes to %T, not a string", cur.index, v)
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadRecords projects every compound cell through a record mapper.
func (d *Dataset) ReadRecords(mapper core.RecordMapper) ([]map[string]any, error) {
	cur, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, cur.count)
	for cur.Next() {
		rec, err := d.dt.DecodeRecord(cur.Bytes(), mapper)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cursor iterates a dataset's cells in row-major order. Each cell decodes
// through the datatype registry on demand.
type Cursor struct {
	file  *File
	dt    *core.Datatype
	data  []byte
	count uint64
	index int64
}

// Next advances to the next cell.
func (c *Cursor) Next() bool {
	if c.index+1 >= int64(c.count) { //nolint:gosec // element counts fit in int64
		return false
	}
	c.index++
	return true
}

// Bytes returns the current cell's raw bytes.
func (c *Cursor) Bytes() []byte {
	start := uint64(c.index) * uint64(c.dt.Size) //nolint:gosec // Next keeps index in range
	return c.data[start : start+uint64(c.dt.Size)]
}

// Value decodes the current cell.
func (c *Cursor) Value() (any, error) {
	return c.dt.DecodeElement(c.Bytes(), c.file)
}

// Attribute is a named, typed value attached to a dataset or group.
type Attribute struct {
	file *File
	msg  *core.AttributeMessage
}

// Name returns the attribute name.
func (a *Attribute) Name() string {
	return a.msg.Name
}

// Datatype returns the attribute's element descriptor.
func (a *Attribute) Datatype() *core.Datatype {
	return a.msg.Datatype
}

// Raw returns the attribute's value bytes.
func (a *Attribute) Raw() []byte {
	return a.msg.Value
}

// Value decodes a scalar attribute's value.
func (a *Attribute) Value() (any, error) {
	return a.msg.Datatype.DecodeElement(a.msg.Value, a.file)
}

// Values decodes every element of the attribute.
func (a *Attribute) Values() ([]any, error) {
	count := a.msg.Dataspace.TotalElements()
	size := uint64(a.msg.Datatype.Size)
	out := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := a.msg.Datatype.DecodeElement(a.msg.Value[i*size:], a.file)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
