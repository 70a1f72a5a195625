package hdf5v1

import (
	"fmt"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// WriteAll lays out the dataset's raw bytes as one contiguous block. The
// buffer must hold exactly element-size times element-count bytes; cells
// of variable-length types are the fixed-size heap-reference tuples
// produced by PutVarLen.
func (d *Dataset) WriteAll(data []byte) error {
	if err := d.file.check(); err != nil {
		return err
	}
	if d.headerAddr == 0 {
		return utils.WrapError("data write on read handle", ErrHandleClosed)
	}
	if d.dataWritten {
		return fmt.Errorf("dataset %q already has data", d.name)
	}

	want := uint64(d.dt.Size) * d.ds.TotalElements()
	if uint64(len(data)) != want {
		return fmt.Errorf("dataset %q needs %d bytes (%d x %d elements), got %d",
			d.name, want, d.dt.Size, d.ds.TotalElements(), len(data))
	}

	addr, err := d.file.alloc.AllocateDataBlock(d.name, want)
	if err != nil {
		return d.file.poison(err)
	}

	//nolint:gosec // G115: file addresses fit in int64 for io.WriterAt
	if _, err := d.file.pw.WriteAt(data, int64(addr)); err != nil {
		return d.file.poison(err)
	}

	d.dataAddr = addr
	d.dataSize = want
	d.dataWritten = true
	return nil
}

// WriteEach drains a supplier of per-record byte buffers and lays them
// out as one contiguous block. The supplier returns ok=false when done.
func (d *Dataset) WriteEach(next func() (buf []byte, ok bool)) error {
	var data []byte
	for {
		buf, ok := next()
		if !ok {
			break
		}
		data = append(data, buf...)
	}
	return d.WriteAll(data)
}

// CreateAttribute attaches a named, typed value to the dataset's object
// header. Attributes can be added until the file is closed; each Flush
// lays the header out afresh with the attributes added so far.
func (d *Dataset) CreateAttribute(name string, dt *core.Datatype, ds *core.DataspaceMessage, value []byte) error {
	if err := d.file.check(); err != nil {
		return err
	}
	if d.headerAddr == 0 {
		return utils.WrapError("attribute create on read handle", ErrHandleClosed)
	}

	want := uint64(dt.Size) * ds.TotalElements()
	if uint64(len(value)) != want {
		return fmt.Errorf("attribute %q needs %d value bytes, got %d", name, want, len(value))
	}
	for _, a := range d.attrs {
		if a.Name == name {
			return fmt.Errorf("attribute %q already exists on %q", name, d.name)
		}
	}

	d.attrs = append(d.attrs, &core.AttributeMessage{
		Version:   1,
		Name:      name,
		Datatype:  dt,
		Dataspace: ds,
		Value:     append([]byte(nil), value...),
	})
	return nil
}
