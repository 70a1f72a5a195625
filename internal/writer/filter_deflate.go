package writer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/scigolib/hdf5v1/internal/core"
	"github.com/scigolib/hdf5v1/internal/utils"
)

// FilterDecodeFunc reverses one filter over a raw byte run. clientData is
// the filter's stored parameter list.
type FilterDecodeFunc func(data []byte, clientData []uint32) ([]byte, error)

// filterRegistry maps filter ids to decode plug-ins. The descriptor is
// always parsed; only a read that actually needs a filter consults the
// registry.
var filterRegistry = map[uint16]FilterDecodeFunc{}

// RegisterFilter installs a decode plug-in for a filter id, replacing any
// previous registration. A nil fn removes the registration.
func RegisterFilter(id uint16, fn FilterDecodeFunc) {
	if fn == nil {
		delete(filterRegistry, id)
		return
	}
	filterRegistry[id] = fn
}

// DecodePipeline reverses a filter pipeline over data. Filters apply in
// reverse of their stored order; an unregistered mandatory filter fails,
// an unregistered optional one is skipped.
func DecodePipeline(data []byte, pipeline *core.FilterPipelineMessage) ([]byte, error) {
	if pipeline == nil {
		return data, nil
	}
	for i := len(pipeline.Filters) - 1; i >= 0; i-- {
		f := pipeline.Filters[i]
		fn, ok := filterRegistry[f.ID]
		if !ok {
			if f.Optional() {
				continue
			}
			return nil, fmt.Errorf("no decoder registered for mandatory filter %d (%s)", f.ID, f.Name)
		}
		var err error
		data, err = fn(data, f.ClientData)
		if err != nil {
			return nil, utils.WrapError(fmt.Sprintf("filter %d decode failed", f.ID), err)
		}
	}
	return data, nil
}

// decodeDeflate reverses the deflate filter (id 1): zlib-framed DEFLATE.
func decodeDeflate(data []byte, _ []uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func init() {
	RegisterFilter(core.FilterDeflate, decodeDeflate)
}
