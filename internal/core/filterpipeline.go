package core

import (
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// Filter identifiers assigned by the format; decoding is a plug-in
// concern, the descriptor itself is always parsed.
const (
	FilterDeflate    uint16 = 1
	FilterShuffle    uint16 = 2
	FilterFletcher32 uint16 = 3
	FilterSzip       uint16 = 4
	FilterNbit       uint16 = 5
	FilterScaleOff   uint16 = 6
)

// FilterDescriptor is one entry of a filter pipeline.
type FilterDescriptor struct {
	ID         uint16
	Name       string
	Flags      uint16
	ClientData []uint32
}

// Optional reports whether a reader may skip this filter on failure.
func (f *FilterDescriptor) Optional() bool {
	return f.Flags&0x01 != 0
}

// FilterPipelineMessage lists the filters applied to raw data, in
// application order. The engine parses the descriptor; decoding is done by
// registered plug-ins.
type FilterPipelineMessage struct {
	Version uint8
	Filters []FilterDescriptor
}

// ParseFilterPipelineMessage parses versions 1 and 2.
//
// Version 1: version(1), nfilters(1), reserved(6), then per filter:
// id(2), name length(2), flags(2), nvalues(2), name (padded to 8),
// client values (4 bytes each, padded to 8 when nvalues is odd).
// Version 2 drops the reserved run and the name padding, and omits the
// name length for ids below 256.
func ParseFilterPipelineMessage(data []byte) (*FilterPipelineMessage, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: filter pipeline message too short", utils.ErrTruncatedRead)
	}

	version := data[0]
	nfilters := int(data[1])
	m := &FilterPipelineMessage{Version: version}

	var pos int
	switch version {
	case 1:
		pos = 8
	case 2:
		pos = 2
	default:
		return nil, fmt.Errorf("%w: filter pipeline version %d", utils.ErrUnsupportedVersion, version)
	}

	for i := 0; i < nfilters; i++ {
		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: filter %d header truncated", utils.ErrTruncatedRead, i)
		}
		var f FilterDescriptor
		f.ID = leOrder.Uint16(data[pos:])
		pos += 2

		nameLen := 0
		if version == 1 || f.ID >= 256 {
			nameLen = int(leOrder.Uint16(data[pos:]))
			pos += 2
		}

		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: filter %d flags truncated", utils.ErrTruncatedRead, i)
		}
		f.Flags = leOrder.Uint16(data[pos:])
		nvalues := int(leOrder.Uint16(data[pos+2:]))
		pos += 4

		if nameLen > 0 {
			padded := nameLen
			if version == 1 {
				padded = int(utils.AlignUp8(uint64(nameLen)))
			}
			if len(data) < pos+padded {
				return nil, fmt.Errorf("%w: filter %d name truncated", utils.ErrTruncatedRead, i)
			}
			name := data[pos : pos+nameLen]
			for j, b := range name {
				if b == 0 {
					name = name[:j]
					break
				}
			}
			f.Name = string(name)
			pos += padded
		}

		if len(data) < pos+nvalues*4 {
			return nil, fmt.Errorf("%w: filter %d client data truncated", utils.ErrTruncatedRead, i)
		}
		f.ClientData = make([]uint32, nvalues)
		for j := 0; j < nvalues; j++ {
			f.ClientData[j] = leOrder.Uint32(data[pos:])
			pos += 4
		}
		if version == 1 && nvalues%2 != 0 {
			pos += 4 // pad client data to the 8-byte boundary
		}

		m.Filters = append(m.Filters, f)
	}

	return m, nil
}
