package core

import (
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// AttributeMessage is a named, typed, shaped value attached to an object
// header.
type AttributeMessage struct {
	Version   uint8
	Name      string
	Datatype  *Datatype
	Dataspace *DataspaceMessage
	Value     []byte
}

// ParseAttributeMessage parses attribute message versions 1-3.
//
// Version 1: version(1), reserved(1), name size(2), datatype size(2),
// dataspace size(2), then name, datatype, and dataspace each padded to the
// 8-byte boundary, then the value bytes. Versions 2/3 drop the padding;
// version 3 inserts a name character set byte.
func ParseAttributeMessage(data []byte, sb *Superblock) (*AttributeMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: attribute message too short", utils.ErrTruncatedRead)
	}

	version := data[0]
	if version < 1 || version > 3 {
		return nil, fmt.Errorf("%w: attribute version %d", utils.ErrUnsupportedVersion, version)
	}

	nameSize := int(sb.Endianness.Uint16(data[2:4]))
	dtSize := int(sb.Endianness.Uint16(data[4:6]))
	dsSize := int(sb.Endianness.Uint16(data[6:8]))

	pos := 8
	if version == 3 {
		pos++ // name character set
	}

	pad := func(n int) int {
		if version == 1 {
			return int(utils.AlignUp8(uint64(n)))
		}
		return n
	}

	need := pos + pad(nameSize) + pad(dtSize) + pad(dsSize)
	if len(data) < need {
		return nil, fmt.Errorf("%w: attribute message needs %d bytes, got %d",
			utils.ErrTruncatedRead, need, len(data))
	}

	name := data[pos : pos+nameSize]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	pos += pad(nameSize)

	dt, _, err := ParseDatatype(data[pos : pos+dtSize])
	if err != nil {
		return nil, utils.WrapError("attribute datatype parse failed", err)
	}
	pos += pad(dtSize)

	ds, err := ParseDataspaceMessage(data[pos : pos+dsSize])
	if err != nil {
		return nil, utils.WrapError("attribute dataspace parse failed", err)
	}
	pos += pad(dsSize)

	// The value's byte count comes from the datatype and dataspace, not
	// from the remaining message bytes: the message region may carry
	// alignment padding.
	value := data[pos:]
	if want := uint64(dt.Size) * ds.TotalElements(); want < uint64(len(value)) {
		value = value[:want]
	}

	return &AttributeMessage{
		Version:   version,
		Name:      string(name),
		Datatype:  dt,
		Dataspace: ds,
		Value:     append([]byte(nil), value...),
	}, nil
}

// encodeAttributeBody serializes the version 1 layout, the form the
// version-1 superblock family writes.
func encodeAttributeBody(body any, sb *Superblock) ([]byte, error) {
	a, ok := body.(*AttributeMessage)
	if !ok {
		return nil, fmt.Errorf("attribute body has type %T", body)
	}

	dtBytes, err := EncodeDatatype(a.Datatype)
	if err != nil {
		return nil, utils.WrapError("attribute datatype encode failed", err)
	}
	dsBytes, err := encodeDataspaceBody(a.Dataspace, sb)
	if err != nil {
		return nil, utils.WrapError("attribute dataspace encode failed", err)
	}

	nameSize := len(a.Name) + 1 // with NUL terminator
	namePad := int(utils.AlignUp8(uint64(nameSize)))
	dtPad := int(utils.AlignUp8(uint64(len(dtBytes))))
	dsPad := int(utils.AlignUp8(uint64(len(dsBytes))))

	buf := make([]byte, 8+namePad+dtPad+dsPad+len(a.Value))
	buf[0] = 1
	sb.Endianness.PutUint16(buf[2:4], uint16(nameSize))      //nolint:gosec // names are short
	sb.Endianness.PutUint16(buf[4:6], uint16(len(dtBytes)))  //nolint:gosec // descriptor sizes fit
	sb.Endianness.PutUint16(buf[6:8], uint16(len(dsBytes)))  //nolint:gosec // descriptor sizes fit

	pos := 8
	copy(buf[pos:], a.Name)
	pos += namePad
	copy(buf[pos:], dtBytes)
	pos += dtPad
	copy(buf[pos:], dsBytes)
	pos += dsPad
	copy(buf[pos:], a.Value)

	return buf, nil
}
