package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// Constructors for the datatypes this library writes. All are version 1
// encodings except arrays, which first appear at version 2.

// NewFixedDatatype returns a little-endian fixed-point descriptor of the
// given byte size with full-width precision.
func NewFixedDatatype(size uint32, signed bool) *Datatype {
	return &Datatype{
		Class:   ClassFixed,
		Version: 1,
		Size:    size,
		Fixed: &FixedPointType{
			Order:        binary.LittleEndian,
			Signed:       signed,
			BitPrecision: uint16(size * 8), //nolint:gosec // sizes are 1..8
		},
	}
}

// NewFloatDatatype returns an IEEE 754 descriptor (size 4 or 8).
func NewFloatDatatype(size uint32) (*Datatype, error) {
	ft := &FloatType{Order: binary.LittleEndian}
	switch size {
	case 4:
		ft.BitPrecision = 32
		ft.SignLocation = 31
		ft.ExpLocation = 23
		ft.ExpSize = 8
		ft.ManSize = 23
		ft.ExpBias = 127
	case 8:
		ft.BitPrecision = 64
		ft.SignLocation = 63
		ft.ExpLocation = 52
		ft.ExpSize = 11
		ft.ManSize = 52
		ft.ExpBias = 1023
	default:
		return nil, fmt.Errorf("unsupported float size: %d (must be 4 or 8)", size)
	}
	return &Datatype{Class: ClassFloat, Version: 1, Size: size, Float: ft}, nil
}

// NewStringDatatype returns a fixed-length string descriptor.
func NewStringDatatype(size uint32, pad StrPad) *Datatype {
	return &Datatype{
		Class:   ClassString,
		Version: 1,
		Size:    size,
		Str:     &StringType{Pad: pad},
	}
}

// NewVarLenStringDatatype returns a variable-length string descriptor.
// Cells are (length, collection-address, index) tuples; offsetSize sizes
// the address field.
func NewVarLenStringDatatype(offsetSize uint8) *Datatype {
	return &Datatype{
		Class:   ClassVarLen,
		Version: 1,
		Size:    4 + uint32(offsetSize) + 4,
		VarLen: &VarLenType{
			IsString: true,
			Base:     NewFixedDatatype(1, false),
		},
	}
}

// NewCompoundDatatype returns a compound descriptor over the given
// members; totalSize is the in-file element stride.
func NewCompoundDatatype(totalSize uint32, members []CompoundMember) *Datatype {
	return &Datatype{
		Class:    ClassCompound,
		Version:  1,
		Size:     totalSize,
		Compound: &CompoundType{Members: members},
	}
}

// EncodeDatatype serializes a descriptor. The inverse of ParseDatatype for
// every class this library writes; round-trips byte-exact.
func EncodeDatatype(dt *Datatype) ([]byte, error) {
	bitField, props, err := encodeDatatypeBits(dt)
	if err != nil {
		return nil, err
	}

	version := dt.Version
	if version == 0 {
		version = 1
	}

	buf := make([]byte, 8+len(props))
	classAndVersion := uint32(dt.Class) | uint32(version)<<4 | bitField<<8
	leOrder.PutUint32(buf[0:4], classAndVersion)
	leOrder.PutUint32(buf[4:8], dt.Size)
	copy(buf[8:], props)
	return buf, nil
}

func encodeDatatypeBody(body any, _ *Superblock) ([]byte, error) {
	dt, ok := body.(*Datatype)
	if !ok {
		return nil, fmt.Errorf("datatype body has type %T", body)
	}
	return EncodeDatatype(dt)
}

//nolint:gocyclo // one arm per datatype class; splitting obscures the table
func encodeDatatypeBits(dt *Datatype) (uint32, []byte, error) {
	switch dt.Class {
	case ClassFixed:
		t := dt.Fixed
		var bits uint32
		if t.Order == binary.BigEndian {
			bits |= 0x01
		}
		bits |= uint32(t.LoPad) << 1
		bits |= uint32(t.HiPad) << 2
		if t.Signed {
			bits |= 0x08
		}
		props := make([]byte, 4)
		leOrder.PutUint16(props[0:2], t.BitOffset)
		leOrder.PutUint16(props[2:4], t.BitPrecision)
		return bits, props, nil

	case ClassFloat:
		t := dt.Float
		var bits uint32
		if t.Order == binary.BigEndian {
			bits |= 0x01
		}
		bits |= uint32(t.SignLocation) << 8
		props := make([]byte, 12)
		leOrder.PutUint16(props[0:2], t.BitOffset)
		leOrder.PutUint16(props[2:4], t.BitPrecision)
		props[4] = t.ExpLocation
		props[5] = t.ExpSize
		props[6] = t.ManLocation
		props[7] = t.ManSize
		leOrder.PutUint32(props[8:12], t.ExpBias)
		return bits, props, nil

	case ClassTime:
		t := dt.Time
		var bits uint32
		if t.Order == binary.BigEndian {
			bits |= 0x01
		}
		props := make([]byte, 2)
		leOrder.PutUint16(props, t.BitPrecision)
		return bits, props, nil

	case ClassString:
		t := dt.Str
		return uint32(t.Pad) | uint32(t.Charset)<<4, nil, nil

	case ClassBitfield:
		t := dt.Bits
		var bits uint32
		if t.Order == binary.BigEndian {
			bits |= 0x01
		}
		bits |= uint32(t.LoPad) << 1
		bits |= uint32(t.HiPad) << 2
		props := make([]byte, 4)
		leOrder.PutUint16(props[0:2], t.BitOffset)
		leOrder.PutUint16(props[2:4], t.BitPrecision)
		return bits, props, nil

	case ClassOpaque:
		tag := dt.Opaque.Tag
		padded := int(utils.AlignUp8(uint64(len(tag) + 1)))
		props := make([]byte, padded)
		copy(props, tag)
		return uint32(padded), props, nil //nolint:gosec // tag length fits the 8-bit field

	case ClassCompound:
		return encodeCompound(dt)

	case ClassReference:
		return uint32(dt.Ref.Kind), nil, nil

	case ClassEnum:
		return encodeEnum(dt)

	case ClassVarLen:
		t := dt.VarLen
		var bits uint32
		if t.IsString {
			bits |= 0x01
		}
		bits |= uint32(t.Pad) << 4
		bits |= uint32(t.Charset) << 8
		base, err := EncodeDatatype(t.Base)
		if err != nil {
			return 0, nil, utils.WrapError("variable-length base encode failed", err)
		}
		return bits, base, nil

	case ClassArray:
		t := dt.Array
		props := make([]byte, 4+len(t.Dims)*8)
		props[0] = uint8(len(t.Dims)) //nolint:gosec // rank is bounded by the format
		pos := 4
		for _, d := range t.Dims {
			leOrder.PutUint32(props[pos:], d)
			pos += 4
		}
		for i := range t.Dims { // permutation indices, identity
			leOrder.PutUint32(props[pos:], uint32(i)) //nolint:gosec // rank is bounded by the format
			pos += 4
		}
		base, err := EncodeDatatype(t.Base)
		if err != nil {
			return 0, nil, utils.WrapError("array base encode failed", err)
		}
		if dt.Version == 0 {
			dt.Version = 2
		}
		return 0, append(props[:pos], base...), nil

	default:
		return 0, nil, fmt.Errorf("%w: cannot encode datatype class %d", utils.ErrUnsupportedVersion, dt.Class)
	}
}

// encodeCompound emits the version 1 member encoding.
func encodeCompound(dt *Datatype) (uint32, []byte, error) {
	var props []byte
	for _, m := range dt.Compound.Members {
		name := make([]byte, utils.AlignUp8(uint64(len(m.Name)+1)))
		copy(name, m.Name)
		props = append(props, name...)

		fields := make([]byte, 32)
		leOrder.PutUint32(fields[0:4], m.ByteOffset)
		fields[4] = uint8(len(m.Dims)) //nolint:gosec // rank <= 4 in version 1
		for d, dim := range m.Dims {
			leOrder.PutUint32(fields[16+d*4:], dim)
		}
		props = append(props, fields...)

		sub, err := EncodeDatatype(m.Type)
		if err != nil {
			return 0, nil, fmt.Errorf("compound member %q: %w", m.Name, err)
		}
		props = append(props, sub...)
	}
	return uint32(len(dt.Compound.Members)) & 0xFFFF, props, nil //nolint:gosec // member count fits
}

// encodeEnum emits the version 1 name encoding (names padded to 8).
func encodeEnum(dt *Datatype) (uint32, []byte, error) {
	et := dt.Enum
	if len(et.Names) != len(et.Values) {
		return 0, nil, fmt.Errorf("enum has %d names but %d values", len(et.Names), len(et.Values))
	}

	props, err := EncodeDatatype(et.Base)
	if err != nil {
		return 0, nil, utils.WrapError("enum base encode failed", err)
	}
	for _, n := range et.Names {
		name := make([]byte, utils.AlignUp8(uint64(len(n)+1)))
		copy(name, n)
		props = append(props, name...)
	}
	for _, v := range et.Values {
		if len(v) != int(et.Base.Size) {
			return 0, nil, fmt.Errorf("enum value size %d does not match base size %d", len(v), et.Base.Size)
		}
		props = append(props, v...)
	}
	return uint32(len(et.Names)) & 0xFFFF, props, nil //nolint:gosec // member count fits
}
