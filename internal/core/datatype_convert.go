package core

import (
	"fmt"
	"math"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// HeapResolver resolves (collection-address, object-index) pairs against
// the global heap. Variable-length cells are resolved lazily through it.
type HeapResolver interface {
	ReadGlobalHeapObject(address uint64, index uint32) ([]byte, error)
}

// CompoundField is one decoded member of a compound cell, in declaration
// order.
type CompoundField struct {
	Name  string
	Value any
}

// EnumValue is a decoded enumerated cell.
type EnumValue struct {
	Name string
	Raw  uint64
}

// Reference is a decoded reference cell. For object references Address is
// populated; other kinds keep the raw byte tuple.
type Reference struct {
	Kind    RefKind
	Address uint64
	Raw     []byte
}

// RecordMapper converts compound member bytes to host values by field
// name. The engine never reflects over host types: it iterates members in
// declared order and invokes the mapper for fields it names.
type RecordMapper map[string]func([]byte) (any, error)

// DecodeElement decodes one in-file cell to its natural Go value:
//
//	fixed      -> int64 / uint64 (by sign)
//	float      -> float32 / float64
//	time       -> int64 seconds
//	string     -> string (padding trimmed)
//	bitfield   -> uint64
//	opaque     -> []byte
//	compound   -> []CompoundField
//	reference  -> *Reference
//	enum       -> EnumValue
//	vlen       -> string or []any, resolved through the global heap
//	array      -> []any
func (dt *Datatype) DecodeElement(data []byte, resolver HeapResolver) (any, error) {
	if uint32(len(data)) < dt.Size {
		return nil, fmt.Errorf("%w: element needs %d bytes, got %d",
			utils.ErrTruncatedRead, dt.Size, len(data))
	}
	data = data[:dt.Size]

	switch dt.Class {
	case ClassFixed:
		return dt.decodeFixed(data)
	case ClassFloat:
		return dt.decodeFloat(data)
	case ClassTime:
		v := utils.ReadUint(data, int(dt.Size), dt.Time.Order)
		return int64(v), nil //nolint:gosec // elapsed seconds
	case ClassString:
		return trimString(data, dt.Str.Pad), nil
	case ClassBitfield:
		codec := &FixedPoint{
			Width:        uint8(dt.Size), //nolint:gosec // sizes are 1..8
			Order:        dt.Bits.Order,
			BitOffset:    int(dt.Bits.BitOffset),
			BitPrecision: int(dt.Bits.BitPrecision),
		}
		v, err := codec.Decode(data)
		return v, err
	case ClassOpaque:
		return append([]byte(nil), data...), nil
	case ClassCompound:
		fields, err := dt.decodeCompound(data, resolver)
		if err != nil {
			return nil, err
		}
		return fields, nil
	case ClassReference:
		ref := &Reference{Kind: dt.Ref.Kind, Raw: append([]byte(nil), data...)}
		if dt.Ref.Kind == RefObject || dt.Ref.Kind == RefObject2 {
			ref.Address = utils.ReadUint(data, int(dt.Size), leOrder)
		}
		return ref, nil
	case ClassEnum:
		return dt.decodeEnum(data)
	case ClassVarLen:
		return dt.decodeVarLen(data, resolver)
	case ClassArray:
		return dt.decodeArray(data, resolver)
	default:
		return nil, fmt.Errorf("%w: cannot decode datatype class %d", utils.ErrUnsupportedVersion, dt.Class)
	}
}

func (dt *Datatype) decodeFixed(data []byte) (any, error) {
	t := dt.Fixed
	codec := &FixedPoint{
		Width:        uint8(dt.Size), //nolint:gosec // sizes are 1..8
		Signed:       t.Signed,
		Order:        t.Order,
		BitOffset:    int(t.BitOffset),
		BitPrecision: precisionOrFull(t.BitPrecision, dt.Size),
	}
	if t.Signed {
		v, err := codec.DecodeInt(data)
		return v, err
	}
	v, err := codec.Decode(data)
	return v, err
}

// precisionOrFull treats a full-width precision as 0 so the codec skips
// slice extraction (the common case for machine-width integers).
func precisionOrFull(prec uint16, size uint32) int {
	if uint32(prec) == size*8 {
		return 0
	}
	return int(prec)
}

func (dt *Datatype) decodeFloat(data []byte) (any, error) {
	t := dt.Float
	switch {
	case dt.Size == 4 && t.ExpSize == 8 && t.ManSize == 23:
		bits := uint32(utils.ReadUint(data, 4, t.Order)) //nolint:gosec // 4-byte read
		return math.Float32frombits(bits), nil
	case dt.Size == 8 && t.ExpSize == 11 && t.ManSize == 52:
		bits := utils.ReadUint(data, 8, t.Order)
		return math.Float64frombits(bits), nil
	default:
		return nil, fmt.Errorf("non-IEEE float layout (exp=%d, man=%d bits)", t.ExpSize, t.ManSize)
	}
}

func (dt *Datatype) decodeCompound(data []byte, resolver HeapResolver) ([]CompoundField, error) {
	fields := make([]CompoundField, 0, len(dt.Compound.Members))
	for _, m := range dt.Compound.Members {
		if uint32(len(data)) < m.ByteOffset+m.Type.Size {
			return nil, fmt.Errorf("%w: member %q at offset %d", utils.ErrTruncatedRead, m.Name, m.ByteOffset)
		}
		slice := data[m.ByteOffset:]

		count := 1
		for _, d := range m.Dims {
			count *= int(d)
		}

		if count == 1 {
			v, err := m.Type.DecodeElement(slice, resolver)
			if err != nil {
				return nil, fmt.Errorf("member %q: %w", m.Name, err)
			}
			fields = append(fields, CompoundField{Name: m.Name, Value: v})
			continue
		}

		vals := make([]any, count)
		for i := 0; i < count; i++ {
			v, err := m.Type.DecodeElement(slice[i*int(m.Type.Size):], resolver)
			if err != nil {
				return nil, fmt.Errorf("member %q[%d]: %w", m.Name, i, err)
			}
			vals[i] = v
		}
		fields = append(fields, CompoundField{Name: m.Name, Value: vals})
	}
	return fields, nil
}

func (dt *Datatype) decodeEnum(data []byte) (any, error) {
	raw := utils.ReadUint(data, int(dt.Enum.Base.Size), leOrder)
	for i, v := range dt.Enum.Values {
		if utils.ReadUint(v, len(v), leOrder) == raw {
			return EnumValue{Name: dt.Enum.Names[i], Raw: raw}, nil
		}
	}
	return EnumValue{Raw: raw}, nil
}

// decodeVarLen resolves a (length, collection-address, index) cell against
// the global heap.
func (dt *Datatype) decodeVarLen(data []byte, resolver HeapResolver) (any, error) {
	if resolver == nil {
		return nil, fmt.Errorf("variable-length cell needs a global heap resolver")
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: variable-length cell too short", utils.ErrTruncatedRead)
	}

	count := leOrder.Uint32(data[0:4])
	addrSize := int(dt.Size) - 8
	addr := utils.ReadUint(data[4:], addrSize, leOrder)
	index := leOrder.Uint32(data[4+addrSize:])

	// A zero-length cell that never touched the heap.
	if addr == 0 && index == 0 {
		if dt.VarLen.IsString {
			return "", nil
		}
		return []any{}, nil
	}

	payload, err := resolver.ReadGlobalHeapObject(addr, index)
	if err != nil {
		return nil, utils.WrapError("variable-length payload read failed", err)
	}

	if dt.VarLen.IsString {
		return string(payload), nil
	}

	base := dt.VarLen.Base
	out := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		off := uint64(i) * uint64(base.Size)
		if off+uint64(base.Size) > uint64(len(payload)) {
			return nil, fmt.Errorf("%w: sequence element %d", utils.ErrTruncatedRead, i)
		}
		v, err := base.DecodeElement(payload[off:], resolver)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (dt *Datatype) decodeArray(data []byte, resolver HeapResolver) (any, error) {
	base := dt.Array.Base
	count := 1
	for _, d := range dt.Array.Dims {
		count *= int(d)
	}
	out := make([]any, count)
	for i := 0; i < count; i++ {
		v, err := base.DecodeElement(data[i*int(base.Size):], resolver)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// DecodeRecord projects a compound cell through a caller-supplied record
// mapper. Members absent from the mapper are skipped.
func (dt *Datatype) DecodeRecord(data []byte, mapper RecordMapper) (map[string]any, error) {
	if dt.Class != ClassCompound {
		return nil, fmt.Errorf("record mapping requires a compound datatype, got %s", dt)
	}
	out := make(map[string]any, len(mapper))
	for _, m := range dt.Compound.Members {
		fn, ok := mapper[m.Name]
		if !ok {
			continue
		}
		if uint32(len(data)) < m.ByteOffset+m.Type.Size {
			return nil, fmt.Errorf("%w: member %q", utils.ErrTruncatedRead, m.Name)
		}
		v, err := fn(data[m.ByteOffset : m.ByteOffset+m.Type.Size])
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", m.Name, err)
		}
		out[m.Name] = v
	}
	return out, nil
}

// EncodeElement writes one value into an element-sized buffer. Supported
// for the fixed, float, string, and bitfield classes; everything else is
// written through raw buffers.
func (dt *Datatype) EncodeElement(value any, buf []byte) error {
	if uint32(len(buf)) < dt.Size {
		return fmt.Errorf("%w: element needs %d bytes", utils.ErrBufferOverflowOnWrite, dt.Size)
	}

	switch dt.Class {
	case ClassFixed:
		t := dt.Fixed
		codec := &FixedPoint{
			Width:        uint8(dt.Size), //nolint:gosec // sizes are 1..8
			Signed:       t.Signed,
			Order:        t.Order,
			BitOffset:    int(t.BitOffset),
			BitPrecision: precisionOrFull(t.BitPrecision, dt.Size),
		}
		switch v := value.(type) {
		case int64:
			return codec.Encode(uint64(v), buf) //nolint:gosec // two's complement round-trip
		case uint64:
			return codec.Encode(v, buf)
		case int:
			return codec.Encode(uint64(v), buf) //nolint:gosec // two's complement round-trip
		default:
			return fmt.Errorf("cannot encode %T as %s", value, dt)
		}

	case ClassFloat:
		t := dt.Float
		switch v := value.(type) {
		case float32:
			if dt.Size != 4 {
				return fmt.Errorf("float32 into %d-byte float", dt.Size)
			}
			utils.WriteUint(buf, uint64(math.Float32bits(v)), 4, t.Order)
			return nil
		case float64:
			if dt.Size == 4 {
				utils.WriteUint(buf, uint64(math.Float32bits(float32(v))), 4, t.Order)
				return nil
			}
			utils.WriteUint(buf, math.Float64bits(v), 8, t.Order)
			return nil
		default:
			return fmt.Errorf("cannot encode %T as %s", value, dt)
		}

	case ClassString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", value, dt)
		}
		fill := byte(0)
		if dt.Str.Pad == StrPadSpacePad {
			fill = ' '
		}
		for i := range buf[:dt.Size] {
			buf[i] = fill
		}
		copy(buf[:dt.Size], s)
		return nil

	case ClassBitfield:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", value, dt)
		}
		codec := &FixedPoint{
			Width:        uint8(dt.Size), //nolint:gosec // sizes are 1..8
			Order:        dt.Bits.Order,
			BitOffset:    int(dt.Bits.BitOffset),
			BitPrecision: int(dt.Bits.BitPrecision),
		}
		return codec.Encode(v, buf)

	default:
		return fmt.Errorf("%w: cannot encode datatype class %d element-wise",
			utils.ErrUnsupportedVersion, dt.Class)
	}
}

// trimString applies the padding policy to a raw string cell.
func trimString(data []byte, pad StrPad) string {
	switch pad {
	case StrPadSpacePad:
		end := len(data)
		for end > 0 && (data[end-1] == ' ' || data[end-1] == 0) {
			end--
		}
		return string(data[:end])
	default:
		for i, b := range data {
			if b == 0 {
				return string(data[:i])
			}
		}
		return string(data)
	}
}
