package core

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/scigolib/hdf5v1/internal/utils"
)

// DatatypeClass represents an HDF5 datatype class (low 4 bits of the
// shared class-and-version byte).
type DatatypeClass uint8

// Datatype class codes.
const (
	ClassFixed     DatatypeClass = 0
	ClassFloat     DatatypeClass = 1
	ClassTime      DatatypeClass = 2
	ClassString    DatatypeClass = 3
	ClassBitfield  DatatypeClass = 4
	ClassOpaque    DatatypeClass = 5
	ClassCompound  DatatypeClass = 6
	ClassReference DatatypeClass = 7
	ClassEnum      DatatypeClass = 8
	ClassVarLen    DatatypeClass = 9
	ClassArray     DatatypeClass = 10
)

// StrPad is the string padding kind.
type StrPad uint8

// String padding kinds.
const (
	StrPadNullTerm StrPad = 0
	StrPadNullPad  StrPad = 1
	StrPadSpacePad StrPad = 2
)

// RefKind is the reference flavor.
type RefKind uint8

// Reference kinds.
const (
	RefObject    RefKind = 0
	RefRegion    RefKind = 1
	RefObject2   RefKind = 2
	RefRegion2   RefKind = 3
	RefAttribute RefKind = 4
)

// Datatype is the tagged-union descriptor for one of the twelve datatype
// classes. Class selects the populated variant; Size is the per-element
// byte count in the file.
type Datatype struct {
	Class   DatatypeClass
	Version uint8
	Size    uint32

	Fixed    *FixedPointType
	Float    *FloatType
	Time     *TimeType
	Str      *StringType
	Bits     *BitfieldType
	Opaque   *OpaqueType
	Compound *CompoundType
	Ref      *ReferenceType
	Enum     *EnumType
	VarLen   *VarLenType
	Array    *ArrayType
}

// FixedPointType carries class 0 parameters.
type FixedPointType struct {
	Order        binary.ByteOrder
	Signed       bool
	LoPad        PadBit
	HiPad        PadBit
	BitOffset    uint16
	BitPrecision uint16
}

// FloatType carries class 1 parameters.
type FloatType struct {
	Order        binary.ByteOrder
	BitOffset    uint16
	BitPrecision uint16
	SignLocation uint8
	ExpLocation  uint8
	ExpSize      uint8
	ManLocation  uint8
	ManSize      uint8
	ExpBias      uint32
}

// TimeType carries class 2 parameters (elapsed seconds).
type TimeType struct {
	Order        binary.ByteOrder
	BitPrecision uint16
}

// StringType carries class 3 parameters.
type StringType struct {
	Pad     StrPad
	Charset uint8 // 0 = ASCII, 1 = UTF-8
}

// BitfieldType carries class 4 parameters.
type BitfieldType struct {
	Order        binary.ByteOrder
	LoPad        PadBit
	HiPad        PadBit
	BitOffset    uint16
	BitPrecision uint16
}

// OpaqueType carries class 5 parameters.
type OpaqueType struct {
	Tag string
}

// CompoundMember is one field of a compound datatype, in declaration
// order.
type CompoundMember struct {
	Name       string
	ByteOffset uint32
	Dims       []uint32 // pre-v3 per-member dimensionality
	Type       *Datatype
}

// CompoundType carries class 6 parameters.
type CompoundType struct {
	Members []CompoundMember
}

// ReferenceType carries class 7 parameters.
type ReferenceType struct {
	Kind RefKind
}

// EnumType carries class 8 parameters: an integral base plus a name-value
// map in declaration order.
type EnumType struct {
	Base   *Datatype
	Names  []string
	Values [][]byte // base.Size bytes each
}

// VarLenType carries class 9 parameters. String-flavored variable-length
// data decodes as text; sequences decode as base-element runs. Cells hold
// a (collection-address, index) pair resolved against the global heap.
type VarLenType struct {
	IsString bool
	Pad      StrPad
	Charset  uint8
	Base     *Datatype
}

// ArrayType carries class 10 parameters; arrays are transparent length
// multipliers over their base type.
type ArrayType struct {
	Dims []uint32
	Base *Datatype
}

// ParseDatatype decodes a datatype descriptor, returning the descriptor
// and the byte count consumed (compound members and vlen/array bases parse
// recursively from the same buffer).
func ParseDatatype(data []byte) (*Datatype, int, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: datatype descriptor too short", utils.ErrTruncatedRead)
	}

	classAndVersion := leOrder.Uint32(data[0:4])
	class := DatatypeClass(classAndVersion & 0x0F)
	version := uint8((classAndVersion >> 4) & 0x0F) //nolint:gosec // 4-bit field
	bitField := (classAndVersion >> 8) & 0x00FFFFFF
	size := leOrder.Uint32(data[4:8])

	dt := &Datatype{Class: class, Version: version, Size: size}
	props := data[8:]

	var consumed int
	var err error
	switch class {
	case ClassFixed:
		consumed, err = dt.parseFixed(bitField, props)
	case ClassFloat:
		consumed, err = dt.parseFloat(bitField, props)
	case ClassTime:
		consumed, err = dt.parseTime(bitField, props)
	case ClassString:
		dt.Str = &StringType{
			Pad:     StrPad(bitField & 0x0F),
			Charset: uint8((bitField >> 4) & 0x0F), //nolint:gosec // 4-bit field
		}
	case ClassBitfield:
		consumed, err = dt.parseBitfield(bitField, props)
	case ClassOpaque:
		consumed, err = dt.parseOpaque(bitField, props)
	case ClassCompound:
		consumed, err = dt.parseCompound(bitField, props)
	case ClassReference:
		dt.Ref = &ReferenceType{Kind: RefKind(bitField & 0x0F)}
	case ClassEnum:
		consumed, err = dt.parseEnum(bitField, props)
	case ClassVarLen:
		consumed, err = dt.parseVarLen(bitField, props)
	case ClassArray:
		consumed, err = dt.parseArray(props)
	default:
		return nil, 0, fmt.Errorf("%w: datatype class %d", utils.ErrUnsupportedVersion, class)
	}
	if err != nil {
		return nil, 0, err
	}

	return dt, 8 + consumed, nil
}

func orderFromBit(bit uint32) binary.ByteOrder {
	if bit != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (dt *Datatype) parseFixed(bitField uint32, props []byte) (int, error) {
	if len(props) < 4 {
		return 0, fmt.Errorf("%w: fixed-point properties truncated", utils.ErrTruncatedRead)
	}
	dt.Fixed = &FixedPointType{
		Order:        orderFromBit(bitField & 0x01),
		LoPad:        PadBit((bitField >> 1) & 0x01),
		HiPad:        PadBit((bitField >> 2) & 0x01),
		Signed:       bitField&0x08 != 0,
		BitOffset:    leOrder.Uint16(props[0:2]),
		BitPrecision: leOrder.Uint16(props[2:4]),
	}
	return 4, nil
}

func (dt *Datatype) parseFloat(bitField uint32, props []byte) (int, error) {
	if len(props) < 12 {
		return 0, fmt.Errorf("%w: floating-point properties truncated", utils.ErrTruncatedRead)
	}
	dt.Float = &FloatType{
		Order:        orderFromBit(bitField & 0x01),
		SignLocation: uint8((bitField >> 8) & 0xFF), //nolint:gosec // 8-bit field
		BitOffset:    leOrder.Uint16(props[0:2]),
		BitPrecision: leOrder.Uint16(props[2:4]),
		ExpLocation:  props[4],
		ExpSize:      props[5],
		ManLocation:  props[6],
		ManSize:      props[7],
		ExpBias:      leOrder.Uint32(props[8:12]),
	}
	return 12, nil
}

func (dt *Datatype) parseTime(bitField uint32, props []byte) (int, error) {
	if len(props) < 2 {
		return 0, fmt.Errorf("%w: time properties truncated", utils.ErrTruncatedRead)
	}
	dt.Time = &TimeType{
		Order:        orderFromBit(bitField & 0x01),
		BitPrecision: leOrder.Uint16(props[0:2]),
	}
	return 2, nil
}

func (dt *Datatype) parseBitfield(bitField uint32, props []byte) (int, error) {
	if len(props) < 4 {
		return 0, fmt.Errorf("%w: bitfield properties truncated", utils.ErrTruncatedRead)
	}
	dt.Bits = &BitfieldType{
		Order:        orderFromBit(bitField & 0x01),
		LoPad:        PadBit((bitField >> 1) & 0x01),
		HiPad:        PadBit((bitField >> 2) & 0x01),
		BitOffset:    leOrder.Uint16(props[0:2]),
		BitPrecision: leOrder.Uint16(props[2:4]),
	}
	return 4, nil
}

func (dt *Datatype) parseOpaque(bitField uint32, props []byte) (int, error) {
	tagLen := int(bitField & 0xFF)
	if len(props) < tagLen {
		return 0, fmt.Errorf("%w: opaque tag truncated", utils.ErrTruncatedRead)
	}
	tag := props[:tagLen]
	for i, b := range tag {
		if b == 0 {
			tag = tag[:i]
			break
		}
	}
	dt.Opaque = &OpaqueType{Tag: string(tag)}
	return tagLen, nil
}

func (dt *Datatype) parseCompound(bitField uint32, props []byte) (int, error) {
	nmembers := int(bitField & 0xFFFF)
	ct := &CompoundType{Members: make([]CompoundMember, 0, nmembers)}
	pos := 0

	for i := 0; i < nmembers; i++ {
		var m CompoundMember

		// Member name: versions 1/2 pad the NUL-terminated name to the
		// 8-byte boundary; version 3 does not.
		name, adv, err := readMemberName(props[pos:], dt.Version)
		if err != nil {
			return 0, fmt.Errorf("compound member %d: %w", i, err)
		}
		m.Name = name
		pos += adv

		switch dt.Version {
		case 1:
			// Offset(4), dimensionality(1), reserved(3), permutation(4),
			// reserved(4), four dimension slots(16).
			if len(props) < pos+32 {
				return 0, fmt.Errorf("%w: compound member %d fields truncated", utils.ErrTruncatedRead, i)
			}
			m.ByteOffset = leOrder.Uint32(props[pos:])
			rank := int(props[pos+4])
			if rank > 4 {
				return 0, fmt.Errorf("compound member %d has dimensionality %d", i, rank)
			}
			dims := props[pos+16 : pos+32]
			for d := 0; d < rank; d++ {
				m.Dims = append(m.Dims, leOrder.Uint32(dims[d*4:]))
			}
			pos += 32
		case 2:
			if len(props) < pos+4 {
				return 0, fmt.Errorf("%w: compound member %d offset truncated", utils.ErrTruncatedRead, i)
			}
			m.ByteOffset = leOrder.Uint32(props[pos:])
			pos += 4
		case 3:
			offSize := int(utils.MinBytes(uint64(dt.Size)))
			if len(props) < pos+offSize {
				return 0, fmt.Errorf("%w: compound member %d offset truncated", utils.ErrTruncatedRead, i)
			}
			m.ByteOffset = uint32(utils.ReadUint(props[pos:], offSize, leOrder)) //nolint:gosec // offsets fit
			pos += offSize
		default:
			return 0, fmt.Errorf("%w: compound datatype version %d", utils.ErrUnsupportedVersion, dt.Version)
		}

		sub, consumed, err := ParseDatatype(props[pos:])
		if err != nil {
			return 0, fmt.Errorf("compound member %q: %w", m.Name, err)
		}
		m.Type = sub
		pos += consumed

		ct.Members = append(ct.Members, m)
	}

	dt.Compound = ct
	return pos, nil
}

func readMemberName(data []byte, version uint8) (string, int, error) {
	end := 0
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end == len(data) {
		return "", 0, fmt.Errorf("%w: member name not terminated", utils.ErrTruncatedRead)
	}
	name := string(data[:end])
	if version < 3 {
		return name, int(utils.AlignUp8(uint64(end + 1))), nil
	}
	return name, end + 1, nil
}

func (dt *Datatype) parseEnum(bitField uint32, props []byte) (int, error) {
	nmembers := int(bitField & 0xFFFF)

	base, consumed, err := ParseDatatype(props)
	if err != nil {
		return 0, utils.WrapError("enum base type parse failed", err)
	}
	pos := consumed

	et := &EnumType{Base: base}
	for i := 0; i < nmembers; i++ {
		name, adv, err := readMemberName(props[pos:], dt.Version)
		if err != nil {
			return 0, fmt.Errorf("enum member %d: %w", i, err)
		}
		et.Names = append(et.Names, name)
		pos += adv
	}

	valSize := int(base.Size)
	for i := 0; i < nmembers; i++ {
		if len(props) < pos+valSize {
			return 0, fmt.Errorf("%w: enum value %d truncated", utils.ErrTruncatedRead, i)
		}
		et.Values = append(et.Values, append([]byte(nil), props[pos:pos+valSize]...))
		pos += valSize
	}

	dt.Enum = et
	return pos, nil
}

func (dt *Datatype) parseVarLen(bitField uint32, props []byte) (int, error) {
	vt := &VarLenType{
		IsString: bitField&0x0F == 1,
		Pad:      StrPad((bitField >> 4) & 0x0F),
		Charset:  uint8((bitField >> 8) & 0x0F), //nolint:gosec // 4-bit field
	}
	base, consumed, err := ParseDatatype(props)
	if err != nil {
		return 0, utils.WrapError("variable-length base type parse failed", err)
	}
	vt.Base = base
	dt.VarLen = vt
	return consumed, nil
}

func (dt *Datatype) parseArray(props []byte) (int, error) {
	if len(props) < 1 {
		return 0, fmt.Errorf("%w: array properties truncated", utils.ErrTruncatedRead)
	}
	rank := int(props[0])
	pos := 1
	if dt.Version == 2 {
		pos += 3 // reserved
	}

	need := pos + rank*4
	if dt.Version == 2 {
		need += rank * 4 // permutation indices
	}
	if len(props) < need {
		return 0, fmt.Errorf("%w: array dimensions truncated", utils.ErrTruncatedRead)
	}

	at := &ArrayType{Dims: make([]uint32, rank)}
	for i := 0; i < rank; i++ {
		at.Dims[i] = leOrder.Uint32(props[pos:])
		pos += 4
	}
	if dt.Version == 2 {
		pos += rank * 4
	}

	base, consumed, err := ParseDatatype(props[pos:])
	if err != nil {
		return 0, utils.WrapError("array base type parse failed", err)
	}
	at.Base = base
	dt.Array = at
	return pos + consumed, nil
}

// RequiresGlobalHeap reports whether elements of this type hold global
// heap references (variable-length types, directly or through members).
func (dt *Datatype) RequiresGlobalHeap() bool {
	switch dt.Class {
	case ClassVarLen:
		return true
	case ClassCompound:
		for _, m := range dt.Compound.Members {
			if m.Type.RequiresGlobalHeap() {
				return true
			}
		}
	case ClassArray:
		return dt.Array.Base.RequiresGlobalHeap()
	case ClassEnum:
		return dt.Enum.Base.RequiresGlobalHeap()
	}
	return false
}

// String returns a human-readable description of the datatype.
func (dt *Datatype) String() string {
	switch dt.Class {
	case ClassFixed:
		sign := "unsigned"
		if dt.Fixed != nil && dt.Fixed.Signed {
			sign = "signed"
		}
		return fmt.Sprintf("%s integer (%d bytes)", sign, dt.Size)
	case ClassFloat:
		return fmt.Sprintf("float (%d bytes)", dt.Size)
	case ClassTime:
		return fmt.Sprintf("time (%d bytes)", dt.Size)
	case ClassString:
		return fmt.Sprintf("string (%d bytes)", dt.Size)
	case ClassBitfield:
		return fmt.Sprintf("bitfield (%d bytes)", dt.Size)
	case ClassOpaque:
		return fmt.Sprintf("opaque %q (%d bytes)", dt.Opaque.Tag, dt.Size)
	case ClassCompound:
		names := make([]string, len(dt.Compound.Members))
		for i, m := range dt.Compound.Members {
			names[i] = m.Name
		}
		return fmt.Sprintf("compound {%s} (%d bytes)", strings.Join(names, ", "), dt.Size)
	case ClassReference:
		return "reference"
	case ClassEnum:
		return fmt.Sprintf("enum of %s", dt.Enum.Base)
	case ClassVarLen:
		if dt.VarLen.IsString {
			return "variable-length string"
		}
		return fmt.Sprintf("variable-length sequence of %s", dt.VarLen.Base)
	case ClassArray:
		return fmt.Sprintf("array %v of %s", dt.Array.Dims, dt.Array.Base)
	default:
		return fmt.Sprintf("class_%d (%d bytes)", dt.Class, dt.Size)
	}
}
