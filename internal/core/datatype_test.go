package core

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// testDatatypes covers every class this library encodes.
func testDatatypes(t *testing.T) map[string]*Datatype {
	t.Helper()

	float64Type, err := NewFloatDatatype(8)
	require.NoError(t, err)

	compound := NewCompoundDatatype(24, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "score", ByteOffset: 8, Type: float64Type},
		{Name: "tag", ByteOffset: 16, Type: NewStringDatatype(8, StrPadNullTerm)},
	})

	enum := &Datatype{
		Class:   ClassEnum,
		Version: 1,
		Size:    4,
		Enum: &EnumType{
			Base:   NewFixedDatatype(4, false),
			Names:  []string{"RED", "GREEN", "BLUE"},
			Values: [][]byte{{0, 0, 0, 0}, {1, 0, 0, 0}, {2, 0, 0, 0}},
		},
	}

	array := &Datatype{
		Class:   ClassArray,
		Version: 2,
		Size:    24,
		Array:   &ArrayType{Dims: []uint32{3}, Base: NewFixedDatatype(8, true)},
	}

	opaque := &Datatype{
		Class:   ClassOpaque,
		Version: 1,
		Size:    6,
		Opaque:  &OpaqueType{Tag: "sensor"},
	}

	bitfield := &Datatype{
		Class:   ClassBitfield,
		Version: 1,
		Size:    2,
		Bits:    &BitfieldType{Order: binary.LittleEndian, BitPrecision: 16},
	}

	timeType := &Datatype{
		Class:   ClassTime,
		Version: 1,
		Size:    4,
		Time:    &TimeType{Order: binary.LittleEndian, BitPrecision: 32},
	}

	ref := &Datatype{
		Class:   ClassReference,
		Version: 1,
		Size:    8,
		Ref:     &ReferenceType{Kind: RefObject},
	}

	return map[string]*Datatype{
		"fixed":    NewFixedDatatype(8, true),
		"float":    float64Type,
		"string":   NewStringDatatype(16, StrPadNullTerm),
		"compound": compound,
		"vlen":     NewVarLenStringDatatype(8),
		"enum":     enum,
		"array":    array,
		"opaque":   opaque,
		"bitfield": bitfield,
		"time":     timeType,
		"ref":      ref,
	}
}

func TestDatatypeEncodeDecodeFixpoint(t *testing.T) {
	// encode(decode(encode(D))) == encode(D) for every descriptor.
	for name, dt := range testDatatypes(t) {
		t.Run(name, func(t *testing.T) {
			first, err := EncodeDatatype(dt)
			require.NoError(t, err)

			parsed, consumed, err := ParseDatatype(first)
			require.NoError(t, err)
			require.Equal(t, len(first), consumed, "descriptor should consume its own encoding")

			second, err := EncodeDatatype(parsed)
			require.NoError(t, err)
			require.Equal(t, first, second)
		})
	}
}

func TestDatatypeParsedShape(t *testing.T) {
	raw, err := EncodeDatatype(testDatatypes(t)["compound"])
	require.NoError(t, err)

	dt, _, err := ParseDatatype(raw)
	require.NoError(t, err)
	require.Equal(t, ClassCompound, dt.Class)
	require.Equal(t, uint32(24), dt.Size)
	require.Len(t, dt.Compound.Members, 3)

	names := []string{dt.Compound.Members[0].Name, dt.Compound.Members[1].Name, dt.Compound.Members[2].Name}
	require.Equal(t, []string{"id", "score", "tag"}, names)
	require.Equal(t, uint32(8), dt.Compound.Members[1].ByteOffset)
	require.Equal(t, ClassFloat, dt.Compound.Members[1].Type.Class)
}

func TestDatatypeRequiresGlobalHeap(t *testing.T) {
	types := testDatatypes(t)
	require.True(t, types["vlen"].RequiresGlobalHeap())
	require.False(t, types["fixed"].RequiresGlobalHeap())
	require.False(t, types["compound"].RequiresGlobalHeap())

	withVlen := NewCompoundDatatype(24, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "note", ByteOffset: 8, Type: NewVarLenStringDatatype(8)},
	})
	require.True(t, withVlen.RequiresGlobalHeap())
}

// fakeResolver serves canned global heap payloads.
type fakeResolver struct {
	payloads map[[2]uint64][]byte
}

func (r *fakeResolver) ReadGlobalHeapObject(address uint64, index uint32) ([]byte, error) {
	return r.payloads[[2]uint64{address, uint64(index)}], nil
}

func TestDecodeElementScalars(t *testing.T) {
	fixed := NewFixedDatatype(8, true)
	buf := make([]byte, 8)
	require.NoError(t, fixed.EncodeElement(int64(-7), buf))
	v, err := fixed.DecodeElement(buf, nil)
	require.NoError(t, err)
	require.Equal(t, int64(-7), v)

	float64Type, err := NewFloatDatatype(8)
	require.NoError(t, err)
	require.NoError(t, float64Type.EncodeElement(3.25, buf))
	v, err = float64Type.DecodeElement(buf, nil)
	require.NoError(t, err)
	require.Equal(t, 3.25, v)

	str := NewStringDatatype(8, StrPadNullTerm)
	sbuf := make([]byte, 8)
	require.NoError(t, str.EncodeElement("abc", sbuf))
	v, err = str.DecodeElement(sbuf, nil)
	require.NoError(t, err)
	require.Equal(t, "abc", v)
}

func TestDecodeElementCompoundWithVlen(t *testing.T) {
	dt := NewCompoundDatatype(24, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "note", ByteOffset: 8, Type: NewVarLenStringDatatype(8)},
	})

	cell := make([]byte, 24)
	binary.LittleEndian.PutUint64(cell[0:8], 41)
	// Variable-length cell: count, collection address, object index.
	binary.LittleEndian.PutUint32(cell[8:12], 5)
	binary.LittleEndian.PutUint64(cell[12:20], 7000)
	binary.LittleEndian.PutUint32(cell[20:24], 1)

	resolver := &fakeResolver{payloads: map[[2]uint64][]byte{
		{7000, 1}: []byte("hello"),
	}}

	v, err := dt.DecodeElement(cell, resolver)
	require.NoError(t, err)

	fields, ok := v.([]CompoundField)
	require.True(t, ok)
	want := []CompoundField{
		{Name: "id", Value: int64(41)},
		{Name: "note", Value: "hello"},
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("compound decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeElementEnum(t *testing.T) {
	enum := testDatatypes(t)["enum"]
	v, err := enum.DecodeElement([]byte{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, EnumValue{Name: "GREEN", Raw: 1}, v)

	v, err = enum.DecodeElement([]byte{9, 0, 0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, EnumValue{Raw: 9}, v)
}

func TestDecodeElementArray(t *testing.T) {
	array := testDatatypes(t)["array"]
	cell := make([]byte, 24)
	for i, n := range []uint64{10, 20, 30} {
		binary.LittleEndian.PutUint64(cell[i*8:], n)
	}
	v, err := array.DecodeElement(cell, nil)
	require.NoError(t, err)
	require.Equal(t, []any{int64(10), int64(20), int64(30)}, v)
}

func TestDecodeRecordMapper(t *testing.T) {
	dt := NewCompoundDatatype(16, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "count", ByteOffset: 8, Type: NewFixedDatatype(8, false)},
	})

	cell := make([]byte, 16)
	binary.LittleEndian.PutUint64(cell[0:8], 3)
	binary.LittleEndian.PutUint64(cell[8:16], 99)

	mapper := RecordMapper{
		"id": func(b []byte) (any, error) {
			return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // test fixture
		},
	}
	rec, err := dt.DecodeRecord(cell, mapper)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": int64(3)}, rec)
}

func TestDatatypeString(t *testing.T) {
	types := testDatatypes(t)
	require.Equal(t, "signed integer (8 bytes)", types["fixed"].String())
	require.Equal(t, "variable-length string", types["vlen"].String())
	require.Contains(t, types["compound"].String(), "id, score, tag")
}
