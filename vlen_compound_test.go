package hdf5v1

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildRecordType returns a compound of an int64 id and a variable-length
// note string (24-byte stride).
func buildRecordType(f *File) *Datatype {
	return NewCompoundDatatype(24, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "note", ByteOffset: 8, Type: f.NewVarLenStringDatatype()},
	})
}

func TestCompoundWithVarLenMemberRoundTrip(t *testing.T) {
	ch := NewMemChannel()
	f, err := Create(ch, CreateOptions{})
	require.NoError(t, err)

	dt := buildRecordType(f)
	require.True(t, dt.RequiresGlobalHeap())

	ds, err := NewSimpleDataspace([]uint64{3}, nil)
	require.NoError(t, err)
	d, err := f.Root().CreateDataset("CompoundData", dt, ds)
	require.NoError(t, err)

	notes := []string{"first record", "second", "third note text"}
	data := make([]byte, 0, 72)
	for i, note := range notes {
		rec := make([]byte, 8)
		binary.LittleEndian.PutUint64(rec, uint64(i+1)) //nolint:gosec // test ids are small
		cell, err := f.PutVarLenString(note)
		require.NoError(t, err)
		require.Len(t, cell, 16)
		data = append(data, append(rec, cell...)...)
	}
	require.NoError(t, d.WriteAll(data))
	require.NoError(t, f.Close())

	g, err := Open(NewMemChannelFrom(ch.Bytes()))
	require.NoError(t, err)

	obj, err := g.Root().Child("CompoundData")
	require.NoError(t, err)
	reread := obj.(*Dataset)

	cur, err := reread.Read()
	require.NoError(t, err)
	var ids []int64
	var got []string
	for cur.Next() {
		v, err := cur.Value()
		require.NoError(t, err)
		fields := v.([]CompoundField)
		require.Len(t, fields, 2)
		require.Equal(t, "id", fields[0].Name)
		require.Equal(t, "note", fields[1].Name)
		ids = append(ids, fields[0].Value.(int64))
		got = append(got, fields[1].Value.(string))
	}
	require.Equal(t, []int64{1, 2, 3}, ids)
	require.Equal(t, notes, got)
}

func TestCompoundRecordMapperProjection(t *testing.T) {
	ch := NewMemChannel()
	f, err := Create(ch, CreateOptions{})
	require.NoError(t, err)

	dt := NewCompoundDatatype(16, []CompoundMember{
		{Name: "id", ByteOffset: 0, Type: NewFixedDatatype(8, true)},
		{Name: "flags", ByteOffset: 8, Type: NewFixedDatatype(8, false)},
	})
	ds, err := NewSimpleDataspace([]uint64{2}, nil)
	require.NoError(t, err)
	d, err := f.Root().CreateDataset("records", dt, ds)
	require.NoError(t, err)

	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[0:], 5)
	binary.LittleEndian.PutUint64(data[8:], 0xFF)
	binary.LittleEndian.PutUint64(data[16:], 6)
	binary.LittleEndian.PutUint64(data[24:], 0x0F)
	require.NoError(t, d.WriteAll(data))
	require.NoError(t, f.Close())

	g, err := Open(NewMemChannelFrom(ch.Bytes()))
	require.NoError(t, err)
	obj, err := g.Root().Child("records")
	require.NoError(t, err)

	mapper := RecordMapper{
		"id": func(b []byte) (any, error) {
			return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // test fixture
		},
	}
	records, err := obj.(*Dataset).ReadRecords(mapper)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"id": int64(5)}, {"id": int64(6)}}, records)
}

func TestGlobalHeapCollectionsDouble(t *testing.T) {
	ch := NewMemChannel()
	f, err := Create(ch, CreateOptions{})
	require.NoError(t, err)

	dt := f.NewVarLenStringDatatype()
	ds, err := NewSimpleDataspace([]uint64{24}, nil)
	require.NoError(t, err)
	d, err := f.Root().CreateDataset("essays", dt, ds)
	require.NoError(t, err)

	// Twenty-four 1 KiB payloads overflow the first collections and force
	// the doubling sequence 4096, 4096, 8192, 16384.
	payload := make([]byte, 1024)
	var data []byte
	for i := 0; i < 24; i++ {
		for j := range payload {
			payload[j] = byte('a' + i%26)
		}
		cell, err := f.PutVarLen(payload, uint32(len(payload)))
		require.NoError(t, err)
		data = append(data, cell...)
	}
	require.NoError(t, d.WriteAll(data))

	var sizes []uint64
	for _, r := range f.Allocator().Regions() {
		if r.Name == "global-heap" {
			sizes = append(sizes, r.Size)
		}
	}
	require.Equal(t, []uint64{4096, 4096, 8192, 16384}, sizes)

	require.NoError(t, f.Close())

	g, err := Open(NewMemChannelFrom(ch.Bytes()))
	require.NoError(t, err)
	obj, err := g.Root().Child("essays")
	require.NoError(t, err)

	strings, err := obj.(*Dataset).ReadStrings()
	require.NoError(t, err)
	require.Len(t, strings, 24)
	for i, s := range strings {
		require.Len(t, s, 1024)
		require.Equal(t, byte('a'+i%26), s[0])
	}
}

func TestAttributesWithContinuation(t *testing.T) {
	ch := NewMemChannel()
	f, err := Create(ch, CreateOptions{})
	require.NoError(t, err)

	ds, err := NewSimpleDataspace([]uint64{1}, nil)
	require.NoError(t, err)
	d, err := f.Root().CreateDataset("annotated", NewFixedDatatype(8, true), ds)
	require.NoError(t, err)
	require.NoError(t, d.WriteAll(make([]byte, 8)))

	for i := 0; i < 6; i++ {
		attrDS, err := NewSimpleDataspace([]uint64{1}, nil)
		require.NoError(t, err)
		value := make([]byte, 8)
		binary.LittleEndian.PutUint64(value, uint64(i)) //nolint:gosec // test fixture
		name := fmt.Sprintf("attribute_%d", i)
		require.NoError(t, d.CreateAttribute(name, NewFixedDatatype(8, false), attrDS, value))
	}

	// Duplicate attribute names are rejected.
	dupDS, err := NewSimpleDataspace([]uint64{1}, nil)
	require.NoError(t, err)
	require.Error(t, d.CreateAttribute("attribute_0", NewFixedDatatype(8, false), dupDS, make([]byte, 8)))

	require.NoError(t, f.Close())

	// Six attributes overflow the 272-byte header slot.
	foundContinuation := false
	for _, r := range f.Allocator().Regions() {
		if r.Name == "continuation:annotated" {
			foundContinuation = true
		}
	}
	require.True(t, foundContinuation)

	g, err := Open(NewMemChannelFrom(ch.Bytes()))
	require.NoError(t, err)
	obj, err := g.Root().Child("annotated")
	require.NoError(t, err)

	attrs, err := obj.(*Dataset).Attributes()
	require.NoError(t, err)
	require.Len(t, attrs, 6)
	for i, a := range attrs {
		require.Equal(t, fmt.Sprintf("attribute_%d", i), a.Name())
		v, err := a.Value()
		require.NoError(t, err)
		require.Equal(t, uint64(i), v)
	}
}
