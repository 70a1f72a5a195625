package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/utils"
)

func TestDataspaceRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ds   *DataspaceMessage
	}{
		{"scalar", NewScalarDataspace()},
		{"1d", mustSimple(t, []uint64{12}, nil)},
		{"2d with max", mustSimple(t, []uint64{3, 4}, []uint64{6, 8})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := encodeDataspaceBody(tt.ds, testSuperblock())
			require.NoError(t, err)

			got, err := ParseDataspaceMessage(raw)
			require.NoError(t, err)
			require.Equal(t, tt.ds.Type, got.Type)
			require.Equal(t, tt.ds.Dimensions, got.Dimensions)
			require.Equal(t, tt.ds.TotalElements(), got.TotalElements())
			if len(tt.ds.MaxDims) > 0 {
				require.Equal(t, tt.ds.MaxDims, got.MaxDims)
			}
		})
	}
}

func mustSimple(t *testing.T, dims, maxDims []uint64) *DataspaceMessage {
	t.Helper()
	ds, err := NewSimpleDataspace(dims, maxDims)
	require.NoError(t, err)
	return ds
}

func TestDataspaceUnsupportedVersion(t *testing.T) {
	_, err := ParseDataspaceMessage([]byte{9, 0, 0, 0})
	require.ErrorIs(t, err, utils.ErrUnsupportedVersion)
}

func TestDataLayoutV3RoundTrip(t *testing.T) {
	sb := testSuperblock()
	raw, err := encodeDataLayoutBody(NewContiguousLayout(4096, 160), sb)
	require.NoError(t, err)

	got, err := ParseDataLayoutMessage(raw, sb)
	require.NoError(t, err)
	require.Equal(t, LayoutContiguous, got.Class)
	require.Equal(t, uint64(4096), got.DataAddress)
	require.Equal(t, uint64(160), got.DataSize)
}

func TestDataLayoutV1Parse(t *testing.T) {
	sb := testSuperblock()
	// Version 1, rank 1, contiguous: address then rank 4-byte sizes.
	raw := make([]byte, 8+8+4)
	raw[0] = 1
	raw[1] = 1
	raw[2] = byte(LayoutContiguous)
	sb.WriteOffset(raw[8:], 2048)
	sb.Endianness.PutUint32(raw[16:], 24)

	got, err := ParseDataLayoutMessage(raw, sb)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), got.DataAddress)
	require.Equal(t, uint64(24), got.DataSize)
}

func TestContinuationRoundTrip(t *testing.T) {
	sb := testSuperblock()
	raw, err := encodeContinuation(&ContinuationMessage{Address: 9000, Length: 512}, sb)
	require.NoError(t, err)
	require.Len(t, raw, 16)

	body, err := parseContinuation(raw, sb)
	require.NoError(t, err)
	cont := body.(*ContinuationMessage)
	require.Equal(t, uint64(9000), cont.Address)
	require.Equal(t, uint64(512), cont.Length)
}

func TestSymbolTableMessageRoundTrip(t *testing.T) {
	sb := testSuperblock()
	raw, err := encodeSymbolTableMsg(&SymbolTableMessage{BTreeAddress: 136, HeapAddress: 680}, sb)
	require.NoError(t, err)

	body, err := parseSymbolTableMsg(raw, sb)
	require.NoError(t, err)
	st := body.(*SymbolTableMessage)
	require.Equal(t, uint64(136), st.BTreeAddress)
	require.Equal(t, uint64(680), st.HeapAddress)
}

func TestFillValueRoundTrip(t *testing.T) {
	sb := testSuperblock()

	undefined := &FillValueMessage{Version: 2, SpaceAllocTime: 1}
	raw, err := encodeFillValue(undefined, sb)
	require.NoError(t, err)
	require.Len(t, raw, 4)

	body, err := parseFillValue(raw, sb)
	require.NoError(t, err)
	require.False(t, body.(*FillValueMessage).Defined)

	defined := &FillValueMessage{Version: 2, SpaceAllocTime: 1, Defined: true, Value: []byte{0, 0, 0, 0x42}}
	raw, err = encodeFillValue(defined, sb)
	require.NoError(t, err)

	body, err = parseFillValue(raw, sb)
	require.NoError(t, err)
	got := body.(*FillValueMessage)
	require.True(t, got.Defined)
	require.Equal(t, []byte{0, 0, 0, 0x42}, got.Value)
}

func TestAttributeMessageRoundTrip(t *testing.T) {
	sb := testSuperblock()
	ds := mustSimple(t, []uint64{2}, nil)
	attr := &AttributeMessage{
		Version:   1,
		Name:      "units",
		Datatype:  NewFixedDatatype(8, false),
		Dataspace: ds,
		Value:     []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0},
	}

	raw, err := encodeAttributeBody(attr, sb)
	require.NoError(t, err)

	got, err := ParseAttributeMessage(raw, sb)
	require.NoError(t, err)
	require.Equal(t, "units", got.Name)
	require.Equal(t, ClassFixed, got.Datatype.Class)
	require.Equal(t, []uint64{2}, got.Dataspace.Dimensions)
	require.Equal(t, attr.Value, got.Value)
}

func TestFilterPipelineParseV1(t *testing.T) {
	// Version 1 with a single deflate filter carrying one client value.
	raw := make([]byte, 8+8+8)
	raw[0] = 1
	raw[1] = 1
	leOrder.PutUint16(raw[8:], FilterDeflate)
	leOrder.PutUint16(raw[10:], 0) // no name
	leOrder.PutUint16(raw[12:], 0x01)
	leOrder.PutUint16(raw[14:], 1)
	leOrder.PutUint32(raw[16:], 6) // compression level
	// Odd client-data count pads with 4 bytes.

	m, err := ParseFilterPipelineMessage(raw)
	require.NoError(t, err)
	require.Len(t, m.Filters, 1)
	require.Equal(t, FilterDeflate, m.Filters[0].ID)
	require.True(t, m.Filters[0].Optional())
	require.Equal(t, []uint32{6}, m.Filters[0].ClientData)
}

func TestLinkMessageParse(t *testing.T) {
	sb := testSuperblock()
	// Version 1 hard link "data": flags 0 (1-byte name length).
	raw := []byte{1, 0, 4, 'd', 'a', 't', 'a', 0, 0, 0, 0, 0, 0, 0, 0}
	sb.WriteOffset(raw[7:], 1234)

	body, err := parseLinkMessage(raw, sb)
	require.NoError(t, err)
	link := body.(*LinkMessage)
	require.Equal(t, "data", link.Name)
	require.Equal(t, uint8(0), link.Type)
	require.Equal(t, uint64(1234), link.ObjectAddress)
}

func TestModificationTimeAndRefCount(t *testing.T) {
	sb := testSuperblock()

	raw, err := encodeModificationTime(&ModificationTimeMessage{Seconds: 123456}, sb)
	require.NoError(t, err)
	body, err := parseModificationTime(raw, sb)
	require.NoError(t, err)
	require.Equal(t, uint32(123456), body.(*ModificationTimeMessage).Seconds)

	raw, err = encodeRefCount(&RefCountMessage{Count: 3}, sb)
	require.NoError(t, err)
	body, err = parseRefCount(raw, sb)
	require.NoError(t, err)
	require.Equal(t, uint32(3), body.(*RefCountMessage).Count)
}
