package writer

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/hdf5v1/internal/core"
)

func deflateCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodePipelineDeflate(t *testing.T) {
	plain := bytes.Repeat([]byte("hdf5 raw data "), 64)
	compressed := deflateCompress(t, plain)

	pipeline := &core.FilterPipelineMessage{
		Version: 1,
		Filters: []core.FilterDescriptor{
			{ID: core.FilterDeflate, ClientData: []uint32{6}},
		},
	}

	got, err := DecodePipeline(compressed, pipeline)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecodePipelineNil(t *testing.T) {
	data := []byte{1, 2, 3}
	got, err := DecodePipeline(data, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDecodePipelineUnknownMandatory(t *testing.T) {
	pipeline := &core.FilterPipelineMessage{
		Version: 1,
		Filters: []core.FilterDescriptor{{ID: 240, Name: "custom"}},
	}
	_, err := DecodePipeline([]byte{1}, pipeline)
	require.Error(t, err)
}

func TestDecodePipelineUnknownOptionalSkipped(t *testing.T) {
	pipeline := &core.FilterPipelineMessage{
		Version: 1,
		Filters: []core.FilterDescriptor{{ID: 240, Name: "custom", Flags: 0x01}},
	}
	data := []byte{5, 6, 7}
	got, err := DecodePipeline(data, pipeline)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRegisterFilterOverride(t *testing.T) {
	defer RegisterFilter(core.FilterShuffle, nil)

	RegisterFilter(core.FilterShuffle, func(data []byte, _ []uint32) ([]byte, error) {
		out := append([]byte(nil), data...)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	})

	pipeline := &core.FilterPipelineMessage{
		Filters: []core.FilterDescriptor{{ID: core.FilterShuffle}},
	}
	got, err := DecodePipeline([]byte{1, 2, 3}, pipeline)
	require.NoError(t, err)
	require.Equal(t, []byte{3, 2, 1}, got)
}
