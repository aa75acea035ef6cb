package weights

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/tensor"
)

func sampleTensors(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	k, err := tensor.NewTensor([]int{2, 3}, []float32{1, -2, 0.5, 3, 0.25, -8})
	require.NoError(t, err)
	b, err := tensor.NewTensor([]int{3}, []float32{0, 1, 2})
	require.NoError(t, err)
	return map[string]*tensor.Tensor{"conv.kernel": k, "conv.bias": b}
}

func TestSaveLoadExactDTypes(t *testing.T) {
	// Every value above is exactly representable in all three dtypes.
	for _, dt := range []DType{F32, F16, BF16} {
		t.Run(string(dt), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "w.safetensors")
			in := sampleTensors(t)
			require.NoError(t, Save(path, in, dt))

			out, err := Load(path)
			require.NoError(t, err)
			require.Len(t, out, 2)
			for name, want := range in {
				got := out[name]
				require.NotNil(t, got, name)
				require.Equal(t, want.Shape, got.Shape)
				require.Equal(t, want.Data, got.Data)
			}
		})
	}
}

func TestHalfPrecisionRounds(t *testing.T) {
	x, err := tensor.NewTensor([]int{1}, []float32{0.1})
	require.NoError(t, err)
	data, err := Encode(map[string]*tensor.Tensor{"x": x}, F16)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	require.InDelta(t, 0.1, out["x"].Data[0], 1e-4)
}

func TestDecodeSkipsMetadata(t *testing.T) {
	header := []byte(`{"__metadata__":{"format":"pt"},"a":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}`)
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	data = append(data, 0, 0, 0x80, 0x3f) // 1.0

	out, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []float32{1}, out["a"].Data)
}

func TestDecodeRejectsCorruptFiles(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)

	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 1000)
	_, err = Decode(data)
	require.Error(t, err)

	header := []byte(`{"a":{"dtype":"F32","shape":[2],"data_offsets":[0,4]}}`)
	data = make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	data = append(data, 0, 0, 0, 0)
	_, err = Decode(data)
	require.Error(t, err)

	header = []byte(`{"a":{"dtype":"I8","shape":[1],"data_offsets":[0,1]}}`)
	data = make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	data = append(data, 0)
	_, err = Decode(data)
	require.Error(t, err)
}
