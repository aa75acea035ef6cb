// Package weights reads and writes named float tensors in the safetensors
// format: an 8-byte little-endian header length, a JSON header mapping names
// to dtype, shape and byte offsets, then the raw tensor bytes.
package weights

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/tsawler/go-srgan/tensor"
)

// DType names a stored element type.
type DType string

const (
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
)

func (d DType) size() (int, error) {
	switch d {
	case F32:
		return 4, nil
	case F16, BF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", d)
	}
}

type tensorInfo struct {
	DType       DType  `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

const metadataKey = "__metadata__"

// Load reads every tensor in the file as float32.
func Load(path string) (map[string]*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses an in-memory safetensors blob.
func Decode(data []byte) (map[string]*tensor.Tensor, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}
	body := data[8+headerLen:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	out := make(map[string]*tensor.Tensor, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("safetensors: parse tensor %s: %w", name, err)
		}
		t, err := decodeTensor(name, info, body)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func decodeTensor(name string, info tensorInfo, body []byte) (*tensor.Tensor, error) {
	size, err := info.DType.size()
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}
	numel := 1
	for _, d := range info.Shape {
		numel *= d
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end > len(body) || end-start != numel*size {
		return nil, fmt.Errorf("safetensors: tensor %s: offsets [%d, %d) do not hold %d %s elements", name, start, end, numel, info.DType)
	}
	raw := body[start:end]

	values := make([]float32, numel)
	switch info.DType {
	case F32:
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F16:
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BF16:
		values = bfloat16.DecodeFloat32(raw)
	}

	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.NewTensor(shape, values)
}

// Save writes tensors to path with every element stored as dtype.
func Save(path string, tensors map[string]*tensor.Tensor, dtype DType) error {
	data, err := Encode(tensors, dtype)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode serialises tensors in name order so output is deterministic.
func Encode(tensors map[string]*tensor.Tensor, dtype DType) ([]byte, error) {
	size, err := dtype.size()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	var body bytes.Buffer
	for _, name := range names {
		t := tensors[name]
		start := body.Len()
		switch dtype {
		case F32:
			buf := make([]byte, 4*len(t.Data))
			for i, v := range t.Data {
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			}
			body.Write(buf)
		case F16:
			buf := make([]byte, 2*len(t.Data))
			for i, v := range t.Data {
				binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
			}
			body.Write(buf)
		case BF16:
			body.Write(bfloat16.EncodeFloat32(t.Data))
		}
		header[name] = tensorInfo{
			DType:       dtype,
			Shape:       append([]int(nil), t.Shape...),
			DataOffsets: [2]int{start, start + size*len(t.Data)},
		}
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}
	out := make([]byte, 8, 8+len(hdr)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	return append(out, body.Bytes()...), nil
}
