package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-srgan/nets"
)

// Binary checkpoints are a magic prefix followed by one protobuf message:
//
//	Checkpoint     { 1 architecture, 2 weights*, 3 buffers*, 4 training_state,
//	                 5 optimizer_state, 6 metadata }
//	Tensor         { 1 name, 2 shape (packed), 3 data_f32, 4 data_f16,
//	                 5 layer, 6 type, 7 state_type }
//	OptimizerState { 1 type, 2 parameters (JSON), 3 tensors* }
var binaryMagic = []byte("SRGANCK1")

func marshalBinary(cp *Checkpoint, half bool) ([]byte, error) {
	b := append([]byte(nil), binaryMagic...)
	b = appendMessage(b, 1, appendArchitecture(nil, cp.Architecture))
	for _, w := range cp.Weights {
		b = appendMessage(b, 2, appendWeight(nil, w, half))
	}
	for _, w := range cp.Buffers {
		b = appendMessage(b, 3, appendWeight(nil, w, half))
	}
	b = appendMessage(b, 4, appendTrainingState(nil, cp.TrainingState))
	if cp.OptimizerState != nil {
		opt, err := appendOptimizerState(nil, cp.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 5, opt)
	}
	b = appendMessage(b, 6, appendMetadata(nil, cp.Metadata))
	return b, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, f float32) []byte {
	if f == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

func appendShape(b []byte, num protowire.Number, shape []int) []byte {
	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	return appendMessage(b, num, packed)
}

func appendFloats(b []byte, num protowire.Number, data []float32, half bool) []byte {
	if half {
		raw := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(v).Bits())
		}
		return appendMessage(b, num+1, raw)
	}
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return appendMessage(b, num, raw)
}

func appendArchitecture(b []byte, a nets.Architecture) []byte {
	b = appendString(b, 1, string(a.Kind))
	b = appendVarint(b, 2, uint64(a.Channels))
	b = appendVarint(b, 3, uint64(a.InputSize))
	b = appendVarint(b, 4, uint64(a.Scale))
	b = appendVarint(b, 5, uint64(a.Width))
	b = appendVarint(b, 6, uint64(a.Depth))
	b = appendVarint(b, 7, uint64(a.Growth))
	b = appendVarint(b, 8, uint64(a.UpsampleWidth))
	b = appendFloat(b, 9, a.ResidualScale)
	b = appendFloat(b, 10, a.WeightDecay)
	b = appendVarint(b, 11, protowire.EncodeBool(a.BatchNorm))
	b = appendFloat(b, 12, a.Momentum)
	return appendString(b, 13, a.FeatureLayer)
}

func appendWeight(b []byte, w WeightTensor, half bool) []byte {
	b = appendString(b, 1, w.Name)
	b = appendShape(b, 2, w.Shape)
	b = appendFloats(b, 3, w.Data, half)
	b = appendString(b, 5, w.Layer)
	return appendString(b, 6, w.Type)
}

func appendTrainingState(b []byte, s TrainingState) []byte {
	b = appendVarint(b, 1, uint64(s.Epoch))
	b = appendFloat(b, 2, s.LearningRate)
	b = appendFloat(b, 3, s.DLoss)
	return appendFloat(b, 4, s.GLoss)
}

func appendOptimizerState(b []byte, s *OptimizerState) ([]byte, error) {
	b = appendString(b, 1, s.Type)
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode optimizer parameters: %w", err)
	}
	b = appendMessage(b, 2, params)
	for _, t := range s.StateData {
		var m []byte
		m = appendString(m, 1, t.Name)
		m = appendShape(m, 2, t.Shape)
		m = appendFloats(m, 3, t.Data, false)
		m = appendString(m, 7, t.StateType)
		b = appendMessage(b, 3, m)
	}
	return b, nil
}

func appendMetadata(b []byte, m CheckpointMetadata) []byte {
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	b = appendString(b, 3, m.RunID)
	if !m.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, 5, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

// field is one decoded key/value of a protobuf message.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) float() float32 { return math.Float32frombits(f.fixed32) }

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

// fields calls fn for every field of msg in order. Unknown wire types are
// skipped.
func fields(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(msg)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(msg)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalBinary(data []byte) (*Checkpoint, error) {
	if !bytes.HasPrefix(data, binaryMagic) {
		return nil, fmt.Errorf("not a binary checkpoint")
	}
	cp := &Checkpoint{}
	err := fields(data[len(binaryMagic):], func(f field) error {
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		switch f.num {
		case 1:
			return decodeArchitecture(f.bytes, &cp.Architecture)
		case 2, 3:
			w, err := decodeWeight(f.bytes)
			if err != nil {
				return err
			}
			if f.num == 2 {
				cp.Weights = append(cp.Weights, w)
			} else {
				cp.Buffers = append(cp.Buffers, w)
			}
		case 4:
			return decodeTrainingState(f.bytes, &cp.TrainingState)
		case 5:
			s, err := decodeOptimizerState(f.bytes)
			if err != nil {
				return err
			}
			cp.OptimizerState = s
		case 6:
			return decodeMetadata(f.bytes, &cp.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func decodeArchitecture(msg []byte, a *nets.Architecture) error {
	return fields(msg, func(f field) error {
		switch f.num {
		case 1:
			a.Kind = nets.Kind(f.bytes)
		case 2:
			a.Channels = int(f.varint)
		case 3:
			a.InputSize = int(f.varint)
		case 4:
			a.Scale = int(f.varint)
		case 5:
			a.Width = int(f.varint)
		case 6:
			a.Depth = int(f.varint)
		case 7:
			a.Growth = int(f.varint)
		case 8:
			a.UpsampleWidth = int(f.varint)
		case 9:
			a.ResidualScale = f.float()
		case 10:
			a.WeightDecay = f.float()
		case 11:
			a.BatchNorm = protowire.DecodeBool(f.varint)
		case 12:
			a.Momentum = f.float()
		case 13:
			a.FeatureLayer = string(f.bytes)
		}
		return nil
	})
}

func decodeShape(packed []byte) ([]int, error) {
	var shape []int
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shape = append(shape, int(v))
		packed = packed[n:]
	}
	return shape, nil
}

func decodeFloats(raw []byte, half bool) ([]float32, error) {
	size := 4
	if half {
		size = 2
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("tensor payload of %d bytes is not a multiple of %d", len(raw), size)
	}
	out := make([]float32, len(raw)/size)
	for i := range out {
		if half {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		} else {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return out, nil
}

// decodeTensor reads the Tensor message shared by weights and optimizer
// state.
func decodeTensor(msg []byte) (w WeightTensor, stateType string, err error) {
	err = fields(msg, func(f field) error {
		var err error
		switch f.num {
		case 1:
			w.Name = string(f.bytes)
		case 2:
			w.Shape, err = decodeShape(f.bytes)
		case 3, 4:
			w.Data, err = decodeFloats(f.bytes, f.num == 4)
		case 5:
			w.Layer = string(f.bytes)
		case 6:
			w.Type = string(f.bytes)
		case 7:
			stateType = string(f.bytes)
		}
		return err
	})
	if err != nil {
		return WeightTensor{}, "", err
	}
	numel := 1
	for _, d := range w.Shape {
		numel *= d
	}
	if numel != len(w.Data) {
		return WeightTensor{}, "", fmt.Errorf("tensor %q: shape %v holds %d values, payload has %d", w.Name, w.Shape, numel, len(w.Data))
	}
	return w, stateType, nil
}

func decodeWeight(msg []byte) (WeightTensor, error) {
	w, _, err := decodeTensor(msg)
	return w, err
}

func decodeTrainingState(msg []byte, s *TrainingState) error {
	return fields(msg, func(f field) error {
		switch f.num {
		case 1:
			s.Epoch = int(f.varint)
		case 2:
			s.LearningRate = f.float()
		case 3:
			s.DLoss = f.float()
		case 4:
			s.GLoss = f.float()
		}
		return nil
	})
}

func decodeOptimizerState(msg []byte) (*OptimizerState, error) {
	s := &OptimizerState{}
	err := fields(msg, func(f field) error {
		switch f.num {
		case 1:
			s.Type = string(f.bytes)
		case 2:
			if err := json.Unmarshal(f.bytes, &s.Parameters); err != nil {
				return fmt.Errorf("decode optimizer parameters: %w", err)
			}
		case 3:
			w, stateType, err := decodeTensor(f.bytes)
			if err != nil {
				return err
			}
			s.StateData = append(s.StateData, OptimizerTensor{
				Name:      w.Name,
				Shape:     w.Shape,
				Data:      w.Data,
				StateType: stateType,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decodeMetadata(msg []byte, m *CheckpointMetadata) error {
	return fields(msg, func(f field) error {
		switch f.num {
		case 1:
			m.Version = string(f.bytes)
		case 2:
			m.Framework = string(f.bytes)
		case 3:
			m.RunID = string(f.bytes)
		case 4:
			m.CreatedAt = time.Unix(0, protowire.DecodeZigZag(f.varint))
		case 5:
			m.Description = string(f.bytes)
		case 6:
			m.Tags = append(m.Tags, string(f.bytes))
		}
		return nil
	})
}
