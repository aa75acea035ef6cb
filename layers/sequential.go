package layers

import (
	"github.com/tsawler/go-srgan/tensor"
)

// Sequential chains layers. It is itself a Layer of type Block, so blocks
// nest.
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential chains layers in order.
func NewSequential(name string, ls ...Layer) *Sequential {
	return &Sequential{name: name, layers: ls}
}

// Add appends layers and returns the receiver for chaining.
func (s *Sequential) Add(ls ...Layer) *Sequential {
	s.layers = append(s.layers, ls...)
	return s
}

// Layers returns the chained layers.
func (s *Sequential) Layers() []Layer { return s.layers }

// Forward runs every layer in order.
func (s *Sequential) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	var err error
	for _, l := range s.layers {
		if x, err = l.Forward(x, mode); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Parameters returns the parameters of all layers in order.
func (s *Sequential) Parameters() []*Parameter {
	var out []*Parameter
	for _, l := range s.layers {
		out = append(out, l.Parameters()...)
	}
	return out
}

// Buffers returns the buffers of all layers in order.
func (s *Sequential) Buffers() []*Parameter {
	var out []*Parameter
	for _, l := range s.layers {
		out = append(out, l.Buffers()...)
	}
	return out
}

// Spec describes the chain as a single block.
func (s *Sequential) Spec() LayerSpec {
	return LayerSpec{Type: Block, Name: s.name, Parameters: map[string]interface{}{"layers": len(s.layers)}}
}

// OutputShape propagates in through every layer.
func (s *Sequential) OutputShape(in []int) ([]int, error) {
	shape := in
	var err error
	for _, l := range s.layers {
		if shape, err = l.OutputShape(shape); err != nil {
			return nil, err
		}
	}
	return shape, nil
}
