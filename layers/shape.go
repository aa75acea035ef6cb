package layers

import (
	"fmt"

	"github.com/tsawler/go-srgan/tensor"
)

// UpsampleLayer repeats pixels by an integer factor (nearest neighbour).
type UpsampleLayer struct {
	name   string
	factor int
}

// NewUpsample creates a nearest-neighbour upsampling layer.
func NewUpsample(name string, factor int) *UpsampleLayer {
	return &UpsampleLayer{name: name, factor: factor}
}

// Forward repeats every pixel factor times along both spatial axes.
func (l *UpsampleLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := tensor.UpsampleNearest(x, l.factor)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns nil.
func (l *UpsampleLayer) Parameters() []*Parameter { return nil }
// Buffers returns nil.
func (l *UpsampleLayer) Buffers() []*Parameter    { return nil }

// Spec describes the layer for summaries.
func (l *UpsampleLayer) Spec() LayerSpec {
	return LayerSpec{Type: Upsample, Name: l.name, Parameters: map[string]interface{}{"factor": l.factor}}
}

// OutputShape scales the spatial dimensions by the factor.
func (l *UpsampleLayer) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 {
		return nil, fmt.Errorf("%s: expected rank 4, got %v: %w", l.name, in, tensor.ErrShapeMismatch)
	}
	return []int{in[0], in[1] * l.factor, in[2] * l.factor, in[3]}, nil
}

type MaxPoolLayer struct {
	name         string
	size, stride int
}

// NewMaxPool creates a max pooling layer.
func NewMaxPool(name string, size, stride int) *MaxPoolLayer {
	return &MaxPoolLayer{name: name, size: size, stride: stride}
}

// Forward takes the maximum over each window.
func (l *MaxPoolLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := tensor.MaxPool2D(x, l.size, l.stride)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns nil.
func (l *MaxPoolLayer) Parameters() []*Parameter { return nil }
// Buffers returns nil.
func (l *MaxPoolLayer) Buffers() []*Parameter    { return nil }

// Spec describes the layer for summaries.
func (l *MaxPoolLayer) Spec() LayerSpec {
	return LayerSpec{Type: MaxPool2D, Name: l.name, Parameters: map[string]interface{}{"pool_size": l.size, "stride": l.stride}}
}

// OutputShape returns the pooled shape.
func (l *MaxPoolLayer) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[1] < l.size || in[2] < l.size {
		return nil, fmt.Errorf("%s: cannot pool %v with window %d: %w", l.name, in, l.size, tensor.ErrShapeMismatch)
	}
	return []int{in[0], (in[1]-l.size)/l.stride + 1, (in[2]-l.size)/l.stride + 1, in[3]}, nil
}

type FlattenLayer struct {
	name string
}

// NewFlatten creates a layer reshaping (N, ...) to (N, features).
func NewFlatten(name string) *FlattenLayer {
	return &FlattenLayer{name: name}
}

// Forward flattens all but the batch axis.
func (l *FlattenLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := tensor.Flatten(x)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns nil.
func (l *FlattenLayer) Parameters() []*Parameter { return nil }
// Buffers returns nil.
func (l *FlattenLayer) Buffers() []*Parameter    { return nil }

// Spec describes the layer for summaries.
func (l *FlattenLayer) Spec() LayerSpec {
	return LayerSpec{Type: Flatten, Name: l.name, Parameters: map[string]interface{}{}}
}

// OutputShape returns (N, product of the remaining axes).
func (l *FlattenLayer) OutputShape(in []int) ([]int, error) {
	if len(in) < 2 {
		return nil, fmt.Errorf("%s: need rank >= 2, got %v: %w", l.name, in, tensor.ErrShapeMismatch)
	}
	n := 1
	for _, d := range in[1:] {
		n *= d
	}
	return []int{in[0], n}, nil
}

// LambdaLayer wraps a fixed, parameter-free, shape-preserving function.
type LambdaLayer struct {
	name string
	fn   func(*tensor.Tensor) (*tensor.Tensor, error)
}

// NewLambda wraps a shape-preserving tensor function as a layer.
func NewLambda(name string, fn func(*tensor.Tensor) (*tensor.Tensor, error)) *LambdaLayer {
	return &LambdaLayer{name: name, fn: fn}
}

// Forward applies the wrapped function.
func (l *LambdaLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := l.fn(x)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns nil.
func (l *LambdaLayer) Parameters() []*Parameter { return nil }
// Buffers returns nil.
func (l *LambdaLayer) Buffers() []*Parameter    { return nil }

// Spec describes the layer for summaries.
func (l *LambdaLayer) Spec() LayerSpec {
	return LayerSpec{Type: Lambda, Name: l.name, Parameters: map[string]interface{}{}}
}

// OutputShape returns the input shape unchanged.
func (l *LambdaLayer) OutputShape(in []int) ([]int, error) {
	return append([]int(nil), in...), nil
}
