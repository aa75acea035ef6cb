package layers

import (
	"fmt"

	"github.com/tsawler/go-srgan/tensor"
)

// ActivationLayer applies a parameter-free element-wise activation.
type ActivationLayer struct {
	name  string
	kind  LayerType
	alpha float32
}

// NewReLU creates max(x, 0).
func NewReLU(name string) *ActivationLayer {
	return &ActivationLayer{name: name, kind: ReLU}
}

// NewLeakyReLU creates max(x, alpha*x) with alpha typically 0.2.
func NewLeakyReLU(name string, alpha float32) *ActivationLayer {
	return &ActivationLayer{name: name, kind: LeakyReLU, alpha: alpha}
}

// NewTanh creates a hyperbolic tangent activation.
func NewTanh(name string) *ActivationLayer {
	return &ActivationLayer{name: name, kind: Tanh}
}

// NewSigmoid creates a logistic activation.
func NewSigmoid(name string) *ActivationLayer {
	return &ActivationLayer{name: name, kind: Sigmoid}
}

// Forward applies the activation elementwise.
func (l *ActivationLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	switch l.kind {
	case ReLU:
		return tensor.ReLU(x), nil
	case LeakyReLU:
		return tensor.LeakyReLU(x, l.alpha), nil
	case Tanh:
		return tensor.Tanh(x), nil
	case Sigmoid:
		return tensor.Sigmoid(x), nil
	default:
		return nil, fmt.Errorf("%s: unsupported activation %s", l.name, l.kind)
	}
}

// Parameters returns nil; activations have no parameters.
func (l *ActivationLayer) Parameters() []*Parameter { return nil }
// Buffers returns nil.
func (l *ActivationLayer) Buffers() []*Parameter    { return nil }

// Spec describes the activation for summaries.
func (l *ActivationLayer) Spec() LayerSpec {
	params := map[string]interface{}{}
	if l.kind == LeakyReLU {
		params["negative_slope"] = l.alpha
	}
	return LayerSpec{Type: l.kind, Name: l.name, Parameters: params}
}

// OutputShape returns the input shape unchanged.
func (l *ActivationLayer) OutputShape(in []int) ([]int, error) {
	return append([]int(nil), in...), nil
}

// PReLULayer learns one negative slope per channel, shared across the
// spatial axes. Slopes start at zero.
type PReLULayer struct {
	name     string
	channels int
	alpha    *Parameter
}

// NewPReLU creates a parametric ReLU with one learned slope per channel, initialised to zero.
func NewPReLU(name string, channels int) (*PReLULayer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%s: channels must be positive, got %d", name, channels)
	}
	alpha, _ := tensor.Zeros([]int{channels})
	return &PReLULayer{name: name, channels: channels, alpha: NewParameter(name+".alpha", alpha, true)}, nil
}

// Forward applies max(x, 0) + alpha*min(x, 0) per channel.
func (l *PReLULayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := tensor.PReLU(x, l.alpha.value(mode))
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns the per-channel slopes.
func (l *PReLULayer) Parameters() []*Parameter { return []*Parameter{l.alpha} }
// Buffers returns nil.
func (l *PReLULayer) Buffers() []*Parameter    { return nil }

// Spec describes the layer for summaries.
func (l *PReLULayer) Spec() LayerSpec {
	return LayerSpec{Type: PReLU, Name: l.name, Parameters: map[string]interface{}{"channels": l.channels}}
}

// OutputShape returns the input shape unchanged.
func (l *PReLULayer) OutputShape(in []int) ([]int, error) {
	if channelsOf(in) != l.channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %v: %w", l.name, l.channels, in, tensor.ErrShapeMismatch)
	}
	return append([]int(nil), in...), nil
}
