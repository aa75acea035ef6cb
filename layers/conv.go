package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/tensor"
)

// ConvConfig is the shared configuration of convolution layers.
type ConvConfig struct {
	KernelSize  int
	Stride      int
	Padding     tensor.Padding
	Initializer Initializer
	Regularizer Regularizer
	UseBias     bool
}

// DefaultConvConfig is a 3x3, stride 1, same-padded convolution with bias and
// Glorot-uniform kernels.
func DefaultConvConfig() ConvConfig {
	return ConvConfig{
		KernelSize:  3,
		Stride:      1,
		Padding:     tensor.PaddingSame,
		Initializer: GlorotUniform(),
		UseBias:     true,
	}
}

type Conv2DLayer struct {
	name       string
	inChannels int
	filters    int
	config     ConvConfig
	kernel     *Parameter
	bias       *Parameter
}

// NewConv2D creates a convolution from inChannels to filters channels.
func NewConv2D(name string, inChannels, filters int, config ConvConfig, rng *rand.Rand) (*Conv2DLayer, error) {
	if inChannels <= 0 || filters <= 0 {
		return nil, fmt.Errorf("%s: channels must be positive, got in=%d filters=%d", name, inChannels, filters)
	}
	if config.KernelSize <= 0 {
		return nil, fmt.Errorf("%s: kernel size must be positive, got %d", name, config.KernelSize)
	}
	if config.Stride == 0 {
		config.Stride = 1
	}
	if config.Initializer == nil {
		config.Initializer = GlorotUniform()
	}

	w, err := config.Initializer.Initialize([]int{config.KernelSize, config.KernelSize, inChannels, filters}, rng)
	if err != nil {
		return nil, wrap(name, err)
	}
	l := &Conv2DLayer{
		name:       name,
		inChannels: inChannels,
		filters:    filters,
		config:     config,
		kernel:     NewParameter(name+".kernel", w, true),
	}
	l.kernel.Regularizer = config.Regularizer
	if config.UseBias {
		b, _ := tensor.Zeros([]int{filters})
		l.bias = NewParameter(name+".bias", b, true)
	}
	return l, nil
}

// Forward convolves an NHWC batch.
func (l *Conv2DLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if x.Rank() != 4 || channelsOf(x.Shape) != l.inChannels {
		return nil, fmt.Errorf("%s: expected [N H W %d], got %v: %w", l.name, l.inChannels, x.Shape, tensor.ErrShapeMismatch)
	}
	var b *tensor.Tensor
	if l.bias != nil {
		b = l.bias.value(mode)
	}
	y, err := tensor.Conv2D(x, l.kernel.value(mode), b, l.config.Stride, l.config.Padding)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns the kernel and, when present, the bias.
func (l *Conv2DLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.kernel}
	}
	return []*Parameter{l.kernel, l.bias}
}

// Buffers returns nil.
func (l *Conv2DLayer) Buffers() []*Parameter { return nil }

// Kernel returns the (KH, KW, C, F) kernel parameter.
func (l *Conv2DLayer) Kernel() *Parameter { return l.kernel }
// Bias returns the bias parameter, or nil.
func (l *Conv2DLayer) Bias() *Parameter   { return l.bias }

// Spec describes the convolution for summaries and checkpoints.
func (l *Conv2DLayer) Spec() LayerSpec {
	return LayerSpec{
		Type: Conv2D,
		Name: l.name,
		Parameters: map[string]interface{}{
			"input_channels":  l.inChannels,
			"output_channels": l.filters,
			"kernel_size":     l.config.KernelSize,
			"stride":          l.config.Stride,
			"padding":         l.config.Padding.String(),
			"use_bias":        l.config.UseBias,
		},
	}
}

// OutputShape computes the spatial output size for the configured stride and padding.
func (l *Conv2DLayer) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[3] != l.inChannels {
		return nil, fmt.Errorf("%s: expected [N H W %d], got %v: %w", l.name, l.inChannels, in, tensor.ErrShapeMismatch)
	}
	k, s := l.config.KernelSize, l.config.Stride
	out := []int{in[0], 0, 0, l.filters}
	for i := 1; i <= 2; i++ {
		if l.config.Padding == tensor.PaddingValid {
			if in[i] < k {
				return nil, fmt.Errorf("%s: input %v smaller than kernel %d: %w", l.name, in, k, tensor.ErrShapeMismatch)
			}
			out[i] = (in[i]-k)/s + 1
		} else {
			out[i] = (in[i] + s - 1) / s
		}
	}
	return out, nil
}

type DenseLayer struct {
	name   string
	in     int
	units  int
	kernel *Parameter
	bias   *Parameter
}

// NewDense creates a fully connected layer with Glorot-uniform kernel and
// zero bias.
func NewDense(name string, in, units int, useBias bool, rng *rand.Rand) (*DenseLayer, error) {
	if in <= 0 || units <= 0 {
		return nil, fmt.Errorf("%s: sizes must be positive, got in=%d units=%d", name, in, units)
	}
	w, err := GlorotUniform().Initialize([]int{in, units}, rng)
	if err != nil {
		return nil, wrap(name, err)
	}
	l := &DenseLayer{name: name, in: in, units: units, kernel: NewParameter(name+".kernel", w, true)}
	if useBias {
		b, _ := tensor.Zeros([]int{units})
		l.bias = NewParameter(name+".bias", b, true)
	}
	return l, nil
}

// Forward computes x*W + b for a (N, in) batch.
func (l *DenseLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if x.Rank() != 2 || x.Shape[1] != l.in {
		return nil, fmt.Errorf("%s: expected [N %d], got %v: %w", l.name, l.in, x.Shape, tensor.ErrShapeMismatch)
	}
	var b *tensor.Tensor
	if l.bias != nil {
		b = l.bias.value(mode)
	}
	y, err := tensor.Dense(x, l.kernel.value(mode), b)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	return y, nil
}

// Parameters returns the weights and, when present, the bias.
func (l *DenseLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.kernel}
	}
	return []*Parameter{l.kernel, l.bias}
}

// Buffers returns nil.
func (l *DenseLayer) Buffers() []*Parameter { return nil }

// Spec describes the layer for summaries and checkpoints.
func (l *DenseLayer) Spec() LayerSpec {
	return LayerSpec{
		Type: Dense,
		Name: l.name,
		Parameters: map[string]interface{}{
			"input_size":  l.in,
			"output_size": l.units,
			"use_bias":    l.bias != nil,
		},
	}
}

// OutputShape returns (N, units).
func (l *DenseLayer) OutputShape(in []int) ([]int, error) {
	if len(in) != 2 || in[1] != l.in {
		return nil, fmt.Errorf("%s: expected [N %d], got %v: %w", l.name, l.in, in, tensor.ErrShapeMismatch)
	}
	return []int{in[0], l.units}, nil
}
