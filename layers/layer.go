package layers

import (
	"fmt"

	"github.com/tsawler/go-srgan/tensor"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	MaxPool2D
	BatchNorm
	LeakyReLU
	PReLU
	Tanh
	Sigmoid
	Upsample
	Flatten
	Lambda
	Block
)

// String returns the layer type name used in summaries.
func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case MaxPool2D:
		return "MaxPool2D"
	case BatchNorm:
		return "BatchNorm"
	case LeakyReLU:
		return "LeakyReLU"
	case PReLU:
		return "PReLU"
	case Tanh:
		return "Tanh"
	case Sigmoid:
		return "Sigmoid"
	case Upsample:
		return "Upsample"
	case Flatten:
		return "Flatten"
	case Lambda:
		return "Lambda"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// Mode selects how a module behaves during Forward.
type Mode int

const (
	// Train records gradients for trainable parameters and updates
	// BatchNorm moving statistics.
	Train Mode = iota
	// Frozen lets gradients reach the input but not the parameters.
	// BatchNorm still normalises with batch statistics and leaves its moving
	// statistics untouched.
	Frozen
	// Inference records nothing and uses BatchNorm moving statistics.
	Inference
)

// Input returns the tensor a module should read in this mode. Inference
// detaches it so the output never carries a graph, even for an input that
// requires gradients.
func (m Mode) Input(x *tensor.Tensor) *tensor.Tensor {
	if m == Inference && x != nil && x.RequiresGrad() {
		return x.Detach()
	}
	return x
}

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Frozen:
		return "frozen"
	case Inference:
		return "inference"
	default:
		return "unknown"
	}
}

// Parameter is a named tensor owned by exactly one layer.
type Parameter struct {
	Name        string
	Value       *tensor.Tensor
	Trainable   bool
	Regularizer Regularizer
}

// NewParameter wraps value; trainable values record gradients.
func NewParameter(name string, value *tensor.Tensor, trainable bool) *Parameter {
	value.SetRequiresGrad(trainable)
	return &Parameter{Name: name, Value: value, Trainable: trainable}
}

// value returns the tensor a forward pass should read. Outside of Train mode,
// and for non-trainable parameters, it is a detached view so no gradient is
// ever accumulated on the parameter.
func (p *Parameter) value(mode Mode) *tensor.Tensor {
	if mode == Train && p.Trainable {
		return p.Value
	}
	return p.Value.Detach()
}

// SetTrainable toggles whether the parameter receives gradients.
func (p *Parameter) SetTrainable(trainable bool) {
	p.Trainable = trainable
	p.Value.SetRequiresGrad(trainable)
	if !trainable {
		p.Value.ZeroGrad()
	}
}

// Module is anything that maps a batch to a batch.
type Module interface {
	Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error)
	// Parameters returns learnable weights, trainable or not.
	Parameters() []*Parameter
	// Buffers returns state that is persisted but never optimised, such as
	// BatchNorm moving statistics.
	Buffers() []*Parameter
}

// Layer is a Module that can describe itself for summaries and checkpoints.
type Layer interface {
	Module
	Spec() LayerSpec
	OutputShape(input []int) ([]int, error)
}

// LayerSpec is the static description of a layer.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Computed by Compile.
	InputShape     []int `json:"input_shape,omitempty"`
	OutputShape    []int `json:"output_shape,omitempty"`
	ParameterCount int64 `json:"parameter_count,omitempty"`
}

// ModelSpec is the compiled description of a layer stack.
type ModelSpec struct {
	Name                string      `json:"name"`
	Layers              []LayerSpec `json:"layers"`
	TotalParameters     int64       `json:"total_parameters"`
	TrainableParameters int64       `json:"trainable_parameters"`
	InputShape          []int       `json:"input_shape"`
	OutputShape         []int       `json:"output_shape"`
}

// Compile walks ls in forward order, propagating shapes from inputShape and
// counting parameters.
func Compile(name string, inputShape []int, ls []Layer) (*ModelSpec, error) {
	if len(ls) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}

	model := &ModelSpec{
		Name:       name,
		Layers:     make([]LayerSpec, 0, len(ls)),
		InputShape: append([]int(nil), inputShape...),
	}

	current := inputShape
	for i, l := range ls {
		spec := l.Spec()
		out, err := l.OutputShape(current)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %w", i, spec.Name, err)
		}
		spec.InputShape = append([]int(nil), current...)
		spec.OutputShape = out
		for _, p := range l.Parameters() {
			spec.ParameterCount += int64(p.Value.NumElems)
			model.TotalParameters += int64(p.Value.NumElems)
			if p.Trainable {
				model.TrainableParameters += int64(p.Value.NumElems)
			}
		}
		model.Layers = append(model.Layers, spec)
		current = out
	}
	model.OutputShape = append([]int(nil), current...)
	return model, nil
}

// CollectParameters flattens the parameters of several modules.
func CollectParameters(ms ...Module) []*Parameter {
	var out []*Parameter
	for _, m := range ms {
		out = append(out, m.Parameters()...)
	}
	return out
}

// CollectBuffers flattens the buffers of several modules.
func CollectBuffers(ms ...Module) []*Parameter {
	var out []*Parameter
	for _, m := range ms {
		out = append(out, m.Buffers()...)
	}
	return out
}

// Trainable filters params down to the ones an optimizer may update.
func Trainable(params []*Parameter) []*Parameter {
	var out []*Parameter
	for _, p := range params {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

func channelsOf(shape []int) int {
	return shape[len(shape)-1]
}

func wrap(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}
