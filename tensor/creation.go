package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor wraps data in a tensor of the given shape. A nil data slice
// allocates zeros; otherwise the slice is used without copying.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// Ones creates a tensor filled with ones.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// Scalar returns a tensor of shape [1].
func Scalar(value float32) *Tensor {
	t := newResult([]int{1})
	t.Data[0] = value
	return t
}

// RandomUniform samples U[low, high) from rng.
func RandomUniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	if high < low {
		return nil, fmt.Errorf("RandomUniform: high %v below low %v", high, low)
	}
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	span := high - low
	for i := range t.Data {
		t.Data[i] = low + rng.Float32()*span
	}
	return t, nil
}

// RandomNormal creates a tensor with values drawn from N(mean, std^2).
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())*std + mean
	}
	return t, nil
}
