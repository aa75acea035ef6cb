package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Reshape returns a tensor sharing t's data under a new shape. One dimension
// may be -1 and is inferred. Gradients flow back through the reshape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := append([]int(nil), newShape...)
	known := 1
	inferAt := -1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if inferAt >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			inferAt = i
		case dim <= 0:
			return nil, fmt.Errorf("invalid dimension %d at index %d", dim, i)
		default:
			known *= dim
		}
	}
	if inferAt >= 0 {
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into %v: %w", t.NumElems, newShape, ErrShapeMismatch)
		}
		shape[inferAt] = t.NumElems / known
		known *= shape[inferAt]
	}
	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into %v: %w", t.NumElems, newShape, ErrShapeMismatch)
	}

	out := &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
	return record(out, &ReshapeOp{input: t}), nil
}

// ReshapeOp implements the Operation interface for Reshape and Flatten
type ReshapeOp struct {
	input *Tensor
}

func (op *ReshapeOp) Name() string      { return "Reshape" }
func (op *ReshapeOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := &Tensor{
		Shape:    append([]int(nil), op.input.Shape...),
		Strides:  append([]int(nil), op.input.Strides...),
		Data:     gradOut.Data,
		NumElems: gradOut.NumElems,
	}
	return []*Tensor{g}, nil
}

// Flatten collapses every axis after the first: [B, ...] -> [B, N].
func Flatten(t *Tensor) (*Tensor, error) {
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("Flatten: need rank >= 2, got %v: %w", t.Shape, ErrShapeMismatch)
	}
	return t.Reshape([]int{t.Shape[0], -1})
}

// Clone copies shape and data. The clone is a leaf without gradient state.
func (t *Tensor) Clone() *Tensor {
	out := newResult(t.Shape)
	copy(out.Data, t.Data)
	return out
}

// Detach returns a view over the same data that is cut from the autograd
// graph. Writes to either tensor's data are visible through the other.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item: tensor has %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	off, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[off], nil
}

// SetAt sets the element at the given indices.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	off, err := t.offset(indices)
	if err != nil {
		return err
	}
	t.Data[off] = value
	return nil
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		off += idx * t.Strides[i]
	}
	return off, nil
}

// HasNonFinite reports whether any element is NaN or infinite.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (float32, float32) {
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range t.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// PrintData formats at most maxElements values for debugging.
func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\nData: [")
	n := t.NumElems
	if maxElements > 0 && n > maxElements {
		n = maxElements
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%.4f", t.Data[i])
	}
	if n < t.NumElems {
		fmt.Fprintf(&sb, ", ... (%d more)", t.NumElems-n)
	}
	sb.WriteString("]")
	return sb.String()
}
