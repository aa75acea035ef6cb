package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned by every op whose operands have incompatible shapes.
var ErrShapeMismatch = errors.New("shape mismatch")

// Operation is a recorded node of the autograd graph. Backward receives the
// gradient of the node's output and returns one gradient per input, in the
// order of Inputs. A nil entry means the input receives no gradient.
type Operation interface {
	Name() string
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

// Tensor is a dense row-major float32 array. Image batches are laid out NHWC.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

// String returns a short description of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d, requires_grad=%t)", t.Shape, t.NumElems, t.requiresGrad)
}

// RequiresGrad reports whether operations on t are recorded.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks a leaf tensor as a gradient target. Tensors produced
// by ops inherit the flag from their inputs.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Creator returns the op that produced t, or nil for leaves and for tensors
// produced outside of the autograd graph.
func (t *Tensor) Creator() Operation {
	return t.creator
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("dimension %d must be positive, got %d", i, dim)
		}
	}
	return nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func shapeError(op string, a, b []int) error {
	return fmt.Errorf("%s: %v vs %v: %w", op, a, b, ErrShapeMismatch)
}

func checkSameShape(op string, a, b *Tensor) error {
	if !SameShape(a, b) {
		return shapeError(op, a.Shape, b.Shape)
	}
	return nil
}

func checkRank(op string, t *Tensor, rank int) error {
	if len(t.Shape) != rank {
		return fmt.Errorf("%s: expected rank %d, got shape %v: %w", op, rank, t.Shape, ErrShapeMismatch)
	}
	return nil
}

// newResult allocates an output tensor. The shape slice is copied.
func newResult(shape []int) *Tensor {
	s := append([]int(nil), shape...)
	n := calculateNumElements(s)
	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     make([]float32, n),
		NumElems: n,
	}
}

// record attaches op to out when any input participates in autograd.
func record(out *Tensor, op Operation) *Tensor {
	for _, in := range op.Inputs() {
		if in != nil && in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	return out
}

func tracked(ts ...*Tensor) bool {
	for _, t := range ts {
		if t != nil && t.requiresGrad {
			return true
		}
	}
	return false
}
