package tensor

import (
	"fmt"
)

// AddOp implements the Operation interface for element-wise addition
type AddOp struct {
	a, b *Tensor
}

// Add returns a + b for tensors of the same shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Add", a, b); err != nil {
		return nil, err
	}
	out := newResult(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return record(out, &AddOp{a: a, b: b}), nil
}

func (op *AddOp) Name() string      { return "Add" }
func (op *AddOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut, gradOut}, nil
}

// SubOp implements the Operation interface for element-wise subtraction
type SubOp struct {
	a, b *Tensor
}

// Sub returns a - b for tensors of the same shape.
func Sub(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Sub", a, b); err != nil {
		return nil, err
	}
	out := newResult(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return record(out, &SubOp{a: a, b: b}), nil
}

func (op *SubOp) Name() string      { return "Sub" }
func (op *SubOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	var gb *Tensor
	if op.b.requiresGrad {
		gb = newResult(gradOut.Shape)
		for i, g := range gradOut.Data {
			gb.Data[i] = -g
		}
	}
	return []*Tensor{gradOut, gb}, nil
}

// MulOp implements the Operation interface for element-wise multiplication
type MulOp struct {
	a, b *Tensor
}

// Mul returns the elementwise product of a and b.
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Mul", a, b); err != nil {
		return nil, err
	}
	out := newResult(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return record(out, &MulOp{a: a, b: b}), nil
}

func (op *MulOp) Name() string      { return "Mul" }
func (op *MulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	var ga, gb *Tensor
	if op.a.requiresGrad {
		ga = newResult(gradOut.Shape)
		for i, g := range gradOut.Data {
			ga.Data[i] = g * op.b.Data[i]
		}
	}
	if op.b.requiresGrad {
		gb = newResult(gradOut.Shape)
		for i, g := range gradOut.Data {
			gb.Data[i] = g * op.a.Data[i]
		}
	}
	return []*Tensor{ga, gb}, nil
}

// ScaleOp implements the Operation interface for multiplication by a constant
type ScaleOp struct {
	input  *Tensor
	factor float32
}

// Scale returns a * factor.
func Scale(a *Tensor, factor float32) *Tensor {
	out := newResult(a.Shape)
	for i, v := range a.Data {
		out.Data[i] = v * factor
	}
	return record(out, &ScaleOp{input: a, factor: factor})
}

func (op *ScaleOp) Name() string      { return "Scale" }
func (op *ScaleOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{Scale(gradOut, op.factor)}, nil
}

// AddScalarOp implements the Operation interface for addition of a constant
type AddScalarOp struct {
	input *Tensor
}

// AddScalar returns a + value.
func AddScalar(a *Tensor, value float32) *Tensor {
	out := newResult(a.Shape)
	for i, v := range a.Data {
		out.Data[i] = v + value
	}
	return record(out, &AddScalarOp{input: a})
}

func (op *AddScalarOp) Name() string      { return "AddScalar" }
func (op *AddScalarOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *AddScalarOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut}, nil
}

// SumOp implements the Operation interface for full reductions. Mean is a
// SumOp with scale 1/n.
type SumOp struct {
	input *Tensor
	scale float32
}

// Sum reduces every element into a [1] tensor.
func Sum(a *Tensor) *Tensor {
	return reduce(a, 1)
}

// Mean returns the mean of all elements as a scalar.
func Mean(a *Tensor) *Tensor {
	return reduce(a, 1/float32(a.NumElems))
}

func reduce(a *Tensor, scale float32) *Tensor {
	var acc float64
	for _, v := range a.Data {
		acc += float64(v)
	}
	out := Scalar(float32(acc) * scale)
	return record(out, &SumOp{input: a, scale: scale})
}

func (op *SumOp) Name() string      { return "Sum" }
func (op *SumOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	v := gradOut.Data[0] * op.scale
	for i := range g.Data {
		g.Data[i] = v
	}
	return []*Tensor{g}, nil
}

// SumSquaresOp implements the Operation interface for sum(a^2), the L2
// penalty kernel.
type SumSquaresOp struct {
	input *Tensor
}

// SumSquares returns the sum of squared elements as a scalar.
func SumSquares(a *Tensor) *Tensor {
	var acc float64
	for _, v := range a.Data {
		acc += float64(v) * float64(v)
	}
	return record(Scalar(float32(acc)), &SumSquaresOp{input: a})
}

func (op *SumSquaresOp) Name() string      { return "SumSquares" }
func (op *SumSquaresOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *SumSquaresOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	s := 2 * gradOut.Data[0]
	for i, v := range op.input.Data {
		g.Data[i] = s * v
	}
	return []*Tensor{g}, nil
}

// ConcatOp implements the Operation interface for concatenation along the
// last axis.
type ConcatOp struct {
	inputs []*Tensor
}

// Concat joins tensors along their last axis. All leading dimensions must
// match.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Concat: no inputs")
	}
	first := ts[0]
	rank := len(first.Shape)
	total := 0
	for _, t := range ts {
		if len(t.Shape) != rank {
			return nil, shapeError("Concat", first.Shape, t.Shape)
		}
		for d := 0; d < rank-1; d++ {
			if t.Shape[d] != first.Shape[d] {
				return nil, shapeError("Concat", first.Shape, t.Shape)
			}
		}
		total += t.Shape[rank-1]
	}

	shape := append([]int(nil), first.Shape...)
	shape[rank-1] = total
	out := newResult(shape)
	rows := first.NumElems / first.Shape[rank-1]
	off := 0
	for _, t := range ts {
		c := t.Shape[rank-1]
		for r := 0; r < rows; r++ {
			copy(out.Data[r*total+off:r*total+off+c], t.Data[r*c:(r+1)*c])
		}
		off += c
	}
	return record(out, &ConcatOp{inputs: append([]*Tensor(nil), ts...)}), nil
}

func (op *ConcatOp) Name() string      { return "Concat" }
func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rank := len(gradOut.Shape)
	total := gradOut.Shape[rank-1]
	rows := gradOut.NumElems / total
	grads := make([]*Tensor, len(op.inputs))
	off := 0
	for i, t := range op.inputs {
		c := t.Shape[rank-1]
		if t.requiresGrad {
			g := newResult(t.Shape)
			for r := 0; r < rows; r++ {
				copy(g.Data[r*c:(r+1)*c], gradOut.Data[r*total+off:r*total+off+c])
			}
			grads[i] = g
		}
		off += c
	}
	return grads, nil
}
