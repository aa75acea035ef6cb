package tensor

import (
	"fmt"
	"math"
)

// LeakyReLUOp implements the Operation interface for ReLU and LeakyReLU.
// ReLU is a LeakyReLU with zero slope.
type LeakyReLUOp struct {
	input *Tensor
	alpha float32
}

// ReLU returns max(x, 0).
func ReLU(x *Tensor) *Tensor {
	return LeakyReLU(x, 0)
}

// LeakyReLU returns x for x > 0 and alpha*x otherwise.
func LeakyReLU(x *Tensor, alpha float32) *Tensor {
	out := newResult(x.Shape)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = alpha * v
		}
	}
	return record(out, &LeakyReLUOp{input: x, alpha: alpha})
}

func (op *LeakyReLUOp) Name() string      { return "LeakyReLU" }
func (op *LeakyReLUOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *LeakyReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	for i, v := range op.input.Data {
		if v > 0 {
			g.Data[i] = gradOut.Data[i]
		} else {
			g.Data[i] = op.alpha * gradOut.Data[i]
		}
	}
	return []*Tensor{g}, nil
}

// PReLUOp implements the Operation interface for parametric ReLU with one
// learnable slope per channel (last axis).
type PReLUOp struct {
	input, alpha *Tensor
}

// PReLU applies max(0,x) + alpha[c]*min(0,x). alpha has shape [C] where C is
// the last dimension of x; the slope is shared over every other axis.
func PReLU(x, alpha *Tensor) (*Tensor, error) {
	c := x.Shape[len(x.Shape)-1]
	if alpha.NumElems != c {
		return nil, fmt.Errorf("PReLU: alpha %v for input %v: %w", alpha.Shape, x.Shape, ErrShapeMismatch)
	}
	out := newResult(x.Shape)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = alpha.Data[i%c] * v
		}
	}
	return record(out, &PReLUOp{input: x, alpha: alpha}), nil
}

func (op *PReLUOp) Name() string      { return "PReLU" }
func (op *PReLUOp) Inputs() []*Tensor { return []*Tensor{op.input, op.alpha} }

func (op *PReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	c := op.alpha.NumElems
	gx := newResult(op.input.Shape)
	ga := newResult(op.alpha.Shape)
	for i, v := range op.input.Data {
		g := gradOut.Data[i]
		if v > 0 {
			gx.Data[i] = g
		} else {
			gx.Data[i] = op.alpha.Data[i%c] * g
			ga.Data[i%c] += g * v
		}
	}
	return []*Tensor{gx, ga}, nil
}

// TanhOp implements the Operation interface for tanh
type TanhOp struct {
	input, output *Tensor
}

// Tanh returns the elementwise hyperbolic tangent.
func Tanh(x *Tensor) *Tensor {
	out := newResult(x.Shape)
	for i, v := range x.Data {
		out.Data[i] = float32(math.Tanh(float64(v)))
	}
	return record(out, &TanhOp{input: x, output: out})
}

func (op *TanhOp) Name() string      { return "Tanh" }
func (op *TanhOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *TanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	for i, y := range op.output.Data {
		g.Data[i] = gradOut.Data[i] * (1 - y*y)
	}
	return []*Tensor{g}, nil
}

// SigmoidOp implements the Operation interface for the logistic function
type SigmoidOp struct {
	input, output *Tensor
}

// Sigmoid returns 1 / (1 + exp(-x)).
func Sigmoid(x *Tensor) *Tensor {
	out := newResult(x.Shape)
	for i, v := range x.Data {
		out.Data[i] = sigmoid(v)
	}
	return record(out, &SigmoidOp{input: x, output: out})
}

func sigmoid(v float32) float32 {
	if v >= 0 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	}
	e := math.Exp(float64(v))
	return float32(e / (1 + e))
}

func (op *SigmoidOp) Name() string      { return "Sigmoid" }
func (op *SigmoidOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	for i, y := range op.output.Data {
		g.Data[i] = gradOut.Data[i] * y * (1 - y)
	}
	return []*Tensor{g}, nil
}
