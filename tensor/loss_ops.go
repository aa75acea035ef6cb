package tensor

import (
	"math"
)

// BCEEpsilon clips probabilities away from 0 and 1 before taking logs.
const BCEEpsilon = 1e-7

type lossKind int

const (
	lossMSE lossKind = iota
	lossMAE
	lossBCE
)

// LossOp implements the Operation interface for mean reductions of
// element-wise losses between a target and a prediction.
type LossOp struct {
	kind          lossKind
	target, input *Tensor
}

// MSE returns mean((pred-target)^2).
func MSE(target, pred *Tensor) (*Tensor, error) {
	return elementLoss(lossMSE, "MSE", target, pred)
}

// MAE returns mean(|pred-target|).
func MAE(target, pred *Tensor) (*Tensor, error) {
	return elementLoss(lossMAE, "MAE", target, pred)
}

// BCE returns the mean binary cross-entropy of probabilities pred against
// soft targets in [0,1]. pred is clipped to [BCEEpsilon, 1-BCEEpsilon];
// clipped elements receive zero gradient.
func BCE(target, pred *Tensor) (*Tensor, error) {
	return elementLoss(lossBCE, "BCE", target, pred)
}

func elementLoss(kind lossKind, name string, target, pred *Tensor) (*Tensor, error) {
	if err := checkSameShape(name, target, pred); err != nil {
		return nil, err
	}
	var acc float64
	for i, p := range pred.Data {
		t := float64(target.Data[i])
		d := float64(p) - t
		switch kind {
		case lossMSE:
			acc += d * d
		case lossMAE:
			acc += math.Abs(d)
		case lossBCE:
			q := clipProb(float64(p))
			acc -= t*math.Log(q) + (1-t)*math.Log(1-q)
		}
	}
	out := Scalar(float32(acc / float64(pred.NumElems)))
	return record(out, &LossOp{kind: kind, target: target, input: pred}), nil
}

func clipProb(p float64) float64 {
	return math.Min(math.Max(p, BCEEpsilon), 1-BCEEpsilon)
}

func (op *LossOp) Name() string {
	switch op.kind {
	case lossMAE:
		return "MAE"
	case lossBCE:
		return "BCE"
	default:
		return "MSE"
	}
}

func (op *LossOp) Inputs() []*Tensor { return []*Tensor{op.target, op.input} }

func (op *LossOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	n := float64(op.input.NumElems)
	scale := float64(gradOut.Data[0]) / n
	gp := newResult(op.input.Shape)
	var gt *Tensor
	if op.target.requiresGrad {
		gt = newResult(op.target.Shape)
	}
	for i, pv := range op.input.Data {
		p := float64(pv)
		t := float64(op.target.Data[i])
		var dp, dt float64
		switch op.kind {
		case lossMSE:
			dp = 2 * (p - t)
			dt = -dp
		case lossMAE:
			switch {
			case p > t:
				dp = 1
			case p < t:
				dp = -1
			}
			dt = -dp
		case lossBCE:
			q := clipProb(p)
			if q == p {
				dp = -t/q + (1-t)/(1-q)
			}
			dt = math.Log(1-q) - math.Log(q)
		}
		gp.Data[i] = float32(dp * scale)
		if gt != nil {
			gt.Data[i] = float32(dt * scale)
		}
	}
	return []*Tensor{gt, gp}, nil
}
