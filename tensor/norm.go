package tensor

import (
	"fmt"
	"math"
)

// BatchStats are the per-channel moments a training-mode BatchNorm computed.
// Variance is the biased batch variance; Count is the number of reduced
// elements per channel.
type BatchStats struct {
	Mean     []float32
	Variance []float32
	Count    int
}

// BatchNormOp implements the Operation interface for batch normalisation
// over every axis but the last.
type BatchNormOp struct {
	x, gamma, beta *Tensor
	xhat           []float32
	invStd         []float32
	useBatchStats  bool
}

func checkNormParams(x, gamma, beta *Tensor) (int, error) {
	c := x.Shape[len(x.Shape)-1]
	if gamma.NumElems != c || beta.NumElems != c {
		return 0, fmt.Errorf("BatchNorm: gamma %v beta %v for input %v: %w", gamma.Shape, beta.Shape, x.Shape, ErrShapeMismatch)
	}
	return c, nil
}

// BatchNorm normalises x with the statistics of the current batch and
// returns them so the caller can maintain running averages.
func BatchNorm(x, gamma, beta *Tensor, eps float32) (*Tensor, *BatchStats, error) {
	c, err := checkNormParams(x, gamma, beta)
	if err != nil {
		return nil, nil, err
	}
	m := x.NumElems / c
	mean := make([]float64, c)
	for i, v := range x.Data {
		mean[i%c] += float64(v)
	}
	for ch := range mean {
		mean[ch] /= float64(m)
	}
	variance := make([]float64, c)
	for i, v := range x.Data {
		d := float64(v) - mean[i%c]
		variance[i%c] += d * d
	}

	stats := &BatchStats{Mean: make([]float32, c), Variance: make([]float32, c), Count: m}
	invStd := make([]float32, c)
	for ch := range variance {
		variance[ch] /= float64(m)
		stats.Mean[ch] = float32(mean[ch])
		stats.Variance[ch] = float32(variance[ch])
		invStd[ch] = float32(1 / math.Sqrt(variance[ch]+float64(eps)))
	}

	out, op := normalize(x, gamma, beta, stats.Mean, invStd)
	op.useBatchStats = true
	return record(out, op), stats, nil
}

// BatchNormInference normalises x with fixed statistics. No gradient flows
// into mean or variance.
func BatchNormInference(x, gamma, beta, mean, variance *Tensor, eps float32) (*Tensor, error) {
	c, err := checkNormParams(x, gamma, beta)
	if err != nil {
		return nil, err
	}
	if mean.NumElems != c || variance.NumElems != c {
		return nil, fmt.Errorf("BatchNorm: moving statistics %v %v for input %v: %w", mean.Shape, variance.Shape, x.Shape, ErrShapeMismatch)
	}
	invStd := make([]float32, c)
	for ch := range invStd {
		invStd[ch] = float32(1 / math.Sqrt(float64(variance.Data[ch])+float64(eps)))
	}
	out, op := normalize(x, gamma, beta, mean.Data, invStd)
	return record(out, op), nil
}

func normalize(x, gamma, beta *Tensor, mean, invStd []float32) (*Tensor, *BatchNormOp) {
	c := len(invStd)
	out := newResult(x.Shape)
	xhat := make([]float32, x.NumElems)
	for i, v := range x.Data {
		ch := i % c
		xhat[i] = (v - mean[ch]) * invStd[ch]
		out.Data[i] = gamma.Data[ch]*xhat[i] + beta.Data[ch]
	}
	return out, &BatchNormOp{x: x, gamma: gamma, beta: beta, xhat: xhat, invStd: invStd}
}

func (op *BatchNormOp) Name() string      { return "BatchNorm" }
func (op *BatchNormOp) Inputs() []*Tensor { return []*Tensor{op.x, op.gamma, op.beta} }

func (op *BatchNormOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	c := len(op.invStd)
	m := op.x.NumElems / c
	sumG := make([]float64, c)
	sumGX := make([]float64, c)
	for i, g := range gradOut.Data {
		ch := i % c
		sumG[ch] += float64(g)
		sumGX[ch] += float64(g) * float64(op.xhat[i])
	}

	var gx, gg, gb *Tensor
	if op.gamma.requiresGrad {
		gg = newResult(op.gamma.Shape)
		for ch := range sumGX {
			gg.Data[ch] = float32(sumGX[ch])
		}
	}
	if op.beta.requiresGrad {
		gb = newResult(op.beta.Shape)
		for ch := range sumG {
			gb.Data[ch] = float32(sumG[ch])
		}
	}
	if op.x.requiresGrad {
		gx = newResult(op.x.Shape)
		for i, g := range gradOut.Data {
			ch := i % c
			scale := op.gamma.Data[ch] * op.invStd[ch]
			if !op.useBatchStats {
				gx.Data[i] = g * scale
				continue
			}
			// Batch statistics depend on x, so the mean and variance terms
			// contribute to the input gradient.
			mf := float64(m)
			v := float64(g) - sumG[ch]/mf - float64(op.xhat[i])*sumGX[ch]/mf
			gx.Data[i] = scale * float32(v)
		}
	}
	return []*Tensor{gx, gg, gb}, nil
}

// ChannelTransformOp implements the Operation interface for a fixed
// per-channel permutation and affine map.
type ChannelTransformOp struct {
	input *Tensor
	perm  []int
	scale []float32
}

// ChannelTransform computes out[..., c] = x[..., perm[c]]*scale[c] + shift[c].
func ChannelTransform(x *Tensor, perm []int, scale, shift []float32) (*Tensor, error) {
	c := x.Shape[len(x.Shape)-1]
	if len(perm) != c || len(scale) != c || len(shift) != c {
		return nil, fmt.Errorf("ChannelTransform: %d channels, got perm %d scale %d shift %d: %w", c, len(perm), len(scale), len(shift), ErrShapeMismatch)
	}
	for _, p := range perm {
		if p < 0 || p >= c {
			return nil, fmt.Errorf("ChannelTransform: permutation index %d out of range", p)
		}
	}
	out := newResult(x.Shape)
	for base := 0; base < x.NumElems; base += c {
		for ch := 0; ch < c; ch++ {
			out.Data[base+ch] = x.Data[base+perm[ch]]*scale[ch] + shift[ch]
		}
	}
	op := &ChannelTransformOp{input: x, perm: append([]int(nil), perm...), scale: append([]float32(nil), scale...)}
	return record(out, op), nil
}

func (op *ChannelTransformOp) Name() string      { return "ChannelTransform" }
func (op *ChannelTransformOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *ChannelTransformOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	c := len(op.perm)
	g := newResult(op.input.Shape)
	for base := 0; base < gradOut.NumElems; base += c {
		for ch := 0; ch < c; ch++ {
			g.Data[base+op.perm[ch]] += gradOut.Data[base+ch] * op.scale[ch]
		}
	}
	return []*Tensor{g}, nil
}
