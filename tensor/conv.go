package tensor

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Padding selects the spatial padding rule of Conv2D.
type Padding int

const (
	// PaddingSame pads so that out = ceil(in/stride); the extra row or column
	// of an odd total goes to the bottom and right.
	PaddingSame Padding = iota
	PaddingValid
)

// String returns "same" or "valid".
func (p Padding) String() string {
	switch p {
	case PaddingSame:
		return "same"
	case PaddingValid:
		return "valid"
	default:
		return "unknown"
	}
}

type convGeometry struct {
	n, h, w, c     int
	kh, kw, f      int
	stride         int
	outH, outW     int
	padTop, padLft int
}

// rows of the im2col matrix per batch item
func (g convGeometry) p() int { return g.outH * g.outW }

// columns of the im2col matrix
func (g convGeometry) k() int { return g.kh * g.kw * g.c }

func outputSize(in, k, stride int, padding Padding) (out, padBefore int) {
	if padding == PaddingValid {
		return (in-k)/stride + 1, 0
	}
	out = (in + stride - 1) / stride
	total := (out-1)*stride + k - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

func newConvGeometry(x, w *Tensor, stride int, padding Padding) (convGeometry, error) {
	if err := checkRank("Conv2D input", x, 4); err != nil {
		return convGeometry{}, err
	}
	if err := checkRank("Conv2D kernel", w, 4); err != nil {
		return convGeometry{}, err
	}
	if stride < 1 {
		return convGeometry{}, fmt.Errorf("Conv2D: stride must be positive, got %d", stride)
	}
	g := convGeometry{
		n: x.Shape[0], h: x.Shape[1], w: x.Shape[2], c: x.Shape[3],
		kh: w.Shape[0], kw: w.Shape[1], f: w.Shape[3],
		stride: stride,
	}
	if w.Shape[2] != g.c {
		return g, fmt.Errorf("Conv2D: kernel %v expects %d input channels, input %v: %w", w.Shape, w.Shape[2], x.Shape, ErrShapeMismatch)
	}
	if padding == PaddingValid && (g.h < g.kh || g.w < g.kw) {
		return g, fmt.Errorf("Conv2D: input %v smaller than kernel %v: %w", x.Shape, w.Shape, ErrShapeMismatch)
	}
	g.outH, g.padTop = outputSize(g.h, g.kh, stride, padding)
	g.outW, g.padLft = outputSize(g.w, g.kw, stride, padding)
	return g, nil
}

// im2col writes the patch matrix [outH*outW, kh*kw*c] of one batch item.
func (g convGeometry) im2col(x, cols []float32) {
	k := g.k()
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			row := cols[(oh*g.outW+ow)*k : (oh*g.outW+ow+1)*k]
			for kh := 0; kh < g.kh; kh++ {
				ih := oh*g.stride - g.padTop + kh
				for kw := 0; kw < g.kw; kw++ {
					iw := ow*g.stride - g.padLft + kw
					dst := row[(kh*g.kw+kw)*g.c : (kh*g.kw+kw+1)*g.c]
					if ih < 0 || ih >= g.h || iw < 0 || iw >= g.w {
						clear(dst)
						continue
					}
					copy(dst, x[(ih*g.w+iw)*g.c:(ih*g.w+iw+1)*g.c])
				}
			}
		}
	}
}

// col2im scatters patch gradients back into the input gradient of one item.
func (g convGeometry) col2im(cols, dx []float32) {
	k := g.k()
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			row := cols[(oh*g.outW+ow)*k : (oh*g.outW+ow+1)*k]
			for kh := 0; kh < g.kh; kh++ {
				ih := oh*g.stride - g.padTop + kh
				if ih < 0 || ih >= g.h {
					continue
				}
				for kw := 0; kw < g.kw; kw++ {
					iw := ow*g.stride - g.padLft + kw
					if iw < 0 || iw >= g.w {
						continue
					}
					src := row[(kh*g.kw+kw)*g.c : (kh*g.kw+kw+1)*g.c]
					dst := dx[(ih*g.w+iw)*g.c : (ih*g.w+iw+1)*g.c]
					for c, v := range src {
						dst[c] += v
					}
				}
			}
		}
	}
}

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// Conv2DOp implements the Operation interface for 2D convolution
type Conv2DOp struct {
	x, w, b *Tensor
	geom    convGeometry
}

// Conv2D convolves an NHWC batch x with kernel w [KH, KW, Cin, Cout] and an
// optional bias b [Cout]. Batch items are processed in parallel.
func Conv2D(x, w, b *Tensor, stride int, padding Padding) (*Tensor, error) {
	geom, err := newConvGeometry(x, w, stride, padding)
	if err != nil {
		return nil, err
	}
	if b != nil && b.NumElems != geom.f {
		return nil, fmt.Errorf("Conv2D: bias %v for %d filters: %w", b.Shape, geom.f, ErrShapeMismatch)
	}

	out := newResult([]int{geom.n, geom.outH, geom.outW, geom.f})
	p, k, f := geom.p(), geom.k(), geom.f
	inSize := geom.h * geom.w * geom.c
	wMat := general(k, f, w.Data)

	err = parallelFor(geom.n, func(n int) error {
		cols := make([]float32, p*k)
		geom.im2col(x.Data[n*inSize:(n+1)*inSize], cols)
		dst := out.Data[n*p*f : (n+1)*p*f]
		var beta float32
		if b != nil {
			for r := 0; r < p; r++ {
				copy(dst[r*f:(r+1)*f], b.Data)
			}
			beta = 1
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(p, k, cols), wMat, beta, general(p, f, dst))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record(out, &Conv2DOp{x: x, w: w, b: b, geom: geom}), nil
}

func (op *Conv2DOp) Name() string      { return "Conv2D" }
func (op *Conv2DOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w, op.b} }

func (op *Conv2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	geom := op.geom
	p, k, f := geom.p(), geom.k(), geom.f
	inSize := geom.h * geom.w * geom.c
	wantX, wantW := op.x.requiresGrad, op.w.requiresGrad

	var gx, gw, gb *Tensor
	if wantX {
		gx = newResult(op.x.Shape)
	}
	if wantW {
		gw = newResult(op.w.Shape)
	}
	if op.b != nil && op.b.requiresGrad {
		gb = newResult(op.b.Shape)
		for i, v := range gradOut.Data {
			gb.Data[i%f] += v
		}
	}
	if !wantX && !wantW {
		return []*Tensor{nil, nil, gb}, nil
	}

	var mu sync.Mutex
	wMat := general(k, f, op.w.Data)
	err := parallelFor(geom.n, func(n int) error {
		g := general(p, f, gradOut.Data[n*p*f:(n+1)*p*f])
		cols := make([]float32, p*k)
		if wantW {
			geom.im2col(op.x.Data[n*inSize:(n+1)*inSize], cols)
			dw := make([]float32, k*f)
			blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(p, k, cols), g, 0, general(k, f, dw))
			mu.Lock()
			for i, v := range dw {
				gw.Data[i] += v
			}
			mu.Unlock()
		}
		if wantX {
			blas32.Gemm(blas.NoTrans, blas.Trans, 1, g, wMat, 0, general(p, k, cols))
			geom.col2im(cols, gx.Data[n*inSize:(n+1)*inSize])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []*Tensor{gx, gw, gb}, nil
}

// DenseOp implements the Operation interface for fully connected layers
type DenseOp struct {
	x, w, b *Tensor
}

// Dense computes x·w + b for x [B, In], w [In, Out] and optional b [Out].
func Dense(x, w, b *Tensor) (*Tensor, error) {
	if err := checkRank("Dense input", x, 2); err != nil {
		return nil, err
	}
	if err := checkRank("Dense kernel", w, 2); err != nil {
		return nil, err
	}
	batch, in, units := x.Shape[0], x.Shape[1], w.Shape[1]
	if w.Shape[0] != in {
		return nil, shapeError("Dense", x.Shape, w.Shape)
	}
	if b != nil && b.NumElems != units {
		return nil, shapeError("Dense bias", w.Shape, b.Shape)
	}

	out := newResult([]int{batch, units})
	var beta float32
	if b != nil {
		for r := 0; r < batch; r++ {
			copy(out.Data[r*units:(r+1)*units], b.Data)
		}
		beta = 1
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(batch, in, x.Data), general(in, units, w.Data), beta, general(batch, units, out.Data))
	return record(out, &DenseOp{x: x, w: w, b: b}), nil
}

func (op *DenseOp) Name() string      { return "Dense" }
func (op *DenseOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w, op.b} }

func (op *DenseOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch, in, units := op.x.Shape[0], op.x.Shape[1], op.w.Shape[1]
	g := general(batch, units, gradOut.Data)

	var gx, gw, gb *Tensor
	if op.x.requiresGrad {
		gx = newResult(op.x.Shape)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, g, general(in, units, op.w.Data), 0, general(batch, in, gx.Data))
	}
	if op.w.requiresGrad {
		gw = newResult(op.w.Shape)
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(batch, in, op.x.Data), g, 0, general(in, units, gw.Data))
	}
	if op.b != nil && op.b.requiresGrad {
		gb = newResult(op.b.Shape)
		for i, v := range gradOut.Data {
			gb.Data[i%units] += v
		}
	}
	return []*Tensor{gx, gw, gb}, nil
}

// UpsampleOp implements the Operation interface for nearest-neighbour
// upsampling
type UpsampleOp struct {
	input  *Tensor
	factor int
}

// UpsampleNearest repeats every pixel factor times along height and width.
func UpsampleNearest(x *Tensor, factor int) (*Tensor, error) {
	if err := checkRank("UpsampleNearest", x, 4); err != nil {
		return nil, err
	}
	if factor < 1 {
		return nil, fmt.Errorf("UpsampleNearest: factor must be positive, got %d", factor)
	}
	n, h, w, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h*factor, w*factor
	out := newResult([]int{n, oh, ow, c})
	for b := 0; b < n; b++ {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				src := ((b*h+y/factor)*w + xx/factor) * c
				dst := ((b*oh+y)*ow + xx) * c
				copy(out.Data[dst:dst+c], x.Data[src:src+c])
			}
		}
	}
	return record(out, &UpsampleOp{input: x, factor: factor}), nil
}

func (op *UpsampleOp) Name() string      { return "UpsampleNearest" }
func (op *UpsampleOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *UpsampleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	n, h, w, c := op.input.Shape[0], op.input.Shape[1], op.input.Shape[2], op.input.Shape[3]
	oh, ow := h*op.factor, w*op.factor
	g := newResult(op.input.Shape)
	for b := 0; b < n; b++ {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				dst := ((b*h+y/op.factor)*w + xx/op.factor) * c
				src := ((b*oh+y)*ow + xx) * c
				for ch := 0; ch < c; ch++ {
					g.Data[dst+ch] += gradOut.Data[src+ch]
				}
			}
		}
	}
	return []*Tensor{g}, nil
}

// MaxPoolOp implements the Operation interface for max pooling
type MaxPoolOp struct {
	input  *Tensor
	argmax []int
}

// MaxPool2D takes the maximum over size x size windows with the given stride
// and valid padding.
func MaxPool2D(x *Tensor, size, stride int) (*Tensor, error) {
	if err := checkRank("MaxPool2D", x, 4); err != nil {
		return nil, err
	}
	n, h, w, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if h < size || w < size {
		return nil, fmt.Errorf("MaxPool2D: input %v smaller than window %d: %w", x.Shape, size, ErrShapeMismatch)
	}
	oh, ow := (h-size)/stride+1, (w-size)/stride+1
	out := newResult([]int{n, oh, ow, c})
	argmax := make([]int, out.NumElems)
	per := oh * ow * c

	err := parallelFor(n, func(b int) error {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				for ch := 0; ch < c; ch++ {
					best := -1
					for ky := 0; ky < size; ky++ {
						for kx := 0; kx < size; kx++ {
							idx := ((b*h+y*stride+ky)*w+xx*stride+kx)*c + ch
							if best < 0 || x.Data[idx] > x.Data[best] {
								best = idx
							}
						}
					}
					o := b*per + (y*ow+xx)*c + ch
					out.Data[o] = x.Data[best]
					argmax[o] = best
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record(out, &MaxPoolOp{input: x, argmax: argmax}), nil
}

func (op *MaxPoolOp) Name() string      { return "MaxPool2D" }
func (op *MaxPoolOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *MaxPoolOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := newResult(op.input.Shape)
	for i, src := range op.argmax {
		g.Data[src] += gradOut.Data[i]
	}
	return []*Tensor{g}, nil
}
