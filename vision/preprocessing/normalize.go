// Package preprocessing converts between decoded images and the value
// ranges the networks train on: HR batches in [-1, 1] to match the
// generator's tanh output, LR batches in [0, 1].
package preprocessing

import (
	"github.com/tsawler/go-srgan/tensor"
)

func mapValues(x *tensor.Tensor, f func(float32) float32) *tensor.Tensor {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = f(v)
	}
	return out
}

// PreprocessHR maps [0, 255] to [-1, 1].
func PreprocessHR(x *tensor.Tensor) *tensor.Tensor {
	return mapValues(x, func(v float32) float32 { return v/127.5 - 1 })
}

// DeprocessHR maps [-1, 1] back to [0, 255]. Values are not clipped.
func DeprocessHR(x *tensor.Tensor) *tensor.Tensor {
	return mapValues(x, func(v float32) float32 { return (v + 1) * 127.5 })
}

// PreprocessLR maps [0, 255] to [0, 1].
func PreprocessLR(x *tensor.Tensor) *tensor.Tensor {
	return mapValues(x, func(v float32) float32 { return v / 255 })
}

// DeprocessLR maps [0, 1] back to [0, 255], clipping to that range.
func DeprocessLR(x *tensor.Tensor) *tensor.Tensor {
	return mapValues(x, func(v float32) float32 {
		v *= 255
		switch {
		case v < 0:
			return 0
		case v > 255:
			return 255
		}
		return v
	})
}
