// Package nets builds the networks of a super-resolution GAN: the ESRGAN and
// SRGAN generators, the discriminator and the frozen VGG19 feature extractor.
package nets

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/tensor"
)

// ErrInvalidInputSize is returned when a network cannot be built for the
// requested spatial size.
var ErrInvalidInputSize = errors.New("invalid input size")

// DefaultResidualScale scales residual branches in RDB and RRDB blocks.
const DefaultResidualScale = 0.2

// LeakyAlpha is the negative slope of every LeakyReLU in these networks.
const LeakyAlpha = 0.2

// Network is a buildable, describable model.
type Network interface {
	layers.Module
	Name() string
	Architecture() Architecture
	// Layers lists the top-level layers in forward order. Skip connections
	// preserve shape, so the list chains for shape propagation.
	Layers() []layers.Layer
	// InputShape is the NHWC shape the network was configured for.
	InputShape(batch int) []int
}

// Describe compiles a summary of n for the given batch size.
func Describe(n Network, batch int) (*layers.ModelSpec, error) {
	return layers.Compile(n.Name(), n.InputShape(batch), n.Layers())
}

func checkChannels(name string, x *tensor.Tensor, channels int) error {
	if x.Rank() != 4 || x.Shape[3] != channels {
		return fmt.Errorf("%s: expected [N H W %d], got %v: %w", name, channels, x.Shape, tensor.ErrShapeMismatch)
	}
	return nil
}

func sameShape(name string, in []int, channels int) ([]int, error) {
	if len(in) != 4 || in[3] != channels {
		return nil, fmt.Errorf("%s: expected [N H W %d], got %v: %w", name, channels, in, tensor.ErrShapeMismatch)
	}
	return append([]int(nil), in...), nil
}

// residual returns x + branch*scale.
func residual(x, branch *tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	if scale != 1 {
		branch = tensor.Scale(branch, scale)
	}
	return tensor.Add(x, branch)
}

// convBuilder creates convolutions sharing one config and keeps the first
// construction error, so network constructors read top to bottom.
type convBuilder struct {
	cfg layers.ConvConfig
	rng *rand.Rand
	err error
}

func (b *convBuilder) conv(name string, in, out int) *layers.Conv2DLayer {
	return b.convWith(name, in, out, b.cfg)
}

func (b *convBuilder) convWith(name string, in, out int, cfg layers.ConvConfig) *layers.Conv2DLayer {
	if b.err != nil {
		return nil
	}
	l, err := layers.NewConv2D(name, in, out, cfg, b.rng)
	if err != nil {
		b.err = err
	}
	return l
}
