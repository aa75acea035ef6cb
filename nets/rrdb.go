package nets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/tensor"
)

// rdbConvConfig is the convolution used inside dense blocks: 3x3 same,
// He-normal kernels scaled by 0.1, zero bias, L2 weight decay.
func rdbConvConfig(weightDecay float32) layers.ConvConfig {
	cfg := layers.DefaultConvConfig()
	cfg.Initializer = layers.HeNormal(0.1)
	if weightDecay > 0 {
		cfg.Regularizer = layers.L2{Factor: weightDecay}
	}
	return cfg
}

// ResidualDenseBlock is the five-stage densely connected block. Stage k sees
// the block input concatenated with every earlier stage output.
type ResidualDenseBlock struct {
	name          string
	nf, gc        int
	residualScale float32
	convs         [5]*layers.Conv2DLayer
}

// NewResidualDenseBlock builds five densely connected 3x3 convolutions with
// nf input channels and gc growth channels.
func NewResidualDenseBlock(name string, nf, gc int, residualScale, weightDecay float32, rng *rand.Rand) (*ResidualDenseBlock, error) {
	if nf <= 0 || gc <= 0 {
		return nil, fmt.Errorf("%s: nf and gc must be positive, got %d and %d", name, nf, gc)
	}
	b := &ResidualDenseBlock{name: name, nf: nf, gc: gc, residualScale: residualScale}
	cfg := rdbConvConfig(weightDecay)
	for k := 0; k < 5; k++ {
		out := gc
		if k == 4 {
			out = nf
		}
		conv, err := layers.NewConv2D(fmt.Sprintf("%s.conv%d", name, k+1), nf+k*gc, out, cfg, rng)
		if err != nil {
			return nil, err
		}
		b.convs[k] = conv
	}
	return b, nil
}

// Forward returns x + residualScale*block(x).
func (b *ResidualDenseBlock) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if err := checkChannels(b.name, x, b.nf); err != nil {
		return nil, err
	}
	feats := []*tensor.Tensor{x}
	in := x
	for _, conv := range b.convs[:4] {
		y, err := conv.Forward(in, mode)
		if err != nil {
			return nil, err
		}
		feats = append(feats, tensor.LeakyReLU(y, LeakyAlpha))
		if in, err = tensor.Concat(feats...); err != nil {
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
	}
	x5, err := b.convs[4].Forward(in, mode)
	if err != nil {
		return nil, err
	}
	return residual(x, x5, b.residualScale)
}

// Parameters returns the weights of all five convolutions.
func (b *ResidualDenseBlock) Parameters() []*layers.Parameter {
	var out []*layers.Parameter
	for _, c := range b.convs {
		out = append(out, c.Parameters()...)
	}
	return out
}

// Buffers returns nil.
func (b *ResidualDenseBlock) Buffers() []*layers.Parameter { return nil }

// Spec describes the block for summaries.
func (b *ResidualDenseBlock) Spec() layers.LayerSpec {
	return layers.LayerSpec{
		Type: layers.Block,
		Name: b.name,
		Parameters: map[string]interface{}{
			"nf":             b.nf,
			"gc":             b.gc,
			"residual_scale": b.residualScale,
		},
	}
}

// OutputShape returns the input shape unchanged.
func (b *ResidualDenseBlock) OutputShape(in []int) ([]int, error) {
	return sameShape(b.name, in, b.nf)
}

// RRDB chains three dense blocks under one more scaled residual connection.
type RRDB struct {
	name          string
	nf            int
	residualScale float32
	blocks        [3]*ResidualDenseBlock
}

// NewRRDB chains three residual dense blocks inside an outer residual.
func NewRRDB(name string, nf, gc int, residualScale, weightDecay float32, rng *rand.Rand) (*RRDB, error) {
	r := &RRDB{name: name, nf: nf, residualScale: residualScale}
	for i := range r.blocks {
		b, err := NewResidualDenseBlock(fmt.Sprintf("%s.rdb_%d", name, i+1), nf, gc, residualScale, weightDecay, rng)
		if err != nil {
			return nil, err
		}
		r.blocks[i] = b
	}
	return r, nil
}

// Forward returns x + residualScale*rdb3(rdb2(rdb1(x))).
func (r *RRDB) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if err := checkChannels(r.name, x, r.nf); err != nil {
		return nil, err
	}
	out := x
	var err error
	for _, b := range r.blocks {
		if out, err = b.Forward(out, mode); err != nil {
			return nil, err
		}
	}
	return residual(x, out, r.residualScale)
}

// Parameters returns the weights of the three dense blocks.
func (r *RRDB) Parameters() []*layers.Parameter {
	var out []*layers.Parameter
	for _, b := range r.blocks {
		out = append(out, b.Parameters()...)
	}
	return out
}

// Buffers returns nil.
func (r *RRDB) Buffers() []*layers.Parameter { return nil }

// Spec describes the block for summaries.
func (r *RRDB) Spec() layers.LayerSpec {
	return layers.LayerSpec{
		Type:       layers.Block,
		Name:       r.name,
		Parameters: map[string]interface{}{"nf": r.nf, "blocks": len(r.blocks), "residual_scale": r.residualScale},
	}
}

// OutputShape returns the input shape unchanged.
func (r *RRDB) OutputShape(in []int) ([]int, error) {
	return sameShape(r.name, in, r.nf)
}
