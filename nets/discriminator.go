package nets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/tensor"
)

// DiscriminatorConfig configures the HR discriminator.
type DiscriminatorConfig struct {
	InputSize int
	Channels  int
	Filters   int
	BatchNorm bool
	Momentum  float32
}

// DefaultDiscriminatorConfig returns the 256x256 RGB discriminator with 64 base filters.
func DefaultDiscriminatorConfig() DiscriminatorConfig {
	return DiscriminatorConfig{
		InputSize: 256,
		Channels:  3,
		Filters:   64,
		BatchNorm: true,
		Momentum:  0.5,
	}
}

// Discriminator scores HR images with the probability that they are real.
type Discriminator struct {
	config DiscriminatorConfig
	stack  *layers.Sequential
}

// NewDiscriminator builds eight conv blocks (four of them stride 2), then
// Dense(16f) + LeakyReLU + Dense(1) + sigmoid. InputSize must be divisible by
// 16.
func NewDiscriminator(config DiscriminatorConfig, rng *rand.Rand) (*Discriminator, error) {
	if config.InputSize <= 0 || config.InputSize%16 != 0 {
		return nil, fmt.Errorf("discriminator: input size %d must be a positive multiple of 16: %w", config.InputSize, ErrInvalidInputSize)
	}
	if config.Channels <= 0 || config.Filters <= 0 {
		return nil, fmt.Errorf("discriminator: channels and filters must be positive")
	}
	if config.Momentum == 0 {
		config.Momentum = 0.5
	}

	b := &convBuilder{cfg: layers.DefaultConvConfig(), rng: rng}
	f := config.Filters
	blocks := []struct {
		filters, stride int
		bn              bool
	}{
		{f, 1, false},
		{f, 2, true},
		{2 * f, 1, true},
		{2 * f, 2, true},
		{4 * f, 1, true},
		{4 * f, 2, true},
		{8 * f, 1, true},
		{8 * f, 2, true},
	}

	stack := layers.NewSequential("discriminator")
	in := config.Channels
	for i, blk := range blocks {
		name := fmt.Sprintf("dis_block_%d", i+1)
		cfg := layers.DefaultConvConfig()
		cfg.Stride = blk.stride
		stack.Add(b.convWith(name+".conv", in, blk.filters, cfg))
		if blk.bn && config.BatchNorm {
			bn, err := layers.NewBatchNorm(name+".bn", blk.filters, config.Momentum, layers.DefaultBatchNormEpsilon)
			if err != nil {
				return nil, err
			}
			stack.Add(bn)
		}
		stack.Add(layers.NewLeakyReLU(name+".lrelu", LeakyAlpha))
		in = blk.filters
	}
	if b.err != nil {
		return nil, b.err
	}

	side := config.InputSize / 16
	dense1, err := layers.NewDense("dense_1", side*side*8*f, 16*f, true, rng)
	if err != nil {
		return nil, err
	}
	dense2, err := layers.NewDense("validity", 16*f, 1, true, rng)
	if err != nil {
		return nil, err
	}
	stack.Add(
		layers.NewFlatten("flatten"),
		dense1,
		layers.NewLeakyReLU("dense_1.lrelu", LeakyAlpha),
		dense2,
		layers.NewSigmoid("validity.sigmoid"),
	)
	return &Discriminator{config: config, stack: stack}, nil
}

// Forward returns (B, 1) probabilities in [0, 1].
func (d *Discriminator) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	size := d.config.InputSize
	if x.Rank() != 4 || x.Shape[1] != size || x.Shape[2] != size || x.Shape[3] != d.config.Channels {
		return nil, fmt.Errorf("discriminator: expected [N %d %d %d], got %v: %w", size, size, d.config.Channels, x.Shape, tensor.ErrShapeMismatch)
	}
	return d.stack.Forward(x, mode)
}

// Name returns the model name shown in summaries.
func (d *Discriminator) Name() string { return "discriminator" }

// Config returns the configuration the network was built with.
func (d *Discriminator) Config() DiscriminatorConfig { return d.config }

// Layers returns the layer stack.
func (d *Discriminator) Layers() []layers.Layer { return d.stack.Layers() }

// Parameters returns all learnable weights.
func (d *Discriminator) Parameters() []*layers.Parameter { return d.stack.Parameters() }

// Buffers returns the BatchNorm moving statistics.
func (d *Discriminator) Buffers() []*layers.Parameter { return d.stack.Buffers() }

// InputShape returns the HR batch shape the network accepts.
func (d *Discriminator) InputShape(batch int) []int {
	return []int{batch, d.config.InputSize, d.config.InputSize, d.config.Channels}
}

// Architecture describes the network for checkpoint keys.
func (d *Discriminator) Architecture() Architecture {
	return Architecture{
		Kind:      KindDiscriminator,
		Channels:  d.config.Channels,
		InputSize: d.config.InputSize,
		Width:     d.config.Filters,
		BatchNorm: d.config.BatchNorm,
		Momentum:  d.config.Momentum,
	}
}
