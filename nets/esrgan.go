package nets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/tensor"
)

// ESRGANConfig configures the RRDB generator.
type ESRGANConfig struct {
	// OutputSize is the HR side; the LR input side is OutputSize/Scale.
	OutputSize    int
	Scale         int
	Channels      int
	Width         int // nf
	Depth         int // nb
	Growth        int // gc
	ResidualScale float32
	WeightDecay   float32
}

// DefaultESRGANConfig returns the 64 -> 256 RRDB generator.
func DefaultESRGANConfig() ESRGANConfig {
	return ESRGANConfig{
		OutputSize:    256,
		Scale:         4,
		Channels:      3,
		Width:         64,
		Depth:         16,
		Growth:        32,
		ResidualScale: DefaultResidualScale,
	}
}

func (c ESRGANConfig) validate() error {
	if c.Scale != 4 {
		return fmt.Errorf("esrgan: only scale 4 is supported (two 2x stages), got %d", c.Scale)
	}
	if c.OutputSize <= 0 || c.OutputSize%c.Scale != 0 {
		return fmt.Errorf("esrgan: output size %d not divisible by scale %d: %w", c.OutputSize, c.Scale, ErrInvalidInputSize)
	}
	if c.Channels <= 0 || c.Width <= 0 || c.Depth <= 0 || c.Growth <= 0 {
		return fmt.Errorf("esrgan: channels, width, depth and growth must be positive")
	}
	return nil
}

// ESRGAN is the residual-in-residual dense generator. Its output is not
// bounded by an activation.
type ESRGAN struct {
	config ESRGANConfig

	convFirst *layers.Conv2DLayer
	trunk     *layers.Sequential
	convTrunk *layers.Conv2DLayer
	upsample  *layers.Sequential
}

// NewESRGAN builds the RRDB generator. Only scale 4 is supported.
func NewESRGAN(config ESRGANConfig, rng *rand.Rand) (*ESRGAN, error) {
	if config.ResidualScale == 0 {
		config.ResidualScale = DefaultResidualScale
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	cfg := layers.DefaultConvConfig()
	cfg.Initializer = layers.HeNormal(1)
	if config.WeightDecay > 0 {
		cfg.Regularizer = layers.L2{Factor: config.WeightDecay}
	}
	nf := config.Width
	b := &convBuilder{cfg: cfg, rng: rng}
	conv := b.conv

	g := &ESRGAN{config: config}
	g.convFirst = conv("conv_first", config.Channels, nf)

	g.trunk = layers.NewSequential("RRDB_trunk")
	for i := 0; i < config.Depth; i++ {
		block, err := NewRRDB(fmt.Sprintf("RRDB_%d", i), nf, config.Growth, config.ResidualScale, config.WeightDecay, rng)
		if err != nil {
			return nil, err
		}
		g.trunk.Add(block)
	}
	g.convTrunk = conv("conv_trunk", nf, nf)

	g.upsample = layers.NewSequential("upsampling",
		layers.NewUpsample("upsample_nn_1", 2),
		conv("upconv_1", nf, nf),
		layers.NewLeakyReLU("upconv_1.lrelu", LeakyAlpha),
		layers.NewUpsample("upsample_nn_2", 2),
		conv("upconv_2", nf, nf),
		layers.NewLeakyReLU("upconv_2.lrelu", LeakyAlpha),
		conv("conv_hr", nf, nf),
		layers.NewLeakyReLU("conv_hr.lrelu", LeakyAlpha),
		conv("conv_last", nf, config.Channels),
	)
	if b.err != nil {
		return nil, b.err
	}
	return g, nil
}

// Forward maps (B, H, W, C) to (B, 4H, 4W, C) for any H and W.
func (g *ESRGAN) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if err := checkChannels("esrgan", x, g.config.Channels); err != nil {
		return nil, err
	}
	fea, err := g.convFirst.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	trunk, err := g.trunk.Forward(fea, mode)
	if err != nil {
		return nil, err
	}
	if trunk, err = g.convTrunk.Forward(trunk, mode); err != nil {
		return nil, err
	}
	if fea, err = tensor.Add(fea, trunk); err != nil {
		return nil, fmt.Errorf("esrgan: global skip: %w", err)
	}
	return g.upsample.Forward(fea, mode)
}

// Name returns the model name shown in summaries.
func (g *ESRGAN) Name() string { return "RRDB_model" }

// Config returns the configuration the network was built with.
func (g *ESRGAN) Config() ESRGANConfig { return g.config }

// Layers returns the layers in forward order.
func (g *ESRGAN) Layers() []layers.Layer {
	out := []layers.Layer{g.convFirst, g.trunk, g.convTrunk}
	return append(out, g.upsample.Layers()...)
}

// Parameters returns all learnable weights.
func (g *ESRGAN) Parameters() []*layers.Parameter {
	return layers.CollectParameters(g.convFirst, g.trunk, g.convTrunk, g.upsample)
}

// Buffers returns nil; the generator has no normalization.
func (g *ESRGAN) Buffers() []*layers.Parameter { return nil }

// InputShape returns the LR batch shape the network accepts.
func (g *ESRGAN) InputShape(batch int) []int {
	size := g.config.OutputSize / g.config.Scale
	return []int{batch, size, size, g.config.Channels}
}

// Architecture describes the network for checkpoint keys.
func (g *ESRGAN) Architecture() Architecture {
	return Architecture{
		Kind:          KindESRGAN,
		Channels:      g.config.Channels,
		InputSize:     g.config.OutputSize / g.config.Scale,
		Scale:         g.config.Scale,
		Width:         g.config.Width,
		Depth:         g.config.Depth,
		Growth:        g.config.Growth,
		ResidualScale: g.config.ResidualScale,
		WeightDecay:   g.config.WeightDecay,
	}
}
