package nets

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/tensor"
)

// SRGANConfig configures the SRResNet generator. Upscaling is fixed at 4x.
type SRGANConfig struct {
	InputSize      int
	Channels       int
	Filters        int
	ResidualBlocks int
	UpsampleFilter int
	Momentum       float32
}

// DefaultSRGANConfig returns the 64x64 to 256x256 generator with 16 residual blocks.
func DefaultSRGANConfig() SRGANConfig {
	return SRGANConfig{
		InputSize:      64,
		Channels:       3,
		Filters:        64,
		ResidualBlocks: 16,
		UpsampleFilter: 256,
		Momentum:       0.5,
	}
}

// residualBlock is conv-BN-PReLU-conv-BN with an identity skip.
type residualBlock struct {
	name string
	body *layers.Sequential
	nf   int
}

func (r *residualBlock) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	y, err := r.body.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	return residual(x, y, 1)
}

func (r *residualBlock) Parameters() []*layers.Parameter { return r.body.Parameters() }
func (r *residualBlock) Buffers() []*layers.Parameter    { return r.body.Buffers() }

func (r *residualBlock) Spec() layers.LayerSpec {
	return layers.LayerSpec{Type: layers.Block, Name: r.name, Parameters: map[string]interface{}{"filters": r.nf}}
}

func (r *residualBlock) OutputShape(in []int) ([]int, error) {
	return sameShape(r.name, in, r.nf)
}

// SRGAN is the SRResNet generator with batch normalisation and a tanh
// output in [-1, 1].
type SRGAN struct {
	config SRGANConfig

	head     *layers.Sequential
	trunk    *layers.Sequential
	postConv *layers.Sequential
	tail     *layers.Sequential
}

// NewSRGAN builds the residual generator with two x2 upsampling stages.
func NewSRGAN(config SRGANConfig, rng *rand.Rand) (*SRGAN, error) {
	if config.InputSize <= 0 || config.Channels <= 0 || config.Filters <= 0 || config.UpsampleFilter <= 0 {
		return nil, fmt.Errorf("srgan: sizes must be positive: %w", ErrInvalidInputSize)
	}
	if config.ResidualBlocks < 1 {
		return nil, fmt.Errorf("srgan: need at least one residual block, got %d", config.ResidualBlocks)
	}
	if config.Momentum == 0 {
		config.Momentum = 0.5
	}

	b := &convBuilder{cfg: layers.DefaultConvConfig(), rng: rng}
	wide := layers.DefaultConvConfig()
	wide.KernelSize = 9
	nf := config.Filters

	var err error
	bn := func(name string, c int) layers.Layer {
		l, e := layers.NewBatchNorm(name, c, config.Momentum, layers.DefaultBatchNormEpsilon)
		if e != nil && err == nil {
			err = e
		}
		return l
	}
	prelu := func(name string, c int) layers.Layer {
		l, e := layers.NewPReLU(name, c)
		if e != nil && err == nil {
			err = e
		}
		return l
	}

	g := &SRGAN{config: config}
	g.head = layers.NewSequential("conv1",
		b.convWith("conv1", config.Channels, nf, wide),
		prelu("conv1.prelu", nf),
	)

	g.trunk = layers.NewSequential("residual_blocks")
	for i := 0; i < config.ResidualBlocks; i++ {
		name := fmt.Sprintf("residual_block_%d", i)
		g.trunk.Add(&residualBlock{
			name: name,
			nf:   nf,
			body: layers.NewSequential(name,
				b.conv(name+".conv1", nf, nf),
				bn(name+".bn1", nf),
				prelu(name+".prelu", nf),
				b.conv(name+".conv2", nf, nf),
				bn(name+".bn2", nf),
			),
		})
	}

	g.postConv = layers.NewSequential("conv2",
		b.conv("conv2", nf, nf),
		bn("conv2.bn", nf),
	)

	g.tail = layers.NewSequential("upsampling",
		b.conv("deconv1", nf, config.UpsampleFilter),
		layers.NewUpsample("deconv1.upsample", 2),
		layers.NewLeakyReLU("deconv1.lrelu", LeakyAlpha),
		b.conv("deconv2", config.UpsampleFilter, config.UpsampleFilter),
		layers.NewUpsample("deconv2.upsample", 2),
		layers.NewLeakyReLU("deconv2.lrelu", LeakyAlpha),
		b.convWith("gen_hr", config.UpsampleFilter, config.Channels, wide),
		layers.NewTanh("gen_hr.tanh"),
	)

	if b.err != nil {
		return nil, b.err
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Forward maps a (N, H, W, 3) LR batch in [0, 1] to an HR batch in [-1, 1].
func (g *SRGAN) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if err := checkChannels("srgan", x, g.config.Channels); err != nil {
		return nil, err
	}
	c1, err := g.head.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	r, err := g.trunk.Forward(c1, mode)
	if err != nil {
		return nil, err
	}
	c2, err := g.postConv.Forward(r, mode)
	if err != nil {
		return nil, err
	}
	if c2, err = tensor.Add(c1, c2); err != nil {
		return nil, fmt.Errorf("srgan: post-trunk skip: %w", err)
	}
	return g.tail.Forward(c2, mode)
}

// Name returns the model name shown in summaries.
func (g *SRGAN) Name() string { return "srgan_generator" }

// Config returns the configuration the network was built with.
func (g *SRGAN) Config() SRGANConfig { return g.config }

// Layers returns the layers in forward order.
func (g *SRGAN) Layers() []layers.Layer {
	out := append([]layers.Layer{}, g.head.Layers()...)
	out = append(out, g.trunk)
	out = append(out, g.postConv.Layers()...)
	return append(out, g.tail.Layers()...)
}

// Parameters returns all learnable weights.
func (g *SRGAN) Parameters() []*layers.Parameter {
	return layers.CollectParameters(g.head, g.trunk, g.postConv, g.tail)
}

// Buffers returns the BatchNorm moving statistics.
func (g *SRGAN) Buffers() []*layers.Parameter {
	return layers.CollectBuffers(g.head, g.trunk, g.postConv, g.tail)
}

// InputShape returns the LR batch shape the network accepts.
func (g *SRGAN) InputShape(batch int) []int {
	return []int{batch, g.config.InputSize, g.config.InputSize, g.config.Channels}
}

// Architecture describes the network for checkpoint keys.
func (g *SRGAN) Architecture() Architecture {
	return Architecture{
		Kind:          KindSRGAN,
		Channels:      g.config.Channels,
		InputSize:     g.config.InputSize,
		Scale:         4,
		Width:         g.config.Filters,
		Depth:         g.config.ResidualBlocks,
		UpsampleWidth: g.config.UpsampleFilter,
		Momentum:      g.config.Momentum,
	}
}
