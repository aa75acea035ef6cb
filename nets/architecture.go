package nets

import (
	"fmt"
	"math/rand"
)

// Kind names a network family.
type Kind string

const (
	KindSRGAN         Kind = "srgan"
	KindESRGAN        Kind = "esrgan"
	KindDiscriminator Kind = "discriminator"
	KindVGG19         Kind = "vgg19"
)

// Architecture is the serialisable descriptor a network is built from.
// Checkpoints store it so weights are only ever restored into an identical
// network.
type Architecture struct {
	Kind     Kind `json:"kind" yaml:"kind"`
	Channels int  `json:"channels" yaml:"channels"`
	// InputSize is the square input side: LR side for generators, HR side
	// for the discriminator and the feature extractor.
	InputSize int `json:"input_size" yaml:"input_size"`
	Scale     int `json:"scale,omitempty" yaml:"scale,omitempty"`
	// Width is the base filter count (nf).
	Width int `json:"width" yaml:"width"`
	// Depth is the number of RRDB or residual blocks (nb).
	Depth int `json:"depth,omitempty" yaml:"depth,omitempty"`
	// Growth is the RDB growth channel count (gc).
	Growth        int     `json:"growth,omitempty" yaml:"growth,omitempty"`
	UpsampleWidth int     `json:"upsample_width,omitempty" yaml:"upsample_width,omitempty"`
	ResidualScale float32 `json:"residual_scale,omitempty" yaml:"residual_scale,omitempty"`
	WeightDecay   float32 `json:"weight_decay,omitempty" yaml:"weight_decay,omitempty"`
	BatchNorm     bool    `json:"batch_norm,omitempty" yaml:"batch_norm,omitempty"`
	Momentum      float32 `json:"momentum,omitempty" yaml:"momentum,omitempty"`
	FeatureLayer  string  `json:"feature_layer,omitempty" yaml:"feature_layer,omitempty"`
}

// Key identifies the architecture in checkpoint file names. Generators are
// fully convolutional, so their input size is not part of the key.
func (a Architecture) Key() string {
	switch a.Kind {
	case KindESRGAN:
		return fmt.Sprintf("esrgan-c%d-x%d-nf%d-nb%d-gc%d", a.Channels, a.Scale, a.Width, a.Depth, a.Growth)
	case KindSRGAN:
		return fmt.Sprintf("srgan-c%d-x%d-nf%d-nb%d-up%d", a.Channels, a.Scale, a.Width, a.Depth, a.UpsampleWidth)
	case KindDiscriminator:
		return fmt.Sprintf("discriminator-c%d-in%d-f%d-bn%t", a.Channels, a.InputSize, a.Width, a.BatchNorm)
	case KindVGG19:
		return fmt.Sprintf("vgg19-%s", a.FeatureLayer)
	default:
		return fmt.Sprintf("unknown-%s", a.Kind)
	}
}

// Build constructs a freshly initialised network for the descriptor.
func (a Architecture) Build(rng *rand.Rand) (Network, error) {
	switch a.Kind {
	case KindESRGAN:
		return NewESRGAN(ESRGANConfig{
			OutputSize:    a.InputSize * a.Scale,
			Scale:         a.Scale,
			Channels:      a.Channels,
			Width:         a.Width,
			Depth:         a.Depth,
			Growth:        a.Growth,
			ResidualScale: a.ResidualScale,
			WeightDecay:   a.WeightDecay,
		}, rng)
	case KindSRGAN:
		return NewSRGAN(SRGANConfig{
			InputSize:      a.InputSize,
			Channels:       a.Channels,
			Filters:        a.Width,
			ResidualBlocks: a.Depth,
			UpsampleFilter: a.UpsampleWidth,
			Momentum:       a.Momentum,
		}, rng)
	case KindDiscriminator:
		return NewDiscriminator(DiscriminatorConfig{
			InputSize: a.InputSize,
			Channels:  a.Channels,
			Filters:   a.Width,
			BatchNorm: a.BatchNorm,
			Momentum:  a.Momentum,
		}, rng)
	case KindVGG19:
		return NewVGGFeatures(VGGConfig{InputSize: a.InputSize, FeatureLayer: a.FeatureLayer}, rng)
	default:
		return nil, fmt.Errorf("unknown network kind %q", a.Kind)
	}
}
