package nets

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets/weights"
	"github.com/tsawler/go-srgan/tensor"
)

// DefaultFeatureLayer is the VGG19 activation perceptual losses compare.
const DefaultFeatureLayer = "block3_conv4"

// ImageNet channel means in BGR order, as used by caffe-style VGG inputs.
var vggMeanBGR = [3]float32{103.939, 116.779, 123.68}

var vgg19Blocks = []struct {
	convs, filters int
}{
	{2, 64}, {2, 128}, {4, 256}, {4, 512}, {4, 512},
}

type VGGConfig struct {
	// InputSize is only used for summaries; the trunk is fully convolutional.
	InputSize    int
	FeatureLayer string
	// WeightsPath points at a safetensors file keyed by layer name
	// ("block1_conv1.kernel", ...). Empty keeps the random initialisation.
	WeightsPath string
}

// VGGFeatures is a frozen VGG19 trunk truncated at FeatureLayer. It expects
// RGB input in [-1, 1]. Its parameters never train, but gradients flow
// through it to its input.
type VGGFeatures struct {
	config VGGConfig
	stack  *layers.Sequential
}

// NewVGGFeatures builds the VGG19 trunk up to the configured feature layer
// with every parameter frozen.
func NewVGGFeatures(config VGGConfig, rng *rand.Rand) (*VGGFeatures, error) {
	if config.FeatureLayer == "" {
		config.FeatureLayer = DefaultFeatureLayer
	}
	if config.InputSize == 0 {
		config.InputSize = 256
	}

	perm := []int{2, 1, 0}
	scale := []float32{127.5, 127.5, 127.5}
	shift := make([]float32, 3)
	for c := range shift {
		shift[c] = 127.5 - vggMeanBGR[c]
	}
	stack := layers.NewSequential("vgg19", layers.NewLambda("caffe_preprocess", func(x *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.ChannelTransform(x, perm, scale, shift)
	}))

	b := &convBuilder{cfg: layers.DefaultConvConfig(), rng: rng}
	in := 3
	found := false
build:
	for bi, blk := range vgg19Blocks {
		for ci := 0; ci < blk.convs; ci++ {
			name := fmt.Sprintf("block%d_conv%d", bi+1, ci+1)
			stack.Add(b.conv(name, in, blk.filters), layers.NewReLU(name+".relu"))
			in = blk.filters
			if name == config.FeatureLayer {
				found = true
				break build
			}
		}
		name := fmt.Sprintf("block%d_pool", bi+1)
		stack.Add(layers.NewMaxPool(name, 2, 2))
		if name == config.FeatureLayer {
			found = true
			break
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	if !found {
		return nil, fmt.Errorf("vgg19: unknown feature layer %q", config.FeatureLayer)
	}
	for _, p := range stack.Parameters() {
		p.SetTrainable(false)
	}

	v := &VGGFeatures{config: config, stack: stack}
	if config.WeightsPath == "" {
		slog.Warn("vgg19 weights not configured, perceptual features use random initialisation", "feature_layer", config.FeatureLayer)
		return v, nil
	}
	if err := v.LoadWeights(config.WeightsPath); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadWeights copies pretrained kernels and biases from a safetensors file.
// Every parameter of the truncated trunk must be present with a matching
// shape; extra tensors are ignored.
func (v *VGGFeatures) LoadWeights(path string) error {
	ts, err := weights.Load(path)
	if err != nil {
		return fmt.Errorf("vgg19: %w", err)
	}
	for _, p := range v.stack.Parameters() {
		src, ok := ts[p.Name]
		if !ok {
			return fmt.Errorf("vgg19: weights file %s has no tensor %q", path, p.Name)
		}
		if !tensor.SameShape(src, p.Value) {
			return fmt.Errorf("vgg19: tensor %q has shape %v, want %v: %w", p.Name, src.Shape, p.Value.Shape, tensor.ErrShapeMismatch)
		}
		copy(p.Value.Data, src.Data)
	}
	slog.Info("loaded vgg19 weights", "path", path, "tensors", len(v.stack.Parameters()))
	return nil
}

// Forward returns the FeatureLayer activation. The mode is ignored: the
// trunk has no batch statistics and its parameters are never trainable.
func (v *VGGFeatures) Forward(x *tensor.Tensor, mode layers.Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if err := checkChannels("vgg19", x, 3); err != nil {
		return nil, err
	}
	return v.stack.Forward(x, layers.Frozen)
}

// Name returns the model name shown in summaries.
func (v *VGGFeatures) Name() string { return "vgg19_features" }

// Layers returns the truncated layer stack.
func (v *VGGFeatures) Layers() []layers.Layer { return v.stack.Layers() }

// Parameters returns the frozen weights.
func (v *VGGFeatures) Parameters() []*layers.Parameter { return v.stack.Parameters() }

// Buffers returns nil.
func (v *VGGFeatures) Buffers() []*layers.Parameter { return nil }

// InputShape returns the HR batch shape the extractor accepts.
func (v *VGGFeatures) InputShape(batch int) []int {
	return []int{batch, v.config.InputSize, v.config.InputSize, 3}
}

// Architecture describes the extractor.
func (v *VGGFeatures) Architecture() Architecture {
	return Architecture{Kind: KindVGG19, Channels: 3, InputSize: v.config.InputSize, FeatureLayer: v.config.FeatureLayer}
}
