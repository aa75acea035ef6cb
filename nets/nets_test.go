package nets

import (
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets/weights"
	"github.com/tsawler/go-srgan/tensor"
)

func newRNG() *rand.Rand { return rand.New(rand.NewSource(7)) }

func uniformInput(t *testing.T, lo, hi float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.RandomUniform(shape, lo, hi, newRNG())
	require.NoError(t, err)
	return x
}

func requireRange(t *testing.T, x *tensor.Tensor, lo, hi float32) {
	t.Helper()
	require.False(t, x.HasNonFinite(), "output contains NaN or Inf")
	gotLo, gotHi := x.MinMax()
	require.GreaterOrEqual(t, gotLo, lo)
	require.LessOrEqual(t, gotHi, hi)
}

func TestResidualDenseBlockPreservesShape(t *testing.T) {
	rdb, err := NewResidualDenseBlock("rdb", 8, 4, DefaultResidualScale, 0, newRNG())
	require.NoError(t, err)
	require.Len(t, rdb.Parameters(), 10)

	// conv k reads nf + k*gc channels.
	require.Equal(t, []int{3, 3, 8 + 3*4, 4}, rdb.Parameters()[6].Value.Shape)
	require.Equal(t, []int{3, 3, 8 + 4*4, 8}, rdb.Parameters()[8].Value.Shape)

	x := uniformInput(t, -1, 1, 2, 5, 7, 8)
	y, err := rdb.Forward(x, layers.Train)
	require.NoError(t, err)
	require.Equal(t, x.Shape, y.Shape)

	_, err = rdb.Forward(uniformInput(t, -1, 1, 1, 4, 4, 3), layers.Train)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestRRDBPreservesShapeAndTrains(t *testing.T) {
	block, err := NewRRDB("rrdb", 4, 4, DefaultResidualScale, 0, newRNG())
	require.NoError(t, err)
	require.Len(t, block.Parameters(), 30)

	x := uniformInput(t, -1, 1, 1, 6, 6, 4)
	y, err := block.Forward(x, layers.Train)
	require.NoError(t, err)
	require.Equal(t, x.Shape, y.Shape)

	loss := tensor.Mean(y)
	require.NoError(t, loss.Backward())
	for _, p := range block.Parameters() {
		require.NotNil(t, p.Value.Grad(), p.Name)
	}
}

func TestInferenceRecordsNoGraph(t *testing.T) {
	block, err := NewRRDB("rrdb", 4, 4, DefaultResidualScale, 0, newRNG())
	require.NoError(t, err)
	gen, err := NewSRGAN(smallSRGAN(), newRNG())
	require.NoError(t, err)

	tests := []struct {
		name string
		net  interface {
			Forward(*tensor.Tensor, layers.Mode) (*tensor.Tensor, error)
		}
		shape []int
	}{
		{"rrdb", block, []int{1, 6, 6, 4}},
		{"srgan", gen, []int{1, 4, 4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := uniformInput(t, 0, 1, tt.shape...)
			x.SetRequiresGrad(true)
			y, err := tt.net.Forward(x, layers.Inference)
			require.NoError(t, err)
			require.False(t, y.RequiresGrad(), "residual paths must not reattach the input")
			require.Nil(t, y.Creator())
		})
	}
}

func smallESRGAN(size int) ESRGANConfig {
	return ESRGANConfig{
		OutputSize: size,
		Scale:      4,
		Channels:   3,
		Width:      8,
		Depth:      1,
		Growth:     4,
	}
}

func TestESRGANUpscalesByFour(t *testing.T) {
	g, err := NewESRGAN(smallESRGAN(32), newRNG())
	require.NoError(t, err)
	require.Equal(t, []int{2, 8, 8, 3}, g.InputShape(2))
	require.InDelta(t, DefaultResidualScale, g.Config().ResidualScale, 1e-7)

	y, err := g.Forward(uniformInput(t, 0, 1, 2, 8, 8, 3), layers.Train)
	require.NoError(t, err)
	require.Equal(t, []int{2, 32, 32, 3}, y.Shape)

	// Fully convolutional: other input sizes work too.
	y, err = g.Forward(uniformInput(t, 0, 1, 1, 5, 3, 3), layers.Inference)
	require.NoError(t, err)
	require.Equal(t, []int{1, 20, 12, 3}, y.Shape)

	spec, err := Describe(g, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 32, 32, 3}, spec.OutputShape)
	require.Contains(t, spec.Summary(), "RRDB_trunk")
}

func TestESRGANRejectsUnsupportedScale(t *testing.T) {
	cfg := smallESRGAN(32)
	cfg.Scale = 2
	_, err := NewESRGAN(cfg, newRNG())
	require.Error(t, err)

	cfg = smallESRGAN(30)
	_, err = NewESRGAN(cfg, newRNG())
	require.ErrorIs(t, err, ErrInvalidInputSize)
}

func TestESRGANWeightDecay(t *testing.T) {
	cfg := smallESRGAN(16)
	cfg.WeightDecay = 1e-4
	g, err := NewESRGAN(cfg, newRNG())
	require.NoError(t, err)

	reg, err := layers.RegularizationLoss(g.Parameters())
	require.NoError(t, err)
	require.NotNil(t, reg)
	v, err := reg.Item()
	require.NoError(t, err)
	require.Greater(t, v, float32(0))
}

func TestESRGANDefaultOnZeroInput(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size generator is slow")
	}
	g, err := NewESRGAN(DefaultESRGANConfig(), newRNG())
	require.NoError(t, err)
	x, err := tensor.Zeros([]int{1, 64, 64, 3})
	require.NoError(t, err)

	y, err := g.Forward(x, layers.Inference)
	require.NoError(t, err)
	require.Equal(t, []int{1, 256, 256, 3}, y.Shape)
	require.False(t, y.HasNonFinite())
}

func smallSRGAN() SRGANConfig {
	return SRGANConfig{
		InputSize:      4,
		Channels:       3,
		Filters:        4,
		ResidualBlocks: 2,
		UpsampleFilter: 8,
		Momentum:       0.5,
	}
}

func TestSRGANOutputIsTanhBounded(t *testing.T) {
	g, err := NewSRGAN(smallSRGAN(), newRNG())
	require.NoError(t, err)

	y, err := g.Forward(uniformInput(t, 0, 1, 2, 4, 4, 3), layers.Train)
	require.NoError(t, err)
	require.Equal(t, []int{2, 16, 16, 3}, y.Shape)
	requireRange(t, y, -1, 1)

	// Two residual blocks with two BN layers each, plus conv2.bn.
	require.Len(t, g.Buffers(), 2*5)

	spec, err := Describe(g, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 16, 16, 3}, spec.OutputShape)

	_, err = NewSRGAN(SRGANConfig{InputSize: 4, Channels: 3, Filters: 4, UpsampleFilter: 8}, newRNG())
	require.Error(t, err)
}

func smallDiscriminator() DiscriminatorConfig {
	return DiscriminatorConfig{InputSize: 16, Channels: 3, Filters: 2, BatchNorm: true, Momentum: 0.5}
}

func TestDiscriminatorOutputsProbabilities(t *testing.T) {
	d, err := NewDiscriminator(smallDiscriminator(), newRNG())
	require.NoError(t, err)

	y, err := d.Forward(uniformInput(t, -1, 1, 3, 16, 16, 3), layers.Train)
	require.NoError(t, err)
	require.Equal(t, []int{3, 1}, y.Shape)
	requireRange(t, y, 0, 1)

	spec, err := Describe(d, 3)
	require.NoError(t, err)
	require.Equal(t, []int{3, 1}, spec.OutputShape)
	// Block 1 has no BN; the other seven do.
	require.Len(t, d.Buffers(), 7*2)
}

func TestDiscriminatorInputValidation(t *testing.T) {
	cfg := smallDiscriminator()
	cfg.InputSize = 20
	_, err := NewDiscriminator(cfg, newRNG())
	require.ErrorIs(t, err, ErrInvalidInputSize)

	d, err := NewDiscriminator(smallDiscriminator(), newRNG())
	require.NoError(t, err)
	_, err = d.Forward(uniformInput(t, -1, 1, 1, 32, 32, 3), layers.Train)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestVGGFeaturesAreFrozen(t *testing.T) {
	v, err := NewVGGFeatures(VGGConfig{InputSize: 8, FeatureLayer: "block2_conv1"}, newRNG())
	require.NoError(t, err)
	for _, p := range v.Parameters() {
		require.False(t, p.Trainable, p.Name)
	}

	x := uniformInput(t, -1, 1, 1, 8, 8, 3)
	x.SetRequiresGrad(true)
	y, err := v.Forward(x, layers.Train)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4, 128}, y.Shape)
	lo, _ := y.MinMax()
	require.GreaterOrEqual(t, lo, float32(0), "feature layer includes its ReLU")

	require.NoError(t, tensor.Sum(y).Backward())
	require.NotNil(t, x.Grad(), "gradient must reach the input")
	for _, p := range v.Parameters() {
		require.Nil(t, p.Value.Grad(), p.Name)
	}

	spec, err := Describe(v, 1)
	require.NoError(t, err)
	require.Zero(t, spec.TrainableParameters)
	require.Positive(t, spec.TotalParameters)
}

func TestVGGFeatureLayerSelection(t *testing.T) {
	v, err := NewVGGFeatures(VGGConfig{InputSize: 8, FeatureLayer: "block1_pool"}, newRNG())
	require.NoError(t, err)
	y, err := v.Forward(uniformInput(t, -1, 1, 1, 8, 8, 3), layers.Inference)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4, 64}, y.Shape)

	_, err = NewVGGFeatures(VGGConfig{FeatureLayer: "block9_conv1"}, newRNG())
	require.Error(t, err)

	d, err := NewVGGFeatures(VGGConfig{}, newRNG())
	require.NoError(t, err)
	require.Equal(t, DefaultFeatureLayer, d.Architecture().FeatureLayer)
	// block1 (2) + block2 (2) + block3 (4) convs, kernel and bias each.
	require.Len(t, d.Parameters(), 16)
}

func TestVGGLoadWeights(t *testing.T) {
	v, err := NewVGGFeatures(VGGConfig{InputSize: 8, FeatureLayer: "block1_conv2"}, newRNG())
	require.NoError(t, err)

	stored := map[string]*tensor.Tensor{}
	for _, p := range v.Parameters() {
		w, err := tensor.Full(p.Value.Shape, 0.5)
		require.NoError(t, err)
		stored[p.Name] = w
	}
	path := filepath.Join(t.TempDir(), "vgg19.safetensors")
	require.NoError(t, weights.Save(path, stored, weights.F16))

	loaded, err := NewVGGFeatures(VGGConfig{InputSize: 8, FeatureLayer: "block1_conv2", WeightsPath: path}, newRNG())
	require.NoError(t, err)
	for _, p := range loaded.Parameters() {
		require.Equal(t, float32(0.5), p.Value.Data[0], p.Name)
	}

	delete(stored, "block1_conv2.bias")
	require.NoError(t, weights.Save(path, stored, weights.F32))
	err = v.LoadWeights(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "block1_conv2.bias"))
}

func TestArchitectureBuildRoundTrip(t *testing.T) {
	rng := newRNG()
	g, err := NewESRGAN(smallESRGAN(16), rng)
	require.NoError(t, err)
	s, err := NewSRGAN(smallSRGAN(), rng)
	require.NoError(t, err)
	d, err := NewDiscriminator(smallDiscriminator(), rng)
	require.NoError(t, err)

	for _, n := range []Network{g, s, d} {
		arch := n.Architecture()
		rebuilt, err := arch.Build(newRNG())
		require.NoError(t, err, arch.Key())
		require.Equal(t, arch, rebuilt.Architecture())
		require.Equal(t, arch.Key(), rebuilt.Architecture().Key())
		require.Equal(t, len(n.Parameters()), len(rebuilt.Parameters()))
	}

	require.Equal(t, "esrgan-c3-x4-nf8-nb1-gc4", g.Architecture().Key())
	require.Equal(t, "discriminator-c3-in16-f2-bntrue", d.Architecture().Key())

	_, err = Architecture{Kind: "unet"}.Build(rng)
	require.Error(t, err)
}

func TestForwardErrorsAreShapeMismatches(t *testing.T) {
	g, err := NewSRGAN(smallSRGAN(), newRNG())
	require.NoError(t, err)
	_, err = g.Forward(uniformInput(t, 0, 1, 1, 4, 4, 1), layers.Train)
	require.True(t, errors.Is(err, tensor.ErrShapeMismatch))
}
