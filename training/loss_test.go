package training

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/tensor"
)

func TestPixelLosses(t *testing.T) {
	yTrue, err := tensor.NewTensor([]int{1, 1, 2, 1}, []float32{0, 1})
	require.NoError(t, err)
	yPred, err := tensor.NewTensor([]int{1, 1, 2, 1}, []float32{0.5, -1})
	require.NoError(t, err)

	mse, err := MSELoss(yTrue, yPred)
	require.NoError(t, err)
	require.InDelta(t, (0.25+4)/2, mse.Data[0], 1e-6)

	l1, err := L1Loss(yTrue, yPred)
	require.NoError(t, err)
	require.InDelta(t, (0.5+2)/2, l1.Data[0], 1e-6)

	target, err := tensor.NewTensor([]int{2, 1}, []float32{1, 0})
	require.NoError(t, err)
	pred, err := tensor.NewTensor([]int{2, 1}, []float32{0.9, 0.2})
	require.NoError(t, err)
	bce, err := BCELoss(target, pred)
	require.NoError(t, err)
	require.InDelta(t, -(math.Log(0.9)+math.Log(0.8))/2, bce.Data[0], 1e-5)
}

func TestPerceptualLossGradientReachesPrediction(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vgg, err := nets.NewVGGFeatures(nets.VGGConfig{InputSize: 8, FeatureLayer: "block1_conv2"}, rng)
	require.NoError(t, err)
	loss := PerceptualLoss(vgg)

	yTrue, err := tensor.RandomUniform([]int{1, 8, 8, 3}, -1, 1, rng)
	require.NoError(t, err)
	same, err := loss(yTrue, yTrue.Clone())
	require.NoError(t, err)
	require.InDelta(t, 0, same.Data[0], 1e-6)

	yPred, err := tensor.RandomUniform([]int{1, 8, 8, 3}, -1, 1, rng)
	require.NoError(t, err)
	yPred.SetRequiresGrad(true)
	l, err := loss(yTrue, yPred)
	require.NoError(t, err)
	require.Greater(t, l.Data[0], float32(0))
	require.NoError(t, l.Backward())
	require.NotNil(t, yPred.Grad())
	for _, p := range vgg.Parameters() {
		require.Nil(t, p.Value.Grad(), p.Name)
	}
}

func TestContentLossSelection(t *testing.T) {
	for _, name := range []string{"mse", "l1"} {
		fn, err := ContentLoss(name, nil)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}
	_, err := ContentLoss("perceptual", nil)
	require.Error(t, err)
	_, err = ContentLoss("ssim", nil)
	require.Error(t, err)
}

func TestLossValueRejectsNonFinite(t *testing.T) {
	v, err := lossValue("ok", tensor.Scalar(0.5))
	require.NoError(t, err)
	require.Equal(t, float32(0.5), v)

	for _, bad := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		_, err := lossValue("bad", tensor.Scalar(bad))
		require.True(t, errors.Is(err, ErrDivergence), "got %v", err)
	}
}
