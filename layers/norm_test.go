package layers

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/tensor"
)

func TestBatchNormMovingStatistics(t *testing.T) {
	bn, err := NewBatchNorm("bn", 1, 0.5, DefaultBatchNormEpsilon)
	require.NoError(t, err)

	// batch mean 2.5, biased variance 1.25, unbiased 5/3
	x, _ := tensor.NewTensor([]int{4, 1}, []float32{1, 2, 3, 4})

	_, err = bn.Forward(x, Frozen)
	require.NoError(t, err)
	require.Equal(t, []float32{0}, bn.MovingMean().Data, "frozen mode must not update moving mean")
	require.Equal(t, []float32{1}, bn.MovingVariance().Data)

	_, err = bn.Forward(x, Train)
	require.NoError(t, err)
	approx := cmpopts.EquateApprox(0, 1e-6)
	if diff := cmp.Diff([]float32{1.25}, bn.MovingMean().Data, approx); diff != "" {
		t.Errorf("moving mean mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0.5 + 0.5*5.0/3.0}, bn.MovingVariance().Data, approx); diff != "" {
		t.Errorf("moving variance mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchNormInferenceUsesMovingStats(t *testing.T) {
	bn, err := NewBatchNorm("bn", 2, 0.5, 1e-3)
	require.NoError(t, err)
	copy(bn.MovingMean().Data, []float32{1, -1})
	copy(bn.MovingVariance().Data, []float32{4, 1})

	x, _ := tensor.NewTensor([]int{1, 1, 1, 2}, []float32{3, -1})
	y, err := bn.Forward(x, Inference)
	require.NoError(t, err)
	require.InDelta(t, 2/2.00025, y.Data[0], 1e-4)
	require.InDelta(t, 0, y.Data[1], 1e-6)
}

func TestBatchNormFrozenPassesGradient(t *testing.T) {
	bn, err := NewBatchNorm("bn", 3, 0.5, 1e-3)
	require.NoError(t, err)
	x, _ := tensor.RandomNormal([]int{2, 2, 2, 3}, 0, 1, rand.New(rand.NewSource(3)))
	x.SetRequiresGrad(true)
	w, _ := tensor.RandomNormal([]int{2, 2, 2, 3}, 0, 1, rand.New(rand.NewSource(4)))

	y, err := bn.Forward(x, Frozen)
	require.NoError(t, err)
	p, err := tensor.Mul(y, w)
	require.NoError(t, err)
	require.NoError(t, tensor.Sum(p).Backward())

	require.NotNil(t, x.Grad())
	for _, param := range bn.Parameters() {
		require.Nil(t, param.Value.Grad(), param.Name)
	}
}
