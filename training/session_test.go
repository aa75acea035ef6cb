package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/optimizer"
	"github.com/tsawler/go-srgan/tensor"
	"github.com/tsawler/go-srgan/vision/dataset"
)

const (
	testLRSize = 4
	testHRSize = 16
)

type testRig struct {
	gen  *nets.SRGAN
	disc *nets.Discriminator
	gOpt *optimizer.Adam
	dOpt *optimizer.Adam
	data dataset.Manager
}

func newTestRig(t *testing.T, seed int64, genLR, discLR float32, batchNorm bool) *testRig {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	gen, err := nets.NewSRGAN(nets.SRGANConfig{
		InputSize: testLRSize, Channels: 3, Filters: 4, ResidualBlocks: 1, UpsampleFilter: 4, Momentum: 0.5,
	}, rng)
	require.NoError(t, err)
	disc, err := nets.NewDiscriminator(nets.DiscriminatorConfig{
		InputSize: testHRSize, Channels: 3, Filters: 2, BatchNorm: batchNorm, Momentum: 0.5,
	}, rng)
	require.NoError(t, err)

	gCfg := optimizer.DefaultAdamConfig()
	gCfg.LearningRate = genLR
	gOpt, err := optimizer.NewAdam(gCfg, gen.Parameters())
	require.NoError(t, err)
	dCfg := optimizer.DefaultAdamConfig()
	dCfg.LearningRate = discLR
	dOpt, err := optimizer.NewAdam(dCfg, disc.Parameters())
	require.NoError(t, err)

	data, err := dataset.NewSyntheticManager(dataset.SyntheticConfig{HRSize: testHRSize, Scale: testHRSize / testLRSize, Seed: seed})
	require.NoError(t, err)
	return &testRig{gen: gen, disc: disc, gOpt: gOpt, dOpt: dOpt, data: data}
}

func (r *testRig) deps() Deps {
	return Deps{
		Generator:              r.gen,
		Discriminator:          r.disc,
		GeneratorOptimizer:     r.gOpt,
		DiscriminatorOptimizer: r.dOpt,
		Data:                   r.data,
	}
}

func testConfig(epochs int) Config {
	cfg := DefaultConfig()
	cfg.Epochs = epochs
	cfg.SampleInterval = 0
	cfg.LogInterval = 0
	cfg.Seed = 1
	return cfg
}

func snapshot(params []*layers.Parameter) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = append([]float32(nil), p.Value.Data...)
	}
	return out
}

func changed(before [][]float32, params []*layers.Parameter) bool {
	for i, p := range params {
		for j, v := range p.Value.Data {
			if v != before[i][j] {
				return true
			}
		}
	}
	return false
}

func TestStepUpdatesBothNetworksWithFiniteLosses(t *testing.T) {
	rig := newTestRig(t, 1, 1e-3, 1e-3, true)
	s, err := NewSession(testConfig(1), rig.deps())
	require.NoError(t, err)

	gBefore := snapshot(rig.gen.Parameters())
	dBefore := snapshot(rig.disc.Parameters())

	result, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Epoch)
	require.Equal(t, 1, s.Epoch())
	for name, v := range result.Metrics() {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
	}
	require.Greater(t, result.DLoss, float32(0))
	require.InDelta(t, 0.5*(result.DLossReal+result.DLossFake), result.DLoss, 1e-6)
	require.InDelta(t, result.ContentLoss+1e-3*result.AdversarialLoss, result.GLoss, 1e-5)

	require.True(t, changed(gBefore, rig.gen.Parameters()), "generator should be updated")
	require.True(t, changed(dBefore, rig.disc.Parameters()), "discriminator should be updated")
	require.EqualValues(t, 1, rig.gOpt.GetStepCount())
	require.EqualValues(t, 2, rig.dOpt.GetStepCount())
}

func TestGeneratorPhaseLeavesDiscriminatorUntouched(t *testing.T) {
	rig := newTestRig(t, 2, 1e-3, 1e-3, true)
	s, err := NewSession(testConfig(1), rig.deps())
	require.NoError(t, err)

	dParams := snapshot(rig.disc.Parameters())
	dBuffers := snapshot(rig.disc.Buffers())
	var result StepResult
	require.NoError(t, s.generatorPhase(&result))

	require.False(t, changed(dParams, rig.disc.Parameters()), "frozen discriminator weights moved")
	require.False(t, changed(dBuffers, rig.disc.Buffers()), "frozen discriminator statistics moved")
	for _, p := range rig.disc.Parameters() {
		require.Nil(t, p.Value.Grad(), p.Name)
	}
}

func TestDiscriminatorLearnsSeparableData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping convergence run in short mode")
	}
	// The generator barely moves, so real textures and generated images
	// stay separable and the discriminator loss must fall.
	rig := newTestRig(t, 3, 1e-7, 1e-3, false)
	s, err := NewSession(testConfig(100), rig.deps())
	require.NoError(t, err)

	var losses []float32
	for i := 0; i < 100; i++ {
		result, err := s.Step(context.Background())
		require.NoError(t, err)
		losses = append(losses, result.DLoss)
	}

	mean := func(xs []float32) float32 {
		var sum float32
		for _, x := range xs {
			sum += x
		}
		return sum / float32(len(xs))
	}
	first, last := mean(losses[:10]), mean(losses[90:])
	require.Less(t, last, first, "discriminator loss did not decrease: %v -> %v", first, last)
}

// nanManager corrupts one HR pixel of every batch.
type nanManager struct {
	dataset.Manager
}

func (m nanManager) LoadData(batchSize int, isTesting bool) (*tensor.Tensor, *tensor.Tensor, error) {
	hr, lr, err := m.Manager.LoadData(batchSize, isTesting)
	if err != nil {
		return nil, nil, err
	}
	hr.Data[0] = float32(math.NaN())
	return hr, lr, nil
}

func TestNonFiniteLossAbortsBeforeUpdate(t *testing.T) {
	rig := newTestRig(t, 4, 1e-3, 1e-3, false)
	deps := rig.deps()
	deps.Data = nanManager{rig.data}
	s, err := NewSession(testConfig(5), deps)
	require.NoError(t, err)

	gBefore := snapshot(rig.gen.Parameters())
	dBefore := snapshot(rig.disc.Parameters())

	err = s.Run(context.Background())
	require.True(t, errors.Is(err, ErrDivergence), "got %v", err)
	require.Equal(t, 0, s.Epoch())
	require.False(t, changed(gBefore, rig.gen.Parameters()))
	require.False(t, changed(dBefore, rig.disc.Parameters()))
	require.Zero(t, rig.dOpt.GetStepCount())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	rig := newTestRig(t, 5, 1e-3, 1e-3, true)
	s, err := NewSession(testConfig(10), rig.deps())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Run(ctx), context.Canceled)
	require.Equal(t, 0, s.Epoch())
	require.NoError(t, s.Close())
}

func TestSchedulerAdjustsBothOptimizers(t *testing.T) {
	rig := newTestRig(t, 6, 1e-3, 2e-3, true)
	deps := rig.deps()
	deps.Scheduler = NewStepLRScheduler(1, 0.5)
	s, err := NewSession(testConfig(2), deps)
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	// The second step (epoch 1) runs at half the base rate.
	require.InDelta(t, 0.5e-3, rig.gOpt.LearningRate(), 1e-9)
	require.InDelta(t, 1e-3, rig.dOpt.LearningRate(), 1e-9)
}

func TestRunRecordsPlotHistory(t *testing.T) {
	rig := newTestRig(t, 8, 1e-3, 1e-3, true)
	deps := rig.deps()
	deps.Plots = NewVisualizationCollector("srgan")
	s, err := NewSession(testConfig(3), deps)
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 3, deps.Plots.Len())
	lr := deps.Plots.GenerateLearningRateSchedulePlot()
	require.InDelta(t, 1e-3, lr.Series[0].Data[2].Y, 1e-9)
}

func TestNewSessionValidation(t *testing.T) {
	rig := newTestRig(t, 7, 1e-3, 1e-3, true)

	deps := rig.deps()
	deps.Data = nil
	_, err := NewSession(testConfig(1), deps)
	require.Error(t, err)

	deps = rig.deps()
	deps.DiscriminatorOptimizer = nil
	_, err = NewSession(testConfig(1), deps)
	require.Error(t, err)

	cfg := testConfig(1)
	cfg.BatchSize = 0
	_, err = NewSession(cfg, rig.deps())
	require.Error(t, err)

	cfg = testConfig(1)
	cfg.Labels.FakeHigh = 0.9
	_, err = NewSession(cfg, rig.deps())
	require.Error(t, err)
}
