package training

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/tensor"
	"github.com/tsawler/go-srgan/vision/dataset"
)

func TestCheckpointSaveAndResume(t *testing.T) {
	dir := t.TempDir()
	ckptConfig := CheckpointConfig{Dir: dir, Interval: 2, Keep: 1, Format: checkpoints.FormatBinary}

	rig := newTestRig(t, 21, 1e-3, 1e-3, true)
	manager, err := NewCheckpointManager(ckptConfig)
	require.NoError(t, err)
	deps := rig.deps()
	deps.Checkpoints = manager
	s, err := NewSession(testConfig(3), deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Close())
	// Close is idempotent.
	require.NoError(t, s.Close())

	gEntries, err := checkpoints.List(dir, rig.gen.Architecture(), checkpoints.FormatBinary)
	require.NoError(t, err)
	require.Len(t, gEntries, 1)
	require.Equal(t, 3, gEntries[0].Epoch)
	dEntries, err := checkpoints.List(dir, rig.disc.Architecture(), checkpoints.FormatBinary)
	require.NoError(t, err)
	require.Len(t, dEntries, 1)

	// A fresh rig with different initial weights picks up where the first
	// left off.
	resumed := newTestRig(t, 99, 1e-3, 1e-3, true)
	manager2, err := NewCheckpointManager(ckptConfig)
	require.NoError(t, err)
	deps = resumed.deps()
	deps.Checkpoints = manager2
	s2, err := NewSession(testConfig(4), deps)
	require.NoError(t, err)

	require.Equal(t, 3, s2.Epoch())
	require.Equal(t, manager.RunID(), manager2.RunID())
	require.Equal(t, snapshot(rig.gen.Parameters()), snapshot(resumed.gen.Parameters()))
	require.Equal(t, snapshot(rig.disc.Buffers()), snapshot(resumed.disc.Buffers()))
	require.Equal(t, rig.gOpt.GetStepCount(), resumed.gOpt.GetStepCount())
	require.EqualValues(t, 6, resumed.dOpt.GetStepCount())

	result, err := s2.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Epoch)
}

// lateNaNManager serves clean batches for the first clean calls, then
// corrupts every low-resolution input.
type lateNaNManager struct {
	dataset.Manager
	calls int
	clean int
}

func (m *lateNaNManager) LoadData(batchSize int, isTesting bool) (*tensor.Tensor, *tensor.Tensor, error) {
	hr, lr, err := m.Manager.LoadData(batchSize, isTesting)
	if err != nil || isTesting {
		return hr, lr, err
	}
	m.calls++
	if m.calls > m.clean {
		// A NaN low-resolution input leaves the real-batch update intact
		// and poisons the generated batch.
		lr.Data[0] = float32(math.NaN())
	}
	return hr, lr, nil
}

func TestDivergedSessionIsNotCheckpointed(t *testing.T) {
	dir := t.TempDir()
	ckptConfig := CheckpointConfig{Dir: dir, Interval: 100, Keep: 1, Format: checkpoints.FormatJSON}

	rig := newTestRig(t, 23, 1e-3, 1e-3, false)
	manager, err := NewCheckpointManager(ckptConfig)
	require.NoError(t, err)
	deps := rig.deps()
	deps.Checkpoints = manager
	// Two loads per step: the third step is the first to see NaN.
	deps.Data = &lateNaNManager{Manager: rig.data, clean: 4}
	s, err := NewSession(testConfig(5), deps)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.True(t, errors.Is(err, ErrDivergence), "got %v", err)
	require.Equal(t, 2, s.Epoch())
	require.ErrorIs(t, s.Err(), ErrDivergence)

	// The aborted step already applied the real-batch discriminator update.
	require.EqualValues(t, 5, rig.dOpt.GetStepCount())

	dBefore := snapshot(rig.disc.Parameters())
	_, err = s.Step(context.Background())
	require.ErrorIs(t, err, ErrDivergence)
	require.False(t, changed(dBefore, rig.disc.Parameters()), "a failed session must not step again")

	require.NoError(t, s.Close())
	for _, arch := range []nets.Architecture{rig.gen.Architecture(), rig.disc.Architecture()} {
		entries, err := checkpoints.List(dir, arch, checkpoints.FormatJSON)
		require.NoError(t, err)
		require.Empty(t, entries, arch.Key())
	}
}

func TestResumeWithoutCheckpoints(t *testing.T) {
	manager, err := NewCheckpointManager(CheckpointConfig{Dir: t.TempDir(), Interval: 1})
	require.NoError(t, err)
	rig := newTestRig(t, 22, 1e-3, 1e-3, true)

	epoch, ok, err := manager.Resume(TrainedNetwork{Network: rig.gen, Optimizer: rig.gOpt})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, epoch)

	require.False(t, manager.ShouldSave(0))
	require.True(t, manager.ShouldSave(3))

	_, err = NewCheckpointManager(CheckpointConfig{})
	require.Error(t, err)
}
