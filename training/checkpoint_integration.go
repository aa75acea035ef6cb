package training

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/optimizer"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	Dir string `yaml:"dir"`
	// Interval saves every N steps; 0 disables periodic saves.
	Interval int `yaml:"interval"`
	// Keep is the number of checkpoints kept per network; 0 keeps all.
	Keep          int                          `yaml:"keep"`
	Format        checkpoints.CheckpointFormat `yaml:"-"`
	HalfPrecision bool                         `yaml:"half_precision"`
}

// DefaultCheckpointConfig saves every 50 steps and keeps the last 3 pairs.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Dir:      "checkpoints",
		Interval: 50,
		Keep:     3,
		Format:   checkpoints.FormatBinary,
	}
}

// TrainedNetwork pairs a network with the optimizer that updates it.
type TrainedNetwork struct {
	Network   nets.Network
	Optimizer optimizer.Optimizer
}

// CheckpointManager saves and restores the generator and discriminator of a
// session as a pair. Every file is keyed by its network's architecture, so a
// resumed session only ever loads weights into an identical network.
type CheckpointManager struct {
	config CheckpointConfig
	saver  *checkpoints.CheckpointSaver
	runID  string
}

// NewCheckpointManager creates the checkpoint directory and a run id.
func NewCheckpointManager(config CheckpointConfig) (*CheckpointManager, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format).WithHalfPrecision(config.HalfPrecision),
		runID:  checkpoints.NewRunID(),
	}, nil
}

// RunID identifies the training run in checkpoint metadata.
func (cm *CheckpointManager) RunID() string { return cm.runID }

// ShouldSave reports whether a periodic checkpoint is due after completing
// epoch steps.
func (cm *CheckpointManager) ShouldSave(epoch int) bool {
	return cm.config.Interval > 0 && epoch > 0 && epoch%cm.config.Interval == 0
}

// Save writes one checkpoint per network for the given number of completed
// steps and prunes old ones.
func (cm *CheckpointManager) Save(epoch int, result StepResult, networks ...TrainedNetwork) error {
	for _, tn := range networks {
		var optState *checkpoints.OptimizerState
		if tn.Optimizer != nil {
			state, err := tn.Optimizer.GetState()
			if err != nil {
				return fmt.Errorf("failed to capture %s optimizer: %w", tn.Network.Name(), err)
			}
			optState = state
		}

		state := checkpoints.TrainingState{
			Epoch: epoch,
			DLoss: result.DLoss,
			GLoss: result.GLoss,
		}
		if tn.Optimizer != nil {
			state.LearningRate = tn.Optimizer.LearningRate()
		}
		cp := checkpoints.Capture(tn.Network, state, optState)
		cp.Metadata.RunID = cm.runID
		cp.Metadata.Description = fmt.Sprintf("%s after %d steps", tn.Network.Name(), epoch)

		arch := tn.Network.Architecture()
		path := checkpoints.Path(cm.config.Dir, arch, epoch, cm.config.Format)
		if err := cm.saver.SaveCheckpoint(cp, path); err != nil {
			return err
		}
		if err := checkpoints.Prune(cm.config.Dir, arch, cm.config.Format, cm.config.Keep); err != nil {
			slog.Warn("failed to prune checkpoints", "dir", cm.config.Dir, "error", err)
		}
	}
	slog.Info("checkpoint saved", "epoch", epoch, "dir", cm.config.Dir, "run_id", cm.runID)
	return nil
}

// Resume restores every network from the newest epoch for which all of
// them have a checkpoint. It returns ok=false when there is nothing to
// resume from.
func (cm *CheckpointManager) Resume(networks ...TrainedNetwork) (epoch int, ok bool, err error) {
	if len(networks) == 0 {
		return 0, false, nil
	}
	entries, err := checkpoints.List(cm.config.Dir, networks[0].Network.Architecture(), cm.config.Format)
	if err != nil {
		return 0, false, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		epoch := entries[i].Epoch
		if !cm.complete(epoch, networks) {
			continue
		}
		for _, tn := range networks {
			if err := cm.restore(epoch, tn); err != nil {
				return 0, false, err
			}
		}
		slog.Info("resumed from checkpoint", "epoch", epoch, "dir", cm.config.Dir, "run_id", cm.runID)
		return epoch, true, nil
	}
	return 0, false, nil
}

func (cm *CheckpointManager) complete(epoch int, networks []TrainedNetwork) bool {
	for _, tn := range networks {
		if _, err := os.Stat(checkpoints.Path(cm.config.Dir, tn.Network.Architecture(), epoch, cm.config.Format)); err != nil {
			return false
		}
	}
	return true
}

func (cm *CheckpointManager) restore(epoch int, tn TrainedNetwork) error {
	path := checkpoints.Path(cm.config.Dir, tn.Network.Architecture(), epoch, cm.config.Format)
	cp, err := cm.saver.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := checkpoints.Restore(cp, tn.Network); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if tn.Optimizer != nil && cp.OptimizerState != nil {
		if err := tn.Optimizer.LoadState(cp.OptimizerState); err != nil {
			return fmt.Errorf("%s: failed to restore optimizer: %w", path, err)
		}
	}
	if cp.Metadata.RunID != "" {
		cm.runID = cp.Metadata.RunID
	}
	return nil
}
