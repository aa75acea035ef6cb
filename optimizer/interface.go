// Package optimizer updates layer parameters from their accumulated
// gradients. Each optimizer is bound to one parameter set at construction, so
// two networks trained side by side never share an update.
package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/layers"
)

// Optimizer defines the common interface for all optimizers.
type Optimizer interface {
	// Step applies one update to every bound parameter that holds a
	// gradient. Parameters without a gradient are left untouched.
	Step() error

	// ZeroGrad clears the gradients of the bound parameters.
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing.
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)

	LearningRate() float32
}

// OptimizerState is the checkpointed form of an optimizer.
type OptimizerState = checkpoints.OptimizerState

// bind keeps the trainable parameters of params. Binding an empty set is an
// error since the optimizer could never do anything.
func bind(params []*layers.Parameter) ([]*layers.Parameter, error) {
	bound := layers.Trainable(params)
	if len(bound) == 0 {
		return nil, fmt.Errorf("no trainable parameters to optimize")
	}
	return bound, nil
}

func zeroGrad(params []*layers.Parameter) {
	for _, p := range params {
		p.Value.ZeroGrad()
	}
}

// extractBufferIndex extracts the parameter index from state tensor names
// like "momentum_0" or "variance_12".
func extractBufferIndex(name string) int {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return -1
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil || idx < 0 {
		return -1
	}
	return idx
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
