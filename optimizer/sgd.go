package optimizer

import (
	"fmt"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/layers"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD is stochastic gradient descent with optional (Nesterov) momentum.
type SGD struct {
	config   SGDConfig
	params   []*layers.Parameter
	velocity [][]float32 // nil unless Momentum > 0

	stepCount uint64
}

// NewSGD binds an SGD optimizer to params.
func NewSGD(config SGDConfig, params []*layers.Parameter) (*SGD, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %g", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}
	bound, err := bind(params)
	if err != nil {
		return nil, err
	}
	sgd := &SGD{config: config, params: bound}
	if config.Momentum > 0 {
		sgd.velocity = make([][]float32, len(bound))
		for i, p := range bound {
			sgd.velocity[i] = make([]float32, p.Value.NumElems)
		}
	}
	return sgd, nil
}

// Step applies w -= lr*g, or with momentum v = mu*v - lr*g; w += v
// (w += mu*v - lr*g for Nesterov).
func (sgd *SGD) Step() error {
	sgd.stepCount++
	c := sgd.config
	for i, p := range sgd.params {
		grad := p.Value.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.Value.NumElems {
			return fmt.Errorf("gradient for %s has %d elements, want %d", p.Name, grad.NumElems, p.Value.NumElems)
		}
		w := p.Value.Data
		for j, g := range grad.Data {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * w[j]
			}
			if sgd.velocity == nil {
				w[j] -= c.LearningRate * g
				continue
			}
			v := sgd.velocity[i]
			v[j] = c.Momentum*v[j] - c.LearningRate*g
			if c.Nesterov {
				w[j] += c.Momentum*v[j] - c.LearningRate*g
			} else {
				w[j] += v[j]
			}
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all bound parameters.
func (sgd *SGD) ZeroGrad() { zeroGrad(sgd.params) }

// UpdateLearningRate sets the learning rate for subsequent steps.
func (sgd *SGD) UpdateLearningRate(newLR float32) { sgd.config.LearningRate = newLR }

// LearningRate returns the current learning rate.
func (sgd *SGD) LearningRate() float32 { return sgd.config.LearningRate }

// GetStepCount returns the number of updates applied.
func (sgd *SGD) GetStepCount() uint64 { return sgd.stepCount }

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.velocity))
	for i, v := range sgd.velocity {
		stateData = append(stateData,
			extractBufferState(v, sgd.params[i].Value.Shape, fmt.Sprintf("momentum_%d", i), "momentum"))
	}
	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.config.LearningRate,
			"momentum":      sgd.config.Momentum,
			"weight_decay":  sgd.config.WeightDecay,
			"nesterov":      sgd.config.Nesterov,
			"step_count":    sgd.stepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	momentum := extractFloat32Param(state.Parameters, "momentum", sgd.config.Momentum)
	if (momentum > 0) != (sgd.velocity != nil) {
		return fmt.Errorf("checkpoint momentum %g is incompatible with optimizer momentum %g", momentum, sgd.config.Momentum)
	}
	if err := restoreBuffers(state, "momentum", sgd.velocity); err != nil {
		return err
	}

	sgd.config.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.config.LearningRate)
	sgd.config.Momentum = momentum
	sgd.config.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.config.WeightDecay)
	sgd.config.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.config.Nesterov)
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", sgd.stepCount)
	return nil
}
