package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/layers"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	// AMSGrad keeps the running maximum of the second moment.
	AMSGrad bool
	// WeightDecay adds WeightDecay*w to each gradient (coupled L2).
	WeightDecay float32
}

// DefaultAdamConfig returns the GAN training defaults: lr 1e-4 with AMSGrad.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-4,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		AMSGrad:      true,
	}
}

// Adam implements Adam and its AMSGrad variant.
type Adam struct {
	config AdamConfig
	params []*layers.Parameter

	momentum [][]float32 // first moment
	variance [][]float32 // second moment
	maxVar   [][]float32 // AMSGrad running max of variance

	stepCount uint64
}

// NewAdam binds an Adam optimizer to the trainable parameters in params.
func NewAdam(config AdamConfig, params []*layers.Parameter) (*Adam, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}
	bound, err := bind(params)
	if err != nil {
		return nil, err
	}

	adam := &Adam{
		config:   config,
		params:   bound,
		momentum: make([][]float32, len(bound)),
		variance: make([][]float32, len(bound)),
	}
	if config.AMSGrad {
		adam.maxVar = make([][]float32, len(bound))
	}
	for i, p := range bound {
		n := p.Value.NumElems
		adam.momentum[i] = make([]float32, n)
		adam.variance[i] = make([]float32, n)
		if config.AMSGrad {
			adam.maxVar[i] = make([]float32, n)
		}
	}
	return adam, nil
}

// Step performs a single Adam optimization step.
func (adam *Adam) Step() error {
	adam.stepCount++
	c := adam.config
	t := float64(adam.stepCount)
	lrT := float64(c.LearningRate) * math.Sqrt(1-math.Pow(float64(c.Beta2), t)) / (1 - math.Pow(float64(c.Beta1), t))

	for i, p := range adam.params {
		grad := p.Value.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.Value.NumElems {
			return fmt.Errorf("gradient for %s has %d elements, want %d", p.Name, grad.NumElems, p.Value.NumElems)
		}
		w := p.Value.Data
		m, v := adam.momentum[i], adam.variance[i]
		for j, g := range grad.Data {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * w[j]
			}
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g*g
			denom := v[j]
			if c.AMSGrad {
				if v[j] > adam.maxVar[i][j] {
					adam.maxVar[i][j] = v[j]
				}
				denom = adam.maxVar[i][j]
			}
			w[j] -= float32(lrT * float64(m[j]) / (math.Sqrt(float64(denom)) + float64(c.Epsilon)))
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all bound parameters.
func (adam *Adam) ZeroGrad() { zeroGrad(adam.params) }

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *Adam) UpdateLearningRate(newLR float32) {
	adam.config.LearningRate = newLR
}

// LearningRate returns the current learning rate.
func (adam *Adam) LearningRate() float32 { return adam.config.LearningRate }

// GetStepCount returns the number of updates applied.
func (adam *Adam) GetStepCount() uint64 { return adam.stepCount }

// GetState extracts optimizer state for checkpointing.
func (adam *Adam) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 3*len(adam.params))
	for i, p := range adam.params {
		stateData = append(stateData,
			extractBufferState(adam.momentum[i], p.Value.Shape, fmt.Sprintf("momentum_%d", i), "momentum"),
			extractBufferState(adam.variance[i], p.Value.Shape, fmt.Sprintf("variance_%d", i), "variance"),
		)
		if adam.config.AMSGrad {
			stateData = append(stateData,
				extractBufferState(adam.maxVar[i], p.Value.Shape, fmt.Sprintf("max_variance_%d", i), "max_variance"))
		}
	}
	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.config.LearningRate,
			"beta1":         adam.config.Beta1,
			"beta2":         adam.config.Beta2,
			"epsilon":       adam.config.Epsilon,
			"weight_decay":  adam.config.WeightDecay,
			"amsgrad":       adam.config.AMSGrad,
			"step_count":    adam.stepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	amsgrad := extractBoolParam(state.Parameters, "amsgrad", adam.config.AMSGrad)
	if amsgrad != adam.config.AMSGrad {
		return fmt.Errorf("checkpoint amsgrad=%t does not match optimizer amsgrad=%t", amsgrad, adam.config.AMSGrad)
	}

	if err := restoreBuffers(state, "momentum", adam.momentum); err != nil {
		return err
	}
	if err := restoreBuffers(state, "variance", adam.variance); err != nil {
		return err
	}
	if adam.config.AMSGrad {
		if err := restoreBuffers(state, "max_variance", adam.maxVar); err != nil {
			return err
		}
	}

	adam.config.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.config.LearningRate)
	adam.config.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.config.Beta1)
	adam.config.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.config.Beta2)
	adam.config.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.config.Epsilon)
	adam.config.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.config.WeightDecay)
	adam.stepCount = extractUint64Param(state.Parameters, "step_count", adam.stepCount)
	return nil
}

// Config returns the current hyperparameters.
func (adam *Adam) Config() AdamConfig { return adam.config }
