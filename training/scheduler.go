package training

import (
	"fmt"
	"math"
)

// LRScheduler maps the epoch to a learning rate. Implementations are pure
// functions of their arguments unless they also implement MetricScheduler.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// MetricScheduler is a scheduler driven by an observed metric, fed by the
// session with the windowed mean generator loss.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// SchedulerConfig selects and parameterises a scheduler.
type SchedulerConfig struct {
	// Name is one of constant, step, exponential, cosine or plateau.
	Name      string  `yaml:"name"`
	StepSize  int     `yaml:"step_size"`
	Gamma     float64 `yaml:"gamma"`
	TMax      int     `yaml:"t_max"`
	EtaMin    float64 `yaml:"eta_min"`
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
}

// NewScheduler builds the scheduler named in config. Zero fields fall back
// to each scheduler's defaults.
func NewScheduler(config SchedulerConfig) (LRScheduler, error) {
	switch config.Name {
	case "", "constant":
		return &NoOpScheduler{}, nil
	case "step":
		return NewStepLRScheduler(config.StepSize, config.Gamma), nil
	case "exponential":
		return NewExponentialLRScheduler(config.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(config.TMax, config.EtaMin), nil
	case "plateau":
		return NewReduceLROnPlateauScheduler(config.Gamma, config.Patience, config.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", config.Name)
	}
}

// StepLRScheduler reduces learning rate by a factor every StepSize epochs
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepLRScheduler creates a scheduler that decays the rate by gamma every stepSize epochs.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 100
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.5
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

// GetLR returns baseLR * gamma^(epoch/stepSize).
func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

// GetName returns the scheduler description.
func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64
}

// NewExponentialLRScheduler creates a scheduler that decays the rate by gamma every epoch.
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.999
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

// GetLR returns baseLR * gamma^epoch.
func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

// GetName returns the scheduler description.
func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingLRScheduler anneals the rate to etaMin over tMax epochs.
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 300
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

// GetLR returns the cosine-annealed rate for epoch.
func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

// GetName returns the scheduler description.
func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a minimised metric has stopped
// improving for Patience observations.
type ReduceLROnPlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler multiplies the rate by factor after patience
// observations without an improvement larger than threshold.
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
	}
}

// Step records metric and returns the learning rate to use from now on.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	if metric < s.bestMetric-s.Threshold {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}
	return s.currentLR
}

// GetLR returns the rate last set by Step, or baseLR before the first observation.
func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

// GetName returns the scheduler description.
func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// NoOpScheduler keeps the learning rate constant.
type NoOpScheduler struct{}

// GetLR returns baseLR unchanged.
func (s *NoOpScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

// GetName returns "ConstantLR".
func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
