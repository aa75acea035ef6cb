package layers

import (
	"fmt"

	"github.com/tsawler/go-srgan/tensor"
)

const (
	DefaultBatchNormMomentum = 0.99
	DefaultBatchNormEpsilon  = 1e-3
)

// BatchNormLayer normalises over every axis but the channel axis. Moving
// statistics follow moving = momentum*moving + (1-momentum)*batch, with the
// unbiased batch variance.
type BatchNormLayer struct {
	name     string
	channels int
	momentum float32
	epsilon  float32

	gamma, beta            *Parameter
	movingMean, movingVari *Parameter
}

// NewBatchNorm creates a batch normalization layer over the last axis with
// gamma=1, beta=0 and unit moving variance.
func NewBatchNorm(name string, channels int, momentum, epsilon float32) (*BatchNormLayer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%s: channels must be positive, got %d", name, channels)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("%s: momentum must be in [0, 1), got %v", name, momentum)
	}
	if epsilon <= 0 {
		epsilon = DefaultBatchNormEpsilon
	}
	gamma, _ := tensor.Ones([]int{channels})
	beta, _ := tensor.Zeros([]int{channels})
	mean, _ := tensor.Zeros([]int{channels})
	variance, _ := tensor.Ones([]int{channels})
	return &BatchNormLayer{
		name:       name,
		channels:   channels,
		momentum:   momentum,
		epsilon:    epsilon,
		gamma:      NewParameter(name+".gamma", gamma, true),
		beta:       NewParameter(name+".beta", beta, true),
		movingMean: NewParameter(name+".moving_mean", mean, false),
		movingVari: NewParameter(name+".moving_variance", variance, false),
	}, nil
}

// Forward normalises with batch statistics in Train and Frozen mode and
// with moving statistics in Inference mode. Only Train updates the moving
// statistics.
func (l *BatchNormLayer) Forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	x = mode.Input(x)
	if x.Rank() < 2 || channelsOf(x.Shape) != l.channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %v: %w", l.name, l.channels, x.Shape, tensor.ErrShapeMismatch)
	}
	gamma, beta := l.gamma.value(mode), l.beta.value(mode)

	if mode == Inference {
		y, err := tensor.BatchNormInference(x, gamma, beta, l.movingMean.Value, l.movingVari.Value, l.epsilon)
		if err != nil {
			return nil, wrap(l.name, err)
		}
		return y, nil
	}

	y, stats, err := tensor.BatchNorm(x, gamma, beta, l.epsilon)
	if err != nil {
		return nil, wrap(l.name, err)
	}
	if mode == Train {
		l.updateMovingStats(stats)
	}
	return y, nil
}

func (l *BatchNormLayer) updateMovingStats(stats *tensor.BatchStats) {
	correction := float32(1)
	if stats.Count > 1 {
		correction = float32(stats.Count) / float32(stats.Count-1)
	}
	m := l.momentum
	for c := 0; c < l.channels; c++ {
		l.movingMean.Value.Data[c] = m*l.movingMean.Value.Data[c] + (1-m)*stats.Mean[c]
		l.movingVari.Value.Data[c] = m*l.movingVari.Value.Data[c] + (1-m)*stats.Variance[c]*correction
	}
}

// Parameters returns gamma and beta.
func (l *BatchNormLayer) Parameters() []*Parameter { return []*Parameter{l.gamma, l.beta} }

// Buffers returns the moving mean and variance.
func (l *BatchNormLayer) Buffers() []*Parameter {
	return []*Parameter{l.movingMean, l.movingVari}
}

// MovingMean returns the running mean buffer.
func (l *BatchNormLayer) MovingMean() *tensor.Tensor     { return l.movingMean.Value }
// MovingVariance returns the running variance buffer.
func (l *BatchNormLayer) MovingVariance() *tensor.Tensor { return l.movingVari.Value }

// Spec describes the layer for summaries and checkpoints.
func (l *BatchNormLayer) Spec() LayerSpec {
	return LayerSpec{
		Type: BatchNorm,
		Name: l.name,
		Parameters: map[string]interface{}{
			"num_features": l.channels,
			"momentum":     l.momentum,
			"eps":          l.epsilon,
		},
	}
}

// OutputShape returns the input shape unchanged.
func (l *BatchNormLayer) OutputShape(in []int) ([]int, error) {
	if len(in) < 2 || channelsOf(in) != l.channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %v: %w", l.name, l.channels, in, tensor.ErrShapeMismatch)
	}
	return append([]int(nil), in...), nil
}
