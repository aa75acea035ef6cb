package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-srgan/tensor"
)

// Initializer fills a new weight tensor.
type Initializer interface {
	Initialize(shape []int, rng *rand.Rand) (*tensor.Tensor, error)
	Name() string
}

// FanMode selects which fan VarianceScaling divides by.
type FanMode int

const (
	FanIn FanMode = iota
	FanOut
	FanAvg
)

// Distribution selects the sampling distribution of VarianceScaling.
type Distribution int

const (
	TruncatedNormal Distribution = iota
	Normal
	Uniform
)

// truncatedNormalStdCorrection is the std of a unit normal truncated to
// [-2, 2]. Dividing by it keeps the requested variance after truncation.
const truncatedNormalStdCorrection = 0.87962566103423978

// computeFans follows the usual convention: dense kernels are [in, out],
// conv kernels are [kh, kw, in, out].
func computeFans(shape []int) (fanIn, fanOut float64) {
	switch len(shape) {
	case 1:
		return float64(shape[0]), float64(shape[0])
	case 2:
		return float64(shape[0]), float64(shape[1])
	default:
		receptive := 1
		for _, d := range shape[:len(shape)-2] {
			receptive *= d
		}
		return float64(receptive * shape[len(shape)-2]), float64(receptive * shape[len(shape)-1])
	}
}

type ZerosInitializer struct{}

// Initialize returns a zero tensor.
func (ZerosInitializer) Initialize(shape []int, _ *rand.Rand) (*tensor.Tensor, error) {
	return tensor.Zeros(shape)
}

// Name returns "zeros".
func (ZerosInitializer) Name() string { return "zeros" }

type ConstantInitializer struct {
	Value float32
}

// Initialize returns a tensor filled with Value.
func (c ConstantInitializer) Initialize(shape []int, _ *rand.Rand) (*tensor.Tensor, error) {
	return tensor.Full(shape, c.Value)
}

// Name returns the initializer name with its value.
func (c ConstantInitializer) Name() string { return fmt.Sprintf("constant(%g)", c.Value) }

// VarianceScaling samples with variance Scale/fan.
type VarianceScaling struct {
	Scale        float64
	Mode         FanMode
	Distribution Distribution
}

// HeNormal is variance scaling 2/fan_in with a truncated normal. A scale of
// 0.1 shrinks it the way residual-in-residual blocks are initialised.
func HeNormal(scale float64) VarianceScaling {
	return VarianceScaling{Scale: 2 * scale, Mode: FanIn, Distribution: TruncatedNormal}
}

// GlorotUniform is the default initializer for convolution and dense kernels.
func GlorotUniform() VarianceScaling {
	return VarianceScaling{Scale: 1, Mode: FanAvg, Distribution: Uniform}
}

// Name returns the Keras-style description of the initializer.
func (v VarianceScaling) Name() string {
	return fmt.Sprintf("variance_scaling(scale=%g, mode=%d, distribution=%d)", v.Scale, v.Mode, v.Distribution)
}

// Initialize draws a tensor whose variance is Scale over the selected fan.
func (v VarianceScaling) Initialize(shape []int, rng *rand.Rand) (*tensor.Tensor, error) {
	if v.Scale <= 0 {
		return nil, fmt.Errorf("variance scaling: scale must be positive, got %v", v.Scale)
	}
	t, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}

	fanIn, fanOut := computeFans(shape)
	n := fanIn
	switch v.Mode {
	case FanOut:
		n = fanOut
	case FanAvg:
		n = (fanIn + fanOut) / 2
	}
	variance := v.Scale / math.Max(1, n)

	switch v.Distribution {
	case TruncatedNormal:
		std := math.Sqrt(variance) / truncatedNormalStdCorrection
		for i := range t.Data {
			s := rng.NormFloat64()
			for math.Abs(s) > 2 {
				s = rng.NormFloat64()
			}
			t.Data[i] = float32(s * std)
		}
	case Normal:
		std := math.Sqrt(variance)
		for i := range t.Data {
			t.Data[i] = float32(rng.NormFloat64() * std)
		}
	case Uniform:
		limit := math.Sqrt(3 * variance)
		for i := range t.Data {
			t.Data[i] = float32((rng.Float64()*2 - 1) * limit)
		}
	default:
		return nil, fmt.Errorf("variance scaling: unknown distribution %d", v.Distribution)
	}
	return t, nil
}
