package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-srgan/tensor"
)

// LabelConfig bounds the smoothed discriminator targets. Noisy targets keep
// the discriminator from becoming overconfident.
type LabelConfig struct {
	RealLow  float32 `yaml:"real_low"`
	RealHigh float32 `yaml:"real_high"`
	FakeLow  float32 `yaml:"fake_low"`
	FakeHigh float32 `yaml:"fake_high"`
}

// Bounds the smoothed targets may never leave.
const (
	MinRealLabel = 0.8
	MaxFakeLabel = 0.1
)

// DefaultLabelConfig draws real targets from [0.8, 1.0] and fake targets
// from [0.0, 0.1].
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{RealLow: 0.8, RealHigh: 1.0, FakeLow: 0.0, FakeHigh: 0.1}
}

// Validate checks that both ranges are ordered and stay smoothed: real
// targets within [0.8, 1.0], fake targets within [0.0, 0.1]. Ranges may be
// narrowed but never widened, and a degenerate range is rejected so hard
// labels cannot be configured.
func (c LabelConfig) Validate() error {
	switch {
	case c.RealLow < MinRealLabel || c.RealHigh > 1 || c.RealLow >= c.RealHigh:
		return fmt.Errorf("real label range [%g, %g] must be a non-empty range within [%g, 1]", c.RealLow, c.RealHigh, MinRealLabel)
	case c.FakeLow < 0 || c.FakeHigh > MaxFakeLabel || c.FakeLow >= c.FakeHigh:
		return fmt.Errorf("fake label range [%g, %g] must be a non-empty range within [0, %g]", c.FakeLow, c.FakeHigh, MaxFakeLabel)
	}
	return nil
}

// LabelSampler draws smoothed target batches of shape (n, 1).
type LabelSampler struct {
	config LabelConfig
	rng    *rand.Rand
}

// NewLabelSampler validates config and draws from rng.
func NewLabelSampler(config LabelConfig, rng *rand.Rand) (*LabelSampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &LabelSampler{config: config, rng: rng}, nil
}

// Real returns targets in (RealLow, RealHigh], counting down from RealHigh.
func (s *LabelSampler) Real(n int) *tensor.Tensor {
	lo, hi := s.config.RealLow, s.config.RealHigh
	return s.draw(n, func(u float32) float32 { return hi - u*(hi-lo) })
}

// Fake returns targets in [FakeLow, FakeHigh).
func (s *LabelSampler) Fake(n int) *tensor.Tensor {
	lo, hi := s.config.FakeLow, s.config.FakeHigh
	return s.draw(n, func(u float32) float32 { return lo + u*(hi-lo) })
}

func (s *LabelSampler) draw(n int, fn func(u float32) float32) *tensor.Tensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = fn(s.rng.Float32())
	}
	t, _ := tensor.NewTensor([]int{n, 1}, data)
	return t
}
