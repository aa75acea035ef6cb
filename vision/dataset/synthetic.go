package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/tsawler/go-srgan/tensor"
)

// SyntheticConfig configures a SyntheticManager.
type SyntheticConfig struct {
	HRSize int
	Scale  int
	Seed   int64
}

// SyntheticManager generates smooth random textures, for smoke runs and
// tests that need no image files. LR images are exact box-filter averages of
// their HR counterparts. Testing batches depend only on the seed and the batch
// size.
type SyntheticManager struct {
	config SyntheticConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticManager validates config.
func NewSyntheticManager(config SyntheticConfig) (*SyntheticManager, error) {
	if err := checkSizes(config.HRSize, config.Scale); err != nil {
		return nil, err
	}
	return &SyntheticManager{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// LoadData returns a batch of generated textures and their box-downscaled LR versions.
func (m *SyntheticManager) LoadData(batchSize int, isTesting bool) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkBatch(batchSize); err != nil {
		return nil, nil, err
	}
	rng := rand.New(rand.NewSource(m.config.Seed + 1))
	if !isTesting {
		m.mu.Lock()
		defer m.mu.Unlock()
		rng = m.rng
	}

	size := m.config.HRSize
	hr, err := tensor.Zeros([]int{batchSize, size, size, 3})
	if err != nil {
		return nil, nil, err
	}
	for n := 0; n < batchSize; n++ {
		texture(hr.Data[n*size*size*3:(n+1)*size*size*3], size, rng)
	}
	lr, err := BoxDownscale(hr, m.config.Scale)
	if err != nil {
		return nil, nil, err
	}
	return hr, lr, nil
}

// texture fills dst with a sum of two random plane waves per channel.
func texture(dst []float32, size int, rng *rand.Rand) {
	type wave struct{ fx, fy, phase float64 }
	var waves [3][2]wave
	for c := range waves {
		for k := range waves[c] {
			waves[c][k] = wave{
				fx:    (rng.Float64()*2 - 1) * 4 * math.Pi / float64(size),
				fy:    (rng.Float64()*2 - 1) * 4 * math.Pi / float64(size),
				phase: rng.Float64() * 2 * math.Pi,
			}
		}
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := (y*size + x) * 3
			for c := 0; c < 3; c++ {
				v := 0.0
				for _, w := range waves[c] {
					v += math.Sin(w.fx*float64(x) + w.fy*float64(y) + w.phase)
				}
				dst[o+c] = float32(127.5 + 63.75*v)
			}
		}
	}
}

// BoxDownscale averages non-overlapping factor x factor blocks of an NHWC
// tensor.
func BoxDownscale(x *tensor.Tensor, factor int) (*tensor.Tensor, error) {
	if factor <= 0 || x.Rank() != 4 || x.Shape[1]%factor != 0 || x.Shape[2]%factor != 0 {
		return nil, fmt.Errorf("cannot box downscale %v by %d: %w", x.Shape, factor, tensor.ErrShapeMismatch)
	}
	n, h, w, c := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/factor, w/factor
	out, err := tensor.Zeros([]int{n, oh, ow, c})
	if err != nil {
		return nil, err
	}
	inv := 1 / float32(factor*factor)
	for b := 0; b < n; b++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				src := ((b*h+y)*w + xx) * c
				dst := ((b*oh+y/factor)*ow + xx/factor) * c
				for ch := 0; ch < c; ch++ {
					out.Data[dst+ch] += x.Data[src+ch] * inv
				}
			}
		}
	}
	return out, nil
}
