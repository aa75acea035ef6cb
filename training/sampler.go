package training

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/vision/dataset"
	"github.com/tsawler/go-srgan/vision/preprocessing"
)

// SamplerConfig configures qualitative sample export.
type SamplerConfig struct {
	// Dir is the root directory; images go to <Dir>/<Dataset>/<index>/.
	Dir     string `yaml:"dir"`
	Dataset string `yaml:"dataset"`
	// Count is the number of test images exported per sample.
	Count int `yaml:"count"`
	// Quality is the JPEG quality.
	Quality int `yaml:"quality"`
}

// DefaultSamplerConfig writes two image pairs under imgs/img_align_celeba.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{Dir: "imgs", Dataset: "img_align_celeba", Count: 2, Quality: 95}
}

// Sampler writes generator outputs for a fixed set of test images so
// progress can be inspected by eye. It never touches network state beyond
// an inference forward pass.
type Sampler struct {
	config SamplerConfig
	data   dataset.Manager
}

// NewSampler validates config and writes samples from data's testing batches.
func NewSampler(config SamplerConfig, data dataset.Manager) (*Sampler, error) {
	if config.Count <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", config.Count)
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 95
	}
	return &Sampler{config: config, data: data}, nil
}

func (s *Sampler) indexDir(i int) string {
	return filepath.Join(s.config.Dir, s.config.Dataset, strconv.Itoa(i))
}

// Prepare writes the reference HR and LR images of every sample slot.
func (s *Sampler) Prepare() error {
	hr, lr, err := s.data.LoadData(s.config.Count, true)
	if err != nil {
		return fmt.Errorf("failed to load sample batch: %w", err)
	}
	hrImgs, err := preprocessing.ToImages(hr)
	if err != nil {
		return err
	}
	lrImgs, err := preprocessing.ToImages(lr)
	if err != nil {
		return err
	}
	for i := range hrImgs {
		dir := s.indexDir(i)
		if err := preprocessing.SaveJPEG(filepath.Join(dir, "0_high_resolution.jpg"), hrImgs[i], s.config.Quality); err != nil {
			return err
		}
		if err := preprocessing.SaveJPEG(filepath.Join(dir, "0_low_resolution.jpg"), lrImgs[i], s.config.Quality); err != nil {
			return err
		}
	}
	return nil
}

// Sample runs the generator on the test batch and writes
// <index>/<epoch>_generated.jpg for every slot.
func (s *Sampler) Sample(epoch int, generator nets.Network) error {
	_, lr, err := s.data.LoadData(s.config.Count, true)
	if err != nil {
		return fmt.Errorf("failed to load sample batch: %w", err)
	}
	fake, err := generator.Forward(preprocessing.PreprocessLR(lr), layers.Inference)
	if err != nil {
		return fmt.Errorf("failed to generate samples: %w", err)
	}
	imgs, err := preprocessing.ToImages(preprocessing.DeprocessHR(fake))
	if err != nil {
		return err
	}
	for i, img := range imgs {
		path := filepath.Join(s.indexDir(i), fmt.Sprintf("%d_generated.jpg", epoch))
		if err := preprocessing.SaveJPEG(path, img, s.config.Quality); err != nil {
			return err
		}
	}
	return nil
}
