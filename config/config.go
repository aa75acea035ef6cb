// Package config loads the YAML description of a training run and turns it
// into the configuration structs of the nets, training and dataset packages.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/optimizer"
	"github.com/tsawler/go-srgan/training"
	"github.com/tsawler/go-srgan/vision/dataset"
)

// Generator kinds.
const (
	KindSRGAN  = "srgan"
	KindESRGAN = "esrgan"
)

// Config captures everything a training run needs.
type Config struct {
	Data          DataConfig               `yaml:"data"`
	Generator     GeneratorConfig          `yaml:"generator"`
	Discriminator DiscriminatorConfig      `yaml:"discriminator"`
	Loss          LossConfig               `yaml:"loss"`
	Training      TrainingConfig           `yaml:"training"`
	Labels        training.LabelConfig     `yaml:"labels"`
	Scheduler     training.SchedulerConfig `yaml:"scheduler"`
	Sampler       training.SamplerConfig   `yaml:"sampler"`
	Checkpoint    CheckpointConfig         `yaml:"checkpoint"`
	Log           LogConfig                `yaml:"log"`
}

type DataConfig struct {
	// Dir is searched recursively for training images.
	Dir string `yaml:"dir"`
	// Synthetic replaces Dir with generated textures.
	Synthetic bool    `yaml:"synthetic"`
	HRSize    int     `yaml:"hr_size"`
	Scale     int     `yaml:"scale"`
	TestSplit float64 `yaml:"test_split"`
	CacheSize int     `yaml:"cache_size"`
	Workers   int     `yaml:"workers"`
	// Prefetch is the number of training batches loaded ahead of the
	// current step; 0 loads synchronously.
	Prefetch int `yaml:"prefetch"`
}

// LRSize is the side of the generator input.
func (d DataConfig) LRSize() int { return d.HRSize / d.Scale }

type GeneratorConfig struct {
	Kind         string       `yaml:"kind"`
	LearningRate float32      `yaml:"learning_rate"`
	SRGAN        SRGANConfig  `yaml:"srgan"`
	ESRGAN       ESRGANConfig `yaml:"esrgan"`
}

type SRGANConfig struct {
	Filters        int     `yaml:"filters"`
	ResidualBlocks int     `yaml:"residual_blocks"`
	UpsampleFilter int     `yaml:"upsample_filters"`
	Momentum       float32 `yaml:"momentum"`
}

type ESRGANConfig struct {
	Width         int     `yaml:"width"`
	Depth         int     `yaml:"depth"`
	Growth        int     `yaml:"growth"`
	ResidualScale float32 `yaml:"residual_scale"`
	WeightDecay   float32 `yaml:"weight_decay"`
}

type DiscriminatorConfig struct {
	LearningRate float32 `yaml:"learning_rate"`
	Filters      int     `yaml:"filters"`
	BatchNorm    bool    `yaml:"batch_norm"`
	Momentum     float32 `yaml:"momentum"`
}

// LossConfig selects the generator objective.
type LossConfig struct {
	// Content is one of perceptual, mse or l1.
	Content           string  `yaml:"content"`
	AdversarialWeight float32 `yaml:"adversarial_weight"`
	// VGGWeights is a safetensors file with VGG19 weights. Without it the
	// perceptual loss uses a randomly initialised trunk.
	VGGWeights   string `yaml:"vgg_weights"`
	FeatureLayer string `yaml:"feature_layer"`
}

type TrainingConfig struct {
	Epochs         int   `yaml:"epochs"`
	BatchSize      int   `yaml:"batch_size"`
	SampleInterval int   `yaml:"sample_interval"`
	LogInterval    int   `yaml:"log_interval"`
	WindowSize     int   `yaml:"window_size"`
	Seed           int64 `yaml:"seed"`
	// PlotsPath, when set, receives the loss and learning rate history as
	// plot JSON at the end of the run.
	PlotsPath string `yaml:"plots_path"`
}

type CheckpointConfig struct {
	Dir           string `yaml:"dir"`
	Interval      int    `yaml:"interval"`
	Keep          int    `yaml:"keep"`
	Format        string `yaml:"format"`
	HalfPrecision bool   `yaml:"half_precision"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration of the reference run: 300 steps of
// batch 8 on 256x256 crops, SRGAN generator, Adam at 1e-4.
func Default() Config {
	srgan := nets.DefaultSRGANConfig()
	esrgan := nets.DefaultESRGANConfig()
	disc := nets.DefaultDiscriminatorConfig()
	loop := training.DefaultConfig()
	ckpt := training.DefaultCheckpointConfig()
	adam := optimizer.DefaultAdamConfig()

	return Config{
		Data: DataConfig{
			Dir:       "data/img_align_celeba",
			HRSize:    disc.InputSize,
			Scale:     esrgan.Scale,
			TestSplit: 0.1,
			CacheSize: 256,
			Prefetch:  3,
		},
		Generator: GeneratorConfig{
			Kind:         KindSRGAN,
			LearningRate: adam.LearningRate,
			SRGAN: SRGANConfig{
				Filters:        srgan.Filters,
				ResidualBlocks: srgan.ResidualBlocks,
				UpsampleFilter: srgan.UpsampleFilter,
				Momentum:       srgan.Momentum,
			},
			ESRGAN: ESRGANConfig{
				Width:         esrgan.Width,
				Depth:         esrgan.Depth,
				Growth:        esrgan.Growth,
				ResidualScale: esrgan.ResidualScale,
			},
		},
		Discriminator: DiscriminatorConfig{
			LearningRate: adam.LearningRate,
			Filters:      disc.Filters,
			BatchNorm:    disc.BatchNorm,
			Momentum:     disc.Momentum,
		},
		Loss: LossConfig{
			Content:           "perceptual",
			AdversarialWeight: loop.AdversarialWeight,
			FeatureLayer:      nets.DefaultFeatureLayer,
		},
		Training: TrainingConfig{
			Epochs:         loop.Epochs,
			BatchSize:      loop.BatchSize,
			SampleInterval: loop.SampleInterval,
			LogInterval:    loop.LogInterval,
			WindowSize:     loop.WindowSize,
		},
		Labels:    training.DefaultLabelConfig(),
		Scheduler: training.SchedulerConfig{Name: "constant"},
		Sampler:   training.DefaultSamplerConfig(),
		Checkpoint: CheckpointConfig{
			Dir:      ckpt.Dir,
			Interval: ckpt.Interval,
			Keep:     ckpt.Keep,
			Format:   strings.ToLower(ckpt.Format.String()),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a Config from a YAML file. Fields the file omits keep their
// defaults; unknown fields are rejected. The result is not validated, so
// overrides can be applied first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs    int
	BatchSize int
	DataDir   string
	Synthetic bool
	Generator string
	Seed      int64
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Training.BatchSize = o.BatchSize
	}
	if o.DataDir != "" {
		c.Data.Dir = o.DataDir
	}
	if o.Synthetic {
		c.Data.Synthetic = true
	}
	if o.Generator != "" {
		c.Generator.Kind = strings.ToLower(o.Generator)
	}
	if o.Seed != 0 {
		c.Training.Seed = o.Seed
	}
}

// ApplyEnv applies the SRGAN_* environment variables, which take precedence
// over the file and lose to CLI flags.
func (c *Config) ApplyEnv() {
	if s := DataDir(); s != "" {
		c.Data.Dir = s
	}
	if s := CheckpointDir(); s != "" {
		c.Checkpoint.Dir = s
	}
	if s := VGGWeights(); s != "" {
		c.Loss.VGGWeights = s
	}
	if s := Var("SRGAN_LOG_LEVEL"); s != "" {
		c.Log.Level = s
	}
	if n := Workers(); n > 0 {
		c.Data.Workers = int(n)
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Generator.Kind {
	case KindSRGAN, KindESRGAN:
	default:
		return fmt.Errorf("generator.kind must be %q or %q (got %q)", KindSRGAN, KindESRGAN, c.Generator.Kind)
	}
	if c.Data.Scale != 4 {
		return fmt.Errorf("data.scale must be 4 (got %d)", c.Data.Scale)
	}
	if c.Data.HRSize <= 0 || c.Data.HRSize%c.Data.Scale != 0 {
		return fmt.Errorf("data.hr_size must be a positive multiple of %d (got %d)", c.Data.Scale, c.Data.HRSize)
	}
	if !c.Data.Synthetic && c.Data.Dir == "" {
		return errors.New("data.dir must be set unless data.synthetic is true")
	}
	if c.Data.TestSplit < 0 || c.Data.TestSplit >= 1 {
		return fmt.Errorf("data.test_split must be in [0, 1) (got %g)", c.Data.TestSplit)
	}
	if c.Data.Prefetch < 0 {
		return fmt.Errorf("data.prefetch must be >= 0 (got %d)", c.Data.Prefetch)
	}
	if c.Generator.LearningRate <= 0 || c.Discriminator.LearningRate <= 0 {
		return errors.New("learning rates must be > 0")
	}
	switch c.Loss.Content {
	case "perceptual", "vgg", "mse", "l1":
	default:
		return fmt.Errorf("loss.content must be perceptual, mse or l1 (got %q)", c.Loss.Content)
	}
	if err := c.Session().Validate(); err != nil {
		return err
	}
	if _, err := training.NewScheduler(c.Scheduler); err != nil {
		return err
	}
	if _, err := c.CheckpointSettings(); err != nil {
		return err
	}
	if c.Sampler.Count < 0 {
		return fmt.Errorf("sampler.count must be >= 0 (got %d)", c.Sampler.Count)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SRGAN returns the SRGAN generator configuration.
func (c *Config) SRGAN() nets.SRGANConfig {
	g := c.Generator.SRGAN
	return nets.SRGANConfig{
		InputSize:      c.Data.LRSize(),
		Channels:       3,
		Filters:        g.Filters,
		ResidualBlocks: g.ResidualBlocks,
		UpsampleFilter: g.UpsampleFilter,
		Momentum:       g.Momentum,
	}
}

// ESRGAN returns the ESRGAN generator configuration.
func (c *Config) ESRGAN() nets.ESRGANConfig {
	g := c.Generator.ESRGAN
	return nets.ESRGANConfig{
		OutputSize:    c.Data.HRSize,
		Scale:         c.Data.Scale,
		Channels:      3,
		Width:         g.Width,
		Depth:         g.Depth,
		Growth:        g.Growth,
		ResidualScale: g.ResidualScale,
		WeightDecay:   g.WeightDecay,
	}
}

// DiscriminatorNet returns the discriminator configuration for the HR size.
func (c *Config) DiscriminatorNet() nets.DiscriminatorConfig {
	d := c.Discriminator
	return nets.DiscriminatorConfig{
		InputSize: c.Data.HRSize,
		Channels:  3,
		Filters:   d.Filters,
		BatchNorm: d.BatchNorm,
		Momentum:  d.Momentum,
	}
}

// VGG returns the feature extractor configuration.
func (c *Config) VGG() nets.VGGConfig {
	return nets.VGGConfig{
		InputSize:    c.Data.HRSize,
		FeatureLayer: c.Loss.FeatureLayer,
		WeightsPath:  c.Loss.VGGWeights,
	}
}

// Adam returns the optimizer configuration for the given learning rate.
func (c *Config) Adam(lr float32) optimizer.AdamConfig {
	cfg := optimizer.DefaultAdamConfig()
	cfg.LearningRate = lr
	return cfg
}

// Session returns the training loop configuration.
func (c *Config) Session() training.Config {
	t := c.Training
	return training.Config{
		Epochs:            t.Epochs,
		BatchSize:         t.BatchSize,
		SampleInterval:    t.SampleInterval,
		AdversarialWeight: c.Loss.AdversarialWeight,
		Labels:            c.Labels,
		LogInterval:       t.LogInterval,
		WindowSize:        t.WindowSize,
		Seed:              t.Seed,
	}
}

// CheckpointSettings returns the checkpoint manager configuration.
func (c *Config) CheckpointSettings() (training.CheckpointConfig, error) {
	format, err := checkpoints.ParseFormat(c.Checkpoint.Format)
	if err != nil {
		return training.CheckpointConfig{}, fmt.Errorf("checkpoint.format: %w", err)
	}
	return training.CheckpointConfig{
		Dir:           c.Checkpoint.Dir,
		Interval:      c.Checkpoint.Interval,
		Keep:          c.Checkpoint.Keep,
		Format:        format,
		HalfPrecision: c.Checkpoint.HalfPrecision,
	}, nil
}

// Folder returns the dataset folder configuration.
func (c *Config) Folder() dataset.FolderConfig {
	return dataset.FolderConfig{
		Root:      c.Data.Dir,
		HRSize:    c.Data.HRSize,
		Scale:     c.Data.Scale,
		TestSplit: c.Data.TestSplit,
		CacheSize: c.Data.CacheSize,
		Workers:   c.Data.Workers,
		Seed:      c.Training.Seed,
	}
}

// Synthetic returns the synthetic data configuration used instead of a folder.
func (c *Config) Synthetic() dataset.SyntheticConfig {
	return dataset.SyntheticConfig{HRSize: c.Data.HRSize, Scale: c.Data.Scale, Seed: c.Training.Seed}
}

// Level returns the configured log level, raised to debug by SRGAN_DEBUG.
func (c *Config) Level() slog.Level {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug := LogLevel(); debug < slog.LevelInfo && debug < level {
		level = debug
	}
	return level
}

// ParseLevel maps debug, info, warn or error to a slog level. An empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
