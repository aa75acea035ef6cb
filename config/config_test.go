package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/training"
)

func TestDefaultIsRunnable(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Equal(t, KindSRGAN, cfg.Generator.Kind)
	require.Equal(t, 64, cfg.Data.LRSize())
	require.Equal(t, float32(1e-4), cfg.Generator.LearningRate)
	require.Equal(t, float32(1e-4), cfg.Discriminator.LearningRate)

	loop := cfg.Session()
	require.Equal(t, 300, loop.Epochs)
	require.Equal(t, 8, loop.BatchSize)
	require.Equal(t, 10, loop.SampleInterval)
	require.Equal(t, float32(1e-3), loop.AdversarialWeight)
	require.Equal(t, training.DefaultLabelConfig(), loop.Labels)

	require.Equal(t, 64, cfg.SRGAN().InputSize)
	require.Equal(t, 256, cfg.ESRGAN().OutputSize)
	require.Equal(t, 256, cfg.DiscriminatorNet().InputSize)

	ckpt, err := cfg.CheckpointSettings()
	require.NoError(t, err)
	require.Equal(t, checkpoints.FormatBinary, ckpt.Format)
}

func TestParseKeepsDefaultsForOmittedFields(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
generator:
  kind: esrgan
  esrgan:
    depth: 2
training:
  epochs: 5
checkpoint:
  format: json
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := Default()
	want.Generator.Kind = KindESRGAN
	want.Generator.ESRGAN.Depth = 2
	want.Training.Epochs = 5
	want.Checkpoint.Format = "json"
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyInput(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), *cfg); diff != "" {
		t.Errorf("empty input should yield defaults (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("training:\n  epoch: 5\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "epoch")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  synthetic: true\n  hr_size: 32\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Data.Synthetic)
	require.Equal(t, 8, cfg.Data.LRSize())
	require.Equal(t, 32, cfg.Synthetic().HRSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{})
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("zero overrides changed the config:\n%s", diff)
	}

	cfg.ApplyOverrides(Overrides{Epochs: 2, BatchSize: 4, DataDir: "/tmp/faces", Synthetic: true, Generator: "ESRGAN", Seed: 7})
	require.Equal(t, 2, cfg.Training.Epochs)
	require.Equal(t, 4, cfg.Training.BatchSize)
	require.Equal(t, "/tmp/faces", cfg.Data.Dir)
	require.True(t, cfg.Data.Synthetic)
	require.Equal(t, KindESRGAN, cfg.Generator.Kind)
	require.Equal(t, int64(7), cfg.Folder().Seed)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SRGAN_DATA_DIR", " '/data/celeba' ")
	t.Setenv("SRGAN_CHECKPOINT_DIR", "/ckpt")
	t.Setenv("SRGAN_VGG_WEIGHTS", "vgg19.safetensors")
	t.Setenv("SRGAN_LOG_LEVEL", "warn")
	t.Setenv("SRGAN_WORKERS", "3")

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "/data/celeba", cfg.Data.Dir)
	require.Equal(t, "/ckpt", cfg.Checkpoint.Dir)
	require.Equal(t, "vgg19.safetensors", cfg.VGG().WeightsPath)
	require.Equal(t, 3, cfg.Folder().Workers)
	require.Equal(t, slog.LevelWarn, cfg.Level())

	t.Setenv("SRGAN_WORKERS", "many")
	require.Equal(t, uint(0), Workers())
	require.Len(t, AsMap(), 6)
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		debug string
		want  slog.Level
	}{
		{"default", "", "", slog.LevelInfo},
		{"configured", "error", "", slog.LevelError},
		{"debug flag", "warn", "1", slog.LevelDebug},
		{"verbose", "info", "2", slog.Level(-8)},
		{"false flag", "warn", "false", slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SRGAN_DEBUG", tt.debug)
			cfg := Default()
			cfg.Log.Level = tt.level
			require.Equal(t, tt.want, cfg.Level())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"generator kind", func(c *Config) { c.Generator.Kind = "edsr" }, "generator.kind"},
		{"scale", func(c *Config) { c.Data.Scale = 2 }, "data.scale"},
		{"hr size", func(c *Config) { c.Data.HRSize = 250 }, "data.hr_size"},
		{"missing data dir", func(c *Config) { c.Data.Dir = "" }, "data.dir"},
		{"prefetch", func(c *Config) { c.Data.Prefetch = -1 }, "data.prefetch"},
		{"test split", func(c *Config) { c.Data.TestSplit = 1 }, "data.test_split"},
		{"learning rate", func(c *Config) { c.Discriminator.LearningRate = 0 }, "learning rates"},
		{"content loss", func(c *Config) { c.Loss.Content = "ssim" }, "loss.content"},
		{"batch size", func(c *Config) { c.Training.BatchSize = 0 }, "batch size"},
		{"labels", func(c *Config) { c.Labels.FakeHigh = 0.9 }, ""},
		{"hard labels", func(c *Config) { c.Labels.RealLow, c.Labels.FakeHigh = 1, 0 }, "real label range"},
		{"scheduler", func(c *Config) { c.Scheduler.Name = "warmup" }, "scheduler"},
		{"checkpoint format", func(c *Config) { c.Checkpoint.Format = "onnx" }, "checkpoint.format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())

	synthetic := Default()
	synthetic.Data.Dir = ""
	synthetic.Data.Synthetic = true
	require.NoError(t, synthetic.Validate())
}
