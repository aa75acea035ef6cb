package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a tiny synthetic run rooted at dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`data:
  synthetic: true
  hr_size: 16
generator:
  srgan:
    filters: 4
    residual_blocks: 1
    upsample_filters: 4
  esrgan:
    width: 4
    depth: 1
    growth: 2
discriminator:
  filters: 2
loss:
  content: mse
training:
  epochs: 2
  batch_size: 2
  sample_interval: 1
  log_interval: 1
  seed: 3
sampler:
  dir: %s
  count: 1
checkpoint:
  dir: %s
  interval: 1
  format: json
`, filepath.Join(dir, "imgs"), filepath.Join(dir, "ckpt"))
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&out)
	cli.SetArgs(args)
	err := cli.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainWritesCheckpointsSamplesAndPlots(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	_, err := execute("train", "--config", path)
	require.NoError(t, err)

	ckpts, err := filepath.Glob(filepath.Join(dir, "ckpt", "*-00000002.json"))
	require.NoError(t, err)
	require.Len(t, ckpts, 2, "generator and discriminator checkpoints")
	require.FileExists(t, filepath.Join(dir, "ckpt", "training_curves.json"))
	require.FileExists(t, filepath.Join(dir, "imgs", "img_align_celeba", "0", "0_high_resolution.jpg"))
	require.FileExists(t, filepath.Join(dir, "imgs", "img_align_celeba", "0", "1_generated.jpg"))

	// A second run over the same directory must opt in to resuming.
	_, err = execute("train", "--config", path)
	require.ErrorContains(t, err, "--resume")

	_, err = execute("train", "--config", path, "--resume", "--epochs", "3")
	require.NoError(t, err)
	require.FileExists(t, ckpts[0][:len(ckpts[0])-len("00000002.json")]+"00000003.json")
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	path := writeTestConfig(t, t.TempDir())
	_, err := execute("train", "--config", path, "--generator", "edsr")
	require.ErrorContains(t, err, "generator.kind")

	_, err = execute("train", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	path := writeTestConfig(t, t.TempDir())

	out, err := execute("summary", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "srgan_generator")
	require.Contains(t, out, "discriminator")
	require.Contains(t, out, "Parameters:")

	out, err = execute("summary", "--config", path, "--generator", "esrgan")
	require.NoError(t, err)
	require.Contains(t, out, "RRDB_model")
}

func TestVersion(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	require.Contains(t, out, "srgan version dev")
}
