package training

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-srgan/vision/preprocessing"
)

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSessionWritesSamplesEveryInterval(t *testing.T) {
	rig := newTestRig(t, 11, 1e-3, 1e-3, true)
	dir := t.TempDir()
	sampler, err := NewSampler(SamplerConfig{Dir: dir, Dataset: "synthetic", Count: 2}, rig.data)
	require.NoError(t, err)

	deps := rig.deps()
	deps.Sampler = sampler
	cfg := testConfig(5)
	cfg.SampleInterval = 2
	s, err := NewSession(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	for _, index := range []string{"0", "1"} {
		got := listNames(t, filepath.Join(dir, "synthetic", index))
		require.Equal(t, []string{
			"0_generated.jpg",
			"0_high_resolution.jpg",
			"0_low_resolution.jpg",
			"2_generated.jpg",
			"4_generated.jpg",
		}, got)
	}

	img, err := preprocessing.DecodeFile(filepath.Join(dir, "synthetic", "0", "4_generated.jpg"))
	require.NoError(t, err)
	require.Equal(t, testHRSize, img.Bounds().Dx())
	lr, err := preprocessing.DecodeFile(filepath.Join(dir, "synthetic", "1", "0_low_resolution.jpg"))
	require.NoError(t, err)
	require.Equal(t, testLRSize, lr.Bounds().Dx())
}

func TestSamplerFailureDoesNotStopTraining(t *testing.T) {
	rig := newTestRig(t, 12, 1e-3, 1e-3, true)
	// A regular file where the sample directory should be makes every write
	// fail.
	blocker := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	sampler, err := NewSampler(SamplerConfig{Dir: blocker, Dataset: "x", Count: 1}, rig.data)
	require.NoError(t, err)

	deps := rig.deps()
	deps.Sampler = sampler
	cfg := testConfig(2)
	cfg.SampleInterval = 1
	s, err := NewSession(cfg, deps)
	require.NoError(t, err)

	result, err := s.Step(context.Background())
	require.NoError(t, err)
	require.False(t, result.Sampled)
	require.Equal(t, 1, s.Epoch())
}

func TestNewSamplerValidation(t *testing.T) {
	_, err := NewSampler(SamplerConfig{Dir: t.TempDir(), Count: 0}, nil)
	require.Error(t, err)
}
