package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/tsawler/go-srgan/checkpoints"
	"github.com/tsawler/go-srgan/config"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/optimizer"
	"github.com/tsawler/go-srgan/training"
	"github.com/tsawler/go-srgan/vision/dataset"
)

// run holds everything a training session is built from.
type run struct {
	deps      training.Deps
	plots     *training.VisualizationCollector
	plotsPath string
	prefetch  *dataset.Prefetcher
}

// Close stops background data loading.
func (r *run) Close() {
	if r.prefetch != nil {
		r.prefetch.Stop()
	}
}

// buildNetworks creates the configured generator and the discriminator.
func buildNetworks(cfg *config.Config, rng *rand.Rand) (gen, disc nets.Network, err error) {
	switch cfg.Generator.Kind {
	case config.KindESRGAN:
		g, err := nets.NewESRGAN(cfg.ESRGAN(), rng)
		if err != nil {
			return nil, nil, err
		}
		gen = g
	default:
		g, err := nets.NewSRGAN(cfg.SRGAN(), rng)
		if err != nil {
			return nil, nil, err
		}
		gen = g
	}
	d, err := nets.NewDiscriminator(cfg.DiscriminatorNet(), rng)
	if err != nil {
		return nil, nil, err
	}
	return gen, d, nil
}

func buildData(cfg *config.Config) (dataset.Manager, error) {
	if cfg.Data.Synthetic {
		slog.Info("using synthetic data", "hr_size", cfg.Data.HRSize, "scale", cfg.Data.Scale)
		return dataset.NewSyntheticManager(cfg.Synthetic())
	}
	m, err := dataset.NewFolderManager(cfg.Folder())
	if err != nil {
		return nil, err
	}
	train, test := m.Len()
	slog.Info("loaded image folder", "dir", cfg.Data.Dir, "train", train, "test", test)
	return m, nil
}

func buildContentLoss(cfg *config.Config, rng *rand.Rand) (training.LossFunc, error) {
	var extractor nets.Network
	switch cfg.Loss.Content {
	case "perceptual", "vgg":
		vgg, err := nets.NewVGGFeatures(cfg.VGG(), rng)
		if err != nil {
			return nil, err
		}
		extractor = vgg
	}
	return training.ContentLoss(cfg.Loss.Content, extractor)
}

// newRun wires the networks, optimizers and collaborators of a session.
// Without resume it refuses to start over existing checkpoints of the same
// architecture.
func newRun(cfg *config.Config, resume bool) (*run, error) {
	rng := rand.New(rand.NewSource(cfg.Training.Seed))
	gen, disc, err := buildNetworks(cfg, rng)
	if err != nil {
		return nil, err
	}

	gOpt, err := optimizer.NewAdam(cfg.Adam(cfg.Generator.LearningRate), gen.Parameters())
	if err != nil {
		return nil, fmt.Errorf("generator optimizer: %w", err)
	}
	dOpt, err := optimizer.NewAdam(cfg.Adam(cfg.Discriminator.LearningRate), disc.Parameters())
	if err != nil {
		return nil, fmt.Errorf("discriminator optimizer: %w", err)
	}

	data, err := buildData(cfg)
	if err != nil {
		return nil, err
	}
	content, err := buildContentLoss(cfg, rng)
	if err != nil {
		return nil, err
	}
	scheduler, err := training.NewScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	ckptCfg, err := cfg.CheckpointSettings()
	if err != nil {
		return nil, err
	}
	if !resume {
		latest, ok, err := checkpoints.Latest(ckptCfg.Dir, gen.Architecture(), ckptCfg.Format)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, fmt.Errorf("checkpoint %s exists; pass --resume to continue it or choose another checkpoint.dir", latest.Path)
		}
	}
	ckpt, err := training.NewCheckpointManager(ckptCfg)
	if err != nil {
		return nil, err
	}

	r := &run{
		deps: training.Deps{
			Generator:              gen,
			Discriminator:          disc,
			GeneratorOptimizer:     gOpt,
			DiscriminatorOptimizer: dOpt,
			Data:                   data,
			ContentLoss:            content,
			Scheduler:              scheduler,
			Checkpoints:            ckpt,
		},
		plots:     training.NewVisualizationCollector(gen.Name()),
		plotsPath: cfg.Training.PlotsPath,
	}
	r.deps.Plots = r.plots
	if r.plotsPath == "" {
		r.plotsPath = filepath.Join(ckptCfg.Dir, "training_curves.json")
	}
	if cfg.Sampler.Count > 0 {
		sampler, err := training.NewSampler(cfg.Sampler, data)
		if err != nil {
			return nil, err
		}
		r.deps.Sampler = sampler
	}

	if cfg.Data.Prefetch > 0 {
		p, err := dataset.NewPrefetcher(data, dataset.PrefetchConfig{
			BatchSize:     cfg.Training.BatchSize,
			PrefetchDepth: cfg.Data.Prefetch,
		})
		if err != nil {
			return nil, err
		}
		if err := p.Start(); err != nil {
			return nil, err
		}
		r.prefetch = p
		r.deps.Data = p
	}

	return r, nil
}
