// Package training runs adversarial super-resolution training: alternating
// discriminator and generator updates with smoothed labels, content and
// adversarial losses, periodic sampling and checkpointing.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/optimizer"
	"github.com/tsawler/go-srgan/tensor"
	"github.com/tsawler/go-srgan/vision/dataset"
	"github.com/tsawler/go-srgan/vision/preprocessing"
)

// ErrDivergence is returned when a loss becomes NaN or infinite. The step
// is aborted before the affected optimizer update and training stops.
var ErrDivergence = errors.New("training diverged")

// Config holds the loop parameters of a Session.
type Config struct {
	// Epochs is the number of steps Run performs in total, counting steps
	// restored from a checkpoint.
	Epochs    int
	BatchSize int
	// SampleInterval exports samples whenever epoch%SampleInterval == 0;
	// 0 disables sampling.
	SampleInterval int
	// AdversarialWeight scales the adversarial term of the generator loss.
	AdversarialWeight float32
	Labels            LabelConfig
	// LogInterval logs windowed losses every N steps; 0 disables it.
	LogInterval int
	WindowSize  int
	Seed        int64
}

// DefaultConfig runs 300 steps of batch 8 and samples every 10 steps.
func DefaultConfig() Config {
	return Config{
		Epochs:            300,
		BatchSize:         8,
		SampleInterval:    10,
		AdversarialWeight: 1e-3,
		Labels:            DefaultLabelConfig(),
		LogInterval:       10,
		WindowSize:        50,
	}
}

// Validate checks the loop settings and the label ranges.
func (c Config) Validate() error {
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must not be negative, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.SampleInterval < 0 || c.LogInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.AdversarialWeight < 0 {
		return fmt.Errorf("adversarial weight must not be negative, got %g", c.AdversarialWeight)
	}
	return c.Labels.Validate()
}

// Deps are the collaborators a Session drives. Generator, Discriminator,
// both optimizers and Data are required; the rest are optional.
type Deps struct {
	Generator     nets.Network
	Discriminator nets.Network
	// GeneratorOptimizer must be bound to generator parameters only and
	// DiscriminatorOptimizer to discriminator parameters only.
	GeneratorOptimizer     optimizer.Optimizer
	DiscriminatorOptimizer optimizer.Optimizer
	Data                   dataset.Manager
	// ContentLoss compares generated and real HR batches; MSELoss if nil.
	ContentLoss LossFunc
	Scheduler   LRScheduler
	Sampler     *Sampler
	Checkpoints *CheckpointManager
	// Progress, when set, receives a progress bar.
	Progress io.Writer
	Plots    *VisualizationCollector
}

// StepResult holds the losses of one training step. Values are for logging
// only.
type StepResult struct {
	Epoch           int
	DLossReal       float32
	DLossFake       float32
	DLoss           float32
	GLoss           float32
	ContentLoss     float32
	AdversarialLoss float32
	Sampled         bool
	Duration        time.Duration
}

// Metrics returns the losses keyed by their log names.
func (r StepResult) Metrics() map[string]float64 {
	return map[string]float64{
		"d_loss":           float64(r.DLoss),
		"d_loss_real":      float64(r.DLossReal),
		"d_loss_fake":      float64(r.DLossFake),
		"g_loss":           float64(r.GLoss),
		"content_loss":     float64(r.ContentLoss),
		"adversarial_loss": float64(r.AdversarialLoss),
	}
}

// Session owns one training run. It is not safe for concurrent use; a
// single goroutine drives Step or Run.
type Session struct {
	config Config
	deps   Deps

	labels  *LabelSampler
	window  *LossWindow
	baseLRG float64
	baseLRD float64

	epoch      int
	lastSaved  int
	lastResult StepResult
	progress   *ProgressBar
	closed     bool
	// failed is set once a step fails after touching the networks. The
	// in-memory state is then no longer a clean step boundary.
	failed error
}

// NewSession validates the configuration and, when a checkpoint manager is
// given, resumes from the newest complete checkpoint.
func NewSession(config Config, deps Deps) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Generator == nil || deps.Discriminator == nil:
		return nil, fmt.Errorf("generator and discriminator are required")
	case deps.GeneratorOptimizer == nil || deps.DiscriminatorOptimizer == nil:
		return nil, fmt.Errorf("generator and discriminator optimizers are required")
	case deps.Data == nil:
		return nil, fmt.Errorf("data manager is required")
	}
	if deps.ContentLoss == nil {
		deps.ContentLoss = MSELoss
	}
	if deps.Scheduler == nil {
		deps.Scheduler = &NoOpScheduler{}
	}

	labels, err := NewLabelSampler(config.Labels, rand.New(rand.NewSource(config.Seed)))
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:  config,
		deps:    deps,
		labels:  labels,
		window:  NewLossWindow(config.WindowSize),
		baseLRG: float64(deps.GeneratorOptimizer.LearningRate()),
		baseLRD: float64(deps.DiscriminatorOptimizer.LearningRate()),
	}

	if deps.Checkpoints != nil {
		epoch, ok, err := deps.Checkpoints.Resume(s.trainedNetworks()...)
		if err != nil {
			return nil, fmt.Errorf("failed to resume: %w", err)
		}
		if ok {
			s.epoch = epoch
			s.lastSaved = epoch
		}
	}

	slog.Info("training session ready",
		"generator", deps.Generator.Architecture().Key(),
		"discriminator", deps.Discriminator.Architecture().Key(),
		"generator_params", len(layers.Trainable(deps.Generator.Parameters())),
		"discriminator_params", len(layers.Trainable(deps.Discriminator.Parameters())),
		"scheduler", deps.Scheduler.GetName(),
		"epoch", s.epoch)
	return s, nil
}

func (s *Session) trainedNetworks() []TrainedNetwork {
	return []TrainedNetwork{
		{Network: s.deps.Generator, Optimizer: s.deps.GeneratorOptimizer},
		{Network: s.deps.Discriminator, Optimizer: s.deps.DiscriminatorOptimizer},
	}
}

// Epoch returns the number of completed steps.
func (s *Session) Epoch() int { return s.epoch }

// Window exposes the windowed loss statistics.
func (s *Session) Window() *LossWindow { return s.window }

// Step performs one discriminator update phase followed by one generator
// update phase, then samples and checkpoints when due.
func (s *Session) Step(ctx context.Context) (StepResult, error) {
	if s.failed != nil {
		return StepResult{}, fmt.Errorf("session already failed: %w", s.failed)
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	start := time.Now()
	result := StepResult{Epoch: s.epoch}
	s.applySchedule()

	if err := s.discriminatorPhase(&result); err != nil {
		s.failed = fmt.Errorf("epoch %d: discriminator phase: %w", s.epoch, err)
		return result, s.failed
	}
	if err := s.generatorPhase(&result); err != nil {
		s.failed = fmt.Errorf("epoch %d: generator phase: %w", s.epoch, err)
		return result, s.failed
	}

	if s.deps.Sampler != nil && s.config.SampleInterval > 0 && s.epoch%s.config.SampleInterval == 0 {
		if err := s.deps.Sampler.Sample(s.epoch, s.deps.Generator); err != nil {
			slog.Warn("failed to write samples", "epoch", s.epoch, "error", err)
		} else {
			result.Sampled = true
		}
	}

	s.epoch++
	result.Duration = time.Since(start)
	s.lastResult = result
	s.window.Record(result)
	if s.deps.Plots != nil {
		s.deps.Plots.RecordStep(result, s.deps.GeneratorOptimizer.LearningRate(), s.deps.DiscriminatorOptimizer.LearningRate())
	}

	if s.deps.Checkpoints != nil && s.deps.Checkpoints.ShouldSave(s.epoch) {
		s.saveCheckpoint()
	}
	return result, nil
}

func (s *Session) applySchedule() {
	if _, ok := s.deps.Scheduler.(MetricScheduler); ok {
		return
	}
	s.deps.GeneratorOptimizer.UpdateLearningRate(float32(s.deps.Scheduler.GetLR(s.epoch, s.baseLRG)))
	s.deps.DiscriminatorOptimizer.UpdateLearningRate(float32(s.deps.Scheduler.GetLR(s.epoch, s.baseLRD)))
}

// observe feeds the windowed generator loss to metric-driven schedulers.
// The generator's rate is tracked and the discriminator's follows by the
// same factor.
func (s *Session) observe() {
	ms, ok := s.deps.Scheduler.(MetricScheduler)
	if !ok {
		return
	}
	ws, ok := s.window.Stat("g_loss")
	if !ok {
		return
	}
	current := float64(s.deps.GeneratorOptimizer.LearningRate())
	next := ms.Step(ws.Mean, current)
	if next != current && current > 0 {
		ratio := next / current
		s.deps.GeneratorOptimizer.UpdateLearningRate(float32(next))
		s.deps.DiscriminatorOptimizer.UpdateLearningRate(s.deps.DiscriminatorOptimizer.LearningRate() * float32(ratio))
		slog.Info("learning rate reduced", "epoch", s.epoch, "generator_lr", next)
	}
}

func (s *Session) loadBatch() (hr, lr *tensor.Tensor, err error) {
	hr, lr, err = s.deps.Data.LoadData(s.config.BatchSize, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return preprocessing.PreprocessHR(hr), preprocessing.PreprocessLR(lr), nil
}

func (s *Session) discriminatorPhase(result *StepResult) error {
	hr, lr, err := s.loadBatch()
	if err != nil {
		return err
	}
	fake, err := s.deps.Generator.Forward(lr, layers.Inference)
	if err != nil {
		return err
	}
	fake = fake.Detach()

	n := hr.Shape[0]
	realY := s.labels.Real(n)
	fakeY := s.labels.Fake(n)

	if result.DLossReal, err = s.trainDiscriminator("discriminator real", hr, realY); err != nil {
		return err
	}
	if result.DLossFake, err = s.trainDiscriminator("discriminator fake", fake, fakeY); err != nil {
		return err
	}
	result.DLoss = 0.5 * (result.DLossReal + result.DLossFake)
	return nil
}

func (s *Session) trainDiscriminator(name string, x, y *tensor.Tensor) (float32, error) {
	d := s.deps.Discriminator
	opt := s.deps.DiscriminatorOptimizer
	opt.ZeroGrad()

	pred, err := d.Forward(x, layers.Train)
	if err != nil {
		return 0, err
	}
	loss, err := BCELoss(y, pred)
	if err != nil {
		return 0, err
	}
	if loss, err = withRegularization(loss, d.Parameters()); err != nil {
		return 0, err
	}
	value, err := lossValue(name, loss)
	if err != nil {
		return 0, err
	}
	if err := loss.Backward(); err != nil {
		return 0, err
	}
	return value, opt.Step()
}

func (s *Session) generatorPhase(result *StepResult) error {
	hr, lr, err := s.loadBatch()
	if err != nil {
		return err
	}
	g := s.deps.Generator
	opt := s.deps.GeneratorOptimizer
	realY := s.labels.Real(hr.Shape[0])
	opt.ZeroGrad()

	fake, err := g.Forward(lr, layers.Train)
	if err != nil {
		return err
	}
	content, err := s.deps.ContentLoss(hr, fake)
	if err != nil {
		return fmt.Errorf("content loss: %w", err)
	}
	// The discriminator sees the fake batch frozen: gradients reach the
	// generator, its own weights and moving statistics stay untouched.
	validity, err := s.deps.Discriminator.Forward(fake, layers.Frozen)
	if err != nil {
		return err
	}
	adv, err := BCELoss(realY, validity)
	if err != nil {
		return err
	}

	total, err := tensor.Add(content, tensor.Scale(adv, s.config.AdversarialWeight))
	if err != nil {
		return err
	}
	if total, err = withRegularization(total, g.Parameters()); err != nil {
		return err
	}

	if result.ContentLoss, err = lossValue("content", content); err != nil {
		return err
	}
	if result.AdversarialLoss, err = lossValue("adversarial", adv); err != nil {
		return err
	}
	if result.GLoss, err = lossValue("generator", total); err != nil {
		return err
	}
	if err := total.Backward(); err != nil {
		return err
	}
	return opt.Step()
}

func withRegularization(loss *tensor.Tensor, params []*layers.Parameter) (*tensor.Tensor, error) {
	reg, err := layers.RegularizationLoss(params)
	if err != nil || reg == nil {
		return loss, err
	}
	return tensor.Add(loss, reg)
}

func (s *Session) saveCheckpoint() {
	if err := s.deps.Checkpoints.Save(s.epoch, s.lastResult, s.trainedNetworks()...); err != nil {
		slog.Warn("failed to save checkpoint", "epoch", s.epoch, "error", err)
		return
	}
	s.lastSaved = s.epoch
}

// Run steps until Epochs steps have completed, the context is cancelled or
// a step fails. Samples are prepared first.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		slog.Info("training finished", "epoch", s.epoch, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	if s.deps.Sampler != nil && s.epoch == 0 {
		if err := s.deps.Sampler.Prepare(); err != nil {
			slog.Warn("failed to prepare samples", "error", err)
		}
	}
	if s.deps.Progress != nil {
		s.progress = NewProgressBar(s.deps.Progress, "Training", s.config.Epochs)
	}

	for s.epoch < s.config.Epochs {
		result, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if s.progress != nil {
			s.progress.Update(s.epoch, s.window.Means())
		}
		if s.config.LogInterval > 0 && s.epoch%s.config.LogInterval == 0 {
			s.observe()
			slog.Info("step",
				"epoch", result.Epoch,
				"d_loss", result.DLoss,
				"g_loss", result.GLoss,
				"content_loss", result.ContentLoss,
				"adversarial_loss", result.AdversarialLoss,
				"window", s.window.String(),
				"duration", result.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

// Err returns the error that stopped the session mid-step, if any.
func (s *Session) Err() error { return s.failed }

// Close finishes the progress display and writes a final checkpoint when
// steps have completed since the last one. A session that failed mid-step
// is never checkpointed: its weights may hold part of the aborted step.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.progress != nil {
		s.progress.Finish()
	}
	if s.failed != nil {
		if s.deps.Checkpoints != nil {
			slog.Error("training failed; no final checkpoint written",
				"epoch", s.epoch, "last_saved", s.lastSaved, "error", s.failed)
		}
		return nil
	}
	if s.deps.Checkpoints != nil && s.epoch > s.lastSaved {
		if err := s.deps.Checkpoints.Save(s.epoch, s.lastResult, s.trainedNetworks()...); err != nil {
			return fmt.Errorf("failed to save final checkpoint: %w", err)
		}
		s.lastSaved = s.epoch
	}
	return nil
}
