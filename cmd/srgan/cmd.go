package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-srgan/config"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/training"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "srgan",
		Short:         "Super-resolution GAN trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (defaults are used when empty)")

	rootCmd.AddCommand(newTrainCmd(), newSummaryCmd(), newVersionCmd())
	return rootCmd
}

func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a generator and discriminator",
		Args:  cobra.ExactArgs(0),
		RunE:  TrainHandler,
	}
	trainCmd.Flags().Int("epochs", 0, "Number of training steps")
	trainCmd.Flags().Int("batch-size", 0, "Batch size")
	trainCmd.Flags().String("data-dir", "", "Directory of training images")
	trainCmd.Flags().Bool("synthetic", false, "Train on generated textures instead of images")
	trainCmd.Flags().String("generator", "", "Generator architecture: srgan or esrgan")
	trainCmd.Flags().Int64("seed", 0, "PRNG seed")
	trainCmd.Flags().Bool("resume", false, "Continue from the newest checkpoint in checkpoint.dir")
	return trainCmd
}

func newSummaryCmd() *cobra.Command {
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the generator and discriminator architectures",
		Args:  cobra.ExactArgs(0),
		RunE:  SummaryHandler,
	}
	summaryCmd.Flags().String("generator", "", "Generator architecture: srgan or esrgan")
	return summaryCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "srgan version %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadConfig reads the file named by --config, then applies environment
// variables and the flags of cmd, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path == "" {
		def := config.Default()
		cfg = &def
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	var o config.Overrides
	flags := cmd.Flags()
	if flags.Lookup("epochs") != nil {
		o.Epochs, _ = flags.GetInt("epochs")
		o.BatchSize, _ = flags.GetInt("batch-size")
		o.DataDir, _ = flags.GetString("data-dir")
		o.Synthetic, _ = flags.GetBool("synthetic")
		o.Seed, _ = flags.GetInt64("seed")
	}
	o.Generator, _ = flags.GetString("generator")
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))
	return cfg, nil
}

// TrainHandler runs a training session until it completes or the command
// context is cancelled. The session is always closed, so an interrupted run
// still writes a final checkpoint.
func TrainHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	resume, _ := cmd.Flags().GetBool("resume")

	r, err := newRun(cfg, resume)
	if err != nil {
		return err
	}
	defer r.Close()
	if training.StderrIsTerminal() {
		r.deps.Progress = os.Stderr
	}

	session, err := training.NewSession(cfg.Session(), r.deps)
	if err != nil {
		return err
	}

	runErr := session.Run(cmd.Context())
	if err := session.Close(); err != nil {
		slog.Error("failed to close session", "error", err)
	}
	if err := r.plots.Save(r.plotsPath); err != nil {
		slog.Warn("failed to save plot data", "path", r.plotsPath, "error", err)
	}

	if errors.Is(runErr, context.Canceled) {
		slog.Info("training interrupted", "epoch", session.Epoch())
		return nil
	}
	return runErr
}

// SummaryHandler prints the layer tables of the configured networks.
func SummaryHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gen, disc, err := buildNetworks(cfg, rand.New(rand.NewSource(cfg.Training.Seed)))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, n := range []nets.Network{gen, disc} {
		spec, err := nets.Describe(n, cfg.Training.BatchSize)
		if err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
		fmt.Fprintf(out, "%s (%s)\n", n.Name(), n.Architecture().Key())
		training.PrintArchitecture(out, spec)
		fmt.Fprintln(out)
	}
	return nil
}
