package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns the trimmed value of an environment variable with surrounding
// quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String returns a getter for a string variable.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// Uint returns a getter for an unsigned integer variable. Unparsable values
// log a warning and fall back to the default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
				return defaultValue
			}
			return uint(n)
		}
		return defaultValue
	}
}

var (
	// DataDir overrides data.dir. Configurable via SRGAN_DATA_DIR.
	DataDir = String("SRGAN_DATA_DIR")
	// CheckpointDir overrides checkpoint.dir. Configurable via SRGAN_CHECKPOINT_DIR.
	CheckpointDir = String("SRGAN_CHECKPOINT_DIR")
	// VGGWeights overrides loss.vgg_weights. Configurable via SRGAN_VGG_WEIGHTS.
	VGGWeights = String("SRGAN_VGG_WEIGHTS")
	// Workers bounds concurrent image decodes. Configurable via SRGAN_WORKERS.
	Workers = Uint("SRGAN_WORKERS", 0)
)

// LogLevel returns the level requested by SRGAN_DEBUG: a boolean true means
// debug, an integer n means slog.Level(-4n). Unset is info.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("SRGAN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// EnvVar describes one supported environment variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap lists every supported variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SRGAN_DEBUG":          {"SRGAN_DEBUG", LogLevel(), "Show additional debug information (e.g. SRGAN_DEBUG=1)"},
		"SRGAN_LOG_LEVEL":      {"SRGAN_LOG_LEVEL", Var("SRGAN_LOG_LEVEL"), "Log level: debug, info, warn or error"},
		"SRGAN_DATA_DIR":       {"SRGAN_DATA_DIR", DataDir(), "Directory of training images"},
		"SRGAN_CHECKPOINT_DIR": {"SRGAN_CHECKPOINT_DIR", CheckpointDir(), "Directory checkpoints are written to"},
		"SRGAN_VGG_WEIGHTS":    {"SRGAN_VGG_WEIGHTS", VGGWeights(), "Safetensors file with VGG19 weights"},
		"SRGAN_WORKERS":        {"SRGAN_WORKERS", Workers(), "Concurrent image decodes"},
	}
}
