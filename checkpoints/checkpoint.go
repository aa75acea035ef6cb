// Package checkpoints persists network weights, BatchNorm statistics,
// optimizer state and training progress, keyed by network architecture.
package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets"
)

// ErrArchitectureMismatch is returned when a checkpoint is restored into a
// network with a different architecture.
var ErrArchitectureMismatch = errors.New("checkpoint architecture mismatch")

const (
	Version   = "1.0.0"
	Framework = "go-srgan"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	// FormatBinary is a protobuf wire encoding of the same structure.
	FormatBinary
)

// String returns the display name of the format.
func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Extension is the file extension used for the format.
func (cf CheckpointFormat) Extension() string {
	if cf == FormatBinary {
		return ".ckpt"
	}
	return ".json"
}

// ParseFormat maps "json" or "binary" to a format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "binary", "bin", "protobuf":
		return FormatBinary, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// Checkpoint represents one network's complete state.
type Checkpoint struct {
	Architecture nets.Architecture `json:"architecture"`
	Weights      []WeightTensor    `json:"weights"`
	// Buffers hold non-trainable state such as BatchNorm moving statistics.
	Buffers []WeightTensor `json:"buffers,omitempty"`

	TrainingState  TrainingState   `json:"training_state"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "kernel", "bias", "gamma", "moving_mean", ...
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float32 `json:"learning_rate"`
	DLoss        float32 `json:"d_loss"`
	GLoss        float32 `json:"g_loss"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// NewRunID returns an identifier shared by every checkpoint of one run.
func NewRunID() string { return uuid.NewString() }

// Capture snapshots net. Parameter data is copied, so later training does not
// alter the checkpoint.
func Capture(net nets.Network, state TrainingState, opt *OptimizerState) *Checkpoint {
	return &Checkpoint{
		Architecture:   net.Architecture(),
		Weights:        extractWeights(net.Parameters()),
		Buffers:        extractWeights(net.Buffers()),
		TrainingState:  state,
		OptimizerState: opt,
		Metadata: CheckpointMetadata{
			Version:   Version,
			Framework: Framework,
			CreatedAt: time.Now(),
			Tags:      []string{fmt.Sprintf("epoch_%d", state.Epoch)},
		},
	}
}

func extractWeights(params []*layers.Parameter) []WeightTensor {
	out := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		layer, typ := p.Name, ""
		if i := strings.LastIndexByte(p.Name, '.'); i >= 0 {
			layer, typ = p.Name[:i], p.Name[i+1:]
		}
		out = append(out, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  append([]float32(nil), p.Value.Data...),
			Layer: layer,
			Type:  typ,
		})
	}
	return out
}

// Restore loads the checkpoint's weights and buffers into net. The network
// must have been built from an identical architecture; every tensor is
// validated before any is written, so a failed restore leaves net untouched.
func Restore(cp *Checkpoint, net nets.Network) error {
	if got := net.Architecture(); got != cp.Architecture {
		return fmt.Errorf("%w: checkpoint is %s, network is %s", ErrArchitectureMismatch, cp.Architecture.Key(), got.Key())
	}
	type pending struct {
		dst *layers.Parameter
		src WeightTensor
	}
	var plan []pending
	for _, set := range []struct {
		kind    string
		params  []*layers.Parameter
		weights []WeightTensor
	}{
		{"weight", net.Parameters(), cp.Weights},
		{"buffer", net.Buffers(), cp.Buffers},
	} {
		if len(set.params) != len(set.weights) {
			return fmt.Errorf("%w: %d %ss in checkpoint, %d in network", ErrArchitectureMismatch, len(set.weights), set.kind, len(set.params))
		}
		byName := make(map[string]WeightTensor, len(set.weights))
		for _, w := range set.weights {
			byName[w.Name] = w
		}
		for _, p := range set.params {
			w, ok := byName[p.Name]
			if !ok {
				return fmt.Errorf("%w: checkpoint has no %s %q", ErrArchitectureMismatch, set.kind, p.Name)
			}
			if !equalShape(w.Shape, p.Value.Shape) || len(w.Data) != p.Value.NumElems {
				return fmt.Errorf("%w: %s %q has shape %v, network expects %v", ErrArchitectureMismatch, set.kind, p.Name, w.Shape, p.Value.Shape)
			}
			plan = append(plan, pending{p, w})
		}
	}
	for _, step := range plan {
		copy(step.dst.Value.Data, step.src.Data)
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
	// half stores binary weight payloads as IEEE float16.
	half bool
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// WithHalfPrecision makes binary checkpoints store weights as float16. Optimizer
// state always stays float32.
func (cs *CheckpointSaver) WithHalfPrecision(half bool) *CheckpointSaver {
	cs.half = half
	return cs
}

// Format returns the format the saver writes.
func (cs *CheckpointSaver) Format() CheckpointFormat { return cs.format }

// SaveCheckpoint writes checkpoint to path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = Framework
		checkpoint.Metadata.Version = Version
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var data []byte
	var err error
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatBinary:
		data, err = marshalBinary(checkpoint, cs.half)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return writeAtomic(path, data)
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	switch cs.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
		}
		return &checkpoint, nil
	case FormatBinary:
		checkpoint, err := unmarshalBinary(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
		}
		return checkpoint, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
