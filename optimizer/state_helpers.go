package optimizer

import (
	"fmt"

	"github.com/tsawler/go-srgan/checkpoints"
)

// extractBufferState snapshots one moment buffer.
func extractBufferState(buffer []float32, shape []int, name, stateType string) checkpoints.OptimizerTensor {
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      append([]float32(nil), buffer...),
		StateType: stateType,
	}
}

// restoreBufferState copies checkpointed data into a moment buffer.
func restoreBufferState(buffer, data []float32, name string) error {
	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}
	copy(buffer, data)
	return nil
}

// restoreBuffers routes every state tensor of stateType to buffers[index].
func restoreBuffers(state *OptimizerState, stateType string, buffers [][]float32) error {
	for _, t := range state.StateData {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if err := restoreBufferState(buffers[idx], t.Data, t.Name); err != nil {
			return err
		}
	}
	return nil
}

// Parameters survive a JSON round trip as float64 and a binary round trip
// with their original Go types, so the extractors accept both.

// extractFloat32Param safely extracts a float32 parameter from the state map.
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map.
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}
