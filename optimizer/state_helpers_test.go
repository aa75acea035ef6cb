package optimizer

import (
	"testing"

	"github.com/tsawler/go-srgan/checkpoints"
)

// TestExtractFloat32Param tests the extractFloat32Param helper function
func TestExtractFloat32Param(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue float32
		expected     float32
	}{
		{
			name:         "existing_float64_param",
			params:       map[string]interface{}{"learning_rate": float64(0.01)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.01,
		},
		{
			name:         "missing_param",
			params:       map[string]interface{}{"beta1": float64(0.9)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "wrong_type_param",
			params:       map[string]interface{}{"learning_rate": "0.01"},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "native_float32_param",
			params:       map[string]interface{}{"learning_rate": float32(0.02)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.02,
		},
		{
			name:         "zero_value",
			params:       map[string]interface{}{"learning_rate": float64(0.0)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFloat32Param(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractFloat32Param() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestExtractBoolParam tests the extractBoolParam helper function
func TestExtractBoolParam(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue bool
		expected     bool
	}{
		{
			name:         "existing_bool_param",
			params:       map[string]interface{}{"centered": true},
			key:          "centered",
			defaultValue: false,
			expected:     true,
		},
		{
			name:         "missing_param",
			params:       map[string]interface{}{"nesterov": true},
			key:          "centered",
			defaultValue: false,
			expected:     false,
		},
		{
			name:         "wrong_type_param",
			params:       map[string]interface{}{"centered": "true"},
			key:          "centered",
			defaultValue: false,
			expected:     false,
		},
		{
			name:         "false_value",
			params:       map[string]interface{}{"centered": false},
			key:          "centered",
			defaultValue: true,
			expected:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractBoolParam(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractBoolParam() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestExtractUint64Param tests the extractUint64Param helper function
func TestExtractUint64Param(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue uint64
		expected     uint64
	}{
		{
			name:         "existing_float64_param",
			params:       map[string]interface{}{"step_count": float64(100)},
			key:          "step_count",
			defaultValue: 0,
			expected:     100,
		},
		{
			name:         "missing_param",
			params:       map[string]interface{}{"learning_rate": float64(0.01)},
			key:          "step_count",
			defaultValue: 0,
			expected:     0,
		},
		{
			name:         "wrong_type_param",
			params:       map[string]interface{}{"step_count": "100"},
			key:          "step_count",
			defaultValue: 0,
			expected:     0,
		},
		{
			name:         "zero_value",
			params:       map[string]interface{}{"step_count": float64(0)},
			key:          "step_count",
			defaultValue: 5,
			expected:     0,
		},
		{
			name:         "native_uint64_param",
			params:       map[string]interface{}{"step_count": uint64(42)},
			key:          "step_count",
			defaultValue: 0,
			expected:     42,
		},
		{
			name:         "fractional_value",
			params:       map[string]interface{}{"step_count": float64(10.7)},
			key:          "step_count",
			defaultValue: 0,
			expected:     10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractUint64Param(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractUint64Param() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestExtractBufferState tests the extractBufferState helper function
func TestExtractBufferState(t *testing.T) {
	buffer := []float32{1, 2, 3, 4, 5, 6}
	shape := []int{2, 3}
	state := extractBufferState(buffer, shape, "momentum_3", "momentum")

	if state.Name != "momentum_3" || state.StateType != "momentum" {
		t.Errorf("extractBufferState() = %s/%s, want momentum_3/momentum", state.Name, state.StateType)
	}
	if len(state.Data) != 6 || state.Shape[0] != 2 || state.Shape[1] != 3 {
		t.Fatalf("extractBufferState() shape %v with %d values", state.Shape, len(state.Data))
	}

	// The snapshot must not alias the live buffers.
	buffer[0] = 100
	shape[0] = 7
	if state.Data[0] != 1 || state.Shape[0] != 2 {
		t.Error("extractBufferState() should copy buffer and shape")
	}
}

// TestRestoreBufferState tests the restoreBufferState helper function
func TestRestoreBufferState(t *testing.T) {
	buffer := make([]float32, 4)
	if err := restoreBufferState(buffer, []float32{1, 2, 3, 4}, "variance_0"); err != nil {
		t.Fatalf("restoreBufferState() unexpected error: %v", err)
	}
	if buffer[3] != 4 {
		t.Errorf("restoreBufferState() buffer = %v", buffer)
	}

	err := restoreBufferState(buffer, []float32{1.0, 2.0}, "test_buffer")
	if err == nil {
		t.Fatal("restoreBufferState() with size mismatch should return error")
	}
	expectedErr := "data size mismatch for test_buffer: expected 4 elements, got 2"
	if err.Error() != expectedErr {
		t.Errorf("restoreBufferState() error message = %v, want %v", err.Error(), expectedErr)
	}
}

// TestRestoreBuffers tests routing of state tensors by type and index
func TestRestoreBuffers(t *testing.T) {
	state := &OptimizerState{
		Type: "Adam",
		StateData: []checkpoints.OptimizerTensor{
			{Name: "momentum_1", Shape: []int{2}, Data: []float32{3, 4}, StateType: "momentum"},
			{Name: "momentum_0", Shape: []int{1}, Data: []float32{1}, StateType: "momentum"},
			{Name: "variance_0", Shape: []int{1}, Data: []float32{9}, StateType: "variance"},
		},
	}
	buffers := [][]float32{make([]float32, 1), make([]float32, 2)}
	if err := restoreBuffers(state, "momentum", buffers); err != nil {
		t.Fatalf("restoreBuffers() unexpected error: %v", err)
	}
	if buffers[0][0] != 1 || buffers[1][1] != 4 {
		t.Errorf("restoreBuffers() = %v", buffers)
	}

	state.StateData = append(state.StateData, checkpoints.OptimizerTensor{Name: "momentum_7", Data: []float32{1}, StateType: "momentum"})
	if err := restoreBuffers(state, "momentum", buffers); err == nil {
		t.Error("restoreBuffers() should reject an out of range index")
	}
}

// TestValidateStateType tests the validateStateType helper function
func TestValidateStateType(t *testing.T) {
	tests := []struct {
		name          string
		optimizerType string
		state         *OptimizerState
		expectError   bool
	}{
		{
			name:          "matching_type",
			optimizerType: "Adam",
			state:         &OptimizerState{Type: "Adam"},
			expectError:   false,
		},
		{
			name:          "mismatched_type",
			optimizerType: "Adam",
			state:         &OptimizerState{Type: "SGD"},
			expectError:   true,
		},
		{
			name:          "empty_state_type",
			optimizerType: "Adam",
			state:         &OptimizerState{Type: ""},
			expectError:   true,
		},
		{
			name:          "nil_state",
			optimizerType: "Adam",
			state:         nil,
			expectError:   true,
		},
		{
			name:          "empty_optimizer_type",
			optimizerType: "",
			state:         &OptimizerState{Type: "Adam"},
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStateType(tt.optimizerType, tt.state)
			if tt.expectError {
				if err == nil {
					t.Error("validateStateType() should have returned error")
				}
			} else {
				if err != nil {
					t.Errorf("validateStateType() should not have returned error: %v", err)
				}
			}
		})
	}
}

// TestExtractBufferIndex tests the extractBufferIndex helper function
func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "momentum_buffer",
			input:    "momentum_0",
			expected: 0,
		},
		{
			name:     "variance_buffer",
			input:    "variance_5",
			expected: 5,
		},
		{
			name:     "squared_grad_avg_buffer",
			input:    "squared_grad_avg_10",
			expected: 10,
		},
		{
			name:     "no_underscore",
			input:    "momentum",
			expected: -1,
		},
		{
			name:     "non_numeric_suffix",
			input:    "momentum_abc",
			expected: -1,
		},
		{
			name:     "empty_string",
			input:    "",
			expected: -1,
		},
		{
			name:     "only_underscore",
			input:    "_",
			expected: -1,
		},
		{
			name:     "multiple_underscores",
			input:    "momentum_buffer_5",
			expected: 5,
		},
		{
			name:     "negative_index",
			input:    "momentum_-1",
			expected: -1,
		},
		{
			name:     "large_index",
			input:    "momentum_999",
			expected: 999,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractBufferIndex(tt.input)
			if result != tt.expected {
				t.Errorf("extractBufferIndex() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestOptimizerState tests that parameters survive both checkpoint encodings
func TestOptimizerState(t *testing.T) {
	// JSON decoding turns every number into float64.
	jsonState := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": float64(0.001),
			"amsgrad":       true,
			"step_count":    float64(100),
		},
	}
	// The binary format keeps Go types.
	binaryState := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": float32(0.001),
			"amsgrad":       true,
			"step_count":    uint64(100),
		},
	}

	for _, state := range []*OptimizerState{jsonState, binaryState} {
		if lr := extractFloat32Param(state.Parameters, "learning_rate", 0.0); lr != 0.001 {
			t.Errorf("Expected learning_rate 0.001, got %f", lr)
		}
		if !extractBoolParam(state.Parameters, "amsgrad", false) {
			t.Error("Expected amsgrad true")
		}
		if stepCount := extractUint64Param(state.Parameters, "step_count", 0); stepCount != 100 {
			t.Errorf("Expected step_count 100, got %d", stepCount)
		}
	}
}
