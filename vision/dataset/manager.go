// Package dataset supplies paired high and low resolution batches for
// super-resolution training.
package dataset

import (
	"fmt"

	"github.com/tsawler/go-srgan/tensor"
)

// Manager loads spatially corresponding HR/LR batches. Both tensors are NHWC
// with RGB values in [0, 255]; lr is hr downscaled by the manager's scale.
type Manager interface {
	LoadData(batchSize int, isTesting bool) (hr, lr *tensor.Tensor, err error)
}

func checkSizes(hrSize, scale int) error {
	if scale <= 0 {
		return fmt.Errorf("scale must be positive, got %d", scale)
	}
	if hrSize <= 0 || hrSize%scale != 0 {
		return fmt.Errorf("hr size %d is not a positive multiple of scale %d", hrSize, scale)
	}
	return nil
}

func checkBatch(batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return nil
}
