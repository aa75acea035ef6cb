package layers

import (
	"github.com/tsawler/go-srgan/tensor"
)

// Regularizer adds a penalty on a weight to the loss it is trained with.
type Regularizer interface {
	Penalty(w *tensor.Tensor) *tensor.Tensor
}

// L2 penalises Factor * sum(w^2).
type L2 struct {
	Factor float32
}

// Penalty returns Weight * sum(w^2).
func (r L2) Penalty(w *tensor.Tensor) *tensor.Tensor {
	return tensor.Scale(tensor.SumSquares(w), r.Factor)
}

// RegularizationLoss sums the penalties of every trainable parameter that
// carries a regularizer. It returns nil when there are none.
func RegularizationLoss(params []*Parameter) (*tensor.Tensor, error) {
	var total *tensor.Tensor
	for _, p := range params {
		if p.Regularizer == nil || !p.Trainable {
			continue
		}
		penalty := p.Regularizer.Penalty(p.Value)
		if total == nil {
			total = penalty
			continue
		}
		var err error
		if total, err = tensor.Add(total, penalty); err != nil {
			return nil, err
		}
	}
	return total, nil
}
