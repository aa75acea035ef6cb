package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-srgan/layers"
	"github.com/tsawler/go-srgan/nets"
	"github.com/tsawler/go-srgan/tensor"
)

// LossFunc reduces a prediction and its target to a scalar loss tensor that
// can be backpropagated.
type LossFunc func(yTrue, yPred *tensor.Tensor) (*tensor.Tensor, error)

// MSELoss is the mean squared error.
func MSELoss(yTrue, yPred *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MSE(yTrue, yPred)
}

// L1Loss is the mean absolute error.
func L1Loss(yTrue, yPred *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MAE(yTrue, yPred)
}

// BCELoss is binary cross-entropy against soft targets in [0, 1].
func BCELoss(yTrue, yPred *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BCE(yTrue, yPred)
}

// PerceptualLoss compares images in the feature space of extractor, which
// should be a frozen network such as nets.VGGFeatures. Target features are
// computed without a gradient; gradients reach yPred through the extractor.
func PerceptualLoss(extractor nets.Network) LossFunc {
	return func(yTrue, yPred *tensor.Tensor) (*tensor.Tensor, error) {
		want, err := extractor.Forward(yTrue.Detach(), layers.Inference)
		if err != nil {
			return nil, fmt.Errorf("perceptual target: %w", err)
		}
		got, err := extractor.Forward(yPred, layers.Frozen)
		if err != nil {
			return nil, fmt.Errorf("perceptual prediction: %w", err)
		}
		return tensor.MSE(want.Detach(), got)
	}
}

// ContentLoss returns the content loss registered under name: "perceptual"
// (needs extractor), "mse" or "l1".
func ContentLoss(name string, extractor nets.Network) (LossFunc, error) {
	switch name {
	case "perceptual", "vgg":
		if extractor == nil {
			return nil, fmt.Errorf("perceptual loss needs a feature extractor")
		}
		return PerceptualLoss(extractor), nil
	case "mse":
		return MSELoss, nil
	case "l1":
		return L1Loss, nil
	default:
		return nil, fmt.Errorf("unknown content loss %q", name)
	}
}

// lossValue reads a scalar loss and fails with ErrDivergence if it is not
// finite.
func lossValue(name string, loss *tensor.Tensor) (float32, error) {
	v, err := loss.Item()
	if err != nil {
		return 0, fmt.Errorf("%s loss: %w", name, err)
	}
	if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s loss is %v: %w", name, v, ErrDivergence)
	}
	return v, nil
}
