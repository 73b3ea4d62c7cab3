/*
 *	Copyright 2024 The GoMIA Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package losses

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomia/gomia/spatial"
)

const (
	// DefaultLabelSmoothing is the blending factor used when smoothing one-hot
	// label maps towards a uniform class distribution.
	DefaultLabelSmoothing = 0.1

	// DefaultLCCKernelSize is the local window size of LCCLoss.
	DefaultLCCKernelSize = 7
)

// LabelSmoothing converts a label tensor into smoothed class probabilities.
//
// A single-channel integer label map `(N, 1, ..., X)` is one-hot expanded to
// numClasses channels, with locations labeled ignoreIndex (if non-negative)
// encoded as all-zero rows. A multi-channel input is treated as already
// probabilistic and must not use ignoreIndex. The result blends each class
// probability with the uniform distribution:
//
//	smoothed = (1-alpha)*target + alpha*(1-target)/(C-1)
//
// Inputs must have at least two spatial axes (rank >= 4).
func LabelSmoothing(labels *Node, numClasses int, ignoreIndex int, alpha float64) *Node {
	if labels.Rank() < 4 {
		Panicf("labels must be shaped (N, C, ..., X) with at least two spatial axes, got %s", labels.Shape())
	}
	var target *Node
	if labels.Shape().Dimensions[1] == 1 && labels.DType().IsInt() {
		if numClasses < 1 {
			Panicf("numClasses must be positive to one-hot expand integer labels, got %d", numClasses)
		}
		target = spatial.AsOneHot(labels, numClasses, ignoreIndex, dtypes.Float32)
	} else {
		if ignoreIndex >= 0 {
			Panicf("ignoreIndex requires a single-channel integer label map, got %s", labels.Shape())
		}
		target = labels
		if !target.DType().IsFloat() {
			target = ConvertDType(target, dtypes.Float32)
		}
	}
	numChannels := target.Shape().Dimensions[1]
	if alpha > 0 && numChannels > 1 {
		smoothed := MulScalar(OneMinus(target), alpha/float64(numChannels-1))
		target = Add(MulScalar(target, 1-alpha), smoothed)
	}
	return target
}

// DiceScore computes the soft Dice overlap per batch and channel:
//
//	(2*<input,target> + eps) / (<input,input> + <target,target> + eps)
//
// where <.,.> is the spatial inner product of DotChannels, optionally
// weighted. Input and target must have identical shapes of rank >= 3. With
// ReductionNone the result has shape `(N, C)`.
func DiceScore(input, target, weight *Node, epsilon float64, reduction Reduction) *Node {
	if !input.Shape().Equal(target.Shape()) {
		Panicf("input and target must have equal shapes, got %s and %s", input.Shape(), target.Shape())
	}
	if input.Rank() < 3 {
		Panicf("input must be shaped (N, C, ..., X), got %s", input.Shape())
	}
	intersection := DotChannels(input, target, weight)
	denom := Add(DotChannels(input, input, weight), DotChannels(target, target, weight))
	score := Div(
		AddScalar(MulScalar(intersection, 2), epsilon),
		AddScalar(denom, epsilon))
	return ReduceLoss(score, reduction, nil)
}

// DiceLoss is one minus the soft Dice score, reduced.
func DiceLoss(input, target, weight *Node, epsilon float64, reduction Reduction) *Node {
	loss := OneMinus(DiceScore(input, target, weight, epsilon, ReductionNone))
	return ReduceLoss(loss, reduction, nil)
}

// KLDLoss is the closed-form KL divergence of the diagonal Gaussian
// N(mean, exp(logvar)) from the standard normal:
//
//	0.5 * reduce(mean^2 + exp(logvar) - 1 - logvar)
//
// Note the reduction applies before the factor of one half.
func KLDLoss(mean, logvar *Node, reduction Reduction) *Node {
	if !mean.Shape().Equal(logvar.Shape()) {
		Panicf("mean and logvar must have equal shapes, got %s and %s", mean.Shape(), logvar.Shape())
	}
	loss := Sub(AddScalar(Add(Square(mean), Exp(logvar)), -1), logvar)
	return MulScalar(ReduceLoss(loss, reduction, nil), 0.5)
}

// LCCLoss is the local (windowed) normalized cross-correlation dissimilarity
// of two images:
//
//	1 - E[xy]^2 / (E[x^2]*E[y^2] + eps)
//
// with expectations taken over a sliding box window of the given size
// (stride 1, boundary windows averaging in-bounds values only) after local
// mean subtraction. Pass kernelSize 0 for DefaultLCCKernelSize. The optional
// mask zeroes the per-point loss before reduction.
func LCCLoss(input, target, mask *Node, kernelSize int, epsilon float64, reduction Reduction) *Node {
	if !input.Shape().Equal(target.Shape()) {
		Panicf("input and target must have equal shapes, got %s and %s", input.Shape(), target.Shape())
	}
	if input.Rank() < 3 {
		Panicf("input must be shaped (N, C, ..., X), got %s", input.Shape())
	}
	if kernelSize == 0 {
		kernelSize = DefaultLCCKernelSize
	}
	if kernelSize < 1 {
		Panicf("kernelSize must be positive, got %d", kernelSize)
	}
	x := Sub(input, spatial.AvgPool(input, kernelSize))
	y := Sub(target, spatial.AvgPool(target, kernelSize))
	a := spatial.AvgPool(Mul(x, y), kernelSize)
	b := spatial.AvgPool(Mul(x, x), kernelSize)
	c := spatial.AvgPool(Mul(y, y), kernelSize)
	loss := OneMinus(Div(Square(a), AddScalar(Mul(b, c), epsilon)))
	loss = MaskedLoss(loss, mask)
	return ReduceLoss(loss, reduction, mask)
}

// SSDLoss is the sum of squared differences of two tensors of equal shape,
// masked and reduced. The canonical reduction for SSD is ReductionSum; MSELoss
// is the same loss with ReductionMean.
//
// The optional norm divides the result; it must hold a single element, and a
// non-positive value leaves the loss unchanged rather than erroring.
func SSDLoss(input, target, mask, norm *Node, reduction Reduction) *Node {
	if !input.Shape().Equal(target.Shape()) {
		Panicf("input and target must have equal shapes, got %s and %s", input.Shape(), target.Shape())
	}
	loss := Square(Sub(input, target))
	loss = MaskedLoss(loss, mask)
	loss = ReduceLoss(loss, reduction, mask)
	if norm != nil {
		if norm.Shape().Size() != 1 {
			Panicf("norm must hold a single element, got %s", norm.Shape())
		}
		g := norm.Graph()
		n := ConvertDType(Reshape(norm), loss.DType())
		divisor := Where(GreaterThan(n, ScalarZero(g, n.DType())), n, ScalarOne(g, n.DType()))
		loss = Div(loss, divisor)
	}
	return loss
}

// MSELoss is the mean squared error: SSDLoss with ReductionMean.
func MSELoss(input, target, mask, norm *Node) *Node {
	return SSDLoss(input, target, mask, norm, ReductionMean)
}
