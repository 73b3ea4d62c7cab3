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

// Package losses provides differentiable loss and regularization functions for
// image registration and segmentation: similarity metrics between images or
// label probabilities, smoothness penalties on displacement fields, and the
// inverse consistency error of transform pairs.
//
// All losses are pure functions on graph nodes. Tensors are channels-first,
// `(N, C, ..., X)`, following the conventions of package coords. Invalid
// arguments panic with an error, in the style of the graph package.
package losses

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
)

// DefaultEpsilon is the small constant added to loss denominators (and, for
// the Dice score, the numerator) to avoid division by zero.
const DefaultEpsilon = 1e-15

// Reduction selects how a per-point loss tensor is aggregated.
type Reduction int

const (
	// ReductionMean averages the loss over all elements. With a mask it
	// divides the sum by the number of nonzero mask entries instead.
	ReductionMean Reduction = iota
	// ReductionSum sums the loss over all elements.
	ReductionSum
	// ReductionNone returns the unreduced per-point loss.
	ReductionNone
)

// String returns the lower-case name of the reduction.
func (r Reduction) String() string {
	switch r {
	case ReductionMean:
		return "mean"
	case ReductionSum:
		return "sum"
	case ReductionNone:
		return "none"
	}
	return "invalid"
}

// ParseReduction converts a reduction name to its Reduction value.
func ParseReduction(name string) (Reduction, error) {
	for r := ReductionMean; r <= ReductionNone; r++ {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, errors.Errorf("unknown reduction %q", name)
}

func (r Reduction) validate() {
	if r < ReductionMean || r > ReductionNone {
		Panicf("invalid reduction %d", int(r))
	}
}

// MaskedLoss multiplies a per-point loss tensor by a spatial mask, zeroing
// out excluded points. A nil mask is a no-op.
//
// The mask must have the rank of the loss, spatial dimensions matching
// exactly, and batch and channel dimensions of size 1 or matching the loss's
// batch size. (The channel dimension is compared against the loss's batch
// size, not its channel count; kept for compatibility with prior art.)
func MaskedLoss(loss, mask *Node) *Node {
	if mask == nil {
		return loss
	}
	checkMask(loss, mask)
	return Mul(loss, ConvertDType(mask, loss.DType()))
}

func checkMask(loss, mask *Node) {
	if mask.Rank() != loss.Rank() {
		Panicf("mask must have rank %d of loss, got %s", loss.Rank(), mask.Shape())
	}
	batch := loss.Shape().Dimensions[0]
	if d := mask.Shape().Dimensions[0]; d != 1 && d != batch {
		Panicf("mask batch dimension must be 1 or %d, got %s", batch, mask.Shape())
	}
	if d := mask.Shape().Dimensions[1]; d != 1 && d != batch {
		Panicf("mask channel dimension must be 1 or %d, got %s", batch, mask.Shape())
	}
	for axis := 2; axis < loss.Rank(); axis++ {
		if mask.Shape().Dimensions[axis] != loss.Shape().Dimensions[axis] {
			Panicf("mask spatial dimensions must match loss %s, got %s", loss.Shape(), mask.Shape())
		}
	}
}

// ReduceLoss aggregates a per-point loss tensor according to the reduction
// mode. The optional mask only affects ReductionMean: the loss sum is divided
// by the number of nonzero mask entries (after broadcasting to the loss
// shape) rather than by the total element count. The mask is assumed to have
// already been applied to the loss (see MaskedLoss).
func ReduceLoss(loss *Node, reduction Reduction, mask *Node) *Node {
	reduction.validate()
	if reduction == ReductionNone {
		return loss
	}
	if reduction == ReductionSum || mask == nil {
		if reduction == ReductionMean {
			return ReduceAllMean(loss)
		}
		return ReduceAllSum(loss)
	}
	checkMask(loss, mask)
	count := nonzeroCount(mask, loss)
	return Div(ReduceAllSum(loss), count)
}

// nonzeroCount counts the nonzero entries of mask after broadcasting it to
// the shape of loss, as a scalar of the loss dtype.
func nonzeroCount(mask, loss *Node) *Node {
	g := loss.Graph()
	nonzero := ConvertDType(NotEqual(mask, ScalarZero(g, mask.DType())), loss.DType())
	nonzero = BroadcastToDims(nonzero, loss.Shape().Dimensions...)
	return ReduceAllSum(nonzero)
}

// DotChannels computes the inner product of two channels-first tensors over
// their spatial axes, per batch and channel, returning shape `(N, C)`. The
// optional weight multiplies pointwise and must broadcast against the inputs.
func DotChannels(a, b, weight *Node) *Node {
	if !a.Shape().Equal(b.Shape()) {
		Panicf("DotChannels requires equal shapes, got %s and %s", a.Shape(), b.Shape())
	}
	if a.Rank() < 3 {
		Panicf("DotChannels requires tensors of shape (N, C, ..., X), got %s", a.Shape())
	}
	prod := Mul(a, b)
	if weight != nil {
		if weight.Rank() != a.Rank() {
			Panicf("weight must have rank %d, got %s", a.Rank(), weight.Shape())
		}
		prod = Mul(prod, ConvertDType(weight, prod.DType()))
	}
	spatialAxes := make([]int, a.Rank()-2)
	for i := range spatialAxes {
		spatialAxes[i] = i + 2
	}
	return ReduceSum(prod, spatialAxes...)
}
