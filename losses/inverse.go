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
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"

	"github.com/gomia/gomia/coords"
)

// Units selects the unit system of the inverse consistency error.
type Units int

const (
	// UnitsCube measures the error in normalized cube coordinates, [-1, 1].
	UnitsCube Units = iota
	// UnitsVoxel measures the error in grid points.
	UnitsVoxel
	// UnitsWorld measures the error in physical units, per the grid spacing.
	UnitsWorld
)

// String returns the lower-case name of the unit system.
func (u Units) String() string {
	switch u {
	case UnitsCube:
		return "cube"
	case UnitsVoxel:
		return "voxel"
	case UnitsWorld:
		return "world"
	}
	return "invalid"
}

// ParseUnits converts a unit system name to its Units value.
func ParseUnits(name string) (Units, error) {
	for u := UnitsCube; u <= UnitsWorld; u++ {
		if u.String() == name {
			return u, nil
		}
	}
	return 0, errors.Errorf("unknown unit system %q", name)
}

// InverseConsistencyLossBuilder configures the inverse consistency error of
// a pair of transforms. Created by InverseConsistencyLoss; call Done to
// evaluate.
type InverseConsistencyLossBuilder struct {
	forward, inverse *Node
	grid             *coords.Grid
	mask             *Node
	marginPoints     int
	marginFraction   float64
	units            Units
	reduction        Reduction
}

// InverseConsistencyLoss measures how far the composition of a transform and
// its claimed inverse deviates from the identity: the grid's points are
// mapped through forward then inverse, and the per-point Euclidean distance
// to where they started is the error.
//
// Both transforms are either dense displacement fields `(N, D, ..., X)` or
// homogeneous transforms `(N, D, D+1)`; batch sizes must match or be 1. By
// default the grid is inferred from whichever transform is dense; if both
// are affine, Grid must be called.
func InverseConsistencyLoss(forward, inverse *Node) *InverseConsistencyLossBuilder {
	return &InverseConsistencyLossBuilder{forward: forward, inverse: inverse}
}

// Grid sets the sampling grid on which consistency is measured.
func (b *InverseConsistencyLossBuilder) Grid(grid *coords.Grid) *InverseConsistencyLossBuilder {
	b.grid = grid
	return b
}

// Mask restricts the error to a foreground region, shaped `(N|1, 1, ..., X)`:
// the error is zeroed where the mask is zero, and ReductionMean divides by the
// number of nonzero mask entries.
func (b *InverseConsistencyLossBuilder) Mask(mask *Node) *InverseConsistencyLossBuilder {
	b.mask = mask
	return b
}

// Margin discards the given number of grid points per axis on each side of
// the boundary before reducing.
func (b *InverseConsistencyLossBuilder) Margin(points int) *InverseConsistencyLossBuilder {
	if points < 0 {
		Panicf("margin must be non-negative, got %d", points)
	}
	b.marginPoints = points
	b.marginFraction = 0
	return b
}

// MarginFraction discards the given fraction of each axis's extent, in
// [0, 1), per side of the boundary before reducing.
func (b *InverseConsistencyLossBuilder) MarginFraction(fraction float64) *InverseConsistencyLossBuilder {
	if fraction < 0 || fraction >= 1 {
		Panicf("margin fraction must be in [0, 1), got %g", fraction)
	}
	b.marginFraction = fraction
	b.marginPoints = 0
	return b
}

// Units sets the unit system of the error. Default is UnitsCube.
func (b *InverseConsistencyLossBuilder) Units(units Units) *InverseConsistencyLossBuilder {
	if units < UnitsCube || units > UnitsWorld {
		Panicf("invalid unit system %d", int(units))
	}
	b.units = units
	return b
}

// Reduction sets the aggregation mode. Default is ReductionMean. Note that
// ReductionSum also divides the summed error by the point count, matching
// established behavior of this loss; only ReductionMean with a mask divides
// by the nonzero mask count instead.
func (b *InverseConsistencyLossBuilder) Reduction(r Reduction) *InverseConsistencyLossBuilder {
	r.validate()
	b.reduction = r
	return b
}

// Done evaluates the configured loss. With ReductionNone it returns the
// per-point error norm field `(N, ..., X)`.
func (b *InverseConsistencyLossBuilder) Done() *Node {
	grid := b.grid
	if grid == nil {
		switch {
		case !coords.IsLinear(b.forward):
			grid = coords.GridFromField(b.forward)
		case !coords.IsLinear(b.inverse):
			grid = coords.GridFromField(b.inverse)
		default:
			Panicf("a grid is required when both transforms are affine")
		}
	}
	g := b.forward.Graph()
	dtype := b.forward.DType()
	d := grid.Ndim()

	x := InsertAxes(grid.Coords(g, dtype), 0) // (1, ..., X, D)
	y := coords.TransformPoints(b.inverse, coords.TransformGrid(b.forward, x), grid.AlignCorners())
	err := Sub(y, x)
	batch := err.Shape().Dimensions[0]

	if b.mask != nil {
		mask := b.mask
		if mask.Rank() != d+2 || mask.Shape().Dimensions[1] != 1 {
			Panicf("mask must be shaped (N, 1, ..., X), got %s", mask.Shape())
		}
		if mb := mask.Shape().Dimensions[0]; mb != 1 && mb != batch {
			Panicf("mask batch dimension must be 1 or %d, got %s", batch, mask.Shape())
		}
		for axis := 2; axis < mask.Rank(); axis++ {
			if mask.Shape().Dimensions[axis] != err.Shape().Dimensions[axis-1] {
				Panicf("mask spatial dimensions must match the grid %v, got %s", grid.ShapeDims(), mask.Shape())
			}
		}
		mask = coords.ChannelsLast(mask) // (N, ..., X, 1)
		nonzero := ConvertDType(NotEqual(mask, ScalarZero(g, mask.DType())), dtype)
		err = Mul(err, nonzero)
	}

	// Trim the boundary margin from the error.
	margins := b.margins(grid)
	if margins != nil {
		errSpecs := fullAxes(err.Rank())
		for i, m := range margins {
			n := grid.Size()[i]
			if 2*m >= n {
				Panicf("margin %d leaves no points on an axis of size %d", m, n)
			}
			// Coordinate i lives on the grid's last-minus-i tensor axis.
			errSpecs[1+(d-1-i)] = AxisRange(m, n-m)
		}
		err = Slice(err, errSpecs...)
	}

	switch b.units {
	case UnitsVoxel:
		err = coords.DenormalizeFlow(err, grid.Size(), grid.AlignCorners())
	case UnitsWorld:
		err = coords.DenormalizeFlow(err, grid.Size(), grid.AlignCorners())
		sp := ConvertDType(Const(g, grid.Spacing()), dtype)
		err = Mul(err, ExpandLeftToRank(sp, err.Rank()))
	}

	dist := Squeeze(L2Norm(err, -1), -1) // (N, ..., X)
	if b.reduction == ReductionNone {
		return dist
	}
	// The sum reduction divides by the point count too; only the mean with a
	// mask counts the mask's nonzero entries, as given, without trimming.
	count := Scalar(g, dtype, float64(dist.Shape().Size()))
	if b.reduction == ReductionMean && b.mask != nil {
		nz := NotEqual(b.mask, ScalarZero(g, b.mask.DType()))
		count = ReduceAllSum(ConvertDType(nz, dtype))
	}
	return Div(ReduceAllSum(dist), count)
}

func (b *InverseConsistencyLossBuilder) margins(grid *coords.Grid) []int {
	if b.marginPoints == 0 && b.marginFraction == 0 {
		return nil
	}
	margins := make([]int, grid.Ndim())
	for i, n := range grid.Size() {
		if b.marginFraction > 0 {
			margins[i] = int(math.Floor(b.marginFraction * float64(n)))
		} else {
			margins[i] = b.marginPoints
		}
	}
	return margins
}

func fullAxes(rank int) []SliceAxisSpec {
	specs := make([]SliceAxisSpec, rank)
	for i := range specs {
		specs[i] = AxisRange()
	}
	return specs
}
