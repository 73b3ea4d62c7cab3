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

// Package coords models regular sampling grids and the application of spatial
// coordinate maps to points sampled on them.
//
// Conventions:
//
//   - Dense fields are channels-first tensors shaped `(N, D, ..., X)`, where the
//     spatial axes are ordered slowest-varying first -- the last tensor axis is
//     the X axis. Channel i of a field holds the i-th coordinate component, with
//     coordinates ordered (x, y, z, ...), i.e. channel 0 corresponds to the
//     *last* spatial axis.
//   - Point tensors are channels-last, shaped `(N, ..., D)`, with the same
//     (x, y, z, ...) component order in the last axis.
//   - Normalized coordinates live in the cube [-1, 1]^D. The align-corners
//     convention decides whether -1/+1 map to the centers of the boundary
//     samples (true) or to the outer sample corners (false).
//   - Tensors with rank < 4 are homogeneous (affine) transforms shaped
//     `(N, D, D+1)`, not dense fields.
package coords

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Grid describes a regular sampling domain: number of points per axis, the
// physical spacing between neighboring points, and the align-corners
// convention used to map normalized coordinates onto it.
//
// A Grid is immutable; the With* methods return modified copies.
type Grid struct {
	size         []int
	spacing      []float64
	alignCorners bool
}

// NewGrid returns a grid with the given number of points per axis, in
// (x, y, z, ...) order. Spacing defaults to 1 per axis, and the align-corners
// convention defaults to true.
func NewGrid(size ...int) *Grid {
	if len(size) == 0 {
		Panicf("NewGrid requires at least one axis")
	}
	for _, n := range size {
		if n <= 0 {
			Panicf("NewGrid axis sizes must be positive, got %v", size)
		}
	}
	g := &Grid{
		size:         make([]int, len(size)),
		spacing:      make([]float64, len(size)),
		alignCorners: true,
	}
	copy(g.size, size)
	for i := range g.spacing {
		g.spacing[i] = 1
	}
	return g
}

// GridFromShape returns a grid matching the spatial dimensions of a tensor,
// given in tensor order (slowest-varying axis first). The axis order is
// reversed so that Grid.Size reports (x, y, z, ...).
func GridFromShape(dims ...int) *Grid {
	size := make([]int, len(dims))
	for i, n := range dims {
		size[len(dims)-1-i] = n
	}
	return NewGrid(size...)
}

// GridFromField returns the grid underlying a dense field tensor shaped
// `(N, C, ..., X)`.
func GridFromField(field *Node) *Grid {
	if field.Rank() < 4 {
		Panicf("GridFromField requires a dense field of shape (N, C, ..., X), got %s", field.Shape())
	}
	return GridFromShape(field.Shape().Dimensions[2:]...)
}

// WithSpacing returns a copy of the grid with the given physical spacing per
// axis, in (x, y, z, ...) order.
func (g *Grid) WithSpacing(spacing ...float64) *Grid {
	if len(spacing) != len(g.size) {
		Panicf("WithSpacing requires %d values, got %d", len(g.size), len(spacing))
	}
	for _, s := range spacing {
		if s <= 0 {
			Panicf("WithSpacing values must be positive, got %v", spacing)
		}
	}
	n := g.clone()
	copy(n.spacing, spacing)
	return n
}

// WithAlignCorners returns a copy of the grid with the given align-corners
// convention.
func (g *Grid) WithAlignCorners(align bool) *Grid {
	n := g.clone()
	n.alignCorners = align
	return n
}

func (g *Grid) clone() *Grid {
	n := &Grid{
		size:         make([]int, len(g.size)),
		spacing:      make([]float64, len(g.spacing)),
		alignCorners: g.alignCorners,
	}
	copy(n.size, g.size)
	copy(n.spacing, g.spacing)
	return n
}

// Ndim returns the number of spatial axes.
func (g *Grid) Ndim() int { return len(g.size) }

// Size returns the number of points per axis, in (x, y, z, ...) order.
func (g *Grid) Size() []int {
	out := make([]int, len(g.size))
	copy(out, g.size)
	return out
}

// Spacing returns the physical spacing per axis, in (x, y, z, ...) order.
func (g *Grid) Spacing() []float64 {
	out := make([]float64, len(g.spacing))
	copy(out, g.spacing)
	return out
}

// AlignCorners returns the normalized-coordinates convention of the grid.
func (g *Grid) AlignCorners() bool { return g.alignCorners }

// NumPoints returns the total number of grid points.
func (g *Grid) NumPoints() int {
	n := 1
	for _, d := range g.size {
		n *= d
	}
	return n
}

// ShapeDims returns the grid extents in tensor order (slowest-varying axis
// first), i.e. the reverse of Size.
func (g *Grid) ShapeDims() []int {
	out := make([]int, len(g.size))
	for i, n := range g.size {
		out[len(g.size)-1-i] = n
	}
	return out
}

// Coords returns the normalized coordinates of all grid points as a
// channels-last tensor shaped `(..., X, D)` (spatial axes in tensor order,
// coordinate components in (x, y, z, ...) order).
func (g *Grid) Coords(gr *Graph, dtype dtypes.DType) *Node {
	ndim := g.Ndim()
	gridDims := g.ShapeDims()
	axes := make([]*Node, ndim)
	for i := 0; i < ndim; i++ {
		n := g.size[i]
		tensorAxis := ndim - 1 - i
		line := Iota(gr, shapes.Make(dtype, n), 0)
		switch {
		case n == 1:
			line = ZerosLike(line)
		case g.alignCorners:
			line = AddScalar(MulScalar(line, 2.0/float64(n-1)), -1.0)
		default:
			line = AddScalar(MulScalar(line, 2.0/float64(n)), 1.0/float64(n)-1.0)
		}
		dims := make([]int, ndim)
		for j := range dims {
			dims[j] = 1
		}
		dims[tensorAxis] = n
		axes[i] = BroadcastToDims(Reshape(line, dims...), gridDims...)
	}
	return Stack(axes, -1)
}
