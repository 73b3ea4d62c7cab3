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

package coords

import (
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// IsLinear reports whether a transform tensor encodes a homogeneous (affine)
// transform shaped `(N, D, D+1)` rather than a dense field. Any tensor with
// rank below 4 is taken to be affine.
func IsLinear(f *Node) bool { return f.Rank() < 4 }

// ChannelsLast moves the channel axis of a channels-first tensor
// `(N, C, ..., X)` to the end, returning `(N, ..., X, C)`.
func ChannelsLast(f *Node) *Node {
	rank := f.Rank()
	if rank < 3 {
		Panicf("ChannelsLast requires rank >= 3, got %s", f.Shape())
	}
	perm := make([]int, rank)
	for j := 1; j < rank-1; j++ {
		perm[j] = j + 1
	}
	perm[rank-1] = 1
	return TransposeAllDims(f, perm...)
}

// ChannelsFirst moves the trailing channel axis of a channels-last tensor
// `(N, ..., X, C)` to axis 1, returning `(N, C, ..., X)`.
func ChannelsFirst(f *Node) *Node {
	rank := f.Rank()
	if rank < 3 {
		Panicf("ChannelsFirst requires rank >= 3, got %s", f.Shape())
	}
	perm := make([]int, rank)
	perm[1] = rank - 1
	for j := 2; j < rank; j++ {
		perm[j] = j - 1
	}
	return TransposeAllDims(f, perm...)
}

// DenormalizeFlow rescales a channels-last displacement tensor `(N, ..., D)`
// from normalized cube units to voxel units, per the grid size (x, y, z, ...)
// and align-corners convention: the per-component scale is (n-1)/2 when
// corners are aligned and n/2 otherwise.
func DenormalizeFlow(flow *Node, size []int, alignCorners bool) *Node {
	d := flow.Shape().Dimensions[flow.Rank()-1]
	if d != len(size) {
		Panicf("DenormalizeFlow: flow has %d components but grid has %d axes", d, len(size))
	}
	scales := make([]float64, d)
	for i, n := range size {
		if alignCorners {
			scales[i] = float64(n-1) / 2.0
		} else {
			scales[i] = float64(n) / 2.0
		}
	}
	sc := ConvertDType(Const(flow.Graph(), scales), flow.DType())
	return Mul(flow, ExpandLeftToRank(sc, flow.Rank()))
}

// TransformGrid applies a spatial transform to the grid points x on which a
// dense field is sampled: for an affine transform it maps the points through
// the matrix, for a displacement field it adds the displacements, which are
// assumed to be sampled at exactly those points (no interpolation).
//
// f is either `(N, D, D+1)` or a channels-first field `(N, D, ..., X)`;
// x is channels-last `(N or 1, ..., D)`.
func TransformGrid(f, x *Node) *Node {
	if IsLinear(f) {
		return applyAffine(f, x)
	}
	u := ChannelsLast(f)
	if u.Rank() != x.Rank() {
		Panicf("TransformGrid: field grid %s does not match points %s", f.Shape(), x.Shape())
	}
	for j := 1; j < x.Rank(); j++ {
		if u.Shape().Dimensions[j] != x.Shape().Dimensions[j] {
			Panicf("TransformGrid: field grid %s does not match points %s", f.Shape(), x.Shape())
		}
	}
	return Add(x, u)
}

// TransformPoints applies a spatial transform to arbitrary points in the
// normalized cube: for an affine transform it maps the points through the
// matrix, for a displacement field it interpolates the field multilinearly at
// the point locations and adds the result.
//
// f is either `(N, D, D+1)` or a channels-first field `(N, D, ..., X)`;
// y is channels-last `(N or 1, ..., D)`. Batch axes of size 1 broadcast.
func TransformPoints(f, y *Node, alignCorners bool) *Node {
	if IsLinear(f) {
		return applyAffine(f, y)
	}
	u := SampleFlow(f, y, alignCorners)
	return Add(y, u)
}

// applyAffine maps channels-last points `(B, ..., D)` through homogeneous
// transforms `(N, D, D+1)`. B and N must match, or either may be 1.
func applyAffine(f, x *Node) *Node {
	if f.Rank() != 3 {
		Panicf("affine transform must be shaped (N, D, D+1), got %s", f.Shape())
	}
	n := f.Shape().Dimensions[0]
	d := f.Shape().Dimensions[1]
	if f.Shape().Dimensions[2] != d+1 {
		Panicf("affine transform must be shaped (N, D, D+1), got %s", f.Shape())
	}
	if x.Rank() < 2 || x.Shape().Dimensions[x.Rank()-1] != d {
		Panicf("points must be shaped (B, ..., %d) to match transform %s, got %s", d, f.Shape(), x.Shape())
	}
	b := x.Shape().Dimensions[0]
	outDims := slices.Clone(x.Shape().Dimensions)
	numPts := 1
	for _, v := range outDims[1 : len(outDims)-1] {
		numPts *= v
	}
	pts := Reshape(x, b, numPts, d)
	switch {
	case b == n:
		// Already aligned.
	case b == 1:
		pts = BroadcastToDims(pts, n, numPts, d)
		outDims[0] = n
	case n == 1:
		f = BroadcastToDims(f, b, d, d+1)
	default:
		Panicf("batch sizes do not match: transform %s vs points %s", f.Shape(), x.Shape())
	}
	m := Slice(f, AxisRange(), AxisRange(), AxisRange(0, d))
	t := Slice(f, AxisRange(), AxisRange(), AxisElem(d))
	out := EinsumAxes(pts, m, [][2]int{{2, 2}}, [][2]int{{0, 0}})
	out = Add(out, TransposeAllDims(t, 0, 2, 1))
	return Reshape(out, outDims...)
}

// SampleFlow interpolates a channels-first displacement field `(N, D, ..., X)`
// multilinearly at channels-last normalized points `(B, ..., D)`, returning
// displacements with the shape of the points. Points outside the cube sample
// the nearest border value.
func SampleFlow(f, y *Node, alignCorners bool) *Node {
	if f.Rank() < 4 {
		Panicf("SampleFlow requires a dense field of shape (N, D, ..., X), got %s", f.Shape())
	}
	d := f.Rank() - 2
	if f.Shape().Dimensions[1] != d {
		Panicf("displacement field must have one channel per spatial axis, got %s", f.Shape())
	}
	if y.Rank() < 2 || y.Shape().Dimensions[y.Rank()-1] != d {
		Panicf("points must be shaped (B, ..., %d) to match field %s, got %s", d, f.Shape(), y.Shape())
	}
	g := f.Graph()
	dtype := f.DType()
	spatialDims := f.Shape().Dimensions[2:]
	size := make([]int, d) // (x, y, z, ...) order
	for i, v := range spatialDims {
		size[d-1-i] = v
	}
	numPts := 1
	for _, v := range spatialDims {
		numPts *= v
	}
	n := f.Shape().Dimensions[0]
	b := y.Shape().Dimensions[0]
	nb := max(n, b)
	if n != b && n != 1 && b != 1 {
		Panicf("batch sizes do not match: field %s vs points %s", f.Shape(), y.Shape())
	}
	flat := Reshape(ChannelsLast(f), n, numPts, d)
	if n == 1 && nb > 1 {
		flat = BroadcastToDims(flat, nb, numPts, d)
	}
	outDims := slices.Clone(y.Shape().Dimensions)
	outDims[0] = nb
	numQ := 1
	for _, v := range outDims[1 : len(outDims)-1] {
		numQ *= v
	}
	q := Reshape(y, b, numQ, d)
	if b == 1 && nb > 1 {
		q = BroadcastToDims(q, nb, numQ, d)
	}

	// Map normalized coordinates to continuous voxel indices per axis:
	// v = (q+1)*(n-1)/2 with aligned corners, ((q+1)*n - 1)/2 otherwise.
	scales := make([]float64, d)
	offsets := make([]float64, d)
	maxIdx := make([]float64, d)
	strides := make([]int32, d)
	for i, ni := range size {
		if alignCorners {
			scales[i] = float64(ni-1) / 2.0
			offsets[i] = float64(ni-1) / 2.0
		} else {
			scales[i] = float64(ni) / 2.0
			offsets[i] = (float64(ni) - 1.0) / 2.0
		}
		maxIdx[i] = float64(ni - 1)
	}
	stride := int32(1)
	for i := 0; i < d; i++ { // x has the smallest stride
		strides[i] = stride
		stride *= int32(size[i])
	}
	expand := func(vals []float64) *Node {
		return ExpandLeftToRank(ConvertDType(Const(g, vals), dtype), 3)
	}
	v := Add(Mul(q, expand(scales)), expand(offsets))
	v0 := Floor(v)
	frac := Sub(v, v0)
	lo := ZerosLike(v0)
	hi := expand(maxIdx)
	strideN := ExpandLeftToRank(Const(g, strides), 3)
	batchIdx := Iota(g, shapes.Make(dtypes.Int32, nb, numQ), 0)

	// Accumulate the 2^D corner contributions of multilinear interpolation.
	var acc *Node
	for corner := 0; corner < 1<<d; corner++ {
		idx := v0
		var w *Node
		for i := 0; i < d; i++ {
			fi := Slice(frac, AxisRange(), AxisRange(), AxisElem(i))
			var wi *Node
			if corner&(1<<i) != 0 {
				wi = fi
			} else {
				wi = OneMinus(fi)
			}
			if w == nil {
				w = wi
			} else {
				w = Mul(w, wi)
			}
			if corner&(1<<i) != 0 {
				shift := make([]float64, d)
				shift[i] = 1
				idx = Add(idx, expand(shift))
			}
		}
		idx = Min(Max(idx, lo), hi)
		lin := ReduceSum(Mul(ConvertDType(idx, dtypes.Int32), strideN), -1) // (NB, Q)
		indices := Stack([]*Node{batchIdx, lin}, -1)                        // (NB, Q, 2)
		contrib := Mul(Gather(flat, indices), w)
		if acc == nil {
			acc = contrib
		} else {
			acc = Add(acc, contrib)
		}
	}
	return Reshape(acc, outDims...)
}
