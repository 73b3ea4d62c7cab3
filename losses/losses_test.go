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
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReduction(t *testing.T) {
	for r := ReductionMean; r <= ReductionNone; r++ {
		parsed, err := ParseReduction(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
	_, err := ParseReduction("median")
	require.Error(t, err)
}

func TestReduceLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	loss := [][][]float32{{{1, 2, 3, 4}}}

	reduce := func(r Reduction, mask any) []float32 {
		var exec *Exec
		if mask == nil {
			exec = NewExec(backend, func(l *Node) *Node {
				out := ReduceLoss(l, r, nil)
				if out.Rank() > 0 {
					out = Reshape(out, out.Shape().Size())
				} else {
					out = Reshape(out, 1)
				}
				return out
			})
			return exec.Call(loss)[0].Value().([]float32)
		}
		exec = NewExec(backend, func(l, m *Node) *Node {
			return Reshape(ReduceLoss(MaskedLoss(l, m), r, m), 1)
		})
		return exec.Call(loss, mask)[0].Value().([]float32)
	}

	require.InDeltaSlice(t, []float32{10}, reduce(ReductionSum, nil), 1e-6)
	require.InDeltaSlice(t, []float32{2.5}, reduce(ReductionMean, nil), 1e-6)
	require.InDeltaSlice(t, []float32{1, 2, 3, 4}, reduce(ReductionNone, nil), 1e-6)

	// Masked mean divides by the nonzero count, not the element count.
	mask := [][][]float32{{{1, 1, 0, 0}}}
	require.InDeltaSlice(t, []float32{1.5}, reduce(ReductionMean, mask), 1e-6)
	require.InDeltaSlice(t, []float32{3}, reduce(ReductionSum, mask), 1e-6)
}

func TestMaskedLossShapeChecks(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	build := func(lossDims, maskDims []int) func() {
		return func() {
			g := NewGraph(backend, "masked")
			l := Ones(g, shapes.Make(shapes.F32, lossDims...))
			m := Ones(g, shapes.Make(shapes.F32, maskDims...))
			MaskedLoss(l, m)
		}
	}
	require.NotPanics(t, build([]int{2, 1, 4}, []int{1, 1, 4}))
	require.NotPanics(t, build([]int{2, 1, 4}, []int{2, 2, 4})) // channel compared to batch
	require.Panics(t, build([]int{2, 1, 4}, []int{3, 1, 4}))
	require.Panics(t, build([]int{2, 1, 4}, []int{1, 1, 5}))
	require.Panics(t, build([]int{2, 1, 4}, []int{1, 4}))
}

func TestDiceScoreAndLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	x := [][][][]float32{{
		{{1, 0}, {0, 1}},
		{{0, 1}, {1, 0}},
	}}
	y := [][][][]float32{{
		{{0, 1}, {1, 0}},
		{{1, 0}, {0, 1}},
	}}

	score := NewExec(backend, func(a, b *Node) *Node {
		return Reshape(DiceScore(a, b, nil, DefaultEpsilon, ReductionNone), 2)
	})
	// Self-overlap is a perfect score per channel.
	got := score.Call(x, x)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{1, 1}, got, 1e-6)
	// Disjoint masks score zero.
	got = score.Call(x, y)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{0, 0}, got, 1e-6)

	loss := NewExec(backend, func(a, b *Node) *Node {
		return Reshape(DiceLoss(a, b, nil, DefaultEpsilon, ReductionMean), 1)
	})
	require.InDeltaSlice(t, []float32{0}, loss.Call(x, x)[0].Value().([]float32), 1e-6)
	require.InDeltaSlice(t, []float32{1}, loss.Call(x, y)[0].Value().([]float32), 1e-6)
}

func TestKLDLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(mean, logvar *Node) *Node {
		return Reshape(KLDLoss(mean, logvar, ReductionSum), 1)
	})
	// A standard normal has zero divergence from itself.
	zeros := [][]float32{{0, 0}}
	got := exec.Call(zeros, zeros)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{0}, got, 1e-6)

	ones := [][]float32{{1, 1}}
	got = exec.Call(ones, zeros)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{1}, got, 1e-6)
}

func TestSSDAndMSELoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	one := [][][][]float32{{{{1}}}}
	zero := [][][][]float32{{{{0}}}}

	ssd := func(r Reduction) float32 {
		exec := NewExec(backend, func(a, b *Node) *Node {
			return Reshape(SSDLoss(a, b, nil, nil, r), 1)
		})
		return exec.Call(one, zero)[0].Value().([]float32)[0]
	}
	require.InDelta(t, 1.0, ssd(ReductionSum), 1e-6)
	require.InDelta(t, 1.0, ssd(ReductionMean), 1e-6)

	normed := NewExec(backend, func(a, b *Node) *Node {
		norm := Const(a.Graph(), float32(2))
		return Reshape(SSDLoss(a, b, nil, norm, ReductionSum), 1)
	})
	require.InDelta(t, 0.5, normed.Call(one, zero)[0].Value().([]float32)[0], 1e-6)

	// Non-positive norms are silently ignored.
	ignored := NewExec(backend, func(a, b *Node) *Node {
		norm := Const(a.Graph(), float32(-3))
		return Reshape(SSDLoss(a, b, nil, norm, ReductionSum), 1)
	})
	require.InDelta(t, 1.0, ignored.Call(one, zero)[0].Value().([]float32)[0], 1e-6)

	mse := NewExec(backend, func(a, b *Node) *Node {
		return Reshape(MSELoss(a, b, nil, nil), 1)
	})
	require.InDelta(t, 1.0, mse.Call(one, zero)[0].Value().([]float32)[0], 1e-6)

	require.Panics(t, func() {
		g := NewGraph(backend, "ssd")
		a := Ones(g, shapes.Make(shapes.F32, 1, 1, 1, 1))
		norm := Ones(g, shapes.Make(shapes.F32, 2))
		SSDLoss(a, a, nil, norm, ReductionSum)
	})
}

func TestLCCLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(a, b *Node) *Node {
		return Reshape(LCCLoss(a, b, nil, 3, DefaultEpsilon, ReductionMean), 1)
	})
	// An image correlates perfectly with itself wherever it is not locally
	// constant.
	img := [][][][]float32{{{
		{1, 2, 3, 4},
		{2, 3, 4, 5},
		{3, 4, 5, 6},
	}}}
	got := exec.Call(img, img)[0].Value().([]float32)
	require.InDelta(t, 0.0, got[0], 1e-4)
}

func TestLabelSmoothing(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(labels *Node) *Node {
		return Reshape(LabelSmoothing(labels, 2, -1, 0.2), 8)
	})
	labels := [][][][]int32{{{{0, 1}, {1, 0}}}}
	got := exec.Call(labels)[0].Value().([]float32)
	want := []float32{
		0.8, 0.2, 0.2, 0.8, // class 0
		0.2, 0.8, 0.8, 0.2, // class 1
	}
	require.InDeltaSlice(t, want, got, 1e-6)

	require.Panics(t, func() {
		g := NewGraph(backend, "smoothing")
		probs := Ones(g, shapes.Make(shapes.F32, 1, 2, 2, 2))
		LabelSmoothing(probs, 2, 0, 0.1) // ignoreIndex needs integer labels
	})
}
