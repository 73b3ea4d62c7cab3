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

package spatial

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivativeKeys(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, DerivativeKeys(2, 1))
	assert.Equal(t, []string{"xx", "xy", "yy"}, DerivativeKeys(2, 2))
	assert.Equal(t, []string{"xx", "xy", "xz", "yy", "yz", "zz"}, DerivativeKeys(3, 2))
	assert.Equal(t, []string{"xx", "yy", "zz"}, UnmixedKeys(3, 2))

	assert.Equal(t, "xy", NormalizeKey("yx", 2))
	assert.Equal(t, "xxy", NormalizeKey("xyx", 3))
	assert.True(t, IsMixed("xy"))
	assert.False(t, IsMixed("xx"))
	assert.Equal(t, 2, KeyOrder("xy"))

	assert.Panics(t, func() { NormalizeKey("z", 2) })
	assert.Panics(t, func() { NormalizeKey("", 2) })
}

func TestParseMode(t *testing.T) {
	for m := ModeCentral; m <= ModePrewitt; m++ {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("bogus")
	require.Error(t, err)
}

func TestDerivativesFirstOrder(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ramp := [][][]float32{{{0, 2, 4, 6}}} // (N=1, C=1, X=4)

	derive := func(mode Mode, spacing float64) []float32 {
		exec := NewExec(backend, func(u *Node) *Node {
			b := Derivatives(u).Mode(mode)
			if spacing != 1 {
				b = b.Spacing(spacing)
			}
			derivs := b.Done()
			require.Len(t, derivs, 1)
			require.Equal(t, "x", derivs[0].Key)
			return Reshape(derivs[0].Value, 4)
		})
		return exec.Call(ramp)[0].Value().([]float32)
	}

	// Replicate padding halves the central difference at the edges.
	require.InDeltaSlice(t, []float32{1, 2, 2, 1}, derive(ModeCentral, 1), 1e-6)
	require.InDeltaSlice(t, []float32{2, 2, 2, 0}, derive(ModeForward, 1), 1e-6)
	require.InDeltaSlice(t, []float32{0, 2, 2, 2}, derive(ModeBackward, 1), 1e-6)
	require.InDeltaSlice(t, []float32{0.5, 1, 1, 0.5}, derive(ModeCentral, 2), 1e-6)
}

func TestDerivativesSobel(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(u *Node) *Node {
		derivs := Derivatives(u).Mode(ModeSobel).Which("x").Done()
		return Reshape(derivs[0].Value, 6)
	})
	// A ramp in x, constant in y: cross-axis smoothing must not change it.
	u := [][][][]float32{{{
		{0, 1, 2},
		{0, 1, 2},
	}}}
	got := exec.Call(u)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{0.5, 1, 0.5, 0.5, 1, 0.5}, got, 1e-6)
}

func TestDerivativesWhich(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(u *Node) *Node {
		// "yx" and "xy" normalize to the same key and are computed once.
		derivs := Derivatives(u).Which("yx", "xy").Done()
		require.Len(t, derivs, 1)
		require.Equal(t, "xy", derivs[0].Key)
		return derivs[0].Value
	})
	u := [][][][]float32{{{
		{0, 0, 0},
		{1, 1, 1},
		{2, 2, 2},
	}}}
	// u varies only along y, so the mixed derivative vanishes.
	got := exec.Call(u)[0]
	require.Equal(t, []int{1, 1, 3, 3}, got.Shape().Dimensions)
	for _, row := range got.Value().([][][][]float32)[0][0] {
		require.InDeltaSlice(t, []float32{0, 0, 0}, row, 1e-6)
	}
}

func TestGaussianSmooth(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(u *Node) *Node {
		return Reshape(GaussianSmooth(u, 0.8), 5)
	})
	// Constant fields are fixed points of smoothing with replicate padding.
	u := [][][]float32{{{3, 3, 3, 3, 3}}}
	got := exec.Call(u)[0].Value().([]float32)
	require.InDeltaSlice(t, []float32{3, 3, 3, 3, 3}, got, 1e-5)
}

func TestAvgPool(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(u *Node) *Node {
		return Reshape(AvgPool(u, 3), 4)
	})
	u := [][][]float32{{{1, 2, 3, 4}}}
	got := exec.Call(u)[0].Value().([]float32)
	// Boundary windows average the in-bounds values only.
	require.InDeltaSlice(t, []float32{1.5, 2, 3, 3.5}, got, 1e-6)
}

func TestAsOneHot(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	exec := NewExec(backend, func(labels *Node) *Node {
		return Reshape(AsOneHot(labels, 3, -1, dtypes.Float32), 12)
	})
	labels := [][][]int32{{{0, 2, 1, 2}}}
	got := exec.Call(labels)[0].Value().([]float32)
	want := []float32{
		1, 0, 0, 0, // class 0
		0, 0, 1, 0, // class 1
		0, 1, 0, 1, // class 2
	}
	require.InDeltaSlice(t, want, got, 1e-6)

	// Ignored labels become all-zero rows.
	exec = NewExec(backend, func(labels *Node) *Node {
		return Reshape(AsOneHot(labels, 2, 2, dtypes.Float32), 8)
	})
	got = exec.Call(labels)[0].Value().([]float32)
	want = []float32{
		1, 0, 0, 0,
		0, 0, 1, 0,
	}
	require.InDeltaSlice(t, want, got, 1e-6)
}
