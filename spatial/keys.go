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

// Package spatial provides differentiable spatial image operations: finite
// difference derivatives of channels-first tensors, average pooling, and
// one-hot label encoding.
//
// Tensors follow the layout documented in package coords: channels-first
// `(N, C, ..., X)`, spatial axes slowest-varying first, so the spatial axis of
// the x coordinate is the last tensor axis.
package spatial

import (
	"sort"
	"strings"

	. "github.com/gomlx/exceptions"
)

// Spatial axes are named by one symbol each, in coordinate order.
const axisSymbols = "xyztu"

// MaxDims is the largest number of spatial axes supported by derivative keys.
const MaxDims = len(axisSymbols)

// A derivative key names a partial derivative by the concatenation of the
// axis symbols it differentiates along, e.g. "x" for du/dx and "xy" for
// the mixed second derivative d2u/dxdy. Symbol order within a key is
// irrelevant: "xy" and "yx" name the same derivative.

// AxisSymbol returns the symbol of the i-th spatial axis (0 -> "x").
func AxisSymbol(i int) string {
	if i < 0 || i >= MaxDims {
		Panicf("spatial axis %d out of range, at most %d axes are supported", i, MaxDims)
	}
	return axisSymbols[i : i+1]
}

// SymbolAxis returns the coordinate index of an axis symbol (-1 if unknown).
func SymbolAxis(s byte) int {
	return strings.IndexByte(axisSymbols, s)
}

// NormalizeKey returns the canonical form of a derivative key, with symbols
// sorted in coordinate order. It panics on symbols outside the first ndim
// axes.
func NormalizeKey(key string, ndim int) string {
	if key == "" {
		Panicf("derivative key must not be empty")
	}
	b := []byte(key)
	for _, c := range b {
		a := SymbolAxis(c)
		if a < 0 || a >= ndim {
			Panicf("invalid derivative key %q for %d spatial axes", key, ndim)
		}
	}
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return string(b)
}

// KeyOrder returns the order of the derivative named by a key.
func KeyOrder(key string) int { return len(key) }

// IsMixed reports whether a key names a mixed derivative, i.e. one taken
// along at least two distinct axes.
func IsMixed(key string) bool {
	for i := 1; i < len(key); i++ {
		if key[i] != key[0] {
			return true
		}
	}
	return false
}

// DerivativeKeys returns all unique derivative keys of the given order for
// ndim spatial axes, in lexicographic order. Keys that differ only in symbol
// order are listed once.
func DerivativeKeys(ndim, order int) []string {
	if ndim < 1 || ndim > MaxDims {
		Panicf("number of spatial axes must be in [1, %d], got %d", MaxDims, ndim)
	}
	if order < 1 {
		Panicf("derivative order must be positive, got %d", order)
	}
	var keys []string
	var build func(prefix string, minAxis int)
	build = func(prefix string, minAxis int) {
		if len(prefix) == order {
			keys = append(keys, prefix)
			return
		}
		for a := minAxis; a < ndim; a++ {
			build(prefix+AxisSymbol(a), a)
		}
	}
	build("", 0)
	return keys
}

// UnmixedKeys returns the keys of the pure derivatives of the given order,
// one per axis ("xx", "yy", ... for order 2).
func UnmixedKeys(ndim, order int) []string {
	keys := make([]string, ndim)
	for a := 0; a < ndim; a++ {
		keys[a] = strings.Repeat(AxisSymbol(a), order)
	}
	return keys
}
