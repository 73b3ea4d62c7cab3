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
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
)

// Mode selects the finite difference scheme used to estimate derivatives.
type Mode int

const (
	// ModeCentral uses central differences, (u[i+1]-u[i-1])/2.
	ModeCentral Mode = iota
	// ModeForward uses forward differences, u[i+1]-u[i].
	ModeForward
	// ModeBackward uses backward differences, u[i]-u[i-1].
	ModeBackward
	// ModeSobel combines a central difference along the derivative axis with
	// [1 2 1]/4 smoothing along all other spatial axes.
	ModeSobel
	// ModePrewitt combines a central difference along the derivative axis with
	// uniform [1 1 1]/3 smoothing along all other spatial axes.
	ModePrewitt
)

// String returns the lower-case name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCentral:
		return "central"
	case ModeForward:
		return "forward"
	case ModeBackward:
		return "backward"
	case ModeSobel:
		return "sobel"
	case ModePrewitt:
		return "prewitt"
	}
	return "invalid"
}

// ParseMode converts a mode name to its Mode value.
func ParseMode(name string) (Mode, error) {
	for m := ModeCentral; m <= ModePrewitt; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown finite difference mode %q", name)
}

// Derivative is one named partial derivative of a field, with the same shape
// as the field it was taken from.
type Derivative struct {
	Key   string
	Value *Node
}

// DerivativesBuilder configures the evaluation of spatial derivatives.
// Created with Derivatives.
type DerivativesBuilder struct {
	u       *Node
	ndim    int
	mode    Mode
	order   int
	which   []string
	sigma   float64
	spacing []float64
}

// Derivatives evaluates finite difference derivatives of a channels-first
// field `(N, C, ..., X)` at every point, using replicate padding at the
// spatial boundary. It returns a builder; configure it and call Done.
//
// By default it computes all first-order derivatives with central differences
// and unit spacing. Example:
//
//	derivs := Derivatives(u).Mode(ModeSobel).Order(2).Done()
func Derivatives(u *Node) *DerivativesBuilder {
	if u.Rank() < 3 {
		Panicf("Derivatives requires a channels-first field of shape (N, C, ..., X), got %s", u.Shape())
	}
	ndim := u.Rank() - 2
	if ndim > MaxDims {
		Panicf("Derivatives supports at most %d spatial axes, got %d", MaxDims, ndim)
	}
	return &DerivativesBuilder{u: u, ndim: ndim, mode: ModeCentral, order: 1}
}

// Mode sets the finite difference scheme. Default is ModeCentral.
func (b *DerivativesBuilder) Mode(m Mode) *DerivativesBuilder {
	if m < ModeCentral || m > ModePrewitt {
		Panicf("invalid finite difference mode %d", m)
	}
	b.mode = m
	return b
}

// Order requests all unique derivatives of the given order. It is ignored if
// Which is also set. Default is 1.
func (b *DerivativesBuilder) Order(order int) *DerivativesBuilder {
	if order < 1 {
		Panicf("derivative order must be positive, got %d", order)
	}
	b.order = order
	return b
}

// Which requests specific derivatives by key (see package documentation for
// the key syntax). Keys are normalized, and duplicates after normalization
// are dropped.
func (b *DerivativesBuilder) Which(keys ...string) *DerivativesBuilder {
	b.which = keys
	return b
}

// Sigma smooths the field with an isotropic Gaussian of the given standard
// deviation (in grid units) before differentiating. Zero disables smoothing.
func (b *DerivativesBuilder) Sigma(sigma float64) *DerivativesBuilder {
	if sigma < 0 {
		Panicf("sigma must be non-negative, got %g", sigma)
	}
	b.sigma = sigma
	return b
}

// Spacing sets the physical distance between neighboring grid points per
// axis, in (x, y, z, ...) order. Each differentiation divides by the spacing
// of its axis. Default is 1 for every axis.
func (b *DerivativesBuilder) Spacing(spacing ...float64) *DerivativesBuilder {
	if len(spacing) != b.ndim {
		Panicf("Spacing requires %d values, got %d", b.ndim, len(spacing))
	}
	for _, s := range spacing {
		if s <= 0 {
			Panicf("Spacing values must be positive, got %v", spacing)
		}
	}
	b.spacing = spacing
	return b
}

// Done evaluates the configured derivatives, returned in deterministic order
// with canonical keys.
func (b *DerivativesBuilder) Done() []Derivative {
	var keys []string
	if b.which != nil {
		seen := make(map[string]bool)
		for _, k := range b.which {
			k = NormalizeKey(k, b.ndim)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	} else {
		keys = DerivativeKeys(b.ndim, b.order)
	}
	base := b.u
	if b.sigma > 0 {
		base = GaussianSmooth(base, b.sigma)
	}
	// Canonical keys share prefixes, so memoize intermediate derivatives.
	cache := map[string]*Node{"": base}
	out := make([]Derivative, 0, len(keys))
	for _, key := range keys {
		node := base
		for i := 1; i <= len(key); i++ {
			prefix := key[:i]
			if cached, ok := cache[prefix]; ok {
				node = cached
				continue
			}
			node = b.derive1(node, SymbolAxis(key[i-1]))
			cache[prefix] = node
		}
		out = append(out, Derivative{Key: key, Value: node})
	}
	return out
}

// derive1 differentiates once along the given coordinate axis.
func (b *DerivativesBuilder) derive1(x *Node, coordAxis int) *Node {
	var kernel []float64
	switch b.mode {
	case ModeForward:
		kernel = []float64{0, -1, 1}
	case ModeBackward:
		kernel = []float64{-1, 1, 0}
	default:
		kernel = []float64{-0.5, 0, 0.5}
	}
	tensorAxis := x.Rank() - 1 - coordAxis
	out := conv1dEdge(x, tensorAxis, kernel)
	if b.mode == ModeSobel || b.mode == ModePrewitt {
		smooth := []float64{0.25, 0.5, 0.25}
		if b.mode == ModePrewitt {
			smooth = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
		}
		for other := 0; other < b.ndim; other++ {
			if other == coordAxis {
				continue
			}
			out = conv1dEdge(out, x.Rank()-1-other, smooth)
		}
	}
	if b.spacing != nil && b.spacing[coordAxis] != 1 {
		out = MulScalar(out, 1/b.spacing[coordAxis])
	}
	return out
}

// GaussianSmooth convolves a channels-first field with a separable Gaussian
// kernel of standard deviation sigma (truncated at three sigma), using
// replicate padding at the boundary.
func GaussianSmooth(x *Node, sigma float64) *Node {
	if x.Rank() < 3 {
		Panicf("GaussianSmooth requires a channels-first field of shape (N, C, ..., X), got %s", x.Shape())
	}
	if sigma <= 0 {
		Panicf("sigma must be positive, got %g", sigma)
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for k := -radius; k <= radius; k++ {
		w := math.Exp(-float64(k*k) / (2 * sigma * sigma))
		kernel[k+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	for axis := 2; axis < x.Rank(); axis++ {
		x = conv1dEdge(x, axis, kernel)
	}
	return x
}

// conv1dEdge correlates x with an odd-sized kernel along one tensor axis,
// replicating the edge values as padding so the output keeps the input shape.
func conv1dEdge(x *Node, axis int, kernel []float64) *Node {
	if len(kernel)%2 == 0 {
		Panicf("kernel size must be odd, got %d", len(kernel))
	}
	radius := len(kernel) / 2
	n := x.Shape().Dimensions[axis]
	padded := padEdge(x, axis, radius)
	var acc *Node
	for k, w := range kernel {
		if w == 0 {
			continue
		}
		specs := fullSlice(x.Rank())
		specs[axis] = AxisRange(k, k+n)
		term := MulScalar(Slice(padded, specs...), w)
		if acc == nil {
			acc = term
		} else {
			acc = Add(acc, term)
		}
	}
	if acc == nil {
		return ZerosLike(x)
	}
	return acc
}

// padEdge pads one tensor axis by repeating its first and last slice r times.
func padEdge(x *Node, axis, r int) *Node {
	if r == 0 {
		return x
	}
	n := x.Shape().Dimensions[axis]
	firstSpecs := fullSlice(x.Rank())
	firstSpecs[axis] = AxisElem(0)
	lastSpecs := fullSlice(x.Rank())
	lastSpecs[axis] = AxisElem(n - 1)
	first := Slice(x, firstSpecs...)
	last := Slice(x, lastSpecs...)
	parts := make([]*Node, 0, 2*r+1)
	for i := 0; i < r; i++ {
		parts = append(parts, first)
	}
	parts = append(parts, x)
	for i := 0; i < r; i++ {
		parts = append(parts, last)
	}
	return Concatenate(parts, axis)
}

func fullSlice(rank int) []SliceAxisSpec {
	specs := make([]SliceAxisSpec, rank)
	for i := range specs {
		specs[i] = AxisRange()
	}
	return specs
}
