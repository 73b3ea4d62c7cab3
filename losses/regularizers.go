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

	"github.com/gomia/gomia/spatial"
)

// Smoothness penalties on displacement (or velocity) fields `(N, D, ..., X)`,
// where the channel count D must equal the number of spatial axes.
//
// A tensor of rank below 4 is taken to parameterize a linear transform, which
// is smooth everywhere: the loss is defined as exactly zero. ReductionNone is
// unsupported for linear transforms and panics, since there is no per-point
// field to return.

type fieldLossKind int

const (
	kindGrad fieldLossKind = iota
	kindBending
	kindCurvature
	kindDivergence
	kindElasticity
)

// FieldLossBuilder configures a smoothness penalty on a displacement field.
// Created by GradLoss, BendingLoss, CurvatureLoss, DiffusionLoss,
// DivergenceLoss, ElasticityLoss or TotalVariationLoss; call Done to
// evaluate.
type FieldLossBuilder struct {
	u    *Node
	kind fieldLossKind
	ndim int

	p         int
	q         float64
	qSet      bool
	scale     float64
	mode      spatial.Mode
	sigma     float64
	spacing   []float64
	which     []string
	reduction Reduction
}

func newFieldLoss(u *Node, kind fieldLossKind, mode spatial.Mode) *FieldLossBuilder {
	b := &FieldLossBuilder{
		u:     u,
		kind:  kind,
		mode:  mode,
		p:     2,
		scale: 1,
	}
	if u.Rank() >= 4 {
		b.ndim = u.Rank() - 2
		if u.Shape().Dimensions[1] != b.ndim {
			Panicf("vector field must have one channel per spatial axis, got %s", u.Shape())
		}
	}
	return b
}

// GradLoss penalizes first-order spatial derivatives of a field. Per point,
// the selected derivatives are combined with p-norm-like semantics: raw
// signed values for P(0), absolute values for P(1), and |du|^p otherwise;
// the sum over derivative keys is then raised to the outer power Q, which
// defaults to 1/p (1 for P(0)). Defaults: P(2), ModeCentral, all first-order
// derivatives.
func GradLoss(u *Node) *FieldLossBuilder {
	return newFieldLoss(u, kindGrad, spatial.ModeCentral)
}

// BendingLoss penalizes the squared second-order derivatives of a field,
// summed over all unique derivative keys with mixed partials double-counted.
// Default mode is ModeSobel.
func BendingLoss(u *Node) *FieldLossBuilder {
	return newFieldLoss(u, kindBending, spatial.ModeSobel)
}

// BELoss is BendingLoss.
func BELoss(u *Node) *FieldLossBuilder { return BendingLoss(u) }

// BendingEnergyLoss is BendingLoss.
func BendingEnergyLoss(u *Node) *FieldLossBuilder { return BendingLoss(u) }

// CurvatureLoss penalizes half the squared sum of the pure (unmixed) second
// derivatives of a field, a Laplacian-like curvature measure. Default mode is
// ModeSobel.
func CurvatureLoss(u *Node) *FieldLossBuilder {
	return newFieldLoss(u, kindCurvature, spatial.ModeSobel)
}

// DiffusionLoss is half the GradLoss with P(2) and Q(1).
func DiffusionLoss(u *Node) *FieldLossBuilder {
	b := GradLoss(u).P(2).Q(1)
	b.scale = 0.5
	return b
}

// DivergenceLoss penalizes the divergence of a field, the signed sum of
// du^i/dx^i over the spatial axes, raised to the outer power Q: absolute
// value for Q(1) (the default), |div u|^q otherwise.
func DivergenceLoss(u *Node) *FieldLossBuilder {
	b := newFieldLoss(u, kindDivergence, spatial.ModeCentral)
	return b.Q(1)
}

// ElasticityLoss penalizes the squared symmetrized strain of a field, summed
// over all axis pairs (a, b):
//
//	sum_ab (0.5*(du^a/dx^b + du^b/dx^a))^2
//
// With ReductionNone the result keeps a unit channel axis, `(N, 1, ..., X)`.
// Default mode is ModeSobel.
func ElasticityLoss(u *Node) *FieldLossBuilder {
	return newFieldLoss(u, kindElasticity, spatial.ModeSobel)
}

// TotalVariationLoss is GradLoss with P(1) and Q(1).
func TotalVariationLoss(u *Node) *FieldLossBuilder {
	return GradLoss(u).P(1).Q(1)
}

// TVLoss is TotalVariationLoss.
func TVLoss(u *Node) *FieldLossBuilder { return TotalVariationLoss(u) }

// P sets the inner exponent of GradLoss. Only valid for GradLoss.
func (b *FieldLossBuilder) P(p int) *FieldLossBuilder {
	if b.kind != kindGrad {
		Panicf("P is only supported by GradLoss")
	}
	if p < 0 {
		Panicf("P must be non-negative, got %d", p)
	}
	b.p = p
	return b
}

// Q sets the outer exponent. Q(0) takes the absolute value and Q(1) is the
// identity. Only valid for GradLoss and DivergenceLoss.
func (b *FieldLossBuilder) Q(q float64) *FieldLossBuilder {
	if b.kind != kindGrad && b.kind != kindDivergence {
		Panicf("Q is only supported by GradLoss and DivergenceLoss")
	}
	b.q = q
	b.qSet = true
	return b
}

// Mode sets the finite difference scheme.
func (b *FieldLossBuilder) Mode(m spatial.Mode) *FieldLossBuilder {
	b.mode = m
	return b
}

// Sigma smooths the field with a Gaussian of the given standard deviation
// before differentiating. Zero (the default) disables smoothing.
func (b *FieldLossBuilder) Sigma(sigma float64) *FieldLossBuilder {
	if sigma < 0 {
		Panicf("sigma must be non-negative, got %g", sigma)
	}
	b.sigma = sigma
	return b
}

// Spacing sets the physical distance between grid points per axis, in
// (x, y, z, ...) order. Default is 1 per axis.
func (b *FieldLossBuilder) Spacing(spacing ...float64) *FieldLossBuilder {
	b.spacing = spacing
	return b
}

// Which restricts GradLoss to specific first-order derivative keys. Only
// valid for GradLoss.
func (b *FieldLossBuilder) Which(keys ...string) *FieldLossBuilder {
	if b.kind != kindGrad {
		Panicf("Which is only supported by GradLoss")
	}
	b.which = keys
	return b
}

// Reduction sets the aggregation mode. Default is ReductionMean.
func (b *FieldLossBuilder) Reduction(r Reduction) *FieldLossBuilder {
	r.validate()
	b.reduction = r
	return b
}

// Done evaluates the configured loss.
func (b *FieldLossBuilder) Done() *Node {
	if b.u.Rank() < 4 {
		if b.reduction == ReductionNone {
			Panicf("reduction \"none\" is not supported for linear transforms, got %s", b.u.Shape())
		}
		return ScalarZero(b.u.Graph(), b.u.DType())
	}
	var loss *Node
	switch b.kind {
	case kindGrad:
		loss = b.gradLoss()
	case kindBending:
		loss = b.bendingLoss()
	case kindCurvature:
		loss = b.curvatureLoss()
	case kindDivergence:
		loss = b.divergenceLoss()
	case kindElasticity:
		loss = b.elasticityLoss()
	}
	if b.kind == kindElasticity && b.reduction == ReductionNone {
		return loss // keeps its unit channel axis
	}
	loss = ReduceLoss(loss, b.reduction, nil)
	if b.scale != 1 {
		loss = MulScalar(loss, b.scale)
	}
	return loss
}

func (b *FieldLossBuilder) derivatives(keys []string) []spatial.Derivative {
	db := spatial.Derivatives(b.u).Mode(b.mode).Which(keys...)
	if b.sigma > 0 {
		db = db.Sigma(b.sigma)
	}
	if b.spacing != nil {
		db = db.Spacing(b.spacing...)
	}
	return db.Done()
}

func (b *FieldLossBuilder) gradLoss() *Node {
	keys := b.which
	if keys == nil {
		keys = spatial.DerivativeKeys(b.ndim, 1)
	}
	derivs := b.derivatives(keys)
	var sum *Node
	for _, d := range derivs {
		v := d.Value
		switch {
		case b.p == 0:
			// Raw signed sum.
		case b.p == 1:
			v = Abs(v)
		case b.p%2 == 0:
			v = PowScalar(v, float64(b.p))
		default:
			v = PowScalar(Abs(v), float64(b.p))
		}
		if sum == nil {
			sum = v
		} else {
			sum = Add(sum, v)
		}
	}
	q := b.q
	if !b.qSet {
		// With P(0) the raw signed sum is kept as is.
		q = 1
		if b.p > 0 {
			q = 1 / float64(b.p)
		}
	}
	return applyOuterPower(sum, q)
}

func applyOuterPower(x *Node, q float64) *Node {
	switch q {
	case 0:
		return Abs(x)
	case 1:
		return x
	default:
		return PowScalar(x, q)
	}
}

func (b *FieldLossBuilder) bendingLoss() *Node {
	derivs := b.derivatives(spatial.DerivativeKeys(b.ndim, 2))
	var sum *Node
	for _, d := range derivs {
		v := d.Value
		if spatial.IsMixed(d.Key) {
			// Off-diagonal Hessian terms appear twice.
			v = MulScalar(v, 2)
		}
		v = Square(v)
		if sum == nil {
			sum = v
		} else {
			sum = Add(sum, v)
		}
	}
	return sum
}

func (b *FieldLossBuilder) curvatureLoss() *Node {
	derivs := b.derivatives(spatial.UnmixedKeys(b.ndim, 2))
	var sum *Node
	for _, d := range derivs {
		if sum == nil {
			sum = d.Value
		} else {
			sum = Add(sum, d.Value)
		}
	}
	return MulScalar(Square(sum), 0.5)
}

func (b *FieldLossBuilder) divergenceLoss() *Node {
	derivs := b.derivatives(spatial.DerivativeKeys(b.ndim, 1))
	var div *Node
	for i, d := range derivs {
		// Component i differentiated along axis i.
		term := channelSlice(d.Value, i, i+1)
		if div == nil {
			div = term
		} else {
			div = Add(div, term)
		}
	}
	q := b.q
	if !b.qSet {
		q = 1
	}
	if q == 1 {
		return Abs(div)
	}
	return PowScalar(div, q)
}

func (b *FieldLossBuilder) elasticityLoss() *Node {
	derivs := b.derivatives(spatial.DerivativeKeys(b.ndim, 1))
	var sum *Node
	for ca := 0; ca < b.ndim; ca++ {
		for cb := 0; cb < b.ndim; cb++ {
			// 0.5*(du^a/dx^b + du^b/dx^a), squared.
			dab := channelSlice(derivs[cb].Value, ca, ca+1)
			dba := channelSlice(derivs[ca].Value, cb, cb+1)
			strain := Square(MulScalar(Add(dab, dba), 0.5))
			if sum == nil {
				sum = strain
			} else {
				sum = Add(sum, strain)
			}
		}
	}
	return sum
}

func channelSlice(x *Node, from, to int) *Node {
	specs := make([]SliceAxisSpec, x.Rank())
	for i := range specs {
		specs[i] = AxisRange()
	}
	specs[1] = AxisRange(from, to)
	return Slice(x, specs...)
}
