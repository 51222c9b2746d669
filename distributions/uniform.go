// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Uniform distribution over the half-open interval [low, high).
type Uniform struct {
	Low, High *Node
}

// NewUniform returns a Uniform distribution on [low, high). Low must be
// element-wise smaller than high -- this is not checked at graph-build time.
func NewUniform(low, high *Node) *Uniform {
	validateFloatParams("Uniform", low, high)
	return &Uniform{Low: low, High: high}
}

func (d *Uniform) Name() string          { return "Uniform" }
func (d *Uniform) Shape() shapes.Shape   { return d.Low.Shape() }
func (d *Uniform) DType() dtypes.DType   { return d.Low.DType() }
func (d *Uniform) Reparameterized() bool { return true }

// Support is reported as Real: interval bijections are not implemented, so a
// Uniform site is typically observed, not latent. See autoguide for details.
func (d *Uniform) Support() Support { return Real }

func (d *Uniform) Sample(rng RNG) *Node {
	u := rng.Uniform(d.Low.Shape())
	return Add(d.Low, Mul(Sub(d.High, d.Low), u))
}

// LogProb returns -log(high-low) for every element. Values outside the
// support are not masked.
func (d *Uniform) LogProb(value *Node) *Node {
	checkValueShape("Uniform", value, d.Shape())
	return Add(ZerosLike(value), Neg(Log(Sub(d.High, d.Low))))
}

func (d *Uniform) Mean() *Node {
	return MulScalar(Add(d.Low, d.High), 0.5)
}

// Exponential distribution with the given rate (inverse mean).
type Exponential struct {
	Rate *Node
}

// NewExponential returns an Exponential distribution with the given rate.
func NewExponential(rate *Node) *Exponential {
	validateFloatParams("Exponential", rate)
	return &Exponential{Rate: rate}
}

func (d *Exponential) Name() string          { return "Exponential" }
func (d *Exponential) Shape() shapes.Shape   { return d.Rate.Shape() }
func (d *Exponential) DType() dtypes.DType   { return d.Rate.DType() }
func (d *Exponential) Reparameterized() bool { return true }
func (d *Exponential) Support() Support      { return Positive }

func (d *Exponential) Sample(rng RNG) *Node {
	u := rng.Uniform(d.Rate.Shape())
	// -log(1-u)/rate, with 1-u in (0, 1] so the log is finite.
	return Neg(Div(Log1P(Neg(u)), d.Rate))
}

func (d *Exponential) LogProb(value *Node) *Node {
	checkValueShape("Exponential", value, d.Shape())
	return Sub(Log(d.Rate), Mul(d.Rate, value))
}

func (d *Exponential) Mean() *Node { return Inverse(d.Rate) }

// Delta distribution: a point mass at the given value. Used by MAP-style
// guides, where the "sample" is the point itself and the log-probability
// contribution is zero.
type Delta struct {
	Point *Node
}

// NewDelta returns a point-mass distribution at point.
func NewDelta(point *Node) *Delta {
	validateFloatParams("Delta", point)
	return &Delta{Point: point}
}

func (d *Delta) Name() string          { return "Delta" }
func (d *Delta) Shape() shapes.Shape   { return d.Point.Shape() }
func (d *Delta) DType() dtypes.DType   { return d.Point.DType() }
func (d *Delta) Reparameterized() bool { return true }
func (d *Delta) Support() Support      { return Real }

func (d *Delta) Sample(_ RNG) *Node { return d.Point }

func (d *Delta) LogProb(value *Node) *Node {
	checkValueShape("Delta", value, d.Shape())
	return ZerosLike(value)
}

func (d *Delta) Mean() *Node { return d.Point }

var (
	_ Distribution = (*Uniform)(nil)
	_ Distribution = (*Exponential)(nil)
	_ Distribution = (*Delta)(nil)
)
