// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Normal distribution parameterized by location and scale (standard deviation).
type Normal struct {
	Loc, Scale *Node
}

// NewNormal returns a Normal distribution. Loc and scale must be float nodes
// of the same shape on the same graph. Scale must be positive -- this is not
// checked at graph-build time.
func NewNormal(loc, scale *Node) *Normal {
	validateFloatParams("Normal", loc, scale)
	return &Normal{Loc: loc, Scale: scale}
}

func (d *Normal) Name() string        { return "Normal" }
func (d *Normal) Shape() shapes.Shape { return d.Loc.Shape() }
func (d *Normal) DType() dtypes.DType { return d.Loc.DType() }

// Reparameterized: samples are loc+scale*z with z~N(0,1).
func (d *Normal) Reparameterized() bool { return true }

func (d *Normal) Support() Support { return Real }

func (d *Normal) Sample(rng RNG) *Node {
	z := rng.Normal(d.Loc.Shape())
	return Add(d.Loc, Mul(d.Scale, z))
}

func (d *Normal) LogProb(value *Node) *Node {
	checkValueShape("Normal", value, d.Shape())
	z := Div(Sub(value, d.Loc), d.Scale)
	return Sub(
		MulScalar(Square(z), -0.5),
		AddScalar(Log(d.Scale), 0.5*log2Pi))
}

func (d *Normal) Mean() *Node   { return d.Loc }
func (d *Normal) StdDev() *Node { return d.Scale }

// LogNormal distribution: Exp of a Normal(loc, scale) draw.
type LogNormal struct {
	Loc, Scale *Node

	base *Normal
}

// NewLogNormal returns a LogNormal distribution, whose log has the given
// location and scale.
func NewLogNormal(loc, scale *Node) *LogNormal {
	validateFloatParams("LogNormal", loc, scale)
	return &LogNormal{Loc: loc, Scale: scale, base: &Normal{Loc: loc, Scale: scale}}
}

func (d *LogNormal) Name() string          { return "LogNormal" }
func (d *LogNormal) Shape() shapes.Shape   { return d.Loc.Shape() }
func (d *LogNormal) DType() dtypes.DType   { return d.Loc.DType() }
func (d *LogNormal) Reparameterized() bool { return true }
func (d *LogNormal) Support() Support      { return Positive }

func (d *LogNormal) Sample(rng RNG) *Node {
	return Exp(d.base.Sample(rng))
}

func (d *LogNormal) LogProb(value *Node) *Node {
	checkValueShape("LogNormal", value, d.Shape())
	logValue := Log(value)
	// Change of variables: p(y) = p_base(log y) / y.
	return Sub(d.base.LogProb(logValue), logValue)
}

func (d *LogNormal) Mean() *Node {
	return Exp(Add(d.Loc, MulScalar(Square(d.Scale), 0.5)))
}

// HalfNormal distribution: the absolute value of a Normal(0, scale) draw.
type HalfNormal struct {
	Scale *Node
}

// NewHalfNormal returns a HalfNormal distribution with the given scale.
func NewHalfNormal(scale *Node) *HalfNormal {
	validateFloatParams("HalfNormal", scale)
	return &HalfNormal{Scale: scale}
}

func (d *HalfNormal) Name() string          { return "HalfNormal" }
func (d *HalfNormal) Shape() shapes.Shape   { return d.Scale.Shape() }
func (d *HalfNormal) DType() dtypes.DType   { return d.Scale.DType() }
func (d *HalfNormal) Reparameterized() bool { return true }
func (d *HalfNormal) Support() Support      { return Positive }

func (d *HalfNormal) Sample(rng RNG) *Node {
	z := rng.Normal(d.Scale.Shape())
	return Mul(d.Scale, Abs(z))
}

func (d *HalfNormal) LogProb(value *Node) *Node {
	checkValueShape("HalfNormal", value, d.Shape())
	z := Div(value, d.Scale)
	// log 2 + Normal(0, scale).LogProb(value), valid for value >= 0.
	return Sub(
		AddScalar(MulScalar(Square(z), -0.5), math.Log(2)-0.5*log2Pi),
		Log(d.Scale))
}

func (d *HalfNormal) Mean() *Node {
	return MulScalar(d.Scale, math.Sqrt(2/math.Pi))
}

var (
	_ Distribution = (*Normal)(nil)
	_ Distribution = (*LogNormal)(nil)
	_ Distribution = (*HalfNormal)(nil)
)
