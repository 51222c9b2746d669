// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package distributions

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Bernoulli distribution parameterized by logits: P(1) = sigmoid(logits).
// Draws are float 0/1 values with the logits' dtype, so they can be used
// directly in arithmetic.
type Bernoulli struct {
	Logits *Node
}

// NewBernoulli returns a Bernoulli distribution with the given logits.
func NewBernoulli(logits *Node) *Bernoulli {
	validateFloatParams("Bernoulli", logits)
	return &Bernoulli{Logits: logits}
}

func (d *Bernoulli) Name() string          { return "Bernoulli" }
func (d *Bernoulli) Shape() shapes.Shape   { return d.Logits.Shape() }
func (d *Bernoulli) DType() dtypes.DType   { return d.Logits.DType() }
func (d *Bernoulli) Reparameterized() bool { return false }
func (d *Bernoulli) Support() Support      { return Binary }

func (d *Bernoulli) Sample(rng RNG) *Node {
	u := rng.Uniform(d.Logits.Shape())
	return ConvertDType(LessThan(u, Sigmoid(d.Logits)), d.Logits.DType())
}

func (d *Bernoulli) LogProb(value *Node) *Node {
	checkValueShape("Bernoulli", value, d.Shape())
	// value*log(sigmoid(l)) + (1-value)*log(sigmoid(-l)), with
	// log(sigmoid(x)) = -softplus(-x).
	return Neg(Add(
		Mul(value, Softplus(Neg(d.Logits))),
		Mul(OneMinus(value), Softplus(d.Logits))))
}

func (d *Bernoulli) Mean() *Node { return Sigmoid(d.Logits) }

func (d *Bernoulli) NumCategories() int { return 2 }

func (d *Bernoulli) EnumerateSupport() []*Node {
	g := d.Logits.Graph()
	return []*Node{
		Zeros(g, d.Shape()),
		Ones(g, d.Shape()),
	}
}

// Categorical distribution over {0..K-1}, parameterized by logits whose last
// axis has dimension K. One draw has the logits' shape minus that last axis,
// with dtype Int32.
type Categorical struct {
	Logits *Node

	shape shapes.Shape
}

// NewCategorical returns a Categorical distribution with the given logits.
// The last axis of logits indexes the categories.
func NewCategorical(logits *Node) *Categorical {
	validateFloatParams("Categorical", logits)
	if logits.Rank() < 1 {
		Panicf("distributions.Categorical: logits must have at least one axis (the categories), got %s",
			logits.Shape())
	}
	batchDims := logits.Shape().Dimensions[:logits.Rank()-1]
	return &Categorical{
		Logits: logits,
		shape:  shapes.Make(dtypes.Int32, batchDims...),
	}
}

func (d *Categorical) Name() string          { return "Categorical" }
func (d *Categorical) Shape() shapes.Shape   { return d.shape }
func (d *Categorical) DType() dtypes.DType   { return dtypes.Int32 }
func (d *Categorical) Reparameterized() bool { return false }
func (d *Categorical) Support() Support      { return Categories }

// Sample draws one category per batch element using the Gumbel-max trick.
func (d *Categorical) Sample(rng RNG) *Node {
	u := rng.Uniform(d.Logits.Shape())
	// Keep u strictly inside (0, 1) before the double log.
	u = AddScalar(MulScalar(u, 1-2e-7), 1e-7)
	gumbel := Neg(Log(Neg(Log(u))))
	return ArgMax(Add(d.Logits, gumbel), -1, dtypes.Int32)
}

func (d *Categorical) LogProb(value *Node) *Node {
	checkValueShape("Categorical", value, d.Shape())
	logProbs := LogSoftmax(d.Logits)
	oneHot := OneHot(value, d.NumCategories(), d.Logits.DType())
	return ReduceSum(Mul(logProbs, oneHot), -1)
}

// Probs returns the per-category probabilities, softmax of the logits.
func (d *Categorical) Probs() *Node { return Softmax(d.Logits) }

func (d *Categorical) NumCategories() int {
	return d.Logits.Shape().Dimensions[d.Logits.Rank()-1]
}

func (d *Categorical) EnumerateSupport() []*Node {
	g := d.Logits.Graph()
	values := make([]*Node, d.NumCategories())
	for k := range values {
		values[k] = AddScalar(Zeros(g, d.shape), float64(k))
	}
	return values
}

var (
	_ Discrete = (*Bernoulli)(nil)
	_ Discrete = (*Categorical)(nil)
)
