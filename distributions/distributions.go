// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

// Package distributions provides probability distributions expressed as GoMLX
// computation-graph operations: sampling and log-densities are graph nodes, so
// they can be composed into larger models, differentiated through, and
// JIT-compiled along with everything else.
//
// Distributions are parameterized by graph nodes (so parameters may themselves
// be learned variables or outputs of other ops). Where a reparameterized
// ("rsample") form exists -- Normal, LogNormal, HalfNormal, Uniform,
// Exponential, Delta -- Sample is differentiable with respect to the
// distribution parameters. Discrete distributions (Bernoulli, Categorical)
// additionally implement Discrete, which enumerates their support for exact
// marginalization.
//
// Shape convention: the distribution's Shape() is the shape of one draw. For
// Categorical the parameters carry one extra trailing axis of logits that is
// consumed by sampling.
package distributions

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// RNG provides the base random draws used by Sample during graph building.
// *pyro.Tracer implements it, threading the random state through a context
// variable so that compiled step graphs keep advancing it.
type RNG interface {
	// Normal returns one draw of standard normal values with the given shape.
	Normal(shape shapes.Shape) *Node

	// Uniform returns one draw of uniform values in [0, 1) with the given shape.
	Uniform(shape shapes.Shape) *Node
}

// Support describes the domain of a distribution, used by autoguides to pick
// a bijection from an unconstrained latent space.
type Support int

const (
	// Real support: the whole real line.
	Real Support = iota

	// Positive support: (0, +inf).
	Positive

	// Binary support: the two-point set {0, 1}.
	Binary

	// Categories support: integers 0..K-1.
	Categories
)

// String implements fmt.Stringer.
func (s Support) String() string {
	switch s {
	case Real:
		return "Real"
	case Positive:
		return "Positive"
	case Binary:
		return "Binary"
	case Categories:
		return "Categories"
	}
	return "InvalidSupport"
}

// Distribution is a probability distribution over graph values.
type Distribution interface {
	// Name of the distribution, for error messages and site descriptions.
	Name() string

	// Shape of one draw from the distribution.
	Shape() shapes.Shape

	// DType of one draw.
	DType() dtypes.DType

	// Reparameterized reports whether Sample is differentiable with respect
	// to the distribution parameters (a "reparameterization trick" sampler).
	Reparameterized() bool

	// Support of the distribution.
	Support() Support

	// Sample returns one draw, using rng for the base randomness.
	Sample(rng RNG) *Node

	// LogProb returns the element-wise log-density (or log-probability-mass)
	// of value. The result has the distribution's Shape().
	LogProb(value *Node) *Node
}

// Discrete is implemented by distributions with finite support, which can be
// exactly marginalized by enumeration.
type Discrete interface {
	Distribution

	// NumCategories in the support.
	NumCategories() int

	// EnumerateSupport returns one value node per category, each with the
	// distribution's Shape(), holding that category for every element.
	EnumerateSupport() []*Node
}

const log2Pi = 1.8378770664093453

// validateFloatParams panics if the parameter nodes are not all float, on the
// same graph and with the same shape.
func validateFloatParams(distName string, params ...*Node) {
	first := params[0]
	if !first.DType().IsFloat() {
		Panicf("distributions.%s: parameters must be float, got %s", distName, first.Shape())
	}
	for _, p := range params[1:] {
		if p.Graph() != first.Graph() {
			Panicf("distributions.%s: parameters come from different graphs", distName)
		}
		if !p.Shape().Equal(first.Shape()) {
			Panicf("distributions.%s: parameters must have the same shape, got %s and %s",
				distName, first.Shape(), p.Shape())
		}
	}
}

// checkValueShape panics if value is incompatible with the distribution draws.
func checkValueShape(distName string, value *Node, shape shapes.Shape) {
	if !value.Shape().Equal(shape) {
		Panicf("distributions.%s.LogProb: value shape %s does not match distribution shape %s",
			distName, value.Shape(), shape)
	}
}

// Softplus returns log(1+exp(x)), computed stably.
func Softplus(x *Node) *Node {
	return Add(Max(x, ZerosLike(x)), Log1P(Exp(Neg(Abs(x)))))
}
