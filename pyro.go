// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

// Package pyro is a probabilistic programming layer on top of GoMLX: models
// are ordinary Go functions that declare random variables ("sample sites")
// while a graph is being built, and inference (see the infer subpackage)
// turns those declarations into JIT-compiled stochastic variational inference
// steps.
//
// A model is a function that receives a *Tracer and any observation nodes:
//
//	func model(tr *pyro.Tracer, obs ...*graph.Node) {
//		ctx, g := tr.Context(), tr.Graph()
//		weight := tr.Sample("weight", distributions.NewNormal(
//			Zeros(g, shapes.Make(dtypes.Float64)),
//			Ones(g, shapes.Make(dtypes.Float64))))
//		...
//		tr.Observe("y", distributions.NewNormal(pred, noise), obs[0])
//	}
//
// Sample draws a latent variable and records it; Observe conditions the model
// on data. Learned parameters (for example a guide's variational parameters)
// live in the GoMLX context.Context, the parameter store, created and scoped
// the same way GoMLX layers create their variables.
//
// Random draws thread a splittable RNG state through a context variable, so a
// compiled step graph advances the state as a regular variable update and
// runs are reproducible after Seed.
package pyro

import (
	"github.com/gomlx/gomlx/graph"
)

// ModelFn is a generative model (or a guide): it declares sample sites on the
// tracer, conditioned on the given observation nodes. Models must declare
// their sites in a deterministic order with unique names.
type ModelFn func(tr *Tracer, observations ...*graph.Node)
