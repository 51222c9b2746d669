// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

// Package infer drives stochastic variational inference (SVI) over pyro
// models, with the step function either rebuilt every call ("eager") or
// JIT-compiled once and cached per combination of observation shapes.
package infer

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/ablewolf/pyro"
	"github.com/ablewolf/pyro/distributions"
)

// ELBO configures the evidence-lower-bound estimator used as the (negated)
// SVI loss.
//
// The estimator is the standard Trace ELBO: sample the guide, replay the
// model under the guide's latents, and take log p - log q. Guide latents
// must come from reparameterized distributions (autoguides guarantee this);
// discrete model sites flagged with pyro.Enumerate() are not sampled at all
// but summed out exactly.
type ELBO struct {
	// NumParticles is the number of samples averaged per step. Zero means 1.
	NumParticles int
}

// LossGraph builds the scalar (Float64) loss node: the negated ELBO estimate
// for the model/guide pair conditioned on the given observation nodes.
func (e ELBO) LossGraph(ctx *context.Context, g *Graph, model, guide pyro.ModelFn, observations []*Node) *Node {
	particles := e.NumParticles
	if particles <= 0 {
		particles = 1
	}
	var total *Node
	for p := 0; p < particles; p++ {
		elbo := e.particleELBO(ctx, g, model, guide, observations)
		if total == nil {
			total = elbo
		} else {
			total = Add(total, elbo)
		}
	}
	return Neg(DivScalar(total, float64(particles)))
}

// particleELBO computes one single-sample ELBO estimate.
func (e ELBO) particleELBO(ctx *context.Context, g *Graph, model, guide pyro.ModelFn, observations []*Node) *Node {
	guideTracer := pyro.NewTracer(ctx, g)
	guide(guideTracer, observations...)
	guideTrace := guideTracer.Trace()
	for _, site := range guideTrace.Sites() {
		if site.Latent() && !site.Dist.Reparameterized() {
			Panicf("infer.ELBO: guide site %q uses non-reparameterized %s; "+
				"sample it in the model with pyro.Enumerate() instead",
				site.Name, site.Dist.Name())
		}
	}
	logQ := guideTrace.LogProb()

	modelTracer := pyro.NewTracer(ctx, g).WithReplay(guideTrace)
	model(modelTracer, observations...)
	enumSites := enumeratedSites(modelTracer.Trace())

	var logP *Node
	if len(enumSites) == 0 {
		logP = modelTracer.Trace().LogProb()
	} else {
		logP = e.enumeratedLogProb(ctx, g, model, guideTrace, enumSites, observations)
	}
	if logP == nil {
		Panicf("infer.ELBO: model has no stochastic sites")
	}
	if logQ == nil {
		return logP
	}
	return Sub(logP, logQ)
}

func enumeratedSites(t *pyro.Trace) []*pyro.Site {
	var sites []*pyro.Site
	for _, site := range t.Sites() {
		if site.Enumerate && !site.Replayed {
			sites = append(sites, site)
		}
	}
	return sites
}

// enumeratedLogProb marginalizes the single enumerated discrete site exactly:
// the model is replayed once per category and the per-element joint
// log-probabilities are log-sum-exp'ed over categories.
//
// Model sites whose log-prob is element-wise aligned with the enumerated site
// (same dimensions) go inside the per-element marginalization; all other
// sites must not depend on the enumerated value and are summed once. This
// covers the usual mixture-model layout, where the assignment prior and the
// per-point likelihood share the data's batch shape.
func (e ELBO) enumeratedLogProb(ctx *context.Context, g *Graph, model pyro.ModelFn,
	guideTrace *pyro.Trace, enumSites []*pyro.Site, observations []*Node) *Node {
	if len(enumSites) > 1 {
		names := make([]string, len(enumSites))
		for i, s := range enumSites {
			names[i] = s.Name
		}
		Panicf("infer.ELBO: joint enumeration of multiple sites is not supported, got %q; "+
			"enumerate one site and sample or marginalize the others by hand", names)
	}
	enumSite := enumSites[0]
	discrete, ok := enumSite.Dist.(distributions.Discrete)
	if !ok {
		Panicf("infer.ELBO: enumerated site %q has non-discrete distribution %s",
			enumSite.Name, enumSite.Dist.Name())
	}
	alignedDims := enumSite.Dist.Shape().Dimensions

	var static *Node
	perCategory := make([]*Node, discrete.NumCategories())
	for k, value := range discrete.EnumerateSupport() {
		tracer := pyro.NewTracer(ctx, g).
			WithReplay(guideTrace).
			WithPinned(map[string]*Node{enumSite.Name: value})
		model(tracer, observations...)

		var aligned, staticK *Node
		for _, site := range tracer.Trace().Sites() {
			if site.LogProb == nil {
				continue
			}
			lp := ConvertDType(site.LogProb, dtypes.Float64)
			if sameDimensions(lp, alignedDims) {
				aligned = addOrInit(aligned, lp)
			} else {
				staticK = addOrInit(staticK, ReduceAllSum(lp))
			}
		}
		if aligned == nil {
			Panicf("infer.ELBO: no model site is element-wise aligned with enumerated site %q (dimensions %v)",
				enumSite.Name, alignedDims)
		}
		perCategory[k] = aligned
		if k == 0 {
			static = staticK
		}
	}

	marginal := ReduceAllSum(logSumExp(Stack(perCategory, 0), 0))
	if static == nil {
		return marginal
	}
	return Add(static, marginal)
}

func addOrInit(total, x *Node) *Node {
	if total == nil {
		return x
	}
	return Add(total, x)
}

func sameDimensions(x *Node, dims []int) bool {
	xDims := x.Shape().Dimensions
	if len(xDims) != len(dims) {
		return false
	}
	for i, d := range dims {
		if xDims[i] != d {
			return false
		}
	}
	return true
}

// logSumExp reduces the given axis stably.
func logSumExp(x *Node, axis int) *Node {
	ceiling := StopGradient(ReduceAndKeep(x, ReduceMax, axis))
	return Add(
		Log(ReduceSum(Exp(Sub(x, ceiling)), axis)),
		StopGradient(ReduceMax(x, axis)))
}
