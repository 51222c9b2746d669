// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

// Package autoguide derives variational guides automatically from a model:
// Normal builds a mean-field normal posterior approximation, Delta a MAP
// point estimate.
//
// Both work by probing the model -- running it once on the same graph and
// inspecting the resulting trace -- to discover the latent sites and their
// shapes. The probe's sample nodes are left unused, so the graph compiler
// prunes them. Variational parameters are created as context variables under
// "/autoguide/<site>", the same way GoMLX layers create their weights.
//
// Sites flagged with pyro.Enumerate() are skipped: they are marginalized by
// the ELBO, not sampled by the guide.
package autoguide

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"

	"github.com/ablewolf/pyro"
	"github.com/ablewolf/pyro/distributions"
)

// Scope under which the variational parameters are created, per site:
// "/autoguide/<site>/loc" etc.
const Scope = "autoguide"

type config struct {
	initScale float64
}

// Option configures an autoguide.
type Option func(*config)

// WithInitScale sets the initial posterior scale (and the spread of the
// location initialization). Defaults to 0.1.
func WithInitScale(scale float64) Option {
	return func(cfg *config) { cfg.initScale = scale }
}

func newConfig(opts []Option) *config {
	cfg := &config{initScale: 0.1}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normal returns a mean-field normal guide for the model: each latent site
// gets an independent Normal posterior in an unconstrained space, mapped to
// the site's support (exp for Positive, so a LogNormal posterior).
func Normal(model pyro.ModelFn, opts ...Option) pyro.ModelFn {
	cfg := newConfig(opts)
	return func(tr *pyro.Tracer, observations ...*Node) {
		g := tr.Graph()
		for _, site := range latentSites(tr, model, observations) {
			loc, scale := siteParams(tr.Context(), g, site, cfg)
			switch site.Dist.Support() {
			case distributions.Real:
				tr.Sample(site.Name, distributions.NewNormal(loc, scale))
			case distributions.Positive:
				tr.Sample(site.Name, distributions.NewLogNormal(loc, scale))
			default:
				Panicf("autoguide.Normal: site %q has support %s, which has no unconstrained bijection; "+
					"enumerate it or write a custom guide", site.Name, site.Dist.Support())
			}
		}
	}
}

// Delta returns a MAP guide for the model: each latent site becomes a point
// estimate, so optimizing the ELBO maximizes the joint log-probability.
func Delta(model pyro.ModelFn, opts ...Option) pyro.ModelFn {
	cfg := newConfig(opts)
	return func(tr *pyro.Tracer, observations ...*Node) {
		g := tr.Graph()
		for _, site := range latentSites(tr, model, observations) {
			siteCtx := tr.Context().In(Scope).In(site.Name)
			point := siteCtx.
				WithInitializer(initializers.RandomNormalFn(initializers.NoSeed, cfg.initScale)).
				VariableWithShape("point", site.Dist.Shape()).
				ValueGraph(g)
			switch site.Dist.Support() {
			case distributions.Real:
				// Point used as is.
			case distributions.Positive:
				point = Exp(point)
			default:
				Panicf("autoguide.Delta: site %q has support %s, which has no unconstrained bijection; "+
					"enumerate it or write a custom guide", site.Name, site.Dist.Support())
			}
			tr.Sample(site.Name, distributions.NewDelta(point))
		}
	}
}

// latentSites probes the model and returns the sites the guide must provide.
func latentSites(tr *pyro.Tracer, model pyro.ModelFn, observations []*Node) []*pyro.Site {
	probe := pyro.NewTracer(tr.Context(), tr.Graph())
	model(probe, observations...)
	var sites []*pyro.Site
	for _, site := range probe.Trace().Sites() {
		if !site.Latent() || site.Enumerate {
			continue
		}
		if !site.Dist.Shape().DType.IsFloat() {
			Panicf("autoguide: latent site %q has non-float draws (%s); "+
				"enumerate it or write a custom guide", site.Name, site.Dist.Shape())
		}
		sites = append(sites, site)
	}
	return sites
}

// siteParams creates (or reuses) the loc/rawScale variables of a site and
// returns the loc and the positive scale nodes.
func siteParams(ctx *context.Context, g *Graph, site *pyro.Site, cfg *config) (loc, scale *Node) {
	siteCtx := ctx.In(Scope).In(site.Name)
	shape := site.Dist.Shape()
	loc = siteCtx.
		WithInitializer(initializers.RandomNormalFn(initializers.NoSeed, cfg.initScale)).
		VariableWithShape("loc", shape).
		ValueGraph(g)
	rawScale := siteCtx.
		WithInitializer(initializers.Zero).
		VariableWithShape("rawScale", shape).
		ValueGraph(g)
	// scale = initScale * exp(rawScale): positive, and starts at initScale.
	scale = MulScalar(Exp(rawScale), cfg.initScale)
	return
}

// SiteVariable returns one of a site's variational parameter variables
// ("loc", "rawScale" or "point"), or nil if it does not exist.
func SiteVariable(ctx *context.Context, siteName, varName string) *context.Variable {
	return ctx.InspectVariable(fmt.Sprintf("/%s/%s", Scope, siteName), varName)
}
