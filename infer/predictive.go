// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package infer

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"

	"github.com/ablewolf/pyro"
)

// Predictive draws posterior samples: it samples the guide and replays the
// model under those latents, repeatedly, collecting the requested sites.
// Latent sites come out distributed per the (approximate) posterior;
// observed-site distributions resampled through a pyro.Deterministic site
// give posterior-predictive draws.
//
// Discrete sites flagged for enumeration are sampled from their conditional
// prior here, they are only marginalized inside the ELBO.
//
// The sampling graph is compiled once and cached like SVI.Step.
type Predictive struct {
	backend    backends.Backend
	ctx        *context.Context
	model      pyro.ModelFn
	guide      pyro.ModelFn
	numSamples int

	// sites requested; empty means all latent and deterministic model sites.
	sites []string

	// siteOrder is resolved on the first graph build: the order in which
	// collected sites come out of the executor.
	siteOrder []string

	exec *context.Exec
}

// NewPredictive returns a Predictive sampler that draws numSamples posterior
// samples per call. If no site names are given, all latent and deterministic
// sites of the model are collected; each comes out stacked along a new
// leading axis of dimension numSamples.
func NewPredictive(backend backends.Backend, ctx *context.Context, model, guide pyro.ModelFn,
	numSamples int, sites ...string) *Predictive {
	return &Predictive{
		backend:    backend,
		ctx:        ctx,
		model:      model,
		guide:      guide,
		numSamples: numSamples,
		sites:      sites,
	}
}

// samplesGraph draws numSamples times and stacks the collected sites.
func (p *Predictive) samplesGraph(ctx *context.Context, g *graph.Graph, observations []*graph.Node) []*graph.Node {
	ctx.SetTraining(g, false)
	perSite := make(map[string][]*graph.Node)
	for s := 0; s < p.numSamples; s++ {
		guideTracer := pyro.NewTracer(ctx, g)
		p.guide(guideTracer, observations...)
		modelTracer := pyro.NewTracer(ctx, g).WithReplay(guideTracer.Trace())
		p.model(modelTracer, observations...)

		if s == 0 {
			p.siteOrder = p.resolveSites(modelTracer.Trace())
		}
		for _, name := range p.siteOrder {
			site := modelTracer.Trace().Get(name)
			if site == nil {
				exceptions.Panicf("infer.Predictive: site %q not found in model trace", name)
			}
			perSite[name] = append(perSite[name], site.Value)
		}
	}
	outputs := make([]*graph.Node, len(p.siteOrder))
	for i, name := range p.siteOrder {
		outputs[i] = graph.Stack(perSite[name], 0)
	}
	return outputs
}

func (p *Predictive) resolveSites(t *pyro.Trace) []string {
	if len(p.sites) > 0 {
		return p.sites
	}
	var names []string
	for _, site := range t.Sites() {
		if site.Latent() || site.Deterministic {
			names = append(names, site.Name)
		}
	}
	return names
}

// Sample returns the collected sites, keyed by name, each stacked along a
// new leading axis of dimension numSamples.
func (p *Predictive) Sample(observations ...any) (map[string]*tensors.Tensor, error) {
	if p.exec == nil {
		err := exceptions.TryCatch[error](func() {
			if len(observations) > 0 {
				p.exec = context.NewExec(p.backend, p.ctx,
					func(ctx *context.Context, obs []*graph.Node) []*graph.Node {
						return p.samplesGraph(ctx, obs[0].Graph(), obs)
					})
			} else {
				p.exec = context.NewExec(p.backend, p.ctx,
					func(ctx *context.Context, g *graph.Graph) []*graph.Node {
						return p.samplesGraph(ctx, g, nil)
					})
			}
		})
		if err != nil {
			return nil, errors.WithMessage(err, "Predictive.Sample: building executor")
		}
	}
	var results []*tensors.Tensor
	err := exceptions.TryCatch[error](func() { results = p.exec.Call(observations...) })
	if err != nil {
		return nil, err
	}
	samples := make(map[string]*tensors.Tensor, len(p.siteOrder))
	for i, name := range p.siteOrder {
		samples[name] = results[i]
	}
	return samples, nil
}

// Finalize frees the cached compiled program.
func (p *Predictive) Finalize() {
	if p.exec != nil {
		p.exec.Finalize()
		p.exec = nil
	}
}
