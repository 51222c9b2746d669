// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package pyro

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/ablewolf/pyro/distributions"
)

// Site is one recorded random-variable declaration in a Trace.
type Site struct {
	// Name of the site, unique within a trace.
	Name string

	// Dist the site was declared with. Nil for deterministic sites.
	Dist distributions.Distribution

	// Value of the site in this trace: a fresh draw, the observed node, or
	// the replayed/pinned value.
	Value *graph.Node

	// LogProb is the element-wise log-probability of Value under Dist.
	// Nil for deterministic sites.
	LogProb *graph.Node

	// Observed marks conditioning sites (declared with Observe).
	Observed bool

	// Replayed marks sites whose value was pinned from another trace.
	Replayed bool

	// Enumerate marks discrete sites flagged for exact marginalization.
	Enumerate bool

	// Deterministic marks value-recording sites with no distribution.
	Deterministic bool
}

// Latent reports whether the site is an unobserved random variable.
func (s *Site) Latent() bool {
	return !s.Observed && !s.Deterministic
}

// Trace is the ordered record of the sites declared during one execution of
// a model.
type Trace struct {
	sites  []*Site
	byName map[string]*Site
}

func newTrace() *Trace {
	return &Trace{byName: make(map[string]*Site)}
}

func (t *Trace) add(site *Site) {
	t.sites = append(t.sites, site)
	t.byName[site.Name] = site
}

// Sites returns the sites in declaration order. The returned slice is owned
// by the trace, don't modify it.
func (t *Trace) Sites() []*Site { return t.sites }

// Get returns the site with the given name, or nil.
func (t *Trace) Get(name string) *Site { return t.byName[name] }

// LogProb returns the joint log-probability of the trace as a Float64 scalar:
// the sum over all sites of the sum of their element-wise log-probabilities.
// It returns nil for a trace with no stochastic sites.
func (t *Trace) LogProb() *graph.Node {
	var total *graph.Node
	for _, site := range t.sites {
		if site.LogProb == nil {
			continue
		}
		lp := graph.ConvertDType(graph.ReduceAllSum(site.LogProb), dtypes.Float64)
		if total == nil {
			total = lp
		} else {
			total = graph.Add(total, lp)
		}
	}
	return total
}

// LatentValues returns the values of all latent sites, keyed by name. It is
// what a guide trace hands to the model replay in an ELBO computation.
func (t *Trace) LatentValues() map[string]*graph.Node {
	values := make(map[string]*graph.Node)
	for _, site := range t.sites {
		if site.Latent() {
			values[site.Name] = site.Value
		}
	}
	return values
}
