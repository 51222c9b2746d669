// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package pyro

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"

	"github.com/ablewolf/pyro/distributions"
)

// Tracer is handed to models and guides while a graph is being built. It
// creates the graph nodes for each sample statement and records them as
// sites in a Trace.
type Tracer struct {
	ctx   *context.Context
	g     *graph.Graph
	trace *Trace

	// replay pins site values from another trace (or from enumeration).
	replay map[string]*graph.Node
}

// NewTracer returns a Tracer recording sites on the given graph, with
// parameters (and the RNG state) stored in ctx.
func NewTracer(ctx *context.Context, g *graph.Graph) *Tracer {
	return &Tracer{
		ctx:   ctx,
		g:     g,
		trace: newTrace(),
	}
}

// WithReplay pins the latent values of the given trace: sample sites with a
// matching name return the pinned value instead of drawing a fresh one. It
// returns the tracer for chaining.
func (tr *Tracer) WithReplay(t *Trace) *Tracer {
	return tr.WithPinned(t.LatentValues())
}

// WithPinned pins individual site values by name. Later calls add to (and
// override) earlier pins.
func (tr *Tracer) WithPinned(values map[string]*graph.Node) *Tracer {
	if tr.replay == nil {
		tr.replay = make(map[string]*graph.Node, len(values))
	}
	for name, value := range values {
		tr.replay[name] = value
	}
	return tr
}

// Context returns the parameter store.
func (tr *Tracer) Context() *context.Context { return tr.ctx }

// Graph being built.
func (tr *Tracer) Graph() *graph.Graph { return tr.g }

// Trace recorded so far.
func (tr *Tracer) Trace() *Trace { return tr.trace }

type siteOptions struct {
	enumerate bool
}

// SampleOption configures one Sample call.
type SampleOption func(*siteOptions)

// Enumerate flags a discrete site for exact marginalization: the ELBO sums
// the site out over its support instead of sampling it, and autoguides skip
// it. The site's distribution must implement distributions.Discrete.
func Enumerate() SampleOption {
	return func(o *siteOptions) { o.enumerate = true }
}

// Sample declares a latent random variable and returns its value node: a
// fresh draw from dist, or the pinned value when the tracer is replaying.
func (tr *Tracer) Sample(name string, dist distributions.Distribution, opts ...SampleOption) *graph.Node {
	tr.checkNewSite(name)
	var options siteOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.enumerate {
		if _, ok := dist.(distributions.Discrete); !ok {
			Panicf("pyro.Sample(%q): Enumerate() requires a discrete distribution, got %s", name, dist.Name())
		}
	}

	value, replayed := tr.replay[name]
	if !replayed {
		value = dist.Sample(tr)
	}
	tr.trace.add(&Site{
		Name:      name,
		Dist:      dist,
		Value:     value,
		LogProb:   dist.LogProb(value),
		Replayed:  replayed,
		Enumerate: options.enumerate,
	})
	return value
}

// Observe conditions the model on an observed value for dist, recording the
// likelihood term. It returns the value node unchanged.
func (tr *Tracer) Observe(name string, dist distributions.Distribution, value *graph.Node) *graph.Node {
	tr.checkNewSite(name)
	tr.trace.add(&Site{
		Name:     name,
		Dist:     dist,
		Value:    value,
		LogProb:  dist.LogProb(value),
		Observed: true,
	})
	return value
}

// Deterministic records a named derived value in the trace, with no
// log-probability contribution. Useful to expose intermediate quantities to
// infer.Predictive.
func (tr *Tracer) Deterministic(name string, value *graph.Node) *graph.Node {
	tr.checkNewSite(name)
	tr.trace.add(&Site{
		Name:          name,
		Value:         value,
		Deterministic: true,
	})
	return value
}

var _ distributions.RNG = (*Tracer)(nil)

func (tr *Tracer) checkNewSite(name string) {
	if tr.trace.byName[name] != nil {
		Panicf("pyro: site %q declared twice in the same trace", name)
	}
}
