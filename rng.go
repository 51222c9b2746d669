// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package pyro

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
)

// RngStateVariableName is the context variable (on the root scope) holding
// the RNG state threaded through sample sites. It is separate from the state
// GoMLX uses for variable initializers, so model sampling and parameter
// initialization don't interleave.
const RngStateVariableName = "#pyroRngState"

func rngStateVar(ctx *context.Context) *context.Variable {
	v := ctx.InspectVariable(context.RootScope, RngStateVariableName)
	if v == nil {
		v = ctx.InAbsPath(context.RootScope).Checked(false).
			VariableWithValue(RngStateVariableName, graph.RngState()).
			SetTrainable(false)
	}
	return v
}

// Seed resets the sampling RNG state to a value derived from seed, making
// subsequent runs reproducible. New contexts start from a clock-based state.
func Seed(ctx *context.Context, seed int64) {
	rngStateVar(ctx).SetValue(graph.RngStateFromSeed(seed))
}

// Normal returns one draw of standard normal values with the given shape,
// advancing the RNG state variable. Implements distributions.RNG.
func (tr *Tracer) Normal(shape shapes.Shape) *graph.Node {
	v := rngStateVar(tr.ctx)
	state, values := graph.RandomNormal(v.ValueGraph(tr.g), shape)
	v.SetValueGraph(state)
	return values
}

// Uniform returns one draw of uniform [0, 1) values with the given shape,
// advancing the RNG state variable. Implements distributions.RNG.
func (tr *Tracer) Uniform(shape shapes.Shape) *graph.Node {
	v := rngStateVar(tr.ctx)
	state, values := graph.RandomUniform(v.ValueGraph(tr.g), shape)
	v.SetValueGraph(state)
	return values
}
