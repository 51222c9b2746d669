// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package autoguide_test

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ablewolf/pyro"
	"github.com/ablewolf/pyro/autoguide"
	"github.com/ablewolf/pyro/distributions"
)

// mixedModel has a Real latent ("loc", shape [2]), a Positive latent
// ("scale", scalar), an enumerated discrete latent and an observed site.
func mixedModel(tr *pyro.Tracer, observations ...*Node) {
	g := tr.Graph()
	loc := tr.Sample("loc", distributions.NewNormal(
		Zeros(g, shapes.Make(dtypes.Float64, 2)),
		Ones(g, shapes.Make(dtypes.Float64, 2))))
	scale := tr.Sample("scale", distributions.NewLogNormal(
		ScalarZero(g, dtypes.Float64), ScalarOne(g, dtypes.Float64)))
	tr.Sample("z", distributions.NewBernoulli(ScalarZero(g, dtypes.Float64)),
		pyro.Enumerate())
	tr.Observe("x", distributions.NewNormal(
		Mul(OnesLike(observations[0]), ReduceAllSum(loc)),
		Mul(OnesLike(observations[0]), scale)), observations[0])
}

func runGuide(t *testing.T, ctx *context.Context, guide pyro.ModelFn) map[string]float64 {
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, obs []*Node) []*Node {
		tr := pyro.NewTracer(ctx, obs[0].Graph())
		guide(tr, obs...)

		sites := tr.Trace().Sites()
		require.Len(t, sites, 2, "guide must cover the non-enumerated latents only")
		assert.Equal(t, "loc", sites[0].Name)
		assert.Equal(t, "scale", sites[1].Name)
		assert.Equal(t, []int{2}, sites[0].Value.Shape().Dimensions)
		assert.True(t, sites[1].Value.Shape().IsScalar())

		return []*Node{sites[1].Value}
	})
	defer exec.Finalize()
	scaleDraw := exec.Call([]float64{1, 2, 3})[0].Value().(float64)
	return map[string]float64{"scale": scaleDraw}
}

func TestNormalGuide(t *testing.T) {
	ctx := context.New()
	pyro.Seed(ctx, 42)
	guide := autoguide.Normal(mixedModel)

	values := runGuide(t, ctx, guide)
	// The Positive latent gets a LogNormal posterior: draws stay positive.
	assert.Greater(t, values["scale"], 0.0)

	require.NotNil(t, autoguide.SiteVariable(ctx, "loc", "loc"))
	require.NotNil(t, autoguide.SiteVariable(ctx, "loc", "rawScale"))
	require.NotNil(t, autoguide.SiteVariable(ctx, "scale", "loc"))
	assert.Nil(t, autoguide.SiteVariable(ctx, "z", "loc"),
		"enumerated sites take no variational parameters")
	assert.Nil(t, autoguide.SiteVariable(ctx, "x", "loc"),
		"observed sites take no variational parameters")

	locVar := autoguide.SiteVariable(ctx, "loc", "loc")
	assert.Equal(t, []int{2}, locVar.Shape().Dimensions)
	assert.True(t, locVar.Trainable)
}

func TestDeltaGuide(t *testing.T) {
	ctx := context.New()
	pyro.Seed(ctx, 42)
	guide := autoguide.Delta(mixedModel)

	values := runGuide(t, ctx, guide)
	assert.Greater(t, values["scale"], 0.0)

	require.NotNil(t, autoguide.SiteVariable(ctx, "loc", "point"))
	require.NotNil(t, autoguide.SiteVariable(ctx, "scale", "point"))
	assert.Nil(t, autoguide.SiteVariable(ctx, "z", "point"))
}

func TestWithInitScale(t *testing.T) {
	ctx := context.New()
	pyro.Seed(ctx, 42)
	guide := autoguide.Normal(mixedModel, autoguide.WithInitScale(1e-3))
	runGuide(t, ctx, guide)

	// rawScale starts at zero, so the guide's scale starts at initScale.
	rawScale := autoguide.SiteVariable(ctx, "scale", "rawScale").Value().Value().(float64)
	assert.Zero(t, rawScale)
}
