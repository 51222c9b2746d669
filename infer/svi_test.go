// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package infer_test

import (
	"math"
	"slices"
	"testing"
	"time"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/ablewolf/pyro"
	"github.com/ablewolf/pyro/autoguide"
	"github.com/ablewolf/pyro/distributions"
	"github.com/ablewolf/pyro/infer"
)

// scalarLocModel is a conjugate Normal-Normal model: mu ~ N(0, priorScale),
// x_i ~ N(mu, 1). Its posterior over mu is Gaussian and known in closed form.
const priorScale = 10.0

func scalarLocModel(tr *pyro.Tracer, observations ...*Node) {
	g := tr.Graph()
	mu := tr.Sample("mu", distributions.NewNormal(
		ScalarZero(g, dtypes.Float64),
		Scalar(g, dtypes.Float64, priorScale)))
	data := observations[0]
	tr.Observe("x", distributions.NewNormal(
		Mul(OnesLike(data), mu), OnesLike(data)), data)
}

// posteriorMean is the exact posterior mean of mu given data with unit
// observation noise.
func posteriorMean(data []float64) float64 {
	sum := 0.0
	for _, x := range data {
		sum += x
	}
	n := float64(len(data))
	v0 := priorScale * priorScale
	return sum * v0 / (n*v0 + 1)
}

func newTestContext(lr float64, seed int64) *context.Context {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, lr)
	pyro.Seed(ctx, seed)
	return ctx
}

func TestSVIDeltaGuideFindsMAP(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.1, 42)
	data := []float64{1, 2, 3, 4}

	guide := autoguide.Delta(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()

	for range 300 {
		loss, err := svi.Step(data)
		require.NoError(t, err)
		require.False(t, math.IsNaN(loss))
	}
	assert.EqualValues(t, 300, svi.GlobalStep())

	point := autoguide.SiteVariable(svi.Context(), "mu", "point").Value().Value().(float64)
	assert.InDelta(t, posteriorMean(data), point, 0.1)
}

func TestSVINormalGuideRecoversPosterior(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.05, 42)
	data := []float64{1, 2, 3, 4}

	guide := autoguide.Normal(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{NumParticles: 4})
	defer svi.Finalize()

	var lastLoss float64
	for range 1000 {
		loss, err := svi.Step(data)
		require.NoError(t, err)
		lastLoss = loss
	}
	require.False(t, math.IsNaN(lastLoss))

	loc := autoguide.SiteVariable(ctx, "mu", "loc").Value().Value().(float64)
	assert.InDelta(t, posteriorMean(data), loc, 0.25)
}

// zeroInitDeltaGuide is a hand-written MAP guide with a deterministic
// (zero) initialization, so runs are exactly repeatable.
func zeroInitDeltaGuide(tr *pyro.Tracer, observations ...*Node) {
	point := tr.Context().In("guide").
		WithInitializer(initializers.Zero).
		VariableWithShape("mu", shapes.Make(dtypes.Float64)).
		ValueGraph(tr.Graph())
	tr.Sample("mu", distributions.NewDelta(point))
}

func TestSVIStepEagerMatchesCompiled(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	data := []float64{1, 2, 3, 4}

	run := func(eager bool) float64 {
		ctx := newTestContext(0.1, 42)
		svi := infer.NewSVI(backend, ctx, scalarLocModel, zeroInitDeltaGuide,
			optimizers.Adam().Done(), infer.ELBO{})
		defer svi.Finalize()
		var loss float64
		var err error
		for range 5 {
			if eager {
				loss, err = svi.StepEager(data)
			} else {
				loss, err = svi.Step(data)
			}
			require.NoError(t, err)
		}
		return loss
	}

	// A Delta guide samples nothing, so both modes are deterministic and
	// must produce identical losses.
	assert.InDelta(t, run(false), run(true), 1e-6)
}

func TestSVIStepAcrossShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.1, 42)
	guide := autoguide.Delta(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()

	// Each new observation shape triggers a new compilation of the same
	// step program; parameters are shared across them.
	_, err := svi.Step([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = svi.Step([]float64{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.EqualValues(t, 2, svi.GlobalStep())
}

func TestLoopRunSteps(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.1, 42)
	data := []float64{1, 2, 3, 4}

	guide := autoguide.Delta(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()

	loop := infer.NewLoop(svi)
	var started, stepped, ended int
	loop.OnStart("count", 0, func(loop *infer.Loop) error { started++; return nil })
	loop.OnStep("count", 0, func(loop *infer.Loop, loss float64) error { stepped++; return nil })
	loop.OnEnd("count", 0, func(loop *infer.Loop, loss float64) error { ended++; return nil })

	losses, err := loop.RunSteps(50, data)
	require.NoError(t, err)
	require.Len(t, losses, 50)
	assert.Equal(t, 1, started)
	assert.Equal(t, 50, stepped)
	assert.Equal(t, 1, ended)
	assert.Greater(t, loop.MedianStepDuration(), time.Duration(0))

	// The loop should make progress on this convex-ish problem.
	assert.Less(t, losses[len(losses)-1], losses[0])
}

func TestLoopSharedData(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.1, 42)
	data := []float64{1, 2, 3, 4}

	guide := autoguide.Delta(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()

	loop := infer.NewLoop(svi)
	infer.AttachProgressBar(loop)
	require.Contains(t, loop.SharedData, infer.ProgressBarSharedKey)
	infer.AttachProgressBar(loop) // Second attach is a no-op.

	// Hooks publish and consume through SharedData.
	loop.OnStart("bestLoss", 0, func(loop *infer.Loop) error {
		loop.SharedData["bestLoss"] = math.Inf(1)
		return nil
	})
	loop.OnStep("bestLoss", 0, func(loop *infer.Loop, loss float64) error {
		if loss < loop.SharedData["bestLoss"].(float64) {
			loop.SharedData["bestLoss"] = loss
		}
		return nil
	})

	losses, err := loop.RunSteps(20, data)
	require.NoError(t, err)
	require.Len(t, losses, 20)
	assert.Equal(t, slices.Min(losses), loop.SharedData["bestLoss"].(float64))
}

func TestLoopEagerly(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.1, 42)
	guide := autoguide.Delta(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()

	losses, err := infer.NewLoop(svi).Eagerly().RunSteps(3, []float64{1, 2})
	require.NoError(t, err)
	require.Len(t, losses, 3)
}

func TestPredictiveSample(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.05, 42)
	data := []float64{1, 2, 3, 4}

	guide := autoguide.Normal(scalarLocModel)
	svi := infer.NewSVI(backend, ctx, scalarLocModel, guide,
		optimizers.Adam().Done(), infer.ELBO{})
	defer svi.Finalize()
	for range 500 {
		_, err := svi.Step(data)
		require.NoError(t, err)
	}

	pred := infer.NewPredictive(backend, ctx, scalarLocModel, guide, 200, "mu")
	defer pred.Finalize()
	samples, err := pred.Sample(data)
	require.NoError(t, err)
	require.Contains(t, samples, "mu")

	mus := samples["mu"].Value().([]float64)
	require.Len(t, mus, 200)
	assert.InDelta(t, posteriorMean(data), stat.Mean(mus, nil), 0.5)
}

func TestPredictiveDefaultSites(t *testing.T) {
	// With no site names, Predictive collects every latent and deterministic
	// site of the model, each stacked along a new leading axis.
	model := func(tr *pyro.Tracer, observations ...*Node) {
		g := tr.Graph()
		mu := tr.Sample("mu", distributions.NewNormal(
			ScalarZero(g, dtypes.Float64), ScalarOne(g, dtypes.Float64)))
		tr.Deterministic("muSquared", Mul(mu, mu))
		tr.Observe("x", distributions.NewNormal(mu, ScalarOne(g, dtypes.Float64)),
			observations[0])
	}

	backend := graphtest.BuildTestBackend()
	ctx := newTestContext(0.05, 42)
	guide := autoguide.Normal(model)

	const numSamples = 7
	pred := infer.NewPredictive(backend, ctx, model, guide, numSamples)
	defer pred.Finalize()
	samples, err := pred.Sample(0.5)
	require.NoError(t, err)

	require.Contains(t, samples, "mu")
	require.Contains(t, samples, "muSquared")
	assert.NotContains(t, samples, "x", "observed sites are not collected by default")

	assert.Equal(t, []int{numSamples}, samples["mu"].Shape().Dimensions)
	assert.Equal(t, []int{numSamples}, samples["muSquared"].Shape().Dimensions)

	mus := samples["mu"].Value().([]float64)
	musSquared := samples["muSquared"].Value().([]float64)
	for i, mu := range mus {
		assert.InDelta(t, mu*mu, musSquared[i], 1e-12)
	}
}
