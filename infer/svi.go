// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package infer

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ablewolf/pyro"
)

// SVI optimizes a guide's variational parameters to maximize the ELBO of a
// model, one stochastic gradient step at a time.
//
// Step is the compiled path: the step graph (guide sampling, model replay,
// loss and optimizer updates) is built once, JIT-compiled, and cached -- one
// compiled program per distinct combination of observation shapes, so the
// first call with a new shape pays compilation latency and later calls reuse
// the program. StepEager rebuilds and recompiles the graph on every call; it
// exists so the two costs can be compared, and as a debugging aid (every
// step re-runs the model/guide Go functions).
type SVI struct {
	backend   backends.Backend
	ctx       *context.Context
	model     pyro.ModelFn
	guide     pyro.ModelFn
	optimizer optimizers.Interface
	elbo      ELBO

	stepExec *context.Exec
	lossExec *context.Exec
}

// NewSVI returns an SVI driver. The context holds (and accumulates) the
// variational parameters, any model parameters, optimizer state and the RNG
// state; the optimizer is any GoMLX optimizer (optimizers.Adam(),
// optimizers.StochasticGradientDescent(), ...).
func NewSVI(backend backends.Backend, ctx *context.Context, model, guide pyro.ModelFn,
	optimizer optimizers.Interface, elbo ELBO) *SVI {
	return &SVI{
		backend:   backend,
		ctx:       ctx,
		model:     model,
		guide:     guide,
		optimizer: optimizer,
		elbo:      elbo,
	}
}

// Context returns the parameter store used by this SVI.
func (svi *SVI) Context() *context.Context { return svi.ctx }

// stepGraph builds the full SVI step: loss plus parameter updates.
func (svi *SVI) stepGraph(ctx *context.Context, g *graph.Graph, observations []*graph.Node) *graph.Node {
	ctx.SetTraining(g, true)
	loss := svi.elbo.LossGraph(ctx, g, svi.model, svi.guide, observations)
	svi.optimizer.UpdateGraph(ctx, g, loss)
	return loss
}

// lossGraph builds the loss only, with no parameter updates.
func (svi *SVI) lossGraph(ctx *context.Context, g *graph.Graph, observations []*graph.Node) *graph.Node {
	ctx.SetTraining(g, false)
	return svi.elbo.LossGraph(ctx, g, svi.model, svi.guide, observations)
}

// newExec adapts a step builder to the Exec graph-function signatures: with
// observations the inputs slice carries them; without, the builder only
// needs the graph.
func (svi *SVI) newExec(hasObservations bool,
	build func(ctx *context.Context, g *graph.Graph, observations []*graph.Node) *graph.Node) *context.Exec {
	if hasObservations {
		return context.NewExec(svi.backend, svi.ctx,
			func(ctx *context.Context, observations []*graph.Node) *graph.Node {
				return build(ctx, observations[0].Graph(), observations)
			})
	}
	return context.NewExec(svi.backend, svi.ctx,
		func(ctx *context.Context, g *graph.Graph) *graph.Node {
			return build(ctx, g, nil)
		})
}

// Step runs one compiled SVI step conditioned on the given observations
// (tensors or Go values convertible to tensors) and returns the loss
// (negative ELBO estimate). All calls to Step of one SVI must pass the same
// number of observations.
func (svi *SVI) Step(observations ...any) (loss float64, err error) {
	if svi.stepExec == nil {
		err = exceptions.TryCatch[error](func() {
			svi.stepExec = svi.newExec(len(observations) > 0, svi.stepGraph)
		})
		if err != nil {
			return 0, errors.WithMessage(err, "SVI.Step: building step executor")
		}
	}
	return svi.execLoss(svi.stepExec, observations)
}

// StepEager runs one SVI step rebuilding and recompiling the step graph from
// scratch, the eager counterpart of Step.
func (svi *SVI) StepEager(observations ...any) (loss float64, err error) {
	var exec *context.Exec
	err = exceptions.TryCatch[error](func() {
		exec = svi.newExec(len(observations) > 0, svi.stepGraph)
	})
	if err != nil {
		return 0, errors.WithMessage(err, "SVI.StepEager: building step executor")
	}
	defer exec.Finalize()
	return svi.execLoss(exec, observations)
}

// Loss evaluates the current loss (negative ELBO estimate) without updating
// any parameters.
func (svi *SVI) Loss(observations ...any) (loss float64, err error) {
	if svi.lossExec == nil {
		err = exceptions.TryCatch[error](func() {
			svi.lossExec = svi.newExec(len(observations) > 0, svi.lossGraph)
		})
		if err != nil {
			return 0, errors.WithMessage(err, "SVI.Loss: building loss executor")
		}
	}
	return svi.execLoss(svi.lossExec, observations)
}

func (svi *SVI) execLoss(exec *context.Exec, observations []any) (loss float64, err error) {
	var results []*tensors.Tensor
	err = exceptions.TryCatch[error](func() { results = exec.Call(observations...) })
	if err != nil {
		return 0, err
	}
	loss = tensors.ToScalar[float64](results[0])
	if math.IsNaN(loss) {
		return loss, errors.Errorf("SVI loss is NaN, inference interrupted")
	}
	if math.IsInf(loss, 0) {
		return loss, errors.Errorf("SVI loss is infinity (%f), inference interrupted", loss)
	}
	return loss, nil
}

// GlobalStep returns the number of optimizer steps taken on the context.
func (svi *SVI) GlobalStep() int64 {
	return optimizers.GetGlobalStep(svi.ctx)
}

// Finalize immediately frees the cached compiled programs. The SVI can still
// be used afterwards, new programs will be compiled on demand.
func (svi *SVI) Finalize() {
	if svi.stepExec != nil {
		svi.stepExec.Finalize()
		svi.stepExec = nil
	}
	if svi.lossExec != nil {
		svi.lossExec.Finalize()
		svi.lossExec = nil
	}
	klog.V(1).Info("SVI executors finalized")
}
