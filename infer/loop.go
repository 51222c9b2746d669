// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package infer

import (
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but
// negative values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnStepFn is the type of OnStep hooks, called with the step's loss.
type OnStepFn func(loop *Loop, loss float64) error

// OnEndFn is the type of OnEnd hooks, called with the last step's loss.
type OnEndFn func(loop *Loop, loss float64) error

// Loop runs SVI steps, invoking SVI.Step (or SVI.StepEager) every step and
// calling the appropriate hooks.
//
// In itself it doesn't do much, but one can attach functionality to it, like
// progress bars (AttachProgressBar), loss recording or early stopping.
//
// The public attributes are meant for reading only.
type Loop struct {
	// SVI driver associated with this loop.
	SVI *SVI

	// LoopStep currently being executed. Defaults to 0.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run. If RunSteps
	// is called multiple times, it resets to the last LoopStep of the
	// previous run, so runs concatenate.
	StartStep int

	// EndStep is one-past the last step of the current run.
	EndStep int

	// Losses recorded during the current run, one per step.
	Losses []float64

	// StepDurations collected during the current run.
	StepDurations []time.Duration

	// SharedData allows cross-hooks to publish and consume information.
	// Keys and the semantics of their values are not specified by the loop.
	SharedData map[string]any

	// eager switches stepping to SVI.StepEager.
	eager bool

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new SVI run loop.
func NewLoop(svi *SVI) *Loop {
	return &Loop{
		SVI:        svi,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// Eagerly configures the loop to rebuild and recompile the step graph at
// every step (SVI.StepEager) instead of using the cached compiled step.
// It returns the loop so calls can be cascaded.
func (loop *Loop) Eagerly() *Loop {
	loop.eager = true
	return loop
}

// RunSteps runs that many SVI steps against the given (fixed) observations.
// StartStep and EndStep are adjusted to the current LoopStep, so it can be
// called multiple times and it picks up where it left off. It returns the
// per-step losses of this run.
func (loop *Loop) RunSteps(numSteps int, observations ...any) ([]float64, error) {
	if numSteps == 0 {
		return nil, nil
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + numSteps
	if err := loop.start(); err != nil {
		return nil, err
	}
	loop.Losses = make([]float64, 0, numSteps)
	loop.StepDurations = make([]time.Duration, 0, numSteps)
	var loss float64
	for loop.LoopStep = loop.StartStep; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		var err error
		loss, err = loop.step(observations)
		if err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed at LoopStep=%d", numSteps, loop.LoopStep)
		}
	}
	if err := loop.end(loss); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", numSteps, loop.LoopStep)
	}
	return loop.Losses, nil
}

// start of a run, calls the OnStart hooks.
func (loop *Loop) start() (err error) {
	loop.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop)
		if err != nil {
			err = errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	})
	return
}

// step runs one SVI step and the OnStep hooks.
func (loop *Loop) step(observations []any) (loss float64, err error) {
	startTime := time.Now()
	if loop.eager {
		loss, err = loop.SVI.StepEager(observations...)
	} else {
		loss, err = loop.SVI.Step(observations...)
	}
	loop.StepDurations = append(loop.StepDurations, time.Since(startTime))
	if err != nil {
		return
	}
	loop.Losses = append(loop.Losses, loss)
	loop.onStep.Enumerate(func(hook *hookWithName[OnStepFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop, loss)
		if err != nil {
			err = errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	})
	return
}

// end of a run, calls the OnEnd hooks.
func (loop *Loop) end(loss float64) (err error) {
	loop.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop, loss)
		if err != nil {
			err = errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	})
	return
}

// MedianStepDuration returns the median duration of the steps of the current
// run. It returns 1 millisecond if no step was recorded, to avoid potential
// division by 0.
func (loop *Loop) MedianStepDuration() time.Duration {
	if len(loop.StepDurations) == 0 {
		return time.Millisecond
	}
	durations := slices.Clone(loop.StepDurations)
	slices.Sort(durations)
	return durations[len(durations)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to
// the start of a run.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to
// each step of a run, called after the SVI step.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to
// the end of a run, after the last step.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks of type H per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate calls fn for all registered hooks in priority order.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
