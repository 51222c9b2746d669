// Copyright 2026 The Pyro Authors. SPDX-License-Identifier: Apache-2.0

package infer

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the
// graphical symbols are supported by the terminal.
var ProgressbarStyle = progressbar.ThemeASCII

// progressBar displays the run's progress and last loss on the terminal.
type progressBar struct {
	numSteps         int
	lastStepReported int
	bar              *progressbar.ProgressBar
}

// ProgressBarSharedKey is the Loop.SharedData key under which the attached
// progress bar is published.
const ProgressBarSharedKey = "infer.progressBar"

// AttachProgressBar attaches a terminal progress bar to the loop, displaying
// steps per second and the latest loss. Attaching twice to the same loop is
// a no-op.
func AttachProgressBar(loop *Loop) {
	if _, found := loop.SharedData[ProgressBarSharedKey]; found {
		return
	}
	pBar := &progressBar{}
	loop.SharedData[ProgressBarSharedKey] = pBar
	loop.OnStart("infer.progressBar", 100, pBar.onStart)
	loop.OnStep("infer.progressBar", 100, pBar.onStep)
	loop.OnEnd("infer.progressBar", 100, pBar.onEnd)
}

func (pBar *progressBar) onStart(loop *Loop) error {
	pBar.numSteps = loop.EndStep - loop.StartStep
	pBar.lastStepReported = loop.LoopStep
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	return nil
}

func (pBar *progressBar) onStep(loop *Loop, loss float64) error {
	if pBar.bar.IsFinished() {
		return nil
	}
	// +1 because the current LoopStep is finished.
	amount := loop.LoopStep + 1 - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}
	pBar.lastStepReported = loop.LoopStep + 1
	pBar.bar.Describe(fmt.Sprintf("[loss=%.4f]", loss))
	return pBar.bar.Add(amount)
}

func (pBar *progressBar) onEnd(loop *Loop, _ float64) error {
	err := pBar.bar.Finish()
	fmt.Println()
	return err
}

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration pretty prints a duration without a long tail of decimals.
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
