// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/termite/services/pipeline"
)

// feedbackPreviewLines bounds how much critic feedback is echoed.
const feedbackPreviewLines = 6

// Progress prints a run as it happens.
//
// # Description
//
// Progress implements pipeline.Observer. While a phase is generating it
// animates a spinner whose message counts streamed characters; TokenHook
// feeds it. Every other event stops the spinner, prints one line and starts
// it again.
//
// # Thread Safety
//
// Observer calls and token hook calls may come from different goroutines.
type Progress struct {
	printer *Printer
	spinner *Spinner

	mu      sync.Mutex
	phase   pipeline.Phase
	label   string
	chars   int
	animate bool
}

// NewProgress creates a Progress printing through p. Spinners are animated
// only when animate is set.
func NewProgress(p *Printer, animate bool) *Progress {
	return &Progress{
		printer: p,
		spinner: NewSpinner(p, ""),
		animate: animate,
	}
}

// TokenHook returns a callback for synth.WithTokenHook.
func (pr *Progress) TokenHook() func(phase, token string) {
	return func(_ string, token string) {
		pr.mu.Lock()
		pr.chars += len(token)
		msg := fmt.Sprintf("%s (%s)", pr.label, humanChars(pr.chars))
		pr.mu.Unlock()
		pr.spinner.UpdateMessage(msg)
	}
}

// PhaseStarted prints the phase header and starts the spinner.
func (pr *Progress) PhaseStarted(e pipeline.PhaseEvent) {
	if e.Phase == pipeline.PhaseDone {
		return
	}
	label := phaseLabel(e.Phase, e.Round)

	pr.mu.Lock()
	pr.phase = e.Phase
	pr.label = label
	pr.chars = 0
	pr.mu.Unlock()

	pr.printer.Title(fmt.Sprintf("%s %s", IconArrow, label))
	pr.startSpinner(label)
}

// AttemptFinished reports one sandbox execution.
func (pr *Progress) AttemptFinished(e pipeline.AttemptEvent) {
	pr.pause(func() {
		prefix := fmt.Sprintf("attempt %d", e.Attempt)
		if e.Rerun {
			prefix += " (rerun after install)"
		}
		switch {
		case e.Result.TimedOut:
			pr.printer.Success(prefix + ": still running at the deadline, treated as working")
		case !e.Candidate.HasErrors():
			pr.printer.Success(prefix + ": ran clean")
		case e.Result.SyntaxInvalid:
			pr.printer.Warning(prefix + ": syntax error, " + LastLine(e.Candidate.Stderr))
		default:
			pr.printer.Warning(prefix + ": " + LastLine(e.Candidate.Stderr))
		}
	})
}

// DependencyResolved reports a missing-module install.
func (pr *Progress) DependencyResolved(e pipeline.DependencyEvent) {
	o := e.Outcome
	pr.pause(func() {
		source := "resolved"
		if o.Cached {
			source = "cached"
		}
		switch {
		case o.Installed:
			pr.printer.Success(fmt.Sprintf("installed %s for missing module %s (%s)", o.Package, o.Module, source))
		case o.Skipped:
			pr.printer.Warning(fmt.Sprintf("missing module %s ships with Python (%s); nothing to install", o.Module, o.Package))
		case o.InstallErr != nil:
			pr.printer.Warning(fmt.Sprintf("could not install %s for %s: %v", o.Package, o.Module, o.InstallErr))
		default:
			pr.printer.Warning(fmt.Sprintf("missing module %s was not installed", o.Module))
		}
	})
}

// Evaluated reports a critic verdict.
func (pr *Progress) Evaluated(e pipeline.EvaluationEvent) {
	pr.pause(func() {
		if e.Evaluation.Passed {
			pr.printer.Success(fmt.Sprintf("critic approved the program (round %d)", e.Round))
			return
		}
		pr.printer.Warning(fmt.Sprintf("critic requested changes (round %d)", e.Round))
		if fb := strings.TrimSpace(e.Evaluation.Feedback); fb != "" {
			pr.printer.Muted(FirstLines(fb, feedbackPreviewLines))
		}
	})
}

// PhaseFinished stops the spinner and reports a failed phase.
func (pr *Progress) PhaseFinished(e pipeline.PhaseEvent) {
	pr.spinner.Stop()
	pr.mu.Lock()
	pr.phase = ""
	pr.mu.Unlock()

	if e.Err != nil {
		pr.printer.Error(fmt.Sprintf("%s failed after %s: %v", e.Phase, e.Elapsed.Round(time.Millisecond), e.Err))
		return
	}
	if e.Phase == pipeline.PhaseDone {
		pr.printer.Success(fmt.Sprintf("done in %s", e.Elapsed.Round(time.Millisecond)))
	}
}

// Summary prints the outcome of a run and, optionally, its final program.
func (pr *Progress) Summary(res pipeline.Result, showCode bool) {
	p := pr.printer
	if res.Succeeded() {
		p.Success("program runs without errors")
	} else if res.Candidate.Executed {
		p.WarningBox("Program still fails", FirstLines(res.Candidate.Stderr, 12))
	}

	p.KeyValue("run", res.RunID)
	p.KeyValue("library", string(res.Library))
	p.KeyValue("attempts", fmt.Sprint(res.Stats.Attempts))
	p.KeyValue("regenerations", fmt.Sprint(res.Stats.Regenerations))
	if res.Stats.RefineRounds > 0 {
		p.KeyValue("refine rounds", fmt.Sprint(res.Stats.RefineRounds))
	}
	if res.Stats.DependencyInstalls > 0 {
		p.KeyValue("installs", fmt.Sprint(res.Stats.DependencyInstalls))
	}
	p.KeyValue("duration", res.Stats.Duration.Round(time.Millisecond).String())

	if showCode && res.Candidate.Code != "" {
		p.Box("Program", res.Candidate.Code)
	}
	if GetPersonality().ShowTips && !res.Succeeded() {
		p.Muted("Tip: raise --fix-iters or try another --library.")
	}
}

func (pr *Progress) startSpinner(label string) {
	if !pr.animate {
		return
	}
	pr.spinner.UpdateMessage(label)
	pr.spinner.Start()
}

// pause stops the spinner around fn and restarts it if a phase is active.
func (pr *Progress) pause(fn func()) {
	running := pr.spinner.Running()
	pr.spinner.Stop()
	fn()

	pr.mu.Lock()
	active := pr.phase != ""
	label := pr.label
	pr.mu.Unlock()
	if running && active {
		pr.spinner.UpdateMessage(label)
		pr.spinner.Start()
	}
}

func phaseLabel(p pipeline.Phase, round int) string {
	switch p {
	case pipeline.PhaseDesign:
		return "Designing"
	case pipeline.PhaseBuild:
		return "Building"
	case pipeline.PhaseFix:
		return "Running and fixing"
	case pipeline.PhaseRefine:
		return fmt.Sprintf("Refining (round %d)", round)
	default:
		return string(p)
	}
}

func humanChars(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d chars", n)
	}
	return fmt.Sprintf("%.1fk chars", float64(n)/1000)
}

var _ pipeline.Observer = (*Progress)(nil)
