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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/deps"
	"github.com/AleutianAI/termite/services/pipeline"
	"github.com/AleutianAI/termite/services/sandbox"
)

func TestProgress_AttemptLines(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	clean := datatypes.NewCandidate("print(1)").WithExecution("1", "")
	failed := datatypes.NewCandidate("x").WithExecution("", "Traceback\nNameError: name 'x' is not defined")

	pr.AttemptFinished(pipeline.AttemptEvent{Attempt: 1, Candidate: failed})
	pr.AttemptFinished(pipeline.AttemptEvent{Attempt: 2, Candidate: clean, Rerun: true})
	pr.AttemptFinished(pipeline.AttemptEvent{Attempt: 3, Candidate: clean, Result: sandbox.Result{TimedOut: true}})

	if got := errOut.String(); got != "WARN: attempt 1: NameError: name 'x' is not defined\n" {
		t.Errorf("stderr = %q", got)
	}
	got := out.String()
	if !strings.Contains(got, "OK: attempt 2 (rerun after install): ran clean") {
		t.Errorf("missing rerun line: %q", got)
	}
	if !strings.Contains(got, "OK: attempt 3: still running at the deadline") {
		t.Errorf("missing timeout line: %q", got)
	}
}

func TestProgress_SyntaxInvalid(t *testing.T) {
	p, _, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	cand := datatypes.NewCandidate("def f(:").WithExecution("", "SyntaxError: invalid syntax")
	pr.AttemptFinished(pipeline.AttemptEvent{Attempt: 1, Candidate: cand, Result: sandbox.Result{SyntaxInvalid: true}})

	if !strings.Contains(errOut.String(), "syntax error, SyntaxError: invalid syntax") {
		t.Errorf("got %q", errOut.String())
	}
}

func TestProgress_DependencyResolved(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	pr.DependencyResolved(pipeline.DependencyEvent{Outcome: deps.Outcome{
		Matched: true, Module: "yaml", Package: "pyyaml", Cached: true, Installed: true,
	}})
	pr.DependencyResolved(pipeline.DependencyEvent{Outcome: deps.Outcome{
		Matched: true, Module: "foo", Package: "foo", InstallErr: errors.New("no such package"),
	}})

	if !strings.Contains(out.String(), "installed pyyaml for missing module yaml (cached)") {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "could not install foo for foo: no such package") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestProgress_DependencySkipped(t *testing.T) {
	p, _, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	pr.DependencyResolved(pipeline.DependencyEvent{Outcome: deps.Outcome{
		Matched: true, Module: "_curses", Package: "curses", Skipped: true,
	}})

	if !strings.Contains(errOut.String(), "missing module _curses ships with Python (curses); nothing to install") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestProgress_Evaluated(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityFull)
	pr := NewProgress(p, false)

	pr.Evaluated(pipeline.EvaluationEvent{Round: 1, Evaluation: datatypes.Evaluation{
		Passed: false, Feedback: "Add a quit key.",
	}})
	pr.Evaluated(pipeline.EvaluationEvent{Round: 2, Evaluation: datatypes.Evaluation{Passed: true}})

	got := out.String()
	for _, want := range []string{"critic requested changes (round 1)", "Add a quit key.", "critic approved the program (round 2)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
}

func TestProgress_PhaseLifecycle(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	pr.PhaseStarted(pipeline.PhaseEvent{Phase: pipeline.PhaseDesign})
	pr.TokenHook()("design", "hello")
	pr.PhaseFinished(pipeline.PhaseEvent{Phase: pipeline.PhaseDesign, Elapsed: time.Second})

	pr.PhaseStarted(pipeline.PhaseEvent{Phase: pipeline.PhaseBuild})
	pr.PhaseFinished(pipeline.PhaseEvent{Phase: pipeline.PhaseBuild, Err: errors.New("backend down")})

	pr.PhaseStarted(pipeline.PhaseEvent{Phase: pipeline.PhaseDone})
	pr.PhaseFinished(pipeline.PhaseEvent{Phase: pipeline.PhaseDone, Elapsed: 1500 * time.Millisecond})

	if !strings.Contains(errOut.String(), "ERROR: build failed after 0s: backend down") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if !strings.Contains(out.String(), "OK: done in 1.5s") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestProgress_TokenHookCountsChars(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	pr := NewProgress(p, false)

	pr.PhaseStarted(pipeline.PhaseEvent{Phase: pipeline.PhaseRefine, Round: 2})
	hook := pr.TokenHook()
	hook("refine", strings.Repeat("a", 600))
	hook("refine", strings.Repeat("b", 900))

	if got := pr.spinner.Message(); got != "Refining (round 2) (1.5k chars)" {
		t.Errorf("got %q", got)
	}
	pr.PhaseFinished(pipeline.PhaseEvent{Phase: pipeline.PhaseRefine, Round: 2})
}

func TestProgress_AnimatedSpinnerSurvivesEvents(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityFull)
	pr := NewProgress(p, true)

	pr.PhaseStarted(pipeline.PhaseEvent{Phase: pipeline.PhaseFix})
	if !pr.spinner.Running() {
		t.Fatal("spinner should run during a phase")
	}
	pr.AttemptFinished(pipeline.AttemptEvent{Attempt: 1, Candidate: datatypes.NewCandidate("x").WithExecution("", "")})
	if !pr.spinner.Running() {
		t.Error("spinner should resume after an event")
	}
	pr.PhaseFinished(pipeline.PhaseEvent{Phase: pipeline.PhaseFix})
	if pr.spinner.Running() {
		t.Error("spinner should stop with the phase")
	}
	if !strings.Contains(out.String(), "attempt 1: ran clean") {
		t.Errorf("got %q", out.String())
	}
}

func TestProgress_Summary(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonality(Personality{Level: PersonalityMachine})

	p, out, errOut := newTestPrinter(PersonalityMachine)
	pr := NewProgress(p, false)

	res := pipeline.Result{
		RunID:     "run-1",
		Library:   datatypes.LibraryCurses,
		Candidate: datatypes.NewCandidate("import curses").WithExecution("", "Error: boom"),
		Stats:     pipeline.Stats{Attempts: 3, Regenerations: 2, DependencyInstalls: 1, Duration: 2 * time.Second},
	}
	pr.Summary(res, true)

	got := out.String()
	for _, want := range []string{"run=run-1", "library=curses", "attempts=3", "regenerations=2", "installs=1", "duration=2s", "Program:\nimport curses"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q: %q", want, got)
		}
	}
	if strings.Contains(got, "refine rounds") {
		t.Errorf("refine rounds should be omitted when zero: %q", got)
	}
	if !strings.Contains(errOut.String(), "WARN Program still fails:\nError: boom") {
		t.Errorf("stderr = %q", errOut.String())
	}
}
