// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/deps"
	"github.com/AleutianAI/termite/services/sandbox"
)

// Phase is a state of the synthesis loop.
type Phase string

const (
	PhaseDesign Phase = "design"
	PhaseBuild  Phase = "build"
	PhaseFix    Phase = "fix"
	PhaseRefine Phase = "refine"
	PhaseDone   Phase = "done"
)

// PhaseEvent marks the start or end of a phase.
type PhaseEvent struct {
	RunID string
	Phase Phase

	// Round is the refinement round, 0 outside REFINE.
	Round int

	// Elapsed and Err are set on PhaseFinished only.
	Elapsed time.Duration
	Err     error
}

// AttemptEvent reports one execution attempt.
type AttemptEvent struct {
	RunID string

	// Phase owns the repair sub-loop: PhaseFix, or PhaseRefine for the
	// sub-loop that follows a refinement.
	Phase Phase
	Round int

	// Attempt is 1-indexed within its sub-loop.
	Attempt int

	// Result is the last sandbox result of the attempt.
	Result sandbox.Result

	// Rerun is true when a dependency install caused a second execution.
	Rerun bool

	Candidate datatypes.Candidate
}

// DependencyEvent reports a missing-module repair.
type DependencyEvent struct {
	RunID   string
	Outcome deps.Outcome
}

// EvaluationEvent reports a critic verdict.
type EvaluationEvent struct {
	RunID      string
	Round      int
	Evaluation datatypes.Evaluation
}

// Observer receives progress from the orchestrator. Calls are made on the
// orchestrator's goroutine, in order.
type Observer interface {
	PhaseStarted(PhaseEvent)
	AttemptFinished(AttemptEvent)
	DependencyResolved(DependencyEvent)
	Evaluated(EvaluationEvent)
	PhaseFinished(PhaseEvent)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) PhaseStarted(PhaseEvent)            {}
func (NopObserver) AttemptFinished(AttemptEvent)       {}
func (NopObserver) DependencyResolved(DependencyEvent) {}
func (NopObserver) Evaluated(EvaluationEvent)          {}
func (NopObserver) PhaseFinished(PhaseEvent)           {}

// safeObserver recovers observer panics so a broken progress printer can
// never abort a run.
type safeObserver struct {
	inner  Observer
	logger *slog.Logger
}

func (s safeObserver) guard(hook string) {
	if r := recover(); r != nil {
		s.logger.Error("observer panic recovered", "hook", hook, "panic", r)
	}
}

func (s safeObserver) PhaseStarted(e PhaseEvent) {
	defer s.guard("PhaseStarted")
	s.inner.PhaseStarted(e)
}

func (s safeObserver) AttemptFinished(e AttemptEvent) {
	defer s.guard("AttemptFinished")
	s.inner.AttemptFinished(e)
}

func (s safeObserver) DependencyResolved(e DependencyEvent) {
	defer s.guard("DependencyResolved")
	s.inner.DependencyResolved(e)
}

func (s safeObserver) Evaluated(e EvaluationEvent) {
	defer s.guard("Evaluated")
	s.inner.Evaluated(e)
}

func (s safeObserver) PhaseFinished(e PhaseEvent) {
	defer s.guard("PhaseFinished")
	s.inner.PhaseFinished(e)
}

var (
	_ Observer = NopObserver{}
	_ Observer = safeObserver{}
)
