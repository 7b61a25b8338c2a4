// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives a request through the synthesis loop.
//
// # Description
//
// The loop is a fixed state machine:
//
//	DESIGN -> BUILD -> FIX -> [REFINE -> FIX]* -> DONE
//
// DESIGN and BUILD run once. FIX executes the candidate and, while the error
// stream is non-empty, regenerates it from the error, up to FixIters times.
// When a failure names a missing module the dependency is installed and the
// same candidate re-run once within the attempt. REFINE, when enabled, asks
// the critic for a verdict and rebuilds from its feedback until it passes or
// RefineIters rounds are spent; every rebuild gets its own FIX sub-loop.
//
// Backend failures are fatal. The orchestrator returns the latest candidate
// together with the error so callers can still inspect it.
//
// # Thread Safety
//
// An Orchestrator may run several requests concurrently if its components
// allow it; each Run owns its own state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/deps"
	"github.com/AleutianAI/termite/services/sandbox"
	"github.com/AleutianAI/termite/services/synth"
)

var tracer = otel.Tracer("termite.pipeline")

// ErrEmptyRequest is returned for a blank request.
var ErrEmptyRequest = errors.New("request is empty")

// =============================================================================
// Components
// =============================================================================

// Generator drafts designs and builds candidates.
type Generator interface {
	Design(ctx context.Context, request string) (datatypes.DesignDocument, error)
	Build(ctx context.Context, design datatypes.DesignDocument, prior *datatypes.Candidate, fb synth.Feedback) (datatypes.Candidate, error)
}

// Evaluator judges a candidate against its design.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate datatypes.Candidate, design datatypes.DesignDocument) (datatypes.Evaluation, error)
}

// Executor runs a candidate in the sandbox.
type Executor interface {
	Execute(ctx context.Context, code string) (sandbox.Result, error)
}

// DependencyFixer repairs missing-module failures.
type DependencyFixer interface {
	Fix(ctx context.Context, stderr string) (deps.Outcome, error)
}

// Installer pre-installs the target library.
type Installer interface {
	Install(ctx context.Context, pkg string) error
}

// Components are what the orchestrator drives. Generator and Executor are
// required; Critic is required when refinement is enabled.
type Components struct {
	Generator Generator
	Critic    Evaluator
	Executor  Executor

	// Deps repairs missing modules. Nil disables repair.
	Deps DependencyFixer

	// Installer pre-installs the library's package. Nil skips it.
	Installer Installer
}

// Options are the orchestrator's ambient dependencies.
type Options struct {
	Observer Observer

	// Registerer receives the loop metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Metrics overrides Registerer with an existing set.
	Metrics *Metrics

	Logger *slog.Logger
}

// =============================================================================
// Result
// =============================================================================

// Stats counts what a run did.
type Stats struct {
	Attempts           int           `json:"attempts"`
	Regenerations      int           `json:"regenerations"`
	RefineRounds       int           `json:"refine_rounds"`
	DependencyInstalls int           `json:"dependency_installs"`
	Duration           time.Duration `json:"duration"`
}

// Result is a finished run.
type Result struct {
	RunID     string                   `json:"run_id"`
	Library   datatypes.Library        `json:"library"`
	Design    datatypes.DesignDocument `json:"design"`
	Candidate datatypes.Candidate      `json:"candidate"`
	Stats     Stats                    `json:"stats"`
}

// Succeeded reports whether the final candidate ran without error output.
func (r Result) Succeeded() bool {
	return r.Candidate.Succeeded()
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the synthesis loop under one RunConfig.
type Orchestrator struct {
	cfg       datatypes.RunConfig
	gen       Generator
	critic    Evaluator
	exec      Executor
	deps      DependencyFixer
	installer Installer
	observer  Observer
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates an Orchestrator.
//
// # Outputs
//
//   - error: an invalid RunConfig or a missing required component.
func New(cfg datatypes.RunConfig, c Components, opts Options) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if c.Executor == nil {
		return nil, errors.New("pipeline: executor is required")
	}
	if cfg.ShouldRefine && cfg.RefineIters > 0 && c.Critic == nil {
		return nil, errors.New("pipeline: critic is required when refinement is enabled")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(opts.Registerer)
	}

	return &Orchestrator{
		cfg:       cfg,
		gen:       c.Generator,
		critic:    c.Critic,
		exec:      c.Executor,
		deps:      c.Deps,
		installer: c.Installer,
		observer:  safeObserver{inner: opts.Observer, logger: opts.Logger},
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}, nil
}

// Config returns the run configuration.
func (o *Orchestrator) Config() datatypes.RunConfig {
	return o.cfg
}

// run is the state of one Run call.
type run struct {
	id     string
	design datatypes.DesignDocument
	stats  Stats
	logger *slog.Logger
}

// Run synthesizes a program for request.
//
// # Outputs
//
//   - Result: always populated with whatever the run reached.
//   - error: a backend, sandbox or context failure. The Result's candidate
//     is the latest one produced before the failure.
func (o *Orchestrator) Run(ctx context.Context, request string) (res Result, err error) {
	r := &run{id: uuid.NewString()}
	r.logger = o.logger.With("run_id", r.id)
	res = Result{RunID: r.id, Library: o.cfg.Library}

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("run_id", r.id),
			attribute.String("library", string(o.cfg.Library)),
			attribute.Int("fix_iters", o.cfg.FixIters),
			attribute.Bool("refine", o.cfg.ShouldRefine),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		r.stats.Duration = time.Since(start)
		res.Design = r.design
		res.Stats = r.stats

		outcome := "failed"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Succeeded():
			outcome = "success"
		}
		o.metrics.runs.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("attempts", r.stats.Attempts))
		r.logger.Info("Run finished",
			"outcome", outcome,
			"attempts", r.stats.Attempts,
			"regenerations", r.stats.Regenerations,
			"duration", r.stats.Duration,
		)
	}()

	if strings.TrimSpace(request) == "" {
		return res, ErrEmptyRequest
	}
	r.logger.Info("Run started", "library", o.cfg.Library, "refine", o.cfg.ShouldRefine)

	o.preinstall(ctx, r)

	// DESIGN
	err = o.phase(ctx, r, PhaseDesign, 0, func(ctx context.Context) error {
		design, err := o.gen.Design(ctx, request)
		r.design = design
		return err
	})
	if err != nil {
		return res, err
	}

	// BUILD
	err = o.phase(ctx, r, PhaseBuild, 0, func(ctx context.Context) error {
		cand, err := o.gen.Build(ctx, r.design, nil, synth.Feedback{})
		if err == nil {
			res.Candidate = cand
		}
		return err
	})
	if err != nil {
		return res, err
	}

	// FIX
	err = o.phase(ctx, r, PhaseFix, 0, func(ctx context.Context) error {
		cand, err := o.repair(ctx, r, PhaseFix, 0, res.Candidate)
		res.Candidate = cand
		return err
	})
	if err != nil {
		return res, err
	}

	// REFINE
	if o.cfg.ShouldRefine {
		for round := 1; round <= o.cfg.RefineIters; round++ {
			passed := false
			err = o.phase(ctx, r, PhaseRefine, round, func(ctx context.Context) error {
				cand, ok, err := o.refine(ctx, r, round, res.Candidate)
				res.Candidate = cand
				passed = ok
				return err
			})
			if err != nil {
				return res, err
			}
			if passed {
				break
			}
		}
	}

	o.observer.PhaseStarted(PhaseEvent{RunID: r.id, Phase: PhaseDone})
	o.observer.PhaseFinished(PhaseEvent{RunID: r.id, Phase: PhaseDone, Elapsed: time.Since(start)})
	return res, nil
}

// phase wraps one state in a span and the observer's start and finish events.
func (o *Orchestrator) phase(ctx context.Context, r *run, p Phase, round int, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+string(p),
		trace.WithAttributes(attribute.Int("round", round)),
	)
	defer span.End()

	o.observer.PhaseStarted(PhaseEvent{RunID: r.id, Phase: p, Round: round})
	start := time.Now()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Phase failed", "phase", p, "round", round, "error", err)
	}

	o.observer.PhaseFinished(PhaseEvent{RunID: r.id, Phase: p, Round: round, Elapsed: time.Since(start), Err: err})
	return err
}

// repair is the FIX sub-loop: at most FixIters regenerations and so at
// most FixIters+1 executions. It returns the last candidate produced, in
// its executed form.
func (o *Orchestrator) repair(ctx context.Context, r *run, p Phase, round int, cand datatypes.Candidate) (datatypes.Candidate, error) {
	for regen := 0; ; regen++ {
		executed, err := o.attempt(ctx, r, p, round, regen+1, cand)
		if err != nil {
			return executed, err
		}
		if !executed.HasErrors() {
			return executed, nil
		}
		if regen >= o.cfg.FixIters {
			r.logger.Warn("Repair attempts exhausted", "phase", p, "attempts", regen+1)
			return executed, nil
		}

		next, err := o.gen.Build(ctx, r.design, &executed, synth.ErrorFeedback(executed.Stderr))
		if err != nil {
			return executed, err
		}
		r.stats.Regenerations++
		o.metrics.regenerations.WithLabelValues(string(p)).Inc()
		cand = next
	}
}

// attempt executes cand once, repairing a missing module at most once.
func (o *Orchestrator) attempt(ctx context.Context, r *run, p Phase, round, n int, cand datatypes.Candidate) (datatypes.Candidate, error) {
	ctx, span := tracer.Start(ctx, "pipeline.attempt",
		trace.WithAttributes(
			attribute.String("phase", string(p)),
			attribute.Int("attempt", n),
		),
	)
	defer span.End()

	r.stats.Attempts++
	o.metrics.attempts.WithLabelValues(string(p)).Inc()

	res, err := o.execute(ctx, cand.Code)
	if err != nil {
		return cand, err
	}

	rerun := false
	if res.Stderr != "" && o.deps != nil {
		outcome, err := o.deps.Fix(ctx, res.Stderr)
		if outcome.Matched {
			o.recordDependency(r, outcome)
		}
		if err != nil {
			return cand.WithExecution(res.Stdout, res.Stderr), err
		}
		if outcome.Installed {
			rerun = true
			res, err = o.execute(ctx, cand.Code)
			if err != nil {
				return cand, err
			}
		}
	}

	executed := cand.WithExecution(res.Stdout, res.Stderr)
	span.SetAttributes(
		attribute.Bool("failed", executed.HasErrors()),
		attribute.Bool("timed_out", res.TimedOut),
		attribute.Bool("rerun", rerun),
	)
	r.logger.Debug("Attempt finished",
		"phase", p,
		"attempt", n,
		"failed", executed.HasErrors(),
		"timed_out", res.TimedOut,
		"syntax_invalid", res.SyntaxInvalid,
	)
	o.observer.AttemptFinished(AttemptEvent{
		RunID:     r.id,
		Phase:     p,
		Round:     round,
		Attempt:   n,
		Result:    res,
		Rerun:     rerun,
		Candidate: executed,
	})
	return executed, nil
}

func (o *Orchestrator) execute(ctx context.Context, code string) (sandbox.Result, error) {
	res, err := o.exec.Execute(ctx, code)
	o.metrics.sandboxDuration.Observe(res.Duration.Seconds())
	if err != nil {
		return res, fmt.Errorf("execute: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) recordDependency(r *run, outcome deps.Outcome) {
	result := "failed"
	switch {
	case outcome.Installed:
		result = "installed"
		r.stats.DependencyInstalls++
	case outcome.Skipped:
		result = "skipped"
	}
	o.metrics.installs.WithLabelValues(result).Inc()
	o.observer.DependencyResolved(DependencyEvent{RunID: r.id, Outcome: outcome})
}

// refine runs one REFINE round. It reports passed when the critic accepted
// the candidate, in which case the candidate comes back evaluated.
func (o *Orchestrator) refine(ctx context.Context, r *run, round int, cand datatypes.Candidate) (datatypes.Candidate, bool, error) {
	r.stats.RefineRounds++

	eval, err := o.critic.Evaluate(ctx, cand, r.design)
	if err != nil {
		return cand, false, err
	}
	cand = cand.WithEvaluation(eval)
	o.observer.Evaluated(EvaluationEvent{RunID: r.id, Round: round, Evaluation: eval})
	if eval.Passed {
		r.logger.Info("Candidate accepted", "round", round)
		return cand, true, nil
	}

	next, err := o.gen.Build(ctx, r.design, &cand, synth.EvaluationFeedback(eval.Feedback))
	if err != nil {
		return cand, false, err
	}
	r.stats.Regenerations++
	o.metrics.regenerations.WithLabelValues(string(PhaseRefine)).Inc()

	fixed, err := o.repair(ctx, r, PhaseRefine, round, next)
	return fixed, false, err
}

// preinstall installs the target library before the first execution. A
// failure is logged and left to the missing-module repair.
func (o *Orchestrator) preinstall(ctx context.Context, r *run) {
	pkg := o.cfg.Library.Package()
	if o.installer == nil || pkg == "" {
		return
	}
	if err := o.installer.Install(ctx, pkg); err != nil {
		r.logger.Warn("Library pre-install failed", "package", pkg, "error", err)
	}
}
