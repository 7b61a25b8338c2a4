// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Candidate
// =============================================================================

// Evaluation is the critic's verdict on a candidate.
type Evaluation struct {
	// Passed is true when the critic judged the program to satisfy the design.
	Passed bool `json:"passed"`

	// Feedback is the critic's free-form commentary. When the critic's answer
	// could not be parsed it holds the raw answer.
	Feedback string `json:"feedback"`
}

// Candidate is one generated program together with the observations made
// about it.
//
// # Description
//
// A Candidate is a value. WithExecution and WithEvaluation return copies and
// leave the receiver untouched, so a phase can never corrupt the snapshot an
// earlier phase produced. The Evaluation pointer is never shared between
// copies.
//
// # Lifecycle
//
//	Build          -> Candidate{Code}
//	Execute        -> c.WithExecution(stdout, stderr)
//	Evaluate       -> c.WithEvaluation(eval)
//	Build (repair) -> new Candidate{Code}
type Candidate struct {
	// Code is the program source extracted from the completion.
	Code string `json:"code"`

	// Stdout is the captured standard output of the last execution.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured, ANSI-stripped error stream of the last
	// execution. Empty means the execution is treated as successful.
	Stderr string `json:"stderr,omitempty"`

	// Executed records whether Stdout and Stderr describe a real execution.
	Executed bool `json:"executed"`

	// Evaluation is the critic's verdict, nil until evaluated.
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// NewCandidate creates an unexecuted candidate for the given source.
func NewCandidate(code string) Candidate {
	return Candidate{Code: code}
}

// WithExecution returns a copy of c carrying the given execution output.
// Any previous evaluation is dropped since it described a different run.
func (c Candidate) WithExecution(stdout, stderr string) Candidate {
	return Candidate{
		Code:     c.Code,
		Stdout:   stdout,
		Stderr:   stderr,
		Executed: true,
	}
}

// WithEvaluation returns a copy of c carrying the given evaluation.
func (c Candidate) WithEvaluation(e Evaluation) Candidate {
	out := c
	out.Evaluation = &e
	return out
}

// HasErrors reports whether the last execution wrote to the error stream.
func (c Candidate) HasErrors() bool {
	return c.Stderr != ""
}

// Succeeded reports whether the candidate was executed and produced no error
// output.
func (c Candidate) Succeeded() bool {
	return c.Executed && c.Stderr == ""
}
