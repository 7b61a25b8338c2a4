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

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Library
// =============================================================================

// Library is a terminal UI toolkit the generated program targets.
type Library string

const (
	LibraryCurses      Library = "curses"
	LibraryUrwid       Library = "urwid"
	LibraryRich        Library = "rich"
	LibraryTextual     Library = "textual"
	LibraryAsciimatics Library = "asciimatics"
)

// Libraries lists every supported toolkit in display order.
var Libraries = []Library{
	LibraryUrwid,
	LibraryCurses,
	LibraryRich,
	LibraryTextual,
	LibraryAsciimatics,
}

// ParseLibrary resolves a case-insensitive toolkit name.
func ParseLibrary(s string) (Library, error) {
	want := Library(strings.ToLower(strings.TrimSpace(s)))
	for _, lib := range Libraries {
		if lib == want {
			return lib, nil
		}
	}
	return "", fmt.Errorf("unknown library %q (want one of %s)", s, libraryList())
}

// Package returns the package-index name that provides the toolkit, or ""
// when the toolkit ships with the interpreter.
func (l Library) Package() string {
	if l == LibraryCurses {
		return ""
	}
	return string(l)
}

func libraryList() string {
	names := make([]string, len(Libraries))
	for i, lib := range Libraries {
		names[i] = string(lib)
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// RunConfig
// =============================================================================

const (
	// DefaultFixIters bounds regenerations in a repair sub-loop.
	DefaultFixIters = 10

	// DefaultRefineIters bounds critic-driven refinement rounds.
	DefaultRefineIters = 1

	// DefaultExecTimeout is how long a candidate may run in the sandbox.
	DefaultExecTimeout = 5 * time.Second
)

// RunConfig is the per-run configuration of the synthesis loop.
//
// # Description
//
// RunConfig is immutable for the duration of a run. Field constraints are
// expressed as validator tags and checked by Validate.
type RunConfig struct {
	// Library is the toolkit every prompt asks for.
	Library Library `json:"library" yaml:"library" validate:"required,oneof=curses urwid rich textual asciimatics"`

	// ShouldRefine enables the critic-driven REFINE phase.
	ShouldRefine bool `json:"should_refine" yaml:"should_refine"`

	// RefineIters bounds refinement rounds when ShouldRefine is set.
	RefineIters int `json:"refine_iters" yaml:"refine_iters" validate:"gte=0,lte=20"`

	// FixIters bounds regenerations per repair sub-loop. A sub-loop performs
	// at most FixIters+1 executions.
	FixIters int `json:"fix_iters" yaml:"fix_iters" validate:"gte=0,lte=50"`

	// ExecTimeout bounds a single sandbox execution.
	ExecTimeout time.Duration `json:"exec_timeout" yaml:"exec_timeout" validate:"gte=1s"`
}

var runConfigValidate = validator.New(validator.WithRequiredStructEnabled())

// DefaultRunConfig returns the configuration used when nothing is overridden.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Library:      LibraryUrwid,
		ShouldRefine: false,
		RefineIters:  DefaultRefineIters,
		FixIters:     DefaultFixIters,
		ExecTimeout:  DefaultExecTimeout,
	}
}

// Validate checks the field constraints and returns a readable error that
// lists every violated field.
func (c RunConfig) Validate() error {
	err := runConfigValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate run config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid run config: %s", strings.Join(msgs, "; "))
}
