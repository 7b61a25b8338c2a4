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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesignDocument_String(t *testing.T) {
	d := DesignDocument{Request: "a clock", Details: "1. Layout"}
	want := "# Design Document\n\n<user_request>\na clock\n</user_request>\n\n<details>\n1. Layout\n</details>"
	assert.Equal(t, want, d.String())
}

func TestCandidate_WithExecutionDoesNotMutate(t *testing.T) {
	t.Parallel()

	orig := NewCandidate("print(1)")
	executed := orig.WithExecution("1", "")

	assert.False(t, orig.Executed)
	assert.Empty(t, orig.Stdout)
	assert.True(t, executed.Executed)
	assert.Equal(t, "1", executed.Stdout)
	assert.Equal(t, orig.Code, executed.Code)
	assert.True(t, executed.Succeeded())
}

func TestCandidate_WithExecutionDropsEvaluation(t *testing.T) {
	t.Parallel()

	c := NewCandidate("x").WithEvaluation(Evaluation{Passed: true})
	require.NotNil(t, c.Evaluation)

	rerun := c.WithExecution("", "boom")
	assert.Nil(t, rerun.Evaluation)
	assert.True(t, rerun.HasErrors())
	assert.False(t, rerun.Succeeded())
	assert.NotNil(t, c.Evaluation)
}

func TestCandidate_WithEvaluationCopiesPointer(t *testing.T) {
	t.Parallel()

	base := NewCandidate("x")
	a := base.WithEvaluation(Evaluation{Passed: false, Feedback: "a"})
	b := a.WithEvaluation(Evaluation{Passed: true, Feedback: "b"})

	assert.Nil(t, base.Evaluation)
	assert.Equal(t, "a", a.Evaluation.Feedback)
	assert.Equal(t, "b", b.Evaluation.Feedback)
}

func TestCandidate_SucceededRequiresExecution(t *testing.T) {
	assert.False(t, NewCandidate("x").Succeeded())
}

func TestParseLibrary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Library
		wantErr bool
	}{
		{"urwid", LibraryUrwid, false},
		{"  Textual ", LibraryTextual, false},
		{"CURSES", LibraryCurses, false},
		{"tkinter", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLibrary(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLibrary_Package(t *testing.T) {
	assert.Equal(t, "", LibraryCurses.Package())
	assert.Equal(t, "urwid", LibraryUrwid.Package())
	assert.Equal(t, "asciimatics", LibraryAsciimatics.Package())
}

func TestRunConfig_Defaults(t *testing.T) {
	cfg := DefaultRunConfig()

	assert.Equal(t, LibraryUrwid, cfg.Library)
	assert.False(t, cfg.ShouldRefine)
	assert.Equal(t, 1, cfg.RefineIters)
	assert.Equal(t, 10, cfg.FixIters)
	assert.Equal(t, 5*time.Second, cfg.ExecTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestRunConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"unknown library", func(c *RunConfig) { c.Library = "tk" }, "Library"},
		{"empty library", func(c *RunConfig) { c.Library = "" }, "Library"},
		{"negative fix iters", func(c *RunConfig) { c.FixIters = -1 }, "FixIters"},
		{"too many fix iters", func(c *RunConfig) { c.FixIters = 51 }, "FixIters"},
		{"negative refine iters", func(c *RunConfig) { c.RefineIters = -2 }, "RefineIters"},
		{"short timeout", func(c *RunConfig) { c.ExecTimeout = 10 * time.Millisecond }, "ExecTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRunConfig_ZeroItersAllowed(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.FixIters = 0
	cfg.RefineIters = 0
	assert.NoError(t, cfg.Validate())
}
