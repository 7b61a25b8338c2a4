// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs untrusted, freshly generated programs and captures
// what they print.
//
// # Description
//
// Every execution moves through four states:
//
//	PARSE_CHECK -> SPAWN -> STREAM_CAPTURE -> {TIMEOUT | EXIT}
//
// PARSE_CHECK rejects malformed source without starting anything. SPAWN
// writes the source to a throwaway file and starts the interpreter on two
// pseudo-terminals, one carrying stdin and stdout and one carrying stderr,
// so terminal UI libraries behave as they would for a user. STREAM_CAPTURE
// blocks on both masters until each reports end-of-stream, an I/O error
// occurs, or the timeout elapses.
//
// A timeout is not a failure. An interactive program that is still running
// when time is up is working as intended, so a timed-out execution reports
// an empty error stream.
//
// # Thread Safety
//
// An Executor may be shared. Each Execute call owns its file, terminals and
// child process and releases all of them before returning.
package sandbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("termite.sandbox")

const (
	// DefaultTimeout is how long a candidate may run.
	DefaultTimeout = 5 * time.Second

	// DefaultGracePeriod separates SIGTERM from SIGKILL on timeout.
	DefaultGracePeriod = 500 * time.Millisecond

	DefaultRows = 24
	DefaultCols = 80

	readChunkSize = 4096
)

// Result is what one execution observed.
type Result struct {
	// Stdout is the captured standard output, trailing whitespace trimmed.
	Stdout string

	// Stderr is the captured error stream with escape sequences removed and
	// trailing whitespace trimmed. It is empty after a timeout.
	Stderr string

	// TimedOut is true when the program was still running at the deadline.
	TimedOut bool

	// SyntaxInvalid is true when PARSE_CHECK rejected the source. Nothing was
	// spawned and Stderr holds the validation error.
	SyntaxInvalid bool

	// ExitCode is the child's exit status, or -1 when it was killed, timed
	// out or never started.
	ExitCode int

	// Duration is the wall time of the whole execution.
	Duration time.Duration
}

// Failed reports whether the execution counts as a failure: anything on the
// error stream does.
func (r Result) Failed() bool {
	return r.Stderr != ""
}

// Interpreter locates the program that runs candidates.
type Interpreter interface {
	// Python returns the interpreter path, preparing it first if needed.
	Python(ctx context.Context) (string, error)
}

// StaticInterpreter is an Interpreter with a fixed path.
type StaticInterpreter string

// Python implements Interpreter.
func (s StaticInterpreter) Python(context.Context) (string, error) {
	return string(s), nil
}

// Config configures an Executor. Zero fields take the defaults above.
type Config struct {
	Timeout     time.Duration
	GracePeriod time.Duration

	// Rows and Cols size both pseudo-terminals.
	Rows uint16
	Cols uint16

	// TempDir holds the throwaway script files. Default: os.TempDir().
	TempDir string

	// Env is appended to the parent's environment for the child.
	Env []string

	// SyntaxChecker validates source before spawning. Default: the
	// tree-sitter Python checker.
	SyntaxChecker SyntaxChecker

	// Interpreter runs candidates. Default: "python3" from PATH.
	Interpreter Interpreter

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.SyntaxChecker == nil {
		c.SyntaxChecker = PythonSyntaxChecker{}
	}
	if c.Interpreter == nil {
		c.Interpreter = StaticInterpreter("python3")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Executor runs candidates under Config.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	return &Executor{cfg: cfg.withDefaults()}
}

// Timeout returns the effective execution timeout.
func (e *Executor) Timeout() time.Duration {
	return e.cfg.Timeout
}

// =============================================================================
// Post-processing
// =============================================================================

// CleanStderr removes ANSI/VT100 escape sequences, folds terminal line
// endings and trims trailing whitespace.
//
// # Examples
//
//	CleanStderr("\x1b[31mError\x1b[0m: boom\r\n") // "Error: boom"
func CleanStderr(s string) string {
	return CleanStdout(ansi.Strip(s))
}

// CleanStdout folds terminal line endings and trims trailing whitespace.
// Escape sequences are kept: they are part of what a TUI draws.
func CleanStdout(s string) string {
	return strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), " \t\r\n")
}
