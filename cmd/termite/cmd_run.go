// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/termite/pkg/ux"
	"github.com/AleutianAI/termite/services/pipeline"
)

// runScript runs an existing program in the managed environment, after
// installing the configured library.
func runScript(cmd *cobra.Command, f *cliFlags, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := ux.NewPrinter(cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if pkg := cfg.Run.Library.Package(); pkg != "" {
		err := ux.WithSpinner(printer, "Installing "+pkg, func() error {
			return a.env.Install(cmd.Context(), pkg)
		})
		if err != nil {
			return err
		}
	}
	return execInteractive(cmd, a, path)
}

// execInteractive runs path with the environment's interpreter, wired to
// this process's terminal. The child's exit status becomes ours.
func execInteractive(cmd *cobra.Command, a *app, path string) error {
	ctx := cmd.Context()
	python, err := a.env.Python(ctx)
	if err != nil {
		return err
	}

	child := exec.CommandContext(ctx, python, path)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	a.logger.Info("Running program", "path", path, "python", python)
	err = child.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return err
}

// saveProgram writes the final program to the working directory.
func saveProgram(res pipeline.Result) (string, error) {
	id := res.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	path := fmt.Sprintf("termite_%s_%s.py", res.Library, id)
	if err := os.WriteFile(path, []byte(res.Candidate.Code+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("save program: %w", err)
	}
	return path, nil
}

// stdoutFile returns w as a file when it is one, for terminal checks.
func stdoutFile(w io.Writer) *os.File {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return nil
}
