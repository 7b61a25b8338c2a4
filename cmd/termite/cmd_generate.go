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
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/termite/pkg/ux"
	"github.com/AleutianAI/termite/services/pipeline"
)

// runGenerate synthesizes a program for the request in args, or for one
// asked interactively.
func runGenerate(cmd *cobra.Command, f *cliFlags, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		if !ux.IsInteractive() {
			return errNoRequest
		}
		answers, err := askRequest(cfg.Run)
		if err != nil {
			return err
		}
		request = answers.Request
		cfg.Run = answers.apply(cfg.Run)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	// --print keeps stdout for the program alone.
	var progressOut io.Writer = cmd.OutOrStdout()
	if f.printCode {
		progressOut = cmd.ErrOrStderr()
	}
	printer := ux.NewPrinter(progressOut, cmd.ErrOrStderr())
	progress := ux.NewProgress(printer, ux.ShouldShowProgress() && ux.IsTerminal(stdoutFile(progressOut)))

	orch, err := a.orchestrator(ctx, progress)
	if err != nil {
		return err
	}

	printer.Title(fmt.Sprintf("termite %s: %s program", version, cfg.Run.Library))
	res, runErr := orch.Run(ctx, request)
	progress.Summary(res, !f.printCode)

	if f.printCode && res.Candidate.Code != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Candidate.Code)
	}
	if runErr != nil {
		return &ExitError{Code: ExitFailure, Err: runErr}
	}
	if !res.Succeeded() {
		return &ExitError{Code: ExitProgramFailed}
	}

	if f.runAfter {
		return runFinal(cmd, a, printer, res)
	}
	return nil
}

// runFinal runs the program the loop produced, attached to this terminal.
func runFinal(cmd *cobra.Command, a *app, printer *ux.Printer, res pipeline.Result) error {
	path, err := saveProgram(res)
	if err != nil {
		return err
	}
	printer.Info("saved to " + path)
	return execInteractive(cmd, a, path)
}
