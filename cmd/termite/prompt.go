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
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/termite/services/datatypes"
)

// requestAnswers is what the interactive form collects.
type requestAnswers struct {
	Request string
	Library string
	Refine  bool
}

// apply returns rc with the chosen library and refinement.
func (a requestAnswers) apply(rc datatypes.RunConfig) datatypes.RunConfig {
	if lib, err := datatypes.ParseLibrary(a.Library); err == nil {
		rc.Library = lib
	}
	rc.ShouldRefine = a.Refine
	if rc.ShouldRefine && rc.RefineIters == 0 {
		rc.RefineIters = datatypes.DefaultRefineIters
	}
	return rc
}

// askRequest collects a request interactively, seeded from rc.
func askRequest(rc datatypes.RunConfig) (requestAnswers, error) {
	answers := requestAnswers{Library: string(rc.Library), Refine: rc.ShouldRefine}

	options := make([]huh.Option[string], len(datatypes.Libraries))
	for i, lib := range datatypes.Libraries {
		options[i] = huh.NewOption(string(lib), string(lib))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("What should the program do?").
				Placeholder("A todo list with add, toggle and delete keys").
				Value(&answers.Request).
				Validate(validateRequest),
			huh.NewSelect[string]().
				Title("Library").
				Options(options...).
				Value(&answers.Library),
			huh.NewConfirm().
				Title("Ask a critic to review the working program?").
				Value(&answers.Refine),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return requestAnswers{}, &ExitError{Code: ExitFailure}
		}
		return requestAnswers{}, err
	}
	answers.Request = strings.TrimSpace(answers.Request)
	return answers, nil
}

func validateRequest(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("describe the program you want")
	}
	return nil
}
