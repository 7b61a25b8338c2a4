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
)

// Exit codes.
const (
	ExitOK = 0

	// ExitFailure covers configuration, backend and sandbox failures.
	ExitFailure = 1

	// ExitProgramFailed means the run finished but the final program still
	// writes to its error stream.
	ExitProgramFailed = 2
)

// errNoRequest is returned when no request was given and none can be asked.
var errNoRequest = errors.New("no request given: pass it as arguments or run in a terminal")

// ExitError carries a process exit code out of a command. Err may be nil
// when the failure has already been reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
