// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package runtime owns the isolated Python environment that generated programs
run in.

# Overview

This package contains three components:

  - Env: a virtualenv created lazily on first use and reused across runs
  - ProcessManager: abstracts the venv and pip commands for testability
  - ProcessLock: file-based locking so two termite processes never build or
    install into the same virtualenv at once

# Env

	env := runtime.NewEnv(runtime.EnvConfig{Dir: "~/.termite/venv"})
	python, err := env.Python(ctx) // creates the venv on first call
	if err != nil {
	    return fmt.Errorf("prepare environment: %w", err)
	}
	if err := env.Install(ctx, "rich"); err != nil {
	    var cmdErr *runtime.CommandError
	    if errors.As(err, &cmdErr) {
	        fmt.Println(cmdErr.Stderr)
	    }
	}

For testing, use MockProcessManager:

	mock := &runtime.MockProcessManager{
	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
	        return nil, nil
	    },
	}

# Thread Safety

  - Env is safe for concurrent use
  - ProcessManager implementations are safe for concurrent use
  - ProcessLock is NOT safe for concurrent use from multiple goroutines

# Limitations

  - ProcessLock uses advisory locks and requires flock(2); on windows it only
    serializes within one process
*/
package runtime
