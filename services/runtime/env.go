// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/termite/pkg/validation"
)

var tracer = otel.Tracer("termite.runtime")

// DefaultEnvDir is where the shared virtualenv lives.
const DefaultEnvDir = "~/.termite/venv"

// stdlibModules never need installing. The set covers the modules a terminal
// program commonly imports that a model might mistake for a distribution.
var stdlibModules = map[string]struct{}{
	"curses": {}, "tkinter": {}, "sqlite3": {}, "asyncio": {}, "json": {},
	"os": {}, "sys": {}, "re": {}, "time": {}, "random": {}, "math": {},
	"datetime": {}, "collections": {}, "itertools": {}, "functools": {},
	"subprocess": {}, "threading": {}, "queue": {}, "signal": {}, "shutil": {},
	"pathlib": {}, "typing": {}, "dataclasses": {}, "argparse": {},
	"logging": {}, "textwrap": {}, "string": {}, "locale": {}, "select": {},
	"termios": {}, "tty": {}, "pty": {}, "unicodedata": {}, "enum": {},
	"socket": {}, "platform": {}, "glob": {}, "csv": {}, "urllib": {},
	"http": {}, "uuid": {}, "hashlib": {}, "statistics": {}, "copy": {},
}

// IsStdlib reports whether name is a standard-library module.
func IsStdlib(name string) bool {
	_, ok := stdlibModules[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// EnvConfig configures an Env.
type EnvConfig struct {
	// Dir is the virtualenv directory. "~" is expanded.
	// Default: DefaultEnvDir
	Dir string

	// BasePython creates the virtualenv.
	// Default: "python3"
	BasePython string

	// InstallTimeout bounds a single pip install.
	// Default: 5 minutes
	InstallTimeout time.Duration

	ProcessManager ProcessManager
	Logger         *slog.Logger
}

// Env is an isolated Python environment, created on first use.
//
// # Thread Safety
//
// Env is safe for concurrent use. Creation happens at most once per process
// when it succeeds; a failed creation is retried on the next call.
type Env struct {
	dir            string
	basePython     string
	installTimeout time.Duration
	pm             ProcessManager
	logger         *slog.Logger

	mu        sync.Mutex
	ready     bool
	installed map[string]struct{}
}

// NewEnv creates an Env. Nothing touches the filesystem until first use.
func NewEnv(cfg EnvConfig) *Env {
	if cfg.Dir == "" {
		cfg.Dir = DefaultEnvDir
	}
	if cfg.BasePython == "" {
		cfg.BasePython = "python3"
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 5 * time.Minute
	}
	if cfg.ProcessManager == nil {
		cfg.ProcessManager = NewDefaultProcessManager()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Env{
		dir:            expandPath(cfg.Dir),
		basePython:     cfg.BasePython,
		installTimeout: cfg.InstallTimeout,
		pm:             cfg.ProcessManager,
		logger:         cfg.Logger,
		installed:      make(map[string]struct{}),
	}
}

// Dir returns the virtualenv directory.
func (e *Env) Dir() string {
	return e.dir
}

// PythonPath returns where the environment's interpreter lives, whether or
// not it exists yet.
func (e *Env) PythonPath() string {
	if goruntime.GOOS == "windows" {
		return filepath.Join(e.dir, "Scripts", "python.exe")
	}
	return filepath.Join(e.dir, "bin", "python")
}

// Python returns the interpreter path, creating the environment if needed.
func (e *Env) Python(ctx context.Context) (string, error) {
	if err := e.Ensure(ctx); err != nil {
		return "", err
	}
	return e.PythonPath(), nil
}

// Ensure creates the virtualenv if it does not exist.
//
// # Description
//
// Creation is guarded twice: a mutex within this process and a ProcessLock
// next to the environment across processes. The interpreter is checked
// again after the lock is taken, since another process may have finished
// creating it while this one waited.
func (e *Env) Ensure(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}
	if fileExists(e.PythonPath()) {
		e.ready = true
		return nil
	}

	ctx, span := tracer.Start(ctx, "runtime.Env.Ensure",
		trace.WithAttributes(attribute.String("dir", e.dir)),
	)
	defer span.End()

	parent := filepath.Dir(e.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}

	lock := e.processLock()
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("lock environment: %w", err)
	}
	defer lock.Release()

	if !fileExists(e.PythonPath()) {
		e.logger.Info("Creating Python environment", "dir", e.dir, "python", e.basePython)
		if _, err := e.pm.Run(ctx, e.basePython, "-m", "venv", e.dir); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "venv creation failed")
			return fmt.Errorf("create virtualenv: %w", err)
		}
	}

	e.ready = true
	return nil
}

// Install installs a distribution into the environment.
//
// # Description
//
// Standard-library names return ErrStdlib without running anything.
// Packages this Env has already installed return nil. pip runs under the
// same cross-process lock as creation, so two termite processes never
// write site-packages at once. Failures come back as *CommandError with
// pip's stderr.
func (e *Env) Install(ctx context.Context, pkg string) error {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return fmt.Errorf("install: empty package name")
	}
	if IsStdlib(pkg) {
		e.logger.Debug("Skipping standard-library module", "package", pkg)
		return fmt.Errorf("install %s: %w", pkg, ErrStdlib)
	}
	if err := validation.ValidatePackage(pkg); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	e.mu.Lock()
	_, done := e.installed[pkg]
	e.mu.Unlock()
	if done {
		return nil
	}

	python, err := e.Python(ctx)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "runtime.Env.Install",
		trace.WithAttributes(attribute.String("package", pkg)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.installTimeout)
	defer cancel()

	lock := e.processLock()
	if err := lock.Acquire(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("install %s: lock environment: %w", pkg, err)
	}
	defer lock.Release()

	start := time.Now()
	_, err = e.pm.Run(ctx, python, "-m", "pip", "install", "--disable-pip-version-check", "--quiet", pkg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pip install failed")
		e.logger.Warn("Package install failed", "package", pkg, "error", err)
		return fmt.Errorf("install %s: %w", pkg, err)
	}

	e.mu.Lock()
	e.installed[pkg] = struct{}{}
	e.mu.Unlock()

	e.logger.Info("Installed package", "package", pkg, "duration", time.Since(start))
	return nil
}

// processLock returns the lock that guards this environment across
// processes. It lives next to the environment directory.
func (e *Env) processLock() *ProcessLock {
	return NewProcessLock(ProcessLockConfig{LockDir: filepath.Dir(e.dir), LockName: filepath.Base(e.dir)})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
