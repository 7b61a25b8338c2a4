// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deps repairs programs that fail because a module is missing.
//
// # Description
//
// A failed run's error stream is matched for a missing-module message. The
// module name is mapped to the distribution that provides it (cache first,
// then one low-temperature completion) and that distribution is installed
// into the runtime environment. Each Fix call does this at most once.
//
// # Thread Safety
//
// Resolver is safe for concurrent use.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/termite/pkg/validation"
	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
	"github.com/AleutianAI/termite/services/runtime"
	"github.com/AleutianAI/termite/services/synth"
)

var tracer = otel.Tracer("termite.deps")

// resolveTemperature keeps package-name answers deterministic.
const resolveTemperature float32 = 0.1

// resolveMaxTokens is plenty for one package name.
const resolveMaxTokens = 32

var missingModuleRe = regexp.MustCompile(`No module named '([\w.]+)'`)

// MatchMissingModule finds the module a ModuleNotFoundError names. Dotted
// names are reduced to their top-level package, since that is what gets
// installed.
//
// # Examples
//
//	MatchMissingModule("ModuleNotFoundError: No module named 'yaml'")      // "yaml", true
//	MatchMissingModule("ModuleNotFoundError: No module named 'google.protobuf'") // "google", true
//	MatchMissingModule("ValueError: bad")                                  // "", false
func MatchMissingModule(stderr string) (string, bool) {
	m := missingModuleRe.FindStringSubmatch(stderr)
	if m == nil {
		return "", false
	}
	module, _, _ := strings.Cut(m[1], ".")
	if module == "" {
		return "", false
	}
	return module, true
}

// Installer installs a distribution into the environment candidates run in.
type Installer interface {
	Install(ctx context.Context, pkg string) error
}

// Outcome is what one Fix attempt did.
type Outcome struct {
	// Matched is true when stderr named a missing module.
	Matched bool

	Module  string
	Package string

	// Cached is true when Package came from the cache.
	Cached bool

	// Installed is true when the install succeeded.
	Installed bool

	// Skipped is true when the package ships with the interpreter, so
	// nothing was installed and a rerun would fail the same way.
	Skipped bool

	// InstallErr is the install failure, if any. It is recorded, never
	// returned: the attempt simply stays failed.
	InstallErr error
}

// Config configures a Resolver.
type Config struct {
	// Model overrides the backend model for resolve calls.
	Model string

	// Cache remembers past answers. Default: a MemoryCache.
	Cache Cache

	Logger *slog.Logger
}

// Resolver maps missing modules to packages and installs them.
type Resolver struct {
	client    llm.LLMClient
	installer Installer
	cache     Cache
	model     string
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(client llm.LLMClient, installer Installer, cfg Config) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		client:    client,
		installer: installer,
		cache:     cfg.Cache,
		model:     cfg.Model,
		logger:    cfg.Logger,
	}
}

// Resolve returns the package that provides module.
//
// # Outputs
//
//   - string: the package name, never empty
//   - bool: true when the answer came from the cache
//   - error: a backend failure, which is fatal for the run
func (r *Resolver) Resolve(ctx context.Context, module string) (string, bool, error) {
	if pkg, ok, err := r.cache.Get(ctx, module); err != nil {
		r.logger.Warn("Dependency cache read failed", "module", module, "error", err)
	} else if ok {
		return pkg, true, nil
	}

	params := llm.GenerationParams{
		Model:       r.model,
		Temperature: llm.Float32(resolveTemperature),
		MaxTokens:   llm.Int(resolveMaxTokens),
	}
	messages := []datatypes.Message{datatypes.UserMessage(fmt.Sprintf("import %s", module))}

	raw, err := r.client.Chat(ctx, synth.ResolvePrompt, messages, params)
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", module, err)
	}

	pkg := SanitizePackage(raw, module)
	if err := r.cache.Put(ctx, module, pkg); err != nil {
		r.logger.Warn("Dependency cache write failed", "module", module, "error", err)
	}
	return pkg, false, nil
}

// Install installs pkg through the configured Installer.
func (r *Resolver) Install(ctx context.Context, pkg string) error {
	return r.installer.Install(ctx, pkg)
}

// Fix matches stderr, resolves the module and installs its package, once.
//
// # Outputs
//
//   - Outcome: what was matched, resolved and installed
//   - error: only backend failures; an install failure is in
//     Outcome.InstallErr
func (r *Resolver) Fix(ctx context.Context, stderr string) (Outcome, error) {
	module, ok := MatchMissingModule(stderr)
	if !ok {
		return Outcome{}, nil
	}

	ctx, span := tracer.Start(ctx, "deps.Fix",
		trace.WithAttributes(attribute.String("module", module)),
	)
	defer span.End()

	out := Outcome{Matched: true, Module: module}

	pkg, cached, err := r.Resolve(ctx, module)
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	out.Package, out.Cached = pkg, cached
	span.SetAttributes(attribute.String("package", pkg), attribute.Bool("cached", cached))

	if err := r.Install(ctx, pkg); err != nil {
		if errors.Is(err, runtime.ErrStdlib) {
			out.Skipped = true
			r.logger.Info("Missing module is part of the standard library", "module", module, "package", pkg)
			return out, nil
		}
		out.InstallErr = err
		span.RecordError(err)
		r.logger.Warn("Dependency install failed", "module", module, "package", pkg, "error", err)
		return out, nil
	}

	out.Installed = true
	r.logger.Info("Installed missing dependency", "module", module, "package", pkg, "cached", cached)
	return out, nil
}

// SanitizePackage reduces a completion to a single package token. Answers
// that do not look like a package name fall back to module.
//
// # Examples
//
//	SanitizePackage("`PyYAML`\n", "yaml")          // "PyYAML"
//	SanitizePackage("pip install scikit-learn", "sklearn") // "scikit-learn"
//	SanitizePackage("???", "foo")                  // "foo"
func SanitizePackage(raw, module string) string {
	s := strings.TrimSpace(raw)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = line
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Output:")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "pip install ")
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	s = strings.Trim(s, "`'\".,;:")

	if validation.ValidatePackage(s) != nil {
		return module
	}
	return s
}
