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
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/termite/cmd/termite/config"
	"github.com/AleutianAI/termite/pkg/logging"
	"github.com/AleutianAI/termite/pkg/telemetry"
	"github.com/AleutianAI/termite/pkg/ux"
	"github.com/AleutianAI/termite/services/deps"
	"github.com/AleutianAI/termite/services/llm"
	"github.com/AleutianAI/termite/services/pipeline"
	"github.com/AleutianAI/termite/services/runtime"
	"github.com/AleutianAI/termite/services/sandbox"
	"github.com/AleutianAI/termite/services/synth"
)

const (
	// shutdownTimeout bounds flushing traces and metrics on exit.
	shutdownTimeout = 5 * time.Second

	cacheDialTimeout = 3 * time.Second
)

// app is everything one CLI invocation wires together.
type app struct {
	cfg       config.TermiteConfig
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	env       *runtime.Env
	cache     deps.Cache
}

// newApp starts logging and telemetry. Components that talk to the backend
// are built later by orchestrator, so "run" and "config" work without one.
func newApp(ctx context.Context, cfg config.TermiteConfig) (*app, error) {
	logCfg := cfg.LoggerConfig("termite")
	// The console belongs to the progress printer unless debugging.
	logCfg.Quiet = logCfg.Level != logging.LevelDebug
	logger := logging.New(logCfg)
	slog.SetDefault(logger.Slog())

	tel, err := telemetry.Init(ctx, cfg.TelemetryOptions(version))
	if err != nil {
		logger.Close()
		return nil, err
	}

	env := runtime.NewEnv(runtime.EnvConfig{
		Dir:            cfg.Runtime.VenvDir,
		BasePython:     cfg.Runtime.BasePython,
		InstallTimeout: cfg.Runtime.InstallTimeout,
		Logger:         logger.Slog(),
	})

	return &app{cfg: cfg, logger: logger, telemetry: tel, env: env}, nil
}

// orchestrator builds the synthesis pipeline around progress.
func (a *app) orchestrator(ctx context.Context, progress *ux.Progress) (*pipeline.Orchestrator, error) {
	settings, err := a.cfg.LLMSettings()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(settings)
	if err != nil {
		return nil, err
	}
	log := a.logger.Slog()

	a.cache = openCache(ctx, a.cfg.Runtime, log)
	resolver := deps.NewResolver(client, a.env, deps.Config{
		Model:  a.cfg.ResolveModel(),
		Cache:  a.cache,
		Logger: log,
	})

	sbCfg := sandbox.Config{
		Timeout:     a.cfg.Run.ExecTimeout,
		GracePeriod: a.cfg.Sandbox.GracePeriod,
		Rows:        a.cfg.Sandbox.Rows,
		Cols:        a.cfg.Sandbox.Cols,
		TempDir:     expandHome(a.cfg.Sandbox.TempDir),
		Interpreter: a.env,
		Logger:      log,
	}
	if !a.cfg.Sandbox.SyntaxCheck {
		sbCfg.SyntaxChecker = sandbox.NopSyntaxChecker{}
	}

	opts := []synth.Option{synth.WithModel(a.cfg.Backend.Model), synth.WithLogger(log)}
	if progress != nil {
		opts = append(opts, synth.WithTokenHook(progress.TokenHook()))
	}

	var observer pipeline.Observer = pipeline.NopObserver{}
	if progress != nil {
		observer = progress
	}

	return pipeline.New(a.cfg.Run, pipeline.Components{
		Generator: synth.NewSynthesizer(client, a.cfg.Run.Library, opts...),
		Critic:    synth.NewCritic(client, opts...),
		Executor:  sandbox.NewExecutor(sbCfg),
		Deps:      resolver,
		Installer: a.env,
	}, pipeline.Options{
		Observer:   observer,
		Registerer: a.telemetry.Registry,
		Logger:     log,
	})
}

// Close flushes telemetry and releases the cache and the log file.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// openCache opens the shared or persistent module cache, falling back to
// memory when neither is configured or the one configured is unavailable.
func openCache(ctx context.Context, rc config.RuntimeConfig, log *slog.Logger) deps.Cache {
	if rc.CacheURL != "" {
		ctx, cancel := context.WithTimeout(ctx, cacheDialTimeout)
		defer cancel()
		cache, err := deps.OpenRedisCache(ctx, rc.CacheURL, rc.CacheTTL)
		if err == nil {
			return cache
		}
		log.Warn("Shared dependency cache unavailable", "error", err)
	}
	if rc.CacheDir == "" {
		return deps.NewMemoryCache()
	}
	cc := deps.DefaultCacheConfig(expandHome(rc.CacheDir))
	cc.TTL = rc.CacheTTL
	cc.Logger = log

	cache, err := deps.OpenBadgerCache(cc)
	if err != nil {
		log.Warn("Dependency cache unavailable, using memory", "dir", cc.Path, "error", err)
		return deps.NewMemoryCache()
	}
	return cache
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
