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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/termite/cmd/termite/config"
	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/deps"
	"github.com/AleutianAI/termite/services/pipeline"
)

// clearEnv unsets every variable the config overlay reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvOpenAIKey, config.EnvOpenAIBaseURL, config.EnvAnthropicKey,
		config.EnvOllamaModel, config.EnvOllamaBaseURL, config.EnvProvider,
		config.EnvModel, config.EnvLibrary, config.EnvRefine, config.EnvRefineIters,
		config.EnvFixIters, config.EnvTimeout, config.EnvVenvDir, config.EnvLogLevel,
		config.EnvCacheURL,
	} {
		t.Setenv(key, "")
	}
}

// runConfigCmd executes "termite config" with args and parses its output.
func runConfigCmd(t *testing.T, args ...string) (config.TermiteConfig, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termite.yaml")

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"config", "--config", path}, args...))
	require.NoError(t, root.Execute(), errOut.String())

	var cfg config.TermiteConfig
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	return cfg, out.String()
}

func TestConfigCmd_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, out := runConfigCmd(t)
	assert.Equal(t, datatypes.DefaultRunConfig(), cfg.Run)
	assert.Contains(t, out, "OPENAI_API_KEY: unset")
	assert.Contains(t, out, "# selected backend: none")
}

func TestConfigCmd_FlagsOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvFixIters, "9")
	t.Setenv(config.EnvOllamaModel, "qwen")

	cfg, out := runConfigCmd(t,
		"--library", "Rich",
		"--fix-iters", "3",
		"--timeout", "7",
		"--provider", "OLLAMA",
		"--model", "qwen2.5-coder",
		"--log-level", "debug",
		"--metrics-file", "/tmp/m.prom",
		"--trace-file", "/tmp/t.json",
	)

	assert.Equal(t, datatypes.LibraryRich, cfg.Run.Library)
	assert.Equal(t, 3, cfg.Run.FixIters, "flags win over the environment")
	assert.Equal(t, 7*time.Second, cfg.Run.ExecTimeout)
	assert.Equal(t, "ollama", cfg.Backend.Provider)
	assert.Equal(t, "qwen2.5-coder", cfg.Backend.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/m.prom", cfg.Telemetry.MetricsFile)
	assert.Equal(t, "/tmp/t.json", cfg.Telemetry.TraceFile)
	assert.False(t, cfg.Run.ShouldRefine)
	assert.Contains(t, out, "# selected backend: ollama")
}

func TestConfigCmd_RefineItersImpliesRefine(t *testing.T) {
	clearEnv(t)

	cfg, _ := runConfigCmd(t, "--refine-iters", "2")
	assert.True(t, cfg.Run.ShouldRefine)
	assert.Equal(t, 2, cfg.Run.RefineIters)

	cfg, _ = runConfigCmd(t, "--refine-iters", "2", "--refine=false")
	assert.False(t, cfg.Run.ShouldRefine, "an explicit --refine=false wins")
}

func TestConfigCmd_InvalidFlags(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "termite.yaml")

	for _, args := range [][]string{
		{"--library", "tkinter"},
		{"--timeout", "soon"},
		{"--fix-iters", "-1"},
		{"--provider", "bard"},
	} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"config", "--config", path}, args...))
		assert.Error(t, root.Execute(), "%v", args)
	}
}

func TestGenerate_NoRequestWithoutTerminal(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMITE_PERSONALITY", "machine")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "termite.yaml")})

	err := root.Execute()
	assert.ErrorIs(t, err, errNoRequest)
}

func TestRequestAnswers_Apply(t *testing.T) {
	rc := datatypes.DefaultRunConfig()
	rc.RefineIters = 0

	got := requestAnswers{Request: "x", Library: "textual", Refine: true}.apply(rc)
	assert.Equal(t, datatypes.LibraryTextual, got.Library)
	assert.True(t, got.ShouldRefine)
	assert.Equal(t, datatypes.DefaultRefineIters, got.RefineIters)

	got = requestAnswers{Library: "unknown"}.apply(rc)
	assert.Equal(t, rc.Library, got.Library)
	assert.False(t, got.ShouldRefine)
}

func TestValidateRequest(t *testing.T) {
	assert.Error(t, validateRequest("   "))
	assert.NoError(t, validateRequest("a clock"))
}

func TestSaveProgram(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	path, err := saveProgram(pipeline.Result{
		RunID:     "0123456789abcdef",
		Library:   datatypes.LibraryCurses,
		Candidate: datatypes.NewCandidate("import curses"),
	})
	require.NoError(t, err)
	assert.Equal(t, "termite_curses_01234567.py", path)

	data, err := os.ReadFile(filepath.Join(dir, path))
	require.NoError(t, err)
	assert.Equal(t, "import curses\n", string(data))
}

func TestOpenCache(t *testing.T) {
	log := slog.Default()

	mem := openCache(context.Background(), config.RuntimeConfig{}, log)
	_, ok := mem.(*deps.MemoryCache)
	assert.True(t, ok, "no directory means memory")

	dir := filepath.Join(t.TempDir(), "cache")
	first := openCache(context.Background(), config.RuntimeConfig{CacheDir: dir, CacheTTL: time.Hour}, log)
	defer first.Close()
	_, ok = first.(*deps.BadgerCache)
	require.True(t, ok)

	// The directory is locked by the first handle.
	second := openCache(context.Background(), config.RuntimeConfig{CacheDir: dir}, log)
	defer second.Close()
	_, ok = second.(*deps.MemoryCache)
	assert.True(t, ok, "a locked database falls back to memory")
}

func TestOpenCache_Redis(t *testing.T) {
	log := slog.Default()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache := openCache(context.Background(), config.RuntimeConfig{CacheURL: "redis://" + mr.Addr()}, log)
	defer cache.Close()
	_, ok := cache.(*deps.RedisCache)
	assert.True(t, ok, "a reachable server wins over the directory")

	addr := mr.Addr()
	mr.Close()
	fallback := openCache(context.Background(), config.RuntimeConfig{CacheURL: "redis://" + addr}, log)
	defer fallback.Close()
	_, ok = fallback.(*deps.MemoryCache)
	assert.True(t, ok, "an unreachable server falls back")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".termite"), expandHome("~/.termite"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
}

func TestExitError(t *testing.T) {
	inner := errors.New("backend down")
	err := &ExitError{Code: ExitFailure, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "backend down", err.Error())
	assert.Equal(t, "exit status 2", (&ExitError{Code: ExitProgramFailed}).Error())
}
