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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/termite/cmd/termite/config"
	"github.com/AleutianAI/termite/pkg/ux"
	"github.com/AleutianAI/termite/services/datatypes"
)

// cliFlags holds every persistent flag. Only flags the user actually set
// override the configuration.
type cliFlags struct {
	configPath  string
	library     string
	refine      bool
	refineIters int
	fixIters    int
	timeout     string
	provider    string
	model       string
	logLevel    string
	logDir      string
	metricsFile string
	traceFile   string
	personality string

	// generate only
	runAfter  bool
	printCode bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "termite [request...]",
		Short: "Generate terminal UI programs from a plain-language request",
		Long: `termite designs, writes, runs and repairs a Python terminal UI program
until it executes cleanly, optionally asking a critic to review it.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if f.personality != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(f.personality))
			} else {
				ux.InitPersonality()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default ~/.termite/termite.yaml)")
	pf.StringVarP(&f.library, "library", "l", "", "target library: "+libraryNames())
	pf.BoolVar(&f.refine, "refine", false, "ask a critic to review the working program")
	pf.IntVar(&f.refineIters, "refine-iters", 0, "maximum refinement rounds")
	pf.IntVar(&f.fixIters, "fix-iters", 0, "maximum regenerations per repair loop")
	pf.StringVar(&f.timeout, "timeout", "", "sandbox run time per attempt, e.g. 5s or 5")
	pf.StringVar(&f.provider, "provider", "", "completion backend: auto, openai, anthropic or ollama")
	pf.StringVar(&f.model, "model", "", "model name for every completion")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&f.logDir, "log-dir", "", "directory for JSON log files")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics here on exit")
	pf.StringVar(&f.traceFile, "trace-file", "", "write OpenTelemetry spans here")
	pf.StringVar(&f.personality, "personality", "", "output style: full, standard, minimal or machine")

	addGenerateFlags := func(c *cobra.Command) {
		c.Flags().BoolVar(&f.runAfter, "run", false, "run the final program in this terminal")
		c.Flags().BoolVar(&f.printCode, "print", false, "print only the final program to stdout")
	}
	addGenerateFlags(rootCmd)

	generateCmd := &cobra.Command{
		Use:     "generate [request...]",
		Aliases: []string{"gen", "g"},
		Short:   "Generate a program (the default command)",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f, args)
		},
	}
	addGenerateFlags(generateCmd)

	runCmd := &cobra.Command{
		Use:   "run <file.py>",
		Short: "Run a program in termite's Python environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, f, args[0])
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, f)
		},
	}

	rootCmd.AddCommand(generateCmd, runCmd, configCmd)
	return rootCmd
}

// loadConfig builds the effective configuration: file, then .env and the
// environment, then flags.
func loadConfig(cmd *cobra.Command, f *cliFlags) (config.TermiteConfig, error) {
	path := f.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.TermiteConfig{}, err
		}
		path = p
	}

	cfg, created, err := config.Load(path)
	if err != nil {
		return config.TermiteConfig{}, err
	}
	if created {
		fmt.Fprintf(cmd.ErrOrStderr(), "First run detected, created the config at %s\n", path)
	}

	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return config.TermiteConfig{}, err
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return config.TermiteConfig{}, err
	}
	if err := applyFlags(cmd, f, &cfg); err != nil {
		return config.TermiteConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.TermiteConfig{}, err
	}
	return cfg, nil
}

// applyFlags overlays the flags the user set onto cfg.
func applyFlags(cmd *cobra.Command, f *cliFlags, cfg *config.TermiteConfig) error {
	set := cmd.Flags().Changed

	if set("library") {
		lib, err := datatypes.ParseLibrary(f.library)
		if err != nil {
			return err
		}
		cfg.Run.Library = lib
	}
	if set("refine") {
		cfg.Run.ShouldRefine = f.refine
	}
	if set("refine-iters") {
		cfg.Run.RefineIters = f.refineIters
		// Asking for rounds implies asking for refinement.
		if !set("refine") && f.refineIters > 0 {
			cfg.Run.ShouldRefine = true
		}
	}
	if set("fix-iters") {
		cfg.Run.FixIters = f.fixIters
	}
	if set("timeout") {
		d, err := config.ParseSeconds(f.timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		cfg.Run.ExecTimeout = d
	}
	if set("provider") {
		cfg.Backend.Provider = strings.ToLower(f.provider)
	}
	if set("model") {
		cfg.Backend.Model = f.model
	}
	if set("log-level") {
		cfg.Logging.Level = strings.ToLower(f.logLevel)
	}
	if set("log-dir") {
		cfg.Logging.Dir = f.logDir
	}
	if set("metrics-file") {
		cfg.Telemetry.MetricsFile = f.metricsFile
	}
	if set("trace-file") {
		cfg.Telemetry.TraceFile = f.traceFile
	}
	return nil
}

func libraryNames() string {
	names := make([]string, len(datatypes.Libraries))
	for i, lib := range datatypes.Libraries {
		names[i] = string(lib)
	}
	return strings.Join(names, ", ")
}
