// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/termite/services/datatypes"
)

// Environment variables read by ApplyEnv.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOllamaModel   = "OLLAMA_MODEL"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"

	EnvProvider    = "TERMITE_PROVIDER"
	EnvModel       = "TERMITE_MODEL"
	EnvLibrary     = "TERMITE_LIBRARY"
	EnvRefine      = "TERMITE_REFINE"
	EnvRefineIters = "TERMITE_REFINE_ITERS"
	EnvFixIters    = "TERMITE_FIX_ITERS"
	EnvTimeout     = "TERMITE_TIMEOUT"
	EnvVenvDir     = "TERMITE_VENV"
	EnvLogLevel    = "TERMITE_LOG_LEVEL"
	EnvCacheURL    = "TERMITE_CACHE_URL"
)

// DefaultPath returns ~/.termite/termite.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".termite", "termite.yaml"), nil
}

// Load reads the config file at path, creating it with defaults when it does
// not exist. Fields missing from the file keep their defaults.
//
// # Outputs
//
//   - TermiteConfig: file values over DefaultConfig. Not yet validated.
//   - bool: true when the file was created by this call.
//   - error: the file could not be created, read or parsed.
func Load(path string) (TermiteConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return TermiteConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TermiteConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TermiteConfig{}, created, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return cfg, created, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadDotEnv loads each existing file into the process environment.
// Variables that are already set win over the files.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// os.Getenv. Malformed numbers and durations are reported together.
func ApplyEnv(cfg *TermiteConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str(EnvOpenAIKey, &cfg.Backend.OpenAIKey)
	str(EnvOpenAIBaseURL, &cfg.Backend.OpenAIBaseURL)
	str(EnvAnthropicKey, &cfg.Backend.AnthropicKey)
	str(EnvOllamaModel, &cfg.Backend.OllamaModel)
	str(EnvOllamaBaseURL, &cfg.Backend.OllamaBaseURL)
	str(EnvProvider, &cfg.Backend.Provider)
	str(EnvModel, &cfg.Backend.Model)
	str(EnvVenvDir, &cfg.Runtime.VenvDir)
	str(EnvLogLevel, &cfg.Logging.Level)
	str(EnvCacheURL, &cfg.Runtime.CacheURL)

	var errs []error
	if v := strings.TrimSpace(getenv(EnvLibrary)); v != "" {
		lib, err := datatypes.ParseLibrary(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvLibrary, err))
		} else {
			cfg.Run.Library = lib
		}
	}
	if v := strings.TrimSpace(getenv(EnvRefine)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRefine, err))
		} else {
			cfg.Run.ShouldRefine = b
		}
	}
	for key, dst := range map[string]*int{EnvRefineIters: &cfg.Run.RefineIters, EnvFixIters: &cfg.Run.FixIters} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = n
		}
	}
	if v := strings.TrimSpace(getenv(EnvTimeout)); v != "" {
		d, err := ParseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTimeout, err))
		} else {
			cfg.Run.ExecTimeout = d
		}
	}
	return errors.Join(errs...)
}

// ParseSeconds accepts a Go duration ("7s", "1m") or a bare number of
// seconds ("7", "2.5").
func ParseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}
