// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the termite CLI configuration.
//
// # Description
//
// Configuration is layered: DefaultConfig, then ~/.termite/termite.yaml
// (written with defaults on first run), then the environment (after a .env
// file is loaded), then command-line flags. API keys are only ever taken
// from the environment and never written back to the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/termite/pkg/logging"
	"github.com/AleutianAI/termite/pkg/telemetry"
	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
	"github.com/AleutianAI/termite/services/runtime"
	"github.com/AleutianAI/termite/services/sandbox"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

type TermiteConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Run: the synthesis loop
	Run datatypes.RunConfig `yaml:"run"`

	// Backend: which completion service to talk to
	Backend BackendConfig `yaml:"backend"`

	// Sandbox: how candidates are executed
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Runtime: the Python environment and its package cache
	Runtime RuntimeConfig `yaml:"runtime"`

	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type BackendConfig struct {
	// Provider is "auto", "openai", "anthropic" or "ollama".
	Provider string `yaml:"provider" validate:"omitempty,oneof=auto openai anthropic ollama"`

	// Model overrides the provider's model for every call.
	Model string `yaml:"model,omitempty"`

	OpenAIModel    string `yaml:"openai_model,omitempty"`
	OpenAIBaseURL  string `yaml:"openai_base_url,omitempty" validate:"omitempty,url"`
	AnthropicModel string `yaml:"anthropic_model,omitempty"`
	AnthropicURL   string `yaml:"anthropic_url,omitempty" validate:"omitempty,url"`
	OllamaModel    string `yaml:"ollama_model,omitempty"`
	OllamaBaseURL  string `yaml:"ollama_base_url,omitempty" validate:"omitempty,url"`

	// ResolveModel answers "which package provides this module" questions.
	// Empty means Model.
	ResolveModel string `yaml:"resolve_model,omitempty"`

	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`

	// Secrets, environment only
	OpenAIKey    string `yaml:"-"`
	AnthropicKey string `yaml:"-"`
}

type SandboxConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" validate:"gte=0"`
	Rows        uint16        `yaml:"rows" validate:"gte=1"`
	Cols        uint16        `yaml:"cols" validate:"gte=1"`
	TempDir     string        `yaml:"temp_dir,omitempty"`

	// SyntaxCheck runs the parser before spawning.
	SyntaxCheck bool `yaml:"syntax_check"`
}

type RuntimeConfig struct {
	VenvDir        string        `yaml:"venv_dir" validate:"required"`
	BasePython     string        `yaml:"base_python" validate:"required"`
	InstallTimeout time.Duration `yaml:"install_timeout" validate:"gte=1s"`

	// CacheDir holds the module-to-package cache. Empty keeps it in memory.
	CacheDir string        `yaml:"cache_dir,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	// CacheURL points at a shared Redis cache and takes precedence over
	// CacheDir when set.
	CacheURL string `yaml:"cache_url,omitempty" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	TraceFile   string `yaml:"trace_file,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() TermiteConfig {
	return TermiteConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Run:  datatypes.DefaultRunConfig(),
		Backend: BackendConfig{
			Provider:      "auto",
			OllamaBaseURL: llm.DefaultOllamaBaseURL,
		},
		Sandbox: SandboxConfig{
			GracePeriod: sandbox.DefaultGracePeriod,
			Rows:        sandbox.DefaultRows,
			Cols:        sandbox.DefaultCols,
			SyntaxCheck: true,
		},
		Runtime: RuntimeConfig{
			VenvDir:        runtime.DefaultEnvDir,
			BasePython:     "python3",
			InstallTimeout: 5 * time.Minute,
			CacheDir:       "~/.termite/cache",
			CacheTTL:       30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.termite/logs",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section and lists every violated field.
func (c TermiteConfig) Validate() error {
	var msgs []string
	if err := c.Run.Validate(); err != nil {
		msgs = append(msgs, err.Error())
	}
	for _, section := range []any{c.Backend, c.Sandbox, c.Runtime, c.Logging} {
		err := validate.Struct(section)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// LLMSettings returns the backend settings for llm.NewClient.
func (c TermiteConfig) LLMSettings() (llm.Settings, error) {
	provider, err := llm.ParseProvider(c.Backend.Provider)
	if err != nil {
		return llm.Settings{}, err
	}
	return llm.Settings{
		Provider:          provider,
		OpenAIKey:         c.Backend.OpenAIKey,
		OpenAIModel:       c.Backend.OpenAIModel,
		OpenAIBaseURL:     c.Backend.OpenAIBaseURL,
		AnthropicKey:      c.Backend.AnthropicKey,
		AnthropicModel:    c.Backend.AnthropicModel,
		AnthropicURL:      c.Backend.AnthropicURL,
		OllamaModel:       c.Backend.OllamaModel,
		OllamaBaseURL:     c.Backend.OllamaBaseURL,
		RequestsPerMinute: c.Backend.RequestsPerMinute,
	}, nil
}

// ResolveModel returns the model used for package-name questions.
func (c TermiteConfig) ResolveModel() string {
	if c.Backend.ResolveModel != "" {
		return c.Backend.ResolveModel
	}
	return c.Backend.Model
}

// LoggerConfig returns the logger configuration for service.
func (c TermiteConfig) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}

// TelemetryOptions returns the telemetry configuration for version.
func (c TermiteConfig) TelemetryOptions(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.TraceFile = c.Telemetry.TraceFile
	cfg.MetricsFile = c.Telemetry.MetricsFile
	return cfg
}
