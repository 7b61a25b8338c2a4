// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"strings"
)

// =============================================================================
// Backend Selection
// =============================================================================

// Provider names a completion backend.
type Provider string

const (
	// ProviderAuto picks the first backend with credentials, in the order
	// OpenAI, Anthropic, Ollama.
	ProviderAuto      Provider = ""
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// ParseProvider converts a case-insensitive provider name. "" and "auto"
// both mean ProviderAuto.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "auto", ProviderAuto:
		return ProviderAuto, nil
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		return p, nil
	default:
		return ProviderAuto, fmt.Errorf("unknown provider %q (want openai, anthropic, ollama or auto)", s)
	}
}

// Settings is the complete backend configuration for a process.
//
// # Description
//
// Settings is built once at startup by the configuration layer and passed
// down by value. Nothing in termite reads backend credentials from the
// environment after that point.
type Settings struct {
	// Provider forces a backend. ProviderAuto applies the default precedence.
	Provider Provider

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicKey   string
	AnthropicModel string
	AnthropicURL   string

	OllamaModel   string
	OllamaBaseURL string

	// RequestsPerMinute throttles every call when positive.
	RequestsPerMinute int
}

// Resolve returns the provider that NewClient would use.
//
// # Outputs
//
//   - Provider: Never ProviderAuto on success.
//   - error: ErrNoBackendConfigured when nothing usable is set, or when the
//     forced provider lacks its credential.
func (s Settings) Resolve() (Provider, error) {
	switch s.Provider {
	case ProviderOpenAI:
		if s.OpenAIKey == "" {
			return "", fmt.Errorf("%w: provider openai requires an api key", ErrNoBackendConfigured)
		}
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		if s.AnthropicKey == "" {
			return "", fmt.Errorf("%w: provider anthropic requires an api key", ErrNoBackendConfigured)
		}
		return ProviderAnthropic, nil
	case ProviderOllama:
		if s.OllamaModel == "" {
			return "", fmt.Errorf("%w: provider ollama requires a model", ErrNoBackendConfigured)
		}
		return ProviderOllama, nil
	}

	switch {
	case s.OpenAIKey != "":
		return ProviderOpenAI, nil
	case s.AnthropicKey != "":
		return ProviderAnthropic, nil
	case s.OllamaModel != "":
		return ProviderOllama, nil
	default:
		return "", ErrNoBackendConfigured
	}
}

// NewClient constructs the backend selected by settings, wrapped in a rate
// limiter when RequestsPerMinute is positive.
//
// # Examples
//
//	client, err := llm.NewClient(llm.Settings{OllamaModel: "qwen2.5-coder"})
//	if errors.Is(err, llm.ErrNoBackendConfigured) { ... }
func NewClient(settings Settings) (LLMClient, error) {
	provider, err := settings.Resolve()
	if err != nil {
		return nil, err
	}

	var client LLMClient
	switch provider {
	case ProviderOpenAI:
		client, err = NewOpenAIClient(settings.OpenAIKey, settings.OpenAIModel, settings.OpenAIBaseURL)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(settings.AnthropicKey, settings.AnthropicModel, settings.AnthropicURL)
	case ProviderOllama:
		client, err = NewOllamaClient(settings.OllamaBaseURL, settings.OllamaModel)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", provider, err)
	}

	if settings.RequestsPerMinute > 0 {
		client = NewRateLimitedClient(client, settings.RequestsPerMinute)
	}
	return client, nil
}
