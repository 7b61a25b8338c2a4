// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm talks to the text-completion backends termite synthesizes
// programs with.
//
// Three backends are supported: OpenAI (via go-openai), Anthropic (Messages
// API over HTTP) and Ollama (/api/chat over HTTP). All of them implement
// LLMClient. NewClient picks one from an explicit Settings value; nothing in
// this package reads the environment.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/termite/services/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("termite.llm")

// DefaultMaxTokens caps every completion unless a call overrides it.
const DefaultMaxTokens = 8192

// DefaultTemperature is used when a call does not set one.
const DefaultTemperature float32 = 0.7

// ErrNoBackendConfigured is returned when Settings names no usable backend.
// It is fatal for a run.
var ErrNoBackendConfigured = errors.New("no completion backend configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY or OLLAMA_MODEL")

// GenerationParams tunes a single completion call. Nil fields fall back to
// the client's defaults.
type GenerationParams struct {
	// Model overrides the client's configured model for this call.
	Model string

	Temperature *float32
	MaxTokens   *int

	// Prediction is a speculative-continuation hint: text the answer is
	// expected to largely repeat. Backends without predicted outputs ignore it.
	Prediction string
}

// LLMClient is a text-completion backend.
//
// # Description
//
// Chat returns the whole completion. ChatStream delivers it fragment by
// fragment to callback, in emission order, and returns once the stream is
// drained or the callback fails. A stream cannot be restarted.
//
// Transport and authentication failures are returned as *BackendError.
type LLMClient interface {
	Chat(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}

// =============================================================================
// Streaming
// =============================================================================

// StreamEventType classifies a StreamEvent.
type StreamEventType string

const (
	// StreamEventToken carries a text fragment in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone is emitted once after the last fragment.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one element of a completion stream.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events. Returning an error aborts the
// stream and ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// Drain runs ChatStream and concatenates every token into one string.
//
// # Description
//
// The synthesizer only needs complete text, so it drains streams eagerly.
// onToken, when non-nil, observes each fragment as it arrives.
func Drain(ctx context.Context, client LLMClient, system string, messages []datatypes.Message,
	params GenerationParams, onToken func(string)) (string, error) {

	var sb strings.Builder
	err := client.ChatStream(ctx, system, messages, params, func(ev StreamEvent) error {
		if ev.Type == StreamEventToken {
			sb.WriteString(ev.Content)
			if onToken != nil {
				onToken(ev.Content)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// =============================================================================
// Errors
// =============================================================================

// BackendError reports a failed call to a completion backend. It is fatal
// for a run and never retried.
type BackendError struct {
	// Backend is the provider name, e.g. "openai".
	Backend string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend failed with status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend failed: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err is or wraps a *BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

func backendErr(span trace.Span, backend string, status int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &BackendError{Backend: backend, StatusCode: status, Err: err}
}

// =============================================================================
// Helpers
// =============================================================================

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams literals.
func Int(v int) *int { return &v }

func (p GenerationParams) temperature() float32 {
	if p.Temperature != nil {
		return *p.Temperature
	}
	return DefaultTemperature
}

func (p GenerationParams) maxTokens() int {
	if p.MaxTokens != nil {
		return *p.MaxTokens
	}
	return DefaultMaxTokens
}

func (p GenerationParams) model(fallback string) string {
	if p.Model != "" {
		return p.Model
	}
	return fallback
}
