// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth turns requests into design documents and design documents
// into candidate programs, and judges finished candidates.
//
// Every method makes exactly one completion call. Streams are drained
// eagerly; the optional token hook lets a caller observe progress.
package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
)

// Synthesizer drafts designs and programs with a completion backend.
type Synthesizer struct {
	client  llm.LLMClient
	library datatypes.Library
	model   string
	onToken func(phase string, token string)
	logger  *slog.Logger
}

// Option configures a Synthesizer or a Critic.
type Option func(*options)

type options struct {
	model   string
	onToken func(phase, token string)
	logger  *slog.Logger
}

// WithModel overrides the backend's default model for every call.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithTokenHook observes every streamed fragment. phase is "design",
// "build", "fix" or "refine".
func WithTokenHook(hook func(phase, token string)) Option {
	return func(o *options) { o.onToken = hook }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func collect(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSynthesizer creates a Synthesizer that targets library.
func NewSynthesizer(client llm.LLMClient, library datatypes.Library, opts ...Option) *Synthesizer {
	o := collect(opts)
	return &Synthesizer{
		client:  client,
		library: library,
		model:   o.model,
		onToken: o.onToken,
		logger:  o.logger,
	}
}

// Design produces the design document for request.
//
// # Outputs
//
//   - DesignDocument: Request verbatim plus the model's raw design text.
//   - error: Backend failures, unwrapped from the client.
func (s *Synthesizer) Design(ctx context.Context, request string) (datatypes.DesignDocument, error) {
	messages := []datatypes.Message{datatypes.UserMessage(request)}
	details, err := s.complete(ctx, "design", withLibrary(designPrompt, s.library), messages, llm.GenerationParams{})
	if err != nil {
		return datatypes.DesignDocument{}, fmt.Errorf("design: %w", err)
	}
	s.logger.Debug("design drafted", "chars", len(details))
	return datatypes.DesignDocument{Request: request, Details: details}, nil
}

// Build produces a new candidate.
//
// # Description
//
// Without a prior candidate the conversation is the design alone. With one,
// it is exactly three turns: the design, the prior code as an assistant
// turn, and the feedback as the final user turn. That makes the backend
// treat the prior code as its own earlier answer. Error feedback also sends
// the prior code as a prediction hint, since a fix usually repeats most of
// the program.
//
// # Inputs
//
//   - design: Sent as the first user turn.
//   - prior: Candidate being repaired or refined. May be nil.
//   - fb: Ignored when prior is nil.
//
// # Outputs
//
//   - Candidate: Unexecuted, holding the extracted code.
//   - error: Backend failures.
func (s *Synthesizer) Build(ctx context.Context, design datatypes.DesignDocument,
	prior *datatypes.Candidate, fb Feedback) (datatypes.Candidate, error) {

	messages := []datatypes.Message{datatypes.UserMessage(design.String())}
	params := llm.GenerationParams{}
	phase := "build"

	if prior != nil && fb.Kind != FeedbackNone {
		messages = append(messages,
			datatypes.AssistantMessage(prior.Code),
			datatypes.UserMessage(fb.message()),
		)
		if fb.Kind == FeedbackError {
			params.Prediction = prior.Code
			phase = "fix"
		} else {
			phase = "refine"
		}
	} else {
		fb = Feedback{}
	}

	raw, err := s.complete(ctx, phase, fb.systemPrompt(s.library), messages, params)
	if err != nil {
		return datatypes.Candidate{}, fmt.Errorf("%s: %w", phase, err)
	}
	code := ExtractCode(raw)
	s.logger.Debug("candidate generated", "phase", phase, "raw_chars", len(raw), "code_chars", len(code))
	return datatypes.NewCandidate(code), nil
}

func (s *Synthesizer) complete(ctx context.Context, phase, system string, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {

	params.Model = s.model
	var hook func(string)
	if s.onToken != nil {
		hook = func(tok string) { s.onToken(phase, tok) }
	}
	return llm.Drain(ctx, s.client, system, messages, params, hook)
}
