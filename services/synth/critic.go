// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
)

// affirmatives are the prefixes of an <is_optimal> answer that count as a pass.
var affirmatives = []string{"yes", "y", "true", "correct", "optimal"}

// Critic judges whether a working candidate satisfies its design.
type Critic struct {
	client  llm.LLMClient
	model   string
	onToken func(phase, token string)
	logger  *slog.Logger
}

// NewCritic creates a Critic. WithTokenHook reports phase "evaluate".
func NewCritic(client llm.LLMClient, opts ...Option) *Critic {
	o := collect(opts)
	return &Critic{client: client, model: o.model, onToken: o.onToken, logger: o.logger}
}

// Evaluate asks the backend to review candidate against design.
//
// # Outputs
//
//   - Evaluation: Parsed with ParseEvaluation. Malformed answers fail safe.
//   - error: Backend failures only.
func (c *Critic) Evaluate(ctx context.Context, candidate datatypes.Candidate,
	design datatypes.DesignDocument) (datatypes.Evaluation, error) {

	messages := []datatypes.Message{datatypes.UserMessage(evaluationMessage(design, candidate.Code))}
	var hook func(string)
	if c.onToken != nil {
		hook = func(tok string) { c.onToken("evaluate", tok) }
	}
	raw, err := llm.Drain(ctx, c.client, evaluatePrompt, messages, llm.GenerationParams{Model: c.model}, hook)
	if err != nil {
		return datatypes.Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}
	eval := ParseEvaluation(raw)
	c.logger.Debug("candidate evaluated", "passed", eval.Passed, "feedback_chars", len(eval.Feedback))
	return eval, nil
}

// ParseEvaluation reads a critic answer.
//
// # Description
//
// Without an <is_optimal> span the answer is a fail: Passed is false and
// Feedback is the whole raw text. Otherwise Passed is true when the span's
// trimmed, lower-cased content starts with yes, y, true, correct or optimal.
// Feedback is the trimmed <feedback> span when present, else the raw text.
// A missing closing tag extends a span to the end of the text.
func ParseEvaluation(raw string) datatypes.Evaluation {
	verdict, ok := taggedSpan(raw, "is_optimal")
	if !ok {
		return datatypes.Evaluation{Passed: false, Feedback: raw}
	}

	eval := datatypes.Evaluation{Passed: isAffirmative(verdict), Feedback: raw}
	if feedback, ok := taggedSpan(raw, "feedback"); ok {
		eval.Feedback = feedback
	}
	return eval
}

func isAffirmative(verdict string) bool {
	v := strings.ToLower(strings.TrimSpace(verdict))
	for _, prefix := range affirmatives {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

// taggedSpan returns the trimmed text between <tag> and </tag>.
func taggedSpan(raw, tag string) (string, bool) {
	_, after, found := strings.Cut(raw, "<"+tag+">")
	if !found {
		return "", false
	}
	body, _, _ := strings.Cut(after, "</"+tag+">")
	return strings.TrimSpace(body), true
}
