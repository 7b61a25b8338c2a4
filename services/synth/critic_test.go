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
	"errors"
	"testing"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvaluation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantPassed   bool
		wantFeedback string
	}{
		{
			name:         "missing verdict fails safe with raw feedback",
			raw:          "Looks fine to me.\n<feedback>ok</feedback>",
			wantPassed:   false,
			wantFeedback: "Looks fine to me.\n<feedback>ok</feedback>",
		},
		{
			name:         "yes",
			raw:          "<feedback>\n- nothing\n</feedback>\n<is_optimal>\nYes\n</is_optimal>",
			wantPassed:   true,
			wantFeedback: "- nothing",
		},
		{
			name:         "no",
			raw:          "<feedback>- add labels</feedback><is_optimal>No</is_optimal>",
			wantPassed:   false,
			wantFeedback: "- add labels",
		},
		{
			name:         "true prefix",
			raw:          "<is_optimal> TRUE, it is </is_optimal>",
			wantPassed:   true,
			wantFeedback: "<is_optimal> TRUE, it is </is_optimal>",
		},
		{
			name:         "optimal",
			raw:          "<feedback>f</feedback><is_optimal>optimal</is_optimal>",
			wantPassed:   true,
			wantFeedback: "f",
		},
		{
			name:         "correct",
			raw:          "<feedback>f</feedback><is_optimal>Correct.</is_optimal>",
			wantPassed:   true,
			wantFeedback: "f",
		},
		{
			name:         "not optimal",
			raw:          "<feedback>f</feedback><is_optimal>not optimal</is_optimal>",
			wantPassed:   false,
			wantFeedback: "f",
		},
		{
			name:         "unclosed verdict",
			raw:          "<feedback>f</feedback><is_optimal>yes",
			wantPassed:   true,
			wantFeedback: "f",
		},
		{
			name:         "empty",
			raw:          "",
			wantPassed:   false,
			wantFeedback: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEvaluation(tt.raw)
			assert.Equal(t, tt.wantPassed, got.Passed)
			assert.Equal(t, tt.wantFeedback, got.Feedback)
		})
	}
}

func TestCritic_Evaluate(t *testing.T) {
	t.Parallel()

	mock := &llm.MockClient{ChatFunc: llm.Script("<feedback>- add a title</feedback>\n<is_optimal>No</is_optimal>")}
	var tokens int
	critic := NewCritic(mock, WithModel("judge"), WithTokenHook(func(phase, tok string) {
		assert.Equal(t, "evaluate", phase)
		tokens++
	}))

	design := datatypes.DesignDocument{Request: "clock", Details: "- big digits"}
	eval, err := critic.Evaluate(context.Background(), datatypes.NewCandidate("print('12:00')"), design)
	require.NoError(t, err)
	assert.False(t, eval.Passed)
	assert.Equal(t, "- add a title", eval.Feedback)
	assert.Positive(t, tokens)

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, evaluatePrompt, calls[0].System)
	assert.Equal(t, "judge", calls[0].Params.Model)
	require.Len(t, calls[0].Messages, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "<user_request>\nclock\n</user_request>")
	assert.Contains(t, calls[0].Messages[0].Content, "<code>\nprint('12:00')\n</code>")
}

func TestCritic_Evaluate_BackendError(t *testing.T) {
	boom := &llm.BackendError{Backend: "openai", Err: errors.New("down")}
	mock := &llm.MockClient{ChatFunc: func(context.Context, string, []datatypes.Message, llm.GenerationParams) (string, error) {
		return "", boom
	}}

	_, err := NewCritic(mock).Evaluate(context.Background(), datatypes.NewCandidate("x"), datatypes.DesignDocument{})
	assert.ErrorIs(t, err, boom)
}
