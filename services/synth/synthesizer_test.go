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
	"strings"
	"testing"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/AleutianAI/termite/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizer_Design(t *testing.T) {
	t.Parallel()

	mock := &llm.MockClient{ChatFunc: llm.Script("• Layout: one pane")}
	s := NewSynthesizer(mock, datatypes.LibraryRich)

	design, err := s.Design(context.Background(), "show the weather")
	require.NoError(t, err)
	assert.Equal(t, "show the weather", design.Request)
	assert.Equal(t, "• Layout: one pane", design.Details)

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ChatStream", calls[0].Method)
	assert.Contains(t, calls[0].System, "rich library")
	assert.NotContains(t, calls[0].System, "{library}")
	assert.Equal(t, []datatypes.Message{datatypes.UserMessage("show the weather")}, calls[0].Messages)
}

func TestSynthesizer_Build_FromDesign(t *testing.T) {
	t.Parallel()

	mock := &llm.MockClient{ChatFunc: llm.Script("<thoughts>x</thoughts><code>\nimport urwid\n</code>")}
	s := NewSynthesizer(mock, datatypes.LibraryUrwid, WithModel("gpt-4o"))
	design := datatypes.DesignDocument{Request: "r", Details: "d"}

	c, err := s.Build(context.Background(), design, nil, Feedback{})
	require.NoError(t, err)
	assert.Equal(t, "import urwid", c.Code)
	assert.False(t, c.Executed)

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []datatypes.Message{datatypes.UserMessage(design.String())}, calls[0].Messages)
	assert.Equal(t, withLibrary(buildPrompt, datatypes.LibraryUrwid), calls[0].System)
	assert.Equal(t, "gpt-4o", calls[0].Params.Model)
	assert.Empty(t, calls[0].Params.Prediction)
}

func TestSynthesizer_Build_FixUsesThreeTurnsAndPrediction(t *testing.T) {
	t.Parallel()

	mock := &llm.MockClient{ChatFunc: llm.Script("```python\nprint('fixed')\n```")}
	s := NewSynthesizer(mock, datatypes.LibraryCurses)
	design := datatypes.DesignDocument{Request: "r", Details: "d"}
	prior := datatypes.NewCandidate("print(broken").WithExecution("", "SyntaxError: '(' was never closed")

	c, err := s.Build(context.Background(), design, &prior, ErrorFeedback(prior.Stderr))
	require.NoError(t, err)
	assert.Equal(t, "print('fixed')", c.Code)

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	msgs := calls[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, design.String(), msgs[0].Content)
	assert.Equal(t, datatypes.AssistantMessage("print(broken"), msgs[1])
	assert.Equal(t, datatypes.RoleUser, msgs[2].Role)
	assert.Equal(t, "<error>\nSyntaxError: '(' was never closed\n</error>\n\nFix the error above. Remember: do NOT suppress exceptions.", msgs[2].Content)
	assert.Equal(t, "print(broken", calls[0].Params.Prediction)
	assert.Equal(t, withLibrary(fixPrompt, datatypes.LibraryCurses), calls[0].System)

	// The prior candidate is untouched.
	assert.Equal(t, "print(broken", prior.Code)
}

func TestSynthesizer_Build_RefineUsesEvaluationFeedback(t *testing.T) {
	t.Parallel()

	mock := &llm.MockClient{ChatFunc: llm.Script("<code>better()</code>")}
	s := NewSynthesizer(mock, datatypes.LibraryTextual)
	prior := datatypes.NewCandidate("good()").WithExecution("", "")

	c, err := s.Build(context.Background(), datatypes.DesignDocument{}, &prior, EvaluationFeedback("- add labels"))
	require.NoError(t, err)
	assert.Equal(t, "better()", c.Code)

	call := mock.GetCalls()[0]
	require.Len(t, call.Messages, 3)
	assert.True(t, strings.HasPrefix(call.Messages[2].Content, "Failed to meet requirements. Feedback:\n- add labels"))
	assert.Empty(t, call.Params.Prediction)
	assert.Equal(t, withLibrary(refinePrompt, datatypes.LibraryTextual), call.System)
}

func TestSynthesizer_Build_PriorWithoutFeedbackIsFreshBuild(t *testing.T) {
	mock := &llm.MockClient{ChatFunc: llm.Script("x()")}
	s := NewSynthesizer(mock, datatypes.LibraryUrwid)
	prior := datatypes.NewCandidate("old()")

	c, err := s.Build(context.Background(), datatypes.DesignDocument{}, &prior, Feedback{})
	require.NoError(t, err)
	assert.Equal(t, "x()", c.Code)
	assert.Len(t, mock.GetCalls()[0].Messages, 1)
}

func TestSynthesizer_TokenHookSeesPhase(t *testing.T) {
	mock := &llm.MockClient{ChatFunc: llm.Script("design", "<code>a</code>", "<code>b</code>")}
	phases := map[string]int{}
	s := NewSynthesizer(mock, datatypes.LibraryUrwid, WithTokenHook(func(phase, tok string) { phases[phase]++ }))
	ctx := context.Background()

	design, err := s.Design(ctx, "r")
	require.NoError(t, err)
	c, err := s.Build(ctx, design, nil, Feedback{})
	require.NoError(t, err)
	_, err = s.Build(ctx, design, &c, ErrorFeedback("boom"))
	require.NoError(t, err)

	assert.Positive(t, phases["design"])
	assert.Positive(t, phases["build"])
	assert.Positive(t, phases["fix"])
}

func TestSynthesizer_BackendErrorPropagates(t *testing.T) {
	boom := &llm.BackendError{Backend: "anthropic", StatusCode: 529, Err: errors.New("overloaded")}
	mock := &llm.MockClient{ChatFunc: func(context.Context, string, []datatypes.Message, llm.GenerationParams) (string, error) {
		return "", boom
	}}
	s := NewSynthesizer(mock, datatypes.LibraryUrwid)

	_, err := s.Design(context.Background(), "r")
	assert.ErrorIs(t, err, boom)

	_, err = s.Build(context.Background(), datatypes.DesignDocument{}, nil, Feedback{})
	var be *llm.BackendError
	assert.ErrorAs(t, err, &be)
}
