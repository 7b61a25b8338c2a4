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
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/termite/services/datatypes"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockClient is a test double for LLMClient.
//
// Configure it by setting ChatFunc. ChatStream replays ChatFunc's answer as
// a stream of small fragments unless ChatStreamFunc is set. If neither is
// set, calling either method panics.
//
// # Examples
//
//	mock := &llm.MockClient{ChatFunc: llm.Script("design", "<code>print(1)</code>")}
type MockClient struct {
	// ChatFunc answers Chat, and ChatStream when ChatStreamFunc is nil.
	ChatFunc func(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStreamFunc answers ChatStream when set.
	ChatStreamFunc func(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error

	// Calls records all method invocations for verification
	Calls []MockCall

	mu sync.Mutex
}

// MockCall records a single method invocation.
type MockCall struct {
	Method   string
	System   string
	Messages []datatypes.Message
	Params   GenerationParams
}

var _ LLMClient = (*MockClient)(nil)

// Chat delegates to ChatFunc and records the call.
func (m *MockClient) Chat(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	m.record("Chat", system, messages, params)
	if m.ChatFunc == nil {
		panic("MockClient.ChatFunc not set")
	}
	return m.ChatFunc(ctx, system, messages, params)
}

// ChatStream delegates to ChatStreamFunc, or streams ChatFunc's answer in
// fragments of at most 16 bytes, and records the call.
func (m *MockClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	m.record("ChatStream", system, messages, params)
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, system, messages, params, callback)
	}
	if m.ChatFunc == nil {
		panic("MockClient.ChatFunc not set")
	}
	text, err := m.ChatFunc(ctx, system, messages, params)
	if err != nil {
		return err
	}
	for len(text) > 0 {
		n := min(16, len(text))
		if err := callback(StreamEvent{Type: StreamEventToken, Content: text[:n]}); err != nil {
			return err
		}
		text = text[n:]
	}
	return callback(StreamEvent{Type: StreamEventDone})
}

func (m *MockClient) record(method, system string, messages []datatypes.Message, params GenerationParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]datatypes.Message, len(messages))
	copy(msgs, messages)
	m.Calls = append(m.Calls, MockCall{Method: method, System: system, Messages: msgs, Params: params})
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockClient) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Script returns a ChatFunc that answers with responses in order and fails
// once they are exhausted.
func Script(responses ...string) func(context.Context, string, []datatypes.Message, GenerationParams) (string, error) {
	var mu sync.Mutex
	next := 0
	return func(context.Context, string, []datatypes.Message, GenerationParams) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(responses) {
			return "", fmt.Errorf("mock script exhausted after %d responses", len(responses))
		}
		r := responses[next]
		next++
		return r, nil
	}
}
