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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newTestOllamaClient creates an OllamaClient pointing to a test server.
//
// # Description
//
// The server asserts that requests hit /api/chat, decodes the body into got
// and delegates the response to handler.
func newTestOllamaClient(t *testing.T, got *ollamaChatRequest, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewOllamaClient(server.URL+"/", "test-model")
	require.NoError(t, err)
	return client
}

// =============================================================================
// Tests
// =============================================================================

func TestOllamaClient_ChatStream(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	client := newTestOllamaClient(t, &got, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	})

	var tokens []string
	done := 0
	err := client.ChatStream(context.Background(), "sys", []datatypes.Message{datatypes.UserMessage("hi")},
		GenerationParams{Temperature: Float32(0.1)}, func(ev StreamEvent) error {
			switch ev.Type {
			case StreamEventToken:
				tokens = append(tokens, ev.Content)
			case StreamEventDone:
				done++
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, 1, done)

	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.InDelta(t, 0.1, got.Options["temperature"], 0.001)
	assert.EqualValues(t, DefaultMaxTokens, got.Options["num_predict"])
}

func TestOllamaClient_Chat(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	client := newTestOllamaClient(t, &got, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"urwid"},"done":true}`)
	})

	out, err := client.Chat(context.Background(), "", []datatypes.Message{datatypes.UserMessage("pkg?")},
		GenerationParams{Model: "small"})
	require.NoError(t, err)
	assert.Equal(t, "urwid", out)
	assert.False(t, got.Stream)
	assert.Equal(t, "small", got.Model)
	require.Len(t, got.Messages, 1)
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	client := newTestOllamaClient(t, &got, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'test-model' not found"}`)
	})

	_, err := client.Chat(context.Background(), "", []datatypes.Message{datatypes.UserMessage("hi")}, GenerationParams{})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusNotFound, be.StatusCode)
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

func TestOllamaClient_ChatStream_ErrorChunk(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	client := newTestOllamaClient(t, &got, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	})

	_, err := Drain(context.Background(), client, "", []datatypes.Message{datatypes.UserMessage("hi")}, GenerationParams{}, nil)
	require.Error(t, err)
	assert.True(t, IsBackendError(err))
	assert.Contains(t, err.Error(), "out of memory")
}

func TestOllamaClient_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewOllamaClient(url, "m")
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), "", []datatypes.Message{datatypes.UserMessage("hi")}, GenerationParams{})

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.StatusCode)
}

func TestNewOllamaClient_RequiresModel(t *testing.T) {
	_, err := NewOllamaClient("", "")
	assert.Error(t, err)
}
