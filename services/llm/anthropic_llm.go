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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/termite/services/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	anthropicBackend       = "anthropic"
	anthropicAPIVersion    = "2023-06-01"
	DefaultAnthropicURL    = "https://api.anthropic.com/v1/messages"
	DefaultAnthropicModel  = "claude-3-5-sonnet-20241022"
	maxSSELineBytes        = 1 << 20
	anthropicClientTimeout = 5 * time.Minute
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the SSE payloads we act on:
// content_block_delta, message_stop and error.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	url        string
}

var _ LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client for the Messages API. url may be empty
// to use DefaultAnthropicURL.
func NewAnthropicClient(apiKey, model, url string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is empty")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	if url == "" {
		url = DefaultAnthropicURL
	}
	slog.Info("Initializing Anthropic client", "model", model)
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: anthropicClientTimeout},
		apiKey:     apiKey,
		model:      model,
		url:        url,
	}, nil
}

// Chat implements the LLMClient interface
func (a *AnthropicClient) Chat(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()

	resp, err := a.post(ctx, span, a.buildRequest(system, messages, params, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", backendErr(span, anthropicBackend, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", backendErr(span, anthropicBackend, resp.StatusCode, fmt.Errorf("failed to parse response JSON: %w", err))
	}
	if apiResp.Error != nil {
		return "", backendErr(span, anthropicBackend, resp.StatusCode,
			fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message))
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", backendErr(span, anthropicBackend, resp.StatusCode, errors.New("received content but no text block"))
	}
	return sb.String(), nil
}

// ChatStream implements the LLMClient interface
func (a *AnthropicClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "AnthropicClient.ChatStream")
	defer span.End()

	resp, err := a.post(ctx, span, a.buildRequest(system, messages, params, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	chunks := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// event: lines, comments and blank separators carry nothing we need.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Debug("Skipping unparseable Anthropic stream line", "line", payload)
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Text == "" {
				continue
			}
			chunks++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: ev.Delta.Text}); err != nil {
				return err
			}
		case "error":
			msg := "unknown stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return backendErr(span, anthropicBackend, resp.StatusCode, errors.New(msg))
		case "message_stop":
			span.SetAttributes(attribute.Int("llm.stream_chunks", chunks))
			return callback(StreamEvent{Type: StreamEventDone})
		}
	}
	if err := scanner.Err(); err != nil {
		return backendErr(span, anthropicBackend, resp.StatusCode, fmt.Errorf("read stream: %w", err))
	}

	// Stream ended without message_stop; treat what arrived as complete.
	span.SetAttributes(attribute.Int("llm.stream_chunks", chunks))
	return callback(StreamEvent{Type: StreamEventDone})
}

func (a *AnthropicClient) buildRequest(system string, messages []datatypes.Message,
	params GenerationParams, stream bool) anthropicRequest {

	apiMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}

	var systemBlocks []systemBlock
	if system != "" {
		block := systemBlock{Type: "text", Text: system}
		if len(system) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	temp := params.temperature()
	return anthropicRequest{
		Model:       params.model(a.model),
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   params.maxTokens(),
		Temperature: &temp,
		Stream:      stream,
	}
}

// post sends the request and returns the response when the status is 200.
// The caller closes the body.
func (a *AnthropicClient) post(ctx context.Context, span trace.Span, payload anthropicRequest) (*http.Response, error) {
	span.SetAttributes(
		attribute.String("llm.model", payload.Model),
		attribute.Int("llm.num_messages", len(payload.Messages)),
		attribute.Bool("llm.stream", payload.Stream),
	)

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending request to Anthropic", "model", payload.Model, "stream", payload.Stream)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, backendErr(span, anthropicBackend, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, backendErr(span, anthropicBackend, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	return resp, nil
}
