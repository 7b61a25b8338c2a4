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
	ollamaBackend        = "ollama"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

var _ LLMClient = (*OllamaClient)(nil)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ollamaStreamChunk is one NDJSON line of /api/chat. The non-streaming
// response has the same shape with Done set.
type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient builds a client for a local or remote Ollama server.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model is empty")
	}
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Chat implements the LLMClient interface
func (o *OllamaClient) Chat(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()

	resp, err := o.post(ctx, span, o.buildRequest(system, messages, params, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk ollamaStreamChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", backendErr(span, ollamaBackend, resp.StatusCode, fmt.Errorf("failed to parse chat response: %w", err))
	}
	if chunk.Error != "" {
		return "", backendErr(span, ollamaBackend, resp.StatusCode, errors.New(chunk.Error))
	}
	if chunk.Message.Role != "" && chunk.Message.Role != "assistant" {
		slog.Warn("Ollama chat response message role was not 'assistant'", "role", chunk.Message.Role)
	}
	return chunk.Message.Content, nil
}

// ChatStream implements the LLMClient interface
func (o *OllamaClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()

	resp, err := o.post(ctx, span, o.buildRequest(system, messages, params, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	chunks := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return backendErr(span, ollamaBackend, resp.StatusCode, fmt.Errorf("malformed stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return backendErr(span, ollamaBackend, resp.StatusCode, errors.New(chunk.Error))
		}
		if chunk.Message.Content != "" {
			chunks++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Message.Content}); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return backendErr(span, ollamaBackend, resp.StatusCode, fmt.Errorf("read stream: %w", err))
	}
	span.SetAttributes(attribute.Int("llm.stream_chunks", chunks))
	return callback(StreamEvent{Type: StreamEventDone})
}

func (o *OllamaClient) buildRequest(system string, messages []datatypes.Message,
	params GenerationParams, stream bool) ollamaChatRequest {

	apiMessages := make([]ollamaMessage, 0, len(messages)+1)
	if system != "" {
		apiMessages = append(apiMessages, ollamaMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		apiMessages = append(apiMessages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return ollamaChatRequest{
		Model:    params.model(o.model),
		Messages: apiMessages,
		Stream:   stream,
		Options: map[string]interface{}{
			"temperature": params.temperature(),
			"num_predict": params.maxTokens(),
		},
	}
}

func (o *OllamaClient) post(ctx context.Context, span trace.Span, payload ollamaChatRequest) (*http.Response, error) {
	span.SetAttributes(
		attribute.String("llm.model", payload.Model),
		attribute.Int("llm.num_messages", len(payload.Messages)),
		attribute.Bool("llm.stream", payload.Stream),
	)

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}
	chatURL := o.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, backendErr(span, ollamaBackend, 0, fmt.Errorf("failed to send the request to %s: %w", chatURL, err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(body), "not found") {
			return nil, backendErr(span, ollamaBackend, resp.StatusCode,
				fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", payload.Model, payload.Model))
		}
		return nil, backendErr(span, ollamaBackend, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	return resp, nil
}
