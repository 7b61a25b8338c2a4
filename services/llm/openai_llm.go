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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/termite/services/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

const (
	openAIBackend      = "openai"
	DefaultOpenAIModel = "gpt-4o"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for the given key. baseURL may be empty to
// use the public endpoint; it must include the /v1 suffix otherwise.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("Initializing OpenAI client", "model", model, "custom_base_url", baseURL != "")
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Chat implements the LLMClient interface
func (o *OpenAIClient) Chat(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	req := o.buildRequest(system, messages, params)
	span.SetAttributes(attribute.String("llm.model", req.Model), attribute.Int("llm.num_messages", len(messages)))

	slog.Debug("Generating text via OpenAI", "model", req.Model, "prediction", req.Prediction != nil)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", backendErr(span, openAIBackend, openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", backendErr(span, openAIBackend, 0, errors.New("received an empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface
func (o *OpenAIClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	req := o.buildRequest(system, messages, params)
	span.SetAttributes(attribute.String("llm.model", req.Model), attribute.Int("llm.num_messages", len(messages)))

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return backendErr(span, openAIBackend, openAIStatus(err), err)
	}
	defer stream.Close()

	tokens := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return backendErr(span, openAIBackend, openAIStatus(err), err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			tokens++
			if err := callback(StreamEvent{Type: StreamEventToken, Content: choice.Delta.Content}); err != nil {
				return err
			}
		}
	}
	span.SetAttributes(attribute.Int("llm.stream_chunks", tokens))
	return callback(StreamEvent{Type: StreamEventDone})
}

func (o *OpenAIClient) buildRequest(system string, messages []datatypes.Message, params GenerationParams) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == datatypes.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:               params.model(o.model),
		Messages:            apiMessages,
		Temperature:         params.temperature(),
		MaxCompletionTokens: params.maxTokens(),
	}
	if params.Prediction != "" {
		req.Prediction = &openai.Prediction{Type: "content", Content: params.Prediction}
	}
	return req
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
