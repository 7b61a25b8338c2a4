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
	"time"

	"github.com/AleutianAI/termite/services/datatypes"
	"golang.org/x/time/rate"
)

// RateLimitedClient delays calls to an inner client so that no more than a
// fixed number start per minute. A fix loop can issue a dozen calls in quick
// succession; this keeps it under a provider's quota.
type RateLimitedClient struct {
	inner   LLMClient
	limiter *rate.Limiter
}

var _ LLMClient = (*RateLimitedClient)(nil)

// NewRateLimitedClient wraps inner. perMinute must be positive.
func NewRateLimitedClient(inner LLMClient, perMinute int) *RateLimitedClient {
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Chat implements the LLMClient interface
func (r *RateLimitedClient) Chat(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Chat(ctx, system, messages, params)
}

// ChatStream implements the LLMClient interface
func (r *RateLimitedClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.ChatStream(ctx, system, messages, params, callback)
}
