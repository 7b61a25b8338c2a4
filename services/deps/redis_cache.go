// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache shared through a Redis server, for machines that
// run termite side by side against one virtualenv image.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedisCache connects to the server at url ("redis://host:6379/0") and
// checks it is reachable.
func OpenRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect dependency cache: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

// NewRedisCache wraps an existing client. Close closes the client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, module string) (string, bool, error) {
	pkg, err := c.client.Get(ctx, keyPrefix+module).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache: %w", err)
	}
	return pkg, true, nil
}

// Put implements Cache. A zero TTL keeps the entry forever.
func (c *RedisCache) Put(ctx context.Context, module, pkg string) error {
	if err := c.client.Set(ctx, keyPrefix+module, pkg, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
