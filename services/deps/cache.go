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
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Cache remembers which package provides a module.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached package for module and whether one was found.
	Get(ctx context.Context, module string) (string, bool, error)

	// Put records that module is provided by pkg.
	Put(ctx context.Context, module, pkg string) error

	Close() error
}

// =============================================================================
// Badger
// =============================================================================

const keyPrefix = "module:"

// CacheConfig configures the persistent cache.
type CacheConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in memory, for tests.
	InMemory bool

	// TTL expires entries so renamed distributions are eventually
	// re-resolved. Zero keeps entries forever.
	TTL time.Duration

	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration

	Logger *slog.Logger
}

// DefaultCacheConfig returns persistent defaults for path.
func DefaultCacheConfig(path string) CacheConfig {
	return CacheConfig{
		Path:       path,
		TTL:        30 * 24 * time.Hour,
		GCInterval: 10 * time.Minute,
	}
}

// BadgerCache is a Cache backed by BadgerDB.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// OpenBadgerCache opens or creates the cache database.
func OpenBadgerCache(cfg CacheConfig) (*BadgerCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dependency cache: %w", err)
	}

	c := &BadgerCache{db: db, ttl: cfg.TTL, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.stopGC = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval)
	}
	return c, nil
}

// Get implements Cache.
func (c *BadgerCache) Get(ctx context.Context, module string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("context cancelled: %w", err)
	}

	var pkg string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + module))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			pkg = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache: %w", err)
	}
	return pkg, true, nil
}

// Put implements Cache.
func (c *BadgerCache) Put(ctx context.Context, module, pkg string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+module), []byte(pkg))
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (c *BadgerCache) Close() error {
	var err error
	c.once.Do(func() {
		if c.stopGC != nil {
			close(c.stopGC)
			<-c.gcDone
		}
		err = c.db.Close()
	})
	return err
}

func (c *BadgerCache) runGC(interval time.Duration) {
	defer close(c.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			if err := c.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.logger.Warn("dependency cache GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// badgerLogger routes BadgerDB's internal logging through slog. Info and
// below are demoted to Debug; badger is chatty on open.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Memory
// =============================================================================

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, module string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkg, ok := c.entries[module]
	return pkg, ok, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, module, pkg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[module] = pkg
	return nil
}

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }

var (
	_ Cache = (*BadgerCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
