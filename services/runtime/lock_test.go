// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !windows

package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first := NewProcessLock(ProcessLockConfig{LockDir: dir, LockName: "venv"})
	second := NewProcessLock(ProcessLockConfig{LockDir: dir, LockName: "venv"})

	require.NoError(t, first.TryAcquire())
	defer first.Release()
	assert.True(t, first.IsHeld())

	err := second.TryAcquire()
	var held *ErrLockHeld
	require.True(t, errors.As(err, &held), "got %v", err)
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.Contains(t, held.Error(), "another termite instance")
	assert.False(t, second.IsHeld())
}

func TestProcessLock_AcquireWaitsForRelease(t *testing.T) {
	dir := t.TempDir()
	first := NewProcessLock(ProcessLockConfig{LockDir: dir})
	second := NewProcessLock(ProcessLockConfig{LockDir: dir})

	require.NoError(t, first.TryAcquire())
	time.AfterFunc(150*time.Millisecond, func() { first.Release() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, second.Acquire(ctx))
	assert.True(t, second.IsHeld())
	require.NoError(t, second.Release())
}

func TestProcessLock_AcquireHonorsContext(t *testing.T) {
	dir := t.TempDir()
	first := NewProcessLock(ProcessLockConfig{LockDir: dir})
	second := NewProcessLock(ProcessLockConfig{LockDir: dir})
	require.NoError(t, first.TryAcquire())
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestProcessLock_ReleaseIdempotent(t *testing.T) {
	lock := NewProcessLock(ProcessLockConfig{LockDir: t.TempDir()})

	assert.NoError(t, lock.Release())
	require.NoError(t, lock.TryAcquire())
	assert.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
	assert.Equal(t, 0, lock.HolderPID())
}

func TestProcessLock_Defaults(t *testing.T) {
	lock := NewProcessLock(ProcessLockConfig{})
	assert.Equal(t, filepath.Join(os.TempDir(), "termite.lock"), lock.LockPath())
}
