// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSpinner_Defaults(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "Loading...")

	if spin.Message() != "Loading..." {
		t.Errorf("expected message 'Loading...', got %q", spin.Message())
	}
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
	if spin.Running() {
		t.Error("new spinner should not be running")
	}
}

func TestSpinner_WithType(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "x").WithType(SpinnerCompass)
	if spin.spinType != SpinnerCompass {
		t.Errorf("expected SpinnerCompass, got %v", spin.spinType)
	}
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "Building")

	spin.Start()
	time.Sleep(3 * spinnerInterval)
	spin.Stop()

	got := out.String()
	if !strings.Contains(got, "Building") {
		t.Errorf("expected message in output, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("expected the line to be cleared on stop, got %q", got)
	}
	if spin.Running() {
		t.Error("spinner should be stopped")
	}
}

func TestSpinner_Restart(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "x")

	for i := 0; i < 3; i++ {
		spin.Start()
		if !spin.Running() {
			t.Fatalf("round %d: expected running", i)
		}
		spin.Stop()
	}
}

func TestSpinner_StopIdempotent(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "x")
	spin.Stop()
	spin.Start()
	spin.Stop()
	spin.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	p, _, _ := newTestPrinter(PersonalityFull)
	spin := NewSpinner(p, "old")
	spin.UpdateMessage("new")
	if spin.Message() != "new" {
		t.Errorf("got %q", spin.Message())
	}
}

func TestSpinner_Machine_PrintsOnce(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityMachine)
	spin := NewSpinner(p, "Designing")

	spin.Start()
	spin.Stop()

	if got := out.String(); got != "PROGRESS: Designing\n" {
		t.Errorf("got %q", got)
	}
}

func TestWithSpinner(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityMachine)

	if err := WithSpinner(p, "install", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "OK: install") {
		t.Errorf("expected success line, got %q", out.String())
	}

	boom := errors.New("boom")
	if err := WithSpinner(p, "install", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(errOut.String(), "ERROR: install: boom") {
		t.Errorf("expected error line, got %q", errOut.String())
	}
}
