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
	"bytes"
	"strings"
	"testing"
)

func newTestPrinter(level PersonalityLevel) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Level: level}, &out, &errOut
}

// =============================================================================
// Machine level
// =============================================================================

func TestPrinter_Machine_PrefixesLines(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityMachine)

	p.Success("built")
	p.Warning("slow")
	p.Error("broken")

	if got := out.String(); got != "OK: built\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "WARN: slow\nERROR: broken\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestPrinter_Machine_DropsDecoration(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityMachine)

	p.Title("Termite")
	p.Muted("secondary")

	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestPrinter_Machine_KeyValue(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityMachine)
	p.KeyValue("attempts", "3")
	if got := out.String(); got != "attempts=3\n" {
		t.Errorf("got %q", got)
	}
}

func TestPrinter_Machine_Box(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityMachine)
	p.Box("Program", "print(1)")
	if got := out.String(); got != "Program:\nprint(1)\n" {
		t.Errorf("got %q", got)
	}
}

// =============================================================================
// Styled levels
// =============================================================================

func TestPrinter_Full_UsesIcons(t *testing.T) {
	p, out, errOut := newTestPrinter(PersonalityFull)

	p.Success("built")
	p.Warning("slow")
	p.Error("broken")

	got := out.String()
	for _, want := range []string{"✓", "built", "⚠", "slow", "✗", "broken"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
	if errOut.Len() != 0 {
		t.Errorf("styled levels should not write to Err, got %q", errOut.String())
	}
}

func TestPrinter_Full_BoxHasBorder(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityFull)
	p.Box("Program", "import curses")

	got := out.String()
	if !strings.Contains(got, "Program") || !strings.Contains(got, "import curses") {
		t.Errorf("box missing content: %q", got)
	}
	if !strings.Contains(got, "╭") {
		t.Errorf("box missing rounded border: %q", got)
	}
}

func TestPrinter_Minimal_PlainText(t *testing.T) {
	p, out, _ := newTestPrinter(PersonalityMinimal)
	p.Success("built")
	if !strings.Contains(out.String(), "built") {
		t.Errorf("got %q", out.String())
	}
}

// =============================================================================
// Text helpers
// =============================================================================

func TestFirstLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "a\nb", 3, "a\nb"},
		{"exact", "a\nb\nc\n", 3, "a\nb\nc"},
		{"cut", "a\nb\nc\nd", 2, "a\nb\n... (2 more lines)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstLines(tt.in, tt.n); got != tt.want {
				t.Errorf("FirstLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestLastLine(t *testing.T) {
	tb := "Traceback (most recent call last):\n  File \"x.py\", line 1\nNameError: name 'y' is not defined\n\n"
	if got := LastLine(tb); got != "NameError: name 'y' is not defined" {
		t.Errorf("got %q", got)
	}
	if got := LastLine("  \n"); got != "" {
		t.Errorf("blank input: got %q", got)
	}
}

func TestIconRender_KeepsGlyph(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render(%q) lost the glyph", icon)
		}
	}
}
