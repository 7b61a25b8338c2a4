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
	"os"
	"testing"
)

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityMinimal, ShowTips: false})

	got := GetPersonality()
	if got.Level != PersonalityMinimal {
		t.Errorf("expected level %v, got %v", PersonalityMinimal, got.Level)
	}
	if got.ShowTips {
		t.Error("expected ShowTips false")
	}
}

func TestSetPersonalityLevel_DisablesTipsBelowFull(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(DefaultPersonality())
	SetPersonalityLevel(PersonalityStandard)

	if GetPersonality().ShowTips {
		t.Error("tips should be off at standard level")
	}
}

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"F", PersonalityFull},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"quiet", PersonalityMachine},
		{" machine ", PersonalityMachine},
		{"nonsense", PersonalityStandard},
		{"", PersonalityStandard},
	}
	for _, tt := range tests {
		if got := ParsePersonalityLevel(tt.in); got != tt.want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitPersonality_EnvOverride(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv(PersonalityEnv, "minimal")
	InitPersonality()

	if got := GetPersonality().Level; got != PersonalityMinimal {
		t.Errorf("expected minimal, got %v", got)
	}
}

func TestInitPersonality_NonTerminalIsMachine(t *testing.T) {
	if IsTerminal(os.Stdout) {
		t.Skip("stdout is a terminal")
	}
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv(PersonalityEnv, "")
	InitPersonality()

	if got := GetPersonality().Level; got != PersonalityMachine {
		t.Errorf("expected machine, got %v", got)
	}
}

func TestShouldShow_MachineLevel(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if ShouldShowProgress() || ShouldShowColors() || IsInteractive() {
		t.Error("machine level should disable progress, colors and prompts")
	}

	SetPersonalityLevel(PersonalityStandard)
	if !ShouldShowProgress() || !ShouldShowColors() {
		t.Error("standard level should enable progress and colors")
	}
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}
	if IsTerminal(nil) {
		t.Error("nil is not a terminal")
	}
}
