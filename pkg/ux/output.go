// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling and run progress for the
// termite CLI.
package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Termite palette: mound clay and amber
var (
	ColorAmber = lipgloss.Color("#F2A541") // highlights, titles
	ColorClay  = lipgloss.Color("#C9753D") // borders, accents
	ColorSand  = lipgloss.Color("#E8D5B5") // secondary text
	ColorUmber = lipgloss.Color("#6B4F3A") // muted text

	ColorSuccess = lipgloss.Color("#7FB069")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = ColorUmber
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmber),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorSand),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAmber).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorClay).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// boxWidth is the width boxes are rendered at.
const boxWidth = 72

// Printer writes styled lines at a fixed personality level.
//
// # Description
//
// Machine level writes plain "OK:", "WARN:" and "ERROR:" lines, warnings and
// errors going to Err. Every other level writes everything to Out. Writes
// are serialized so a Printer can be shared with a Spinner.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level PersonalityLevel

	mu sync.Mutex
}

// NewPrinter creates a Printer at the current personality level.
func NewPrinter(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut, Level: GetPersonality().Level}
}

func (p *Printer) machine() bool {
	return p.Level == PersonalityMachine
}

func (p *Printer) write(w io.Writer, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.machine() {
		return
	}
	p.write(p.Out, "%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Level {
	case PersonalityMachine:
		p.write(p.Out, "OK: %s\n", text)
	case PersonalityMinimal:
		p.write(p.Out, "%s %s\n", IconSuccess.Render(), text)
	default:
		p.write(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.Level {
	case PersonalityMachine:
		p.write(p.Err, "WARN: %s\n", text)
	case PersonalityMinimal:
		p.write(p.Out, "%s %s\n", IconWarning.Render(), text)
	default:
		p.write(p.Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.Level {
	case PersonalityMachine:
		p.write(p.Err, "ERROR: %s\n", text)
	case PersonalityMinimal:
		p.write(p.Out, "%s %s\n", IconError.Render(), text)
	default:
		p.write(p.Out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.machine() {
		p.write(p.Out, "%s\n", text)
		return
	}
	p.write(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine level drops it.
func (p *Printer) Muted(text string) {
	if p.machine() {
		return
	}
	p.write(p.Out, "%s\n", Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.machine() {
		p.write(p.Out, "%s:\n%s\n", title, content)
		return
	}
	body := Styles.Title.Render(title) + "\n" + content
	p.write(p.Out, "%s\n", Styles.Box.Width(boxWidth).Render(body))
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	if p.machine() {
		p.write(p.Err, "WARN %s:\n%s\n", title, content)
		return
	}
	body := Styles.Warning.Bold(true).Render(title) + "\n" + content
	p.write(p.Out, "%s\n", Styles.WarningBox.Width(boxWidth).Render(body))
}

// KeyValue prints an aligned "key: value" line
func (p *Printer) KeyValue(key, value string) {
	if p.machine() {
		p.write(p.Out, "%s=%s\n", key, value)
		return
	}
	p.write(p.Out, "  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-14s", key+":")), value)
}

// FirstLines returns at most n lines of text, appending an ellipsis line
// when something was cut.
func FirstLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

// LastLine returns the last non-blank line of text. Tracebacks end with the
// line that names the error.
func LastLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, " \n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
