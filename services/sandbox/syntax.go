// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxSyntaxIssues bounds collection on heavily malformed input.
const maxSyntaxIssues = 50

// maxShownIssues bounds how many issues Error() renders.
const maxShownIssues = 10

// SyntaxChecker validates source before anything is spawned.
//
// Check returns nil for valid source, a *SyntaxError for invalid source, and
// any other error when validation itself could not run.
type SyntaxChecker interface {
	Check(ctx context.Context, source string) error
}

// NopSyntaxChecker accepts everything.
type NopSyntaxChecker struct{}

// Check implements SyntaxChecker.
func (NopSyntaxChecker) Check(context.Context, string) error { return nil }

// SyntaxIssue is one ERROR or MISSING node found by the parser.
type SyntaxIssue struct {
	// Line is 1-indexed.
	Line int

	// Column is 0-indexed, in bytes.
	Column int

	Message    string
	Suggestion string

	// SourceLine is the offending line of source, if available.
	SourceLine string
}

// SyntaxError reports source that failed PARSE_CHECK. Its text is what the
// candidate's error stream becomes, so it reads like an interpreter message.
type SyntaxError struct {
	Issues []SyntaxIssue
}

// Error renders the issues, one per line, with the offending source line.
func (e *SyntaxError) Error() string {
	if len(e.Issues) == 0 {
		return "SyntaxError: invalid syntax"
	}
	var sb strings.Builder
	for i, issue := range e.Issues {
		if i >= maxShownIssues {
			fmt.Fprintf(&sb, "... and %d more errors\n", len(e.Issues)-maxShownIssues)
			break
		}
		fmt.Fprintf(&sb, "  Line %d, Col %d\n", issue.Line, issue.Column)
		if issue.SourceLine != "" {
			fmt.Fprintf(&sb, "    %s\n", issue.SourceLine)
		}
		fmt.Fprintf(&sb, "SyntaxError: %s\n", issue.Message)
		if issue.Suggestion != "" {
			fmt.Fprintf(&sb, "  Suggestion: %s\n", issue.Suggestion)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// PythonSyntaxChecker parses source with the tree-sitter Python grammar.
//
// Thread Safety: safe for concurrent use. Each Check owns its parser.
type PythonSyntaxChecker struct{}

// Check implements SyntaxChecker.
func (PythonSyntaxChecker) Check(ctx context.Context, source string) error {
	ctx, span := tracer.Start(ctx, "sandbox.SyntaxCheck",
		trace.WithAttributes(attribute.Int("source_bytes", len(source))),
	)
	defer span.End()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parsing failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	issues := make([]SyntaxIssue, 0)
	collectIssues(root, content, strings.Split(source, "\n"), &issues, 0)
	if len(issues) == 0 {
		// HasError without a locatable node.
		issues = append(issues, SyntaxIssue{Line: 1, Message: "invalid syntax"})
	}
	span.SetAttributes(attribute.Int("issues", len(issues)))
	return &SyntaxError{Issues: issues}
}

func collectIssues(node *sitter.Node, content []byte, lines []string, issues *[]SyntaxIssue, depth int) {
	if node == nil || depth > 1000 || len(*issues) >= maxSyntaxIssues {
		return
	}

	if node.IsError() || node.IsMissing() {
		start := node.StartPoint()
		from, to := node.StartByte(), node.EndByte()
		if to > uint32(len(content)) {
			to = uint32(len(content))
		}

		snippet := ""
		if to > from && to-from < 100 {
			snippet = string(content[from:to])
		}

		msg := "invalid syntax"
		if node.IsMissing() {
			msg = fmt.Sprintf("Missing %s", node.Type())
		} else if snippet != "" {
			msg = fmt.Sprintf("Unexpected: %s", truncate(strings.TrimSpace(snippet), 50))
		}

		issue := SyntaxIssue{
			Line:       int(start.Row) + 1,
			Column:     int(start.Column),
			Message:    msg,
			Suggestion: suggestFor(node),
		}
		if int(start.Row) < len(lines) {
			issue.SourceLine = strings.TrimRight(lines[start.Row], "\r")
		}
		*issues = append(*issues, issue)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectIssues(node.Child(i), content, lines, issues, depth+1)
	}
}

func suggestFor(node *sitter.Node) string {
	if !node.IsMissing() {
		return ""
	}
	switch t := node.Type(); t {
	case "}", "]", ")":
		return fmt.Sprintf("Add missing closing '%s'", t)
	case "{", "[", "(":
		return fmt.Sprintf("Add missing opening '%s'", t)
	case ":":
		return "Add missing colon"
	default:
		return fmt.Sprintf("Add missing '%s'", t)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
