// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"code tags", "<code>\nprint(1)\n</code>", "print(1)"},
		{"code tags after thoughts", "<thoughts>\nplan\n</thoughts>\n\n<code>\nimport urwid\nmain()\n</code>\ntrailing", "import urwid\nmain()"},
		{"unclosed code tag", "<code>\nprint(2)\n", "print(2)"},
		{"tags win over fences", "```python\nnope()\n```\n<code>yes()</code>", "yes()"},
		{"empty tags fall through to fence", "<code>  </code>\n```python\nprint(3)\n```", "print(3)"},
		{"python fence", "```python\nprint(1)\n```", "print(1)"},
		{"bare fence", "Here you go:\n```\nprint(1)\n```\nEnjoy", "print(1)"},
		{"versioned tag", "```python3\nx = 1\n```", "x = 1"},
		{"first fenced block only", "```py\na()\n```\ntext\n```py\nb()\n```", "a()"},
		{"unterminated fence", "```python\nprint(4)\n", "print(4)"},
		{"single-line fence keeps content", "```print(5)```", "print(5)"},
		{"indentation preserved inside", "<code>\ndef f():\n    return 1\n</code>", "def f():\n    return 1"},
		{"no markers", "print(1)", "print(1)"},
		{"no markers keeps whitespace", "  print(1)\n\n", "  print(1)\n\n"},
		{"empty fence falls through to raw", "```\n```", "```\n```"},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.raw))
		})
	}
}
