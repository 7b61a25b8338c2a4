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
	"regexp"
	"strings"
)

const (
	codeOpenTag  = "<code>"
	codeCloseTag = "</code>"
	fence        = "```"
)

// infoString matches a fence's language tag such as "python", "py3" or
// "python3.12".
var infoString = regexp.MustCompile(`^[A-Za-z][\w+.#-]*$`)

// ExtractCode pulls program source out of a free-form completion.
//
// # Description
//
// Models do not reliably honor the requested output format, so three forms
// are tried in strict order and the first non-empty result wins:
//
//  1. The contents of the first <code>...</code> span, trimmed. A missing
//     closing tag takes the rest of the text.
//  2. The contents of the first ``` fenced block, trimmed, without the
//     language tag written on the opening fence line. A missing closing
//     fence takes the rest of the text.
//  3. The raw text, unmodified.
//
// ExtractCode is total: it never panics and never returns an error.
//
// # Examples
//
//	ExtractCode("<thoughts>..</thoughts>\n<code>\nprint(1)\n</code>") // "print(1)"
//	ExtractCode("Here:\n```python\nprint(1)\n```")                     // "print(1)"
//	ExtractCode("print(1)")                                             // "print(1)"
func ExtractCode(raw string) string {
	if code, ok := extractTagged(raw); ok {
		return code
	}
	if code, ok := extractFenced(raw); ok {
		return code
	}
	return raw
}

func extractTagged(raw string) (string, bool) {
	_, after, found := strings.Cut(raw, codeOpenTag)
	if !found {
		return "", false
	}
	body, _, _ := strings.Cut(after, codeCloseTag)
	body = strings.TrimSpace(body)
	return body, body != ""
}

func extractFenced(raw string) (string, bool) {
	_, after, found := strings.Cut(raw, fence)
	if !found {
		return "", false
	}
	body, _, _ := strings.Cut(after, fence)

	// Text on the opening fence line is the info string, never code.
	if first, rest, multiline := strings.Cut(body, "\n"); multiline {
		if tag := strings.TrimSpace(first); tag == "" || infoString.MatchString(tag) {
			body = rest
		}
	}

	body = strings.TrimSpace(body)
	return body, body != ""
}
