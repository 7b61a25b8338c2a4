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
	"fmt"
	"strings"

	"github.com/AleutianAI/termite/services/datatypes"
)

// =============================================================================
// System Prompts
// =============================================================================

const designPrompt = `You design terminal user interfaces (TUIs). Write a short design document for a TUI that satisfies the user's request.

A junior developer will implement your design with the {library} library, so keep it SIMPLE.

Think through, in order:
1. The key requirements in the request.
2. The main components and their layout.
3. A simple color scheme.
4. User inputs and how each is handled.
5. Whether a refresh loop is needed and how often it runs.
6. How the user exits.
7. Anything the program needs at startup (a URI, a file path, ...).
8. Labels for every piece of data shown.

Then output ONLY the design document as bullet points. No title.`

const buildPrompt = `You are an expert Python programmer building a terminal user interface (TUI) from a design document, using the {library} library.

Rules:
- Use ONLY {library} for the interface. Other packages only when strictly necessary.
- Do NOT write try/except blocks. Every exception must propagate.
- The TUI must fill the terminal width, and ideally its height.
- Implement everything the design asks for and always provide a way to exit.

Output format:
<thoughts>
Your implementation plan...
</thoughts>

<code>
Your complete Python script, with no markdown formatting...
</code>`

const fixPrompt = `You are an expert Python programmer fixing a broken terminal user interface (TUI) script.

1. Read the script and the error message.
2. Find what causes the error.
3. Rewrite the script so it runs without errors and still follows the design document.
4. Do NOT write try/except blocks. Every exception must propagate.
5. Keep using the {library} library and no other TUI library.

Respond with the complete fixed script inside <code></code> tags and nothing else.`

const refinePrompt = `You are an expert Python programmer improving a terminal user interface (TUI).

You receive the design document, the current script and a review of it. Rewrite the script so that it:
- meets every requirement of the design,
- behaves correctly and handles all user input,
- has clear labels and instructions,
- keeps using {library} and no other TUI library,
- contains no try/except blocks.

Always return the FULL script, never a diff.

Output format:
<thoughts>
The issues you will address...
</thoughts>

<code>
The complete improved script, with no markdown formatting...
</code>`

const evaluatePrompt = `You review terminal user interfaces (TUIs). Decide whether a Python TUI satisfies its design document.

Look for:
- incorrect behavior or output,
- missing features or components,
- usability problems such as missing labels or unclear instructions,
- suppressed exceptions (any try/except block is an issue).

Ignore code style. Report only the few most important issues, as bullet points.

Output format:
<feedback>
Issues and suggestions...
</feedback>

<is_optimal>
Yes or No
</is_optimal>`

// ResolvePrompt asks for the package-index name of an import. The answer
// must be a single token.
const ResolvePrompt = `You map Python import names to the package that provides them on PyPI.

Respond with ONLY the package name, a single word. If unsure, repeat the import name.

Input: "import numpy"
Output: numpy

Input: "import sklearn"
Output: scikit-learn

Input: "import yaml"
Output: PyYAML

Input: "import cv2"
Output: opencv-python`

// =============================================================================
// User Turns
// =============================================================================

// FeedbackKind says what produced the feedback for a rebuild.
type FeedbackKind int

const (
	// FeedbackNone builds from the design alone.
	FeedbackNone FeedbackKind = iota

	// FeedbackError carries the error stream of a failed execution.
	FeedbackError

	// FeedbackEvaluation carries the critic's review of a working program.
	FeedbackEvaluation
)

// Feedback is the text appended as the final user turn of a rebuild.
type Feedback struct {
	Kind FeedbackKind
	Text string
}

// ErrorFeedback wraps an execution's error stream.
func ErrorFeedback(stderr string) Feedback {
	return Feedback{Kind: FeedbackError, Text: stderr}
}

// EvaluationFeedback wraps a critic's review.
func EvaluationFeedback(review string) Feedback {
	return Feedback{Kind: FeedbackEvaluation, Text: review}
}

func (f Feedback) message() string {
	switch f.Kind {
	case FeedbackError:
		return fmt.Sprintf("<error>\n%s\n</error>\n\nFix the error above. Remember: do NOT suppress exceptions.", f.Text)
	case FeedbackEvaluation:
		return fmt.Sprintf("Failed to meet requirements. Feedback:\n%s\n\n#####\n\nFix these issues and try again.", f.Text)
	default:
		return f.Text
	}
}

func (f Feedback) systemPrompt(library datatypes.Library) string {
	switch f.Kind {
	case FeedbackError:
		return withLibrary(fixPrompt, library)
	case FeedbackEvaluation:
		return withLibrary(refinePrompt, library)
	default:
		return withLibrary(buildPrompt, library)
	}
}

func withLibrary(prompt string, library datatypes.Library) string {
	return strings.ReplaceAll(prompt, "{library}", string(library))
}

func evaluationMessage(design datatypes.DesignDocument, code string) string {
	return fmt.Sprintf("%s\n\n<code>\n%s\n</code>", design.String(), code)
}
