// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "fmt"

// DesignDocument is the structured plan produced once per run from the
// user's request. Later phases send its rendered form as the first user turn.
type DesignDocument struct {
	// Request is the user's original text, verbatim.
	Request string `json:"request"`

	// Details is the raw completion returned for the design prompt.
	Details string `json:"details"`
}

// String renders the document in the tagged form the build, fix, refine and
// critic prompts expect.
//
// # Example
//
//	d := DesignDocument{Request: "a clock", Details: "1. Layout..."}
//	d.String()
//	// # Design Document
//	//
//	// <user_request>
//	// a clock
//	// </user_request>
//	//
//	// <details>
//	// 1. Layout...
//	// </details>
func (d DesignDocument) String() string {
	return fmt.Sprintf("# Design Document\n\n<user_request>\n%s\n</user_request>\n\n<details>\n%s\n</details>",
		d.Request, d.Details)
}
